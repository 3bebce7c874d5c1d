package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/credit-ledger/internal/app"
	"github.com/credit-ledger/internal/config"
	"github.com/credit-ledger/internal/logger"

	"github.com/gin-gonic/gin"
)

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiDim   = "\033[2m"
	ansiCyan  = "\033[36m"
)

func main() {
	var mode string
	flag.StringVar(&mode, "mode", app.ModeAll, "启动模式: all (默认), api, worker")
	flag.Parse()

	mode, err := app.ParseMode(mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "启动参数错误: %v\n", err)
		os.Exit(2)
	}
	printStartupBanner()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	defer logger.Sync()
	log := logger.S()

	for name, secret := range map[string]string{"jwt": cfg.JWT.Secret, "admin_jwt": cfg.AdminJWT.Secret} {
		if !isWeakSecret(secret) {
			continue
		}
		if cfg.Server.Mode == "release" {
			log.Fatalw("jwt_secret_weak", "section", name)
		}
		log.Warnw("jwt_secret_weak", "section", name, "hint", "建议在生产环境中更换为强随机密钥")
	}

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := app.Run(app.Options{
		Config:  cfg,
		Logger:  log,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		Mode:    mode,
	}); err != nil {
		log.Fatalw("app_run_failed", "error", err)
	}
}

func printStartupBanner() {
	fmt.Println(ansiCyan + ansiBold + "credit-ledger" + ansiReset + ansiDim + "  积分 / 订阅 / 兑换码 账本服务" + ansiReset)
	fmt.Println(ansiDim + "--------------------------------------------------------------" + ansiReset)
}

func isWeakSecret(secret string) bool {
	if len(secret) < 32 {
		return true
	}
	normalized := strings.ToLower(secret)
	return strings.Contains(normalized, "change-me") ||
		strings.Contains(normalized, "change-in-production") ||
		strings.Contains(normalized, "your-secret-key")
}
