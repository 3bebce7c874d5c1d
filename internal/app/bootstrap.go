package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/credit-ledger/internal/config"
	"github.com/credit-ledger/internal/constants"
	"github.com/credit-ledger/internal/logger"
	"github.com/credit-ledger/internal/models"
	"github.com/credit-ledger/internal/provider"
	"github.com/credit-ledger/internal/router"
	"github.com/credit-ledger/internal/worker"

	"gorm.io/gorm"
)

// PrepareDatabase 连接数据库、迁移表结构并同步套餐与默认管理员
func PrepareDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}, cfg.Database.LogMode); err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := models.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := SeedPlans(models.DB, cfg.Plans); err != nil {
		return nil, fmt.Errorf("seed plans: %w", err)
	}
	if err := models.InitDefaultAdmin(models.DB, cfg.Admin.Username, cfg.Admin.Password); err != nil {
		logger.Warnw("app_init_default_admin_failed", "error", err)
	}
	return models.DB, nil
}

// SeedPlans 将配置中的套餐目录写入数据库
func SeedPlans(db *gorm.DB, plans []config.PlanConfig) error {
	if len(plans) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]models.Plan, 0, len(plans))
	for _, item := range plans {
		price, err := models.ParseMoney(item.Price)
		if err != nil {
			return fmt.Errorf("plan %s price: %w", item.PlanID, err)
		}
		interval := strings.ToLower(strings.TrimSpace(item.Interval))
		switch interval {
		case constants.PlanIntervalDay, constants.PlanIntervalWeek, constants.PlanIntervalMonth, constants.PlanIntervalYear:
		case "":
			interval = constants.PlanIntervalMonth
		default:
			return fmt.Errorf("plan %s interval %q not supported", item.PlanID, item.Interval)
		}
		currency := strings.ToUpper(strings.TrimSpace(item.Currency))
		if currency == "" {
			currency = constants.DefaultCurrency
		}
		count := item.IntervalCount
		if count <= 0 {
			count = 1
		}
		rows = append(rows, models.Plan{
			PlanID:           strings.TrimSpace(item.PlanID),
			Name:             strings.TrimSpace(item.Name),
			Interval:         interval,
			IntervalCount:    count,
			Price:            price,
			Currency:         currency,
			CreditsAmount:    item.CreditsAmount,
			CreditsValidDays: item.CreditsValidDays,
			IsActive:         item.Active,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	return models.UpsertPlans(db, rows)
}

// BuildRunner 构建服务运行器
func BuildRunner(cfg *config.Config, db *gorm.DB, mode string) (*Runner, *provider.Container, error) {
	if cfg == nil {
		return nil, nil, errors.New("config is nil")
	}
	mode, err := ParseMode(mode)
	if err != nil {
		return nil, nil, err
	}
	if mode == ModeWorker && !cfg.Queue.Enabled {
		return nil, nil, errors.New("worker mode requires queue.enabled")
	}

	container, err := provider.NewContainer(cfg, db)
	if err != nil {
		return nil, nil, err
	}

	var services []Service

	// 初始化 HTTP 服务
	if mode == ModeAll || mode == ModeAPI {
		engine := router.SetupRouter(cfg, container)
		services = append(services, NewHTTPService(cfg.Server, engine))
	}

	// 初始化 Worker 服务与订阅清扫
	if mode == ModeAll || mode == ModeWorker {
		consumer := worker.NewConsumer(container)
		if cfg.Queue.Enabled {
			workerService, err := worker.NewService(&cfg.Queue, consumer)
			if err != nil {
				return nil, nil, err
			}
			services = append(services, workerService)
		} else {
			logger.Warnw("app_worker_skipped_queue_disabled", "mode", mode)
		}
		services = append(services, worker.NewSweepService(consumer, cfg.Ledger.SweepInterval()))
	}

	return NewRunner(services...), container, nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts, err := normalizeOptions(opts)
	if err != nil {
		return err
	}
	if opts.Config == nil {
		return errors.New("config is nil")
	}

	db, err := PrepareDatabase(opts.Config)
	if err != nil {
		return err
	}
	runner, container, err := BuildRunner(opts.Config, db, opts.Mode)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Close(); err != nil {
			opts.Logger.Warnw("app_container_close_failed", "error", err)
		}
	}()

	opts.Logger.Infow("app_start", "addr", opts.Config.Server.Addr(), "mode", opts.Mode)
	return RunWithOptions(runner, opts)
}
