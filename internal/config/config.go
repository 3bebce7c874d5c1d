package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/credit-ledger/internal/logger"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 LEDGER_SERVER_PORT
const EnvPrefix = "LEDGER"

// Config 应用配置
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	AdminJWT JWTConfig      `mapstructure:"admin_jwt"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Plans    []PlanConfig   `mapstructure:"plans"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Captcha  CaptchaConfig  `mapstructure:"captcha"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// AppConfig 应用基础信息
type AppConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release

	ReadHeaderTimeoutSeconds int `mapstructure:"read_header_timeout_seconds"`
	ReadTimeoutSeconds       int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds      int `mapstructure:"write_timeout_seconds"`
	IdleTimeoutSeconds       int `mapstructure:"idle_timeout_seconds"`
	ShutdownTimeoutSeconds   int `mapstructure:"shutdown_timeout_seconds"`
}

// Addr 监听地址
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// ShutdownTimeout 优雅退出等待时间，未配置时返回 0
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return seconds(c.ShutdownTimeoutSeconds)
}

func seconds(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Second
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
		Console:    c.Console,
	}
}

// DatabasePoolConfig 连接池
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver  string             `mapstructure:"driver"` // sqlite / postgres
	DSN     string             `mapstructure:"dsn"`
	Pool    DatabasePoolConfig `mapstructure:"pool"`
	LogMode string             `mapstructure:"log_mode"` // silent / error / warn / info
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig asynq 队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// JWTConfig JWT 配置
type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
	Issuer      string `mapstructure:"issuer"`
}

// AdminConfig 默认管理员
type AdminConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// LedgerConfig 账本规则
type LedgerConfig struct {
	// CreditValidityDays 普通积分兑换码默认有效天数，0 表示不过期
	CreditValidityDays     int    `mapstructure:"credit_validity_days"`
	SubscriptionGraceHours int    `mapstructure:"subscription_grace_hours"`
	SweepIntervalSeconds   int    `mapstructure:"sweep_interval_seconds"`
	CommissionRatePercent  string `mapstructure:"commission_rate_percent"`
	BalanceCacheTTLSeconds int    `mapstructure:"balance_cache_ttl_seconds"`
	RedeemRateLimit        int    `mapstructure:"redeem_rate_limit"`
	RedeemRateWindowSecond int    `mapstructure:"redeem_rate_window_seconds"`
	MaxIssueQuantity       int    `mapstructure:"max_issue_quantity"`
}

// SweepInterval 订阅过期巡检间隔
func (c LedgerConfig) SweepInterval() time.Duration {
	if c.SweepIntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// PlanConfig 套餐目录
type PlanConfig struct {
	PlanID           string `mapstructure:"plan_id"`
	Name             string `mapstructure:"name"`
	Interval         string `mapstructure:"interval"`
	IntervalCount    int    `mapstructure:"interval_count"`
	Price            string `mapstructure:"price"`
	Currency         string `mapstructure:"currency"`
	CreditsAmount    int64  `mapstructure:"credits_amount"`
	CreditsValidDays int    `mapstructure:"credits_valid_days"`
	Active           bool   `mapstructure:"active"`
}

// PaymentConfig 支付渠道配置
type PaymentConfig struct {
	Stripe    StripeConfig    `mapstructure:"stripe"`
	WechatPay WechatPayConfig `mapstructure:"wechatpay"`
}

// StripeConfig Stripe 渠道
type StripeConfig struct {
	Enabled                 bool   `mapstructure:"enabled"`
	SecretKey               string `mapstructure:"secret_key"`
	WebhookSecret           string `mapstructure:"webhook_secret"`
	SuccessURL              string `mapstructure:"success_url"`
	CancelURL               string `mapstructure:"cancel_url"`
	APIBaseURL              string `mapstructure:"api_base_url"`
	WebhookToleranceSeconds int    `mapstructure:"webhook_tolerance_seconds"`
}

// WechatPayConfig 微信支付渠道
type WechatPayConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	AppID              string `mapstructure:"appid"`
	MerchantID         string `mapstructure:"mchid"`
	MerchantSerialNo   string `mapstructure:"merchant_serial_no"`
	MerchantPrivateKey string `mapstructure:"merchant_private_key"`
	APIV3Key           string `mapstructure:"api_v3_key"`
	NotifyURL          string `mapstructure:"notify_url"`
}

// CaptchaConfig 管理后台登录验证码
type CaptchaConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	Length        int  `mapstructure:"length"`
	Width         int  `mapstructure:"width"`
	Height        int  `mapstructure:"height"`
	ExpireSeconds int  `mapstructure:"expire_seconds"`
}

// MetricsConfig Prometheus 指标
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load 从 config.yml 与环境变量加载配置
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../")
	v.AddConfigPath("./etc")

	if err := v.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed", "error", err, "fallback", "env_or_defaults")
	} else {
		logger.Infow("config_file_loaded", "file", v.ConfigFileUsed())
	}
	return Decode(v)
}

// Decode 填充默认值与环境变量后解析配置
func Decode(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Ledger.CreditValidityDays < 0 {
		return fmt.Errorf("ledger.credit_validity_days must be >= 0")
	}
	seen := make(map[string]struct{}, len(c.Plans))
	for _, plan := range c.Plans {
		id := strings.TrimSpace(plan.PlanID)
		if id == "" {
			return fmt.Errorf("plans: plan_id is required")
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("plans: duplicate plan_id %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "credit-ledger")
	v.SetDefault("app.base_url", "http://127.0.0.1:8080")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_header_timeout_seconds", 5)
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 30)
	v.SetDefault("server.idle_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("log.filename", "ledger.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/ledger.db")
	v.SetDefault("database.log_mode", "warn")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.prefix", "ledger")
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", map[string]int{"critical": 6, "default": 3})
	v.SetDefault("jwt.secret", "user-change-me-in-production")
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("jwt.issuer", "credit-ledger")
	v.SetDefault("admin_jwt.secret", "admin-change-me-in-production")
	v.SetDefault("admin_jwt.expire_hours", 12)
	v.SetDefault("admin_jwt.issuer", "credit-ledger-admin")
	v.SetDefault("admin.username", "admin")
	v.SetDefault("ledger.credit_validity_days", 30)
	v.SetDefault("ledger.subscription_grace_hours", 24)
	v.SetDefault("ledger.sweep_interval_seconds", 300)
	v.SetDefault("ledger.commission_rate_percent", "10")
	v.SetDefault("ledger.balance_cache_ttl_seconds", 30)
	v.SetDefault("ledger.redeem_rate_limit", 10)
	v.SetDefault("ledger.redeem_rate_window_seconds", 60)
	v.SetDefault("ledger.max_issue_quantity", 1000)
	v.SetDefault("payment.stripe.api_base_url", "https://api.stripe.com")
	v.SetDefault("payment.stripe.webhook_tolerance_seconds", 300)
	v.SetDefault("captcha.length", 5)
	v.SetDefault("captcha.width", 240)
	v.SetDefault("captcha.height", 80)
	v.SetDefault("captcha.expire_seconds", 300)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
