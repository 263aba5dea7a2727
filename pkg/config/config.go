// Package config 提供 TOML 配置加载、.env 与环境变量覆盖以及基础校验
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/wyfcoding/investledger/pkg/logger"
)

// Config 服务配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Logger    logger.Config   `mapstructure:"logger"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
}

// ServerConfig 服务基础信息
type ServerConfig struct {
	// 服务名称
	Name string `mapstructure:"name"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GRPCConfig gRPC 服务配置
type GRPCConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql, postgres, sqlite
	Driver string `mapstructure:"driver"`
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// 是否打印 SQL
	LogEnabled bool `mapstructure:"log_enabled"`
	// 慢查询阈值
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`
	// 启动时自动建表
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// 账户快照缓存有效期
	ProfileTTL time.Duration `mapstructure:"profile_ttl"`
}

// Addr 返回 host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
	// 业务事件 topic
	EventsTopic string `mapstructure:"events_topic"`
	// 运维告警 topic
	AlertsTopic  string        `mapstructure:"alerts_topic"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// outbox 每轮投递条数与扫描间隔
	OutboxBatchSize int           `mapstructure:"outbox_batch_size"`
	OutboxInterval  time.Duration `mapstructure:"outbox_interval"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// RateLimitConfig 写接口按账户限流，Redis 未启用时只约束单实例
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// 每个账户每分钟允许的提现请求数
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
	// 每个账户每分钟允许的投资提交数，0 表示不限
	InvestPerMinute int `mapstructure:"invest_per_minute"`
	InvestBurst     int `mapstructure:"invest_burst"`
}

// LedgerConfig 账本核心配置
type LedgerConfig struct {
	// 展示用币种
	Currency string `mapstructure:"currency"`
	// 推荐奖励金额（字符串形式的十进制数）
	ReferralBonus string `mapstructure:"referral_bonus"`
	// 单步存储调用超时
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	// dtm 屏障表名
	BarrierTable string         `mapstructure:"barrier_table"`
	Accrual      AccrualConfig  `mapstructure:"accrual"`
	Recovery     RecoveryConfig `mapstructure:"recovery"`
}

// AccrualConfig 每日收益任务
type AccrualConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// cron 表达式（标准 5 段）
	Schedule string `mapstructure:"schedule"`
	// 计息日按此时区切分
	Timezone string `mapstructure:"timezone"`
	// 防重入锁有效期
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// 单批处理账户数
	BatchSize int `mapstructure:"batch_size"`
}

// RecoveryConfig Saga 恢复任务
type RecoveryConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Schedule   string        `mapstructure:"schedule"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	BatchSize  int           `mapstructure:"batch_size"`
}

// ReferralBonusAmount 解析推荐奖励金额
func (c LedgerConfig) ReferralBonusAmount() (decimal.Decimal, error) {
	return decimal.NewFromString(c.ReferralBonus)
}

// Location 解析计息时区
func (c AccrualConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Load 从 TOML 文件加载配置；.env 与 APP_ 前缀环境变量会覆盖文件值
func Load(configPath string) (*Config, error) {
	// .env 不存在不是错误
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Server.Environment == "" {
		c.Server.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}
	if c.GRPC.Port < 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.GRPC.Port)
	}
	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for %s driver", c.Database.Driver)
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}

	bonus, err := c.Ledger.ReferralBonusAmount()
	if err != nil {
		return fmt.Errorf("invalid ledger.referral_bonus: %w", err)
	}
	if bonus.IsNegative() {
		return errors.New("ledger.referral_bonus must not be negative")
	}
	if c.Ledger.StepTimeout <= 0 {
		return errors.New("ledger.step_timeout must be positive")
	}
	if _, err := c.Ledger.Accrual.Location(); err != nil {
		return fmt.Errorf("invalid ledger.accrual.timezone: %w", err)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if c.Ledger.Accrual.Enabled {
		if _, err := parser.Parse(c.Ledger.Accrual.Schedule); err != nil {
			return fmt.Errorf("invalid ledger.accrual.schedule: %w", err)
		}
	}
	if c.Ledger.Recovery.Enabled {
		if _, err := parser.Parse(c.Ledger.Recovery.Schedule); err != nil {
			return fmt.Errorf("invalid ledger.recovery.schedule: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "investledger")
	v.SetDefault("server.environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "15s")

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", "1s")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.profile_ttl", "10m")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.group_id", "investledger")
	v.SetDefault("kafka.events_topic", "ledger.events")
	v.SetDefault("kafka.alerts_topic", "ledger.alerts")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("kafka.write_timeout", "5s")
	v.SetDefault("kafka.outbox_batch_size", 100)
	v.SetDefault("kafka.outbox_interval", "2s")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/ledger.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.per_minute", 5)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("ratelimit.invest_per_minute", 10)
	v.SetDefault("ratelimit.invest_burst", 10)

	v.SetDefault("ledger.currency", "PKR")
	v.SetDefault("ledger.referral_bonus", "200")
	v.SetDefault("ledger.step_timeout", "5s")
	v.SetDefault("ledger.barrier_table", "ledger_barriers")
	v.SetDefault("ledger.accrual.enabled", true)
	v.SetDefault("ledger.accrual.schedule", "5 0 * * *")
	v.SetDefault("ledger.accrual.timezone", "Asia/Karachi")
	v.SetDefault("ledger.accrual.lock_ttl", "30m")
	v.SetDefault("ledger.accrual.batch_size", 200)
	v.SetDefault("ledger.recovery.enabled", true)
	v.SetDefault("ledger.recovery.schedule", "*/5 * * * *")
	v.SetDefault("ledger.recovery.stale_after", "2m")
	v.SetDefault("ledger.recovery.batch_size", 100)
}
