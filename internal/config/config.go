package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	GinMode     string `envconfig:"GIN_MODE" default:"release"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"text"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Local"`

	// --- Database ---
	DBDriver     string `envconfig:"DB_DRIVER" default:"sqlite"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"agora.db"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`

	// --- Auth ---
	TokenTTL          time.Duration `envconfig:"TOKEN_TTL" default:"720h"`
	SuperRootUserName string        `envconfig:"SUPER_ROOT_USER_NAME"`
	SuperRootPassword string        `envconfig:"SUPER_ROOT_PASSWORD"`

	// --- Jobs ---
	PunishmentSweepInterval time.Duration `envconfig:"PUNISHMENT_SWEEP_INTERVAL" default:"60s"`
	BatchItemTimeout        time.Duration `envconfig:"BATCH_ITEM_TIMEOUT" default:"30s"`
	HistoryRetentionDays    int           `envconfig:"HISTORY_RETENTION_DAYS" default:"0"`
	HistoryCleanupCron      string        `envconfig:"HISTORY_CLEANUP_CRON" default:"0 4 * * *"`

	// --- Redis（可选，用于经验排行榜）---
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// --- 积分流水归档（可选，S3 兼容存储）---
	ArchiveBucket          string `envconfig:"ARCHIVE_BUCKET"`
	ArchiveEndpoint        string `envconfig:"ARCHIVE_ENDPOINT"`
	ArchiveRegion          string `envconfig:"ARCHIVE_REGION" default:"auto"`
	ArchiveAccessKeyID     string `envconfig:"ARCHIVE_ACCESS_KEY_ID"`
	ArchiveSecretAccessKey string `envconfig:"ARCHIVE_SECRET_ACCESS_KEY"`
}

// Load 从环境变量读取应用配置，若存在 .env 文件则先加载。
func Load() (AppConfig, error) {
	// .env 缺失时直接读取进程环境变量
	_ = godotenv.Load()

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("load config: %w", err)
	}

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.SuperRootUserName = strings.TrimSpace(cfg.SuperRootUserName)
	cfg.SuperRootPassword = strings.TrimSpace(cfg.SuperRootPassword)

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate 检查配置之间的约束关系。
func (c AppConfig) Validate() error {
	switch c.DBDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return errors.New("DATABASE_PATH is required for sqlite")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}

	if c.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	if c.PunishmentSweepInterval <= 0 {
		return errors.New("PUNISHMENT_SWEEP_INTERVAL must be positive")
	}
	if c.BatchItemTimeout <= 0 {
		return errors.New("BATCH_ITEM_TIMEOUT must be positive")
	}
	if c.HistoryRetentionDays < 0 {
		return errors.New("HISTORY_RETENTION_DAYS must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location 解析 APP_TIMEZONE，"本地零点"的计算以此为准。
func (c AppConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.AppTimezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

// RedisEnabled 表示是否配置了 Redis 排行榜。
func (c AppConfig) RedisEnabled() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}

// ArchiveEnabled 表示是否配置了流水归档存储。
func (c AppConfig) ArchiveEnabled() bool {
	return strings.TrimSpace(c.ArchiveBucket) != ""
}
