package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB 是一个全局的数据库连接实例
var DB *gorm.DB

// Options 描述打开数据库所需的参数。
type Options struct {
	Driver string // sqlite | postgres
	Path   string // sqlite 文件路径
	URL    string // postgres DSN
	Logger logger.Interface
}

// Init 打开数据库、执行自动迁移并写入默认的徽章/标签/每日任务。
func Init(opts Options) (*gorm.DB, error) {
	gdb, err := Open(opts)
	if err != nil {
		return nil, err
	}
	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	if err := SeedDefaults(gdb); err != nil {
		return nil, err
	}
	DB = gdb
	return gdb, nil
}

// Open 根据驱动建立连接；时间统一以 UTC 写入，唯一约束冲突翻译为 gorm.ErrDuplicatedKey。
func Open(opts Options) (*gorm.DB, error) {
	cfg := &gorm.Config{
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	}
	if opts.Logger != nil {
		cfg.Logger = opts.Logger
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", "sqlite":
		path := strings.TrimSpace(opts.Path)
		if path == "" {
			path = "agora.db"
		}
		if !strings.HasPrefix(path, "file:") && path != ":memory:" {
			if err := ensureParentDir(path); err != nil {
				return nil, err
			}
		}
		dialector = sqlite.Open(path)
	case "postgres":
		if strings.TrimSpace(opts.URL) == "" {
			return nil, errors.New("postgres url is required")
		}
		dialector = postgres.Open(opts.URL)
	default:
		return nil, fmt.Errorf("unsupported driver %q", opts.Driver)
	}

	gdb, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if gdb.Dialector.Name() == "sqlite" {
		// sqlite 只有一个写者，单连接避免 database is locked
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return gdb, nil
}

// Migrate 为全部模型建表。
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&User{},
		&AuthToken{},
		&PointHistory{},
		&Badge{},
		&UserBadge{},
		&SpecialTag{},
		&UserSpecialTag{},
		&DailyTask{},
		&DailyTaskProgress{},
		&UserPunishment{},
		&UserAppeal{},
		&BatchOperation{},
		&Notification{},
		&Topic{},
		&Reply{},
		&Like{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("database path parent is not a directory")
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}

	return err
}
