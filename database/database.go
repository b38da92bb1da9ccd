package database

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var validate = validator.New()

// DatabaseOptions 数据库实例配置
type DatabaseOptions struct {
	Name      string         `validate:"required"`
	Dialector gorm.Dialector `validate:"required"`

	MaxOpenConns    int           `validate:"gte=0"`
	MaxIdleConns    int           `validate:"gte=0"`
	ConnMaxLifetime time.Duration `validate:"gte=0"`

	// LogLevel GORM 日志级别，默认 Warn
	LogLevel logger.LogLevel

	// AutoMigrate 打开后立即迁移的模型
	AutoMigrate []any
}

// NewDefaultOptions 创建默认配置
func NewDefaultOptions(name string, dialector gorm.Dialector) *DatabaseOptions {
	return &DatabaseOptions{
		Name:      name,
		Dialector: dialector,
		LogLevel:  logger.Warn,
	}
}

// Validate 验证配置
func (o *DatabaseOptions) Validate() error {
	return validate.Struct(o)
}

// DatabaseFactory 按名称管理 *gorm.DB
type DatabaseFactory struct {
	mu  sync.RWMutex
	dbs map[string]*gorm.DB
}

// NewDatabaseFactory 创建数据库工厂
func NewDatabaseFactory() *DatabaseFactory {
	return &DatabaseFactory{dbs: make(map[string]*gorm.DB)}
}

// Register 打开数据库并应用连接池设置
func (f *DatabaseFactory) Register(opts DatabaseOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.dbs[opts.Name]; exists {
		return fmt.Errorf("database '%s' already registered", opts.Name)
	}

	db, err := gorm.Open(opts.Dialector, &gorm.Config{
		Logger: logger.Default.LogMode(opts.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("open database '%s': %w", opts.Name, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database '%s': %w", opts.Name, err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if len(opts.AutoMigrate) > 0 {
		if err := db.AutoMigrate(opts.AutoMigrate...); err != nil {
			_ = sqlDB.Close()
			return fmt.Errorf("migrate database '%s': %w", opts.Name, err)
		}
	}

	f.dbs[opts.Name] = db
	return nil
}

// Get 按名称获取数据库
func (f *DatabaseFactory) Get(name string) (*gorm.DB, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	db, ok := f.dbs[name]
	return db, ok
}

// Each 按名称顺序遍历
func (f *DatabaseFactory) Each(fn func(name string, db *gorm.DB)) {
	f.mu.RLock()
	names := make([]string, 0, len(f.dbs))
	for name := range f.dbs {
		names = append(names, name)
	}
	f.mu.RUnlock()
	sort.Strings(names)
	for _, name := range names {
		if db, ok := f.Get(name); ok {
			fn(name, db)
		}
	}
}

// Close 关闭所有连接
func (f *DatabaseFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs error
	for name, db := range f.dbs {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close database '%s': %w", name, err))
		}
	}
	f.dbs = make(map[string]*gorm.DB)
	return errs
}
