// Package dao implements the data access layer
package dao

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/model"
	"github.com/haierkeys/vault-device-sync/pkg/fileurl"
	"github.com/haierkeys/vault-device-sync/pkg/writequeue"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type            string
	Path            string
	UserName        string
	Password        string
	Host            string
	Name            string
	TablePrefix     string
	AutoMigrate     bool
	Charset         string
	ParseTime       bool
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime int
	ConnMaxIdleTime int
	RunMode         string
}

// Dao 数据访问对象
// 写操作通过 writequeue 按金库串行化，规避 SQLite 写锁冲突
type Dao struct {
	db       *gorm.DB
	wq       *writequeue.Manager
	logger   *zap.Logger
	onceKeys sync.Map
}

// New 创建 Dao 实例
// wq 为 nil 时写操作直接执行（测试场景）
func New(db *gorm.DB, wq *writequeue.Manager, lg *zap.Logger) *Dao {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Dao{
		db:     db,
		wq:     wq,
		logger: lg,
	}
}

// DB 返回底层 gorm 连接
func (d *Dao) DB() *gorm.DB {
	return d.db
}

// ExecuteWrite 将写操作提交到金库写队列串行执行
func (d *Dao) ExecuteWrite(ctx context.Context, vaultID string, fn func(db *gorm.DB) error) error {
	if d.wq == nil {
		return fn(d.db)
	}
	return d.wq.Execute(ctx, vaultID, func() error {
		return fn(d.db)
	})
}

// Transaction 在金库写队列中执行一个数据库事务
// 批次摄入依赖该原子性：事务失败时整批回滚
func (d *Dao) Transaction(ctx context.Context, vaultID string, fn func(tx *gorm.DB) error) error {
	return d.ExecuteWrite(ctx, vaultID, func(db *gorm.DB) error {
		return db.WithContext(ctx).Transaction(fn)
	})
}

// migrateOnce 确保每张表只迁移一次
func (d *Dao) migrateOnce(key string) {
	if _, loaded := d.onceKeys.LoadOrStore(key+"#migrated", true); !loaded {
		if err := model.AutoMigrate(d.db, key); err != nil {
			d.logger.Error("auto migrate failed", zap.String("model", key), zap.Error(err))
		}
	}
}

// NewDBEngineWithConfig 初始化数据库连接
func NewDBEngineWithConfig(c DatabaseConfig, lg *zap.Logger) (*gorm.DB, error) {
	dialector := userDialector(c)
	if dialector == nil {
		return nil, fmt.Errorf("unsupported database type: %s", c.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   c.TablePrefix,
			SingularTable: true, // 使用单数表名
		},
	})
	if err != nil {
		return nil, err
	}
	if c.RunMode == "debug" {
		db.Config.Logger = logger.Default.LogMode(logger.Info)
	}

	// 获取通用数据库对象 sql.DB ，然后使用其提供的功能
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// SetMaxIdleConns 用于设置连接池中空闲连接的最大数量。
	sqlDB.SetMaxIdleConns(c.MaxIdleConns)

	// SetMaxOpenConns 设置打开数据库连接的最大数量。
	sqlDB.SetMaxOpenConns(c.MaxOpenConns)

	// SetConnMaxLifetime 设置了连接可复用的最大时间。
	sqlDB.SetConnMaxLifetime(time.Minute * 10)

	if c.AutoMigrate {
		if err := model.AutoMigrateAll(db); err != nil {
			return nil, err
		}
	}

	return db, nil
}

func userDialector(c DatabaseConfig) gorm.Dialector {
	if c.Type == "mysql" {
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=%s&parseTime=%t&loc=Local",
			c.UserName,
			c.Password,
			c.Host,
			c.Name,
			c.Charset,
			c.ParseTime,
		))
	} else if c.Type == "postgres" {
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable",
			c.Host,
			c.UserName,
			c.Password,
			c.Name,
		))
	} else if c.Type == "sqlite" {
		if !fileurl.IsExist(c.Path) {
			fileurl.CreatePath(c.Path, os.ModePerm)
		}
		return sqlite.Open(c.Path)
	}
	return nil
}
