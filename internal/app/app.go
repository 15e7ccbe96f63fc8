// Package app 提供应用容器，封装所有依赖和服务
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/dao"
	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/internal/service"
	"github.com/haierkeys/vault-device-sync/internal/transport"
	pkgapp "github.com/haierkeys/vault-device-sync/pkg/app"
	"github.com/haierkeys/vault-device-sync/pkg/workerpool"
	"github.com/haierkeys/vault-device-sync/pkg/writequeue"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App 应用容器，封装所有依赖和服务
type App struct {
	// 基础设施（注入的依赖）
	config *AppConfig
	logger *zap.Logger
	DB     *gorm.DB
	Dao    *dao.Dao

	// 并发控制组件
	workerPool    *workerpool.Pool
	writeQueueMgr *writequeue.Manager

	// Repository 层
	ChangeRepo    domain.ChangeLogRepository
	DeviceRepo    domain.DeviceRepository
	IdentityRepo  domain.IdentityRepository
	SnapshotRepo  domain.SnapshotRepository
	SessionRepo   domain.SessionRepository
	SyncStateRepo domain.SyncStateRepository

	// Service 层
	DeviceService      service.DeviceService
	ChangeLogService   service.ChangeLogService
	ResolverService    service.ResolverService
	CoordinatorService service.CoordinatorService

	// 传输层
	DirectTransport transport.Transport
	RelayClient     *transport.RelayClient

	// 基础设施组件
	TokenManager pkgapp.TokenManager

	// StartTime 启动时间，供健康检查上报运行时长
	StartTime time.Time

	// 关闭控制
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewApp 创建应用容器实例
// 初始化所有依赖并进行依赖注入
// cfg: 应用配置（必须）
// logger: zap 日志器（必须）
// db: 数据库连接（必须）
func NewApp(cfg *AppConfig, logger *zap.Logger, db *gorm.DB) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	a := &App{
		config:     cfg,
		logger:     logger,
		DB:         db,
		StartTime:  time.Now(),
		shutdownCh: make(chan struct{}),
	}

	// 初始化 Worker Pool
	wpConfig := cfg.GetWorkerPoolConfig()
	a.workerPool = workerpool.New(&wpConfig, logger)

	// 初始化 Write Queue Manager
	wqConfig := cfg.GetWriteQueueConfig()
	a.writeQueueMgr = writequeue.New(&wqConfig, logger)

	// 初始化 DAO（写操作经由写队列按金库串行化）
	a.Dao = dao.New(db, a.writeQueueMgr, logger)

	// 初始化 TokenManager（签发中继访问 Token）
	a.TokenManager = pkgapp.NewTokenManager(pkgapp.TokenConfig{
		SecretKey: cfg.Security.RelayTokenKey,
		Issuer:    "vault-device-sync",
		Expiry:    cfg.GetRelayTokenExpiry(),
	})

	// 初始化 Repository 层
	a.ChangeRepo = dao.NewChangeLogRepository(a.Dao)
	a.DeviceRepo = dao.NewDeviceRepository(a.Dao)
	a.IdentityRepo = dao.NewIdentityRepository(a.Dao)
	a.SnapshotRepo = dao.NewSnapshotRepository(a.Dao)
	a.SessionRepo = dao.NewSessionRepository(a.Dao)
	a.SyncStateRepo = dao.NewSyncStateRepository(a.Dao)

	// 初始化传输层
	a.DirectTransport = transport.NewDirectTransport(cfg.GetExchangeTimeout(), logger)
	if cfg.Relay.Enabled {
		a.RelayClient = transport.NewRelayClient(cfg.GetRelayClientConfig(), logger)
	}

	// 初始化 Service 层（依赖注入）
	a.ResolverService = service.NewResolverService(a.ChangeRepo, a.SnapshotRepo, logger)
	a.DeviceService = service.NewDeviceService(a.DeviceRepo, a.IdentityRepo,
		service.DeviceServiceConfig{PairToken: cfg.Security.PairToken}, logger)
	a.ChangeLogService = service.NewChangeLogService(a.ChangeRepo, a.DeviceRepo, a.IdentityRepo,
		a.ResolverService, cfg.Sync.PendingBufferSize, logger)
	a.CoordinatorService = service.NewCoordinatorService(
		a.ChangeLogService, a.DeviceService, a.ResolverService,
		a.ChangeRepo, a.DeviceRepo, a.SessionRepo, a.SyncStateRepo,
		a.DirectTransport, a.RelayClient, a.workerPool,
		cfg.GetCoordinatorConfig(), logger,
	)

	logger.Info("App container initialized successfully",
		zap.Int("workerPoolMaxWorkers", wpConfig.MaxWorkers),
		zap.Int("writeQueueCapacity", wqConfig.QueueCapacity),
		zap.Bool("syncEnabled", cfg.Sync.Enabled),
		zap.Bool("relayEnabled", cfg.Relay.Enabled))

	return a, nil
}

// Close 释放应用容器持有的资源
func (a *App) Close() error {
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err != nil {
			return fmt.Errorf("failed to get sql.DB: %w", err)
		}
		if err := sqlDB.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
		a.logger.Info("Database connection closed")
	}
	return nil
}

// Config 获取应用配置
func (a *App) Config() *AppConfig {
	return a.config
}

// Logger 获取日志器
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// SubmitTask 提交任务到 Worker Pool
// 返回错误如果池已满或已关闭
func (a *App) SubmitTask(ctx context.Context, task func(context.Context) error) error {
	return a.workerPool.Submit(ctx, task)
}

// SubmitTaskAsync 异步提交任务到 Worker Pool（不等待结果）
// 返回错误如果池已满或已关闭
func (a *App) SubmitTaskAsync(ctx context.Context, task func(context.Context) error) error {
	return a.workerPool.SubmitAsync(ctx, task)
}

// Version 获取版本信息
func (a *App) Version() pkgapp.VersionInfo {
	return pkgapp.VersionInfo{
		Version:   Version,
		GitTag:    GitTag,
		BuildTime: BuildTime,
	}
}

// GetRelayTokenKey 获取中继 Token 签名密钥
func (a *App) GetRelayTokenKey() string {
	return a.config.Security.RelayTokenKey
}

// IsProductionMode 是否为生产模式
// 根据日志配置中的 Production 字段判断
func (a *App) IsProductionMode() bool {
	return a.config.Log.Production
}

// WorkerPool 获取 Worker Pool（用于高级操作）
func (a *App) WorkerPool() *workerpool.Pool {
	return a.workerPool
}

// WriteQueueManager 获取 Write Queue Manager（用于高级操作）
func (a *App) WriteQueueManager() *writequeue.Manager {
	return a.writeQueueMgr
}

// DefaultShutdownTimeout 默认关闭超时时间
const DefaultShutdownTimeout = 30 * time.Second

// Shutdown 优雅关闭应用容器
// 按顺序关闭：Worker Pool -> Write Queue Manager -> Database
// ctx 用于控制关闭超时，如果为 nil 则使用默认 30 秒超时
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("App container shutting down...")

	// 如果没有提供 context，使用默认超时
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
	}

	// 标记关闭
	select {
	case <-a.shutdownCh:
		// 已经关闭
		return nil
	default:
		close(a.shutdownCh)
	}

	var errs []error

	// 1. 关闭 Worker Pool（停止接受新任务，等待现有同步会话完成）
	if a.workerPool != nil {
		a.logger.Info("Shutting down worker pool...")
		if err := a.workerPool.Shutdown(ctx); err != nil {
			a.logger.Warn("Worker pool shutdown error", zap.Error(err))
			errs = append(errs, fmt.Errorf("worker pool shutdown: %w", err))
		} else {
			a.logger.Info("Worker pool shutdown completed")
		}
	}

	// 2. 关闭 Write Queue Manager（排空所有队列）
	if a.writeQueueMgr != nil {
		a.logger.Info("Shutting down write queue manager...")
		if err := a.writeQueueMgr.Shutdown(ctx); err != nil {
			a.logger.Warn("write queue manager shutdown error", zap.Error(err))
			errs = append(errs, fmt.Errorf("write queue manager shutdown: %w", err))
		} else {
			a.logger.Info("write queue manager shutdown completed")
		}
	}

	// 3. 等待所有后台操作完成
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("All background operations completed")
	case <-ctx.Done():
		a.logger.Warn("Shutdown timeout waiting for background operations")
		errs = append(errs, fmt.Errorf("background operations timeout: %w", ctx.Err()))
	}

	// 4. 关闭数据库连接
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		a.logger.Warn("App container shutdown completed with errors",
			zap.Int("errorCount", len(errs)))
		return fmt.Errorf("shutdown completed with %d errors: %v", len(errs), errs)
	}

	a.logger.Info("App container shutdown completed successfully")
	return nil
}

// IsShuttingDown 检查应用是否正在关闭
func (a *App) IsShuttingDown() bool {
	select {
	case <-a.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownCh 返回关闭信号通道（用于监听关闭事件）
func (a *App) ShutdownCh() <-chan struct{} {
	return a.shutdownCh
}

// TrackOperation 跟踪后台操作（用于优雅关闭时等待）
// 返回一个函数，在操作完成时调用
func (a *App) TrackOperation() func() {
	a.wg.Add(1)
	return func() {
		a.wg.Done()
	}
}
