package routers

import (
	"time"

	"github.com/haierkeys/vault-device-sync/internal/app"
	"github.com/haierkeys/vault-device-sync/internal/dto"
	"github.com/haierkeys/vault-device-sync/internal/middleware"
	"github.com/haierkeys/vault-device-sync/internal/routers/api_router"
	"github.com/haierkeys/vault-device-sync/internal/routers/websocket_router"
	pkgapp "github.com/haierkeys/vault-device-sync/pkg/app"
	"github.com/haierkeys/vault-device-sync/pkg/limiter"

	"github.com/gin-gonic/gin"
	"github.com/lxzan/gws"
)

var methodLimiters = limiter.NewMethodLimiter().AddBuckets(
	limiter.BucketRule{
		Key:          "/device/pair",
		FillInterval: time.Second,
		Capacity:     10,
		Quantum:      10,
	},
	limiter.BucketRule{
		Key:          "/sync/trigger",
		FillInterval: time.Second,
		Capacity:     5,
		Quantum:      5,
	},
)

// NewRouter 创建对外 API 路由，同步协议经 WebSocket 挂载在 /api/sync/ws
func NewRouter(appContainer *app.App) *gin.Engine {

	// 获取配置
	cfg := appContainer.Config()

	var wss = pkgapp.NewWebsocketServer(pkgapp.WebsocketServerConfig{
		GWSOption: gws.ServerOption{
			CheckUtf8Enabled:    true,
			ParallelEnabled:     true,                                 // 开启并行消息处理
			Recovery:            gws.Recovery,                         // 开启异常恢复
			PermessageDeflate:   gws.PermessageDeflate{Enabled: true}, // 开启压缩
			ParallelGolimit:     8,
			ReadMaxPayloadSize:  1024 * 1024 * 16, // 密封批次上限 16MB
			WriteMaxPayloadSize: 1024 * 1024 * 16,
		},
	})

	// 创建 WebSocket Handler（注入 App Container）
	syncWSHandler := websocket_router.NewSyncWSHandler(appContainer)

	// 握手帧由 DeviceVerify 处理，其余交换帧按动作分发
	wss.Use(dto.SyncManifest, syncWSHandler.SyncManifest)
	wss.Use(dto.SyncBatch, syncWSHandler.SyncBatch)
	wss.Use(dto.SyncPull, syncWSHandler.SyncPull)
	wss.Use(dto.SyncComplete, syncWSHandler.SyncComplete)

	wss.UseDeviceVerify(syncWSHandler.DeviceVerify)

	r := gin.New()

	api := r.Group("/api")
	{
		api.Use(middleware.AppInfoWithConfig(app.Name, appContainer.Version().Version))
		api.Use(gin.Logger())
		api.Use(middleware.TraceMiddlewareWithConfig(cfg.Tracer.Enabled, cfg.Tracer.Header)) // Trace ID 中间件
		api.Use(middleware.RateLimiter(methodLimiters))
		api.Use(middleware.ContextTimeout(time.Duration(cfg.App.DefaultContextTimeout) * time.Second))
		api.Use(middleware.Cors())
		api.Use(middleware.AccessLogWithLogger(appContainer.Logger()))
		api.Use(middleware.RecoveryWithLogger(appContainer.Logger()))

		// 创建 Handlers（注入 App Container）
		deviceHandler := api_router.NewDeviceHandler(appContainer)
		syncHandler := api_router.NewSyncHandler(appContainer)
		versionHandler := api_router.NewVersionHandler(appContainer)
		healthHandler := api_router.NewHealthHandler(appContainer)
		relayTokenHandler := api_router.NewRelayTokenHandler(appContainer)

		api.GET("/version", versionHandler.ServerVersion)
		api.GET("/health", healthHandler.Check)

		// 设备生命周期
		api.POST("/device/provision", deviceHandler.Provision)
		api.GET("/device/identity", deviceHandler.Identity)
		api.POST("/device/pair", deviceHandler.Pair)
		api.DELETE("/device", deviceHandler.Revoke)
		api.POST("/device/rotate", deviceHandler.RotateKey)
		api.GET("/devices", deviceHandler.List)

		// 本地变更写入
		api.POST("/change", syncHandler.Change)
		api.POST("/change/delete", syncHandler.ChangeDelete)

		// 同步控制面
		api.POST("/sync/trigger", syncHandler.Trigger)
		api.GET("/sync/status", syncHandler.Status)
		api.GET("/sync/sessions", syncHandler.Sessions)
		api.POST("/sync/compact", syncHandler.Compact)
		api.POST("/sync/relay/poll", syncHandler.RelayPoll)
		api.GET("/snapshot", syncHandler.Snapshot)

		// 中继访问令牌
		api.POST("/relay/token", relayTokenHandler.Issue)

		// 同步协议入口，对端设备在此完成握手后交换帧
		api.GET("/sync/ws", wss.Run())
	}

	r.Use(middleware.Cors())
	r.NoRoute(middleware.NoFound())

	return r
}
