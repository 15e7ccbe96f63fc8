package routers

import (
	"time"

	"github.com/haierkeys/vault-device-sync/internal/app"
	"github.com/haierkeys/vault-device-sync/internal/middleware"
	"github.com/haierkeys/vault-device-sync/internal/relay"
	"github.com/haierkeys/vault-device-sync/internal/routers/api_router"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRelayRouter 创建中继服务路由
// 中继独立部署，全部信箱操作经共享密钥签发的访问令牌鉴权
func NewRelayRouter(cfg *app.AppConfig, relaySvc *relay.Service, logger *zap.Logger) *gin.Engine {

	r := gin.New()

	api := r.Group("/api")
	{
		api.Use(middleware.AppInfoWithConfig(app.Name+" Relay", app.Version))
		api.Use(gin.Logger())
		api.Use(middleware.TraceMiddlewareWithConfig(cfg.Tracer.Enabled, cfg.Tracer.Header))
		api.Use(middleware.ContextTimeout(time.Duration(cfg.App.DefaultContextTimeout) * time.Second))
		api.Use(middleware.Cors())
		api.Use(middleware.AccessLogWithLogger(logger))
		api.Use(middleware.RecoveryWithLogger(logger))

		relayHandler := api_router.NewRelayHandler(relaySvc, logger)

		api.Use(middleware.RelayAuthTokenWithConfig(cfg.Security.RelayTokenKey))
		api.POST("/relay/push", relayHandler.Push)
		api.POST("/relay/pull", relayHandler.Pull)
		api.POST("/relay/ack", relayHandler.Ack)
	}

	r.NoRoute(middleware.NoFound())

	return r
}
