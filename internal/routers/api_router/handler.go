// Package api_router 提供 HTTP API 路由处理器
package api_router

import (
	"context"

	"github.com/haierkeys/vault-device-sync/internal/app"
	"github.com/haierkeys/vault-device-sync/internal/middleware"
	pkgapp "github.com/haierkeys/vault-device-sync/pkg/app"
	"github.com/haierkeys/vault-device-sync/pkg/code"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 基础 Handler 结构体，封装 App Container
// 所有 API Handler 都应该嵌入此结构体以获得依赖注入能力
type Handler struct {
	App *app.App
	WSS *pkgapp.WebsocketServer
}

// NewHandler 创建基础 Handler 实例
func NewHandler(a *app.App) *Handler {
	return &Handler{App: a}
}

// NewHandlerWithWSS 创建带 WebSocket 服务的 Handler 实例
func NewHandlerWithWSS(a *app.App, wss *pkgapp.WebsocketServer) *Handler {
	return &Handler{App: a, WSS: wss}
}

// logError 记录带追踪 ID 的错误日志
func (h *Handler) logError(ctx context.Context, scope string, err error) {
	h.App.Logger().Error(scope+" err",
		zap.String("traceId", middleware.GetTraceID(ctx)),
		zap.Error(err))
}

// errResponse 将业务错误转换为统一响应
// 业务码原样透出，其余错误折叠为服务内部错误
func errResponse(c *gin.Context, err error) {
	response := pkgapp.NewResponse(c)
	if ec, ok := err.(*code.Code); ok {
		response.ToResponse(ec)
		return
	}
	response.ToResponse(code.ErrorServerInternal.Clone().WithDetails(err.Error()))
}
