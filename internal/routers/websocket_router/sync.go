// Package websocket_router 提供同步协议的 WebSocket 路由处理器
package websocket_router

import (
	"github.com/haierkeys/vault-device-sync/internal/app"
	"github.com/haierkeys/vault-device-sync/internal/dto"
	pkgapp "github.com/haierkeys/vault-device-sync/pkg/app"
	"github.com/haierkeys/vault-device-sync/pkg/code"
	"github.com/haierkeys/vault-device-sync/pkg/logger"

	"go.uber.org/zap"
)

// SyncWSHandler 同步协议 WebSocket 路由处理器
// 应答侧的会话语义全部委托给 CoordinatorService，这里只做帧的编解码
type SyncWSHandler struct {
	App *app.App
}

// NewSyncWSHandler 创建 SyncWSHandler 实例
func NewSyncWSHandler(a *app.App) *SyncWSHandler {
	return &SyncWSHandler{App: a}
}

// syncError 以 SyncError 帧回送错误
func (h *SyncWSHandler) syncError(c *pkgapp.WebsocketClient, sessionID string, err error) {
	werr := dto.SyncErrorMessage{SessionID: sessionID, Reason: err.Error()}
	if ec, ok := err.(*code.Code); ok {
		werr.Code = ec.Code()
		werr.Reason = ec.Msg()
	}
	c.ToAction(dto.SyncError, werr)
}

// DeviceVerify 处理 SyncHello 握手
// 验证签名与信任状态，成功后回送 SyncHelloAck 并将连接归入金库分组
func (h *SyncWSHandler) DeviceVerify(c *pkgapp.WebsocketClient, data []byte) (*pkgapp.DeviceSelectEntity, error) {
	params := &dto.SyncHelloMessage{}

	valid, errs := c.BindAndValid(data, params)
	if !valid {
		h.App.Logger().Error("websocket_router.SyncHello.BindAndValid errs", zap.Error(errs))
		return nil, code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...)
	}

	ack, err := h.App.CoordinatorService.HandleHello(c.Ctx.Request.Context(), params)
	if err != nil {
		h.App.Logger().Error("websocket_router.SyncHello err",
			zap.String(logger.FieldVault, params.VaultID),
			zap.String(logger.FieldPeer, params.DeviceID),
			zap.Error(err))
		return nil, err
	}

	c.ToAction(dto.SyncHelloAck, ack)
	return &pkgapp.DeviceSelectEntity{
		DeviceID:    params.DeviceID,
		VaultID:     params.VaultID,
		DisplayName: params.DisplayName,
	}, nil
}

// SyncManifest 处理对端的批次清单
func (h *SyncWSHandler) SyncManifest(c *pkgapp.WebsocketClient, msg *pkgapp.WebSocketMessage) {
	params := &dto.SyncManifestMessage{}

	valid, errs := c.BindAndValid(msg.Data, params)
	if !valid {
		h.App.Logger().Error("websocket_router.SyncManifest.BindAndValid errs", zap.Error(errs))
		h.syncError(c, params.SessionID, code.ErrorInvalidParams)
		return
	}

	echo, err := h.App.CoordinatorService.HandleManifest(c.Ctx.Request.Context(), params)
	if err != nil {
		h.syncError(c, params.SessionID, err)
		return
	}
	c.ToAction(dto.SyncManifest, echo)
}

// SyncBatch 摄入对端发来的加密批次
func (h *SyncWSHandler) SyncBatch(c *pkgapp.WebsocketClient, msg *pkgapp.WebSocketMessage) {
	params := &dto.SyncBatchMessage{}

	valid, errs := c.BindAndValid(msg.Data, params)
	if !valid {
		h.App.Logger().Error("websocket_router.SyncBatch.BindAndValid errs", zap.Error(errs))
		h.syncError(c, params.SessionID, code.ErrorInvalidParams)
		return
	}

	ack, err := h.App.CoordinatorService.HandleBatch(c.Ctx.Request.Context(), c.Device.VaultID, params)
	if err != nil {
		h.App.Logger().Error("websocket_router.SyncBatch err",
			zap.String(logger.FieldVault, c.Device.VaultID),
			zap.String(logger.FieldPeer, params.SenderID),
			zap.String(logger.FieldSessionID, params.SessionID),
			zap.Error(err))
		h.syncError(c, params.SessionID, err)
		return
	}
	c.ToAction(dto.SyncAck, ack)
}

// SyncPull 密封并回送反向的下一个批次
func (h *SyncWSHandler) SyncPull(c *pkgapp.WebsocketClient, msg *pkgapp.WebSocketMessage) {
	params := &dto.SyncPullMessage{}

	valid, errs := c.BindAndValid(msg.Data, params)
	if !valid {
		h.App.Logger().Error("websocket_router.SyncPull.BindAndValid errs", zap.Error(errs))
		h.syncError(c, params.SessionID, code.ErrorInvalidParams)
		return
	}

	batch, err := h.App.CoordinatorService.HandlePull(c.Ctx.Request.Context(), params)
	if err != nil {
		h.App.Logger().Error("websocket_router.SyncPull err",
			zap.String(logger.FieldVault, c.Device.VaultID),
			zap.String(logger.FieldSessionID, params.SessionID),
			zap.Error(err))
		h.syncError(c, params.SessionID, err)
		return
	}
	c.ToAction(dto.SyncBatch, batch)
}

// SyncComplete 处理对端的会话收尾
func (h *SyncWSHandler) SyncComplete(c *pkgapp.WebsocketClient, msg *pkgapp.WebSocketMessage) {
	params := &dto.SyncCompleteMessage{}

	valid, errs := c.BindAndValid(msg.Data, params)
	if !valid {
		h.App.Logger().Error("websocket_router.SyncComplete.BindAndValid errs", zap.Error(errs))
		h.syncError(c, params.SessionID, code.ErrorInvalidParams)
		return
	}

	echo, err := h.App.CoordinatorService.HandleComplete(c.Ctx.Request.Context(), params)
	if err != nil {
		h.syncError(c, params.SessionID, err)
		return
	}
	c.ToAction(dto.SyncComplete, echo)
}
