package api_router

import (
	"github.com/haierkeys/vault-device-sync/internal/dto"
	"github.com/haierkeys/vault-device-sync/internal/relay"
	pkgapp "github.com/haierkeys/vault-device-sync/pkg/app"
	"github.com/haierkeys/vault-device-sync/pkg/code"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RelayHandler 中继信箱 API 路由处理器
// 中继独立部署，不依赖 App Container，只持有信箱服务
type RelayHandler struct {
	Relay  *relay.Service
	Logger *zap.Logger
}

// NewRelayHandler 创建 RelayHandler 实例
func NewRelayHandler(svc *relay.Service, logger *zap.Logger) *RelayHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayHandler{Relay: svc, Logger: logger}
}

// relayErrResponse 中继侧错误转换，不依赖 Handler 基类
func relayErrResponse(c *gin.Context, err error) {
	response := pkgapp.NewResponse(c)
	if ec, ok := err.(*code.Code); ok {
		response.ToResponse(ec)
		return
	}
	response.ToResponse(code.ErrorServerInternal.Clone().WithDetails(err.Error()))
}

// Push 投递加密批次
// @Summary 投递加密批次
// @Description 将密封批次存入收件设备的信箱，发送方必须与令牌一致
// @Tags 中继
// @Security RelayAuthToken
// @Accept json
// @Produce json
// @Param params body dto.RelayPushRequest true "投递参数"
// @Success 200 {object} pkgapp.Res "成功"
// @Router /api/relay/push [post]
func (h *RelayHandler) Push(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.RelayPushRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.Logger.Error("RelayHandler.Push.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	// 令牌身份必须与声称的发送方一致
	if params.SenderID != pkgapp.GetDeviceID(c) || params.VaultID != pkgapp.GetVaultID(c) {
		response.ToResponse(code.ErrorInvalidRelayAuthToken)
		return
	}

	if err := h.Relay.Push(c.Request.Context(), params); err != nil {
		h.Logger.Error("RelayHandler.Push err", zap.Error(err))
		relayErrResponse(c, err)
		return
	}

	response.ToResponse(code.Success)
}

// Pull 拉取信箱消息
// @Summary 拉取信箱消息
// @Description 取出本设备信箱内的全部待收消息，不删除
// @Tags 中继
// @Security RelayAuthToken
// @Produce json
// @Param params query dto.RelayPullRequest true "拉取参数"
// @Success 200 {object} pkgapp.Res{data=[]dto.RelayMessageDTO} "成功"
// @Router /api/relay/pull [post]
func (h *RelayHandler) Pull(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.RelayPullRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.Logger.Error("RelayHandler.Pull.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	// 只能拉取自己的信箱
	if params.RecipientID != pkgapp.GetDeviceID(c) || params.VaultID != pkgapp.GetVaultID(c) {
		response.ToResponse(code.ErrorInvalidRelayAuthToken)
		return
	}

	messages, err := h.Relay.Pull(c.Request.Context(), params)
	if err != nil {
		h.Logger.Error("RelayHandler.Pull err", zap.Error(err))
		relayErrResponse(c, err)
		return
	}

	response.ToResponse(code.Success.Clone().WithData(messages))
}

// Ack 确认并删除消息
// @Summary 确认并删除消息
// @Description 确认已取走的消息并从信箱删除，重复确认幂等
// @Tags 中继
// @Security RelayAuthToken
// @Accept json
// @Produce json
// @Param params body dto.RelayAckRequest true "确认参数"
// @Success 200 {object} pkgapp.Res "成功"
// @Router /api/relay/ack [post]
func (h *RelayHandler) Ack(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.RelayAckRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.Logger.Error("RelayHandler.Ack.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	// 只能确认自己的信箱
	if params.RecipientID != pkgapp.GetDeviceID(c) || params.VaultID != pkgapp.GetVaultID(c) {
		response.ToResponse(code.ErrorInvalidRelayAuthToken)
		return
	}

	if err := h.Relay.Ack(c.Request.Context(), params); err != nil {
		h.Logger.Error("RelayHandler.Ack err", zap.Error(err))
		relayErrResponse(c, err)
		return
	}

	response.ToResponse(code.Success)
}
