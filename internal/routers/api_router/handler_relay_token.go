package api_router

import (
	"github.com/haierkeys/vault-device-sync/internal/app"
	"github.com/haierkeys/vault-device-sync/internal/dto"
	pkgapp "github.com/haierkeys/vault-device-sync/pkg/app"
	"github.com/haierkeys/vault-device-sync/pkg/code"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RelayTokenHandler 中继访问令牌 API 路由处理器
// 签名密钥与中继服务共享，本地节点可直接为自己的设备签发令牌
type RelayTokenHandler struct {
	*Handler
}

// NewRelayTokenHandler 创建 RelayTokenHandler 实例
func NewRelayTokenHandler(a *app.App) *RelayTokenHandler {
	return &RelayTokenHandler{Handler: NewHandler(a)}
}

// Issue 签发中继访问令牌
// @Summary 签发中继访问令牌
// @Description 为指定设备签发访问中继信箱的 JWT
// @Tags 中继
// @Accept json
// @Produce json
// @Param params body dto.RelayTokenRequest true "签发参数"
// @Success 200 {object} pkgapp.Res{data=dto.RelayTokenDTO} "成功"
// @Router /api/relay/token [post]
func (h *RelayTokenHandler) Issue(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.RelayTokenRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.App.Logger().Error("RelayTokenHandler.Issue.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	ctx := c.Request.Context()

	// 只为本金库已知且可同步的设备签发
	device, err := h.App.DeviceService.Get(ctx, params.VaultID, params.DeviceID)
	if err != nil {
		h.logError(ctx, "RelayTokenHandler.Issue", err)
		errResponse(c, err)
		return
	}
	if device == nil || !device.TrustState.CanSync() {
		response.ToResponse(code.ErrorDeviceNotFound)
		return
	}

	token, err := h.App.TokenManager.Generate(params.DeviceID, params.VaultID, pkgapp.GetRequestIP(c))
	if err != nil {
		h.logError(ctx, "RelayTokenHandler.Issue.Generate", err)
		errResponse(c, err)
		return
	}

	response.ToResponse(code.Success.Clone().WithData(&dto.RelayTokenDTO{Token: token}))
}
