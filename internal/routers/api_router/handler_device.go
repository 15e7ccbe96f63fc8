package api_router

import (
	"encoding/base64"

	"github.com/haierkeys/vault-device-sync/internal/app"
	"github.com/haierkeys/vault-device-sync/internal/dto"
	pkgapp "github.com/haierkeys/vault-device-sync/pkg/app"
	"github.com/haierkeys/vault-device-sync/pkg/code"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DeviceHandler 设备注册表 API 路由处理器
// 使用 App Container 注入依赖，支持统一错误处理
type DeviceHandler struct {
	*Handler
}

// NewDeviceHandler 创建 DeviceHandler 实例
func NewDeviceHandler(a *app.App) *DeviceHandler {
	return &DeviceHandler{Handler: NewHandler(a)}
}

// Provision 初始化本设备身份
// @Summary 初始化本设备身份
// @Description 生成本设备密钥对并登记，已存在时幂等返回
// @Tags 设备
// @Accept json
// @Produce json
// @Param params body dto.DeviceProvisionRequest true "初始化参数"
// @Success 200 {object} pkgapp.Res{data=dto.IdentityDTO} "成功"
// @Router /api/device/provision [post]
func (h *DeviceHandler) Provision(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.DeviceProvisionRequest{}

	// 参数绑定和验证
	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.App.Logger().Error("DeviceHandler.Provision.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	ctx := c.Request.Context()

	identity, err := h.App.DeviceService.Provision(ctx, params.VaultID, params.DisplayName)
	if err != nil {
		h.logError(ctx, "DeviceHandler.Provision", err)
		errResponse(c, err)
		return
	}

	response.ToResponse(code.Success.Clone().WithData(identity))
}

// Identity 获取本设备身份
// @Summary 获取本设备身份
// @Description 获取本设备的公钥与设备 ID，不含私钥
// @Tags 设备
// @Produce json
// @Param vaultId query string true "金库 ID"
// @Success 200 {object} pkgapp.Res{data=dto.IdentityDTO} "成功"
// @Router /api/device/identity [get]
func (h *DeviceHandler) Identity(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.DeviceGetRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.App.Logger().Error("DeviceHandler.Identity.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	ctx := c.Request.Context()

	identity, err := h.App.DeviceService.Identity(ctx, params.VaultID)
	if err != nil {
		h.logError(ctx, "DeviceHandler.Identity", err)
		errResponse(c, err)
		return
	}
	if identity == nil {
		response.ToResponse(code.ErrorDeviceNotFound)
		return
	}

	response.ToResponse(code.Success.Clone().WithData(&dto.IdentityDTO{
		VaultID:       identity.VaultID,
		DeviceID:      identity.DeviceID,
		DisplayName:   identity.DisplayName,
		Platform:      identity.Platform,
		BoxPublicKey:  base64.StdEncoding.EncodeToString(identity.BoxPublicKey),
		SignPublicKey: base64.StdEncoding.EncodeToString(identity.SignPublicKey),
	}))
}

// Pair 配对新设备
// @Summary 配对新设备
// @Description 校验配对令牌与公钥签名，通过后新设备进入信任列表
// @Tags 设备
// @Accept json
// @Produce json
// @Param params body dto.DevicePairRequest true "配对参数"
// @Success 200 {object} pkgapp.Res{data=dto.DeviceDTO} "成功"
// @Router /api/device/pair [post]
func (h *DeviceHandler) Pair(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.DevicePairRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.App.Logger().Error("DeviceHandler.Pair.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	ctx := c.Request.Context()

	device, err := h.App.DeviceService.Pair(ctx, params)
	if err != nil {
		h.logError(ctx, "DeviceHandler.Pair", err)
		errResponse(c, err)
		return
	}

	response.ToResponse(code.Success.Clone().WithData(device))
}

// Revoke 吊销设备
// @Summary 吊销设备
// @Description 将设备移出信任列表，吊销不可逆，其后续变更一律拒绝
// @Tags 设备
// @Produce json
// @Param params query dto.DeviceRevokeRequest true "吊销参数"
// @Success 200 {object} pkgapp.Res "成功"
// @Router /api/device [delete]
func (h *DeviceHandler) Revoke(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.DeviceRevokeRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.App.Logger().Error("DeviceHandler.Revoke.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	ctx := c.Request.Context()

	if err := h.App.DeviceService.Revoke(ctx, params.VaultID, params.DeviceID); err != nil {
		h.logError(ctx, "DeviceHandler.Revoke", err)
		errResponse(c, err)
		return
	}

	response.ToResponse(code.Success)
}

// RotateKey 接受密钥轮换断言
// @Summary 接受密钥轮换断言
// @Description 校验设备稳定签名密钥对轮换断言的签名，通过后更新加密公钥
// @Tags 设备
// @Accept json
// @Produce json
// @Param params body dto.DeviceRotateKeyRequest true "轮换参数"
// @Success 200 {object} pkgapp.Res "成功"
// @Router /api/device/rotate [post]
func (h *DeviceHandler) RotateKey(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.DeviceRotateKeyRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.App.Logger().Error("DeviceHandler.RotateKey.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	ctx := c.Request.Context()

	if err := h.App.DeviceService.RotateKey(ctx, params); err != nil {
		h.logError(ctx, "DeviceHandler.RotateKey", err)
		errResponse(c, err)
		return
	}

	response.ToResponse(code.Success)
}

// List 获取设备列表
// @Summary 获取设备列表
// @Description 获取金库的全部已知设备及其信任状态
// @Tags 设备
// @Produce json
// @Param vaultId query string true "金库 ID"
// @Success 200 {object} pkgapp.Res{data=[]dto.DeviceDTO} "成功"
// @Router /api/devices [get]
func (h *DeviceHandler) List(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.DeviceGetRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.App.Logger().Error("DeviceHandler.List.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	ctx := c.Request.Context()

	devices, err := h.App.DeviceService.List(ctx, params.VaultID)
	if err != nil {
		h.logError(ctx, "DeviceHandler.List", err)
		errResponse(c, err)
		return
	}

	response.ToResponse(code.Success.Clone().WithData(devices))
}
