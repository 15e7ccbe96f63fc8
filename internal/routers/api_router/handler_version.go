package api_router

import (
	"github.com/haierkeys/vault-device-sync/internal/app"
	"github.com/haierkeys/vault-device-sync/internal/dto"
	pkgapp "github.com/haierkeys/vault-device-sync/pkg/app"
	"github.com/haierkeys/vault-device-sync/pkg/code"

	"github.com/gin-gonic/gin"
)

// VersionHandler 版本信息 API 路由处理器
type VersionHandler struct {
	*Handler
}

// NewVersionHandler 创建 VersionHandler 实例
func NewVersionHandler(a *app.App) *VersionHandler {
	return &VersionHandler{Handler: NewHandler(a)}
}

// ServerVersion 获取服务端版本号
// @Summary 获取服务端版本号
// @Description 获取服务端构建版本与同步协议版本
// @Tags 系统
// @Produce json
// @Success 200 {object} pkgapp.Res{data=dto.VersionDTO} "成功"
// @Router /api/version [get]
func (h *VersionHandler) ServerVersion(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	info := h.App.Version()

	response.ToResponse(code.Success.Clone().WithData(&dto.VersionDTO{
		Version:   info.Version,
		GitTag:    info.GitTag,
		BuildTime: info.BuildTime,
		Protocol:  dto.ProtocolVersion,
	}))
}
