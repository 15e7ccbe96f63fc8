package api_router

import (
	"github.com/haierkeys/vault-device-sync/internal/app"
	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/internal/dto"
	pkgapp "github.com/haierkeys/vault-device-sync/pkg/app"
	"github.com/haierkeys/vault-device-sync/pkg/code"
	"github.com/haierkeys/vault-device-sync/pkg/timex"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SyncHandler 同步协调 API 路由处理器
type SyncHandler struct {
	*Handler
}

// NewSyncHandler 创建 SyncHandler 实例
func NewSyncHandler(a *app.App) *SyncHandler {
	return &SyncHandler{Handler: NewHandler(a)}
}

// Trigger 手动触发同步
// @Summary 手动触发同步
// @Description 与指定对端同步，peerId 为空时与全部可同步设备并发同步
// @Tags 同步
// @Accept json
// @Produce json
// @Param params body dto.SyncTriggerRequest true "触发参数"
// @Success 200 {object} pkgapp.Res "成功"
// @Router /api/sync/trigger [post]
func (h *SyncHandler) Trigger(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.SyncTriggerRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.App.Logger().Error("SyncHandler.Trigger.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	ctx := c.Request.Context()

	if err := h.App.CoordinatorService.TriggerSync(ctx, params.VaultID, params.PeerID, params.FullResync); err != nil {
		h.logError(ctx, "SyncHandler.Trigger", err)
		errResponse(c, err)
		return
	}

	response.ToResponse(code.Success)
}

// Status 获取同步状态
// @Summary 获取同步状态
// @Description 获取金库的向量时钟、日志规模与压缩水位
// @Tags 同步
// @Produce json
// @Param vaultId query string true "金库 ID"
// @Success 200 {object} pkgapp.Res{data=dto.SyncStatusDTO} "成功"
// @Router /api/sync/status [get]
func (h *SyncHandler) Status(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.SyncStatusRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.App.Logger().Error("SyncHandler.Status.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	ctx := c.Request.Context()

	status, err := h.App.CoordinatorService.Status(ctx, params.VaultID)
	if err != nil {
		h.logError(ctx, "SyncHandler.Status", err)
		errResponse(c, err)
		return
	}

	response.ToResponse(code.Success.Clone().WithData(status))
}

// Sessions 获取会话历史
// @Summary 获取会话历史
// @Description 分页获取金库的同步会话历史
// @Tags 同步
// @Produce json
// @Param vaultId query string true "金库 ID"
// @Param page query int false "页码"
// @Param pageSize query int false "每页数量"
// @Success 200 {object} pkgapp.Res{data=pkgapp.ListRes} "成功"
// @Router /api/sync/sessions [get]
func (h *SyncHandler) Sessions(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.SessionListRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.App.Logger().Error("SyncHandler.Sessions.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	ctx := c.Request.Context()

	sessions, total, err := h.App.CoordinatorService.Sessions(ctx, params.VaultID,
		pkgapp.GetPage(c), pkgapp.GetPageSize(c))
	if err != nil {
		h.logError(ctx, "SyncHandler.Sessions", err)
		errResponse(c, err)
		return
	}

	response.ToResponseList(code.Success, sessions, int(total))
}

// Compact 压缩变更日志
// @Summary 压缩变更日志
// @Description 删除已被全体可信对端确认且裁决落败的记录
// @Tags 同步
// @Produce json
// @Param vaultId query string true "金库 ID"
// @Success 200 {object} pkgapp.Res "成功"
// @Router /api/sync/compact [post]
func (h *SyncHandler) Compact(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.SyncStatusRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.App.Logger().Error("SyncHandler.Compact.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	ctx := c.Request.Context()

	removed, err := h.App.CoordinatorService.Compact(ctx, params.VaultID)
	if err != nil {
		h.logError(ctx, "SyncHandler.Compact", err)
		errResponse(c, err)
		return
	}

	response.ToResponse(code.Success.Clone().WithData(gin.H{"removed": removed}))
}

// RelayPoll 拉取中继信箱
// @Summary 拉取中继信箱
// @Description 拉取并摄入中继信箱中的离线批次
// @Tags 同步
// @Produce json
// @Param vaultId query string true "金库 ID"
// @Success 200 {object} pkgapp.Res "成功"
// @Router /api/sync/relay/poll [post]
func (h *SyncHandler) RelayPoll(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.SyncStatusRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.App.Logger().Error("SyncHandler.RelayPoll.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	ctx := c.Request.Context()

	ingested, err := h.App.CoordinatorService.PollRelay(ctx, params.VaultID)
	if err != nil {
		h.logError(ctx, "SyncHandler.RelayPoll", err)
		errResponse(c, err)
		return
	}

	response.ToResponse(code.Success.Clone().WithData(gin.H{"ingested": ingested}))
}

// changeToDTO 将变更记录转换为 API 响应对象
func changeToDTO(r *domain.ChangeRecord) *dto.ChangeRecordDTO {
	return &dto.ChangeRecordDTO{
		EntityType:    r.EntityType,
		EntityID:      r.EntityID,
		FieldPath:     r.FieldPath,
		Value:         r.Value,
		DeviceID:      r.DeviceID,
		LogicalClock:  r.LogicalClock,
		CausalDeps:    r.CausalDeps,
		WallClockHint: r.WallClockHint,
	}
}

// Change 记录一次本地字段写入
// @Summary 记录本地字段写入
// @Description 向变更日志追加一条字段写入，时钟与依赖向量由服务端分配
// @Tags 同步
// @Accept json
// @Produce json
// @Param params body dto.ChangeAppendRequest true "写入参数"
// @Success 200 {object} pkgapp.Res{data=dto.ChangeRecordDTO} "成功"
// @Router /api/change [post]
func (h *SyncHandler) Change(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.ChangeAppendRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.App.Logger().Error("SyncHandler.Change.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	ctx := c.Request.Context()

	record, err := h.App.ChangeLogService.RecordChange(ctx, params.VaultID,
		params.EntityType, params.EntityID, params.FieldPath, params.Value)
	if err != nil {
		h.logError(ctx, "SyncHandler.Change", err)
		errResponse(c, err)
		return
	}

	response.ToResponse(code.Success.Clone().WithData(changeToDTO(record)))
}

// ChangeDelete 记录一次本地实体删除
// @Summary 记录本地实体删除
// @Description 向变更日志写入生命周期墓碑，实体在快照中标记为已删除
// @Tags 同步
// @Accept json
// @Produce json
// @Param params body dto.ChangeDeleteRequest true "删除参数"
// @Success 200 {object} pkgapp.Res{data=dto.ChangeRecordDTO} "成功"
// @Router /api/change/delete [post]
func (h *SyncHandler) ChangeDelete(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.ChangeDeleteRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.App.Logger().Error("SyncHandler.ChangeDelete.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	ctx := c.Request.Context()

	record, err := h.App.ChangeLogService.RecordDelete(ctx, params.VaultID,
		params.EntityType, params.EntityID)
	if err != nil {
		h.logError(ctx, "SyncHandler.ChangeDelete", err)
		errResponse(c, err)
		return
	}

	response.ToResponse(code.Success.Clone().WithData(changeToDTO(record)))
}

// snapshotToDTO 将实体快照转换为 API 响应对象
func snapshotToDTO(s *domain.EntitySnapshot) *dto.SnapshotDTO {
	fields := make(map[string]string, len(s.Fields))
	for path, f := range s.Fields {
		fields[path] = f.Value
	}
	return &dto.SnapshotDTO{
		EntityType: s.EntityType,
		EntityID:   s.EntityID,
		Fields:     fields,
		Deleted:    s.Deleted,
		ResolvedAt: timex.Time(s.ResolvedAt),
	}
}

// Snapshot 获取实体快照
// @Summary 获取实体快照
// @Description 获取单个实体裁决后的当前态，entityId 为空时按类型列出全部实体
// @Tags 同步
// @Produce json
// @Param params query dto.SnapshotGetRequest true "查询参数"
// @Success 200 {object} pkgapp.Res{data=dto.SnapshotDTO} "成功"
// @Router /api/snapshot [get]
func (h *SyncHandler) Snapshot(c *gin.Context) {
	response := pkgapp.NewResponse(c)
	params := &dto.SnapshotGetRequest{}

	valid, errs := pkgapp.BindAndValid(c, params)
	if !valid {
		h.App.Logger().Error("SyncHandler.Snapshot.BindAndValid err", zap.Error(errs))
		response.ToResponse(code.ErrorInvalidParams.Clone().WithDetails(errs.Errors()...))
		return
	}

	ctx := c.Request.Context()

	if params.EntityID == "" {
		snapshots, err := h.App.SnapshotRepo.ListByType(ctx, params.VaultID, params.EntityType)
		if err != nil {
			h.logError(ctx, "SyncHandler.Snapshot.ListByType", err)
			errResponse(c, err)
			return
		}
		list := make([]*dto.SnapshotDTO, 0, len(snapshots))
		for _, s := range snapshots {
			list = append(list, snapshotToDTO(s))
		}
		response.ToResponse(code.Success.Clone().WithData(list))
		return
	}

	snapshot, err := h.App.SnapshotRepo.Get(ctx, params.VaultID, params.EntityType, params.EntityID)
	if err != nil {
		h.logError(ctx, "SyncHandler.Snapshot", err)
		errResponse(c, err)
		return
	}
	if snapshot == nil {
		response.ToResponse(code.ErrorNotFound)
		return
	}

	response.ToResponse(code.Success.Clone().WithData(snapshotToDTO(snapshot)))
}
