package task

import (
	"context"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/app"
	"github.com/haierkeys/vault-device-sync/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SyncScheduleTask 按 cron 表达式触发全部金库的对端同步
// 调度器按固定间隔唤醒，到达 cron 计划点才真正触发
type SyncScheduleTask struct {
	app      *app.App
	schedule cron.Schedule
	next     time.Time
}

// NewSyncScheduleTask 创建周期同步任务
// cron 表达式为空或同步关闭时返回 nil，任务不注册
func NewSyncScheduleTask(a *app.App) (Task, error) {
	cfg := a.Config()
	if !cfg.Sync.Enabled || cfg.Sync.Schedule == "" {
		return nil, nil
	}
	schedule, err := cron.ParseStandard(cfg.Sync.Schedule)
	if err != nil {
		return nil, err
	}
	return &SyncScheduleTask{
		app:      a,
		schedule: schedule,
		next:     schedule.Next(time.Now()),
	}, nil
}

// Name 返回任务名称
func (t *SyncScheduleTask) Name() string {
	return "SyncScheduleTask"
}

// Run 到达计划点时触发所有金库对全部可同步对端的增量同步
func (t *SyncScheduleTask) Run(ctx context.Context) error {
	now := time.Now()
	if now.Before(t.next) {
		return nil
	}
	t.next = t.schedule.Next(now)

	vaults, err := t.app.IdentityRepo.ListVaults(ctx)
	if err != nil {
		return err
	}

	lg := t.app.Logger()
	for _, vaultID := range vaults {
		// 空对端表示同步全部可同步设备，在途会话由协调器去重
		if err := t.app.CoordinatorService.TriggerSync(ctx, vaultID, "", false); err != nil {
			lg.Warn(t.Name()+" trigger failed",
				zap.String(logger.FieldVault, vaultID),
				zap.Error(err))
		}
	}
	return nil
}

// LoopInterval 返回执行间隔
// cron 计划点在 Run 内判定，这里只决定唤醒频率
func (t *SyncScheduleTask) LoopInterval() time.Duration {
	return 30 * time.Second
}

// IsStartupRun 是否立即执行一次
func (t *SyncScheduleTask) IsStartupRun() bool {
	return false
}
