package task

import (
	"context"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/app"
	"github.com/haierkeys/vault-device-sync/pkg/logger"

	"go.uber.org/zap"
)

// CompactionTask 周期压缩各金库的变更日志
type CompactionTask struct {
	app      *app.App
	interval time.Duration
}

// NewCompactionTask 创建日志压缩任务
// 压缩间隔配置为零时返回 nil，任务不注册
func NewCompactionTask(a *app.App) (Task, error) {
	interval := a.Config().GetCompactionInterval()
	if interval <= 0 {
		return nil, nil
	}
	return &CompactionTask{app: a, interval: interval}, nil
}

// Name 返回任务名称
func (t *CompactionTask) Name() string {
	return "CompactionTask"
}

// Run 压缩全部金库
// 单个金库失败不阻断其余金库
func (t *CompactionTask) Run(ctx context.Context) error {
	vaults, err := t.app.IdentityRepo.ListVaults(ctx)
	if err != nil {
		return err
	}

	lg := t.app.Logger()
	for _, vaultID := range vaults {
		removed, err := t.app.CoordinatorService.Compact(ctx, vaultID)
		if err != nil {
			lg.Error(t.Name()+" failed",
				zap.String(logger.FieldVault, vaultID),
				zap.Error(err))
			continue
		}
		if removed > 0 {
			lg.Info(t.Name()+" completed",
				zap.String(logger.FieldVault, vaultID),
				zap.Int("removed", removed))
		}
	}
	return nil
}

// LoopInterval 返回执行间隔
func (t *CompactionTask) LoopInterval() time.Duration {
	return t.interval
}

// IsStartupRun 是否立即执行一次
func (t *CompactionTask) IsStartupRun() bool {
	return false
}
