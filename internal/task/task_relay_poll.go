package task

import (
	"context"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/app"
	"github.com/haierkeys/vault-device-sync/pkg/logger"

	"go.uber.org/zap"
)

// RelayPollTask 周期拉取中继信箱并摄入离线批次
type RelayPollTask struct {
	app      *app.App
	interval time.Duration
}

// NewRelayPollTask 创建中继轮询任务
// 中继未启用时返回 nil，任务不注册
func NewRelayPollTask(a *app.App) (Task, error) {
	if a.RelayClient == nil {
		return nil, nil
	}
	interval := a.Config().GetRelayPollInterval()
	if interval <= 0 {
		return nil, nil
	}
	return &RelayPollTask{app: a, interval: interval}, nil
}

// Name 返回任务名称
func (t *RelayPollTask) Name() string {
	return "RelayPollTask"
}

// Run 拉取全部金库的信箱
func (t *RelayPollTask) Run(ctx context.Context) error {
	vaults, err := t.app.IdentityRepo.ListVaults(ctx)
	if err != nil {
		return err
	}

	lg := t.app.Logger()
	for _, vaultID := range vaults {
		ingested, err := t.app.CoordinatorService.PollRelay(ctx, vaultID)
		if err != nil {
			lg.Warn(t.Name()+" failed",
				zap.String(logger.FieldVault, vaultID),
				zap.Error(err))
			continue
		}
		if ingested > 0 {
			lg.Info(t.Name()+" ingested mailbox messages",
				zap.String(logger.FieldVault, vaultID),
				zap.Int("count", ingested))
		}
	}
	return nil
}

// LoopInterval 返回执行间隔
func (t *RelayPollTask) LoopInterval() time.Duration {
	return t.interval
}

// IsStartupRun 是否立即执行一次
func (t *RelayPollTask) IsStartupRun() bool {
	return true
}
