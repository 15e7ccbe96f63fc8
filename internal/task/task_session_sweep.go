package task

import (
	"context"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/app"
	"github.com/haierkeys/vault-device-sync/internal/service"

	"go.uber.org/zap"
)

// sessionSweepInterval 应答侧会话清扫间隔
const sessionSweepInterval = time.Minute

// SessionSweepTask 回收发起方中途消失的应答侧会话
// 会话连同其暂存批次一并丢弃，对端下次会话重传
type SessionSweepTask struct {
	app *app.App
	ttl time.Duration
}

// NewSessionSweepTask 创建会话清扫任务
func NewSessionSweepTask(a *app.App) (Task, error) {
	return &SessionSweepTask{app: a, ttl: service.DefaultResponderSessionTTL}, nil
}

// Name 返回任务名称
func (t *SessionSweepTask) Name() string {
	return "SessionSweepTask"
}

// Run 清理超时未活动的应答侧会话
func (t *SessionSweepTask) Run(ctx context.Context) error {
	swept := t.app.CoordinatorService.SweepSessions(t.ttl)
	if swept > 0 {
		t.app.Logger().Info(t.Name()+" completed", zap.Int("swept", swept))
	}
	return nil
}

// LoopInterval 返回执行间隔
func (t *SessionSweepTask) LoopInterval() time.Duration {
	return sessionSweepInterval
}

// IsStartupRun 是否立即执行一次
func (t *SessionSweepTask) IsStartupRun() bool {
	return false
}
