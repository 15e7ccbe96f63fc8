package domain

import "time"

// SessionState 同步会话状态
type SessionState string

const (
	SessionIdle        SessionState = "idle"
	SessionHandshaking SessionState = "handshaking"
	SessionExchanging  SessionState = "exchanging"
	SessionReconciled  SessionState = "reconciled"
	SessionFailed      SessionState = "failed"
)

// sessionTransitions 合法的状态迁移表
var sessionTransitions = map[SessionState][]SessionState{
	SessionIdle:        {SessionHandshaking},
	SessionHandshaking: {SessionExchanging, SessionFailed, SessionIdle},
	SessionExchanging:  {SessionReconciled, SessionFailed},
	SessionReconciled:  {SessionIdle},
	SessionFailed:      {SessionIdle},
}

// CanTransition 判断状态迁移是否合法
func (s SessionState) CanTransition(to SessionState) bool {
	for _, next := range sessionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal 判断会话是否已结束
func (s SessionState) IsTerminal() bool {
	return s == SessionReconciled || s == SessionFailed
}

// SyncSession 一次与单个对端的同步会话
type SyncSession struct {
	ID              int64
	SessionID       string
	VaultID         string
	PeerID          string
	Transport       string // direct / relay
	State           SessionState
	SentRecords     int
	ReceivedRecords int
	AppliedRecords  int
	PendingBuffered int
	FullResync      bool
	FailReason      string
	StartedAt       time.Time
	FinishedAt      time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// VaultSyncState 金库级同步状态
type VaultSyncState struct {
	ID                int64
	VaultID           string
	CompactionHorizon string // 压缩水位向量游标（JSON），早于此游标的增量无法服务
	LastCompactedAt   time.Time
	LastFullResyncAt  time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
