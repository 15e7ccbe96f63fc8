package dto

import (
	"github.com/haierkeys/vault-device-sync/pkg/timex"
	"github.com/haierkeys/vault-device-sync/pkg/vclock"
)

// SyncTriggerRequest 手动触发同步请求参数
// PeerID 为空时与所有可同步设备并发同步
type SyncTriggerRequest struct {
	VaultID    string `json:"vaultId" form:"vaultId" binding:"required"`
	PeerID     string `json:"peerId" form:"peerId"`
	FullResync bool   `json:"fullResync" form:"fullResync"`
}

// SyncStatusRequest 同步状态查询参数
type SyncStatusRequest struct {
	VaultID string `json:"vaultId" form:"vaultId" binding:"required"`
}

// SyncStatusDTO 金库同步状态 API 响应对象
type SyncStatusDTO struct {
	VaultID           string       `json:"vaultId"`
	Enabled           bool         `json:"enabled"`
	LocalClocks       vclock.Clock `json:"localClocks"`
	LogRecords        int64        `json:"logRecords"`
	DeviceCount       int          `json:"deviceCount"`
	TrustedCount      int          `json:"trustedCount"`
	CompactionHorizon vclock.Clock `json:"compactionHorizon"`
	LastCompactedAt   timex.Time   `json:"lastCompactedAt"`
	LastFullResyncAt  timex.Time   `json:"lastFullResyncAt"`
}

// SessionListRequest 会话历史查询参数
type SessionListRequest struct {
	VaultID string `json:"vaultId" form:"vaultId" binding:"required"`
}

// SessionDTO 同步会话 API 响应对象
type SessionDTO struct {
	SessionID       string     `json:"sessionId"`
	PeerID          string     `json:"peerId"`
	Transport       string     `json:"transport"`
	State           string     `json:"state"`
	SentRecords     int        `json:"sentRecords"`
	ReceivedRecords int        `json:"receivedRecords"`
	AppliedRecords  int        `json:"appliedRecords"`
	PendingBuffered int        `json:"pendingBuffered"`
	FullResync      bool       `json:"fullResync"`
	FailReason      string     `json:"failReason"`
	StartedAt       timex.Time `json:"startedAt"`
	FinishedAt      timex.Time `json:"finishedAt"`
}

// ChangeAppendRequest 本地字段写入请求参数
type ChangeAppendRequest struct {
	VaultID    string `json:"vaultId" form:"vaultId" binding:"required"`
	EntityType string `json:"entityType" form:"entityType" binding:"required"`
	EntityID   string `json:"entityId" form:"entityId" binding:"required"`
	FieldPath  string `json:"fieldPath" form:"fieldPath" binding:"required"`
	Value      string `json:"value" form:"value"`
}

// ChangeDeleteRequest 本地实体删除请求参数
type ChangeDeleteRequest struct {
	VaultID    string `json:"vaultId" form:"vaultId" binding:"required"`
	EntityType string `json:"entityType" form:"entityType" binding:"required"`
	EntityID   string `json:"entityId" form:"entityId" binding:"required"`
}

// SnapshotGetRequest 实体快照查询参数
type SnapshotGetRequest struct {
	VaultID    string `json:"vaultId" form:"vaultId" binding:"required"`
	EntityType string `json:"entityType" form:"entityType" binding:"required"`
	EntityID   string `json:"entityId" form:"entityId"`
}

// SnapshotDTO 实体快照 API 响应对象
type SnapshotDTO struct {
	EntityType string            `json:"entityType"`
	EntityID   string            `json:"entityId"`
	Fields     map[string]string `json:"fields"`
	Deleted    bool              `json:"deleted"`
	ResolvedAt timex.Time        `json:"resolvedAt"`
}
