package model

import "github.com/haierkeys/vault-device-sync/pkg/timex"

const TableNameSyncSession = "sync_session"

// SyncSession mapped from table <sync_session>
type SyncSession struct {
	ID              int64      `gorm:"column:id;primaryKey" json:"id" form:"id"`
	SessionID       string     `gorm:"column:session_id;not null;uniqueIndex:idx_session_id" json:"sessionId" form:"sessionId"`
	VaultID         string     `gorm:"column:vault_id;not null;index:idx_session_vault_peer,priority:1" json:"vaultId" form:"vaultId"`
	PeerID          string     `gorm:"column:peer_id;not null;index:idx_session_vault_peer,priority:2" json:"peerId" form:"peerId"`
	Transport       string     `gorm:"column:transport" json:"transport" form:"transport"`
	State           string     `gorm:"column:state;not null" json:"state" form:"state"`
	SentRecords     int        `gorm:"column:sent_records;not null;default:0" json:"sentRecords" form:"sentRecords"`
	ReceivedRecords int        `gorm:"column:received_records;not null;default:0" json:"receivedRecords" form:"receivedRecords"`
	AppliedRecords  int        `gorm:"column:applied_records;not null;default:0" json:"appliedRecords" form:"appliedRecords"`
	PendingBuffered int        `gorm:"column:pending_buffered;not null;default:0" json:"pendingBuffered" form:"pendingBuffered"`
	FullResync      bool       `gorm:"column:full_resync;not null;default:false" json:"fullResync" form:"fullResync"`
	FailReason      string     `gorm:"column:fail_reason" json:"failReason" form:"failReason"`
	StartedAt       timex.Time `gorm:"column:started_at;type:datetime;default:NULL;autoCreateTime:false" json:"startedAt" form:"startedAt"`
	FinishedAt      timex.Time `gorm:"column:finished_at;type:datetime;default:NULL;autoCreateTime:false" json:"finishedAt" form:"finishedAt"`
	CreatedAt       timex.Time `gorm:"column:created_at;type:datetime;default:NULL;autoCreateTime:false" json:"createdAt" form:"createdAt"`
	UpdatedAt       timex.Time `gorm:"column:updated_at;type:datetime;default:NULL;autoCreateTime:false" json:"updatedAt" form:"updatedAt"`
}

// TableName SyncSession's table name
func (*SyncSession) TableName() string {
	return TableNameSyncSession
}

const TableNameVaultSyncState = "vault_sync_state"

// VaultSyncState mapped from table <vault_sync_state>
type VaultSyncState struct {
	ID                int64      `gorm:"column:id;primaryKey" json:"id" form:"id"`
	VaultID           string     `gorm:"column:vault_id;not null;uniqueIndex:idx_state_vault" json:"vaultId" form:"vaultId"`
	CompactionHorizon string     `gorm:"column:compaction_horizon;type:text" json:"compactionHorizon" form:"compactionHorizon"`
	LastCompactedAt   timex.Time `gorm:"column:last_compacted_at;type:datetime;default:NULL;autoCreateTime:false" json:"lastCompactedAt" form:"lastCompactedAt"`
	LastFullResyncAt  timex.Time `gorm:"column:last_full_resync_at;type:datetime;default:NULL;autoCreateTime:false" json:"lastFullResyncAt" form:"lastFullResyncAt"`
	CreatedAt         timex.Time `gorm:"column:created_at;type:datetime;default:NULL;autoCreateTime:false" json:"createdAt" form:"createdAt"`
	UpdatedAt         timex.Time `gorm:"column:updated_at;type:datetime;default:NULL;autoCreateTime:false" json:"updatedAt" form:"updatedAt"`
}

// TableName VaultSyncState's table name
func (*VaultSyncState) TableName() string {
	return TableNameVaultSyncState
}
