package model

import "github.com/haierkeys/vault-device-sync/pkg/timex"

const TableNameChangeRecord = "change_record"

// ChangeRecord mapped from table <change_record>
// CausalDeps 为向量时钟的 JSON 序列化
type ChangeRecord struct {
	ID            int64      `gorm:"column:id;primaryKey" json:"id" form:"id"`
	VaultID       string     `gorm:"column:vault_id;not null;index:idx_vault_device_clock,priority:1;index:idx_vault_entity,priority:1" json:"vaultId" form:"vaultId"`
	EntityType    string     `gorm:"column:entity_type;not null;index:idx_vault_entity,priority:2" json:"entityType" form:"entityType"`
	EntityID      string     `gorm:"column:entity_id;not null;index:idx_vault_entity,priority:3" json:"entityId" form:"entityId"`
	FieldPath     string     `gorm:"column:field_path;not null" json:"fieldPath" form:"fieldPath"`
	Value         string     `gorm:"column:value;type:text" json:"value" form:"value"`
	DeviceID      string     `gorm:"column:device_id;not null;index:idx_vault_device_clock,priority:2" json:"deviceId" form:"deviceId"`
	LogicalClock  uint64     `gorm:"column:logical_clock;not null;index:idx_vault_device_clock,priority:3" json:"logicalClock" form:"logicalClock"`
	CausalDeps    string     `gorm:"column:causal_deps;type:text;not null" json:"causalDeps" form:"causalDeps"`
	WallClockHint int64      `gorm:"column:wall_clock_hint;not null" json:"wallClockHint" form:"wallClockHint"`
	CreatedAt     timex.Time `gorm:"column:created_at;type:datetime;default:NULL;autoCreateTime:false" json:"createdAt" form:"createdAt"`
}

// TableName ChangeRecord's table name
func (*ChangeRecord) TableName() string {
	return TableNameChangeRecord
}
