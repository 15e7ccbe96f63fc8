package model

import "github.com/haierkeys/vault-device-sync/pkg/timex"

const TableNameEntitySnapshot = "entity_snapshot"

// EntitySnapshot mapped from table <entity_snapshot>
// Fields 为裁决后字段表的 JSON 序列化
type EntitySnapshot struct {
	ID         int64      `gorm:"column:id;primaryKey" json:"id" form:"id"`
	VaultID    string     `gorm:"column:vault_id;not null;uniqueIndex:idx_snapshot_entity,priority:1" json:"vaultId" form:"vaultId"`
	EntityType string     `gorm:"column:entity_type;not null;uniqueIndex:idx_snapshot_entity,priority:2" json:"entityType" form:"entityType"`
	EntityID   string     `gorm:"column:entity_id;not null;uniqueIndex:idx_snapshot_entity,priority:3" json:"entityId" form:"entityId"`
	Fields     string     `gorm:"column:fields;type:text;not null" json:"fields" form:"fields"`
	Deleted    bool       `gorm:"column:deleted;not null;default:false" json:"deleted" form:"deleted"`
	ResolvedAt timex.Time `gorm:"column:resolved_at;type:datetime;default:NULL;autoCreateTime:false" json:"resolvedAt" form:"resolvedAt"`
	CreatedAt  timex.Time `gorm:"column:created_at;type:datetime;default:NULL;autoCreateTime:false" json:"createdAt" form:"createdAt"`
	UpdatedAt  timex.Time `gorm:"column:updated_at;type:datetime;default:NULL;autoCreateTime:false" json:"updatedAt" form:"updatedAt"`
}

// TableName EntitySnapshot's table name
func (*EntitySnapshot) TableName() string {
	return TableNameEntitySnapshot
}
