package model

import "github.com/haierkeys/vault-device-sync/pkg/timex"

const TableNameDevice = "device"

// Device mapped from table <device>
// 公钥以原始字节存储，AckClock 为向量游标的 JSON 序列化
type Device struct {
	ID            int64      `gorm:"column:id;primaryKey" json:"id" form:"id"`
	VaultID       string     `gorm:"column:vault_id;not null;uniqueIndex:idx_vault_device,priority:1" json:"vaultId" form:"vaultId"`
	DeviceID      string     `gorm:"column:device_id;not null;uniqueIndex:idx_vault_device,priority:2" json:"deviceId" form:"deviceId"`
	DisplayName   string     `gorm:"column:display_name" json:"displayName" form:"displayName"`
	Platform      string     `gorm:"column:platform" json:"platform" form:"platform"`
	BoxPublicKey  []byte     `gorm:"column:box_public_key;not null" json:"boxPublicKey" form:"boxPublicKey"`
	SignPublicKey []byte     `gorm:"column:sign_public_key;not null" json:"signPublicKey" form:"signPublicKey"`
	TrustState    string     `gorm:"column:trust_state;not null;default:pending;index:idx_trust_state" json:"trustState" form:"trustState"`
	Endpoint      string     `gorm:"column:endpoint" json:"endpoint" form:"endpoint"`
	LastClock     uint64     `gorm:"column:last_clock;not null;default:0" json:"lastClock" form:"lastClock"`
	AckClock      string     `gorm:"column:ack_clock;type:text" json:"ackClock" form:"ackClock"`
	PairedAt      timex.Time `gorm:"column:paired_at;type:datetime;default:NULL;autoCreateTime:false" json:"pairedAt" form:"pairedAt"`
	RevokedAt     timex.Time `gorm:"column:revoked_at;type:datetime;default:NULL;autoCreateTime:false" json:"revokedAt" form:"revokedAt"`
	LastSeenAt    timex.Time `gorm:"column:last_seen_at;type:datetime;default:NULL;autoCreateTime:false" json:"lastSeenAt" form:"lastSeenAt"`
	CreatedAt     timex.Time `gorm:"column:created_at;type:datetime;default:NULL;autoCreateTime:false" json:"createdAt" form:"createdAt"`
	UpdatedAt     timex.Time `gorm:"column:updated_at;type:datetime;default:NULL;autoCreateTime:false" json:"updatedAt" form:"updatedAt"`
}

// TableName Device's table name
func (*Device) TableName() string {
	return TableNameDevice
}

const TableNameLocalIdentity = "local_identity"

// LocalIdentity mapped from table <local_identity>
// 私钥仅存本机数据库，永不进入变更日志
type LocalIdentity struct {
	ID             int64      `gorm:"column:id;primaryKey" json:"id" form:"id"`
	VaultID        string     `gorm:"column:vault_id;not null;uniqueIndex:idx_identity_vault" json:"vaultId" form:"vaultId"`
	DeviceID       string     `gorm:"column:device_id;not null" json:"deviceId" form:"deviceId"`
	DisplayName    string     `gorm:"column:display_name" json:"displayName" form:"displayName"`
	Platform       string     `gorm:"column:platform" json:"platform" form:"platform"`
	BoxPublicKey   []byte     `gorm:"column:box_public_key;not null" json:"boxPublicKey" form:"boxPublicKey"`
	BoxPrivateKey  []byte     `gorm:"column:box_private_key;not null" json:"-" form:"-"`
	SignPublicKey  []byte     `gorm:"column:sign_public_key;not null" json:"signPublicKey" form:"signPublicKey"`
	SignPrivateKey []byte     `gorm:"column:sign_private_key;not null" json:"-" form:"-"`
	CreatedAt      timex.Time `gorm:"column:created_at;type:datetime;default:NULL;autoCreateTime:false" json:"createdAt" form:"createdAt"`
	UpdatedAt      timex.Time `gorm:"column:updated_at;type:datetime;default:NULL;autoCreateTime:false" json:"updatedAt" form:"updatedAt"`
}

// TableName LocalIdentity's table name
func (*LocalIdentity) TableName() string {
	return TableNameLocalIdentity
}
