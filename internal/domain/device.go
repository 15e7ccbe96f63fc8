package domain

import "time"

// TrustState 设备信任状态
type TrustState string

const (
	TrustStatePending     TrustState = "pending"     // 已发现待确认
	TrustStateTrusted     TrustState = "trusted"     // 已配对，参与同步
	TrustStateRevoked     TrustState = "revoked"     // 已吊销，变更一律拒绝
	TrustStateQuarantined TrustState = "quarantined" // 时钟回退被隔离，需重新配对
)

// CanSync 判断该信任状态下是否允许参与同步
func (s TrustState) CanSync() bool {
	return s == TrustStateTrusted
}

// DeviceIdentity 已知对端设备
// DeviceID 是签名公钥的 blake2b 指纹，公钥即身份
type DeviceIdentity struct {
	ID            int64
	VaultID       string
	DeviceID      string
	DisplayName   string
	Platform      string
	BoxPublicKey  []byte // NaCl box 加密公钥
	SignPublicKey []byte // ed25519 签名公钥
	TrustState    TrustState
	Endpoint      string // 直连地址，空则只能走中继
	LastClock     uint64 // 已见过的该设备最大逻辑时钟
	AckClock      string // 对端已确认收到的向量游标（JSON）
	PairedAt      time.Time
	RevokedAt     time.Time
	LastSeenAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsRevoked 判断设备是否已吊销
func (d *DeviceIdentity) IsRevoked() bool {
	return d.TrustState == TrustStateRevoked
}

// IsQuarantined 判断设备是否被隔离
func (d *DeviceIdentity) IsQuarantined() bool {
	return d.TrustState == TrustStateQuarantined
}

// LocalIdentity 本设备身份，含私钥
// 私钥永不离开本机，也绝不进入变更日志
type LocalIdentity struct {
	ID             int64
	VaultID        string
	DeviceID       string
	DisplayName    string
	Platform       string
	BoxPublicKey   []byte
	BoxPrivateKey  []byte
	SignPublicKey  []byte
	SignPrivateKey []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// KeyRotation 已签名的密钥轮换断言
type KeyRotation struct {
	DeviceID     string
	NewBoxPublic []byte
	RotatedAt    int64 // 毫秒
	Signature    []byte // 旧签名私钥对断言的签名
}
