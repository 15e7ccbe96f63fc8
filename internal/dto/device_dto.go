package dto

import "github.com/haierkeys/vault-device-sync/pkg/timex"

// DevicePairRequest 设备配对请求参数
// PairSignature 为新设备签名私钥对配对令牌的签名，证明其持有公钥对应的私钥
type DevicePairRequest struct {
	VaultID       string `json:"vaultId" form:"vaultId" binding:"required"`
	DeviceID      string `json:"deviceId" form:"deviceId" binding:"required"`
	DisplayName   string `json:"displayName" form:"displayName"`
	Platform      string `json:"platform" form:"platform"`
	BoxPublicKey  string `json:"boxPublicKey" form:"boxPublicKey" binding:"required"`   // base64
	SignPublicKey string `json:"signPublicKey" form:"signPublicKey" binding:"required"` // base64
	PairToken     string `json:"pairToken" form:"pairToken" binding:"required"`
	PairSignature string `json:"pairSignature" form:"pairSignature" binding:"required"` // base64
}

// DeviceProvisionRequest 本设备身份初始化请求参数
type DeviceProvisionRequest struct {
	VaultID     string `json:"vaultId" form:"vaultId" binding:"required"`
	DisplayName string `json:"displayName" form:"displayName"`
}

// DeviceGetRequest 设备查询参数
type DeviceGetRequest struct {
	VaultID  string `json:"vaultId" form:"vaultId" binding:"required"`
	DeviceID string `json:"deviceId" form:"deviceId"`
}

// DeviceRevokeRequest 设备吊销请求参数
type DeviceRevokeRequest struct {
	VaultID  string `json:"vaultId" form:"vaultId" binding:"required"`
	DeviceID string `json:"deviceId" form:"deviceId" binding:"required"`
}

// DeviceRotateKeyRequest 密钥轮换请求参数
// Signature 为设备稳定签名私钥对轮换断言的签名
type DeviceRotateKeyRequest struct {
	VaultID      string `json:"vaultId" form:"vaultId" binding:"required"`
	DeviceID     string `json:"deviceId" form:"deviceId" binding:"required"`
	NewBoxPublic string `json:"newBoxPublic" form:"newBoxPublic" binding:"required"` // base64
	RotatedAt    int64  `json:"rotatedAt" form:"rotatedAt" binding:"required"`
	Signature    string `json:"signature" form:"signature" binding:"required"` // base64
}

// DeviceDTO 设备信息 API 响应对象
type DeviceDTO struct {
	DeviceID    string     `json:"deviceId"`
	DisplayName string     `json:"displayName"`
	Platform    string     `json:"platform"`
	TrustState  string     `json:"trustState"`
	Endpoint    string     `json:"endpoint"`
	LastClock   uint64     `json:"lastClock"`
	PairedAt    timex.Time `json:"pairedAt"`
	LastSeenAt  timex.Time `json:"lastSeenAt"`
	RevokedAt   timex.Time `json:"revokedAt"`
}

// IdentityDTO 本设备身份 API 响应对象，不含私钥
type IdentityDTO struct {
	VaultID       string `json:"vaultId"`
	DeviceID      string `json:"deviceId"`
	DisplayName   string `json:"displayName"`
	Platform      string `json:"platform"`
	BoxPublicKey  string `json:"boxPublicKey"`  // base64
	SignPublicKey string `json:"signPublicKey"` // base64
}
