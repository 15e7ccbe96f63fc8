package dto

// RelayPushRequest 投递加密批次到中继信箱
// 中继只见密文，信箱按 (vaultId, recipientId) 寻址
type RelayPushRequest struct {
	VaultID     string `json:"vaultId" form:"vaultId" binding:"required"`
	RecipientID string `json:"recipientId" form:"recipientId" binding:"required"`
	MessageID   string `json:"messageId" form:"messageId" binding:"required"`
	SenderID    string `json:"senderId" form:"senderId" binding:"required"`
	Payload     string `json:"payload" form:"payload" binding:"required"` // base64，密封的 SyncBatchMessage
}

// RelayPullRequest 拉取本设备信箱内的全部待收消息
type RelayPullRequest struct {
	VaultID     string `json:"vaultId" form:"vaultId" binding:"required"`
	RecipientID string `json:"recipientId" form:"recipientId" binding:"required"`
}

// RelayAckRequest 确认并删除已取走的消息
type RelayAckRequest struct {
	VaultID     string   `json:"vaultId" form:"vaultId" binding:"required"`
	RecipientID string   `json:"recipientId" form:"recipientId" binding:"required"`
	MessageIDs  []string `json:"messageIds" form:"messageIds" binding:"required"`
}

// RelayMessageDTO 信箱中的单条消息
type RelayMessageDTO struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
	Payload   string `json:"payload"` // base64
}

// RelayTokenRequest 中继访问令牌申请参数
type RelayTokenRequest struct {
	VaultID  string `json:"vaultId" form:"vaultId" binding:"required"`
	DeviceID string `json:"deviceId" form:"deviceId" binding:"required"`
}

// RelayTokenDTO 中继访问令牌响应对象
type RelayTokenDTO struct {
	Token string `json:"token"`
}
