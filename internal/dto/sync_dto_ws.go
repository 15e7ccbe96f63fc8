// Package dto 定义数据传输对象（请求参数和响应结构体）
package dto

import "github.com/haierkeys/vault-device-sync/pkg/vclock"

// SyncHelloMessage device handshake message
// SyncHelloMessage 设备握手消息
// Signature 为 ed25519 对 vaultId|deviceId|protocolVersion|timestamp 规范串的签名
type SyncHelloMessage struct {
	VaultID         string       `json:"vaultId" form:"vaultId" binding:"required"`
	DeviceID        string       `json:"deviceId" form:"deviceId" binding:"required"`
	DisplayName     string       `json:"displayName" form:"displayName"`
	ProtocolVersion string       `json:"protocolVersion" form:"protocolVersion" binding:"required"`
	Timestamp       int64        `json:"timestamp" form:"timestamp" binding:"required"`
	Signature       string       `json:"signature" form:"signature" binding:"required"` // base64
	Clocks          vclock.Clock `json:"clocks" form:"clocks"`                          // 发起方已见向量时钟
	FullResync      bool         `json:"fullResync" form:"fullResync"`                  // 请求全量重同步
}

// SyncHelloAckMessage handshake response
// SyncHelloAckMessage 握手应答
type SyncHelloAckMessage struct {
	SessionID       string       `json:"sessionId"`
	DeviceID        string       `json:"deviceId"`
	ProtocolVersion string       `json:"protocolVersion"`
	Clocks          vclock.Clock `json:"clocks"`    // 应答方已见向量时钟
	BaseClock       vclock.Clock `json:"baseClock"` // 应答方压缩水位，水位之下不再有完整日志
	FullResync      bool         `json:"fullResync"`
}

// SyncManifestMessage exchange manifest
// SyncManifestMessage 本方向将要发送的记录清单
type SyncManifestMessage struct {
	SessionID   string       `json:"sessionId" form:"sessionId" binding:"required"`
	Cursor      vclock.Clock `json:"cursor" form:"cursor"`       // 对端确认过的游标
	BaseClock   vclock.Clock `json:"baseClock" form:"baseClock"` // 发送方压缩水位
	RecordCount int          `json:"recordCount" form:"recordCount"`
	FullResync  bool         `json:"fullResync" form:"fullResync"` // 游标早于压缩水位时置位
}

// SyncBatchMessage encrypted batch of change records
// SyncBatchMessage 变更记录的加密批次
// Ciphertext 为 box 密封的 ChangeRecordDTO 数组 JSON
// Signature 为发送方对 senderId|sessionId|sequenceNo|ciphertext 的签名
type SyncBatchMessage struct {
	SessionID  string `json:"sessionId" form:"sessionId" binding:"required"`
	SenderID   string `json:"senderId" form:"senderId" binding:"required"`
	SequenceNo int    `json:"sequenceNo" form:"sequenceNo"`
	Final      bool   `json:"final" form:"final"` // 本方向最后一批
	Ciphertext string `json:"ciphertext" form:"ciphertext" binding:"required"` // base64
	Signature  string `json:"signature" form:"signature" binding:"required"`   // base64
}

// SyncAckMessage batch receipt confirmation
// SyncAckMessage 批次回执
// 应答侧整段暂存批次，AckClock 与 Applied 在收尾提交前为零值
type SyncAckMessage struct {
	SessionID string       `json:"sessionId" form:"sessionId" binding:"required"`
	AckClock  vclock.Clock `json:"ackClock" form:"ackClock"` // 已持久化至的向量游标
	Received  int          `json:"received" form:"received"` // 会话内已暂存的记录数
	Applied   int          `json:"applied" form:"applied"`
	Buffered  int          `json:"buffered" form:"buffered"` // 因果依赖未满足而暂存的记录数
}

// SyncPullMessage requests the next reverse direction batch
// SyncPullMessage 请求反向的下一个批次，游标之后的记录由应答方分批密封返回
type SyncPullMessage struct {
	SessionID  string       `json:"sessionId" form:"sessionId" binding:"required"`
	Cursor     vclock.Clock `json:"cursor" form:"cursor"` // 发起方已见游标，仅首个请求携带
	SequenceNo int          `json:"sequenceNo" form:"sequenceNo"`
	FullResync bool         `json:"fullResync" form:"fullResync"`
}

// SyncCompleteMessage session reconciled
// SyncCompleteMessage 会话收敛通知，应答方在回显中携带提交结果
type SyncCompleteMessage struct {
	SessionID string       `json:"sessionId" form:"sessionId" binding:"required"`
	AckClock  vclock.Clock `json:"ackClock" form:"ackClock"`
	Applied   int          `json:"applied" form:"applied"`
	Buffered  int          `json:"buffered" form:"buffered"`
}

// SyncErrorMessage fatal session error
// SyncErrorMessage 会话级错误通知
type SyncErrorMessage struct {
	SessionID string `json:"sessionId"`
	Code      int    `json:"code"`
	Reason    string `json:"reason"`
}

// ChangeRecordDTO wire form of a single change record, carried inside the sealed batch
// ChangeRecordDTO 单条变更记录的线上形态，承载于密封批次内部
type ChangeRecordDTO struct {
	EntityType    string       `json:"entityType"`
	EntityID      string       `json:"entityId"`
	FieldPath     string       `json:"fieldPath"`
	Value         string       `json:"value"`
	DeviceID      string       `json:"deviceId"`
	LogicalClock  uint64       `json:"logicalClock"`
	CausalDeps    vclock.Clock `json:"causalDeps"`
	WallClockHint int64        `json:"wallClockHint"`
}
