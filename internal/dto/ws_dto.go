package dto

// WebSocketAction WebSocket text message type
// WebSocket 文本消息类型
type WebSocketAction = string

const (
	// Handshake related
	// 握手相关

	// SyncHello device handshake with signed identity proof
	// SyncHello 携带签名身份证明的设备握手
	SyncHello WebSocketAction = "SyncHello"
	// SyncHelloAck handshake accepted, carries responder clocks
	// SyncHelloAck 握手通过，携带应答方时钟
	SyncHelloAck WebSocketAction = "SyncHelloAck"

	// Exchange related
	// 交换相关

	// SyncManifest announces the cursor and record count to be sent
	// SyncManifest 宣告游标与将要发送的记录数
	SyncManifest WebSocketAction = "SyncManifest"
	// SyncBatch encrypted change record batch
	// SyncBatch 加密的变更记录批次
	SyncBatch WebSocketAction = "SyncBatch"
	// SyncPull requests the next reverse direction batch
	// SyncPull 请求反向的下一个批次
	SyncPull WebSocketAction = "SyncPull"
	// SyncAck confirms applied records up to a vector cursor
	// SyncAck 确认已应用至某向量游标
	SyncAck WebSocketAction = "SyncAck"
	// SyncComplete both directions drained, session reconciled
	// SyncComplete 双向交换完成，会话收敛
	SyncComplete WebSocketAction = "SyncComplete"
	// SyncError fatal session error
	// SyncError 会话级错误
	SyncError WebSocketAction = "SyncError"
)

// ProtocolVersion 同步协议版本，主版本不同的设备拒绝互同步
const ProtocolVersion = "v1.2.0"
