package code

// 通用码
var (
	Success             = NewSuss(200, lang{en: "Success", zh_cn: "成功"})
	ErrorInvalidParams  = NewError(400, lang{en: "Invalid params", zh_cn: "入参错误"})
	ErrorNotFound       = NewError(404, lang{en: "Not found", zh_cn: "找不到资源"})
	ErrorTooManyRequests = NewError(429, lang{en: "Too many requests", zh_cn: "请求过多"})
	ErrorServerInternal = NewError(500, lang{en: "Server internal error", zh_cn: "服务内部错误"})
	ErrorDBQuery        = NewError(10001, lang{en: "Database query error", zh_cn: "数据库查询错误"})
)

// 同步引擎错误码
var (
	// ErrorUnknownSender 发送方签名公钥不在设备注册表中，消息丢弃不重试
	ErrorUnknownSender = NewError(20001, lang{en: "Unknown sender device", zh_cn: "未知的发送设备"})
	// ErrorDeviceRevoked 设备已被吊销，其后续变更一律拒绝
	ErrorDeviceRevoked = NewError(20002, lang{en: "Device has been revoked", zh_cn: "设备已被吊销"})
	// ErrorDeviceQuarantined 设备因时钟回退被隔离，需重新配对
	ErrorDeviceQuarantined = NewError(20003, lang{en: "Device is quarantined, re-pairing required", zh_cn: "设备已被隔离，需要重新配对"})
	// ErrorAuthenticationFailed 密文被篡改或密钥不匹配，本条消息作废
	ErrorAuthenticationFailed = NewError(20004, lang{en: "Message authentication failed", zh_cn: "消息认证失败"})
	// ErrorMissingCausalDependency 因果依赖缺失，记录进入待定缓冲
	ErrorMissingCausalDependency = NewError(20005, lang{en: "Missing causal dependency", zh_cn: "缺失因果依赖"})
	// ErrorDependencyBufferOverflow 待定缓冲溢出，会话失败并触发全量重同步
	ErrorDependencyBufferOverflow = NewError(20006, lang{en: "Dependency buffer overflow, full resync required", zh_cn: "依赖缓冲溢出，需要全量重同步"})
	// ErrorClockRegression 对端逻辑时钟回退，疑似数据丢失或时钟损坏
	ErrorClockRegression = NewError(20007, lang{en: "Logical clock regression detected", zh_cn: "检测到逻辑时钟回退"})
	// ErrorTransportUnreachable 直连对端不可达
	ErrorTransportUnreachable = NewError(20008, lang{en: "Peer transport unreachable", zh_cn: "对端传输不可达"})
	// ErrorRelayRejected 中继拒绝（已满或不可用）
	ErrorRelayRejected = NewError(20009, lang{en: "Relay rejected the batch", zh_cn: "中继拒绝了该批次"})
	// ErrorSessionFailed 同步会话失败，下次触发时从 Idle 重新开始
	ErrorSessionFailed = NewError(20010, lang{en: "Sync session failed", zh_cn: "同步会话失败"})
	// ErrorDeviceNotFound 设备不存在
	ErrorDeviceNotFound = NewError(20011, lang{en: "Device not found", zh_cn: "设备不存在"})
	// ErrorPairTokenInvalid 配对令牌非法或签名验证失败
	ErrorPairTokenInvalid = NewError(20012, lang{en: "Invalid pairing token", zh_cn: "配对令牌无效"})
	// ErrorStaleCursor 对端确认游标早于压缩水位，增量同步无法服务
	ErrorStaleCursor = NewError(20013, lang{en: "Peer cursor is older than compaction horizon", zh_cn: "对端游标早于压缩水位"})
	// ErrorRotationRejected 密钥轮换断言验签失败
	ErrorRotationRejected = NewError(20014, lang{en: "Key rotation assertion rejected", zh_cn: "密钥轮换断言被拒绝"})
	// ErrorBatchMismatch 批次签名与载荷不一致
	ErrorBatchMismatch = NewError(20015, lang{en: "Batch signature mismatch", zh_cn: "批次签名不匹配"})
	// ErrorSyncDisabled 同步功能未启用
	ErrorSyncDisabled = NewError(20016, lang{en: "Device sync is disabled", zh_cn: "设备同步未启用"})
)

// 中继服务错误码
var (
	// ErrorNotRelayAuthToken 缺少中继访问令牌
	ErrorNotRelayAuthToken = NewError(30001, lang{en: "Relay auth token required", zh_cn: "缺少中继访问令牌"})
	// ErrorInvalidRelayAuthToken 中继访问令牌无效或过期
	ErrorInvalidRelayAuthToken = NewError(30002, lang{en: "Invalid relay auth token", zh_cn: "中继访问令牌无效"})
	// ErrorBatchTooLarge 批次超出中继大小限制
	ErrorBatchTooLarge = NewError(30003, lang{en: "Batch exceeds relay size limit", zh_cn: "批次超出中继大小限制"})
	// ErrorRelayStoreFull 收件队列已满
	ErrorRelayStoreFull = NewError(30004, lang{en: "Relay mailbox is full", zh_cn: "中继收件队列已满"})
	// ErrorInvalidStorageType 未知的存储后端类型
	ErrorInvalidStorageType = NewError(30005, lang{en: "Invalid storage type", zh_cn: "存储类型无效"})
)
