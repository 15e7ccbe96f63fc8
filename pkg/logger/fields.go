package logger

// 统一的日志字段命名常量
// 用于确保整个项目中日志字段命名的一致性，便于日志查询和分析
const (
	// FieldTraceID 追踪 ID 字段
	FieldTraceID = "traceId"

	// FieldVault 金库 ID 字段
	FieldVault = "vaultId"

	// FieldDevice 设备 ID 字段
	FieldDevice = "deviceId"

	// FieldPeer 对端设备 ID 字段
	FieldPeer = "peerId"

	// FieldSessionID 同步会话 ID 字段
	FieldSessionID = "sessionId"

	// FieldEntity 实体 ID 字段
	FieldEntity = "entityId"

	// FieldFieldPath 字段路径字段
	FieldFieldPath = "fieldPath"

	// FieldClock 逻辑时钟字段
	FieldClock = "clock"

	// FieldAction 操作类型字段
	FieldAction = "action"

	// FieldState 会话状态字段
	FieldState = "state"

	// FieldRecords 记录数量字段
	FieldRecords = "records"

	// FieldSequence 批次序号字段
	FieldSequence = "sequenceNo"

	// FieldDuration 耗时字段
	FieldDuration = "duration"

	// FieldError 错误信息字段
	FieldError = "error"
)
