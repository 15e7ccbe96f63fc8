// Package domain 定义领域模型和接口
package domain

import (
	"context"

	"github.com/haierkeys/vault-device-sync/pkg/vclock"
)

// ChangeLogRepository 变更日志仓储接口
// 日志只追加，删除仅发生在压缩
type ChangeLogRepository interface {
	// Append 追加一条变更记录
	Append(ctx context.Context, record *ChangeRecord) (*ChangeRecord, error)

	// AppendBatch 在单个事务内追加一批变更记录
	AppendBatch(ctx context.Context, records []*ChangeRecord) error

	// GetByDeviceClock 根据设备与逻辑时钟获取记录，用于去重
	GetByDeviceClock(ctx context.Context, vaultID, deviceID string, clock uint64) (*ChangeRecord, error)

	// ExistsByDeviceClock 判断记录是否已存在
	ExistsByDeviceClock(ctx context.Context, vaultID, deviceID string, clock uint64) (bool, error)

	// ListSince 获取对端游标之后的所有记录，按 (设备, 时钟) 升序
	// cursor 中未出现的设备视为从 0 开始
	ListSince(ctx context.Context, vaultID string, cursor vclock.Clock) ([]*ChangeRecord, error)

	// ListByEntity 获取实体的全部记录
	ListByEntity(ctx context.Context, vaultID, entityType, entityID string) ([]*ChangeRecord, error)

	// ListByField 获取实体单个字段的全部记录
	ListByField(ctx context.Context, vaultID, entityType, entityID, fieldPath string) ([]*ChangeRecord, error)

	// ListEntityKeys 列出日志中出现过的全部实体键
	ListEntityKeys(ctx context.Context, vaultID string) ([]*ChangeRecord, error)

	// MaxClocks 返回日志中每个设备的最大逻辑时钟
	MaxClocks(ctx context.Context, vaultID string) (vclock.Clock, error)

	// DeleteByIDs 物理删除指定记录，仅供压缩调用
	DeleteByIDs(ctx context.Context, vaultID string, ids []int64) error

	// Count 返回日志记录总数
	Count(ctx context.Context, vaultID string) (int64, error)
}

// DeviceRepository 设备注册表仓储接口
type DeviceRepository interface {
	// GetByDeviceID 根据设备ID获取设备
	GetByDeviceID(ctx context.Context, vaultID, deviceID string) (*DeviceIdentity, error)

	// Create 登记新设备
	Create(ctx context.Context, device *DeviceIdentity) (*DeviceIdentity, error)

	// UpdateTrustState 更新设备信任状态
	UpdateTrustState(ctx context.Context, vaultID, deviceID string, state TrustState) error

	// UpdateBoxPublicKey 更新加密公钥（密钥轮换）
	UpdateBoxPublicKey(ctx context.Context, vaultID, deviceID string, boxPublicKey []byte) error

	// UpdateLastClock 更新已见最大逻辑时钟
	UpdateLastClock(ctx context.Context, vaultID, deviceID string, clock uint64) error

	// UpdateAckClock 更新对端已确认的向量游标
	UpdateAckClock(ctx context.Context, vaultID, deviceID string, ackClock vclock.Clock) error

	// UpdateLastSeen 更新最近联机时间
	UpdateLastSeen(ctx context.Context, vaultID, deviceID string) error

	// UpdateEndpoint 更新直连地址
	UpdateEndpoint(ctx context.Context, vaultID, deviceID, endpoint string) error

	// List 获取金库的全部已知设备
	List(ctx context.Context, vaultID string) ([]*DeviceIdentity, error)

	// ListByTrustState 按信任状态获取设备
	ListByTrustState(ctx context.Context, vaultID string, state TrustState) ([]*DeviceIdentity, error)
}

// IdentityRepository 本设备身份仓储接口
type IdentityRepository interface {
	// Get 获取金库的本设备身份
	Get(ctx context.Context, vaultID string) (*LocalIdentity, error)

	// Save 保存本设备身份（创建或密钥轮换后更新）
	Save(ctx context.Context, identity *LocalIdentity) (*LocalIdentity, error)

	// ListVaults 列出本节点已置备身份的全部金库
	ListVaults(ctx context.Context) ([]string, error)
}

// SnapshotRepository 实体快照仓储接口
type SnapshotRepository interface {
	// Get 获取实体快照
	Get(ctx context.Context, vaultID, entityType, entityID string) (*EntitySnapshot, error)

	// Upsert 写入或更新实体快照
	Upsert(ctx context.Context, snapshot *EntitySnapshot) error

	// ListByType 获取某实体类型的全部快照
	ListByType(ctx context.Context, vaultID, entityType string) ([]*EntitySnapshot, error)

	// Delete 删除实体快照
	Delete(ctx context.Context, vaultID, entityType, entityID string) error
}

// SessionRepository 同步会话仓储接口
type SessionRepository interface {
	// Create 记录新会话
	Create(ctx context.Context, session *SyncSession) (*SyncSession, error)

	// Update 更新会话状态与统计
	Update(ctx context.Context, session *SyncSession) error

	// GetLastByPeer 获取与对端的最近一次会话
	GetLastByPeer(ctx context.Context, vaultID, peerID string) (*SyncSession, error)

	// List 分页获取会话历史，按开始时间降序
	List(ctx context.Context, vaultID string, page, pageSize int) ([]*SyncSession, int64, error)
}

// SyncStateRepository 金库同步状态仓储接口
type SyncStateRepository interface {
	// Get 获取金库同步状态，不存在时返回 nil
	Get(ctx context.Context, vaultID string) (*VaultSyncState, error)

	// Save 写入或更新金库同步状态
	Save(ctx context.Context, state *VaultSyncState) error
}
