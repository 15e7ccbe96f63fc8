// Package domain 定义领域模型和接口
package domain

import (
	"fmt"
	"time"

	"github.com/haierkeys/vault-device-sync/pkg/vclock"
)

// TombstoneValue 墓碑哨兵值
// 写入生命周期字段表示实体被删除，参与正常的因果 LWW 裁决
const TombstoneValue = "\x00__tombstone__"

// LifecycleFieldPath 实体生命周期字段
// 删除操作即对该字段写入墓碑
const LifecycleFieldPath = "_lifecycle"

// ChangeRecord 字段级变更记录
// 变更日志是同步的唯一事实来源，记录一经追加不可变更
type ChangeRecord struct {
	ID            int64
	VaultID       string
	EntityType    string
	EntityID      string
	FieldPath     string
	Value         string // JSON 序列化的字段值，墓碑为 TombstoneValue
	DeviceID      string
	LogicalClock  uint64
	CausalDeps    vclock.Clock // 含创建设备自身的时钟分量
	WallClockHint int64        // 毫秒墙钟，仅用于并发平局裁决
	CreatedAt     time.Time
}

// IsTombstone 判断是否为墓碑写入
func (r *ChangeRecord) IsTombstone() bool {
	return r.Value == TombstoneValue
}

// IsLifecycle 判断是否为生命周期字段写入
func (r *ChangeRecord) IsLifecycle() bool {
	return r.FieldPath == LifecycleFieldPath
}

// Key 返回记录的全局唯一键 "deviceID:clock"
// 用于去重，重放的记录凭此丢弃
func (r *ChangeRecord) Key() string {
	return fmt.Sprintf("%s:%d", r.DeviceID, r.LogicalClock)
}

// EntityKey 返回记录所属实体的键
func (r *ChangeRecord) EntityKey() string {
	return r.EntityType + "/" + r.EntityID
}

// HappensBefore 判断 r 是否因果先于 other
// 依赖向量含自身分量，因此纯分量比较即可判定
func (r *ChangeRecord) HappensBefore(other *ChangeRecord) bool {
	return r.CausalDeps.Compare(other.CausalDeps) == vclock.Before
}

// ConcurrentWith 判断两条记录是否并发
func (r *ChangeRecord) ConcurrentWith(other *ChangeRecord) bool {
	return r.CausalDeps.Compare(other.CausalDeps) == vclock.Concurrent
}

// Supersedes 判断 r 在 LWW 裁决中是否压过 other
// 因果后继直接获胜；并发时按 (墙钟提示, 设备ID) 降序裁决
// 两条记录必须针对同一实体的同一字段比较才有意义
func (r *ChangeRecord) Supersedes(other *ChangeRecord) bool {
	switch r.CausalDeps.Compare(other.CausalDeps) {
	case vclock.After:
		return true
	case vclock.Before, vclock.Equal:
		return false
	}
	// 并发：墙钟提示大者胜，仍相等时设备ID字典序大者胜
	if r.WallClockHint != other.WallClockHint {
		return r.WallClockHint > other.WallClockHint
	}
	return r.DeviceID > other.DeviceID
}
