package domain

import "time"

// FieldPolicy 字段的冲突裁决策略
type FieldPolicy string

const (
	// PolicyScalarLWW 标量字段，默认策略，因果感知的 LWW
	PolicyScalarLWW FieldPolicy = "scalar_lww"
	// PolicyLifecycle 生命周期字段，墓碑参与同一裁决
	PolicyLifecycle FieldPolicy = "lifecycle"
)

// PolicyForField 返回字段对应的裁决策略
func PolicyForField(fieldPath string) FieldPolicy {
	if fieldPath == LifecycleFieldPath {
		return PolicyLifecycle
	}
	return PolicyScalarLWW
}

// ResolvedField 裁决后的字段终值及其胜者记录的出处
type ResolvedField struct {
	Value         string
	DeviceID      string
	LogicalClock  uint64
	WallClockHint int64
}

// EntitySnapshot 实体的物化当前态
// 由冲突裁决器对变更日志折叠得出，可随时重建
type EntitySnapshot struct {
	ID         int64
	VaultID    string
	EntityType string
	EntityID   string
	Fields     map[string]ResolvedField
	Deleted    bool // 生命周期裁决胜者为墓碑
	ResolvedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FieldValue 返回字段终值，实体已删除或字段不存在时 ok 为 false
func (s *EntitySnapshot) FieldValue(fieldPath string) (string, bool) {
	if s.Deleted {
		return "", false
	}
	f, ok := s.Fields[fieldPath]
	if !ok {
		return "", false
	}
	return f.Value, true
}
