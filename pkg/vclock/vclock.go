// Package vclock provides vector clock implementation
// Package vclock 提供向量时钟实现
// Used to detect causal dependency and concurrency between change records
// 用于检测变更记录之间的因果依赖和并发关系
package vclock

// Ordering 两个向量时钟之间的偏序关系
type Ordering int

const (
	// Equal 两个时钟完全相同
	Equal Ordering = iota
	// Before 本时钟因果先于对方
	Before
	// After 本时钟因果后于对方
	After
	// Concurrent 两个时钟并发，互不支配
	Concurrent
)

// String 返回偏序关系的文本表示
func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	}
	return "unknown"
}

// Clock 向量时钟，设备 ID 到逻辑时钟计数器的映射
// 缺失的分量视为 0
type Clock map[string]uint64

// New 创建空向量时钟
func New() Clock {
	return make(Clock)
}

// Get 获取指定设备的计数器分量，缺失返回 0
func (c Clock) Get(deviceID string) uint64 {
	if c == nil {
		return 0
	}
	return c[deviceID]
}

// Set 设置指定设备的计数器分量
func (c Clock) Set(deviceID string, v uint64) {
	c[deviceID] = v
}

// Tick 递增指定设备的计数器分量并返回新值
func (c Clock) Tick(deviceID string) uint64 {
	c[deviceID]++
	return c[deviceID]
}

// Clone 创建向量时钟的深拷贝
func (c Clock) Clone() Clock {
	out := make(Clock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge 将对方时钟合并进来，每个分量取最大值
func (c Clock) Merge(other Clock) {
	for k, v := range other {
		if v > c[k] {
			c[k] = v
		}
	}
}

// Dominates 判断本时钟是否逐分量 >= 对方时钟
func (c Clock) Dominates(other Clock) bool {
	for k, v := range other {
		if c.Get(k) < v {
			return false
		}
	}
	return true
}

// Compare 计算本时钟与对方时钟的偏序关系
// happens-before 是纯逐分量比较，无需环检测
func (c Clock) Compare(other Clock) Ordering {
	le := true // c <= other
	ge := true // c >= other

	for k, v := range c {
		if v > other.Get(k) {
			le = false
			break
		}
	}
	for k, v := range other {
		if v > c.Get(k) {
			ge = false
			break
		}
	}

	switch {
	case le && ge:
		return Equal
	case le:
		return Before
	case ge:
		return After
	}
	return Concurrent
}

// Equal 判断两个时钟是否完全相同
func (c Clock) Equal(other Clock) bool {
	return c.Compare(other) == Equal
}
