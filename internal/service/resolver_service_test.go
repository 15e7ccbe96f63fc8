package service

import (
	"math/rand"
	"testing"

	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/pkg/vclock"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 构造一条并发写入记录，依赖向量只含自身分量
func concurrentRecord(deviceID string, clock uint64, value string, wallClock int64) *domain.ChangeRecord {
	return &domain.ChangeRecord{
		VaultID:       "v1",
		EntityType:    "transaction",
		EntityID:      "tx-1",
		FieldPath:     "amount",
		Value:         value,
		DeviceID:      deviceID,
		LogicalClock:  clock,
		CausalDeps:    vclock.Clock{deviceID: clock},
		WallClockHint: wallClock,
	}
}

func TestFoldFieldCausalSuccessorWins(t *testing.T) {
	// dev-b 看到了 dev-a 的写入之后才写，即使墙钟更早也必须获胜
	a := concurrentRecord("dev-a", 1, "100", 5000)
	b := &domain.ChangeRecord{
		VaultID: "v1", EntityType: "transaction", EntityID: "tx-1", FieldPath: "amount",
		Value: "200", DeviceID: "dev-b", LogicalClock: 1,
		CausalDeps:    vclock.Clock{"dev-a": 1, "dev-b": 1},
		WallClockHint: 1000,
	}

	winner := foldField([]*domain.ChangeRecord{a, b})
	require.NotNil(t, winner)
	assert.Equal(t, "200", winner.Value)

	// 输入顺序颠倒结果不变
	winner = foldField([]*domain.ChangeRecord{b, a})
	assert.Equal(t, "200", winner.Value)
}

func TestFoldFieldConcurrentTiebreak(t *testing.T) {
	// 并发写入按墙钟提示裁决
	a := concurrentRecord("dev-a", 1, "100", 2000)
	b := concurrentRecord("dev-b", 1, "200", 1000)
	winner := foldField([]*domain.ChangeRecord{a, b})
	assert.Equal(t, "100", winner.Value)

	// 墙钟相同时设备 ID 字典序大者胜
	c := concurrentRecord("dev-a", 2, "300", 1000)
	d := concurrentRecord("dev-z", 1, "400", 1000)
	winner = foldField([]*domain.ChangeRecord{c, d})
	assert.Equal(t, "400", winner.Value)
}

func TestFoldEntityTombstone(t *testing.T) {
	// 删除后的并发编辑：墙钟更大的编辑压过墓碑，实体复活
	edit := concurrentRecord("dev-a", 2, "100", 3000)
	edit.FieldPath = domain.LifecycleFieldPath
	edit.Value = "alive"
	tomb := concurrentRecord("dev-b", 2, domain.TombstoneValue, 2000)
	tomb.FieldPath = domain.LifecycleFieldPath
	amount := concurrentRecord("dev-a", 1, "42", 1000)

	fields, deleted := foldEntity([]*domain.ChangeRecord{amount, tomb, edit})
	assert.False(t, deleted)
	assert.Equal(t, "42", fields["amount"].Value)

	// 墓碑墙钟更大时实体删除
	tomb2 := concurrentRecord("dev-b", 3, domain.TombstoneValue, 9000)
	tomb2.FieldPath = domain.LifecycleFieldPath
	_, deleted = foldEntity([]*domain.ChangeRecord{amount, tomb2, edit})
	assert.True(t, deleted)
}

func TestFoldEntityTombstoneVsConcurrentFieldEdit(t *testing.T) {
	// dev-a 删除实体，dev-b 并发改金额
	// 墓碑按生命周期字段独立裁决，金额编辑的墙钟更大也救不回实体
	tomb := concurrentRecord("dev-a", 5, domain.TombstoneValue, 3000)
	tomb.FieldPath = domain.LifecycleFieldPath
	edit := concurrentRecord("dev-b", 4, "99.00", 9000)

	fields, deleted := foldEntity([]*domain.ChangeRecord{edit, tomb})
	assert.True(t, deleted)
	// 金额字段照常折叠保留，实体若被后续编辑复活时仍可见
	assert.Equal(t, "99.00", fields["amount"].Value)

	// 到达顺序颠倒结果不变
	fields, deleted = foldEntity([]*domain.ChangeRecord{tomb, edit})
	assert.True(t, deleted)
	assert.Equal(t, "99.00", fields["amount"].Value)
}

// 验证折叠结果与记录到达顺序无关

func TestPropertyFoldOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("fold winner is permutation invariant", prop.ForAll(
		func(seeds []int64, seed int64) bool {
			if len(seeds) == 0 {
				return true
			}
			devices := []string{"dev-a", "dev-b", "dev-c"}
			clocks := map[string]uint64{}
			records := make([]*domain.ChangeRecord, 0, len(seeds))
			for i, s := range seeds {
				dev := devices[abs(s)%int64(len(devices))]
				clocks[dev]++
				records = append(records, concurrentRecord(dev, clocks[dev], "v", s%7))
				_ = i
			}

			base := foldField(records)

			shuffled := make([]*domain.ChangeRecord, len(records))
			copy(shuffled, records)
			r := rand.New(rand.NewSource(seed))
			r.Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})

			other := foldField(shuffled)
			return base.Key() == other.Key()
		},
		gen.SliceOf(gen.Int64Range(0, 1<<30)),
		gen.Int64(),
	))

	properties.Property("fold is idempotent", prop.ForAll(
		func(seeds []int64) bool {
			if len(seeds) == 0 {
				return true
			}
			records := make([]*domain.ChangeRecord, 0, len(seeds))
			for i, s := range seeds {
				records = append(records, concurrentRecord("dev-a", uint64(i+1), "v", s%5))
			}
			first := foldField(records)
			second := foldField(append([]*domain.ChangeRecord{first}, records...))
			return first.Key() == second.Key()
		},
		gen.SliceOf(gen.Int64Range(0, 1<<30)),
	))

	properties.TestingRun(t)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// 两台设备并发改同一笔账的不同字段时双方都保留

func TestFoldEntityFieldIndependence(t *testing.T) {
	amount := concurrentRecord("dev-a", 1, "55.00", 1000)
	note := concurrentRecord("dev-b", 1, "dinner", 2000)
	note.FieldPath = "note"

	fields, deleted := foldEntity([]*domain.ChangeRecord{amount, note})
	assert.False(t, deleted)
	assert.Equal(t, "55.00", fields["amount"].Value)
	assert.Equal(t, "dinner", fields["note"].Value)
}
