package dao

import (
	"context"
	"testing"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/internal/model"
	"github.com/haierkeys/vault-device-sync/pkg/vclock"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDao(t *testing.T) *Dao {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := model.AutoMigrateAll(db); err != nil {
		t.Fatal(err)
	}
	return New(db, nil, nil)
}

func TestChangeLogAppendAndListSince(t *testing.T) {
	d := newTestDao(t)
	repo := NewChangeLogRepository(d)
	ctx := context.Background()

	records := []*domain.ChangeRecord{
		{VaultID: "v1", EntityType: "transaction", EntityID: "tx-1", FieldPath: "amount", Value: "12.50",
			DeviceID: "dev-a", LogicalClock: 1, CausalDeps: vclock.Clock{"dev-a": 1}, WallClockHint: 1000},
		{VaultID: "v1", EntityType: "transaction", EntityID: "tx-1", FieldPath: "amount", Value: "13.00",
			DeviceID: "dev-a", LogicalClock: 2, CausalDeps: vclock.Clock{"dev-a": 2}, WallClockHint: 2000},
		{VaultID: "v1", EntityType: "transaction", EntityID: "tx-1", FieldPath: "note", Value: "lunch",
			DeviceID: "dev-b", LogicalClock: 1, CausalDeps: vclock.Clock{"dev-b": 1}, WallClockHint: 1500},
	}
	err := repo.AppendBatch(ctx, records)
	require.Nil(t, err)

	// 空游标取回全部记录
	all, err := repo.ListSince(ctx, "v1", vclock.New())
	require.Nil(t, err)
	assert.Len(t, all, 3)

	// 游标之后只剩 dev-a:2 与 dev-b:1
	rest, err := repo.ListSince(ctx, "v1", vclock.Clock{"dev-a": 1})
	require.Nil(t, err)
	assert.Len(t, rest, 2)
	for _, r := range rest {
		if r.DeviceID == "dev-a" {
			assert.Equal(t, uint64(2), r.LogicalClock)
		}
	}

	// 反序列化后因果依赖保持不变
	got, err := repo.GetByDeviceClock(ctx, "v1", "dev-b", 1)
	require.Nil(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CausalDeps.Equal(vclock.Clock{"dev-b": 1}))

	exists, err := repo.ExistsByDeviceClock(ctx, "v1", "dev-a", 2)
	require.Nil(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByDeviceClock(ctx, "v1", "dev-a", 99)
	require.Nil(t, err)
	assert.False(t, exists)
}

func TestChangeLogMaxClocks(t *testing.T) {
	d := newTestDao(t)
	repo := NewChangeLogRepository(d)
	ctx := context.Background()

	err := repo.AppendBatch(ctx, []*domain.ChangeRecord{
		{VaultID: "v1", EntityType: "account", EntityID: "a1", FieldPath: "name", Value: "cash",
			DeviceID: "dev-a", LogicalClock: 3, CausalDeps: vclock.Clock{"dev-a": 3}},
		{VaultID: "v1", EntityType: "account", EntityID: "a1", FieldPath: "name", Value: "wallet",
			DeviceID: "dev-a", LogicalClock: 5, CausalDeps: vclock.Clock{"dev-a": 5}},
		{VaultID: "v1", EntityType: "account", EntityID: "a2", FieldPath: "name", Value: "bank",
			DeviceID: "dev-b", LogicalClock: 2, CausalDeps: vclock.Clock{"dev-b": 2}},
	})
	require.Nil(t, err)

	clocks, err := repo.MaxClocks(ctx, "v1")
	require.Nil(t, err)
	assert.Equal(t, uint64(5), clocks.Get("dev-a"))
	assert.Equal(t, uint64(2), clocks.Get("dev-b"))

	count, err := repo.Count(ctx, "v1")
	require.Nil(t, err)
	assert.Equal(t, int64(3), count)
}

func TestDeviceLastClockOnlyAdvances(t *testing.T) {
	d := newTestDao(t)
	repo := NewDeviceRepository(d)
	ctx := context.Background()

	_, err := repo.Create(ctx, &domain.DeviceIdentity{
		VaultID:    "v1",
		DeviceID:   "dev-a",
		TrustState: domain.TrustStateTrusted,
		PairedAt:   time.Now(),
	})
	require.Nil(t, err)

	require.Nil(t, repo.UpdateLastClock(ctx, "v1", "dev-a", 10))
	require.Nil(t, repo.UpdateLastClock(ctx, "v1", "dev-a", 4))

	got, err := repo.GetByDeviceID(ctx, "v1", "dev-a")
	require.Nil(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(10), got.LastClock)
}

func TestSnapshotUpsertRoundTrip(t *testing.T) {
	d := newTestDao(t)
	repo := NewSnapshotRepository(d)
	ctx := context.Background()

	snap := &domain.EntitySnapshot{
		VaultID:    "v1",
		EntityType: "transaction",
		EntityID:   "tx-1",
		Fields: map[string]domain.ResolvedField{
			"amount": {Value: "12.50", DeviceID: "dev-a", LogicalClock: 2, WallClockHint: 2000},
		},
		ResolvedAt: time.Now(),
	}
	require.Nil(t, repo.Upsert(ctx, snap))

	got, err := repo.Get(ctx, "v1", "transaction", "tx-1")
	require.Nil(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "12.50", got.Fields["amount"].Value)
	assert.False(t, got.Deleted)

	// 第二次 Upsert 走更新分支
	snap.Deleted = true
	require.Nil(t, repo.Upsert(ctx, snap))

	got, err = repo.Get(ctx, "v1", "transaction", "tx-1")
	require.Nil(t, err)
	assert.True(t, got.Deleted)
}
