package service

import (
	"context"
	"testing"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/dao"
	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/internal/model"
	"github.com/haierkeys/vault-device-sync/pkg/code"
	"github.com/haierkeys/vault-device-sync/pkg/vclock"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testNode 一台测试设备的完整服务栈
type testNode struct {
	dao       *dao.Dao
	identity  *domain.LocalIdentity
	changeSvc ChangeLogService
	resolver  ResolverService
	deviceRepo domain.DeviceRepository
	snapshotRepo domain.SnapshotRepository
}

func newTestNode(t *testing.T, vaultID string) *testNode {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.Nil(t, err)
	require.Nil(t, model.AutoMigrateAll(db))

	d := dao.New(db, nil, nil)
	changeRepo := dao.NewChangeLogRepository(d)
	deviceRepo := dao.NewDeviceRepository(d)
	identityRepo := dao.NewIdentityRepository(d)
	snapshotRepo := dao.NewSnapshotRepository(d)

	resolver := NewResolverService(changeRepo, snapshotRepo, nil)
	changeSvc := NewChangeLogService(changeRepo, deviceRepo, identityRepo, resolver, 8, nil)

	identity := newTestIdentity(t, vaultID)
	saved, err := identityRepo.Save(context.Background(), identity)
	require.Nil(t, err)
	_, err = deviceRepo.Create(context.Background(), &domain.DeviceIdentity{
		VaultID:       vaultID,
		DeviceID:      saved.DeviceID,
		BoxPublicKey:  saved.BoxPublicKey,
		SignPublicKey: saved.SignPublicKey,
		TrustState:    domain.TrustStateTrusted,
		PairedAt:      time.Now(),
	})
	require.Nil(t, err)

	return &testNode{
		dao:          d,
		identity:     saved,
		changeSvc:    changeSvc,
		resolver:     resolver,
		deviceRepo:   deviceRepo,
		snapshotRepo: snapshotRepo,
	}
}

// trust 在本节点登记对端设备
func (n *testNode) trust(t *testing.T, peer *domain.LocalIdentity) {
	_, err := n.deviceRepo.Create(context.Background(), &domain.DeviceIdentity{
		VaultID:       peer.VaultID,
		DeviceID:      peer.DeviceID,
		BoxPublicKey:  peer.BoxPublicKey,
		SignPublicKey: peer.SignPublicKey,
		TrustState:    domain.TrustStateTrusted,
		PairedAt:      time.Now(),
	})
	require.Nil(t, err)
}

func TestRecordChangeTicksClock(t *testing.T) {
	node := newTestNode(t, "v1")
	ctx := context.Background()

	r1, err := node.changeSvc.RecordChange(ctx, "v1", "transaction", "tx-1", "amount", "12.50")
	require.Nil(t, err)
	assert.Equal(t, uint64(1), r1.LogicalClock)
	assert.Equal(t, uint64(1), r1.CausalDeps.Get(node.identity.DeviceID))

	r2, err := node.changeSvc.RecordChange(ctx, "v1", "transaction", "tx-1", "amount", "13.00")
	require.Nil(t, err)
	assert.Equal(t, uint64(2), r2.LogicalClock)
	assert.True(t, r1.HappensBefore(r2))

	// 快照随写入同步物化
	snap, err := node.snapshotRepo.Get(ctx, "v1", "transaction", "tx-1")
	require.Nil(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "13.00", snap.Fields["amount"].Value)
}

func TestRecordDeleteWritesTombstone(t *testing.T) {
	node := newTestNode(t, "v1")
	ctx := context.Background()

	_, err := node.changeSvc.RecordChange(ctx, "v1", "transaction", "tx-1", "amount", "12.50")
	require.Nil(t, err)
	r, err := node.changeSvc.RecordDelete(ctx, "v1", "transaction", "tx-1")
	require.Nil(t, err)
	assert.True(t, r.IsTombstone())
	assert.True(t, r.IsLifecycle())

	snap, err := node.snapshotRepo.Get(ctx, "v1", "transaction", "tx-1")
	require.Nil(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.Deleted)
}

func TestIngestBatchDedup(t *testing.T) {
	node := newTestNode(t, "v1")
	peer := newTestIdentity(t, "v1")
	node.trust(t, peer)
	ctx := context.Background()

	records := []*domain.ChangeRecord{
		{EntityType: "transaction", EntityID: "tx-9", FieldPath: "amount", Value: "7.00",
			DeviceID: peer.DeviceID, LogicalClock: 1, CausalDeps: vclock.Clock{peer.DeviceID: 1}, WallClockHint: 1000},
	}

	result, err := node.changeSvc.IngestBatch(ctx, "v1", peer.DeviceID, nil, records)
	require.Nil(t, err)
	assert.Equal(t, 1, result.Applied)

	// 重放同一批，全部判重丢弃
	result, err = node.changeSvc.IngestBatch(ctx, "v1", peer.DeviceID, nil, records)
	require.Nil(t, err)
	assert.Equal(t, 0, result.Applied)
	assert.Equal(t, 1, result.Duplicates)
}

func TestIngestBatchBuffersMissingDeps(t *testing.T) {
	node := newTestNode(t, "v1")
	peer := newTestIdentity(t, "v1")
	third := newTestIdentity(t, "v1")
	node.trust(t, peer)
	node.trust(t, third)
	ctx := context.Background()

	// 该记录依赖 third 设备的 1 号记录，本地还没见过
	dependent := &domain.ChangeRecord{
		EntityType: "transaction", EntityID: "tx-1", FieldPath: "amount", Value: "20.00",
		DeviceID: peer.DeviceID, LogicalClock: 1,
		CausalDeps:    vclock.Clock{peer.DeviceID: 1, third.DeviceID: 1},
		WallClockHint: 2000,
	}
	result, err := node.changeSvc.IngestBatch(ctx, "v1", peer.DeviceID, nil, []*domain.ChangeRecord{dependent})
	require.Nil(t, err)
	assert.Equal(t, 0, result.Applied)
	assert.Equal(t, 1, result.Buffered)
	assert.Equal(t, 1, node.changeSvc.PendingCount("v1"))

	// 依赖到达后缓冲记录跟着落库
	missing := &domain.ChangeRecord{
		EntityType: "transaction", EntityID: "tx-1", FieldPath: "note", Value: "groceries",
		DeviceID: third.DeviceID, LogicalClock: 1,
		CausalDeps:    vclock.Clock{third.DeviceID: 1},
		WallClockHint: 1500,
	}
	result, err = node.changeSvc.IngestBatch(ctx, "v1", third.DeviceID, nil, []*domain.ChangeRecord{missing})
	require.Nil(t, err)
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, 0, result.Buffered)
	assert.Equal(t, 0, node.changeSvc.PendingCount("v1"))

	clocks, err := node.changeSvc.LocalClocks(ctx, "v1")
	require.Nil(t, err)
	assert.Equal(t, uint64(1), clocks.Get(peer.DeviceID))
	assert.Equal(t, uint64(1), clocks.Get(third.DeviceID))
}

func TestIngestBatchBufferOverflow(t *testing.T) {
	node := newTestNode(t, "v1") // 缓冲上限 8
	peer := newTestIdentity(t, "v1")
	ghost := newTestIdentity(t, "v1")
	node.trust(t, peer)
	ctx := context.Background()

	var records []*domain.ChangeRecord
	for i := uint64(1); i <= 9; i++ {
		records = append(records, &domain.ChangeRecord{
			EntityType: "transaction", EntityID: "tx-1", FieldPath: "amount", Value: "1",
			DeviceID: peer.DeviceID, LogicalClock: i,
			// 依赖永远无法满足的幽灵设备分量
			CausalDeps: vclock.Clock{peer.DeviceID: i, ghost.DeviceID: 99},
		})
	}

	_, err := node.changeSvc.IngestBatch(ctx, "v1", peer.DeviceID, nil, records)
	require.NotNil(t, err)
	c, ok := err.(*code.Code)
	require.True(t, ok)
	assert.Equal(t, code.ErrorDependencyBufferOverflow.Code(), c.Code())
}

func TestIngestBatchClockRegressionQuarantine(t *testing.T) {
	node := newTestNode(t, "v1")
	peer := newTestIdentity(t, "v1")
	node.trust(t, peer)
	ctx := context.Background()

	// 对端声明时钟 1..5 已被压缩，时钟 6 据此直接应用
	good := []*domain.ChangeRecord{
		{EntityType: "transaction", EntityID: "tx-1", FieldPath: "amount", Value: "5",
			DeviceID: peer.DeviceID, LogicalClock: 6, CausalDeps: vclock.Clock{peer.DeviceID: 6}},
	}
	result, err := node.changeSvc.IngestBatch(ctx, "v1", peer.DeviceID, vclock.Clock{peer.DeviceID: 5}, good)
	require.Nil(t, err)
	assert.Equal(t, 1, result.Applied)

	// 同设备重用已见过的时钟值发来新记录，且没有压缩水位能解释缺失
	regressed := []*domain.ChangeRecord{
		{EntityType: "transaction", EntityID: "tx-2", FieldPath: "amount", Value: "9",
			DeviceID: peer.DeviceID, LogicalClock: 4, CausalDeps: vclock.Clock{peer.DeviceID: 4}},
	}
	_, err = node.changeSvc.IngestBatch(ctx, "v1", peer.DeviceID, nil, regressed)
	require.NotNil(t, err)
	c, ok := err.(*code.Code)
	require.True(t, ok)
	assert.Equal(t, code.ErrorClockRegression.Code(), c.Code())

	// 发送方已被隔离，后续批次直接拒绝
	device, err := node.deviceRepo.GetByDeviceID(ctx, "v1", peer.DeviceID)
	require.Nil(t, err)
	assert.Equal(t, domain.TrustStateQuarantined, device.TrustState)

	_, err = node.changeSvc.IngestBatch(ctx, "v1", peer.DeviceID, nil, good)
	require.NotNil(t, err)
	c, ok = err.(*code.Code)
	require.True(t, ok)
	assert.Equal(t, code.ErrorDeviceQuarantined.Code(), c.Code())
}

func TestIngestBatchRejectsRevokedSender(t *testing.T) {
	node := newTestNode(t, "v1")
	peer := newTestIdentity(t, "v1")
	node.trust(t, peer)
	ctx := context.Background()

	// 吊销前摄入的历史记录
	result, err := node.changeSvc.IngestBatch(ctx, "v1", peer.DeviceID, nil, []*domain.ChangeRecord{
		{EntityType: "transaction", EntityID: "tx-1", FieldPath: "amount", Value: "1",
			DeviceID: peer.DeviceID, LogicalClock: 1, CausalDeps: vclock.Clock{peer.DeviceID: 1}},
	})
	require.Nil(t, err)
	assert.Equal(t, 1, result.Applied)

	require.Nil(t, node.deviceRepo.UpdateTrustState(ctx, "v1", peer.DeviceID, domain.TrustStateRevoked))

	_, err = node.changeSvc.IngestBatch(ctx, "v1", peer.DeviceID, nil, []*domain.ChangeRecord{
		{EntityType: "transaction", EntityID: "tx-1", FieldPath: "amount", Value: "2",
			DeviceID: peer.DeviceID, LogicalClock: 2, CausalDeps: vclock.Clock{peer.DeviceID: 2}},
	})
	require.NotNil(t, err)
	c, ok := err.(*code.Code)
	require.True(t, ok)
	assert.Equal(t, code.ErrorDeviceRevoked.Code(), c.Code())

	// 吊销只拒绝后续批次，已有历史保留
	clocks, err := node.changeSvc.LocalClocks(ctx, "v1")
	require.Nil(t, err)
	assert.Equal(t, uint64(1), clocks.Get(peer.DeviceID))
}

// peerRecord 构造一条只依赖自身历史的对端记录
func peerRecord(peer *domain.LocalIdentity, clock uint64, value string) *domain.ChangeRecord {
	return &domain.ChangeRecord{
		EntityType: "transaction", EntityID: "tx-1", FieldPath: "amount", Value: value,
		DeviceID: peer.DeviceID, LogicalClock: clock,
		CausalDeps:    vclock.Clock{peer.DeviceID: clock},
		WallClockHint: int64(clock) * 1000,
	}
}

func TestIngestBatchBuffersOwnDeviceGap(t *testing.T) {
	node := newTestNode(t, "v1")
	peer := newTestIdentity(t, "v1")
	node.trust(t, peer)
	ctx := context.Background()

	// 时钟 2 先到，前驱 1 还没见过，暂存而不是直接应用
	result, err := node.changeSvc.IngestBatch(ctx, "v1", peer.DeviceID, nil, []*domain.ChangeRecord{
		peerRecord(peer, 2, "2.00"),
	})
	require.Nil(t, err)
	assert.Equal(t, 0, result.Applied)
	assert.Equal(t, 1, result.Buffered)

	// 迟到的时钟 1 补齐缺口，两条一起落库，发送方信任不受影响
	result, err = node.changeSvc.IngestBatch(ctx, "v1", peer.DeviceID, nil, []*domain.ChangeRecord{
		peerRecord(peer, 1, "1.00"),
	})
	require.Nil(t, err)
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, 0, result.Buffered)

	device, err := node.deviceRepo.GetByDeviceID(ctx, "v1", peer.DeviceID)
	require.Nil(t, err)
	assert.Equal(t, domain.TrustStateTrusted, device.TrustState)

	clocks, err := node.changeSvc.LocalClocks(ctx, "v1")
	require.Nil(t, err)
	assert.Equal(t, uint64(2), clocks.Get(peer.DeviceID))
}

func TestIngestBatchReorderedAndReplayedDelivery(t *testing.T) {
	node := newTestNode(t, "v1")
	peer := newTestIdentity(t, "v1")
	node.trust(t, peer)
	ctx := context.Background()

	// 中继按消息标识排序投递，后发的批次可能先到
	late := []*domain.ChangeRecord{peerRecord(peer, 3, "3.00"), peerRecord(peer, 4, "4.00")}
	early := []*domain.ChangeRecord{peerRecord(peer, 1, "1.00"), peerRecord(peer, 2, "2.00")}

	result, err := node.changeSvc.IngestBatch(ctx, "v1", peer.DeviceID, nil, late)
	require.Nil(t, err)
	assert.Equal(t, 0, result.Applied)
	assert.Equal(t, 2, result.Buffered)

	result, err = node.changeSvc.IngestBatch(ctx, "v1", peer.DeviceID, nil, early)
	require.Nil(t, err)
	assert.Equal(t, 4, result.Applied)
	assert.Equal(t, 0, result.Buffered)

	// 信箱重投已应用过的批次，全部判重丢弃
	result, err = node.changeSvc.IngestBatch(ctx, "v1", peer.DeviceID, nil, late)
	require.Nil(t, err)
	assert.Equal(t, 0, result.Applied)
	assert.Equal(t, 2, result.Duplicates)

	device, err := node.deviceRepo.GetByDeviceID(ctx, "v1", peer.DeviceID)
	require.Nil(t, err)
	assert.Equal(t, domain.TrustStateTrusted, device.TrustState)

	clocks, err := node.changeSvc.LocalClocks(ctx, "v1")
	require.Nil(t, err)
	assert.Equal(t, uint64(4), clocks.Get(peer.DeviceID))
}

func TestIngestBatchDedupsPendingReplay(t *testing.T) {
	node := newTestNode(t, "v1")
	peer := newTestIdentity(t, "v1")
	node.trust(t, peer)
	ctx := context.Background()

	// 时钟 2 暂存后又被重投一次，缓冲内只保留一份
	result, err := node.changeSvc.IngestBatch(ctx, "v1", peer.DeviceID, nil, []*domain.ChangeRecord{
		peerRecord(peer, 2, "2.00"),
	})
	require.Nil(t, err)
	assert.Equal(t, 1, result.Buffered)

	result, err = node.changeSvc.IngestBatch(ctx, "v1", peer.DeviceID, nil, []*domain.ChangeRecord{
		peerRecord(peer, 2, "2.00"),
		peerRecord(peer, 1, "1.00"),
	})
	require.Nil(t, err)
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, 0, result.Buffered)
	assert.Equal(t, 0, node.changeSvc.PendingCount("v1"))
}

func TestRecordsSinceCausalOrder(t *testing.T) {
	node := newTestNode(t, "v1")
	p1 := newTestIdentity(t, "v1")
	p2 := newTestIdentity(t, "v1")
	node.trust(t, p1)
	node.trust(t, p2)
	ctx := context.Background()

	// p2 的记录依赖 p1:1，p1 的后续记录又依赖 p2:1
	// 仓储按设备 ID 排序输出，无论两台设备的字典序如何都会违反因果序
	_, err := node.changeSvc.IngestBatch(ctx, "v1", p1.DeviceID, nil, []*domain.ChangeRecord{
		peerRecord(p1, 1, "1.00"),
	})
	require.Nil(t, err)
	_, err = node.changeSvc.IngestBatch(ctx, "v1", p2.DeviceID, nil, []*domain.ChangeRecord{
		{EntityType: "transaction", EntityID: "tx-1", FieldPath: "note", Value: "lunch",
			DeviceID: p2.DeviceID, LogicalClock: 1,
			CausalDeps: vclock.Clock{p2.DeviceID: 1, p1.DeviceID: 1}},
	})
	require.Nil(t, err)
	_, err = node.changeSvc.IngestBatch(ctx, "v1", p1.DeviceID, nil, []*domain.ChangeRecord{
		{EntityType: "transaction", EntityID: "tx-1", FieldPath: "amount", Value: "2.00",
			DeviceID: p1.DeviceID, LogicalClock: 2,
			CausalDeps: vclock.Clock{p1.DeviceID: 2, p2.DeviceID: 1}},
		{EntityType: "transaction", EntityID: "tx-1", FieldPath: "amount", Value: "3.00",
			DeviceID: p1.DeviceID, LogicalClock: 3,
			CausalDeps: vclock.Clock{p1.DeviceID: 3, p2.DeviceID: 1}},
	})
	require.Nil(t, err)

	records, err := node.changeSvc.RecordsSince(ctx, "v1", vclock.New())
	require.Nil(t, err)
	require.Len(t, records, 4)

	// 逐条回放：每条记录出现时其依赖必须已经出现过
	known := vclock.New()
	for _, r := range records {
		assert.True(t, depsSatisfied(r, known), "record %s out of causal order", r.Key())
		known.Merge(vclock.Clock{r.DeviceID: r.LogicalClock})
	}
}
