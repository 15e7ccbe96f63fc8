package service

import (
	"context"
	"testing"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/dao"
	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/internal/dto"
	"github.com/haierkeys/vault-device-sync/internal/transport"
	"github.com/haierkeys/vault-device-sync/pkg/code"
	"github.com/haierkeys/vault-device-sync/pkg/util"
	"github.com/haierkeys/vault-device-sync/pkg/workerpool"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"unreachable is retryable", code.ErrorTransportUnreachable, FailureRetryable},
		{"relay rejected is retryable", code.ErrorRelayRejected, FailureRetryable},
		{"db error is retryable", code.ErrorDBQuery, FailureRetryable},
		{"revoked needs re-pairing", code.ErrorDeviceRevoked, FailureReauth},
		{"quarantined needs re-pairing", code.ErrorDeviceQuarantined, FailureReauth},
		{"unknown sender needs re-pairing", code.ErrorUnknownSender, FailureReauth},
		{"clock regression is permanent", code.ErrorClockRegression, FailurePermanent},
		{"batch mismatch is permanent", code.ErrorBatchMismatch, FailurePermanent},
		{"buffer overflow is permanent", code.ErrorDependencyBufferOverflow, FailurePermanent},
		{"plain error is permanent", context.Canceled, FailurePermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyFailure(tt.err))
		})
	}
}

// coordinatorNode 带协调器的测试设备
type coordinatorNode struct {
	*testNode
	coordinator CoordinatorService
}

func newCoordinatorNode(t *testing.T, vaultID string, tr transport.Transport) *coordinatorNode {
	node := newTestNode(t, vaultID)

	changeRepo := dao.NewChangeLogRepository(node.dao)
	identityRepo := dao.NewIdentityRepository(node.dao)
	sessionRepo := dao.NewSessionRepository(node.dao)
	syncStateRepo := dao.NewSyncStateRepository(node.dao)

	deviceSvc := NewDeviceService(node.deviceRepo, identityRepo, DeviceServiceConfig{PairToken: "token"}, nil)
	pool := workerpool.New(nil, nil)

	config := DefaultCoordinatorConfig()
	config.RetryBackoff = 10 * time.Millisecond

	coordinator := NewCoordinatorService(
		node.changeSvc, deviceSvc, node.resolver,
		changeRepo, node.deviceRepo, sessionRepo, syncStateRepo,
		tr, nil, pool, config, nil,
	)
	return &coordinatorNode{testNode: node, coordinator: coordinator}
}

// serve 把节点注册为进程内对端，按动作分发到应答侧处理器
func (n *coordinatorNode) serve(t *testing.T, mem *transport.MemTransport, vaultID string) {
	mem.Register(n.identity.DeviceID, func(msg *transport.Message) (*transport.Message, error) {
		ctx := context.Background()
		reply := func(action string, payload any) (*transport.Message, error) {
			buf, err := sonic.Marshal(payload)
			if err != nil {
				return nil, err
			}
			return &transport.Message{Action: action, Payload: buf}, nil
		}
		fail := func(err error) (*transport.Message, error) {
			werr := dto.SyncErrorMessage{Reason: err.Error()}
			if c, ok := err.(*code.Code); ok {
				werr.Code = c.Code()
			}
			return reply(dto.SyncError, werr)
		}

		switch msg.Action {
		case dto.SyncHello:
			var hello dto.SyncHelloMessage
			require.Nil(t, sonic.Unmarshal(msg.Payload, &hello))
			ack, err := n.coordinator.HandleHello(ctx, &hello)
			if err != nil {
				return fail(err)
			}
			return reply(dto.SyncHelloAck, ack)
		case dto.SyncManifest:
			var manifest dto.SyncManifestMessage
			require.Nil(t, sonic.Unmarshal(msg.Payload, &manifest))
			echo, err := n.coordinator.HandleManifest(ctx, &manifest)
			if err != nil {
				return fail(err)
			}
			return reply(dto.SyncManifest, echo)
		case dto.SyncBatch:
			var batch dto.SyncBatchMessage
			require.Nil(t, sonic.Unmarshal(msg.Payload, &batch))
			ack, err := n.coordinator.HandleBatch(ctx, vaultID, &batch)
			if err != nil {
				return fail(err)
			}
			return reply(dto.SyncAck, ack)
		case dto.SyncPull:
			var pull dto.SyncPullMessage
			require.Nil(t, sonic.Unmarshal(msg.Payload, &pull))
			batch, err := n.coordinator.HandlePull(ctx, &pull)
			if err != nil {
				return fail(err)
			}
			return reply(dto.SyncBatch, batch)
		case dto.SyncComplete:
			var complete dto.SyncCompleteMessage
			require.Nil(t, sonic.Unmarshal(msg.Payload, &complete))
			echo, err := n.coordinator.HandleComplete(ctx, &complete)
			if err != nil {
				return fail(err)
			}
			return reply(dto.SyncComplete, echo)
		}
		return fail(code.ErrorSessionFailed)
	})
}

func TestTwoNodeSyncConverges(t *testing.T) {
	mem := transport.NewMemTransport()
	ctx := context.Background()

	alice := newCoordinatorNode(t, "v1", mem)
	bob := newCoordinatorNode(t, "v1", mem)

	// 互信
	alice.trust(t, bob.identity)
	bob.trust(t, alice.identity)
	bob.serve(t, mem, "v1")

	// alice 本地记账
	_, err := alice.changeSvc.RecordChange(ctx, "v1", "transaction", "tx-1", "amount", "12.50")
	require.Nil(t, err)
	_, err = alice.changeSvc.RecordChange(ctx, "v1", "transaction", "tx-1", "note", "lunch")
	require.Nil(t, err)
	_, err = alice.changeSvc.RecordChange(ctx, "v1", "account", "a1", "name", "cash")
	require.Nil(t, err)

	// 触发同步，bob 应收到全部记录
	require.Nil(t, alice.coordinator.TriggerSync(ctx, "v1", bob.identity.DeviceID, false))

	bobClocks, err := bob.changeSvc.LocalClocks(ctx, "v1")
	require.Nil(t, err)
	assert.Equal(t, uint64(3), bobClocks.Get(alice.identity.DeviceID))

	snap, err := bob.snapshotRepo.Get(ctx, "v1", "transaction", "tx-1")
	require.Nil(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "12.50", snap.Fields["amount"].Value)
	assert.Equal(t, "lunch", snap.Fields["note"].Value)

	// 第二次同步为空增量，会话仍然正常收敛
	require.Nil(t, alice.coordinator.TriggerSync(ctx, "v1", bob.identity.DeviceID, false))

	// bob 记下的确认游标覆盖 alice 的全部记录
	device, err := alice.deviceRepo.GetByDeviceID(ctx, "v1", bob.identity.DeviceID)
	require.Nil(t, err)
	assert.NotEmpty(t, device.AckClock)
}

func TestTwoNodeSyncBidirectional(t *testing.T) {
	mem := transport.NewMemTransport()
	ctx := context.Background()

	alice := newCoordinatorNode(t, "v1", mem)
	bob := newCoordinatorNode(t, "v1", mem)
	alice.trust(t, bob.identity)
	bob.trust(t, alice.identity)
	bob.serve(t, mem, "v1")

	// 两台设备各自离线编辑：同一字段并发冲突，外加各自独有的写入
	_, err := alice.changeSvc.RecordChange(ctx, "v1", "transaction", "tx-1", "amount", "12.50")
	require.Nil(t, err)
	_, err = bob.changeSvc.RecordChange(ctx, "v1", "transaction", "tx-1", "amount", "99.00")
	require.Nil(t, err)
	_, err = bob.changeSvc.RecordChange(ctx, "v1", "transaction", "tx-1", "note", "dinner")
	require.Nil(t, err)
	_, err = bob.changeSvc.RecordChange(ctx, "v1", "account", "a1", "name", "cash")
	require.Nil(t, err)

	// 单次会话双向交换，两边都看到对方的全部记录
	require.Nil(t, alice.coordinator.TriggerSync(ctx, "v1", bob.identity.DeviceID, false))

	bobClocks, err := bob.changeSvc.LocalClocks(ctx, "v1")
	require.Nil(t, err)
	assert.Equal(t, uint64(1), bobClocks.Get(alice.identity.DeviceID))

	aliceClocks, err := alice.changeSvc.LocalClocks(ctx, "v1")
	require.Nil(t, err)
	assert.Equal(t, uint64(3), aliceClocks.Get(bob.identity.DeviceID))

	// 冲突字段两边裁决出同一个胜者，快照收敛一致
	aliceSnap, err := alice.snapshotRepo.Get(ctx, "v1", "transaction", "tx-1")
	require.Nil(t, err)
	require.NotNil(t, aliceSnap)
	bobSnap, err := bob.snapshotRepo.Get(ctx, "v1", "transaction", "tx-1")
	require.Nil(t, err)
	require.NotNil(t, bobSnap)
	assert.Equal(t, bobSnap.Fields["amount"].Value, aliceSnap.Fields["amount"].Value)
	assert.Equal(t, "dinner", aliceSnap.Fields["note"].Value)

	accountSnap, err := alice.snapshotRepo.Get(ctx, "v1", "account", "a1")
	require.Nil(t, err)
	require.NotNil(t, accountSnap)
	assert.Equal(t, "cash", accountSnap.Fields["name"].Value)
}

// responderHandshake 以 alice 的身份与 bob 的应答侧完成握手
func responderHandshake(t *testing.T, ctx context.Context, alice, bob *coordinatorNode) *dto.SyncHelloAckMessage {
	clocks, err := alice.changeSvc.LocalClocks(ctx, "v1")
	require.Nil(t, err)
	hello := &dto.SyncHelloMessage{
		VaultID:         "v1",
		DeviceID:        alice.identity.DeviceID,
		ProtocolVersion: dto.ProtocolVersion,
		Timestamp:       util.NowUnixMilli(),
		Clocks:          clocks,
	}
	require.Nil(t, SignHello(alice.identity, hello))
	ack, err := bob.coordinator.HandleHello(ctx, hello)
	require.Nil(t, err)
	_, err = bob.coordinator.HandleManifest(ctx, &dto.SyncManifestMessage{SessionID: ack.SessionID})
	require.Nil(t, err)
	return ack
}

func TestResponderStagesBatchesUntilComplete(t *testing.T) {
	mem := transport.NewMemTransport()
	ctx := context.Background()

	alice := newCoordinatorNode(t, "v1", mem)
	bob := newCoordinatorNode(t, "v1", mem)
	alice.trust(t, bob.identity)
	bob.trust(t, alice.identity)

	r1, err := alice.changeSvc.RecordChange(ctx, "v1", "transaction", "tx-1", "amount", "12.50")
	require.Nil(t, err)
	r2, err := alice.changeSvc.RecordChange(ctx, "v1", "transaction", "tx-1", "note", "lunch")
	require.Nil(t, err)

	ack := responderHandshake(t, ctx, alice, bob)

	bobDevice, err := alice.deviceRepo.GetByDeviceID(ctx, "v1", bob.identity.DeviceID)
	require.Nil(t, err)
	batch, err := SealBatch(alice.identity, bobDevice, ack.SessionID, 0, true, []*domain.ChangeRecord{r1, r2})
	require.Nil(t, err)

	batchAck, err := bob.coordinator.HandleBatch(ctx, "v1", batch)
	require.Nil(t, err)
	assert.Equal(t, 2, batchAck.Received)

	// 批次只暂存，收尾提交前日志与待定缓冲都不动
	bobClocks, err := bob.changeSvc.LocalClocks(ctx, "v1")
	require.Nil(t, err)
	assert.Equal(t, uint64(0), bobClocks.Get(alice.identity.DeviceID))
	assert.Equal(t, 0, bob.changeSvc.PendingCount("v1"))

	echo, err := bob.coordinator.HandleComplete(ctx, &dto.SyncCompleteMessage{SessionID: ack.SessionID})
	require.Nil(t, err)
	assert.Equal(t, 2, echo.Applied)
	assert.Equal(t, uint64(2), echo.AckClock.Get(alice.identity.DeviceID))

	bobClocks, err = bob.changeSvc.LocalClocks(ctx, "v1")
	require.Nil(t, err)
	assert.Equal(t, uint64(2), bobClocks.Get(alice.identity.DeviceID))
}

func TestStaleResponderSessionSwept(t *testing.T) {
	mem := transport.NewMemTransport()
	ctx := context.Background()

	alice := newCoordinatorNode(t, "v1", mem)
	bob := newCoordinatorNode(t, "v1", mem)
	alice.trust(t, bob.identity)
	bob.trust(t, alice.identity)

	r1, err := alice.changeSvc.RecordChange(ctx, "v1", "transaction", "tx-1", "amount", "12.50")
	require.Nil(t, err)

	ack := responderHandshake(t, ctx, alice, bob)

	bobDevice, err := alice.deviceRepo.GetByDeviceID(ctx, "v1", bob.identity.DeviceID)
	require.Nil(t, err)
	batch, err := SealBatch(alice.identity, bobDevice, ack.SessionID, 0, false, []*domain.ChangeRecord{r1})
	require.Nil(t, err)
	_, err = bob.coordinator.HandleBatch(ctx, "v1", batch)
	require.Nil(t, err)

	// 活跃会话不会被正常存活期的清扫误伤
	assert.Equal(t, 0, bob.coordinator.SweepSessions(time.Hour))

	// 发起方中途消失，超时清扫后会话连同暂存批次一起回收
	assert.Equal(t, 1, bob.coordinator.SweepSessions(0))

	_, err = bob.coordinator.HandleComplete(ctx, &dto.SyncCompleteMessage{SessionID: ack.SessionID})
	require.NotNil(t, err)

	// 中途废弃的会话没有落下任何记录
	bobClocks, err := bob.changeSvc.LocalClocks(ctx, "v1")
	require.Nil(t, err)
	assert.Equal(t, uint64(0), bobClocks.Get(alice.identity.DeviceID))
	assert.Equal(t, 0, bob.changeSvc.PendingCount("v1"))
}

func TestFailedSessionLeavesLogUntouched(t *testing.T) {
	mem := transport.NewMemTransport()
	ctx := context.Background()

	alice := newCoordinatorNode(t, "v1", mem)
	bob := newCoordinatorNode(t, "v1", mem)
	alice.trust(t, bob.identity)
	bob.trust(t, alice.identity)

	// bob 正常应答握手与清单，但在批次阶段宣告失败
	mem.Register(bob.identity.DeviceID, func(msg *transport.Message) (*transport.Message, error) {
		reply := func(action string, payload any) (*transport.Message, error) {
			buf, err := sonic.Marshal(payload)
			if err != nil {
				return nil, err
			}
			return &transport.Message{Action: action, Payload: buf}, nil
		}
		switch msg.Action {
		case dto.SyncHello:
			var hello dto.SyncHelloMessage
			require.Nil(t, sonic.Unmarshal(msg.Payload, &hello))
			ack, err := bob.coordinator.HandleHello(ctx, &hello)
			require.Nil(t, err)
			return reply(dto.SyncHelloAck, ack)
		case dto.SyncManifest:
			var manifest dto.SyncManifestMessage
			require.Nil(t, sonic.Unmarshal(msg.Payload, &manifest))
			echo, err := bob.coordinator.HandleManifest(ctx, &manifest)
			require.Nil(t, err)
			return reply(dto.SyncManifest, echo)
		}
		return reply(dto.SyncError, dto.SyncErrorMessage{
			Code:   code.ErrorSessionFailed.Code(),
			Reason: "batch stage rejected",
		})
	})

	_, err := alice.changeSvc.RecordChange(ctx, "v1", "transaction", "tx-1", "amount", "12.50")
	require.Nil(t, err)
	_, err = alice.changeSvc.RecordChange(ctx, "v1", "transaction", "tx-1", "note", "lunch")
	require.Nil(t, err)

	err = alice.coordinator.TriggerSync(ctx, "v1", bob.identity.DeviceID, false)
	require.NotNil(t, err)

	// bob 的日志没有任何部分摄入的痕迹
	bobClocks, err := bob.changeSvc.LocalClocks(ctx, "v1")
	require.Nil(t, err)
	assert.Equal(t, uint64(0), bobClocks.Get(alice.identity.DeviceID))
	assert.Equal(t, 0, bob.changeSvc.PendingCount("v1"))

	// alice 的本地日志原样保留
	aliceClocks, err := alice.changeSvc.LocalClocks(ctx, "v1")
	require.Nil(t, err)
	assert.Equal(t, uint64(2), aliceClocks.Get(alice.identity.DeviceID))
}

func TestSyncDisabledGate(t *testing.T) {
	mem := transport.NewMemTransport()
	node := newTestNode(t, "v1")

	changeRepo := dao.NewChangeLogRepository(node.dao)
	identityRepo := dao.NewIdentityRepository(node.dao)
	sessionRepo := dao.NewSessionRepository(node.dao)
	syncStateRepo := dao.NewSyncStateRepository(node.dao)
	deviceSvc := NewDeviceService(node.deviceRepo, identityRepo, DeviceServiceConfig{}, nil)

	config := DefaultCoordinatorConfig()
	config.Enabled = false
	coordinator := NewCoordinatorService(
		node.changeSvc, deviceSvc, node.resolver,
		changeRepo, node.deviceRepo, sessionRepo, syncStateRepo,
		mem, nil, workerpool.New(nil, nil), config, nil,
	)

	err := coordinator.TriggerSync(context.Background(), "v1", "", false)
	require.NotNil(t, err)
	c, ok := err.(*code.Code)
	require.True(t, ok)
	assert.Equal(t, code.ErrorSyncDisabled.Code(), c.Code())
}

func TestTriggerSyncUnreachablePeer(t *testing.T) {
	mem := transport.NewMemTransport()
	node := newCoordinatorNode(t, "v1", mem)
	peer := newTestIdentity(t, "v1")
	node.trust(t, peer)

	// 对端未注册到进程内传输，判定不可达
	err := node.coordinator.TriggerSync(context.Background(), "v1", peer.DeviceID, false)
	require.NotNil(t, err)
	c, ok := err.(*code.Code)
	require.True(t, ok)
	assert.Equal(t, code.ErrorTransportUnreachable.Code(), c.Code())
}
