package service

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/internal/dto"
	"github.com/haierkeys/vault-device-sync/internal/metrics"
	"github.com/haierkeys/vault-device-sync/internal/transport"
	"github.com/haierkeys/vault-device-sync/pkg/code"
	"github.com/haierkeys/vault-device-sync/pkg/convert"
	"github.com/haierkeys/vault-device-sync/pkg/logger"
	"github.com/haierkeys/vault-device-sync/pkg/timex"
	"github.com/haierkeys/vault-device-sync/pkg/util"
	"github.com/haierkeys/vault-device-sync/pkg/vclock"
	"github.com/haierkeys/vault-device-sync/pkg/workerpool"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"
)

// FailureClass 会话失败的处理类别
type FailureClass int

const (
	// FailureRetryable 瞬时故障，退避后重试
	FailureRetryable FailureClass = iota
	// FailurePermanent 本次会话作废，等待下次触发
	FailurePermanent
	// FailureReauth 信任问题，需要人工重新配对
	FailureReauth
)

// ClassifyFailure 按错误码归类会话失败
func ClassifyFailure(err error) FailureClass {
	c, ok := err.(*code.Code)
	if !ok {
		return FailurePermanent
	}
	switch c.Code() {
	case code.ErrorTransportUnreachable.Code(),
		code.ErrorRelayRejected.Code(),
		code.ErrorDBQuery.Code():
		return FailureRetryable
	case code.ErrorDeviceRevoked.Code(),
		code.ErrorDeviceQuarantined.Code(),
		code.ErrorUnknownSender.Code(),
		code.ErrorPairTokenInvalid.Code():
		return FailureReauth
	}
	return FailurePermanent
}

// CoordinatorConfig 同步协调器配置
type CoordinatorConfig struct {
	// Enabled 同步总开关
	Enabled bool
	// BatchSize 单批次记录数上限
	BatchSize int
	// MaxRetries 瞬时故障最大重试次数
	MaxRetries int
	// RetryBackoff 重试退避基数，按尝试次数线性放大
	RetryBackoff time.Duration
}

// DefaultCoordinatorConfig 返回协调器默认配置
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Enabled:      true,
		BatchSize:    200,
		MaxRetries:   3,
		RetryBackoff: 2 * time.Second,
	}
}

// CoordinatorService 定义同步协调服务接口
// 发起侧驱动会话状态机，应答侧由 WebSocket 路由委托到 Handle 系列方法
type CoordinatorService interface {
	// TriggerSync 触发同步，peerID 为空时与全部可同步对端并发同步
	TriggerSync(ctx context.Context, vaultID, peerID string, fullResync bool) error

	// PollRelay 拉取中继信箱并摄入，返回摄入的消息数
	PollRelay(ctx context.Context, vaultID string) (int, error)

	// Compact 压缩变更日志，返回删除的记录数
	Compact(ctx context.Context, vaultID string) (int, error)

	// Status 返回金库同步状态
	Status(ctx context.Context, vaultID string) (*dto.SyncStatusDTO, error)

	// Sessions 分页返回会话历史
	Sessions(ctx context.Context, vaultID string, page, pageSize int) ([]*dto.SessionDTO, int64, error)

	// HandleHello 应答对端握手
	HandleHello(ctx context.Context, msg *dto.SyncHelloMessage) (*dto.SyncHelloAckMessage, error)

	// HandleManifest 应答对端清单
	HandleManifest(ctx context.Context, msg *dto.SyncManifestMessage) (*dto.SyncManifestMessage, error)

	// HandleBatch 暂存对端批次并回执，提交推迟到收尾
	HandleBatch(ctx context.Context, vaultID string, msg *dto.SyncBatchMessage) (*dto.SyncAckMessage, error)

	// HandlePull 密封并返回反向的下一个批次
	HandlePull(ctx context.Context, msg *dto.SyncPullMessage) (*dto.SyncBatchMessage, error)

	// HandleComplete 单次提交会话内暂存的全部批次并应答
	HandleComplete(ctx context.Context, msg *dto.SyncCompleteMessage) (*dto.SyncCompleteMessage, error)

	// SweepSessions 清理超过 maxAge 未活动的应答侧会话，返回清理数
	SweepSessions(maxAge time.Duration) int
}

// DefaultResponderSessionTTL 应答侧在途会话的默认存活时长
// 发起方中途消失的会话由后台清扫任务按此时长回收
const DefaultResponderSessionTTL = 10 * time.Minute

// responderSession 应答侧在途会话
// 收到的批次整段暂存，收尾时单次提交，中途失败不留半截日志
type responderSession struct {
	vaultID    string
	peerID     string
	base       vclock.Clock // 发起方清单声明的压缩水位
	staged     []*domain.ChangeRecord
	pullBuf    []*domain.ChangeRecord // 反向待发记录，首个拉取请求时装载
	pullOffset int
	pullLoaded bool
	lastActive time.Time
}

// touch 刷新会话活动时间，调用方必须持有 s.mu
func (rs *responderSession) touch() {
	rs.lastActive = time.Now()
}

// coordinatorService 实现 CoordinatorService 接口
type coordinatorService struct {
	changeSvc    ChangeLogService
	deviceSvc    DeviceService
	resolver     ResolverService
	changeRepo   domain.ChangeLogRepository
	deviceRepo   domain.DeviceRepository
	sessionRepo  domain.SessionRepository
	syncStateRepo domain.SyncStateRepository
	direct       transport.Transport
	relay        *transport.RelayClient
	pool         *workerpool.Pool
	config       CoordinatorConfig
	logger       *zap.Logger

	mu        sync.Mutex
	active    map[string]bool              // vaultID+peerID -> 发起侧在途会话
	responder map[string]*responderSession // sessionID -> 应答侧在途会话
}

// NewCoordinatorService 创建 CoordinatorService 实例
// relay 可为 nil，此时对端不可直连即判定不可达
func NewCoordinatorService(
	changeSvc ChangeLogService,
	deviceSvc DeviceService,
	resolver ResolverService,
	changeRepo domain.ChangeLogRepository,
	deviceRepo domain.DeviceRepository,
	sessionRepo domain.SessionRepository,
	syncStateRepo domain.SyncStateRepository,
	direct transport.Transport,
	relay *transport.RelayClient,
	pool *workerpool.Pool,
	config CoordinatorConfig,
	lg *zap.Logger,
) CoordinatorService {
	if lg == nil {
		lg = zap.NewNop()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultCoordinatorConfig().BatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultCoordinatorConfig().MaxRetries
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultCoordinatorConfig().RetryBackoff
	}
	return &coordinatorService{
		changeSvc:     changeSvc,
		deviceSvc:     deviceSvc,
		resolver:      resolver,
		changeRepo:    changeRepo,
		deviceRepo:    deviceRepo,
		sessionRepo:   sessionRepo,
		syncStateRepo: syncStateRepo,
		direct:        direct,
		relay:         relay,
		pool:          pool,
		config:        config,
		logger:        lg,
		active:        make(map[string]bool),
		responder:     make(map[string]*responderSession),
	}
}

// TriggerSync 触发同步
func (s *coordinatorService) TriggerSync(ctx context.Context, vaultID, peerID string, fullResync bool) error {
	if !s.config.Enabled {
		return code.ErrorSyncDisabled
	}

	var peers []*domain.DeviceIdentity
	if peerID != "" {
		peer, err := s.deviceSvc.Get(ctx, vaultID, peerID)
		if err != nil {
			return err
		}
		if !peer.TrustState.CanSync() {
			return code.ErrorDeviceRevoked.Clone().WithDetails("peer cannot sync in state " + string(peer.TrustState))
		}
		peers = []*domain.DeviceIdentity{peer}
	} else {
		var err error
		peers, err = s.deviceSvc.TrustedPeers(ctx, vaultID)
		if err != nil {
			return err
		}
	}
	if len(peers) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			return s.pool.Submit(gctx, func(taskCtx context.Context) error {
				return s.syncWithRetry(taskCtx, vaultID, peer, fullResync)
			})
		})
	}
	return g.Wait()
}

// syncWithRetry 带退避重试的单对端同步
func (s *coordinatorService) syncWithRetry(ctx context.Context, vaultID string, peer *domain.DeviceIdentity, fullResync bool) error {
	var err error
	for attempt := 1; attempt <= s.config.MaxRetries; attempt++ {
		err = s.syncWithPeer(ctx, vaultID, peer, fullResync)
		if err == nil {
			return nil
		}
		class := ClassifyFailure(err)
		if class != FailureRetryable {
			if class == FailureReauth {
				s.logger.Warn("sync requires re-pairing",
					zap.String(logger.FieldVault, vaultID),
					zap.String(logger.FieldPeer, peer.DeviceID),
					zap.Error(err))
			}
			return err
		}
		s.logger.Info("transient sync failure, backing off",
			zap.String(logger.FieldVault, vaultID),
			zap.String(logger.FieldPeer, peer.DeviceID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-time.After(time.Duration(attempt) * s.config.RetryBackoff):
		case <-ctx.Done():
			return err
		}
	}
	return err
}

// tryLockPeer 同一对端同一时刻只允许一个在途会话
func (s *coordinatorService) tryLockPeer(vaultID, peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := vaultID + "/" + peerID
	if s.active[key] {
		return false
	}
	s.active[key] = true
	return true
}

func (s *coordinatorService) unlockPeer(vaultID, peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, vaultID+"/"+peerID)
}

// syncWithPeer 执行一次与单个对端的完整会话
func (s *coordinatorService) syncWithPeer(ctx context.Context, vaultID string, peer *domain.DeviceIdentity, fullResync bool) error {
	if !s.tryLockPeer(vaultID, peer.DeviceID) {
		// 在途会话视为本次触发已覆盖
		return nil
	}
	defer s.unlockPeer(vaultID, peer.DeviceID)

	if s.direct != nil && s.direct.Available(peer) {
		return s.syncDirect(ctx, vaultID, peer, fullResync)
	}
	if s.relay != nil {
		return s.syncViaRelay(ctx, vaultID, peer)
	}
	return code.ErrorTransportUnreachable.Clone().WithDetails("no transport available for peer")
}

// newSession 登记新会话
func (s *coordinatorService) newSession(ctx context.Context, vaultID, peerID, transportName string, fullResync bool) (*domain.SyncSession, error) {
	session := &domain.SyncSession{
		SessionID:  uuid.NewString(),
		VaultID:    vaultID,
		PeerID:     peerID,
		Transport:  transportName,
		State:      domain.SessionHandshaking,
		FullResync: fullResync,
		StartedAt:  time.Now(),
	}
	created, err := s.sessionRepo.Create(ctx, session)
	if err != nil {
		return nil, code.ErrorDBQuery.Clone().WithDetails(err.Error())
	}
	return created, nil
}

// transition 推进会话状态并持久化
func (s *coordinatorService) transition(ctx context.Context, session *domain.SyncSession, to domain.SessionState) {
	if !session.State.CanTransition(to) {
		s.logger.Error("illegal session transition",
			zap.String(logger.FieldSessionID, session.SessionID),
			zap.String("from", string(session.State)),
			zap.String("to", string(to)))
		return
	}
	session.State = to
	if to.IsTerminal() {
		session.FinishedAt = time.Now()
	}
	if err := s.sessionRepo.Update(ctx, session); err != nil {
		s.logger.Error("persist session state failed",
			zap.String(logger.FieldSessionID, session.SessionID),
			zap.Error(err))
	}
}

// failSession 将会话标记为失败
func (s *coordinatorService) failSession(ctx context.Context, session *domain.SyncSession, err error) {
	session.FailReason = err.Error()
	s.transition(ctx, session, domain.SessionFailed)
	metrics.ObserveSession("failed", session.StartedAt)
	s.logger.Warn("sync session failed",
		zap.String(logger.FieldSessionID, session.SessionID),
		zap.String(logger.FieldPeer, session.PeerID),
		zap.String("reason", session.FailReason))
}

// exchange 序列化并发送一条消息，反序列化响应
func (s *coordinatorService) exchange(ctx context.Context, peer *domain.DeviceIdentity, action string, payload any, out any) (string, error) {
	buf, err := sonic.Marshal(payload)
	if err != nil {
		return "", code.ErrorServerInternal.Clone().WithDetails(err.Error())
	}
	resp, err := s.direct.Exchange(ctx, peer, &transport.Message{Action: action, Payload: buf})
	if err != nil {
		return "", err
	}
	if resp.Action == dto.SyncError {
		var werr dto.SyncErrorMessage
		_ = sonic.Unmarshal(resp.Payload, &werr)
		return resp.Action, code.ErrorSessionFailed.Clone().WithDetails(werr.Reason)
	}
	if out != nil {
		if err := sonic.Unmarshal(resp.Payload, out); err != nil {
			return resp.Action, code.ErrorSessionFailed.Clone().WithDetails("malformed peer response")
		}
	}
	return resp.Action, nil
}

// syncDirect 直连会话：握手、清单、分批推送、收尾
func (s *coordinatorService) syncDirect(ctx context.Context, vaultID string, peer *domain.DeviceIdentity, fullResync bool) error {
	identity, err := s.deviceSvc.Identity(ctx, vaultID)
	if err != nil {
		return err
	}

	session, err := s.newSession(ctx, vaultID, peer.DeviceID, s.direct.Name(), fullResync)
	if err != nil {
		return err
	}

	localClocks, err := s.changeSvc.LocalClocks(ctx, vaultID)
	if err != nil {
		s.failSession(ctx, session, err)
		return err
	}

	hello := &dto.SyncHelloMessage{
		VaultID:         vaultID,
		DeviceID:        identity.DeviceID,
		DisplayName:     identity.DisplayName,
		ProtocolVersion: dto.ProtocolVersion,
		Timestamp:       util.NowUnixMilli(),
		Clocks:          localClocks,
		FullResync:      fullResync,
	}
	if err := SignHello(identity, hello); err != nil {
		s.failSession(ctx, session, err)
		return err
	}

	var ack dto.SyncHelloAckMessage
	if _, err := s.exchange(ctx, peer, dto.SyncHello, hello, &ack); err != nil {
		s.failSession(ctx, session, err)
		return err
	}
	if semver.Major(ack.ProtocolVersion) != semver.Major(dto.ProtocolVersion) {
		err := code.ErrorSessionFailed.Clone().WithDetails("incompatible protocol version " + ack.ProtocolVersion)
		s.failSession(ctx, session, err)
		return err
	}
	// 线上会话标识由应答方分配，本地会话记录保留自身标识
	wireSession := ack.SessionID
	fullResync = fullResync || ack.FullResync
	session.FullResync = fullResync
	s.transition(ctx, session, domain.SessionExchanging)

	// 游标取对端已见时钟，全量重同步时从零开始
	cursor := ack.Clocks
	if fullResync {
		cursor = vclock.New()
	}

	// 对端游标早于压缩水位时无法服务增量，升级为全量
	horizon, err := s.compactionHorizon(ctx, vaultID)
	if err == nil && horizon != nil && !fullResync && !cursor.Dominates(horizon) {
		s.logger.Warn("peer cursor behind compaction horizon, upgrading to full resync",
			zap.String(logger.FieldVault, vaultID),
			zap.String(logger.FieldPeer, peer.DeviceID))
		cursor = vclock.New()
		fullResync = true
		session.FullResync = true
	}

	records, err := s.changeSvc.RecordsSince(ctx, vaultID, cursor)
	if err != nil {
		s.failSession(ctx, session, err)
		return err
	}

	manifest := &dto.SyncManifestMessage{
		SessionID:   wireSession,
		Cursor:      cursor,
		BaseClock:   horizon,
		RecordCount: len(records),
		FullResync:  fullResync,
	}
	if _, err := s.exchange(ctx, peer, dto.SyncManifest, manifest, nil); err != nil {
		s.failSession(ctx, session, err)
		return err
	}

	// 分批密封推送
	sequenceNo := 0
	for offset := 0; offset < len(records) || sequenceNo == 0; offset += s.config.BatchSize {
		end := offset + s.config.BatchSize
		if end > len(records) {
			end = len(records)
		}
		final := end >= len(records)
		batch, err := SealBatch(identity, peer, wireSession, sequenceNo, final, records[offset:end])
		if err != nil {
			s.failSession(ctx, session, err)
			return err
		}

		var batchAck dto.SyncAckMessage
		if _, err := s.exchange(ctx, peer, dto.SyncBatch, batch, &batchAck); err != nil {
			s.failSession(ctx, session, err)
			return err
		}
		session.SentRecords += end - offset
		sequenceNo++

		if final {
			break
		}
	}

	// 反向拉取对端增量，整段暂存后单次摄入
	pullCursor := localClocks
	if fullResync {
		pullCursor = vclock.New()
	}
	var staged []*domain.ChangeRecord
	for pullSeq := 0; ; pullSeq++ {
		pull := &dto.SyncPullMessage{SessionID: wireSession, SequenceNo: pullSeq, FullResync: fullResync}
		if pullSeq == 0 {
			pull.Cursor = pullCursor
		}
		var pullBatch dto.SyncBatchMessage
		if _, err := s.exchange(ctx, peer, dto.SyncPull, pull, &pullBatch); err != nil {
			s.failSession(ctx, session, err)
			return err
		}
		recs, err := OpenBatch(identity, peer, &pullBatch)
		if err != nil {
			s.failSession(ctx, session, err)
			return err
		}
		staged = append(staged, recs...)
		session.ReceivedRecords += len(recs)
		if pullBatch.Final {
			break
		}
	}

	result, err := s.changeSvc.IngestBatch(ctx, vaultID, peer.DeviceID, ack.BaseClock, staged)
	if err != nil {
		s.failSession(ctx, session, err)
		return err
	}
	session.AppliedRecords = result.Applied
	session.PendingBuffered = result.Buffered
	metrics.ObserveIngest(result.Applied, result.Buffered, result.Duplicates)

	// 收尾携带摄入后的本地时钟，对端据此推进确认游标
	finalClocks, err := s.changeSvc.LocalClocks(ctx, vaultID)
	if err != nil {
		s.failSession(ctx, session, err)
		return err
	}
	complete := &dto.SyncCompleteMessage{SessionID: wireSession, AckClock: finalClocks}
	var completeEcho dto.SyncCompleteMessage
	if _, err := s.exchange(ctx, peer, dto.SyncComplete, complete, &completeEcho); err != nil {
		s.failSession(ctx, session, err)
		return err
	}
	if len(completeEcho.AckClock) > 0 {
		if err := s.persistAckClock(ctx, vaultID, peer.DeviceID, completeEcho.AckClock); err != nil {
			s.logger.Error("persist peer ack clock failed",
				zap.String(logger.FieldPeer, peer.DeviceID),
				zap.Error(err))
		}
	}

	s.transition(ctx, session, domain.SessionReconciled)
	metrics.ObserveSession("completed", session.StartedAt)
	if err := s.deviceRepo.UpdateLastSeen(ctx, vaultID, peer.DeviceID); err != nil {
		s.logger.Error("update peer last seen failed", zap.Error(err))
	}
	s.logger.Info("sync session reconciled",
		zap.String(logger.FieldVault, vaultID),
		zap.String(logger.FieldPeer, peer.DeviceID),
		zap.String(logger.FieldSessionID, session.SessionID),
		zap.Int("sent", session.SentRecords),
		zap.Int("received", session.ReceivedRecords),
		zap.Int("applied", session.AppliedRecords))

	s.transition(ctx, session, domain.SessionIdle)
	return nil
}

// persistAckClock 持久化对端确认游标
func (s *coordinatorService) persistAckClock(ctx context.Context, vaultID, peerID string, ackClock vclock.Clock) error {
	return s.deviceRepo.UpdateAckClock(ctx, vaultID, peerID, ackClock)
}

// peerAckClock 读取对端确认游标
func (s *coordinatorService) peerAckClock(peer *domain.DeviceIdentity) vclock.Clock {
	clock := vclock.New()
	if peer.AckClock != "" {
		_ = sonic.Unmarshal([]byte(peer.AckClock), &clock)
	}
	return clock
}

// syncViaRelay 经由中继信箱投递密封批次，存储转发无法往返确认
func (s *coordinatorService) syncViaRelay(ctx context.Context, vaultID string, peer *domain.DeviceIdentity) error {
	identity, err := s.deviceSvc.Identity(ctx, vaultID)
	if err != nil {
		return err
	}

	session, err := s.newSession(ctx, vaultID, peer.DeviceID, transport.TransportRelay, false)
	if err != nil {
		return err
	}
	s.transition(ctx, session, domain.SessionExchanging)

	cursor := s.peerAckClock(peer)
	records, err := s.changeSvc.RecordsSince(ctx, vaultID, cursor)
	if err != nil {
		s.failSession(ctx, session, err)
		return err
	}

	sequenceNo := 0
	for offset := 0; offset < len(records); offset += s.config.BatchSize {
		end := offset + s.config.BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch, err := SealBatch(identity, peer, session.SessionID, sequenceNo, end >= len(records), records[offset:end])
		if err != nil {
			s.failSession(ctx, session, err)
			return err
		}
		payload, err := sonic.Marshal(batch)
		if err != nil {
			s.failSession(ctx, session, code.ErrorServerInternal.Clone().WithDetails(err.Error()))
			return err
		}
		push := &dto.RelayPushRequest{
			VaultID:     vaultID,
			RecipientID: peer.DeviceID,
			MessageID:   uuid.NewString(),
			SenderID:    identity.DeviceID,
			Payload:     base64.StdEncoding.EncodeToString(payload),
		}
		if err := s.relay.Push(ctx, push); err != nil {
			s.failSession(ctx, session, err)
			return err
		}
		session.SentRecords += end - offset
		sequenceNo++
	}

	s.transition(ctx, session, domain.SessionReconciled)
	metrics.ObserveSession("relayed", session.StartedAt)
	s.logger.Info("batches dropped at relay mailbox",
		zap.String(logger.FieldVault, vaultID),
		zap.String(logger.FieldPeer, peer.DeviceID),
		zap.Int("sent", session.SentRecords))
	s.transition(ctx, session, domain.SessionIdle)
	return nil
}

// PollRelay 拉取中继信箱并摄入
func (s *coordinatorService) PollRelay(ctx context.Context, vaultID string) (int, error) {
	if !s.config.Enabled {
		return 0, code.ErrorSyncDisabled
	}
	if s.relay == nil {
		return 0, nil
	}
	identity, err := s.deviceSvc.Identity(ctx, vaultID)
	if err != nil {
		return 0, err
	}

	messages, err := s.relay.Pull(ctx, &dto.RelayPullRequest{VaultID: vaultID, RecipientID: identity.DeviceID})
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}

	var acked []string
	for _, m := range messages {
		payload, err := base64.StdEncoding.DecodeString(m.Payload)
		if err != nil {
			// 信箱里的坏消息直接确认删除，避免反复拉取
			acked = append(acked, m.MessageID)
			continue
		}
		var batch dto.SyncBatchMessage
		if err := sonic.Unmarshal(payload, &batch); err != nil {
			acked = append(acked, m.MessageID)
			continue
		}
		// 信箱消息没有在途会话，逐条解封直接摄入
		// 乱序到达的批次由摄入侧的待定缓冲吸收
		if err := s.ingestRelayBatch(ctx, vaultID, identity, &batch); err != nil {
			s.logger.Warn("relay batch rejected",
				zap.String(logger.FieldVault, vaultID),
				zap.String(logger.FieldDevice, batch.SenderID),
				zap.Error(err))
			if ClassifyFailure(err) == FailureRetryable {
				continue // 留在信箱，下轮重试
			}
		}
		acked = append(acked, m.MessageID)
	}

	if len(acked) > 0 {
		if err := s.relay.Ack(ctx, &dto.RelayAckRequest{VaultID: vaultID, RecipientID: identity.DeviceID, MessageIDs: acked}); err != nil {
			s.logger.Error("relay ack failed", zap.Error(err))
		}
	}
	return len(acked), nil
}

// ingestRelayBatch 解封并摄入一条中继信箱里的密封批次
func (s *coordinatorService) ingestRelayBatch(ctx context.Context, vaultID string, identity *domain.LocalIdentity, batch *dto.SyncBatchMessage) error {
	sender, err := s.deviceRepo.GetByDeviceID(ctx, vaultID, batch.SenderID)
	if err != nil {
		return code.ErrorDBQuery.Clone().WithDetails(err.Error())
	}
	if sender == nil {
		return code.ErrorUnknownSender
	}
	records, err := OpenBatch(identity, sender, batch)
	if err != nil {
		return err
	}
	metrics.BatchRecords.Observe(float64(len(records)))
	result, err := s.changeSvc.IngestBatch(ctx, vaultID, batch.SenderID, nil, records)
	if err != nil {
		return err
	}
	metrics.ObserveIngest(result.Applied, result.Buffered, result.Duplicates)
	return nil
}

// compactionHorizon 读取压缩水位
func (s *coordinatorService) compactionHorizon(ctx context.Context, vaultID string) (vclock.Clock, error) {
	state, err := s.syncStateRepo.Get(ctx, vaultID)
	if err != nil {
		return nil, code.ErrorDBQuery.Clone().WithDetails(err.Error())
	}
	if state == nil || state.CompactionHorizon == "" {
		return nil, nil
	}
	horizon := vclock.New()
	if err := sonic.Unmarshal([]byte(state.CompactionHorizon), &horizon); err != nil {
		return nil, nil
	}
	return horizon, nil
}

// Compact 压缩变更日志
// 水位为全部可同步对端确认游标的逐分量最小值
// 只删除水位之下且已被同字段其他记录压过的记录，字段胜者永远保留
func (s *coordinatorService) Compact(ctx context.Context, vaultID string) (int, error) {
	peers, err := s.deviceSvc.TrustedPeers(ctx, vaultID)
	if err != nil {
		return 0, err
	}
	if len(peers) == 0 {
		return 0, nil
	}

	// 逐分量最小值：任何一个对端没确认过的记录都不能删
	horizon := s.peerAckClock(peers[0])
	for _, peer := range peers[1:] {
		ack := s.peerAckClock(peer)
		for dev := range horizon {
			if ack.Get(dev) < horizon[dev] {
				horizon[dev] = ack.Get(dev)
			}
		}
		for dev := range horizon {
			if _, ok := ack[dev]; !ok {
				horizon[dev] = 0
			}
		}
	}

	keys, err := s.changeRepo.ListEntityKeys(ctx, vaultID)
	if err != nil {
		return 0, code.ErrorDBQuery.Clone().WithDetails(err.Error())
	}

	deleted := 0
	for _, k := range keys {
		records, err := s.changeRepo.ListByEntity(ctx, vaultID, k.EntityType, k.EntityID)
		if err != nil {
			return deleted, code.ErrorDBQuery.Clone().WithDetails(err.Error())
		}
		byField := make(map[string][]*domain.ChangeRecord)
		for _, r := range records {
			byField[r.FieldPath] = append(byField[r.FieldPath], r)
		}
		var ids []int64
		for _, group := range byField {
			winner := foldField(group)
			for _, r := range group {
				if winner != nil && r.ID == winner.ID {
					continue
				}
				if r.LogicalClock <= horizon.Get(r.DeviceID) {
					ids = append(ids, r.ID)
				}
			}
		}
		if len(ids) > 0 {
			if err := s.changeRepo.DeleteByIDs(ctx, vaultID, ids); err != nil {
				return deleted, code.ErrorDBQuery.Clone().WithDetails(err.Error())
			}
			deleted += len(ids)
		}
	}

	horizonBuf, _ := sonic.Marshal(horizon)
	state, err := s.syncStateRepo.Get(ctx, vaultID)
	if err != nil {
		return deleted, code.ErrorDBQuery.Clone().WithDetails(err.Error())
	}
	if state == nil {
		state = &domain.VaultSyncState{VaultID: vaultID}
	}
	state.CompactionHorizon = string(horizonBuf)
	state.LastCompactedAt = time.Now()
	if err := s.syncStateRepo.Save(ctx, state); err != nil {
		return deleted, code.ErrorDBQuery.Clone().WithDetails(err.Error())
	}

	metrics.CompactedRecords.Add(float64(deleted))
	s.logger.Info("change log compacted",
		zap.String(logger.FieldVault, vaultID),
		zap.Int("deleted", deleted))
	return deleted, nil
}

// Status 返回金库同步状态
func (s *coordinatorService) Status(ctx context.Context, vaultID string) (*dto.SyncStatusDTO, error) {
	clocks, err := s.changeSvc.LocalClocks(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	count, err := s.changeRepo.Count(ctx, vaultID)
	if err != nil {
		return nil, code.ErrorDBQuery.Clone().WithDetails(err.Error())
	}
	devices, err := s.deviceRepo.List(ctx, vaultID)
	if err != nil {
		return nil, code.ErrorDBQuery.Clone().WithDetails(err.Error())
	}
	trusted := 0
	for _, d := range devices {
		if d.TrustState.CanSync() {
			trusted++
		}
	}

	status := &dto.SyncStatusDTO{
		VaultID:      vaultID,
		Enabled:      s.config.Enabled,
		LocalClocks:  clocks,
		LogRecords:   count,
		DeviceCount:  len(devices),
		TrustedCount: trusted,
	}
	if state, err := s.syncStateRepo.Get(ctx, vaultID); err == nil && state != nil {
		horizon := vclock.New()
		if state.CompactionHorizon != "" {
			_ = sonic.Unmarshal([]byte(state.CompactionHorizon), &horizon)
		}
		status.CompactionHorizon = horizon
		status.LastCompactedAt = timex.Time(state.LastCompactedAt)
		status.LastFullResyncAt = timex.Time(state.LastFullResyncAt)
	}
	return status, nil
}

// Sessions 分页返回会话历史
func (s *coordinatorService) Sessions(ctx context.Context, vaultID string, page, pageSize int) ([]*dto.SessionDTO, int64, error) {
	sessions, total, err := s.sessionRepo.List(ctx, vaultID, page, pageSize)
	if err != nil {
		return nil, 0, code.ErrorDBQuery.Clone().WithDetails(err.Error())
	}
	var results []*dto.SessionDTO
	for _, sess := range sessions {
		results = append(results, convert.StructAssign(sess, &dto.SessionDTO{}).(*dto.SessionDTO))
	}
	return results, total, nil
}

// HandleHello 应答对端握手
// 验签失败或协议不兼容直接拒绝，不进入交换
func (s *coordinatorService) HandleHello(ctx context.Context, msg *dto.SyncHelloMessage) (*dto.SyncHelloAckMessage, error) {
	if !s.config.Enabled {
		return nil, code.ErrorSyncDisabled
	}
	identity, err := s.deviceSvc.Identity(ctx, msg.VaultID)
	if err != nil {
		return nil, err
	}

	peer, err := s.deviceRepo.GetByDeviceID(ctx, msg.VaultID, msg.DeviceID)
	if err != nil {
		return nil, code.ErrorDBQuery.Clone().WithDetails(err.Error())
	}
	if peer == nil {
		return nil, code.ErrorUnknownSender
	}
	if peer.IsRevoked() {
		return nil, code.ErrorDeviceRevoked
	}
	if peer.IsQuarantined() {
		return nil, code.ErrorDeviceQuarantined
	}
	if !VerifyHello(peer, msg) {
		return nil, code.ErrorAuthenticationFailed
	}
	if semver.Major(msg.ProtocolVersion) != semver.Major(dto.ProtocolVersion) {
		return nil, code.ErrorSessionFailed.Clone().WithDetails("incompatible protocol version " + msg.ProtocolVersion)
	}

	clocks, err := s.changeSvc.LocalClocks(ctx, msg.VaultID)
	if err != nil {
		return nil, err
	}

	// 对端游标早于压缩水位时要求全量重同步
	fullResync := msg.FullResync
	horizon, herr := s.compactionHorizon(ctx, msg.VaultID)
	if herr == nil && horizon != nil && !msg.Clocks.Dominates(horizon) {
		fullResync = true
	}

	sessionID := uuid.NewString()
	rs := &responderSession{vaultID: msg.VaultID, peerID: msg.DeviceID}
	rs.touch()
	s.mu.Lock()
	s.responder[sessionID] = rs
	s.mu.Unlock()

	if err := s.deviceRepo.UpdateLastSeen(ctx, msg.VaultID, msg.DeviceID); err != nil {
		s.logger.Error("update peer last seen failed", zap.Error(err))
	}

	s.logger.Info("handshake accepted",
		zap.String(logger.FieldVault, msg.VaultID),
		zap.String(logger.FieldPeer, msg.DeviceID),
		zap.String(logger.FieldSessionID, sessionID))
	return &dto.SyncHelloAckMessage{
		SessionID:       sessionID,
		DeviceID:        identity.DeviceID,
		ProtocolVersion: dto.ProtocolVersion,
		Clocks:          clocks,
		BaseClock:       horizon,
		FullResync:      fullResync,
	}, nil
}

// session 查找应答侧在途会话并刷新活动时间
func (s *coordinatorService) session(sessionID string) (*responderSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.responder[sessionID]
	if !ok {
		return nil, code.ErrorSessionFailed.Clone().WithDetails("unknown session")
	}
	rs.touch()
	return rs, nil
}

// HandleManifest 应答对端清单，记下对端压缩水位后回显即确认
func (s *coordinatorService) HandleManifest(ctx context.Context, msg *dto.SyncManifestMessage) (*dto.SyncManifestMessage, error) {
	rs, err := s.session(msg.SessionID)
	if err != nil {
		return nil, err
	}
	rs.base = msg.BaseClock
	return msg, nil
}

// HandleBatch 暂存对端批次并回执
// 验签解封即回执，落库推迟到收尾，中途断开的会话不会留下半截日志
func (s *coordinatorService) HandleBatch(ctx context.Context, vaultID string, msg *dto.SyncBatchMessage) (*dto.SyncAckMessage, error) {
	rs, err := s.session(msg.SessionID)
	if err != nil {
		return nil, err
	}
	if rs.vaultID != vaultID || rs.peerID != msg.SenderID {
		return nil, code.ErrorSessionFailed.Clone().WithDetails("sender does not match session")
	}

	identity, err := s.deviceSvc.Identity(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	sender, err := s.deviceRepo.GetByDeviceID(ctx, vaultID, msg.SenderID)
	if err != nil {
		return nil, code.ErrorDBQuery.Clone().WithDetails(err.Error())
	}
	if sender == nil {
		return nil, code.ErrorUnknownSender
	}

	records, err := OpenBatch(identity, sender, msg)
	if err != nil {
		return nil, err
	}
	metrics.BatchRecords.Observe(float64(len(records)))

	s.mu.Lock()
	rs.staged = append(rs.staged, records...)
	received := len(rs.staged)
	s.mu.Unlock()

	return &dto.SyncAckMessage{
		SessionID: msg.SessionID,
		Received:  received,
	}, nil
}

// HandlePull 密封并返回反向的下一个批次
// 首个请求按发起方游标装载待发记录，其后按序号分批发出
func (s *coordinatorService) HandlePull(ctx context.Context, msg *dto.SyncPullMessage) (*dto.SyncBatchMessage, error) {
	rs, err := s.session(msg.SessionID)
	if err != nil {
		return nil, err
	}

	identity, err := s.deviceSvc.Identity(ctx, rs.vaultID)
	if err != nil {
		return nil, err
	}
	peer, err := s.deviceRepo.GetByDeviceID(ctx, rs.vaultID, rs.peerID)
	if err != nil {
		return nil, code.ErrorDBQuery.Clone().WithDetails(err.Error())
	}
	if peer == nil {
		return nil, code.ErrorUnknownSender
	}

	if !rs.pullLoaded {
		cursor := msg.Cursor
		if msg.FullResync {
			cursor = vclock.New()
		}
		records, err := s.changeSvc.RecordsSince(ctx, rs.vaultID, cursor)
		if err != nil {
			return nil, err
		}
		rs.pullBuf = records
		rs.pullOffset = 0
		rs.pullLoaded = true
	}

	end := rs.pullOffset + s.config.BatchSize
	if end > len(rs.pullBuf) {
		end = len(rs.pullBuf)
	}
	final := end >= len(rs.pullBuf)
	batch, err := SealBatch(identity, peer, msg.SessionID, msg.SequenceNo, final, rs.pullBuf[rs.pullOffset:end])
	if err != nil {
		return nil, err
	}
	rs.pullOffset = end
	return batch, nil
}

// HandleComplete 单次提交会话内暂存的全部批次并应答
// 提交失败时整个会话作废，日志保持收尾前的状态
func (s *coordinatorService) HandleComplete(ctx context.Context, msg *dto.SyncCompleteMessage) (*dto.SyncCompleteMessage, error) {
	s.mu.Lock()
	rs, ok := s.responder[msg.SessionID]
	delete(s.responder, msg.SessionID)
	s.mu.Unlock()
	if !ok {
		return nil, code.ErrorSessionFailed.Clone().WithDetails("unknown session")
	}

	result := &IngestResult{}
	if len(rs.staged) > 0 {
		var err error
		if result, err = s.commitStaged(ctx, rs); err != nil {
			return nil, err
		}
	}

	if len(msg.AckClock) > 0 {
		if err := s.persistAckClock(ctx, rs.vaultID, rs.peerID, msg.AckClock); err != nil {
			s.logger.Error("persist peer ack clock failed", zap.Error(err))
		}
	}

	clocks, err := s.changeSvc.LocalClocks(ctx, rs.vaultID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("responder session completed",
		zap.String(logger.FieldSessionID, msg.SessionID),
		zap.String(logger.FieldPeer, rs.peerID),
		zap.Int("applied", result.Applied),
		zap.Int("buffered", result.Buffered))
	return &dto.SyncCompleteMessage{
		SessionID: msg.SessionID,
		AckClock:  clocks,
		Applied:   result.Applied,
		Buffered:  result.Buffered,
	}, nil
}

// commitStaged 摄入会话内暂存的全部记录
func (s *coordinatorService) commitStaged(ctx context.Context, rs *responderSession) (*IngestResult, error) {
	result, err := s.changeSvc.IngestBatch(ctx, rs.vaultID, rs.peerID, rs.base, rs.staged)
	if err != nil {
		s.logger.Warn("staged batch commit failed",
			zap.String(logger.FieldVault, rs.vaultID),
			zap.String(logger.FieldPeer, rs.peerID),
			zap.Int("staged", len(rs.staged)),
			zap.Error(err))
		return nil, err
	}
	metrics.ObserveIngest(result.Applied, result.Buffered, result.Duplicates)
	return result, nil
}

// SweepSessions 清理超过 maxAge 未活动的应答侧会话
// 发起方中途消失时暂存批次随会话一并丢弃，对端下次会话重传
func (s *coordinatorService) SweepSessions(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	swept := 0
	for id, rs := range s.responder {
		if rs.lastActive.Before(cutoff) {
			delete(s.responder, id)
			swept++
			s.logger.Warn("stale responder session swept",
				zap.String(logger.FieldSessionID, id),
				zap.String(logger.FieldPeer, rs.peerID),
				zap.Int("staged", len(rs.staged)))
		}
	}
	return swept
}

// 确保 coordinatorService 实现了 CoordinatorService 接口
var _ CoordinatorService = (*coordinatorService)(nil)
