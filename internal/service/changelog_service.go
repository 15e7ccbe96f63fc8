package service

import (
	"context"
	"sync"

	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/internal/metrics"
	"github.com/haierkeys/vault-device-sync/pkg/code"
	"github.com/haierkeys/vault-device-sync/pkg/logger"
	"github.com/haierkeys/vault-device-sync/pkg/util"
	"github.com/haierkeys/vault-device-sync/pkg/vclock"

	"go.uber.org/zap"
)

// DefaultPendingBufferSize 待定缓冲默认容量
// 超出即判定会话失败并要求全量重同步
const DefaultPendingBufferSize = 512

// IngestResult 批次摄入结果
type IngestResult struct {
	Applied    int // 已持久化的记录数
	Buffered   int // 因果依赖未满足而暂存的记录数
	Duplicates int // 重放丢弃的记录数
}

// ChangeLogService 定义变更日志服务接口
// 日志是同步的唯一事实来源，本地写入与远端摄入都经由此处
type ChangeLogService interface {
	// RecordChange 记录一次本地字段写入
	RecordChange(ctx context.Context, vaultID, entityType, entityID, fieldPath, value string) (*domain.ChangeRecord, error)

	// RecordDelete 记录一次本地实体删除（生命周期字段写入墓碑）
	RecordDelete(ctx context.Context, vaultID, entityType, entityID string) (*domain.ChangeRecord, error)

	// RecordsSince 获取对端游标之后的全部记录，输出满足因果序
	RecordsSince(ctx context.Context, vaultID string, cursor vclock.Clock) ([]*domain.ChangeRecord, error)

	// IngestBatch 摄入对端发来的一批记录
	// base 为发送方声明的压缩水位，水位之下的分量视为已知依赖，可为 nil
	// 单批原子落库，重放丢弃，依赖缺失暂存，时钟回退隔离发送方
	IngestBatch(ctx context.Context, vaultID, senderID string, base vclock.Clock, records []*domain.ChangeRecord) (*IngestResult, error)

	// LocalClocks 返回本地日志的向量时钟
	LocalClocks(ctx context.Context, vaultID string) (vclock.Clock, error)

	// PendingCount 返回待定缓冲中的记录数
	PendingCount(vaultID string) int
}

// changeLogService 实现 ChangeLogService 接口
type changeLogService struct {
	changeRepo   domain.ChangeLogRepository
	deviceRepo   domain.DeviceRepository
	identityRepo domain.IdentityRepository
	resolver     ResolverService
	logger       *zap.Logger

	pendingLimit int

	mu      sync.Mutex
	clocks  map[string]vclock.Clock            // 金库 -> 当前向量时钟
	pending map[string][]*domain.ChangeRecord  // 金库 -> 待定缓冲
}

// NewChangeLogService 创建 ChangeLogService 实例
func NewChangeLogService(
	changeRepo domain.ChangeLogRepository,
	deviceRepo domain.DeviceRepository,
	identityRepo domain.IdentityRepository,
	resolver ResolverService,
	pendingLimit int,
	lg *zap.Logger,
) ChangeLogService {
	if lg == nil {
		lg = zap.NewNop()
	}
	if pendingLimit <= 0 {
		pendingLimit = DefaultPendingBufferSize
	}
	return &changeLogService{
		changeRepo:   changeRepo,
		deviceRepo:   deviceRepo,
		identityRepo: identityRepo,
		resolver:     resolver,
		logger:       lg,
		pendingLimit: pendingLimit,
		clocks:       make(map[string]vclock.Clock),
		pending:      make(map[string][]*domain.ChangeRecord),
	}
}

// loadClocks 加载金库当前向量时钟，惰性从日志重建
// 调用方必须持有 s.mu
func (s *changeLogService) loadClocks(ctx context.Context, vaultID string) (vclock.Clock, error) {
	if clock, ok := s.clocks[vaultID]; ok {
		return clock, nil
	}
	clock, err := s.changeRepo.MaxClocks(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	s.clocks[vaultID] = clock
	return clock, nil
}

// RecordChange 记录一次本地字段写入
func (s *changeLogService) RecordChange(ctx context.Context, vaultID, entityType, entityID, fieldPath, value string) (*domain.ChangeRecord, error) {
	identity, err := s.identityRepo.Get(ctx, vaultID)
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}
	if identity == nil {
		return nil, code.ErrorDeviceNotFound.WithDetails("local identity not provisioned")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clock, err := s.loadClocks(ctx, vaultID)
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}

	// 本地写入递增自身分量，依赖向量为含自身的当前时钟
	next := clock.Tick(identity.DeviceID)
	record := &domain.ChangeRecord{
		VaultID:       vaultID,
		EntityType:    entityType,
		EntityID:      entityID,
		FieldPath:     fieldPath,
		Value:         value,
		DeviceID:      identity.DeviceID,
		LogicalClock:  next,
		CausalDeps:    clock.Clone(),
		WallClockHint: util.NowUnixMilli(),
	}

	created, err := s.changeRepo.Append(ctx, record)
	if err != nil {
		// 落库失败时回滚内存时钟，避免时钟空洞
		clock.Set(identity.DeviceID, next-1)
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}
	metrics.LocalChanges.Inc()

	if _, err := s.resolver.ResolveEntity(ctx, vaultID, entityType, entityID); err != nil {
		s.logger.Warn("resolve after local change failed",
			zap.String(logger.FieldVault, vaultID),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err))
	}
	return created, nil
}

// RecordDelete 记录一次本地实体删除
func (s *changeLogService) RecordDelete(ctx context.Context, vaultID, entityType, entityID string) (*domain.ChangeRecord, error) {
	return s.RecordChange(ctx, vaultID, entityType, entityID, domain.LifecycleFieldPath, domain.TombstoneValue)
}

// RecordsSince 获取对端游标之后的全部记录，输出满足因果序
func (s *changeLogService) RecordsSince(ctx context.Context, vaultID string, cursor vclock.Clock) ([]*domain.ChangeRecord, error) {
	records, err := s.changeRepo.ListSince(ctx, vaultID, cursor)
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}
	return sortCausal(cursor, records), nil
}

// sortCausal 将记录重排为依赖先行的顺序，接收方按此序逐批应用即不会暂存
// 同依赖层内保持仓储的 (设备, 时钟) 稳定序
// 压缩在日志中留下的缺口无法在本地补齐，卡住时优先放行跨设备依赖已满足的记录
func sortCausal(cursor vclock.Clock, records []*domain.ChangeRecord) []*domain.ChangeRecord {
	known := cursor.Clone()
	sorted := make([]*domain.ChangeRecord, 0, len(records))
	remaining := records
	for len(remaining) > 0 {
		var still []*domain.ChangeRecord
		for _, r := range remaining {
			if depsSatisfied(r, known) {
				sorted = append(sorted, r)
				known.Merge(vclock.Clock{r.DeviceID: r.LogicalClock})
			} else {
				still = append(still, r)
			}
		}
		if len(still) == len(remaining) {
			pick := 0
			for i, r := range still {
				if crossDepsSatisfied(r, known) {
					pick = i
					break
				}
			}
			r := still[pick]
			sorted = append(sorted, r)
			known.Merge(vclock.Clock{r.DeviceID: r.LogicalClock})
			still = append(still[:pick], still[pick+1:]...)
		}
		remaining = still
	}
	return sorted
}

// LocalClocks 返回本地日志的向量时钟
func (s *changeLogService) LocalClocks(ctx context.Context, vaultID string) (vclock.Clock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clock, err := s.loadClocks(ctx, vaultID)
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}
	return clock.Clone(), nil
}

// PendingCount 返回待定缓冲中的记录数
func (s *changeLogService) PendingCount(vaultID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[vaultID])
}

// depsSatisfied 判断记录的因果依赖是否被 known 覆盖
// 同一设备的记录必须按时钟连续应用：前驱时钟未知的记录暂存等待补齐
// 中继按消息标识排序投递，乱序到达是常态而非时钟回退
func depsSatisfied(r *domain.ChangeRecord, known vclock.Clock) bool {
	if !crossDepsSatisfied(r, known) {
		return false
	}
	return known.Get(r.DeviceID)+1 >= r.LogicalClock
}

// crossDepsSatisfied 只检查跨设备依赖分量，自身分量不超过记录时钟即可
func crossDepsSatisfied(r *domain.ChangeRecord, known vclock.Clock) bool {
	for dev, cnt := range r.CausalDeps {
		if dev == r.DeviceID {
			if cnt > r.LogicalClock {
				return false
			}
			continue
		}
		if known.Get(dev) < cnt {
			return false
		}
	}
	return true
}

// IngestBatch 摄入对端发来的一批记录
func (s *changeLogService) IngestBatch(ctx context.Context, vaultID, senderID string, base vclock.Clock, records []*domain.ChangeRecord) (*IngestResult, error) {
	sender, err := s.deviceRepo.GetByDeviceID(ctx, vaultID, senderID)
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}
	if sender == nil {
		return nil, code.ErrorUnknownSender
	}
	if sender.IsRevoked() {
		return nil, code.ErrorDeviceRevoked
	}
	if sender.IsQuarantined() {
		return nil, code.ErrorDeviceQuarantined
	}
	if !sender.TrustState.CanSync() {
		return nil, code.ErrorUnknownSender.WithDetails("sender not trusted")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clock, err := s.loadClocks(ctx, vaultID)
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}

	result := &IngestResult{}
	incoming := make([]*domain.ChangeRecord, 0, len(records))
	seen := make(map[string]bool, len(records))

	for _, r := range records {
		// 同批内以及与待定缓冲之间按 (设备, 时钟) 去重，重放消息只计一次
		if seen[r.Key()] {
			result.Duplicates++
			continue
		}
		seen[r.Key()] = true
		exists, err := s.changeRepo.ExistsByDeviceClock(ctx, vaultID, r.DeviceID, r.LogicalClock)
		if err != nil {
			return nil, code.ErrorDBQuery.WithDetails(err.Error())
		}
		if exists {
			result.Duplicates++
			continue
		}
		// 时钟分量已被见过但记录不在日志中，说明设备重用了时钟值
		// 这是数据丢失或时钟损坏的信号，隔离发送方
		// 发送方压缩水位之下的缺失由压缩解释，属全量重同步的正常回填
		if r.DeviceID == senderID && r.LogicalClock <= clock.Get(senderID) && r.LogicalClock > base.Get(senderID) {
			if err := s.deviceRepo.UpdateTrustState(ctx, vaultID, senderID, domain.TrustStateQuarantined); err != nil {
				s.logger.Error("quarantine device failed",
					zap.String(logger.FieldVault, vaultID),
					zap.String(logger.FieldDevice, senderID),
					zap.Error(err))
			}
			s.logger.Warn("logical clock regression, sender quarantined",
				zap.String(logger.FieldVault, vaultID),
				zap.String(logger.FieldDevice, senderID),
				zap.Uint64("recordClock", r.LogicalClock),
				zap.Uint64("knownClock", clock.Get(senderID)))
			return nil, code.ErrorClockRegression
		}
		r.VaultID = vaultID
		incoming = append(incoming, r)
	}

	// 待定缓冲中的记录与本批一起参与依赖求解
	for _, r := range s.pending[vaultID] {
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		incoming = append(incoming, r)
	}
	s.pending[vaultID] = nil

	applied, remaining := s.drainApplicable(clock, base, incoming)

	if len(remaining) > s.pendingLimit {
		// 缓冲溢出，丢弃暂存并要求全量重同步
		s.logger.Warn("dependency buffer overflow",
			zap.String(logger.FieldVault, vaultID),
			zap.String(logger.FieldDevice, senderID),
			zap.Int("buffered", len(remaining)),
			zap.Int("limit", s.pendingLimit))
		return nil, code.ErrorDependencyBufferOverflow
	}

	if len(applied) > 0 {
		if err := s.changeRepo.AppendBatch(ctx, applied); err != nil {
			return nil, code.ErrorDBQuery.WithDetails(err.Error())
		}
		// 事务成功后才推进内存时钟与高水位
		keys := make([]entityKey, 0, len(applied))
		maxByDevice := make(map[string]uint64)
		for _, r := range applied {
			clock.Merge(vclock.Clock{r.DeviceID: r.LogicalClock})
			if r.LogicalClock > maxByDevice[r.DeviceID] {
				maxByDevice[r.DeviceID] = r.LogicalClock
			}
			keys = append(keys, entityKey{EntityType: r.EntityType, EntityID: r.EntityID})
		}
		for dev, max := range maxByDevice {
			if err := s.deviceRepo.UpdateLastClock(ctx, vaultID, dev, max); err != nil {
				s.logger.Error("update device clock failed",
					zap.String(logger.FieldVault, vaultID),
					zap.String(logger.FieldDevice, dev),
					zap.Error(err))
			}
		}
		if err := s.resolver.ResolveEntities(ctx, vaultID, keys); err != nil {
			s.logger.Warn("resolve after ingest failed",
				zap.String(logger.FieldVault, vaultID),
				zap.Error(err))
		}
	}

	s.pending[vaultID] = remaining
	result.Applied = len(applied)
	result.Buffered = len(remaining)

	s.logger.Info("batch ingested",
		zap.String(logger.FieldVault, vaultID),
		zap.String(logger.FieldDevice, senderID),
		zap.Int("applied", result.Applied),
		zap.Int("buffered", result.Buffered),
		zap.Int("duplicates", result.Duplicates))
	return result, nil
}

// drainApplicable 反复从候选集中取出依赖已满足的记录，直到不动点
// base 中的分量视为已知，覆盖发送方压缩掉的日志段
// 返回可应用的记录（依赖序）与仍待定的记录
func (s *changeLogService) drainApplicable(clock, base vclock.Clock, candidates []*domain.ChangeRecord) (applied, remaining []*domain.ChangeRecord) {
	known := clock.Clone()
	known.Merge(base)
	remaining = candidates
	for {
		progressed := false
		var still []*domain.ChangeRecord
		for _, r := range remaining {
			if depsSatisfied(r, known) {
				applied = append(applied, r)
				known.Merge(vclock.Clock{r.DeviceID: r.LogicalClock})
				progressed = true
			} else {
				still = append(still, r)
			}
		}
		remaining = still
		if !progressed || len(remaining) == 0 {
			return applied, remaining
		}
	}
}

// 确保 changeLogService 实现了 ChangeLogService 接口
var _ ChangeLogService = (*changeLogService)(nil)
