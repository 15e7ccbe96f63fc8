// Package service 实现业务逻辑层
package service

import (
	"context"
	"sort"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/pkg/code"
	"github.com/haierkeys/vault-device-sync/pkg/vclock"

	"go.uber.org/zap"
)

// ResolverService 定义冲突裁决服务接口
// 对变更日志折叠得出实体当前态，所有设备看到相同日志即收敛到相同结果
type ResolverService interface {
	// ResolveEntity 裁决单个实体并物化快照
	ResolveEntity(ctx context.Context, vaultID, entityType, entityID string) (*domain.EntitySnapshot, error)

	// ResolveEntities 裁决一组实体
	ResolveEntities(ctx context.Context, vaultID string, keys []entityKey) error

	// ResolveAll 重建金库内全部实体快照，全量重同步后调用
	ResolveAll(ctx context.Context, vaultID string) (int, error)
}

// entityKey 实体定位键
type entityKey struct {
	EntityType string
	EntityID   string
}

// resolverService 实现 ResolverService 接口
type resolverService struct {
	changeRepo   domain.ChangeLogRepository
	snapshotRepo domain.SnapshotRepository
	logger       *zap.Logger
}

// NewResolverService 创建 ResolverService 实例
func NewResolverService(changeRepo domain.ChangeLogRepository, snapshotRepo domain.SnapshotRepository, logger *zap.Logger) ResolverService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &resolverService{
		changeRepo:   changeRepo,
		snapshotRepo: snapshotRepo,
		logger:       logger,
	}
}

// foldField 对同一字段的记录折叠出唯一胜者
// 先剔除被任何记录因果支配的记录，剩余并发前沿按 (墙钟提示, 设备ID, 时钟) 降序取最大
// 结果与输入顺序无关
func foldField(records []*domain.ChangeRecord) *domain.ChangeRecord {
	if len(records) == 0 {
		return nil
	}

	var frontier []*domain.ChangeRecord
	for i, r := range records {
		dominated := false
		for j, s := range records {
			if i == j {
				continue
			}
			switch r.CausalDeps.Compare(s.CausalDeps) {
			case vclock.Before:
				dominated = true
			case vclock.Equal:
				// 依赖向量相同的重复记录按唯一键裁决，保留键大者
				if r.Key() < s.Key() {
					dominated = true
				}
			}
			if dominated {
				break
			}
		}
		if !dominated {
			frontier = append(frontier, r)
		}
	}

	winner := frontier[0]
	for _, r := range frontier[1:] {
		if r.WallClockHint != winner.WallClockHint {
			if r.WallClockHint > winner.WallClockHint {
				winner = r
			}
			continue
		}
		if r.DeviceID != winner.DeviceID {
			if r.DeviceID > winner.DeviceID {
				winner = r
			}
			continue
		}
		if r.LogicalClock > winner.LogicalClock {
			winner = r
		}
	}
	return winner
}

// foldEntity 对实体全部记录按字段折叠
// 返回字段终值表与删除标记
func foldEntity(records []*domain.ChangeRecord) (map[string]domain.ResolvedField, bool) {
	byField := make(map[string][]*domain.ChangeRecord)
	for _, r := range records {
		byField[r.FieldPath] = append(byField[r.FieldPath], r)
	}

	fields := make(map[string]domain.ResolvedField)
	deleted := false
	for fieldPath, group := range byField {
		winner := foldField(group)
		if winner == nil {
			continue
		}
		if domain.PolicyForField(fieldPath) == domain.PolicyLifecycle {
			deleted = winner.IsTombstone()
			continue
		}
		fields[fieldPath] = domain.ResolvedField{
			Value:         winner.Value,
			DeviceID:      winner.DeviceID,
			LogicalClock:  winner.LogicalClock,
			WallClockHint: winner.WallClockHint,
		}
	}
	return fields, deleted
}

// ResolveEntity 裁决单个实体并物化快照
func (s *resolverService) ResolveEntity(ctx context.Context, vaultID, entityType, entityID string) (*domain.EntitySnapshot, error) {
	records, err := s.changeRepo.ListByEntity(ctx, vaultID, entityType, entityID)
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}
	if len(records) == 0 {
		return nil, nil
	}

	fields, deleted := foldEntity(records)
	snapshot := &domain.EntitySnapshot{
		VaultID:    vaultID,
		EntityType: entityType,
		EntityID:   entityID,
		Fields:     fields,
		Deleted:    deleted,
		ResolvedAt: time.Now(),
	}

	if err := s.snapshotRepo.Upsert(ctx, snapshot); err != nil {
		s.logger.Error("upsert entity snapshot failed",
			zap.String("vaultId", vaultID),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err))
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}
	return snapshot, nil
}

// ResolveEntities 裁决一组实体
func (s *resolverService) ResolveEntities(ctx context.Context, vaultID string, keys []entityKey) error {
	// 去重后逐实体裁决
	seen := make(map[entityKey]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		if _, err := s.ResolveEntity(ctx, vaultID, k.EntityType, k.EntityID); err != nil {
			return err
		}
	}
	return nil
}

// ResolveAll 重建金库内全部实体快照
func (s *resolverService) ResolveAll(ctx context.Context, vaultID string) (int, error) {
	keys, err := s.changeRepo.ListEntityKeys(ctx, vaultID)
	if err != nil {
		return 0, code.ErrorDBQuery.WithDetails(err.Error())
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].EntityKey() < keys[j].EntityKey()
	})

	count := 0
	for _, k := range keys {
		if _, err := s.ResolveEntity(ctx, vaultID, k.EntityType, k.EntityID); err != nil {
			return count, err
		}
		count++
	}

	s.logger.Info("vault snapshots rebuilt",
		zap.String("vaultId", vaultID),
		zap.Int("entities", count))
	return count, nil
}

// 确保 resolverService 实现了 ResolverService 接口
var _ ResolverService = (*resolverService)(nil)
