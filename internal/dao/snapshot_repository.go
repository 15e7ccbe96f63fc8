package dao

import (
	"context"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/internal/model"
	"github.com/haierkeys/vault-device-sync/pkg/timex"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"
)

// snapshotRepository implements domain.SnapshotRepository interface
type snapshotRepository struct {
	dao *Dao
}

// NewSnapshotRepository creates a SnapshotRepository instance
func NewSnapshotRepository(dao *Dao) domain.SnapshotRepository {
	dao.migrateOnce("EntitySnapshot")
	return &snapshotRepository{dao: dao}
}

func (r *snapshotRepository) toDomain(m *model.EntitySnapshot) *domain.EntitySnapshot {
	if m == nil {
		return nil
	}
	fields := make(map[string]domain.ResolvedField)
	if m.Fields != "" {
		_ = sonic.Unmarshal([]byte(m.Fields), &fields)
	}
	return &domain.EntitySnapshot{
		ID:         m.ID,
		VaultID:    m.VaultID,
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
		Fields:     fields,
		Deleted:    m.Deleted,
		ResolvedAt: time.Time(m.ResolvedAt),
		CreatedAt:  time.Time(m.CreatedAt),
		UpdatedAt:  time.Time(m.UpdatedAt),
	}
}

// Get 获取实体快照
func (r *snapshotRepository) Get(ctx context.Context, vaultID, entityType, entityID string) (*domain.EntitySnapshot, error) {
	var m model.EntitySnapshot
	err := r.dao.DB().WithContext(ctx).
		Where("vault_id = ? AND entity_type = ? AND entity_id = ?", vaultID, entityType, entityID).
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return r.toDomain(&m), nil
}

// Upsert 写入或更新实体快照
func (r *snapshotRepository) Upsert(ctx context.Context, snapshot *domain.EntitySnapshot) error {
	fields, err := sonic.Marshal(snapshot.Fields)
	if err != nil {
		return err
	}
	now := timex.Now()

	return r.dao.ExecuteWrite(ctx, snapshot.VaultID, func(db *gorm.DB) error {
		var existing model.EntitySnapshot
		err := db.WithContext(ctx).
			Where("vault_id = ? AND entity_type = ? AND entity_id = ?", snapshot.VaultID, snapshot.EntityType, snapshot.EntityID).
			First(&existing).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return err
		}

		if err == gorm.ErrRecordNotFound {
			m := &model.EntitySnapshot{
				VaultID:    snapshot.VaultID,
				EntityType: snapshot.EntityType,
				EntityID:   snapshot.EntityID,
				Fields:     string(fields),
				Deleted:    snapshot.Deleted,
				ResolvedAt: timex.Time(snapshot.ResolvedAt),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			return db.WithContext(ctx).Create(m).Error
		}

		return db.WithContext(ctx).Model(&existing).
			Updates(map[string]interface{}{
				"fields":      string(fields),
				"deleted":     snapshot.Deleted,
				"resolved_at": timex.Time(snapshot.ResolvedAt),
				"updated_at":  now,
			}).Error
	})
}

// ListByType 获取某实体类型的全部快照
func (r *snapshotRepository) ListByType(ctx context.Context, vaultID, entityType string) ([]*domain.EntitySnapshot, error) {
	var modelList []*model.EntitySnapshot
	err := r.dao.DB().WithContext(ctx).
		Where("vault_id = ? AND entity_type = ?", vaultID, entityType).
		Order("entity_id ASC").
		Find(&modelList).Error
	if err != nil {
		return nil, err
	}

	var results []*domain.EntitySnapshot
	for _, m := range modelList {
		results = append(results, r.toDomain(m))
	}
	return results, nil
}

// Delete 删除实体快照
func (r *snapshotRepository) Delete(ctx context.Context, vaultID, entityType, entityID string) error {
	return r.dao.ExecuteWrite(ctx, vaultID, func(db *gorm.DB) error {
		return db.WithContext(ctx).
			Where("vault_id = ? AND entity_type = ? AND entity_id = ?", vaultID, entityType, entityID).
			Delete(&model.EntitySnapshot{}).Error
	})
}

// Ensure snapshotRepository implements domain.SnapshotRepository interface
var _ domain.SnapshotRepository = (*snapshotRepository)(nil)
