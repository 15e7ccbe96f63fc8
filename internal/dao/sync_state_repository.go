package dao

import (
	"context"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/internal/model"
	"github.com/haierkeys/vault-device-sync/pkg/timex"

	"gorm.io/gorm"
)

// syncStateRepository implements domain.SyncStateRepository interface
type syncStateRepository struct {
	dao *Dao
}

// NewSyncStateRepository creates a SyncStateRepository instance
func NewSyncStateRepository(dao *Dao) domain.SyncStateRepository {
	dao.migrateOnce("VaultSyncState")
	return &syncStateRepository{dao: dao}
}

func (r *syncStateRepository) toDomain(m *model.VaultSyncState) *domain.VaultSyncState {
	if m == nil {
		return nil
	}
	return &domain.VaultSyncState{
		ID:                m.ID,
		VaultID:           m.VaultID,
		CompactionHorizon: m.CompactionHorizon,
		LastCompactedAt:   time.Time(m.LastCompactedAt),
		LastFullResyncAt:  time.Time(m.LastFullResyncAt),
		CreatedAt:         time.Time(m.CreatedAt),
		UpdatedAt:         time.Time(m.UpdatedAt),
	}
}

// Get 获取金库同步状态
func (r *syncStateRepository) Get(ctx context.Context, vaultID string) (*domain.VaultSyncState, error) {
	var m model.VaultSyncState
	err := r.dao.DB().WithContext(ctx).
		Where("vault_id = ?", vaultID).
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return r.toDomain(&m), nil
}

// Save 写入或更新金库同步状态
func (r *syncStateRepository) Save(ctx context.Context, state *domain.VaultSyncState) error {
	now := timex.Now()
	return r.dao.ExecuteWrite(ctx, state.VaultID, func(db *gorm.DB) error {
		var existing model.VaultSyncState
		err := db.WithContext(ctx).
			Where("vault_id = ?", state.VaultID).
			First(&existing).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return err
		}

		if err == gorm.ErrRecordNotFound {
			m := &model.VaultSyncState{
				VaultID:           state.VaultID,
				CompactionHorizon: state.CompactionHorizon,
				LastCompactedAt:   timex.Time(state.LastCompactedAt),
				LastFullResyncAt:  timex.Time(state.LastFullResyncAt),
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			return db.WithContext(ctx).Create(m).Error
		}

		return db.WithContext(ctx).Model(&existing).
			Updates(map[string]interface{}{
				"compaction_horizon":  state.CompactionHorizon,
				"last_compacted_at":   timex.Time(state.LastCompactedAt),
				"last_full_resync_at": timex.Time(state.LastFullResyncAt),
				"updated_at":          now,
			}).Error
	})
}

// Ensure syncStateRepository implements domain.SyncStateRepository interface
var _ domain.SyncStateRepository = (*syncStateRepository)(nil)
