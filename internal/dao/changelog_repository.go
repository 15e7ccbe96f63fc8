// Package dao implements the data access layer
package dao

import (
	"context"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/internal/model"
	"github.com/haierkeys/vault-device-sync/pkg/timex"
	"github.com/haierkeys/vault-device-sync/pkg/vclock"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"
)

// changeLogRepository implements domain.ChangeLogRepository interface
type changeLogRepository struct {
	dao *Dao
}

// NewChangeLogRepository creates a ChangeLogRepository instance
func NewChangeLogRepository(dao *Dao) domain.ChangeLogRepository {
	dao.migrateOnce("ChangeRecord")
	return &changeLogRepository{dao: dao}
}

// toDomain converts database model to domain model
func (r *changeLogRepository) toDomain(m *model.ChangeRecord) *domain.ChangeRecord {
	if m == nil {
		return nil
	}
	deps := vclock.New()
	if m.CausalDeps != "" {
		_ = sonic.Unmarshal([]byte(m.CausalDeps), &deps)
	}
	return &domain.ChangeRecord{
		ID:            m.ID,
		VaultID:       m.VaultID,
		EntityType:    m.EntityType,
		EntityID:      m.EntityID,
		FieldPath:     m.FieldPath,
		Value:         m.Value,
		DeviceID:      m.DeviceID,
		LogicalClock:  m.LogicalClock,
		CausalDeps:    deps,
		WallClockHint: m.WallClockHint,
		CreatedAt:     time.Time(m.CreatedAt),
	}
}

// toModel converts domain model to database model
func (r *changeLogRepository) toModel(record *domain.ChangeRecord) *model.ChangeRecord {
	deps, _ := sonic.Marshal(record.CausalDeps)
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &model.ChangeRecord{
		ID:            record.ID,
		VaultID:       record.VaultID,
		EntityType:    record.EntityType,
		EntityID:      record.EntityID,
		FieldPath:     record.FieldPath,
		Value:         record.Value,
		DeviceID:      record.DeviceID,
		LogicalClock:  record.LogicalClock,
		CausalDeps:    string(deps),
		WallClockHint: record.WallClockHint,
		CreatedAt:     timex.Time(createdAt),
	}
}

// Append 追加一条变更记录
func (r *changeLogRepository) Append(ctx context.Context, record *domain.ChangeRecord) (*domain.ChangeRecord, error) {
	m := r.toModel(record)
	err := r.dao.ExecuteWrite(ctx, record.VaultID, func(db *gorm.DB) error {
		return db.WithContext(ctx).Create(m).Error
	})
	if err != nil {
		return nil, err
	}
	return r.toDomain(m), nil
}

// AppendBatch 在单个事务内追加一批变更记录
func (r *changeLogRepository) AppendBatch(ctx context.Context, records []*domain.ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}
	var models []*model.ChangeRecord
	for _, record := range records {
		models = append(models, r.toModel(record))
	}
	return r.dao.Transaction(ctx, records[0].VaultID, func(tx *gorm.DB) error {
		return tx.CreateInBatches(models, 100).Error
	})
}

// GetByDeviceClock 根据设备与逻辑时钟获取记录
func (r *changeLogRepository) GetByDeviceClock(ctx context.Context, vaultID, deviceID string, clock uint64) (*domain.ChangeRecord, error) {
	var m model.ChangeRecord
	err := r.dao.DB().WithContext(ctx).
		Where("vault_id = ? AND device_id = ? AND logical_clock = ?", vaultID, deviceID, clock).
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return r.toDomain(&m), nil
}

// ExistsByDeviceClock 判断记录是否已存在
func (r *changeLogRepository) ExistsByDeviceClock(ctx context.Context, vaultID, deviceID string, clock uint64) (bool, error) {
	var count int64
	err := r.dao.DB().WithContext(ctx).Model(&model.ChangeRecord{}).
		Where("vault_id = ? AND device_id = ? AND logical_clock = ?", vaultID, deviceID, clock).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListSince 获取对端游标之后的所有记录，按 (设备, 时钟) 升序
// 游标裁剪在 Go 侧完成，单金库日志规模有限
func (r *changeLogRepository) ListSince(ctx context.Context, vaultID string, cursor vclock.Clock) ([]*domain.ChangeRecord, error) {
	var modelList []*model.ChangeRecord
	err := r.dao.DB().WithContext(ctx).
		Where("vault_id = ?", vaultID).
		Order("device_id ASC, logical_clock ASC").
		Find(&modelList).Error
	if err != nil {
		return nil, err
	}

	var results []*domain.ChangeRecord
	for _, m := range modelList {
		if m.LogicalClock <= cursor.Get(m.DeviceID) {
			continue
		}
		results = append(results, r.toDomain(m))
	}
	return results, nil
}

// ListByEntity 获取实体的全部记录
func (r *changeLogRepository) ListByEntity(ctx context.Context, vaultID, entityType, entityID string) ([]*domain.ChangeRecord, error) {
	var modelList []*model.ChangeRecord
	err := r.dao.DB().WithContext(ctx).
		Where("vault_id = ? AND entity_type = ? AND entity_id = ?", vaultID, entityType, entityID).
		Order("device_id ASC, logical_clock ASC").
		Find(&modelList).Error
	if err != nil {
		return nil, err
	}

	var results []*domain.ChangeRecord
	for _, m := range modelList {
		results = append(results, r.toDomain(m))
	}
	return results, nil
}

// ListByField 获取实体单个字段的全部记录
func (r *changeLogRepository) ListByField(ctx context.Context, vaultID, entityType, entityID, fieldPath string) ([]*domain.ChangeRecord, error) {
	var modelList []*model.ChangeRecord
	err := r.dao.DB().WithContext(ctx).
		Where("vault_id = ? AND entity_type = ? AND entity_id = ? AND field_path = ?", vaultID, entityType, entityID, fieldPath).
		Order("device_id ASC, logical_clock ASC").
		Find(&modelList).Error
	if err != nil {
		return nil, err
	}

	var results []*domain.ChangeRecord
	for _, m := range modelList {
		results = append(results, r.toDomain(m))
	}
	return results, nil
}

// ListEntityKeys 列出日志中出现过的全部实体键
func (r *changeLogRepository) ListEntityKeys(ctx context.Context, vaultID string) ([]*domain.ChangeRecord, error) {
	var modelList []*model.ChangeRecord
	err := r.dao.DB().WithContext(ctx).
		Select("DISTINCT entity_type, entity_id, vault_id").
		Where("vault_id = ?", vaultID).
		Find(&modelList).Error
	if err != nil {
		return nil, err
	}

	var results []*domain.ChangeRecord
	for _, m := range modelList {
		results = append(results, &domain.ChangeRecord{
			VaultID:    m.VaultID,
			EntityType: m.EntityType,
			EntityID:   m.EntityID,
		})
	}
	return results, nil
}

// MaxClocks 返回日志中每个设备的最大逻辑时钟
func (r *changeLogRepository) MaxClocks(ctx context.Context, vaultID string) (vclock.Clock, error) {
	type row struct {
		DeviceID string
		MaxClock uint64
	}
	var rows []row
	err := r.dao.DB().WithContext(ctx).Model(&model.ChangeRecord{}).
		Select("device_id, MAX(logical_clock) AS max_clock").
		Where("vault_id = ?", vaultID).
		Group("device_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	clock := vclock.New()
	for _, r := range rows {
		clock.Set(r.DeviceID, r.MaxClock)
	}
	return clock, nil
}

// DeleteByIDs 物理删除指定记录，仅供压缩调用
func (r *changeLogRepository) DeleteByIDs(ctx context.Context, vaultID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.dao.ExecuteWrite(ctx, vaultID, func(db *gorm.DB) error {
		return db.WithContext(ctx).
			Where("vault_id = ? AND id IN ?", vaultID, ids).
			Delete(&model.ChangeRecord{}).Error
	})
}

// Count 返回日志记录总数
func (r *changeLogRepository) Count(ctx context.Context, vaultID string) (int64, error) {
	var count int64
	err := r.dao.DB().WithContext(ctx).Model(&model.ChangeRecord{}).
		Where("vault_id = ?", vaultID).
		Count(&count).Error
	return count, err
}

// Ensure changeLogRepository implements domain.ChangeLogRepository interface
var _ domain.ChangeLogRepository = (*changeLogRepository)(nil)
