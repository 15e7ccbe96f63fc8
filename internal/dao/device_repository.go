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

// deviceRepository implements domain.DeviceRepository interface
type deviceRepository struct {
	dao *Dao
}

// NewDeviceRepository creates a DeviceRepository instance
func NewDeviceRepository(dao *Dao) domain.DeviceRepository {
	dao.migrateOnce("Device")
	return &deviceRepository{dao: dao}
}

// toDomain converts database model to domain model
func (r *deviceRepository) toDomain(m *model.Device) *domain.DeviceIdentity {
	if m == nil {
		return nil
	}
	return &domain.DeviceIdentity{
		ID:            m.ID,
		VaultID:       m.VaultID,
		DeviceID:      m.DeviceID,
		DisplayName:   m.DisplayName,
		Platform:      m.Platform,
		BoxPublicKey:  m.BoxPublicKey,
		SignPublicKey: m.SignPublicKey,
		TrustState:    domain.TrustState(m.TrustState),
		Endpoint:      m.Endpoint,
		LastClock:     m.LastClock,
		AckClock:      m.AckClock,
		PairedAt:      time.Time(m.PairedAt),
		RevokedAt:     time.Time(m.RevokedAt),
		LastSeenAt:    time.Time(m.LastSeenAt),
		CreatedAt:     time.Time(m.CreatedAt),
		UpdatedAt:     time.Time(m.UpdatedAt),
	}
}

// GetByDeviceID 根据设备ID获取设备
func (r *deviceRepository) GetByDeviceID(ctx context.Context, vaultID, deviceID string) (*domain.DeviceIdentity, error) {
	var m model.Device
	err := r.dao.DB().WithContext(ctx).
		Where("vault_id = ? AND device_id = ?", vaultID, deviceID).
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return r.toDomain(&m), nil
}

// Create 登记新设备
func (r *deviceRepository) Create(ctx context.Context, device *domain.DeviceIdentity) (*domain.DeviceIdentity, error) {
	now := timex.Now()
	m := &model.Device{
		VaultID:       device.VaultID,
		DeviceID:      device.DeviceID,
		DisplayName:   device.DisplayName,
		Platform:      device.Platform,
		BoxPublicKey:  device.BoxPublicKey,
		SignPublicKey: device.SignPublicKey,
		TrustState:    string(device.TrustState),
		Endpoint:      device.Endpoint,
		LastClock:     device.LastClock,
		AckClock:      device.AckClock,
		PairedAt:      timex.Time(device.PairedAt),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := r.dao.ExecuteWrite(ctx, device.VaultID, func(db *gorm.DB) error {
		return db.WithContext(ctx).Create(m).Error
	})
	if err != nil {
		return nil, err
	}
	return r.toDomain(m), nil
}

// UpdateTrustState 更新设备信任状态
func (r *deviceRepository) UpdateTrustState(ctx context.Context, vaultID, deviceID string, state domain.TrustState) error {
	updates := map[string]interface{}{
		"trust_state": string(state),
		"updated_at":  timex.Now(),
	}
	if state == domain.TrustStateRevoked {
		updates["revoked_at"] = timex.Now()
	}
	return r.dao.ExecuteWrite(ctx, vaultID, func(db *gorm.DB) error {
		return db.WithContext(ctx).Model(&model.Device{}).
			Where("vault_id = ? AND device_id = ?", vaultID, deviceID).
			Updates(updates).Error
	})
}

// UpdateBoxPublicKey 更新加密公钥（密钥轮换）
func (r *deviceRepository) UpdateBoxPublicKey(ctx context.Context, vaultID, deviceID string, boxPublicKey []byte) error {
	return r.dao.ExecuteWrite(ctx, vaultID, func(db *gorm.DB) error {
		return db.WithContext(ctx).Model(&model.Device{}).
			Where("vault_id = ? AND device_id = ?", vaultID, deviceID).
			Updates(map[string]interface{}{
				"box_public_key": boxPublicKey,
				"updated_at":     timex.Now(),
			}).Error
	})
}

// UpdateLastClock 更新已见最大逻辑时钟
func (r *deviceRepository) UpdateLastClock(ctx context.Context, vaultID, deviceID string, clock uint64) error {
	return r.dao.ExecuteWrite(ctx, vaultID, func(db *gorm.DB) error {
		return db.WithContext(ctx).Model(&model.Device{}).
			Where("vault_id = ? AND device_id = ? AND last_clock < ?", vaultID, deviceID, clock).
			Updates(map[string]interface{}{
				"last_clock": clock,
				"updated_at": timex.Now(),
			}).Error
	})
}

// UpdateAckClock 更新对端已确认的向量游标
func (r *deviceRepository) UpdateAckClock(ctx context.Context, vaultID, deviceID string, ackClock vclock.Clock) error {
	buf, err := sonic.Marshal(ackClock)
	if err != nil {
		return err
	}
	return r.dao.ExecuteWrite(ctx, vaultID, func(db *gorm.DB) error {
		return db.WithContext(ctx).Model(&model.Device{}).
			Where("vault_id = ? AND device_id = ?", vaultID, deviceID).
			Updates(map[string]interface{}{
				"ack_clock":  string(buf),
				"updated_at": timex.Now(),
			}).Error
	})
}

// UpdateLastSeen 更新最近联机时间
func (r *deviceRepository) UpdateLastSeen(ctx context.Context, vaultID, deviceID string) error {
	return r.dao.ExecuteWrite(ctx, vaultID, func(db *gorm.DB) error {
		return db.WithContext(ctx).Model(&model.Device{}).
			Where("vault_id = ? AND device_id = ?", vaultID, deviceID).
			Updates(map[string]interface{}{
				"last_seen_at": timex.Now(),
				"updated_at":   timex.Now(),
			}).Error
	})
}

// UpdateEndpoint 更新直连地址
func (r *deviceRepository) UpdateEndpoint(ctx context.Context, vaultID, deviceID, endpoint string) error {
	return r.dao.ExecuteWrite(ctx, vaultID, func(db *gorm.DB) error {
		return db.WithContext(ctx).Model(&model.Device{}).
			Where("vault_id = ? AND device_id = ?", vaultID, deviceID).
			Updates(map[string]interface{}{
				"endpoint":   endpoint,
				"updated_at": timex.Now(),
			}).Error
	})
}

// List 获取金库的全部已知设备
func (r *deviceRepository) List(ctx context.Context, vaultID string) ([]*domain.DeviceIdentity, error) {
	var modelList []*model.Device
	err := r.dao.DB().WithContext(ctx).
		Where("vault_id = ?", vaultID).
		Order("created_at ASC").
		Find(&modelList).Error
	if err != nil {
		return nil, err
	}

	var results []*domain.DeviceIdentity
	for _, m := range modelList {
		results = append(results, r.toDomain(m))
	}
	return results, nil
}

// ListByTrustState 按信任状态获取设备
func (r *deviceRepository) ListByTrustState(ctx context.Context, vaultID string, state domain.TrustState) ([]*domain.DeviceIdentity, error) {
	var modelList []*model.Device
	err := r.dao.DB().WithContext(ctx).
		Where("vault_id = ? AND trust_state = ?", vaultID, string(state)).
		Order("created_at ASC").
		Find(&modelList).Error
	if err != nil {
		return nil, err
	}

	var results []*domain.DeviceIdentity
	for _, m := range modelList {
		results = append(results, r.toDomain(m))
	}
	return results, nil
}

// Ensure deviceRepository implements domain.DeviceRepository interface
var _ domain.DeviceRepository = (*deviceRepository)(nil)
