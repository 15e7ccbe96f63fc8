package dao

import (
	"context"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/internal/model"
	"github.com/haierkeys/vault-device-sync/pkg/timex"

	"gorm.io/gorm"
)

// identityRepository implements domain.IdentityRepository interface
type identityRepository struct {
	dao *Dao
}

// NewIdentityRepository creates an IdentityRepository instance
func NewIdentityRepository(dao *Dao) domain.IdentityRepository {
	dao.migrateOnce("LocalIdentity")
	return &identityRepository{dao: dao}
}

func (r *identityRepository) toDomain(m *model.LocalIdentity) *domain.LocalIdentity {
	if m == nil {
		return nil
	}
	return &domain.LocalIdentity{
		ID:             m.ID,
		VaultID:        m.VaultID,
		DeviceID:       m.DeviceID,
		DisplayName:    m.DisplayName,
		Platform:       m.Platform,
		BoxPublicKey:   m.BoxPublicKey,
		BoxPrivateKey:  m.BoxPrivateKey,
		SignPublicKey:  m.SignPublicKey,
		SignPrivateKey: m.SignPrivateKey,
		CreatedAt:      time.Time(m.CreatedAt),
		UpdatedAt:      time.Time(m.UpdatedAt),
	}
}

// Get 获取金库的本设备身份
func (r *identityRepository) Get(ctx context.Context, vaultID string) (*domain.LocalIdentity, error) {
	var m model.LocalIdentity
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

// Save 保存本设备身份（创建或密钥轮换后更新）
func (r *identityRepository) Save(ctx context.Context, identity *domain.LocalIdentity) (*domain.LocalIdentity, error) {
	now := timex.Now()
	m := &model.LocalIdentity{
		ID:             identity.ID,
		VaultID:        identity.VaultID,
		DeviceID:       identity.DeviceID,
		DisplayName:    identity.DisplayName,
		Platform:       identity.Platform,
		BoxPublicKey:   identity.BoxPublicKey,
		BoxPrivateKey:  identity.BoxPrivateKey,
		SignPublicKey:  identity.SignPublicKey,
		SignPrivateKey: identity.SignPrivateKey,
		UpdatedAt:      now,
	}
	err := r.dao.ExecuteWrite(ctx, identity.VaultID, func(db *gorm.DB) error {
		if m.ID > 0 {
			return db.WithContext(ctx).Save(m).Error
		}
		m.CreatedAt = now
		return db.WithContext(ctx).Create(m).Error
	})
	if err != nil {
		return nil, err
	}
	return r.toDomain(m), nil
}

// ListVaults 列出本节点已置备身份的全部金库
func (r *identityRepository) ListVaults(ctx context.Context) ([]string, error) {
	var vaults []string
	err := r.dao.DB().WithContext(ctx).
		Model(&model.LocalIdentity{}).
		Order("vault_id ASC").
		Pluck("vault_id", &vaults).Error
	if err != nil {
		return nil, err
	}
	return vaults, nil
}

// Ensure identityRepository implements domain.IdentityRepository interface
var _ domain.IdentityRepository = (*identityRepository)(nil)
