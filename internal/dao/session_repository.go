package dao

import (
	"context"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/internal/model"
	"github.com/haierkeys/vault-device-sync/pkg/timex"

	"gorm.io/gorm"
)

// sessionRepository implements domain.SessionRepository interface
type sessionRepository struct {
	dao *Dao
}

// NewSessionRepository creates a SessionRepository instance
func NewSessionRepository(dao *Dao) domain.SessionRepository {
	dao.migrateOnce("SyncSession")
	return &sessionRepository{dao: dao}
}

func (r *sessionRepository) toDomain(m *model.SyncSession) *domain.SyncSession {
	if m == nil {
		return nil
	}
	return &domain.SyncSession{
		ID:              m.ID,
		SessionID:       m.SessionID,
		VaultID:         m.VaultID,
		PeerID:          m.PeerID,
		Transport:       m.Transport,
		State:           domain.SessionState(m.State),
		SentRecords:     m.SentRecords,
		ReceivedRecords: m.ReceivedRecords,
		AppliedRecords:  m.AppliedRecords,
		PendingBuffered: m.PendingBuffered,
		FullResync:      m.FullResync,
		FailReason:      m.FailReason,
		StartedAt:       time.Time(m.StartedAt),
		FinishedAt:      time.Time(m.FinishedAt),
		CreatedAt:       time.Time(m.CreatedAt),
		UpdatedAt:       time.Time(m.UpdatedAt),
	}
}

// Create 登记新同步会话
func (r *sessionRepository) Create(ctx context.Context, session *domain.SyncSession) (*domain.SyncSession, error) {
	now := timex.Now()
	m := &model.SyncSession{
		SessionID:       session.SessionID,
		VaultID:         session.VaultID,
		PeerID:          session.PeerID,
		Transport:       session.Transport,
		State:           string(session.State),
		SentRecords:     session.SentRecords,
		ReceivedRecords: session.ReceivedRecords,
		AppliedRecords:  session.AppliedRecords,
		PendingBuffered: session.PendingBuffered,
		FullResync:      session.FullResync,
		FailReason:      session.FailReason,
		StartedAt:       timex.Time(session.StartedAt),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := r.dao.ExecuteWrite(ctx, session.VaultID, func(db *gorm.DB) error {
		return db.WithContext(ctx).Create(m).Error
	})
	if err != nil {
		return nil, err
	}
	return r.toDomain(m), nil
}

// Update 更新会话进度与状态
func (r *sessionRepository) Update(ctx context.Context, session *domain.SyncSession) error {
	updates := map[string]interface{}{
		"state":            string(session.State),
		"sent_records":     session.SentRecords,
		"received_records": session.ReceivedRecords,
		"applied_records":  session.AppliedRecords,
		"pending_buffered": session.PendingBuffered,
		"full_resync":      session.FullResync,
		"fail_reason":      session.FailReason,
		"updated_at":       timex.Now(),
	}
	if !session.FinishedAt.IsZero() {
		updates["finished_at"] = timex.Time(session.FinishedAt)
	}
	return r.dao.ExecuteWrite(ctx, session.VaultID, func(db *gorm.DB) error {
		return db.WithContext(ctx).Model(&model.SyncSession{}).
			Where("session_id = ?", session.SessionID).
			Updates(updates).Error
	})
}

// GetLastByPeer 获取与指定对端最近的一次会话
func (r *sessionRepository) GetLastByPeer(ctx context.Context, vaultID, peerID string) (*domain.SyncSession, error) {
	var m model.SyncSession
	err := r.dao.DB().WithContext(ctx).
		Where("vault_id = ? AND peer_id = ?", vaultID, peerID).
		Order("started_at DESC").
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return r.toDomain(&m), nil
}

// List 分页获取会话历史，按开始时间倒序
func (r *sessionRepository) List(ctx context.Context, vaultID string, page, pageSize int) ([]*domain.SyncSession, int64, error) {
	var count int64
	err := r.dao.DB().WithContext(ctx).Model(&model.SyncSession{}).
		Where("vault_id = ?", vaultID).
		Count(&count).Error
	if err != nil {
		return nil, 0, err
	}

	var modelList []*model.SyncSession
	query := r.dao.DB().WithContext(ctx).
		Where("vault_id = ?", vaultID).
		Order("started_at DESC")
	if page > 0 && pageSize > 0 {
		query = query.Offset((page - 1) * pageSize).Limit(pageSize)
	}
	if err := query.Find(&modelList).Error; err != nil {
		return nil, 0, err
	}

	var results []*domain.SyncSession
	for _, m := range modelList {
		results = append(results, r.toDomain(m))
	}
	return results, count, nil
}

// Ensure sessionRepository implements domain.SessionRepository interface
var _ domain.SessionRepository = (*sessionRepository)(nil)
