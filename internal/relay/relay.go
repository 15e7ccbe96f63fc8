// Package relay 实现盲中继信箱：暂存加密批次，存储后端可插拔
package relay

import (
	"context"
	"encoding/base64"
	"path"

	"github.com/haierkeys/vault-device-sync/internal/dto"
	"github.com/haierkeys/vault-device-sync/internal/metrics"
	"github.com/haierkeys/vault-device-sync/pkg/code"
	"github.com/haierkeys/vault-device-sync/pkg/logger"
	"github.com/haierkeys/vault-device-sync/pkg/storage"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const (
	// DefaultMaxBatchBytes 单条消息密文上限
	DefaultMaxBatchBytes = 4 * 1024 * 1024
	// DefaultMaxMailboxMessages 单个收件设备的信箱容量
	DefaultMaxMailboxMessages = 256
)

// Config 中继信箱配置
type Config struct {
	MaxBatchBytes      int `yaml:"max-batch-bytes" default:"4194304"`
	MaxMailboxMessages int `yaml:"max-mailbox-messages" default:"256"`
}

// Service 中继信箱服务
// 中继不持有任何金库密钥，收到什么密文就存什么密文
type Service struct {
	store  storage.BatchStore
	config Config
	logger *zap.Logger
}

// envelope 信箱对象的落盘格式，密文之外只携带寻址所需的发送方标识
type envelope struct {
	SenderID string `json:"senderId"`
	Payload  string `json:"payload"`
}

func NewService(store storage.BatchStore, config Config, lg *zap.Logger) *Service {
	if config.MaxBatchBytes <= 0 {
		config.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if config.MaxMailboxMessages <= 0 {
		config.MaxMailboxMessages = DefaultMaxMailboxMessages
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Service{store: store, config: config, logger: lg}
}

// mailboxPrefix 信箱键空间按 (vaultId, recipientId) 分目录
func mailboxPrefix(vaultID, recipientID string) string {
	return vaultID + "/" + recipientID + "/"
}

// Push 投递一条密文消息到收件设备的信箱
// 超出大小限制或信箱已满时拒绝，投递幂等（同 messageId 覆盖写）
func (s *Service) Push(ctx context.Context, params *dto.RelayPushRequest) error {
	raw, err := base64.StdEncoding.DecodeString(params.Payload)
	if err != nil {
		return code.ErrorInvalidParams.WithDetails("payload is not valid base64")
	}
	if len(raw) > s.config.MaxBatchBytes {
		return code.ErrorBatchTooLarge
	}

	prefix := mailboxPrefix(params.VaultID, params.RecipientID)
	keys, err := s.store.List(ctx, prefix)
	if err != nil {
		return code.ErrorServerInternal.WithDetails(err.Error())
	}
	if len(keys) >= s.config.MaxMailboxMessages {
		s.logger.Warn("relay mailbox full",
			zap.String(logger.FieldVault, params.VaultID),
			zap.String(logger.FieldDevice, params.RecipientID),
			zap.Int("count", len(keys)))
		return code.ErrorRelayStoreFull
	}

	buf, err := sonic.Marshal(&envelope{SenderID: params.SenderID, Payload: params.Payload})
	if err != nil {
		return code.ErrorServerInternal.WithDetails(err.Error())
	}
	if err := s.store.Put(ctx, prefix+params.MessageID, buf); err != nil {
		return code.ErrorServerInternal.WithDetails(err.Error())
	}

	metrics.RelayMessages.WithLabelValues("push").Inc()
	s.logger.Info("relay message stored",
		zap.String(logger.FieldVault, params.VaultID),
		zap.String(logger.FieldDevice, params.RecipientID),
		zap.String("messageId", params.MessageID),
		zap.Int("bytes", len(raw)))
	return nil
}

// Pull 取出收件设备信箱内的全部消息，不删除
// 消息按 messageId 升序返回，删除由 Ack 显式完成
func (s *Service) Pull(ctx context.Context, params *dto.RelayPullRequest) ([]*dto.RelayMessageDTO, error) {
	prefix := mailboxPrefix(params.VaultID, params.RecipientID)
	keys, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, code.ErrorServerInternal.WithDetails(err.Error())
	}

	messages := make([]*dto.RelayMessageDTO, 0, len(keys))
	for _, key := range keys {
		buf, err := s.store.Get(ctx, key)
		if err != nil {
			// 并发 Ack 可能已删除该键，跳过
			continue
		}
		var e envelope
		if err := sonic.Unmarshal(buf, &e); err != nil {
			s.logger.Error("relay envelope decode err",
				zap.String("key", key), zap.Error(err))
			continue
		}
		messages = append(messages, &dto.RelayMessageDTO{
			MessageID: path.Base(key),
			SenderID:  e.SenderID,
			Payload:   e.Payload,
		})
	}
	metrics.RelayMessages.WithLabelValues("pull").Add(float64(len(messages)))
	return messages, nil
}

// Ack 确认并删除已取走的消息，重复确认不报错
func (s *Service) Ack(ctx context.Context, params *dto.RelayAckRequest) error {
	prefix := mailboxPrefix(params.VaultID, params.RecipientID)
	for _, id := range params.MessageIDs {
		if err := s.store.Delete(ctx, prefix+id); err != nil {
			return code.ErrorServerInternal.WithDetails(err.Error())
		}
	}
	metrics.RelayMessages.WithLabelValues("ack").Add(float64(len(params.MessageIDs)))
	s.logger.Info("relay messages acked",
		zap.String(logger.FieldVault, params.VaultID),
		zap.String(logger.FieldDevice, params.RecipientID),
		zap.Int("count", len(params.MessageIDs)))
	return nil
}

// MailboxCount 返回收件设备信箱内的消息数量
func (s *Service) MailboxCount(ctx context.Context, vaultID, recipientID string) (int, error) {
	keys, err := s.store.List(ctx, mailboxPrefix(vaultID, recipientID))
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
