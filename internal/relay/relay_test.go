package relay

import (
	"context"
	"encoding/base64"
	"strconv"
	"testing"

	"github.com/haierkeys/vault-device-sync/internal/dto"
	"github.com/haierkeys/vault-device-sync/pkg/code"
	"github.com/haierkeys/vault-device-sync/pkg/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, config Config) *Service {
	store, err := memory.NewClient()
	require.Nil(t, err)
	return NewService(store, config, nil)
}

func pushReq(vaultID, recipient, messageID, sender string, payload []byte) *dto.RelayPushRequest {
	return &dto.RelayPushRequest{
		VaultID:     vaultID,
		RecipientID: recipient,
		MessageID:   messageID,
		SenderID:    sender,
		Payload:     base64.StdEncoding.EncodeToString(payload),
	}
}

func TestPushPullAck(t *testing.T) {
	s := newTestService(t, Config{})
	ctx := context.Background()

	require.Nil(t, s.Push(ctx, pushReq("v1", "dev-b", "m-1", "dev-a", []byte("ciphertext-1"))))
	require.Nil(t, s.Push(ctx, pushReq("v1", "dev-b", "m-2", "dev-a", []byte("ciphertext-2"))))
	// 其他设备的信箱互不可见
	require.Nil(t, s.Push(ctx, pushReq("v1", "dev-c", "m-3", "dev-a", []byte("ciphertext-3"))))

	messages, err := s.Pull(ctx, &dto.RelayPullRequest{VaultID: "v1", RecipientID: "dev-b"})
	require.Nil(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m-1", messages[0].MessageID)
	assert.Equal(t, "dev-a", messages[0].SenderID)

	raw, err := base64.StdEncoding.DecodeString(messages[0].Payload)
	require.Nil(t, err)
	assert.Equal(t, []byte("ciphertext-1"), raw)

	// 拉取不删除，确认后才出队
	messages, err = s.Pull(ctx, &dto.RelayPullRequest{VaultID: "v1", RecipientID: "dev-b"})
	require.Nil(t, err)
	assert.Len(t, messages, 2)

	require.Nil(t, s.Ack(ctx, &dto.RelayAckRequest{
		VaultID: "v1", RecipientID: "dev-b", MessageIDs: []string{"m-1", "m-2"},
	}))
	messages, err = s.Pull(ctx, &dto.RelayPullRequest{VaultID: "v1", RecipientID: "dev-b"})
	require.Nil(t, err)
	assert.Len(t, messages, 0)

	// 重复确认幂等
	require.Nil(t, s.Ack(ctx, &dto.RelayAckRequest{
		VaultID: "v1", RecipientID: "dev-b", MessageIDs: []string{"m-1"},
	}))
}

func TestPushRejectsOversizedBatch(t *testing.T) {
	s := newTestService(t, Config{MaxBatchBytes: 16})

	err := s.Push(context.Background(), pushReq("v1", "dev-b", "m-1", "dev-a", make([]byte, 17)))
	require.NotNil(t, err)
	c, ok := err.(*code.Code)
	require.True(t, ok)
	assert.Equal(t, code.ErrorBatchTooLarge.Code(), c.Code())
}

func TestPushRejectsWhenMailboxFull(t *testing.T) {
	s := newTestService(t, Config{MaxMailboxMessages: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := "m-" + strconv.Itoa(i)
		require.Nil(t, s.Push(ctx, pushReq("v1", "dev-b", id, "dev-a", []byte("x"))))
	}

	err := s.Push(ctx, pushReq("v1", "dev-b", "m-overflow", "dev-a", []byte("x")))
	require.NotNil(t, err)
	c, ok := err.(*code.Code)
	require.True(t, ok)
	assert.Equal(t, code.ErrorRelayStoreFull.Code(), c.Code())

	// 确认腾出空间后恢复接收
	require.Nil(t, s.Ack(ctx, &dto.RelayAckRequest{
		VaultID: "v1", RecipientID: "dev-b", MessageIDs: []string{"m-0"},
	}))
	require.Nil(t, s.Push(ctx, pushReq("v1", "dev-b", "m-overflow", "dev-a", []byte("x"))))

	count, err := s.MailboxCount(ctx, "v1", "dev-b")
	require.Nil(t, err)
	assert.Equal(t, 3, count)
}

func TestPushRejectsBadBase64(t *testing.T) {
	s := newTestService(t, Config{})

	err := s.Push(context.Background(), &dto.RelayPushRequest{
		VaultID: "v1", RecipientID: "dev-b", MessageID: "m-1", SenderID: "dev-a",
		Payload: "%%not-base64%%",
	})
	require.NotNil(t, err)
	c, ok := err.(*code.Code)
	require.True(t, ok)
	assert.Equal(t, code.ErrorInvalidParams.Code(), c.Code())
}
