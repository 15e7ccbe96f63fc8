package service

import (
	"encoding/base64"
	"testing"

	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/internal/dto"
	"github.com/haierkeys/vault-device-sync/pkg/cryptobox"
	"github.com/haierkeys/vault-device-sync/pkg/vclock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIdentity(t *testing.T, vaultID string) *domain.LocalIdentity {
	boxKeys, err := cryptobox.GenerateBoxKeyPair()
	require.Nil(t, err)
	signKeys, err := cryptobox.GenerateSignKeyPair()
	require.Nil(t, err)
	return &domain.LocalIdentity{
		VaultID:        vaultID,
		DeviceID:       cryptobox.Fingerprint(signKeys.Public),
		BoxPublicKey:   boxKeys.Public[:],
		BoxPrivateKey:  boxKeys.Private[:],
		SignPublicKey:  signKeys.Public,
		SignPrivateKey: signKeys.Private,
	}
}

func asPeer(id *domain.LocalIdentity) *domain.DeviceIdentity {
	return &domain.DeviceIdentity{
		VaultID:       id.VaultID,
		DeviceID:      id.DeviceID,
		BoxPublicKey:  id.BoxPublicKey,
		SignPublicKey: id.SignPublicKey,
		TrustState:    domain.TrustStateTrusted,
	}
}

func TestSealOpenBatchRoundTrip(t *testing.T) {
	sender := newTestIdentity(t, "v1")
	recipient := newTestIdentity(t, "v1")

	records := []*domain.ChangeRecord{
		{EntityType: "transaction", EntityID: "tx-1", FieldPath: "amount", Value: "12.50",
			DeviceID: sender.DeviceID, LogicalClock: 1, CausalDeps: vclock.Clock{sender.DeviceID: 1}, WallClockHint: 1000},
		{EntityType: "transaction", EntityID: "tx-1", FieldPath: domain.LifecycleFieldPath, Value: domain.TombstoneValue,
			DeviceID: sender.DeviceID, LogicalClock: 2, CausalDeps: vclock.Clock{sender.DeviceID: 2}, WallClockHint: 2000},
	}

	msg, err := SealBatch(sender, asPeer(recipient), "sess-1", 0, true, records)
	require.Nil(t, err)
	assert.Equal(t, sender.DeviceID, msg.SenderID)
	assert.True(t, msg.Final)

	got, err := OpenBatch(recipient, asPeer(sender), msg)
	require.Nil(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "12.50", got[0].Value)
	assert.True(t, got[1].IsTombstone())
	assert.True(t, got[0].CausalDeps.Equal(records[0].CausalDeps))
}

func TestOpenBatchRejectsTampering(t *testing.T) {
	sender := newTestIdentity(t, "v1")
	recipient := newTestIdentity(t, "v1")
	records := []*domain.ChangeRecord{
		{EntityType: "account", EntityID: "a1", FieldPath: "name", Value: "cash",
			DeviceID: sender.DeviceID, LogicalClock: 1, CausalDeps: vclock.Clock{sender.DeviceID: 1}},
	}

	msg, err := SealBatch(sender, asPeer(recipient), "sess-1", 0, true, records)
	require.Nil(t, err)

	// 密文翻转一个比特，验签即失败
	raw, err := base64.StdEncoding.DecodeString(msg.Ciphertext)
	require.Nil(t, err)
	raw[len(raw)/2] ^= 0x01
	tampered := *msg
	tampered.Ciphertext = base64.StdEncoding.EncodeToString(raw)

	_, err = OpenBatch(recipient, asPeer(sender), &tampered)
	require.NotNil(t, err)

	// 密文搬移到其他会话同样失败
	moved := *msg
	moved.SessionID = "sess-2"
	_, err = OpenBatch(recipient, asPeer(sender), &moved)
	require.NotNil(t, err)

	// 第三台设备拿不到明文
	eavesdropper := newTestIdentity(t, "v1")
	_, err = OpenBatch(eavesdropper, asPeer(sender), msg)
	require.NotNil(t, err)
}

func TestHelloSignVerify(t *testing.T) {
	identity := newTestIdentity(t, "v1")

	hello := &dto.SyncHelloMessage{
		VaultID:         "v1",
		DeviceID:        identity.DeviceID,
		ProtocolVersion: dto.ProtocolVersion,
		Timestamp:       1700000000000,
	}
	require.Nil(t, SignHello(identity, hello))
	assert.True(t, VerifyHello(asPeer(identity), hello))

	// 篡改任一字段验签失败
	hello.Timestamp++
	assert.False(t, VerifyHello(asPeer(identity), hello))

	// 其他设备的公钥验不过
	other := newTestIdentity(t, "v1")
	hello.Timestamp--
	assert.False(t, VerifyHello(asPeer(other), hello))
}
