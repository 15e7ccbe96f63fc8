package service

import (
	"encoding/base64"
	"encoding/binary"
	"strconv"

	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/internal/dto"
	"github.com/haierkeys/vault-device-sync/pkg/code"
	"github.com/haierkeys/vault-device-sync/pkg/cryptobox"

	"github.com/bytedance/sonic"
)

// helloMessage 构造握手签名的规范字节串
func helloMessage(vaultID, deviceID, protocolVersion string, timestamp int64) []byte {
	msg := make([]byte, 0, len(vaultID)+len(deviceID)+len(protocolVersion)+32)
	msg = append(msg, []byte("vault-sync/hello\x00")...)
	msg = append(msg, []byte(vaultID)...)
	msg = append(msg, 0x00)
	msg = append(msg, []byte(deviceID)...)
	msg = append(msg, 0x00)
	msg = append(msg, []byte(protocolVersion)...)
	msg = binary.BigEndian.AppendUint64(msg, uint64(timestamp))
	return msg
}

// SignHello 签署握手消息
func SignHello(identity *domain.LocalIdentity, hello *dto.SyncHelloMessage) error {
	sig := cryptobox.Sign(identity.SignPrivateKey,
		helloMessage(hello.VaultID, hello.DeviceID, hello.ProtocolVersion, hello.Timestamp))
	hello.Signature = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// VerifyHello 用设备注册表中的签名公钥验证握手消息
func VerifyHello(device *domain.DeviceIdentity, hello *dto.SyncHelloMessage) bool {
	sig, err := base64.StdEncoding.DecodeString(hello.Signature)
	if err != nil {
		return false
	}
	return cryptobox.Verify(device.SignPublicKey,
		helloMessage(hello.VaultID, hello.DeviceID, hello.ProtocolVersion, hello.Timestamp), sig)
}

// batchSignMessage 构造批次签名的规范字节串
// 覆盖发送方、会话与序号，密文搬移到其他会话即验签失败
func batchSignMessage(senderID, sessionID string, sequenceNo int, ciphertext []byte) []byte {
	msg := make([]byte, 0, len(senderID)+len(sessionID)+16+len(ciphertext))
	msg = append(msg, []byte("vault-sync/batch\x00")...)
	msg = append(msg, []byte(senderID)...)
	msg = append(msg, 0x00)
	msg = append(msg, []byte(sessionID)...)
	msg = append(msg, 0x00)
	msg = append(msg, []byte(strconv.Itoa(sequenceNo))...)
	msg = append(msg, 0x00)
	msg = append(msg, ciphertext...)
	return msg
}

func recordToDTO(r *domain.ChangeRecord) dto.ChangeRecordDTO {
	return dto.ChangeRecordDTO{
		EntityType:    r.EntityType,
		EntityID:      r.EntityID,
		FieldPath:     r.FieldPath,
		Value:         r.Value,
		DeviceID:      r.DeviceID,
		LogicalClock:  r.LogicalClock,
		CausalDeps:    r.CausalDeps,
		WallClockHint: r.WallClockHint,
	}
}

func recordFromDTO(d dto.ChangeRecordDTO) *domain.ChangeRecord {
	return &domain.ChangeRecord{
		EntityType:    d.EntityType,
		EntityID:      d.EntityID,
		FieldPath:     d.FieldPath,
		Value:         d.Value,
		DeviceID:      d.DeviceID,
		LogicalClock:  d.LogicalClock,
		CausalDeps:    d.CausalDeps,
		WallClockHint: d.WallClockHint,
	}
}

// SealBatch 密封一批变更记录
// 明文只存在于端设备，中继与传输层只见密文
func SealBatch(sender *domain.LocalIdentity, recipient *domain.DeviceIdentity, sessionID string, sequenceNo int, final bool, records []*domain.ChangeRecord) (*dto.SyncBatchMessage, error) {
	wire := make([]dto.ChangeRecordDTO, 0, len(records))
	for _, r := range records {
		wire = append(wire, recordToDTO(r))
	}
	plaintext, err := sonic.Marshal(wire)
	if err != nil {
		return nil, code.ErrorServerInternal.WithDetails(err.Error())
	}

	var senderPriv, recipientPub [32]byte
	copy(senderPriv[:], sender.BoxPrivateKey)
	copy(recipientPub[:], recipient.BoxPublicKey)

	ciphertext, err := cryptobox.Seal(plaintext, &recipientPub, &senderPriv)
	if err != nil {
		return nil, code.ErrorServerInternal.WithDetails(err.Error())
	}

	sig := cryptobox.Sign(sender.SignPrivateKey, batchSignMessage(sender.DeviceID, sessionID, sequenceNo, ciphertext))
	return &dto.SyncBatchMessage{
		SessionID:  sessionID,
		SenderID:   sender.DeviceID,
		SequenceNo: sequenceNo,
		Final:      final,
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Signature:  base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// OpenBatch 验签并解密一批变更记录
// 任何比特翻转都会导致整批作废，失败的批次不进入日志
func OpenBatch(recipient *domain.LocalIdentity, sender *domain.DeviceIdentity, msg *dto.SyncBatchMessage) ([]*domain.ChangeRecord, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(msg.Ciphertext)
	if err != nil {
		return nil, code.ErrorAuthenticationFailed.WithDetails("malformed ciphertext")
	}
	sig, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil {
		return nil, code.ErrorBatchMismatch.WithDetails("malformed signature")
	}

	if !cryptobox.Verify(sender.SignPublicKey, batchSignMessage(msg.SenderID, msg.SessionID, msg.SequenceNo, ciphertext), sig) {
		return nil, code.ErrorBatchMismatch
	}

	var senderPub, recipientPriv [32]byte
	copy(senderPub[:], sender.BoxPublicKey)
	copy(recipientPriv[:], recipient.BoxPrivateKey)

	plaintext, err := cryptobox.Open(ciphertext, &senderPub, &recipientPriv)
	if err != nil {
		return nil, code.ErrorAuthenticationFailed.WithDetails(err.Error())
	}

	var wire []dto.ChangeRecordDTO
	if err := sonic.Unmarshal(plaintext, &wire); err != nil {
		return nil, code.ErrorAuthenticationFailed.WithDetails("malformed batch payload")
	}

	records := make([]*domain.ChangeRecord, 0, len(wire))
	for _, d := range wire {
		records = append(records, recordFromDTO(d))
	}
	return records, nil
}
