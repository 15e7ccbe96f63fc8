// Package cryptobox provides authenticated public-key encryption and signing
// Package cryptobox 提供认证公钥加密与签名
// Seal/Open 基于 NaCl box（curve25519 + xsalsa20poly1305），签名基于 ed25519
// 密文按固定粒度填充，除填充粒度外不泄露明文长度
package cryptobox

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/box"
)

const (
	// NonceSize box 随机数长度
	NonceSize = 24
	// PaddingGranularity 明文填充粒度（字节）
	PaddingGranularity = 256
	// FingerprintSize 设备指纹长度（字节）
	FingerprintSize = 20
)

// 错误定义
var (
	// ErrAuthenticationFailed 密文被篡改或密钥不匹配
	ErrAuthenticationFailed = errors.New("cryptobox: authentication failed")
	// ErrInvalidCiphertext 密文格式非法（过短）
	ErrInvalidCiphertext = errors.New("cryptobox: invalid ciphertext")
	// ErrInvalidPadding 解密后填充非法，按篡改处理
	ErrInvalidPadding = errors.New("cryptobox: invalid padding")
)

// BoxKeyPair 加密密钥对（curve25519）
type BoxKeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// SignKeyPair 签名密钥对（ed25519）
type SignKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateBoxKeyPair 生成新的加密密钥对
func GenerateBoxKeyPair() (*BoxKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &BoxKeyPair{Public: *pub, Private: *priv}, nil
}

// GenerateSignKeyPair 生成新的签名密钥对
func GenerateSignKeyPair() (*SignKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &SignKeyPair{Public: pub, Private: priv}, nil
}

// Fingerprint 计算签名公钥的指纹，作为设备 ID
// blake2b-160 十六进制编码
func Fingerprint(pub ed25519.PublicKey) string {
	sum := blake2b.Sum512(pub)
	return hex.EncodeToString(sum[:FingerprintSize])
}

// pad 按 ISO/IEC 7816-4 填充：追加 0x80 后补零到填充粒度的整数倍
func pad(plaintext []byte) []byte {
	padded := make([]byte, 0, len(plaintext)+PaddingGranularity)
	padded = append(padded, plaintext...)
	padded = append(padded, 0x80)
	for len(padded)%PaddingGranularity != 0 {
		padded = append(padded, 0x00)
	}
	return padded
}

// unpad 去除 ISO/IEC 7816-4 填充
func unpad(padded []byte) ([]byte, error) {
	i := len(padded) - 1
	for i >= 0 && padded[i] == 0x00 {
		i--
	}
	if i < 0 || padded[i] != 0x80 {
		return nil, ErrInvalidPadding
	}
	return padded[:i], nil
}

// Seal 认证公钥加密
// 输出格式: nonce(24) || box密文
// 任何比特翻转都会导致 Open 失败
func Seal(plaintext []byte, recipientPub, senderPriv *[32]byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return box.Seal(nonce[:], pad(plaintext), &nonce, recipientPub, senderPriv), nil
}

// Open 解密并验证 Seal 的输出
// 篡改或密钥不匹配返回 ErrAuthenticationFailed
func Open(ciphertext []byte, senderPub, recipientPriv *[32]byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+box.Overhead {
		return nil, ErrInvalidCiphertext
	}
	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	padded, ok := box.Open(nil, ciphertext[NonceSize:], &nonce, senderPub, recipientPriv)
	if !ok {
		return nil, ErrAuthenticationFailed
	}
	plaintext, err := unpad(padded)
	if err != nil {
		// 填充非法等同篡改
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// Sign 对消息签名
func Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Verify 验证签名
func Verify(pub ed25519.PublicKey, message, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}

// RotationMessage 构造密钥轮换断言的规范字节串
// 设备发布新加密公钥时由其稳定签名私钥签署该消息
func RotationMessage(deviceID string, newBoxPub [32]byte, rotatedAt int64) []byte {
	msg := make([]byte, 0, len(deviceID)+64)
	msg = append(msg, []byte("vault-sync/rotate-box-key\x00")...)
	msg = append(msg, []byte(deviceID)...)
	msg = append(msg, 0x00)
	msg = append(msg, newBoxPub[:]...)
	msg = binary.BigEndian.AppendUint64(msg, uint64(rotatedAt))
	return msg
}

// SignRotation 签署密钥轮换断言
func SignRotation(priv ed25519.PrivateKey, deviceID string, newBoxPub [32]byte, rotatedAt int64) []byte {
	return Sign(priv, RotationMessage(deviceID, newBoxPub, rotatedAt))
}

// VerifyRotation 用此前信任的签名公钥验证密钥轮换断言
// 防止被吊销或冒充的设备替换他人的加密密钥
func VerifyRotation(pub ed25519.PublicKey, deviceID string, newBoxPub [32]byte, rotatedAt int64, sig []byte) bool {
	return Verify(pub, RotationMessage(deviceID, newBoxPub, rotatedAt), sig)
}
