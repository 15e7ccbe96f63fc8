package cryptobox

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	alice, err := GenerateBoxKeyPair()
	require.NoError(t, err)
	bob, err := GenerateBoxKeyPair()
	require.NoError(t, err)

	plaintext := []byte(`{"entityId":"acc-1","fieldPath":"balance","value":"100"}`)

	ct, err := Seal(plaintext, &bob.Public, &alice.Private)
	require.NoError(t, err)

	got, err := Open(ct, &alice.Public, &bob.Private)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestOpenRejectsTampering(t *testing.T) {
	alice, _ := GenerateBoxKeyPair()
	bob, _ := GenerateBoxKeyPair()

	ct, err := Seal([]byte("secret"), &bob.Public, &alice.Private)
	require.NoError(t, err)

	// 翻转每个字节逐一验证
	for i := 0; i < len(ct); i++ {
		mutated := bytes.Clone(ct)
		mutated[i] ^= 0x01
		_, err := Open(mutated, &alice.Public, &bob.Private)
		assert.ErrorIs(t, err, ErrAuthenticationFailed, "byte %d", i)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	alice, _ := GenerateBoxKeyPair()
	bob, _ := GenerateBoxKeyPair()
	mallory, _ := GenerateBoxKeyPair()

	ct, err := Seal([]byte("secret"), &bob.Public, &alice.Private)
	require.NoError(t, err)

	_, err = Open(ct, &mallory.Public, &bob.Private)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestOpenRejectsShortCiphertext(t *testing.T) {
	alice, _ := GenerateBoxKeyPair()
	bob, _ := GenerateBoxKeyPair()

	_, err := Open([]byte("short"), &alice.Public, &bob.Private)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestCiphertextLengthHidesPlaintextLength(t *testing.T) {
	alice, _ := GenerateBoxKeyPair()
	bob, _ := GenerateBoxKeyPair()

	// 同一填充块内的明文长度应产生相同的密文长度
	short, err := Seal(bytes.Repeat([]byte("a"), 10), &bob.Public, &alice.Private)
	require.NoError(t, err)
	longer, err := Seal(bytes.Repeat([]byte("a"), 200), &bob.Public, &alice.Private)
	require.NoError(t, err)

	assert.Equal(t, len(short), len(longer))
}

func TestFingerprintIsStable(t *testing.T) {
	kp, err := GenerateSignKeyPair()
	require.NoError(t, err)

	fp1 := Fingerprint(kp.Public)
	fp2 := Fingerprint(kp.Public)
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, FingerprintSize*2)

	other, _ := GenerateSignKeyPair()
	assert.NotEqual(t, fp1, Fingerprint(other.Public))
}

func TestSignVerify(t *testing.T) {
	kp, _ := GenerateSignKeyPair()

	msg := []byte("pairing assertion")
	sig := Sign(kp.Private, msg)
	assert.True(t, Verify(kp.Public, msg, sig))
	assert.False(t, Verify(kp.Public, []byte("other"), sig))

	other, _ := GenerateSignKeyPair()
	assert.False(t, Verify(other.Public, msg, sig))
}

func TestRotationAssertion(t *testing.T) {
	kp, _ := GenerateSignKeyPair()
	newKey, _ := GenerateBoxKeyPair()
	deviceID := Fingerprint(kp.Public)

	sig := SignRotation(kp.Private, deviceID, newKey.Public, 1700000000)

	assert.True(t, VerifyRotation(kp.Public, deviceID, newKey.Public, 1700000000, sig))

	// 参数任一变化都使断言失效
	assert.False(t, VerifyRotation(kp.Public, "other-device", newKey.Public, 1700000000, sig))
	assert.False(t, VerifyRotation(kp.Public, deviceID, newKey.Public, 1700000001, sig))

	attacker, _ := GenerateSignKeyPair()
	forged := SignRotation(attacker.Private, deviceID, newKey.Public, 1700000000)
	assert.False(t, VerifyRotation(kp.Public, deviceID, newKey.Public, 1700000000, forged))
}

func TestProperty_SealOpenAnyPayload(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	alice, _ := GenerateBoxKeyPair()
	bob, _ := GenerateBoxKeyPair()

	properties.Property("open(seal(p)) == p for any payload", prop.ForAll(
		func(payload []byte) bool {
			ct, err := Seal(payload, &bob.Public, &alice.Private)
			if err != nil {
				return false
			}
			got, err := Open(ct, &alice.Public, &bob.Private)
			if err != nil {
				return false
			}
			return bytes.Equal(payload, got)
		},
		gen.SliceOf(gen.UInt8()).Map(func(b []uint8) []byte { return b }),
	))

	properties.Property("ciphertext length is a multiple of padding granularity plus overhead", prop.ForAll(
		func(payload []byte) bool {
			ct, err := Seal(payload, &bob.Public, &alice.Private)
			if err != nil {
				return false
			}
			body := len(ct) - NonceSize - 16 // box.Overhead
			return body > 0 && body%PaddingGranularity == 0
		},
		gen.SliceOf(gen.UInt8()).Map(func(b []uint8) []byte { return b }),
	))

	properties.TestingRun(t)
}
