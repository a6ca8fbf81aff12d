package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVault_EncryptDecrypt_RoundTrip(t *testing.T) {
	v, err := NewVault("test-process-secret")
	require.NoError(t, err)

	blob, err := v.Encrypt([]byte("sk-live-abc123"))
	require.NoError(t, err)
	assert.NotEmpty(t, blob)

	plaintext, err := v.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-abc123", string(plaintext))
}

func TestVault_Decrypt_RejectsTamperedCiphertext(t *testing.T) {
	v, err := NewVault("test-process-secret")
	require.NoError(t, err)

	blob, err := v.Encrypt([]byte("sk-live-abc123"))
	require.NoError(t, err)

	tampered := blob[:len(blob)-2] + "00"
	_, err = v.Decrypt(tampered)
	assert.Error(t, err)
}

func TestVault_DifferentSecrets_ProduceDifferentKeys(t *testing.T) {
	v1, err := NewVault("secret-one")
	require.NoError(t, err)
	v2, err := NewVault("secret-two")
	require.NoError(t, err)

	blob, err := v1.Encrypt([]byte("payload"))
	require.NoError(t, err)

	_, err = v2.Decrypt(blob)
	assert.Error(t, err)
}

func TestSignWebhook_And_Verify(t *testing.T) {
	payload := []byte(`{"event":"turn.completed"}`)
	sig := SignWebhook("whsec_abc", payload)
	assert.Contains(t, sig, "sha256=")

	assert.True(t, VerifyWebhookSignature("whsec_abc", payload, sig))
	assert.False(t, VerifyWebhookSignature("whsec_abc", payload, "sha256=deadbeef"))
	assert.False(t, VerifyWebhookSignature("whsec_abc", []byte("tampered"), sig))
}

func TestSignWebhook_NoSecret_ProducesNone(t *testing.T) {
	sig := SignWebhook("", []byte("payload"))
	assert.Equal(t, "none", sig)
	assert.True(t, VerifyWebhookSignature("", []byte("payload"), "none"))
}
