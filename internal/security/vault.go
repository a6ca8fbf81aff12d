package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Vault derives a per-process AES-256-GCM key from a master secret via
// HKDF-SHA256, and uses it to encrypt agent API keys at rest and to sign
// outbound webhook deliveries with HMAC-SHA256.
//
// Ciphertext wire format: hex(iv):hex(tag):hex(ciphertext). GCM produces a
// single sealed blob (ciphertext||tag); it is split here only so the format
// matches the documented on-disk representation in spec.md §4.3.
type Vault struct {
	aead cipher.AEAD
}

// NewVault derives the vault's AEAD key from processSecret using
// HKDF-SHA256 with a fixed application-scoped info string, so a vault
// instance created twice from the same secret always derives the same key.
func NewVault(processSecret string) (*Vault, error) {
	if processSecret == "" {
		return nil, fmt.Errorf("vault: process secret must not be empty")
	}

	kdf := hkdf.New(sha256.New, []byte(processSecret), nil, []byte("ocx-competition-core/agent-key-vault"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext (e.g. a provider API key) and returns it encoded
// as hex(iv):hex(tag):hex(ciphertext).
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	iv := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}

	sealed := v.aead.Seal(nil, iv, plaintext, nil)
	tagSize := v.aead.Overhead()
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return fmt.Sprintf("%s:%s:%s", hex.EncodeToString(iv), hex.EncodeToString(tag), hex.EncodeToString(ciphertext)), nil
}

// Decrypt reverses Encrypt. Returns an error if the blob is malformed or
// authentication fails (tampered ciphertext, wrong key).
func (v *Vault) Decrypt(blob string) ([]byte, error) {
	parts := splitBlob(blob)
	if len(parts) != 3 {
		return nil, fmt.Errorf("vault: malformed ciphertext blob")
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("vault: decode iv: %w", err)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("vault: decode tag: %w", err)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("vault: decode ciphertext: %w", err)
	}

	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := v.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt: %w", err)
	}
	return plaintext, nil
}

func splitBlob(blob string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(blob); i++ {
		if blob[i] == ':' {
			parts = append(parts, blob[start:i])
			start = i + 1
		}
	}
	parts = append(parts, blob[start:])
	return parts
}

// SignWebhook computes the HMAC-SHA256 signature over payload using secret,
// for the X-AIO-Signature header on outbound webhook deliveries.
func SignWebhook(secret string, payload []byte) string {
	if secret == "" {
		return "none"
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks an inbound X-AIO-Signature header against
// payload using secret. Constant-time; always returns false for "none"
// against a non-empty secret.
func VerifyWebhookSignature(secret string, payload []byte, signatureHeader string) bool {
	if secret == "" {
		return signatureHeader == "none"
	}
	expected := SignWebhook(secret, payload)
	return hmac.Equal([]byte(signatureHeader), []byte(expected))
}
