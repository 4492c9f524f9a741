// Package credential encrypts provider API keys before they reach the
// configuration table. Keys come from MNEME_SECRET_KEY when set, otherwise
// they are derived from the machine and user so that a copied database is
// useless elsewhere.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

const (
	// SealedPrefix marks values as encrypted in storage.
	SealedPrefix = "enc:v1:"

	// KeyEnv overrides the machine-derived key.
	KeyEnv = "MNEME_SECRET_KEY"
)

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidFormat    = errors.New("invalid encrypted format")
)

// Manager seals and opens secrets with AES-256-GCM.
type Manager struct {
	aead cipher.AEAD
}

// NewManager builds a manager from KeyEnv, falling back to the machine key.
func NewManager() (*Manager, error) {
	if secret := os.Getenv(KeyEnv); secret != "" {
		return NewManagerWithKey([]byte(secret))
	}
	return NewManagerWithKey(machineKey())
}

// NewManagerWithKey hashes secret into an AES-256 key.
func NewManagerWithKey(secret []byte) (*Manager, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty credential key")
	}
	key := sha256.Sum256(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Manager{aead: aead}, nil
}

// Seal encrypts plaintext into a storable string. Empty input stays empty.
func (m *Manager) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := m.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Values without the prefix are
// returned unchanged so hand-edited plaintext keeps working.
func (m *Manager) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	n := m.aead.NonceSize()
	if len(raw) < n {
		return "", ErrInvalidFormat
	}
	plain, err := m.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// Sensitive reports whether a configuration key holds a secret.
func Sensitive(key string) bool {
	key = strings.ToLower(key)
	return strings.HasSuffix(key, ".api_key") || strings.HasSuffix(key, ".token") || key == "api_key"
}

// Mask hides all but the edges of a secret for display.
func Mask(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func machineKey() []byte {
	var b strings.Builder
	hostname, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	b.WriteString(hostname)
	b.WriteString(home)
	b.WriteString(runtime.GOOS + "/" + runtime.GOARCH)
	fmt.Fprintf(&b, "uid:%d", os.Getuid())
	b.WriteString(os.Getenv("USER"))
	b.WriteString("mneme-credential-v1")
	return []byte(b.String())
}
