package credential

import (
	"errors"
	"strings"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManagerWithKey([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m
}

func TestManager_SealOpen(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty string", ""},
		{"simple api key", "sk-1234567890abcdef"},
		{"long key", strings.Repeat("a", 1000)},
		{"unicode content", "schlüssel-鍵"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := m.Seal(tt.plaintext)
			if err != nil {
				t.Fatalf("seal failed: %v", err)
			}
			if tt.plaintext == "" {
				if sealed != "" {
					t.Errorf("Expected empty string to stay empty, got %s", sealed)
				}
				return
			}
			if !IsSealed(sealed) {
				t.Errorf("Expected prefix %s, got %s", SealedPrefix, sealed)
			}
			opened, err := m.Open(sealed)
			if err != nil {
				t.Fatalf("open failed: %v", err)
			}
			if opened != tt.plaintext {
				t.Errorf("Expected %q, got %q", tt.plaintext, opened)
			}
		})
	}
}

func TestManager_Nonce(t *testing.T) {
	m := newTestManager(t)
	a, _ := m.Seal("same")
	b, _ := m.Seal("same")
	if a == b {
		t.Error("Expected distinct ciphertexts for the same plaintext")
	}
}

func TestManager_WrongKey(t *testing.T) {
	sealed, _ := newTestManager(t).Seal("sk-secret")
	other, _ := NewManagerWithKey([]byte("another-secret"))
	if _, err := other.Open(sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Expected ErrDecryptionFailed, got %v", err)
	}
	if _, err := other.Open(SealedPrefix + "!!!"); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Expected ErrInvalidFormat, got %v", err)
	}
}

func TestNewManager_EnvKey(t *testing.T) {
	t.Setenv(KeyEnv, "from-env")
	a, err := NewManager()
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	sealed, _ := a.Seal("value")
	b, _ := NewManagerWithKey([]byte("from-env"))
	if got, err := b.Open(sealed); err != nil || got != "value" {
		t.Errorf("Expected the env key to be used, got %q %v", got, err)
	}
}

func TestSensitive(t *testing.T) {
	for key, want := range map[string]bool{
		"providers.generation.api_key": true,
		"providers.search.API_KEY":     true,
		"storage.path":                 false,
		"api_key_ref":                  false,
	} {
		if got := Sensitive(key); got != want {
			t.Errorf("Sensitive(%s): expected %v, got %v", key, want, got)
		}
	}
}

func TestMask(t *testing.T) {
	if got := Mask("short"); got != "****" {
		t.Errorf("Expected ****, got %s", got)
	}
	if got := Mask("sk-1234567890abcdef"); got != "sk-1...cdef" {
		t.Errorf("Expected sk-1...cdef, got %s", got)
	}
}

type mapSettings map[string]string

func (m mapSettings) SetConfig(k, v string) error { m[k] = v; return nil }
func (m mapSettings) GetConfig(k string) (string, error) {
	v, ok := m[k]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}
func (m mapSettings) ListConfig() (map[string]string, error) { return m, nil }

func TestVault(t *testing.T) {
	settings := mapSettings{}
	v := NewVault(settings, newTestManager(t))

	v.Set("providers.generation.api_key", "sk-1234567890abcdef")
	v.Set("storage.path", "/tmp/mneme.db")

	if !IsSealed(settings["providers.generation.api_key"]) {
		t.Errorf("Expected the api key sealed at rest, got %s", settings["providers.generation.api_key"])
	}
	if settings["storage.path"] != "/tmp/mneme.db" {
		t.Errorf("Expected plain settings stored as-is, got %s", settings["storage.path"])
	}
	if got, _ := v.Get("providers.generation.api_key"); got != "sk-1234567890abcdef" {
		t.Errorf("Expected decrypted key, got %s", got)
	}

	listed, _ := v.List()
	if listed["providers.generation.api_key"] != "sk-1...cdef" {
		t.Errorf("Expected masked key in listing, got %s", listed["providers.generation.api_key"])
	}
	if listed["storage.path"] != "/tmp/mneme.db" {
		t.Errorf("Expected plain value in listing, got %s", listed["storage.path"])
	}
}
