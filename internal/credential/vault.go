package credential

import "fmt"

// Settings is the key/value surface of the configuration table.
type Settings interface {
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)
	ListConfig() (map[string]string, error)
}

// Vault stores settings, sealing sensitive ones on the way in and opening
// them on the way out.
type Vault struct {
	settings Settings
	manager  *Manager
}

func NewVault(settings Settings, manager *Manager) *Vault {
	return &Vault{settings: settings, manager: manager}
}

func (v *Vault) Set(key, value string) error {
	if Sensitive(key) && !IsSealed(value) {
		sealed, err := v.manager.Seal(value)
		if err != nil {
			return fmt.Errorf("seal %s: %w", key, err)
		}
		value = sealed
	}
	return v.settings.SetConfig(key, value)
}

// Get returns the plaintext value for key.
func (v *Vault) Get(key string) (string, error) {
	stored, err := v.settings.GetConfig(key)
	if err != nil {
		return "", err
	}
	plain, err := v.manager.Open(stored)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", key, err)
	}
	return plain, nil
}

// List returns every setting with secrets masked.
func (v *Vault) List() (map[string]string, error) {
	all, err := v.settings.ListConfig()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(all))
	for k, stored := range all {
		if !Sensitive(k) && !IsSealed(stored) {
			out[k] = stored
			continue
		}
		plain, err := v.manager.Open(stored)
		if err != nil {
			out[k] = "<unreadable>"
			continue
		}
		out[k] = Mask(plain)
	}
	return out, nil
}
