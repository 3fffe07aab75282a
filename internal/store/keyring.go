package store

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringBackend guarda os itens no keychain do sistema operacional
type KeyringBackend struct {
	service string
}

// NewKeyringBackend usa o bundle id como nome de serviço no keychain
func NewKeyringBackend(service string) *KeyringBackend {
	return &KeyringBackend{service: service}
}

func (k *KeyringBackend) GetItem(key string) ([]byte, bool, error) {
	if err := ValidateKey(key); err != nil {
		return nil, false, err
	}
	value, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("keychain read %s: %w", key, err)
	}
	return []byte(value), true, nil
}

func (k *KeyringBackend) SetItem(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := keyring.Set(k.service, key, string(value)); err != nil {
		return fmt.Errorf("keychain write %s: %w", key, err)
	}
	return nil
}

func (k *KeyringBackend) RemoveItem(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain delete %s: %w", key, err)
	}
	return nil
}
