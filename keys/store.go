package keys

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/tabkeep"
	"github.com/unkn0wn-root/tabkeep/backend"
	"github.com/zalando/go-keyring"
)

var ErrKeyNotFound = errors.New("keys: key not found")

// FallbackKey is where the reduced-security store keeps key material.
const FallbackKey = tabkeep.ReservedPrefix + "_master_key"

const (
	DefaultService = "tabkeep"
	DefaultAccount = "master-key"
)

// SecretStore persists a single secret.
type SecretStore interface {
	// Get returns ErrKeyNotFound when nothing is stored.
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, secret string) error
	Delete(ctx context.Context) error
}

// Keyring stores the secret in the OS credential store.
type Keyring struct {
	Service string
	Account string
}

var _ SecretStore = Keyring{}

func (k Keyring) ids() (string, string) {
	s, a := k.Service, k.Account
	if s == "" {
		s = DefaultService
	}
	if a == "" {
		a = DefaultAccount
	}
	return s, a
}

func (k Keyring) Get(context.Context) (string, error) {
	s, a := k.ids()
	v, err := keyring.Get(s, a)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keyring get: %w", err)
	}
	return v, nil
}

func (k Keyring) Set(_ context.Context, secret string) error {
	s, a := k.ids()
	if err := keyring.Set(s, a, secret); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

func (k Keyring) Delete(context.Context) error {
	s, a := k.ids()
	err := keyring.Delete(s, a)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}

// BackendStore keeps the secret in the backing store next to the data it
// protects. It exists for devices without a credential store and offers no
// protection against someone who can read the store.
type BackendStore struct {
	Backend backend.Backend
}

var _ SecretStore = BackendStore{}

func (b BackendStore) Get(ctx context.Context) (string, error) {
	v, ok, err := b.Backend.Get(ctx, FallbackKey)
	if err != nil {
		return "", fmt.Errorf("fallback get: %w", err)
	}
	if !ok {
		return "", ErrKeyNotFound
	}
	return string(v), nil
}

func (b BackendStore) Set(ctx context.Context, secret string) error {
	if err := b.Backend.Set(ctx, FallbackKey, []byte(secret)); err != nil {
		return fmt.Errorf("fallback set: %w", err)
	}
	return nil
}

func (b BackendStore) Delete(ctx context.Context) error {
	if err := b.Backend.Remove(ctx, FallbackKey); err != nil {
		return fmt.Errorf("fallback delete: %w", err)
	}
	return nil
}
