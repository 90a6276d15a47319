// Package keys manages the master encryption key: generation, storage in the
// OS keyring, and an explicit reduced-security fallback when no keyring exists.
package keys

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/unkn0wn-root/tabkeep"
)

// Mode tells where the key lives.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeSecure       // OS credential store
	ModeReduced      // backing store fallback
)

func (m Mode) String() string {
	switch m {
	case ModeSecure:
		return "secure"
	case ModeReduced:
		return "reduced"
	default:
		return "unknown"
	}
}

const keyBytes = 32

// inKeyring is what the fallback store holds once the key lives in the
// keyring. With it present an empty or unreachable keyring means the key is
// unavailable, never that a new one may be generated.
const inKeyring = "@keyring"

var (
	// ErrKeyLost reports a keyring that held the key and no longer does.
	ErrKeyLost = errors.New("keys: key missing from the secure storage that held it")
	// ErrKeyConflict reports different keys in the keyring and the fallback.
	ErrKeyConflict = errors.New("keys: keyring and fallback hold different keys")
)

type Config struct {
	Secure   SecretStore // nil => Keyring with default service/account
	Fallback SecretStore // nil => no reduced mode; keyring failures are fatal
	Logger   tabkeep.Logger
}

// Manager implements tabkeep.KeySource.
type Manager struct {
	secure   SecretStore
	fallback SecretStore
	log      tabkeep.Logger

	mu     sync.Mutex
	active SecretStore
	mode   Mode
	cached string
}

var _ tabkeep.KeySource = (*Manager)(nil)

func NewManager(cfg Config) *Manager {
	m := &Manager{secure: cfg.Secure, fallback: cfg.Fallback, log: cfg.Logger}
	if m.secure == nil {
		m.secure = Keyring{}
	}
	if m.log == nil {
		m.log = tabkeep.NopLogger{}
	}
	return m
}

// GenerateKey returns 256 random bits, hex encoded.
func GenerateKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", &tabkeep.KeyManagementError{Op: "generate", Err: err}
	}
	return hex.EncodeToString(b), nil
}

// Initialize loads the existing key or generates and stores a new one. It is
// idempotent. Every configured store is consulted first: a key found in the
// fallback while the keyring works is moved into the keyring, and a key known
// to live in an unavailable or emptied keyring fails closed instead of being
// replaced. Only when no store holds or has held a key is one generated.
func (m *Manager) Initialize(ctx context.Context) (Mode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.resolve(ctx); err == nil {
		m.warnReduced()
		return m.mode, nil
	} else if !errors.Is(err, ErrKeyNotFound) {
		return ModeUnknown, err
	}

	key, err := GenerateKey()
	if err != nil {
		return ModeUnknown, err
	}
	err = m.active.Set(ctx, key)
	if err != nil && m.mode == ModeSecure && m.fallback != nil {
		m.log.Warn("keyring write failed", tabkeep.Fields{"err": err})
		m.active, m.mode = m.fallback, ModeReduced
		err = m.active.Set(ctx, key)
	}
	if err != nil {
		return ModeUnknown, &tabkeep.KeyManagementError{Op: "initialize", Err: err}
	}
	if m.mode == ModeSecure {
		m.markSecure(ctx)
	}
	m.cached = key
	m.log.Info("encryption key generated", tabkeep.Fields{"mode": m.mode.String()})
	m.warnReduced()
	return m.mode, nil
}

// StoreKey replaces the stored key. key must be 64 hex characters. It is also
// the way back from ErrKeyLost: storing the original key restores access.
func (m *Manager) StoreKey(ctx context.Context, key string) error {
	if err := checkFormat(key); err != nil {
		return &tabkeep.KeyManagementError{Op: "store", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.resolve(ctx); errors.Is(err, ErrKeyLost) {
		m.active, m.mode = m.secure, ModeSecure
	} else if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return err
	}
	if err := m.active.Set(ctx, key); err != nil {
		return &tabkeep.KeyManagementError{Op: "store", Err: err}
	}
	if m.mode == ModeSecure {
		m.markSecure(ctx)
	}
	m.cached = key
	return nil
}

// GetKey returns the key, loading it once from the active store.
func (m *Manager) GetKey(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, err := m.resolve(ctx)
	if errors.Is(err, ErrKeyNotFound) {
		return "", &tabkeep.KeyManagementError{Op: "get", Err: err}
	}
	return key, err
}

func (m *Manager) HasKey(ctx context.Context) bool {
	_, err := m.GetKey(ctx)
	return err == nil
}

// RemoveKey deletes the key. Values sealed with it become unreadable, and the
// next Initialize generates a fresh key.
func (m *Manager) RemoveKey(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.resolve(ctx); err != nil && !errors.Is(err, ErrKeyNotFound) && !errors.Is(err, ErrKeyLost) {
		return err
	}
	if m.active == nil {
		m.active, m.mode = m.secure, ModeSecure
	}
	m.cached = ""
	if err := m.active.Delete(ctx); err != nil {
		return &tabkeep.KeyManagementError{Op: "remove", Err: err}
	}
	if m.mode == ModeSecure && m.fallback != nil {
		if err := m.fallback.Delete(ctx); err != nil {
			return &tabkeep.KeyManagementError{Op: "remove", Err: err}
		}
	}
	return nil
}

// Mode reports where the key lives; ModeUnknown before first use.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// resolve picks the active store and returns the key it holds. It returns
// ErrKeyNotFound only when generating a key is safe. Must be called with m.mu
// held.
func (m *Manager) resolve(ctx context.Context) (string, error) {
	if m.cached != "" {
		return m.cached, nil
	}
	if m.active != nil {
		return m.load(ctx)
	}

	skey, serr := m.secure.Get(ctx)
	secureUp := serr == nil || errors.Is(serr, ErrKeyNotFound)

	fkey, ferr := "", ErrKeyNotFound
	if m.fallback != nil {
		fkey, ferr = m.fallback.Get(ctx)
		if ferr != nil && !errors.Is(ferr, ErrKeyNotFound) {
			return "", &tabkeep.KeyManagementError{Op: "get", Err: ferr}
		}
	}
	marked := ferr == nil && fkey == inKeyring
	fallbackKey := ferr == nil && !marked

	switch {
	case serr == nil:
		m.active, m.mode = m.secure, ModeSecure
		if fallbackKey && fkey != skey {
			return "", &tabkeep.KeyManagementError{Op: "get", Err: ErrKeyConflict}
		}
		if !marked {
			m.markSecure(ctx)
		}
		return m.accept(skey)

	case secureUp && fallbackKey:
		return m.migrate(ctx, fkey)

	case secureUp && marked:
		return "", &tabkeep.KeyManagementError{Op: "get", Err: ErrKeyLost}

	case secureUp:
		m.active, m.mode = m.secure, ModeSecure
		return "", ErrKeyNotFound

	case fallbackKey:
		m.log.Warn("keyring unavailable", tabkeep.Fields{"err": serr})
		m.active, m.mode = m.fallback, ModeReduced
		return m.accept(fkey)

	case marked:
		return "", &tabkeep.KeyManagementError{Op: "get", Err: fmt.Errorf("key is held by secure storage: %w", serr)}

	case m.fallback == nil:
		return "", &tabkeep.KeyManagementError{Op: "get", Err: fmt.Errorf("secure storage unavailable: %w", serr)}

	default:
		m.log.Warn("keyring unavailable", tabkeep.Fields{"err": serr})
		m.active, m.mode = m.fallback, ModeReduced
		return "", ErrKeyNotFound
	}
}

// migrate moves a reduced-mode key into the keyring. If the keyring does not
// take it the key stays in the fallback. Must be called with m.mu held.
func (m *Manager) migrate(ctx context.Context, key string) (string, error) {
	if err := checkFormat(key); err != nil {
		return "", &tabkeep.KeyManagementError{Op: "get", Err: err}
	}
	if err := m.secure.Set(ctx, key); err != nil {
		m.log.Warn("keyring write failed; key stays in reduced mode", tabkeep.Fields{"err": err})
		m.active, m.mode = m.fallback, ModeReduced
		return m.accept(key)
	}
	if got, err := m.secure.Get(ctx); err != nil || got != key {
		m.log.Warn("keyring did not keep the key; key stays in reduced mode", tabkeep.Fields{"err": err})
		m.active, m.mode = m.fallback, ModeReduced
		return m.accept(key)
	}
	m.active, m.mode = m.secure, ModeSecure
	m.markSecure(ctx)
	m.log.Info("encryption key moved to secure storage", nil)
	return m.accept(key)
}

// markSecure replaces any key material in the fallback with the marker that
// the key lives in the keyring. A failed write leaves the fallback key in
// place; the next resolve finishes the move.
func (m *Manager) markSecure(ctx context.Context) {
	if m.fallback == nil {
		return
	}
	if err := m.fallback.Set(ctx, inKeyring); err != nil {
		m.log.Warn("fallback marker write failed", tabkeep.Fields{"err": err})
	}
}

func (m *Manager) accept(key string) (string, error) {
	if err := checkFormat(key); err != nil {
		return "", &tabkeep.KeyManagementError{Op: "get", Err: err}
	}
	m.cached = key
	return key, nil
}

// load reads and validates the key from the active store. Must be called
// with m.mu held.
func (m *Manager) load(ctx context.Context) (string, error) {
	key, err := m.active.Get(ctx)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return "", err
		}
		return "", &tabkeep.KeyManagementError{Op: "get", Err: err}
	}
	return m.accept(key)
}

func (m *Manager) warnReduced() {
	if m.mode == ModeReduced {
		m.log.Warn("encryption key stored in reduced-security mode", tabkeep.Fields{
			"mode":   m.mode.String(),
			"detail": "key material is kept in the data store, not the OS keyring",
		})
	}
}

func checkFormat(key string) error {
	if len(key) != keyBytes*2 {
		return fmt.Errorf("malformed key: want %d hex chars, got %d", keyBytes*2, len(key))
	}
	if _, err := hex.DecodeString(key); err != nil {
		return fmt.Errorf("malformed key: %w", err)
	}
	return nil
}
