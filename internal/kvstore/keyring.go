package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

const keyringUser = "values"

// secretBackend is the subset of go-keyring the store uses
type secretBackend interface {
	Get(service, user string) (string, error)
	Set(service, user, secret string) error
	Delete(service, user string) error
}

// osKeyring forwards to the platform keyring selected by go-keyring
type osKeyring struct{}

func (osKeyring) Get(service, user string) (string, error) { return keyring.Get(service, user) }
func (osKeyring) Set(service, user, secret string) error  { return keyring.Set(service, user, secret) }
func (osKeyring) Delete(service, user string) error       { return keyring.Delete(service, user) }

// KeyringStore keeps each namespace as a single JSON secret in the OS keyring
// (Secret Service on Linux). One secret per namespace makes Replace atomic.
//
// Secret Service may wait indefinitely on an unlock prompt that nobody on a
// headless device will answer, so every call is bounded by its context. A
// call abandoned on timeout keeps running in the background and its result
// is discarded.
type KeyringStore struct {
	service string
	secrets secretBackend
	logger  *zap.Logger
}

// NewKeyringStore returns a store whose secrets live under service
func NewKeyringStore(service string, logger *zap.Logger) *KeyringStore {
	return newKeyringStore(service, osKeyring{}, logger)
}

func newKeyringStore(service string, secrets secretBackend, logger *zap.Logger) *KeyringStore {
	return &KeyringStore{
		service: service,
		secrets: secrets,
		logger:  logger.Named("store"),
	}
}

// Namespace returns a handle to the named namespace
func (s *KeyringStore) Namespace(name string) Namespace {
	return &keyringNamespace{store: s, name: name}
}

// Close is a no-op; the keyring has no connection to release.
func (s *KeyringStore) Close() error {
	return nil
}

// bounded runs fn in its own goroutine and gives up when ctx is done
func bounded[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}

	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

type keyringNamespace struct {
	store *KeyringStore
	name  string
}

func (n *keyringNamespace) service() string {
	return n.store.service + "." + n.name
}

func (n *keyringNamespace) Load(ctx context.Context) (map[string]string, error) {
	if err := ValidateNamespace(n.name); err != nil {
		return nil, err
	}

	secret, err := bounded(ctx, func() (string, error) {
		return n.store.secrets.Get(n.service(), keyringUser)
	})
	if errors.Is(err, keyring.ErrNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read namespace %s from keyring: %w", n.name, err)
	}

	values := make(map[string]string)
	if err := json.Unmarshal([]byte(secret), &values); err != nil {
		return nil, fmt.Errorf("failed to parse namespace %s: %w", n.name, err)
	}
	return values, nil
}

func (n *keyringNamespace) Replace(ctx context.Context, values map[string]string) error {
	if err := ValidateNamespace(n.name); err != nil {
		return err
	}

	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode namespace %s: %w", n.name, err)
	}

	_, err = bounded(ctx, func() (struct{}, error) {
		return struct{}{}, n.store.secrets.Set(n.service(), keyringUser, string(data))
	})
	if err != nil {
		return fmt.Errorf("failed to write namespace %s to keyring: %w", n.name, err)
	}
	return nil
}

func (n *keyringNamespace) Clear(ctx context.Context) error {
	if err := ValidateNamespace(n.name); err != nil {
		return err
	}

	_, err := bounded(ctx, func() (struct{}, error) {
		return struct{}{}, n.store.secrets.Delete(n.service(), keyringUser)
	})
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to clear namespace %s: %w", n.name, err)
	}
	return nil
}
