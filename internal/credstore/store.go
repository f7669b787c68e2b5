// Package credstore persists the single network credential pair the
// appliance joins on boot.
package credstore

import (
	"context"
	"fmt"

	"netmgr/internal/kvstore"

	"go.uber.org/zap"
)

const (
	// Namespace keeps the pair apart from every other persisted setting.
	Namespace = "wifi"

	keyName       = "ssid"
	keyPassphrase = "pass"
)

// Credentials is a network name and its passphrase. An empty Name means no
// credentials are stored; an empty Passphrase is a valid open network.
type Credentials struct {
	Name       string
	Passphrase string
}

// Empty reports whether no network is configured
func (c Credentials) Empty() bool {
	return c.Name == ""
}

// Store reads and writes Credentials in a kvstore namespace
type Store struct {
	ns     kvstore.Namespace
	logger *zap.Logger
}

// New creates a credential store on top of kv
func New(kv kvstore.Store, logger *zap.Logger) *Store {
	return &Store{
		ns:     kv.Namespace(Namespace),
		logger: logger.Named("credstore"),
	}
}

// Load returns the last saved pair, or empty Credentials if none was saved
func (s *Store) Load(ctx context.Context) (Credentials, error) {
	values, err := s.ns.Load(ctx)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to load credentials: %w", err)
	}
	return Credentials{
		Name:       values[keyName],
		Passphrase: values[keyPassphrase],
	}, nil
}

// Save persists both fields in one namespace replace
func (s *Store) Save(ctx context.Context, c Credentials) error {
	err := s.ns.Replace(ctx, map[string]string{
		keyName:       c.Name,
		keyPassphrase: c.Passphrase,
	})
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	s.logger.Debug("Credentials saved", zap.String("ssid", c.Name))
	return nil
}

// Clear removes any saved pair
func (s *Store) Clear(ctx context.Context) error {
	if err := s.ns.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	s.logger.Debug("Credentials cleared")
	return nil
}
