// Package kvstore persists small string maps under isolated namespaces.
//
// A namespace is replaced as a whole: Replace writes every key at once and a
// concurrent Load sees either the previous map or the new one. Backends differ
// only in where the bytes live (a YAML file, a Redis hash, an OS keyring entry
// or process memory).
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrClosed is returned by namespaces of a store that has been closed.
var ErrClosed = errors.New("kvstore: store closed")

// Namespace is a named group of keys isolated from every other namespace.
type Namespace interface {
	// Load returns a copy of the stored map. A namespace that was never
	// written, or was cleared, loads as an empty map and no error.
	Load(ctx context.Context) (map[string]string, error)

	// Replace atomically swaps the whole namespace for values.
	Replace(ctx context.Context, values map[string]string) error

	// Clear removes the namespace. Clearing an empty namespace is not an error.
	Clear(ctx context.Context) error
}

// Store hands out namespaces.
type Store interface {
	Namespace(name string) Namespace
	Close() error
}

var namespaceName = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,32}$`)

// ValidateNamespace reports whether name can be used as a namespace on every backend.
func ValidateNamespace(name string) error {
	if !namespaceName.MatchString(name) {
		return fmt.Errorf("invalid namespace %q", name)
	}
	return nil
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
