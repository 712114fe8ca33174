// Package secretstore implements spec.md's secret store contract
// (key→string get/set/delete, missing returns nil) over the OS keychain.
// Grounded on NeboLoop-nebo's internal/keyring package.
package secretstore

import (
	"errors"
	"fmt"
	"os"

	zkr "github.com/zalando/go-keyring"
)

const service = "lokutor-relay"

// ErrCorrupted wraps a keychain error that is not a plain not-found.
var ErrCorrupted = errors.New("secretstore: corrupted or mis-encrypted entry")

// Store is the secret store contract: key→string get/set/delete, missing
// returns nil, and errors on corrupted storage surface distinctly from
// not-found so callers can fail fast per spec.md §7's error taxonomy.
type Store struct{}

// New returns a Store backed by the OS keychain.
func New() *Store {
	return &Store{}
}

// Get returns the secret for key, or (nil, nil) if it does not exist.
func (s *Store) Get(key string) (*string, error) {
	val, err := zkr.Get(service, key)
	if err != nil {
		if errors.Is(err, zkr.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return &val, nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	if err := zkr.Set(service, key, value); err != nil {
		return fmt.Errorf("secretstore: set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if err := zkr.Delete(service, key); err != nil {
		if errors.Is(err, zkr.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("secretstore: delete %q: %w", key, err)
	}
	return nil
}

// Available reports whether the OS keychain is usable in this process.
// Headless/CI/container environments rarely have one; set
// LOKUTOR_KEYRING_DISABLED=1 to force this off without probing, mirroring
// NeboLoop-nebo's NEBO_KEYRING_DISABLED escape hatch.
func Available() bool {
	if os.Getenv("LOKUTOR_KEYRING_DISABLED") == "1" {
		return false
	}
	const probeKey = "lokutor-relay-probe"
	if err := zkr.Set(service, probeKey, "ok"); err != nil {
		return false
	}
	_ = zkr.Delete(service, probeKey)
	return true
}
