// Package kvstore provides the string key/value substrate used where no
// relational engine is available. Values are opaque strings; callers decide
// the encoding (the emulation backend stores whole JSON arrays per key).
package kvstore

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidKey is returned for keys that cannot be mapped to a storage slot.
var ErrInvalidKey = errors.New("invalid key")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Store is implemented by every key/value substrate.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
	// Keys lists the stored keys in lexical order.
	Keys() ([]string, error)
}

func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
