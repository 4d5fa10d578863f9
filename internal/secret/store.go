package secret

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Store provides a pluggable interface for database passwords. Connection
// configs name a key (passwordKey); the password itself never lands in the
// job store.
type Store interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// Password resolves key in store. An empty key means no password.
func Password(store Store, key string) (string, error) {
	if key == "" || store == nil {
		return "", nil
	}
	v, err := store.Get(key)
	if err != nil {
		return "", fmt.Errorf("secret %q: %w", key, err)
	}
	return string(v), nil
}

// EnvPrefix is prepended to the upper-cased key by EnvStore.
const EnvPrefix = "SURVEYFLAT_SECRET_"

// EnvStore reads secrets from environment variables: key "mongo-prod"
// maps to SURVEYFLAT_SECRET_MONGO_PROD. Set and Delete only affect the
// current process.
type EnvStore struct {
	mu sync.Mutex
}

// NewEnvStore creates an EnvStore.
func NewEnvStore() *EnvStore { return &EnvStore{} }

// EnvName returns the variable EnvStore reads for key.
func EnvName(key string) string {
	r := strings.NewReplacer("-", "_", ".", "_", " ", "_", "/", "_")
	return EnvPrefix + strings.ToUpper(r.Replace(key))
}

func (e *EnvStore) Set(key string, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return os.Setenv(EnvName(key), string(value))
}

func (e *EnvStore) Get(key string) ([]byte, error) {
	v, ok := os.LookupEnv(EnvName(key))
	if !ok {
		return nil, nil
	}
	return []byte(v), nil
}

func (e *EnvStore) Delete(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return os.Unsetenv(EnvName(key))
}

// Chain reads from each store in turn and returns the first non-empty
// value. Writes go to the first store.
type Chain []Store

func (c Chain) Set(key string, value []byte) error {
	if len(c) == 0 {
		return fmt.Errorf("no secret store configured")
	}
	return c[0].Set(key, value)
}

func (c Chain) Get(key string) ([]byte, error) {
	for _, s := range c {
		v, err := s.Get(key)
		if err != nil {
			return nil, err
		}
		if len(v) > 0 {
			return v, nil
		}
	}
	return nil, nil
}

func (c Chain) Delete(key string) error {
	for _, s := range c {
		if err := s.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Default returns the environment store, backed by the macOS Keychain when
// the `security` tool is available.
func Default() Store {
	if keychainAvailable() {
		return Chain{NewEnvStore(), NewKeychainStore()}
	}
	return NewEnvStore()
}
