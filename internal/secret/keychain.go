package secret

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

const (
	keychainService = "surveyflat"
	keychainTimeout = 5 * time.Second
	// exit status of `security` when no item matches
	keychainNotFound = 44
)

// KeychainStore keeps connection passwords in the macOS login keychain as
// generic passwords of the "surveyflat" service, one account per key.
type KeychainStore struct {
	run func(ctx context.Context, args ...string) ([]byte, error)
}

// NewKeychainStore returns a store backed by the `security` tool.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{run: runSecurity}
}

func runSecurity(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "security", args...).Output()
}

func keychainAvailable() bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	_, err := exec.LookPath("security")
	return err == nil
}

func (k *KeychainStore) exec(args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), keychainTimeout)
	defer cancel()
	return k.run(ctx, args...)
}

func isNotFound(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == keychainNotFound
}

// Set adds or updates the password for key.
func (k *KeychainStore) Set(key string, value []byte) error {
	_, err := k.exec("add-generic-password", "-U", "-a", key, "-s", keychainService, "-w", string(value))
	if err != nil {
		return fmt.Errorf("keychain set %q: %w", key, err)
	}
	return nil
}

// Get returns nil, nil when the keychain holds no password for key.
func (k *KeychainStore) Get(key string) ([]byte, error) {
	out, err := k.exec("find-generic-password", "-a", key, "-s", keychainService, "-w")
	switch {
	case isNotFound(err):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("keychain get %q: %w", key, err)
	}
	return []byte(strings.TrimRight(string(out), "\n")), nil
}

// Delete is a no-op for keys that are not stored.
func (k *KeychainStore) Delete(key string) error {
	_, err := k.exec("delete-generic-password", "-a", key, "-s", keychainService)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("keychain delete %q: %w", key, err)
	}
	return nil
}
