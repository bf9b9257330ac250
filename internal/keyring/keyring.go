package keyring

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/99designs/keyring"
)

const serviceName = "relaunch"

// ErrNoSecret is returned when no webhook secret is stored for a project
var ErrNoSecret = errors.New("no webhook secret stored")

var (
	ring     keyring.Keyring
	ringOnce sync.Once
	ringErr  error

	// openRing is replaced in tests
	openRing = func() (keyring.Keyring, error) {
		return keyring.Open(keyring.Config{
			ServiceName: serviceName,
			AllowedBackends: []keyring.BackendType{
				keyring.KeychainBackend,      // macOS Keychain
				keyring.SecretServiceBackend, // Linux Secret Service (GNOME Keyring, KWallet)
				keyring.WinCredBackend,       // Windows Credential Manager
				keyring.PassBackend,          // Pass (password-store.org)
			},
		})
	}
)

func initKeyring() (keyring.Keyring, error) {
	ringOnce.Do(func() {
		ring, ringErr = openRing()
	})
	return ring, ringErr
}

// projectKey identifies a project by its absolute directory, so two
// checkouts of the same repository can use different secrets
func projectKey(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	return "webhook-secret:" + abs, nil
}

// SetSecret stores the webhook secret for the project in dir
func SetSecret(dir, secret string) error {
	key, err := projectKey(dir)
	if err != nil {
		return err
	}
	kr, err := initKeyring()
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	return kr.Set(keyring.Item{
		Key:         key,
		Data:        []byte(secret),
		Label:       "relaunch webhook secret",
		Description: dir,
	})
}

// GetSecret retrieves the webhook secret for the project in dir.
// Returns ErrNoSecret if none is stored.
func GetSecret(dir string) (string, error) {
	key, err := projectKey(dir)
	if err != nil {
		return "", err
	}
	kr, err := initKeyring()
	if err != nil {
		return "", fmt.Errorf("failed to open keyring: %w", err)
	}

	item, err := kr.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNoSecret
	}
	if err != nil {
		return "", fmt.Errorf("failed to retrieve secret: %w", err)
	}
	return string(item.Data), nil
}

// DeleteSecret removes the stored webhook secret for the project in dir
func DeleteSecret(dir string) error {
	key, err := projectKey(dir)
	if err != nil {
		return err
	}
	kr, err := initKeyring()
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	// Not every backend reports a missing key on Remove
	if _, err := kr.Get(key); errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("%w for '%s'", ErrNoSecret, dir)
	}
	return kr.Remove(key)
}

// HasSecret checks if a webhook secret is stored for the project in dir
func HasSecret(dir string) bool {
	_, err := GetSecret(dir)
	return err == nil
}
