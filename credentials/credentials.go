// Package credentials stores the dealbook database password in the system
// keyring (macOS Keychain, Windows Credential Manager, Linux Secret Service).
package credentials

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the system keyring.
	keyringService = "dealbook"

	// PasswordEnvVar overrides the keyring when set. Used in CI.
	PasswordEnvVar = "DEALBOOK_DB_PASSWORD"
)

var (
	// ErrNoPassword means neither the keyring nor the environment holds a
	// password for the requested user.
	ErrNoPassword = errors.New("no database password stored")

	// ErrKeyringUnavailable indicates the system keyring is not available.
	ErrKeyringUnavailable = errors.New("system keyring unavailable")
)

// account builds the keyring account name for a database user and host.
func account(user, host string) string {
	user = strings.TrimSpace(user)
	host = strings.TrimSpace(host)
	if host == "" {
		return user
	}
	return user + "@" + host
}

// SetDBPassword stores the password for user@host in the keyring.
func SetDBPassword(user, host, password string) error {
	if strings.TrimSpace(user) == "" {
		return errors.New("database user is required")
	}
	if password == "" {
		return errors.New("password is empty")
	}
	if err := keyring.Set(keyringService, account(user, host), password); err != nil {
		return fmt.Errorf("%w: storing password: %v", ErrKeyringUnavailable, err)
	}
	return nil
}

// DBPassword returns the password for user@host. The environment variable
// wins over the keyring.
func DBPassword(user, host string) (string, error) {
	if pw := os.Getenv(PasswordEnvVar); pw != "" {
		return pw, nil
	}
	pw, err := keyring.Get(keyringService, account(user, host))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w for %s", ErrNoPassword, account(user, host))
		}
		return "", fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	return pw, nil
}

// DeleteDBPassword removes the stored password. Deleting a password that was
// never stored is not an error.
func DeleteDBPassword(user, host string) error {
	err := keyring.Delete(keyringService, account(user, host))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	return nil
}

// Description returns a human-readable name for the keyring backend.
func Description() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "windows":
		return "Windows Credential Manager"
	default:
		return "System Keyring (Secret Service)"
	}
}
