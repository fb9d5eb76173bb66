package creds

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// Service is the keyring service name entries are stored under.
const Service = "readsync"

// ErrNotFound is returned when no secret is stored for an account.
var ErrNotFound = errors.New("secret not found")

// SecretStore reads and writes secrets by account name.
type SecretStore interface {
	Get(account string) (string, error)
	Set(account, secret string) error
	Delete(account string) error
}

// Keyring stores secrets in the OS keyring.
type Keyring struct {
	service string
}

// NewKeyring creates a keyring store under Service.
func NewKeyring() *Keyring {
	return &Keyring{service: Service}
}

// Get returns the secret for account.
func (k *Keyring) Get(account string) (string, error) {
	secret, err := keyring.Get(k.service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s: %w", account, err)
	}
	return secret, nil
}

// Set stores the secret for account.
func (k *Keyring) Set(account, secret string) error {
	if err := keyring.Set(k.service, account, secret); err != nil {
		return fmt.Errorf("keyring set %s: %w", account, err)
	}
	return nil
}

// Delete removes the secret for account. Deleting a missing entry is not an
// error.
func (k *Keyring) Delete(account string) error {
	err := keyring.Delete(k.service, account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %s: %w", account, err)
	}
	return nil
}

// CookieSyncAccount names the keyring entry holding the cookie-sync
// password for a device UUID.
func CookieSyncAccount(uuid string) string {
	return "cookie_sync:" + uuid
}

// NotionAccount names the keyring entry holding the Notion token.
const NotionAccount = "notion"
