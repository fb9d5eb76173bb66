package creds

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/TheMichaelB/readsync/internal/config"
	"github.com/TheMichaelB/readsync/internal/events"
)

// Sources where a credential was found.
const (
	SourceConfig  = "config"
	SourceFile    = "file"
	SourceKeyring = "keyring"
)

// Resolved records where each credential came from. Empty means not found.
type Resolved struct {
	Password string
	Token    string
}

// Resolve fills in missing credentials in cfg. Values already set by the
// config file or environment win, then the combined credentials file, then
// the keyring. store may be nil.
func Resolve(cfg *config.Config, store SecretStore, logger *events.Logger) (Resolved, error) {
	var res Resolved
	if cfg.CookieSync.Password != "" {
		res.Password = SourceConfig
	}
	if cfg.Notion.Token != "" {
		res.Token = SourceConfig
	}

	if path := cfg.Storage.CredentialsFile; path != "" {
		combined, err := LoadFromFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return res, fmt.Errorf("load credentials file: %w", err)
		default:
			applyCombined(cfg, combined, &res)
		}
	}

	if store == nil {
		return res, nil
	}

	if res.Password == "" && cfg.CookieSync.UUID != "" {
		if pw := lookup(store, CookieSyncAccount(cfg.CookieSync.UUID), logger); pw != "" {
			cfg.CookieSync.Password = pw
			res.Password = SourceKeyring
		}
	}

	if res.Token == "" {
		if token := lookup(store, NotionAccount, logger); token != "" {
			cfg.Notion.Token = token
			res.Token = SourceKeyring
		}
	}

	return res, nil
}

func applyCombined(cfg *config.Config, c *Combined, res *Resolved) {
	if cfg.CookieSync.Server == "" {
		cfg.CookieSync.Server = c.CookieSync.Server
	}
	if cfg.CookieSync.UUID == "" {
		cfg.CookieSync.UUID = c.CookieSync.UUID
	}
	if res.Password == "" && c.CookieSync.Password != "" {
		cfg.CookieSync.Password = c.CookieSync.Password
		res.Password = SourceFile
	}
	if cfg.Notion.DatabaseID == "" {
		cfg.Notion.DatabaseID = c.Notion.DatabaseID
	}
	if res.Token == "" && c.Notion.Token != "" {
		cfg.Notion.Token = c.Notion.Token
		res.Token = SourceFile
	}
}

// lookup treats a missing entry or an unavailable keyring as "not found";
// the caller reports the missing credential.
func lookup(store SecretStore, account string, logger *events.Logger) string {
	secret, err := store.Get(account)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.WithError(err).WithField("account", account).Debug("Keyring unavailable")
		}
		return ""
	}
	return secret
}
