package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/TheMichaelB/readsync/internal/client"
	"github.com/TheMichaelB/readsync/internal/creds"
	"github.com/TheMichaelB/readsync/internal/models"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the cookie-sync password in the OS keyring",
	Long: `Login prompts for the cookie-sync password and stores it in the OS keyring
under the configured device UUID. With --notion it stores the Notion
integration token instead. With --file the secret goes to the combined
credentials file (storage.credentials_file) rather than the keyring.`,
	Example: `  readsync login
  readsync login --verify
  readsync login --notion
  readsync login --file
  readsync login --delete`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{noClient: "true"},
	RunE:        runLogin,
}

var (
	loginNotion bool
	loginVerify bool
	loginDelete bool
	loginFile   bool
)

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().BoolVar(&loginNotion, "notion", false,
		"Store the Notion token instead of the cookie-sync password")
	loginCmd.Flags().BoolVar(&loginVerify, "verify", false,
		"Decrypt the cookie-sync export with the new password before storing it")
	loginCmd.Flags().BoolVar(&loginDelete, "delete", false,
		"Remove the stored secret")
	loginCmd.Flags().BoolVar(&loginFile, "file", false,
		"Use the combined credentials file instead of the keyring")
}

func runLogin(cmd *cobra.Command, args []string) error {
	account, label := creds.NotionAccount, "Notion token"
	if !loginNotion {
		if cfg.CookieSync.UUID == "" {
			return fmt.Errorf("%w: cookie_sync.uuid is required", models.ErrInvalidConfig)
		}
		account, label = creds.CookieSyncAccount(cfg.CookieSync.UUID), "Cookie-sync password"
	}

	where := "the keyring"
	if loginFile {
		where = cfg.Storage.CredentialsFile
	}

	if loginDelete {
		if err := saveSecret(account, ""); err != nil {
			return fmt.Errorf("delete %s: %w", strings.ToLower(label), err)
		}
		report(map[string]interface{}{"success": true, "deleted": account},
			"%s removed from %s", label, where)
		return nil
	}

	secret, err := promptPassword(label + ": ")
	if err != nil {
		return fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	if secret == "" {
		return fmt.Errorf("%s must not be empty", strings.ToLower(label))
	}

	if loginVerify && !loginNotion {
		if err := verifyPassword(cmd, secret); err != nil {
			return err
		}
	}

	if err := saveSecret(account, secret); err != nil {
		return fmt.Errorf("store %s: %w", strings.ToLower(label), err)
	}

	report(map[string]interface{}{"success": true, "stored": account},
		"%s stored in %s", label, where)
	return nil
}

// saveSecret stores secret for account, or removes it when secret is empty.
func saveSecret(account, secret string) error {
	if !loginFile {
		store := creds.NewKeyring()
		if secret == "" {
			err := store.Delete(account)
			if errors.Is(err, creds.ErrNotFound) {
				return nil
			}
			return err
		}
		return store.Set(account, secret)
	}

	path := cfg.Storage.CredentialsFile
	combined, err := creds.LoadFromFile(path)
	if errors.Is(err, os.ErrNotExist) {
		combined = &creds.Combined{}
	} else if err != nil {
		return err
	}

	if account == creds.NotionAccount {
		combined.Notion.Token = secret
	} else {
		combined.CookieSync.UUID = cfg.CookieSync.UUID
		combined.CookieSync.Password = secret
	}
	return creds.SaveToFile(path, combined)
}

// verifyPassword decrypts the export with password.
func verifyPassword(cmd *cobra.Command, password string) error {
	trial := *cfg
	trial.CookieSync.Password = password

	c, err := client.New(&trial, nil, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	values, err := c.Cookies.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !jsonOutput {
		printInfo("Decrypted export: %d session cookie(s) found", len(values))
	}
	return nil
}

func report(result map[string]interface{}, format string, args ...interface{}) {
	if jsonOutput {
		printJSON(result)
		return
	}
	printSuccess(format, args...)
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	// Read password without echo
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // New line after password

	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(password)), nil
}
