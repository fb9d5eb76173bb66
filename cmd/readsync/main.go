package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/readsync/internal/client"
	"github.com/TheMichaelB/readsync/internal/config"
	"github.com/TheMichaelB/readsync/internal/creds"
	"github.com/TheMichaelB/readsync/internal/crypto"
	"github.com/TheMichaelB/readsync/internal/events"
	"github.com/TheMichaelB/readsync/internal/models"
)

// Commands annotated with noClient run without the state store and
// services.
const noClient = "no-client"

var (
	cfgFile    string
	logLevel   string
	jsonOutput bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "readsync",
	Short: "Sync reading highlights and notes into Notion",
	Long: `readsync decrypts browser cookies stored on a cookie-sync server, uses them
to read your highlights and notes from the reading platform, and writes one
Notion database page per book.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file (default: readsync.json or ~/.config/readsync/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print machine-readable JSON")
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	if logLevel != "" {
		loaded.Log.Level = strings.ToLower(logLevel)
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
		}
	}
	cfg = loaded

	if jsonOutput || !cfg.Log.Color {
		color.NoColor = true
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return err
	}
	events.SetDefault(logger)

	if cmd.Annotations[noClient] != "" {
		return nil
	}

	apiClient, err = client.New(cfg, creds.NewKeyring(), logger)
	return err
}

// teardown runs whether or not the command failed.
func teardown() {
	if apiClient == nil {
		return
	}
	if err := apiClient.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close client")
	}
}

// reported wraps an error the command has already printed.
type reported struct{ error }

func (r reported) Unwrap() error { return r.error }

func main() {
	err := rootCmd.Execute()
	teardown()
	if err != nil {
		var done reported
		switch {
		case errors.As(err, &done):
		case jsonOutput:
			printJSON(map[string]interface{}{"success": false, "error": err.Error()})
		default:
			printError("%v", err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidConfig), errors.Is(err, models.ErrNoPassword),
		errors.Is(err, crypto.ErrEmptyPassword):
		return 2
	case errors.Is(err, models.ErrSessionExpired):
		return 3
	default:
		return 1
	}
}
