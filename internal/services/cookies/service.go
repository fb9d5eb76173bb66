package cookies

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheMichaelB/readsync/internal/config"
	"github.com/TheMichaelB/readsync/internal/cookies"
	"github.com/TheMichaelB/readsync/internal/crypto"
	"github.com/TheMichaelB/readsync/internal/events"
	"github.com/TheMichaelB/readsync/internal/models"
)

// Fetcher retrieves the encrypted cookie export.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// Service runs fetch → decrypt → extract.
type Service struct {
	fetcher  Fetcher
	decoder  *crypto.Decoder
	password string
	deviceID string
	domains  []string
	logger   *events.Logger
}

// NewService creates a cookies service. A configured strategy name pins the
// decoder to that single key derivation.
func NewService(fetcher Fetcher, cfg *config.CookieSyncConfig, logger *events.Logger) (*Service, error) {
	opts := []crypto.Option{crypto.WithLogger(logger)}
	if cfg.Strategy != "" {
		strategy, err := crypto.StrategyByName(cfg.Strategy)
		if err != nil {
			return nil, fmt.Errorf("%w: cookie_sync.strategy: %v", models.ErrInvalidConfig, err)
		}
		opts = append(opts, crypto.WithStrategies(strategy))
	}

	return &Service{
		fetcher:  fetcher,
		decoder:  crypto.NewDecoder(opts...),
		password: cfg.Password,
		deviceID: cfg.UUID,
		domains:  append([]string(nil), cfg.Domains...),
		logger:   logger.WithField("service", "cookies"),
	}, nil
}

// Jar fetches and decrypts the export and returns every cookie in it.
func (s *Service) Jar(ctx context.Context) (cookies.Jar, error) {
	if s.password == "" {
		return nil, fmt.Errorf("%w: set cookie_sync.password, add it to the credentials file, or run 'readsync login'", models.ErrNoPassword)
	}

	payload, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return nil, &models.SyncError{Code: models.ErrCodeNetwork, Phase: "fetch_cookies", Err: err}
	}

	doc, err := s.decoder.Decode(payload, s.password, s.deviceID)
	if err != nil {
		return nil, &models.SyncError{Code: models.ErrCodeDecryption, Phase: "decrypt_cookies", Err: err}
	}

	jar, err := cookies.FromDocument(doc)
	if err != nil {
		return nil, &models.SyncError{Code: models.ErrCodeCookies, Phase: "parse_cookies", Err: err}
	}

	s.logger.WithFields(map[string]interface{}{
		"domains": len(jar),
		"cookie_count": jar.Count(),
	}).Debug("Decrypted cookie export")

	return jar, nil
}

// Load returns the cookies for the configured domains.
func (s *Service) Load(ctx context.Context) (map[string]string, error) {
	jar, err := s.Jar(ctx)
	if err != nil {
		return nil, err
	}

	found := cookies.Extract(jar, s.domains...)
	if len(found) == 0 {
		return nil, &models.SyncError{
			Code:  models.ErrCodeCookies,
			Phase: "extract_cookies",
			Err:   fmt.Errorf("%w for %v", models.ErrNoCookies, s.domains),
		}
	}

	s.logger.WithField("cookie_count", len(found)).Info("Loaded session cookies")
	return found, nil
}

// Domains returns the configured target domains.
func (s *Service) Domains() []string {
	return append([]string(nil), s.domains...)
}

// IsDecryptError reports whether err came from decrypting the export.
func IsDecryptError(err error) bool {
	return errors.Is(err, crypto.ErrDecryptionFailed) ||
		errors.Is(err, crypto.ErrInvalidPlaintext) ||
		errors.Is(err, crypto.ErrMalformedPayload)
}
