package crypto

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/TheMichaelB/readsync/internal/events"
)

// Decoder decrypts cookie-store exports by trying an ordered list of key
// derivation strategies. It holds no mutable state and is safe for
// concurrent use.
type Decoder struct {
	strategies []KeyDerivation
	logger     *events.Logger
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithStrategies replaces the default strategy chain.
func WithStrategies(strategies ...KeyDerivation) Option {
	return func(d *Decoder) {
		if len(strategies) > 0 {
			d.strategies = strategies
		}
	}
}

// WithLogger sets the logger used to trace the winning strategy.
func WithLogger(logger *events.Logger) Option {
	return func(d *Decoder) {
		d.logger = logger
	}
}

// NewDecoder creates a decoder using DefaultStrategies unless overridden.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{strategies: DefaultStrategies()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Strategies returns the names of the strategies in the order they are tried.
func (d *Decoder) Strategies() []string {
	names := make([]string, len(d.strategies))
	for i, s := range d.strategies {
		names[i] = s.Name()
	}
	return names
}

var defaultDecoder = NewDecoder()

// Decode decrypts payloadB64 with the default strategy chain.
func Decode(payloadB64, password, deviceID string) (Document, error) {
	return defaultDecoder.Decode(payloadB64, password, deviceID)
}

// Decode base64-decodes the payload and tries each strategy in order. The
// first strategy whose plaintext parses to a JSON object wins.
//
// Failures are reported as *DecodeError wrapping ErrMalformedPayload,
// ErrDecryptionFailed, ErrInvalidPlaintext or ErrEmptyPassword.
func (d *Decoder) Decode(payloadB64, password, deviceID string) (Document, error) {
	if password == "" {
		return nil, &DecodeError{Err: ErrEmptyPassword, Step: StepDerive}
	}

	ciphertext, err := decodeBase64(payloadB64)
	if err != nil {
		return nil, &DecodeError{Err: ErrMalformedPayload, Step: StepBase64, Cause: err}
	}
	if len(ciphertext) == 0 || len(ciphertext)%BlockSize != 0 {
		return nil, &DecodeError{
			Err:   ErrMalformedPayload,
			Step:  StepBase64,
			Cause: fmt.Errorf("ciphertext length %d is not a positive multiple of %d", len(ciphertext), BlockSize),
		}
	}

	attempts := make([]Attempt, 0, len(d.strategies))
	plaintextSeen := false

	for _, s := range d.strategies {
		doc, attempt := d.attempt(s, password, deviceID, ciphertext)
		attempts = append(attempts, attempt)

		switch attempt.Outcome {
		case OutcomeSuccess:
			if d.logger != nil {
				d.logger.WithFields(map[string]interface{}{
					"strategy": attempt.Strategy,
					"encoding": attempt.Encoding,
					"attempts": len(attempts),
				}).Debug("Cookie store decrypted")
			}
			return doc, nil
		case OutcomeUnparseable:
			plaintextSeen = true
		}
	}

	if plaintextSeen {
		return nil, &DecodeError{Err: ErrInvalidPlaintext, Step: StepParse, Attempts: attempts}
	}
	return nil, &DecodeError{Err: ErrDecryptionFailed, Step: StepDecrypt, Attempts: attempts}
}

func (d *Decoder) attempt(s KeyDerivation, password, deviceID string, ciphertext []byte) (Document, Attempt) {
	attempt := Attempt{Strategy: s.Name(), Outcome: OutcomeNotApplicable}

	secret, err := s.Derive(password, deviceID, ciphertext)
	if err != nil {
		return nil, attempt
	}

	plain, err := decryptCBC(secret.Key, secret.IV, secret.Body)
	if err != nil {
		return nil, attempt
	}

	plain, attempt.Padded = StripPadding(plain)

	doc, encoding, outcome := parsePlaintext(plain)
	if outcome == OutcomeUnparseable && !attempt.Padded {
		outcome = OutcomeGarbage
	}
	attempt.Outcome = outcome
	attempt.Encoding = encoding
	return doc, attempt
}

// decodeBase64 accepts padded and unpadded standard base64.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("payload is empty")
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}

	data, rawErr := base64.RawStdEncoding.DecodeString(s)
	if rawErr != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return data, nil
}
