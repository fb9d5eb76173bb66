package crypto

import (
	"errors"
	"fmt"
	"strings"
)

// Errors
var (
	ErrMalformedPayload      = errors.New("malformed payload")
	ErrDecryptionFailed      = errors.New("decryption failed")
	ErrInvalidPlaintext      = errors.New("invalid plaintext")
	ErrEmptyPassword         = errors.New("password is empty")
	ErrStrategyNotApplicable = errors.New("strategy not applicable")
)

// Decode steps reported in DecodeError.
const (
	StepBase64  = "base64"
	StepDerive  = "derive"
	StepDecrypt = "decrypt"
	StepParse   = "parse"
)

// Outcome describes how a single strategy attempt ended.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeNotApplicable Outcome = "not_applicable"
	OutcomeGarbage       Outcome = "garbage"     // no text candidate parsed
	OutcomeNotObject     Outcome = "not_object"  // parsed, but top level is not an object
	OutcomeUnparseable   Outcome = "unparseable" // valid padding and UTF-8, but not JSON
)

// Attempt records one strategy attempt.
type Attempt struct {
	Strategy string
	Outcome  Outcome
	Padded   bool   // PKCS#7 padding verified and stripped
	Encoding string // text encoding that produced the document, on success
}

// DecodeError describes a failed decode.
type DecodeError struct {
	Err      error // one of the sentinel errors above
	Step     string
	Attempts []Attempt
	Cause    error
}

func (e *DecodeError) Error() string {
	var sb strings.Builder
	sb.WriteString("decode ")
	sb.WriteString(e.Step)
	sb.WriteString(": ")
	sb.WriteString(e.Err.Error())
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	if len(e.Attempts) > 0 {
		parts := make([]string, 0, len(e.Attempts))
		for _, a := range e.Attempts {
			parts = append(parts, a.Strategy+"="+string(a.Outcome))
		}
		fmt.Fprintf(&sb, " (tried %s)", strings.Join(parts, ", "))
	}
	return sb.String()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
