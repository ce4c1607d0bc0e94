package gemini

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrQuotaExhausted indicates every retry attempt against the
	// generation service failed. Check with errors.Is(); the concrete
	// error embeds the last underlying failure.
	ErrQuotaExhausted = errors.New("generation attempts exhausted")

	// ErrMalformedResponse indicates the generation response was missing
	// the expected candidate text. Counted against the retry budget like
	// any other transient failure.
	ErrMalformedResponse = errors.New("no response text from model")
)

// ExhaustedError aggregates a spent retry budget with the last
// underlying failure. Matches ErrQuotaExhausted under errors.Is.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d generation attempts failed: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrQuotaExhausted }

// quotaPatterns are the substrings the provider uses to signal rate or
// usage limiting. Matched case-insensitively against err.Error().
//
// NOTE: string matching because the raw REST error body carries no
// machine-readable category beyond the message.
var quotaPatterns = []string{"quota", "rate", "429"}

// IsQuotaError reports whether err signals provider rate/usage limiting.
// The retry loop uses it to rotate keys immediately instead of backing
// off; the orchestrator uses it to pick the user-facing error text.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range quotaPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
