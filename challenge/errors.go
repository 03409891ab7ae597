package challenge

import (
	"errors"
	"fmt"
)

// ErrMalformedChallenge is wrapped by ExtractionError when the challenge page
// does not contain the expected form.
var ErrMalformedChallenge = errors.New("malformed challenge page")

// FirewallBlockError is returned when the site's firewall denies the request
// outright. Retrying will not help.
type FirewallBlockError struct {
	URL string
}

func (e *FirewallBlockError) Error() string {
	return fmt.Sprintf("cloudflare firewall blocked request to %s (error 1020)", e.URL)
}

// UnsupportedChallengeError is returned for challenge variants this client
// detects but cannot solve.
type UnsupportedChallengeError struct {
	URL     string
	Variant string
}

func (e *UnsupportedChallengeError) Error() string {
	return fmt.Sprintf("%s challenge on %s is not supported", e.Variant, e.URL)
}

// ExtractionError is returned when the challenge form or its fields cannot be
// located.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("challenge extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return ErrMalformedChallenge
}

// SolveError is returned when the challenge answer could not be computed or
// was rejected by the server.
type SolveError struct {
	Reason string
	Cause  error
}

func (e *SolveError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("challenge solve failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("challenge solve failed: %s", e.Reason)
}

func (e *SolveError) Unwrap() error {
	return e.Cause
}
