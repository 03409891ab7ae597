package cfscraper

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"cfscraper/captcha"
	"cfscraper/challenge"
)

// ErrNoChallengeCookies is returned by GetTokens when the site did not issue
// any clearance cookie.
var ErrNoChallengeCookies = errors.New("no cloudflare clearance cookies found")

// LoopProtectionError is returned once a single logical request has run into
// SolveDepth consecutive challenges.
type LoopProtectionError struct {
	URL      string
	Attempts int
}

func (e *LoopProtectionError) Error() string {
	return fmt.Sprintf("loop protection: tried to solve the challenge on %s %d time(s) in a row", e.URL, e.Attempts)
}

// CaptchaProviderMissingError is returned for a captcha challenge when no
// captcha provider is configured.
type CaptchaProviderMissingError struct {
	URL string
}

func (e *CaptchaProviderMissingError) Error() string {
	return fmt.Sprintf("captcha challenge on %s but no captcha provider is configured", e.URL)
}

// =============================================================================
// Fatal Errors
// =============================================================================

// fatalErrorStrings contains substrings that indicate a fatal error.
var fatalErrorStrings = []string{
	"ERROR_ZERO_BALANCE",
	"ERROR_KEY_DOES_NOT_EXIST",
	"ERROR_WRONG_USER_KEY",
	"access denied",
}

// ContainsFatalErrorString checks if an error message contains a fatal error indicator.
func ContainsFatalErrorString(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, s := range fatalErrorStrings {
		if strings.Contains(errStr, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// IsFatalError reports errors where neither a retry nor a new proxy helps:
// captcha billing failures and challenge outcomes that are final.
func IsFatalError(err error) bool {
	if err == nil {
		return false
	}

	var (
		blocked     *challenge.FirewallBlockError
		unsupported *challenge.UnsupportedChallengeError
		noProvider  *CaptchaProviderMissingError
	)
	if errors.As(err, &blocked) || errors.As(err, &unsupported) || errors.As(err, &noProvider) {
		return true
	}
	return captcha.IsFatal(err) || ContainsFatalErrorString(err)
}

// =============================================================================
// Retryable Errors
// =============================================================================

// retryableErrorPatterns contains error message substrings that indicate retryable errors.
var retryableErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"context deadline exceeded",
	"TLS handshake timeout",
	"EOF",
	"malformed HTTP response",
	"transport connection broken",
	"use of closed network connection",
	"proxy responded with non 200 code",
}

// IsRetryableError checks if the error is temporary and worth retrying with a new proxy.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if IsFatalError(err) {
		return false
	}

	if isNetworkTimeout(err) {
		return true
	}

	return containsRetryablePattern(err.Error())
}

func isNetworkTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func containsRetryablePattern(errStr string) bool {
	for _, pattern := range retryableErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
