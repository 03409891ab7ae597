// Package captcha talks to third-party captcha solving services for the
// captcha variant of the challenge page.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

// ReturnResponse is the provider name that hands the challenge page back to
// the caller instead of solving it.
const ReturnResponse = "return_response"

// Provider names accepted by New.
const (
	TwoCaptchaName = "2captcha"
	CapSolverName  = "capsolver"
)

// Widget types, matching challenge.CaptchaHCaptcha / CaptchaReCaptcha.
const (
	HCaptcha  = "hCaptcha"
	ReCaptcha = "reCaptcha"
)

var (
	ErrUnknownProvider = errors.New("unknown captcha provider")
	ErrMissingAPIKey   = errors.New("captcha provider api key missing")
	ErrUnsupportedType = errors.New("unsupported captcha type")
)

// Provider returns a response token for a captcha widget.
type Provider interface {
	Name() string
	Solve(ctx context.Context, captchaType, pageURL, siteKey string) (string, error)
}

// Options tune provider HTTP behaviour.
type Options struct {
	BaseURL      string
	PollInterval time.Duration
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// New selects a provider by name.
func New(name, apiKey string, opts Options) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingAPIKey, name)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 180 * time.Second
	}

	switch strings.ToLower(name) {
	case TwoCaptchaName:
		return newTwoCaptcha(apiKey, opts), nil
	case CapSolverName:
		return newCapSolver(apiKey, opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// FatalError marks billing/authentication failures where retrying won't help.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func NewFatalError(err error) error {
	return &FatalError{Err: err}
}

// IsFatal reports whether err is or wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

var fatalCodes = []string{
	"ERROR_ZERO_BALANCE",
	"ERROR_KEY_DOES_NOT_EXIST",
	"ERROR_WRONG_USER_KEY",
	"ERROR_IP_NOT_ALLOWED",
	"ERROR_IP_BANNED",
	"ERROR_INVALID_TASK_DATA",
}

func isFatalCode(code string) bool {
	return slices.Contains(fatalCodes, code)
}

func serviceError(service, code, description string) error {
	err := fmt.Errorf("%s error: %s - %s", service, code, description)
	if isFatalCode(code) {
		return NewFatalError(err)
	}
	return err
}
