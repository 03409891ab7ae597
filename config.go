package cfscraper

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"cfscraper/captcha"
)

// Build-time variables - inject via ldflags
// Example: go build -ldflags "-X cfscraper.captchaAPIKey=YOUR_KEY"
var (
	captchaAPIKey string // -X cfscraper.captchaAPIKey=...
)

// GetCaptchaAPIKey returns the captcha service API key (build-time or env fallback)
func GetCaptchaAPIKey() string {
	if captchaAPIKey != "" {
		return captchaAPIKey
	}
	if key := os.Getenv("CFSCRAPER_CAPTCHA_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("2CAP_KEY")
}

// CaptchaConfig selects the captcha solving service.
type CaptchaConfig struct {
	// Provider is "2captcha", "capsolver", "return_response" or empty.
	Provider string `mapstructure:"provider" yaml:"provider" validate:"omitempty,oneof=2captcha capsolver return_response"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	// BaseURL overrides the service endpoint.
	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
}

// PreHook may rewrite a request before it is dispatched.
type PreHook func(method, rawURL string, opts *RequestOptions) (string, string, *RequestOptions)

// PostHook may replace a response before it is classified. Returning nil
// keeps the original.
type PostHook func(resp *Response) *Response

// Config tunes a Client. Zero durations disable the related feature where
// noted; use DefaultConfig for sensible values.
type Config struct {
	// Delay overrides the wait before submitting a JS challenge answer.
	// Zero means use the delay embedded in the page.
	Delay time.Duration `mapstructure:"delay" yaml:"delay" validate:"gte=0"`
	// DoubleDown re-issues the original request once before solving a captcha.
	DoubleDown  bool   `mapstructure:"double_down" yaml:"double_down"`
	Interpreter string `mapstructure:"interpreter" yaml:"interpreter"`

	DisableCloudflareV1 bool `mapstructure:"disable_cloudflare_v1" yaml:"disable_cloudflare_v1"`
	DisableCloudflareV2 bool `mapstructure:"disable_cloudflare_v2" yaml:"disable_cloudflare_v2"`
	DisableCloudflareV3 bool `mapstructure:"disable_cloudflare_v3" yaml:"disable_cloudflare_v3"`
	DisableTurnstile    bool `mapstructure:"disable_turnstile" yaml:"disable_turnstile"`

	// SolveDepth caps consecutive challenge resolutions per request.
	SolveDepth int `mapstructure:"solve_depth" yaml:"solve_depth" validate:"gte=1"`

	// SessionRefreshInterval marks the session stale after this long. Zero disables.
	SessionRefreshInterval time.Duration `mapstructure:"session_refresh_interval" yaml:"session_refresh_interval" validate:"gte=0"`
	AutoRefreshOn403       bool          `mapstructure:"auto_refresh_on_403" yaml:"auto_refresh_on_403"`
	Max403Retries          int           `mapstructure:"max_403_retries" yaml:"max_403_retries" validate:"gte=0"`

	// MinRequestInterval spaces consecutive dispatches. Zero disables.
	MinRequestInterval    time.Duration `mapstructure:"min_request_interval" yaml:"min_request_interval" validate:"gte=0"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests" yaml:"max_concurrent_requests" validate:"gte=1"`

	RotateTLSCiphers bool `mapstructure:"rotate_tls_ciphers" yaml:"rotate_tls_ciphers"`
	AllowBrotli      bool `mapstructure:"allow_brotli" yaml:"allow_brotli"`
	// Browser pins a profile name (see BrowserProfileNames). Empty picks one at random.
	Browser string        `mapstructure:"browser" yaml:"browser"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	Debug   bool          `mapstructure:"debug" yaml:"debug"`

	Captcha CaptchaConfig `mapstructure:"captcha" yaml:"captcha"`

	Proxies          []string      `mapstructure:"proxies" yaml:"proxies"`
	ProxyStrategy    ProxyStrategy `mapstructure:"proxy_strategy" yaml:"proxy_strategy" validate:"omitempty,oneof=sequential random smart"`
	ProxyBanDuration time.Duration `mapstructure:"proxy_ban_duration" yaml:"proxy_ban_duration" validate:"gte=0"`

	PreHook          PreHook          `mapstructure:"-" yaml:"-"`
	PostHook         PostHook         `mapstructure:"-" yaml:"-"`
	Logger           Logger           `mapstructure:"-" yaml:"-"`
	TransportFactory TransportFactory `mapstructure:"-" yaml:"-"`
	// ProxySelector replaces the built-in ProxyManager when set.
	ProxySelector ProxySelector `mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns the configuration used when no overrides are given.
func DefaultConfig() Config {
	return Config{
		Interpreter:            "goja",
		SolveDepth:             3,
		SessionRefreshInterval: time.Hour,
		AutoRefreshOn403:       true,
		Max403Retries:          3,
		MinRequestInterval:     time.Second,
		MaxConcurrentRequests:  1,
		RotateTLSCiphers:       true,
		AllowBrotli:            true,
		Timeout:                30 * time.Second,
		ProxyStrategy:          StrategySequential,
		ProxyBanDuration:       300 * time.Second,
	}
}

var validate = validator.New()

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Captcha.Provider != "" && c.Captcha.Provider != captcha.ReturnResponse && c.Captcha.APIKey == "" {
		return fmt.Errorf("invalid config: captcha provider %s requires an api key", c.Captcha.Provider)
	}
	return nil
}

// LoadConfigFromEnv overlays CFSCRAPER_* environment variables onto cfg.
// Malformed values are reported and leave the field untouched.
func LoadConfigFromEnv(cfg *Config) error {
	var errs []string

	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q", key, v))
				return
			}
			*dst = b
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q", key, v))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q", key, v))
				return
			}
			*dst = d
		}
	}

	setBool("CFSCRAPER_DEBUG", &cfg.Debug)
	setString("CFSCRAPER_INTERPRETER", &cfg.Interpreter)
	setString("CFSCRAPER_BROWSER", &cfg.Browser)
	setDuration("CFSCRAPER_DELAY", &cfg.Delay)
	setInt("CFSCRAPER_SOLVE_DEPTH", &cfg.SolveDepth)
	setDuration("CFSCRAPER_SESSION_REFRESH_INTERVAL", &cfg.SessionRefreshInterval)
	setBool("CFSCRAPER_AUTO_REFRESH_ON_403", &cfg.AutoRefreshOn403)
	setInt("CFSCRAPER_MAX_403_RETRIES", &cfg.Max403Retries)
	setDuration("CFSCRAPER_MIN_REQUEST_INTERVAL", &cfg.MinRequestInterval)
	setInt("CFSCRAPER_MAX_CONCURRENT_REQUESTS", &cfg.MaxConcurrentRequests)
	setBool("CFSCRAPER_ROTATE_TLS_CIPHERS", &cfg.RotateTLSCiphers)
	setBool("CFSCRAPER_ALLOW_BROTLI", &cfg.AllowBrotli)
	setDuration("CFSCRAPER_TIMEOUT", &cfg.Timeout)
	setString("CFSCRAPER_CAPTCHA_PROVIDER", &cfg.Captcha.Provider)

	var strategy string
	setString("CFSCRAPER_PROXY_STRATEGY", &strategy)
	if strategy != "" {
		cfg.ProxyStrategy = ProxyStrategy(strategy)
	}

	if cfg.Captcha.APIKey == "" {
		cfg.Captcha.APIKey = GetCaptchaAPIKey()
	}

	if len(errs) > 0 {
		return fmt.Errorf("malformed environment: %s", strings.Join(errs, ", "))
	}
	return nil
}

func (c *Config) logger() Logger {
	if c.Logger == nil {
		return NewNoopLogger()
	}
	return c.Logger
}
