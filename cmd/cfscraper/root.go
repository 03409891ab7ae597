package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cfscraper"
)

var (
	engineLog     = log.New(os.Stderr, "", log.LstdFlags)
	engineLogFile *os.File
)

var rootCmd = &cobra.Command{
	Use:   "cfscraper",
	Short: "Fetch pages behind Cloudflare's legacy browser check",
	Long: `cfscraper issues browser-like requests and answers the legacy Cloudflare
"I'm Under Attack Mode" JavaScript and captcha challenges on the way.

Examples:
  # Fetch a page and print the body
  cfscraper get https://example.com/

  # Print clearance cookies and the user agent they are bound to
  cfscraper tokens https://example.com/ -f json

  # Cookie header for another HTTP client
  cfscraper cookie-string https://example.com/

  # Fetch a list of URLs with 8 workers through a proxy list
  cfscraper batch urls.txt -w 8 --proxy-file proxies.txt --proxy-strategy smart`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
	PersistentPostRun: func(*cobra.Command, []string) {
		if engineLogFile != nil {
			engineLogFile.Close()
		}
	},
}

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"config":           "config",
	"debug":            "debug",
	"log-file":         "log_file",
	"format":           "format",
	"browser":          "browser",
	"interpreter":      "interpreter",
	"delay":            "delay",
	"double-down":      "double_down",
	"solve-depth":      "solve_depth",
	"min-interval":     "min_request_interval",
	"max-concurrent":   "max_concurrent_requests",
	"timeout":          "timeout",
	"no-brotli":        "no_brotli",
	"captcha-provider": "captcha.provider",
	"captcha-key":      "captcha.api_key",
	"proxy-file":       "proxy_file",
	"proxy-strategy":   "proxy_strategy",
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := cfscraper.DefaultConfig()
	flags := rootCmd.PersistentFlags()

	flags.String("config", "", "config file (default ./.cfscraper.yaml or $HOME/.cfscraper.yaml)")
	flags.Bool("debug", false, "enable debug logging")
	flags.String("log-file", "", "also append logs to this file")
	flags.StringP("format", "f", "yaml", "output format: yaml, json")

	flags.String("browser", "", fmt.Sprintf("browser profile: %s (default random)", strings.Join(cfscraper.BrowserProfileNames(), ", ")))
	flags.String("interpreter", defaults.Interpreter, "javascript interpreter: goja, nodejs")
	flags.Duration("delay", 0, "wait before submitting a challenge answer (default: as the page asks)")
	flags.Bool("double-down", false, "re-request once before solving a captcha")
	flags.Int("solve-depth", defaults.SolveDepth, "max consecutive challenges per request")
	flags.Duration("min-interval", defaults.MinRequestInterval, "minimum spacing between requests")
	flags.Int("max-concurrent", defaults.MaxConcurrentRequests, "max concurrent requests per client")
	flags.Duration("timeout", defaults.Timeout, "per-request timeout")
	flags.Bool("no-brotli", false, "do not advertise or decode brotli")

	flags.String("captcha-provider", "", "captcha provider: 2captcha, capsolver, return_response")
	flags.String("captcha-key", "", "captcha provider api key (or CFSCRAPER_CAPTCHA_API_KEY)")

	flags.String("proxy-file", "", "file with one proxy per line")
	flags.String("proxy-strategy", string(defaults.ProxyStrategy), "proxy rotation: sequential, random, smart")

	for flag, key := range flagKeys {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".cfscraper")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CFSCRAPER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func setupLogging(*cobra.Command, []string) error {
	path := viper.GetString("log_file")
	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	engineLogFile = f
	engineLog = log.New(io.MultiWriter(os.Stderr, f), "", log.LstdFlags)
	return nil
}

// buildConfig layers defaults, CFSCRAPER_* env, the config file and flags.
func buildConfig() (cfscraper.Config, error) {
	cfg := cfscraper.DefaultConfig()
	if err := cfscraper.LoadConfigFromEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if viper.GetBool("no_brotli") {
		cfg.AllowBrotli = false
	}
	if cfg.Captcha.APIKey == "" {
		cfg.Captcha.APIKey = cfscraper.GetCaptchaAPIKey()
	}

	if path := viper.GetString("proxy_file"); path != "" {
		lines, err := cfscraper.LoadProxyFile(path)
		if err != nil {
			return cfg, err
		}
		cfg.Proxies = append(cfg.Proxies, lines...)
	}

	cfg.Logger = cfscraper.NewStdLogger(engineLog)
	return cfg, nil
}

func newClient() (*cfscraper.Client, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}
	if len(cfg.Proxies) > 0 {
		engineLog.Printf("Loaded %d proxies (%s)", len(cfg.Proxies), cfg.ProxyStrategy)
	}
	return cfscraper.NewClient(cfg)
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	engineLog.Printf("Error: "+format, args...)
}

func elapsed(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
