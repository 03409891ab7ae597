package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/spf13/cobra"

	"cfscraper"
)

type responseSummary struct {
	URL       string              `json:"url" yaml:"url"`
	Status    int                 `json:"status" yaml:"status"`
	Headers   map[string][]string `json:"headers" yaml:"headers"`
	Bytes     int                 `json:"bytes" yaml:"bytes"`
	UserAgent string              `json:"user_agent" yaml:"user_agent"`
	Elapsed   string              `json:"elapsed" yaml:"elapsed"`
}

var getCmd = &cobra.Command{
	Use:   "get URL",
	Short: "Fetch a URL, solving any legacy challenge",
	Long: `Fetch a URL and print the response body.

Examples:
  cfscraper get https://example.com/
  cfscraper get https://example.com/api -X POST -d 'a=1&b=2' -H 'Content-Type: application/x-www-form-urlencoded'
  cfscraper get https://example.com/ --meta -f json`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)

	flags := getCmd.Flags()
	flags.StringP("method", "X", http.MethodGet, "HTTP method")
	flags.StringArrayP("header", "H", nil, "extra header 'Name: value' (can be repeated)")
	flags.StringP("data", "d", "", "request body")
	flags.Bool("no-redirects", false, "do not follow redirects")
	flags.Bool("meta", false, "print status, headers and timing instead of the body")
}

func runGet(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	method, _ := flags.GetString("method")
	rawHeaders, _ := flags.GetStringArray("header")
	data, _ := flags.GetString("data")
	noRedirects, _ := flags.GetBool("no-redirects")
	meta, _ := flags.GetBool("meta")

	opts := &cfscraper.RequestOptions{Header: http.Header{}}
	for _, h := range rawHeaders {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("bad header %q, want 'Name: value'", h)
		}
		opts.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if data != "" {
		opts.Body = []byte(data)
		opts.ContentType = opts.Header.Get("Content-Type")
	}
	if noRedirects {
		follow := false
		opts.AllowRedirects = &follow
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	start := time.Now()
	resp, err := client.Request(cmd.Context(), strings.ToUpper(method), args[0], opts)
	if err != nil {
		return err
	}

	if !meta {
		_, err = os.Stdout.Write(resp.Body)
		return err
	}

	headers := make(map[string][]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[k] = v
	}
	return writeOutput(os.Stdout, responseSummary{
		URL:       resp.URL.String(),
		Status:    resp.StatusCode,
		Headers:   headers,
		Bytes:     len(resp.Body),
		UserAgent: client.UserAgent(),
		Elapsed:   elapsed(start),
	})
}
