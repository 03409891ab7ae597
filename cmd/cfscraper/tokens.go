package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type tokenOutput struct {
	URL       string            `json:"url" yaml:"url"`
	Cookies   map[string]string `json:"cookies" yaml:"cookies"`
	UserAgent string            `json:"user_agent" yaml:"user_agent"`
}

var tokensCmd = &cobra.Command{
	Use:   "tokens URL",
	Short: "Print the clearance cookies and matching user agent for a site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		tokens, userAgent, err := client.GetTokens(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeOutput(os.Stdout, tokenOutput{URL: args[0], Cookies: tokens, UserAgent: userAgent})
	},
}

var cookieStringCmd = &cobra.Command{
	Use:   "cookie-string URL",
	Short: "Print a Cookie header value and the user agent it is bound to",
	Long: `Print two lines: the Cookie header value carrying the clearance cookies,
then the User-Agent that must accompany it.

Example:
  { read -r cookie; read -r ua; } < <(cfscraper cookie-string https://example.com/)
  curl -H "Cookie: $cookie" -A "$ua" https://example.com/`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		cookie, userAgent, err := client.GetCookieString(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(os.Stdout, "%s\n%s\n", cookie, userAgent)
		return err
	},
}

func init() {
	rootCmd.AddCommand(tokensCmd)
	rootCmd.AddCommand(cookieStringCmd)
}
