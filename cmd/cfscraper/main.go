// Command cfscraper fetches pages protected by Cloudflare's legacy browser
// check.
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	if err := Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}
