package cfscraper

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	"github.com/bogdanfinn/tls-client/profiles"
)

// BrowserProfile bundles a TLS client profile with its corresponding browser headers.
type BrowserProfile struct {
	Name            string
	TLSProfile      profiles.ClientProfile
	UserAgent       string
	SecChUa         string
	FullVersionList string
	Platform        string
	Mobile          string
	Accept          string

	headerOrder []string
	pseudoOrder []string

	// Set only for profiles whose hello is built here and can be re-keyed
	// with a different cipher order.
	newTLSProfile func(ciphers []uint16) profiles.ClientProfile
	baseCiphers   []uint16
}

const (
	chromeAccept  = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"
	firefoxAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/png,image/svg+xml,*/*;q=0.8"
)

// chromePseudoHeaderOrder is the HTTP/2 pseudo-header order Chrome sends.
var chromePseudoHeaderOrder = []string{
	":method",
	":authority",
	":scheme",
	":path",
}

var firefoxPseudoHeaderOrder = []string{
	":method",
	":path",
	":authority",
	":scheme",
}

var chromeHeaderOrder = []string{
	"host",
	"connection",
	"content-length",
	"cache-control",
	"sec-ch-ua",
	"sec-ch-ua-mobile",
	"sec-ch-ua-platform",
	"origin",
	"content-type",
	"upgrade-insecure-requests",
	"user-agent",
	"accept",
	"sec-fetch-site",
	"sec-fetch-mode",
	"sec-fetch-user",
	"sec-fetch-dest",
	"referer",
	"accept-encoding",
	"accept-language",
	"cookie",
	"priority",
}

var firefoxHeaderOrder = []string{
	"host",
	"user-agent",
	"accept",
	"accept-language",
	"accept-encoding",
	"content-type",
	"content-length",
	"origin",
	"connection",
	"referer",
	"cookie",
	"upgrade-insecure-requests",
	"sec-fetch-dest",
	"sec-fetch-mode",
	"sec-fetch-site",
	"sec-fetch-user",
	"priority",
}

// Chrome131Profile uses the stock tls-client Chrome 131 hello.
var Chrome131Profile = &BrowserProfile{
	Name:            "chrome131",
	TLSProfile:      profiles.Chrome_131,
	UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
	FullVersionList: `"Google Chrome";v="131.0.6778.86", "Chromium";v="131.0.6778.86", "Not_A Brand";v="24.0.0.0"`,
	Platform:        `"Windows"`,
	Mobile:          "?0",
	Accept:          chromeAccept,
	headerOrder:     chromeHeaderOrder,
	pseudoOrder:     chromePseudoHeaderOrder,
}

// Firefox132Profile uses the stock tls-client Firefox 132 hello. Firefox sends
// no client hints.
var Firefox132Profile = &BrowserProfile{
	Name:        "firefox132",
	TLSProfile:  profiles.Firefox_132,
	UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:132.0) Gecko/20100101 Firefox/132.0",
	Accept:      firefoxAccept,
	headerOrder: firefoxHeaderOrder,
	pseudoOrder: firefoxPseudoHeaderOrder,
}

func browserProfiles() []*BrowserProfile {
	return []*BrowserProfile{Chrome143Profile, Chrome131Profile, Firefox132Profile}
}

// BrowserProfileNames lists the values accepted by Config.Browser.
func BrowserProfileNames() []string {
	var names []string
	for _, p := range browserProfiles() {
		names = append(names, p.Name)
	}
	return names
}

// SelectBrowserProfile returns the named profile, or a random one when name
// is empty.
func SelectBrowserProfile(name string, rng *rand.Rand) (*BrowserProfile, error) {
	pool := browserProfiles()
	if name == "" {
		return pool[rng.IntN(len(pool))], nil
	}
	idx := slices.IndexFunc(pool, func(p *BrowserProfile) bool {
		return strings.EqualFold(p.Name, name)
	})
	if idx < 0 {
		return nil, fmt.Errorf("unknown browser profile %q (known: %s)", name, strings.Join(BrowserProfileNames(), ", "))
	}
	return pool[idx], nil
}

// Rotatable reports whether the cipher order of this profile can be varied.
func (p *BrowserProfile) Rotatable() bool {
	return p.newTLSProfile != nil && len(p.baseCiphers) > 0
}

// RotatedTLSProfile returns a copy of the TLS profile with a shuffled TLS 1.2
// cipher order.
func (p *BrowserProfile) RotatedTLSProfile(rng *rand.Rand) (profiles.ClientProfile, bool) {
	if !p.Rotatable() {
		return p.TLSProfile, false
	}
	return p.newTLSProfile(rotateCipherSuites(p.baseCiphers, rng)), true
}

// acceptLanguages is the pool a session draws its Accept-Language from.
var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-US,en;q=0.8",
	"en-GB,en;q=0.9,en-US;q=0.8",
	"en-US,en;q=0.9,de;q=0.7",
}

func randomAcceptLanguage(rng *rand.Rand) string {
	return acceptLanguages[rng.IntN(len(acceptLanguages))]
}

// navigationHeaders returns the headers of a top-level document load.
func (p *BrowserProfile) navigationHeaders(acceptEncoding, acceptLanguage string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", p.UserAgent)
	h.Set("Accept", p.Accept)
	h.Set("Accept-Language", acceptLanguage)
	h.Set("Accept-Encoding", acceptEncoding)
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Priority", "u=0, i")
	if p.SecChUa != "" {
		h.Set("Sec-Ch-Ua", p.SecChUa)
		h.Set("Sec-Ch-Ua-Mobile", p.Mobile)
		h.Set("Sec-Ch-Ua-Platform", p.Platform)
	}
	h[http.HeaderOrderKey] = append([]string{}, p.headerOrder...)
	h[http.PHeaderOrderKey] = append([]string{}, p.pseudoOrder...)
	return h
}
