package cfscraper

import (
	"math/rand/v2"

	"github.com/bogdanfinn/fhttp/http2"
	"github.com/bogdanfinn/tls-client/profiles"
	tls "github.com/bogdanfinn/utls"
)

const (
	Chrome143UserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36"
	Chrome143SecChUa         = `"Google Chrome";v="143", "Chromium";v="143", "Not A(Brand";v="24"`
	Chrome143FullVersionList = `"Google Chrome";v="143.0.0.0", "Chromium";v="143.0.0.0", "Not A(Brand";v="24.0.0.0"`
)

// chrome143TLS13Ciphers lead the hello and never move.
var chrome143TLS13Ciphers = []uint16{
	tls.TLS_AES_128_GCM_SHA256,
	tls.TLS_AES_256_GCM_SHA384,
	tls.TLS_CHACHA20_POLY1305_SHA256,
}

// chrome143TLS12Ciphers is Chrome's TLS 1.2 order; rotation shuffles it.
var chrome143TLS12Ciphers = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_RSA_WITH_AES_128_CBC_SHA,
	tls.TLS_RSA_WITH_AES_256_CBC_SHA,
}

// Chrome143Profile is the browser profile for Chrome 143 on Windows.
var Chrome143Profile = &BrowserProfile{
	Name:            "chrome143",
	UserAgent:       Chrome143UserAgent,
	SecChUa:         Chrome143SecChUa,
	FullVersionList: Chrome143FullVersionList,
	Platform:        `"Windows"`,
	Mobile:          "?0",
	Accept:          chromeAccept,
	headerOrder:     chromeHeaderOrder,
	pseudoOrder:     chromePseudoHeaderOrder,
	newTLSProfile:   newChrome143ClientProfile,
	baseCiphers:     chrome143Ciphers(),
}

func init() {
	Chrome143Profile.TLSProfile = newChrome143ClientProfile(Chrome143Profile.baseCiphers)
}

func chrome143Ciphers() []uint16 {
	out := append([]uint16{}, chrome143TLS13Ciphers...)
	return append(out, chrome143TLS12Ciphers...)
}

// rotateCipherSuites keeps the TLS 1.3 suites in front and shuffles the rest.
func rotateCipherSuites(ciphers []uint16, rng *rand.Rand) []uint16 {
	out := append([]uint16{}, ciphers...)
	head := 0
	for head < len(out) && isTLS13Suite(out[head]) {
		head++
	}
	tail := out[head:]
	rng.Shuffle(len(tail), func(i, j int) { tail[i], tail[j] = tail[j], tail[i] })
	return out
}

func isTLS13Suite(id uint16) bool {
	// TLS 1.3 suites live at 0x1301..0x1305.
	return id >= 0x1301 && id <= 0x1305
}

// newChrome143ClientProfile builds the Chrome 143 fingerprint with the given
// cipher order behind the GREASE placeholder.
func newChrome143ClientProfile(ciphers []uint16) profiles.ClientProfile {
	suites := append([]uint16{tls.GREASE_PLACEHOLDER}, ciphers...)

	return profiles.NewClientProfile(
		tls.ClientHelloID{
			Client:               "Chrome",
			RandomExtensionOrder: true,
			Version:              "143",
			Seed:                 nil,
			SpecFactory: func() (tls.ClientHelloSpec, error) {
				return tls.ClientHelloSpec{
					CipherSuites: append([]uint16{}, suites...),
					CompressionMethods: []byte{
						tls.CompressionNone,
					},
					Extensions: []tls.TLSExtension{
						&tls.UtlsGREASEExtension{},
						&tls.PSKKeyExchangeModesExtension{Modes: []uint8{
							tls.PskModeDHE,
						}},
						&tls.SCTExtension{},
						&tls.KeyShareExtension{KeyShares: []tls.KeyShare{
							{Group: tls.CurveID(tls.GREASE_PLACEHOLDER), Data: []byte{0}},
							{Group: tls.X25519MLKEM768},
							{Group: tls.X25519},
						}},
						&tls.StatusRequestExtension{},
						&tls.SupportedCurvesExtension{Curves: []tls.CurveID{
							tls.GREASE_PLACEHOLDER,
							tls.X25519MLKEM768,
							tls.X25519,
							tls.CurveP256,
							tls.CurveP384,
						}},
						&tls.SessionTicketExtension{},
						tls.BoringGREASEECH(),
						&tls.SupportedPointsExtension{SupportedPoints: []byte{
							tls.PointFormatUncompressed,
						}},
						&tls.SupportedVersionsExtension{Versions: []uint16{
							tls.GREASE_PLACEHOLDER,
							tls.VersionTLS13,
							tls.VersionTLS12,
						}},
						&tls.SNIExtension{},
						&tls.SignatureAlgorithmsExtension{SupportedSignatureAlgorithms: []tls.SignatureScheme{
							tls.ECDSAWithP256AndSHA256,
							tls.PSSWithSHA256,
							tls.PKCS1WithSHA256,
							tls.ECDSAWithP384AndSHA384,
							tls.PSSWithSHA384,
							tls.PKCS1WithSHA384,
							tls.PSSWithSHA512,
							tls.PKCS1WithSHA512,
						}},
						&tls.ApplicationSettingsExtensionNew{
							SupportedProtocols: []string{"h2"},
						},
						&tls.UtlsCompressCertExtension{Algorithms: []tls.CertCompressionAlgo{
							tls.CertCompressionBrotli,
						}},
						&tls.ExtendedMasterSecretExtension{},
						&tls.ALPNExtension{AlpnProtocols: []string{
							"h2",
							"http/1.1",
						}},
						&tls.RenegotiationInfoExtension{
							Renegotiation: tls.RenegotiateOnceAsClient,
						},
						&tls.UtlsGREASEExtension{},
						&tls.UtlsPreSharedKeyExtension{},
					},
				}, nil
			},
		},
		map[http2.SettingID]uint32{
			http2.SettingHeaderTableSize:   65536,
			http2.SettingEnablePush:        0,
			http2.SettingInitialWindowSize: 6291456,
			http2.SettingMaxHeaderListSize: 262144,
		},
		[]http2.SettingID{
			http2.SettingHeaderTableSize,
			http2.SettingEnablePush,
			http2.SettingInitialWindowSize,
			http2.SettingMaxHeaderListSize,
		},
		chromePseudoHeaderOrder,
		15663105,
		nil,
		nil,
	)
}
