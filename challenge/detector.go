package challenge

import (
	"regexp"
	"strings"
)

// Kind classifies a response.
type Kind int

const (
	None Kind = iota
	LegacyJS
	LegacyCaptcha
	NewerUnsupported
	FirewallBlock
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case LegacyJS:
		return "legacy-js"
	case LegacyCaptcha:
		return "legacy-captcha"
	case NewerUnsupported:
		return "newer-unsupported"
	case FirewallBlock:
		return "firewall-block"
	default:
		return "unknown"
	}
}

// Variant names reported with NewerUnsupported detections.
const (
	VariantV2Captcha = "cloudflare-v2-captcha"
	VariantV2JS      = "cloudflare-v2-js"
	VariantV3        = "cloudflare-v3"
	VariantTurnstile = "cloudflare-turnstile"
)

var (
	jsTraceRe      = regexp.MustCompile(`/cdn-cgi/images/trace/jsch/`)
	captchaTraceRe = regexp.MustCompile(`/cdn-cgi/images/trace/(captcha|managed)/`)
	// (?s) lets the form tag span lines.
	challengeFormRe = regexp.MustCompile(`(?s)<form .*?="challenge-form" action="/\S+__cf_chl_(?:f_tk|jschl_tk__|captcha_tk__)=`)

	newerJSRe      = regexp.MustCompile(`cpo\.src\s*=\s*['"]/cdn-cgi/challenge-platform/\S+orchestrate/jsch/v1`)
	newerCaptchaRe = regexp.MustCompile(`cpo\.src\s*=\s*['"]/cdn-cgi/challenge-platform/\S+orchestrate/(?:captcha|managed)/v1`)
	v3Re           = regexp.MustCompile(`(?s)cpo\.src\s*=\s*['"]/cdn-cgi/challenge-platform/\S+orchestrate/jsch/v3|window\._cf_chl_opt\s*=\s*\{.*?cvId:\s*'3'`)
	turnstileRe    = regexp.MustCompile(`class="cf-turnstile"|challenges\.cloudflare\.com/turnstile/v0/api\.js`)
)

const firewallBlockMarker = `<span class="cf-error-code">1020</span>`

func isCloudflare(resp *Response) bool {
	return strings.HasPrefix(resp.Server(), "cloudflare")
}

func hasChallengeForm(body string) bool {
	return challengeFormRe.MatchString(body)
}

// IsLegacyJSChallenge reports an "I'm Under Attack Mode" page that can be
// answered by evaluating its embedded script.
func IsLegacyJSChallenge(resp *Response) bool {
	if !isCloudflare(resp) || (resp.StatusCode != 429 && resp.StatusCode != 503) {
		return false
	}
	body := resp.Text()
	return jsTraceRe.MatchString(body) && hasChallengeForm(body)
}

// IsLegacyCaptchaChallenge reports a captcha interstitial carrying the
// classic challenge form.
func IsLegacyCaptchaChallenge(resp *Response) bool {
	if !isCloudflare(resp) || resp.StatusCode != 403 {
		return false
	}
	body := resp.Text()
	return captchaTraceRe.MatchString(body) && hasChallengeForm(body)
}

// IsFirewallBlocked reports a 1020 "access denied" firewall rule block.
func IsFirewallBlocked(resp *Response) bool {
	return isCloudflare(resp) &&
		resp.StatusCode == 403 &&
		strings.Contains(resp.Text(), firewallBlockMarker)
}

// IsNewerJSChallenge reports a JS challenge driven by the orchestrate platform.
func IsNewerJSChallenge(resp *Response) bool {
	return IsLegacyJSChallenge(resp) && newerJSRe.MatchString(resp.Text())
}

// IsNewerCaptchaChallenge reports a captcha challenge driven by the
// orchestrate platform.
func IsNewerCaptchaChallenge(resp *Response) bool {
	return IsLegacyCaptchaChallenge(resp) && newerCaptchaRe.MatchString(resp.Text())
}

func isInterstitialStatus(code int) bool {
	return code == 403 || code == 429 || code == 503
}

// IsV3Challenge reports the JS-VM based challenge.
func IsV3Challenge(resp *Response) bool {
	return isCloudflare(resp) &&
		isInterstitialStatus(resp.StatusCode) &&
		v3Re.MatchString(resp.Text())
}

// IsTurnstileChallenge reports a Turnstile widget interstitial.
func IsTurnstileChallenge(resp *Response) bool {
	return isCloudflare(resp) &&
		isInterstitialStatus(resp.StatusCode) &&
		turnstileRe.MatchString(resp.Text())
}

// DetectOptions switches off whole challenge families. A disabled family is
// never reported.
type DetectOptions struct {
	DisableV1        bool
	DisableV2        bool
	DisableV3        bool
	DisableTurnstile bool
}

// Detection is the outcome of Classify.
type Detection struct {
	Kind    Kind
	Variant string
}

// Classify runs the predicates in their fixed order: firewall block, newer
// captcha, newer JS, v3, turnstile, legacy captcha, legacy JS.
func Classify(resp *Response, opts DetectOptions) Detection {
	if resp == nil || !isCloudflare(resp) {
		return Detection{Kind: None}
	}

	if IsFirewallBlocked(resp) {
		return Detection{Kind: FirewallBlock}
	}

	if !opts.DisableV2 {
		if IsNewerCaptchaChallenge(resp) {
			return Detection{Kind: NewerUnsupported, Variant: VariantV2Captcha}
		}
		if IsNewerJSChallenge(resp) {
			return Detection{Kind: NewerUnsupported, Variant: VariantV2JS}
		}
	}

	if !opts.DisableV3 && IsV3Challenge(resp) {
		return Detection{Kind: NewerUnsupported, Variant: VariantV3}
	}

	if !opts.DisableTurnstile && IsTurnstileChallenge(resp) {
		return Detection{Kind: NewerUnsupported, Variant: VariantTurnstile}
	}

	if !opts.DisableV1 {
		if IsLegacyCaptchaChallenge(resp) {
			return Detection{Kind: LegacyCaptcha}
		}
		if IsLegacyJSChallenge(resp) {
			return Detection{Kind: LegacyJS}
		}
	}

	return Detection{Kind: None}
}
