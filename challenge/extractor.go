package challenge

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Form is the challenge form captured from an interstitial page.
type Form struct {
	ActionURL string
	Fields    map[string]string
	RawHTML   string
}

// The live challenge only needs these inputs plus the computed answer.
var jsFieldAllowList = []string{"r", "jschl_vc", "pass"}

var (
	jsTokenMarkers      = []string{"__cf_chl_jschl_tk__=", "__cf_chl_f_tk="}
	captchaTokenMarkers = []string{"__cf_chl_captcha_tk__=", "__cf_chl_f_tk="}
)

var delayRe = regexp.MustCompile(`submit\(\);\r?\n\s*},\s*([0-9]+)`)

func parseDocument(body string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, &ExtractionError{Reason: "unparseable page: " + err.Error()}
	}
	return doc, nil
}

// findForm returns the first form whose action carries one of the markers.
func findForm(doc *goquery.Document, markers []string) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
		action, _ := form.Attr("action")
		for _, marker := range markers {
			if strings.Contains(action, marker) {
				found = form
				return false
			}
		}
		return true
	})
	return found
}

// ExtractForm locates the JS challenge form and the allow-listed hidden
// inputs. Entity references in the action are decoded by the HTML parser.
func ExtractForm(body string) (*Form, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}

	form := findForm(doc, jsTokenMarkers)
	if form == nil {
		return nil, &ExtractionError{Reason: "challenge form not found"}
	}

	action, _ := form.Attr("action")
	if action == "" {
		return nil, &ExtractionError{Reason: "challenge form has no action"}
	}

	fields := make(map[string]string, len(jsFieldAllowList))
	form.Find("input").Each(func(_ int, input *goquery.Selection) {
		name, ok := input.Attr("name")
		if !ok || !slices.Contains(jsFieldAllowList, name) {
			return
		}
		value, _ := input.Attr("value")
		fields[name] = value
	})

	raw, _ := goquery.OuterHtml(form)

	return &Form{
		ActionURL: action,
		Fields:    fields,
		RawHTML:   raw,
	}, nil
}

// Captcha widget types understood by captcha providers.
const (
	CaptchaHCaptcha  = "hCaptcha"
	CaptchaReCaptcha = "reCaptcha"
)

// CaptchaForm is the captcha challenge form captured from an interstitial page.
type CaptchaForm struct {
	ActionURL string
	R         string
	Kind      string
	RayID     string
	SiteKey   string
	RawHTML   string
}

// Type returns the widget type the site key belongs to.
func (f *CaptchaForm) Type() string {
	if f.Kind == "re" {
		return CaptchaReCaptcha
	}
	return CaptchaHCaptcha
}

// ExtractCaptchaForm locates the captcha challenge form, its hidden inputs,
// and the widget site key.
func ExtractCaptchaForm(body string) (*CaptchaForm, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}

	form := findForm(doc, captchaTokenMarkers)
	if form == nil {
		return nil, &ExtractionError{Reason: "captcha form not found"}
	}

	cf := &CaptchaForm{}
	cf.ActionURL, _ = form.Attr("action")
	if cf.ActionURL == "" {
		return nil, &ExtractionError{Reason: "captcha form has no action"}
	}

	form.Find("input").Each(func(_ int, input *goquery.Selection) {
		name, _ := input.Attr("name")
		value, _ := input.Attr("value")
		switch name {
		case "r":
			cf.R = value
		case "cf_captcha_kind":
			cf.Kind = value
		}
	})

	cf.SiteKey, _ = form.Find("[data-sitekey]").First().Attr("data-sitekey")
	if cf.SiteKey == "" {
		cf.SiteKey, _ = doc.Find("[data-sitekey]").First().Attr("data-sitekey")
	}
	if cf.SiteKey == "" {
		return nil, &ExtractionError{Reason: "captcha site key not found"}
	}
	cf.RayID, _ = doc.Find("[data-ray]").First().Attr("data-ray")
	cf.RawHTML, _ = goquery.OuterHtml(form)

	return cf, nil
}

// ExtractDelay returns the wait the page enforces before its form may be
// submitted.
func ExtractDelay(body string) (time.Duration, bool) {
	m := delayRe.FindStringSubmatch(body)
	if len(m) < 2 {
		return 0, false
	}
	ms, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
