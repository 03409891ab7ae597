package challenge

import (
	"context"
	"net/url"
	"slices"
	"sort"
	"strings"

	"cfscraper/interpreter"
)

// Answer is a ready-to-submit challenge response.
type Answer struct {
	SubmitURL string
	Payload   map[string]string
}

// Field order observed from browsers submitting the challenge forms.
var payloadOrder = []string{
	"r", "jschl_vc", "pass", "jschl_answer",
	"cf_captcha_kind", "id", "g-recaptcha-response", "h-captcha-response",
}

// Encode renders the payload as a urlencoded form body. Known fields keep the
// browser order; anything else follows sorted by name.
func (a *Answer) Encode() string {
	keys := make([]string, 0, len(a.Payload))
	for k := range a.Payload {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		ri, rj := rank(keys[i]), rank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(a.Payload[k]))
	}
	return sb.String()
}

func rank(key string) int {
	if i := slices.Index(payloadOrder, key); i >= 0 {
		return i
	}
	return len(payloadOrder)
}

// Evaluator computes the answer to a JS challenge page.
type Evaluator interface {
	Solve(ctx context.Context, body, domain string) (string, error)
}

// Resolver turns a JS challenge page into an Answer. It performs no network
// I/O of its own.
type Resolver struct {
	Evaluator Evaluator
}

// NewResolver selects the named interpreter.
func NewResolver(interpreterName string) (*Resolver, error) {
	eval, err := interpreter.New(interpreterName)
	if err != nil {
		return nil, &SolveError{Reason: "interpreter unavailable", Cause: err}
	}
	return &Resolver{Evaluator: eval}, nil
}

// Solve extracts the challenge form from body, evaluates the page script and
// builds the submission for rawURL.
func Solve(ctx context.Context, body, rawURL, interpreterName string) (*Answer, error) {
	// Extraction is checked first so a malformed page never reaches the engine.
	if _, err := ExtractForm(body); err != nil {
		return nil, err
	}
	r, err := NewResolver(interpreterName)
	if err != nil {
		return nil, err
	}
	return r.Solve(ctx, body, rawURL)
}

// Solve builds the Answer for the JS challenge in body.
func (r *Resolver) Solve(ctx context.Context, body, rawURL string) (*Answer, error) {
	form, err := ExtractForm(body)
	if err != nil {
		return nil, err
	}

	origin, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ExtractionError{Reason: "invalid page url: " + err.Error()}
	}

	answer, err := r.Evaluator.Solve(ctx, body, origin.Host)
	if err != nil {
		return nil, &SolveError{Reason: "evaluating challenge script", Cause: err}
	}

	payload := make(map[string]string, len(form.Fields)+1)
	for k, v := range form.Fields {
		payload[k] = v
	}
	payload["jschl_answer"] = answer

	return &Answer{
		SubmitURL: submitURL(origin, form.ActionURL),
		Payload:   payload,
	}, nil
}

// SolveCaptcha builds the captcha submission once a provider returned token.
func SolveCaptcha(form *CaptchaForm, rawURL, token string) (*Answer, error) {
	origin, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ExtractionError{Reason: "invalid page url: " + err.Error()}
	}

	payload := map[string]string{
		"r":                    form.R,
		"cf_captcha_kind":      form.Kind,
		"id":                   form.RayID,
		"g-recaptcha-response": token,
	}
	if form.Type() == CaptchaHCaptcha {
		payload["h-captcha-response"] = token
	}

	return &Answer{
		SubmitURL: submitURL(origin, form.ActionURL),
		Payload:   payload,
	}, nil
}

func submitURL(origin *url.URL, action string) string {
	return origin.Scheme + "://" + origin.Host + action
}
