package challenge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfscraper/interpreter"
)

type fixedEvaluator struct {
	answer string
	err    error
	domain string
}

func (f *fixedEvaluator) Solve(_ context.Context, _, domain string) (string, error) {
	f.domain = domain
	return f.answer, f.err
}

func TestResolverSolve(t *testing.T) {
	eval := &fixedEvaluator{answer: "12.5"}
	r := &Resolver{Evaluator: eval}

	answer, err := r.Solve(context.Background(), loadFixture(t, "js_challenge.html"), "https://example.com:8443/deep/page?q=1")
	require.NoError(t, err)

	assert.Equal(t, "example.com:8443", eval.domain)
	assert.Equal(t, "https://example.com:8443/?__cf_chl_jschl_tk__=abc123&t=1", answer.SubmitURL)
	assert.Equal(t, map[string]string{
		"r":            "rval-1",
		"jschl_vc":     "vc-2",
		"pass":         "1600000000.123-xyz",
		"jschl_answer": "12.5",
	}, answer.Payload)
}

func TestResolverSolveWithGoja(t *testing.T) {
	answer, err := Solve(context.Background(), loadFixture(t, "js_challenge.html"), "https://example.com/", interpreter.Goja)
	require.NoError(t, err)

	assert.Equal(t, "116.0000000000", answer.Payload["jschl_answer"])
}

func TestResolverEvaluatorFailure(t *testing.T) {
	r := &Resolver{Evaluator: &fixedEvaluator{err: errors.New("boom")}}

	_, err := r.Solve(context.Background(), loadFixture(t, "js_challenge.html"), "https://example.com/")

	var solveErr *SolveError
	require.ErrorAs(t, err, &solveErr)
	assert.EqualError(t, errors.Unwrap(err), "boom")
}

func TestSolveChecksExtractionFirst(t *testing.T) {
	// An unknown interpreter would fail too; the malformed page is reported.
	_, err := Solve(context.Background(), "<html></html>", "https://example.com/", "no-such-engine")
	assert.ErrorIs(t, err, ErrMalformedChallenge)
}

func TestNewResolverUnknownInterpreter(t *testing.T) {
	_, err := NewResolver("rhino")

	var solveErr *SolveError
	require.ErrorAs(t, err, &solveErr)
	assert.ErrorIs(t, err, interpreter.ErrUnknownInterpreter)
}

func TestAnswerEncodeOrder(t *testing.T) {
	a := &Answer{Payload: map[string]string{
		"zeta":         "z",
		"jschl_answer": "1.5",
		"pass":         "p w",
		"r":            "r/1",
		"jschl_vc":     "vc",
		"alpha":        "a",
	}}

	assert.Equal(t, "r=r%2F1&jschl_vc=vc&pass=p+w&jschl_answer=1.5&alpha=a&zeta=z", a.Encode())
}

func TestSolveCaptcha(t *testing.T) {
	form := &CaptchaForm{ActionURL: "/?__cf_chl_captcha_tk__=cap", R: "rv", Kind: "h", RayID: "ray"}

	answer, err := SolveCaptcha(form, "https://example.com/x", "tok")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/?__cf_chl_captcha_tk__=cap", answer.SubmitURL)
	assert.Equal(t, "r=rv&cf_captcha_kind=h&id=ray&g-recaptcha-response=tok&h-captcha-response=tok", answer.Encode())

	form.Kind = "re"
	answer, err = SolveCaptcha(form, "https://example.com/x", "tok")
	require.NoError(t, err)
	assert.NotContains(t, answer.Payload, "h-captcha-response")
}
