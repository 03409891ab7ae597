// Package interpreter evaluates the arithmetic script embedded in a JS
// challenge page inside an isolated engine.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnknownInterpreter = errors.New("unknown interpreter")
	ErrUnavailable        = errors.New("interpreter engine not available")
	ErrScriptNotFound     = errors.New("challenge script not found")
	ErrSolveFailed        = errors.New("challenge script evaluation failed")
)

// Engine names accepted by New.
const (
	Goja       = "goja"
	NodeJS     = "nodejs"
	V8         = "v8"
	ChakraCore = "chakracore"
	Js2Py      = "js2py"
)

// DefaultTimeout bounds a single script evaluation.
const DefaultTimeout = 5 * time.Second

// Interpreter computes the answer for a challenge body served by domain.
type Interpreter interface {
	Solve(ctx context.Context, body, domain string) (string, error)
}

// New returns the named engine. Names of engines that are not compiled in
// fail here rather than at solve time.
func New(name string) (Interpreter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Goja:
		return NewGoja(DefaultTimeout), nil
	case NodeJS:
		node, err := NewNode("", DefaultTimeout)
		if err != nil {
			return nil, err
		}
		return node, nil
	case V8, ChakraCore, Js2Py:
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, name)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownInterpreter, name)
	}
}

// checkAnswer rejects anything that is not a finite number.
func checkAnswer(raw string) (string, error) {
	answer := strings.TrimSpace(raw)
	f, err := strconv.ParseFloat(answer, 64)
	if err != nil {
		return "", fmt.Errorf("%w: non-numeric result %q", ErrSolveFailed, answer)
	}
	if f != f || f > 1e308 || f < -1e308 {
		return "", fmt.Errorf("%w: non-finite result %q", ErrSolveFailed, answer)
	}
	return answer, nil
}
