package interpreter

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// GojaInterpreter runs challenge scripts in an embedded goja runtime. Each
// solve gets a fresh runtime with no host bindings beyond atob/btoa.
type GojaInterpreter struct {
	timeout time.Duration
}

func NewGoja(timeout time.Duration) *GojaInterpreter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GojaInterpreter{timeout: timeout}
}

func (g *GojaInterpreter) Solve(ctx context.Context, body, domain string) (string, error) {
	src, err := Template(body, domain)
	if err != nil {
		return "", err
	}

	vm := goja.New()
	installBase64(vm)

	done := make(chan struct{})
	defer close(done)
	go func() {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-ctx.Done():
			vm.Interrupt("context cancelled")
		case <-timer.C:
			vm.Interrupt("execution timeout")
		}
	}()

	v, err := vm.RunString(src)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return "", fmt.Errorf("%w: interrupted: %v", ErrSolveFailed, interrupted.Value())
		}
		return "", fmt.Errorf("%w: %v", ErrSolveFailed, err)
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", fmt.Errorf("%w: script produced no value", ErrSolveFailed)
	}

	return checkAnswer(v.String())
}

func installBase64(vm *goja.Runtime) {
	_ = vm.Set("atob", func(call goja.FunctionCall) goja.Value {
		decoded, err := base64.StdEncoding.DecodeString(call.Argument(0).String())
		if err != nil {
			panic(vm.NewTypeError("invalid base64"))
		}
		return vm.ToValue(string(decoded))
	})
	_ = vm.Set("btoa", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(base64.StdEncoding.EncodeToString([]byte(call.Argument(0).String())))
	})
}
