package interpreter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// nodeRunner evaluates stdin in a fresh vm context with no require/process.
const nodeRunner = `const vm=require('vm');` +
	`const src=require('fs').readFileSync(0,'utf8');` +
	`process.stdout.write(String(vm.runInNewContext(src,Object.create(null),{timeout:%d})));`

// NodeInterpreter delegates evaluation to an external node binary.
type NodeInterpreter struct {
	path    string
	timeout time.Duration
}

// NewNode locates the node binary. An empty path searches PATH.
func NewNode(path string, timeout time.Duration) (*NodeInterpreter, error) {
	if path == "" {
		found, err := exec.LookPath("node")
		if err != nil {
			return nil, fmt.Errorf("%w: node binary not found: %v", ErrUnavailable, err)
		}
		path = found
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &NodeInterpreter{path: path, timeout: timeout}, nil
}

func (n *NodeInterpreter) Solve(ctx context.Context, body, domain string) (string, error) {
	src, err := Template(body, domain)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout+time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, n.path, "-e", fmt.Sprintf(nodeRunner, n.timeout.Milliseconds()))
	cmd.Stdin = strings.NewReader(src)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w: node: %s", ErrSolveFailed, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("%w: node: %v", ErrSolveFailed, err)
	}

	return checkAnswer(string(out))
}
