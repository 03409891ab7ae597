package cfscraper

import (
	"log"

	tls_client "github.com/bogdanfinn/tls-client"
)

// Logger receives diagnostic lines. The client only writes to it when
// Config.Debug is set.
type Logger interface {
	Log(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Log(string, ...any) {}

// NewNoopLogger returns a Logger that discards everything.
func NewNoopLogger() Logger {
	return noopLogger{}
}

type stdLogger struct {
	logger *log.Logger
}

func (s *stdLogger) Log(format string, args ...any) {
	s.logger.Printf(format, args...)
}

// NewStdLogger adapts a standard library logger.
func NewStdLogger(l *log.Logger) Logger {
	if l == nil {
		return NewNoopLogger()
	}
	return &stdLogger{logger: l}
}

// prefixLogger tags every line, e.g. with a worker id.
type prefixLogger struct {
	prefix string
	base   Logger
}

func (p *prefixLogger) Log(format string, args ...any) {
	p.base.Log("[%s] "+format, append([]any{p.prefix}, args...)...)
}

// WithPrefix wraps base so each line starts with "[prefix]".
func WithPrefix(base Logger, prefix string) Logger {
	return &prefixLogger{prefix: prefix, base: base}
}

// transportLogger picks the tls-client logger matching the debug flag.
func transportLogger(debug bool) tls_client.Logger {
	if debug {
		return tls_client.NewDebugLogger(tls_client.NewLogger())
	}
	return tls_client.NewNoopLogger()
}
