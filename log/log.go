// Package log provides the logger used across s3fs. Loggers travel through
// context.Context so that request scoped fields (correlation ids, upload ids)
// follow the work they describe.
package log

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/labkit/correlation"
)

// Fields represents a set of structured log fields.
type Fields map[string]any

// Logger is the subset of logrus functionality used by s3fs.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Print(args ...any)
	Printf(format string, args ...any)

	WithField(key string, value any) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
}

type loggerKey struct{}

// CorrelationIDKey is the field name used for correlation ids.
const CorrelationIDKey = "correlation_id"

type entry struct {
	*logrus.Entry
}

func (e *entry) WithField(key string, value any) Logger {
	return &entry{e.Entry.WithField(key, value)}
}

func (e *entry) WithFields(fields Fields) Logger {
	return &entry{e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *entry) WithError(err error) Logger {
	return &entry{e.Entry.WithError(err)}
}

type options struct {
	ctx    context.Context
	tb     testing.TB
	writer io.Writer
	keys   []any
}

// Option configures GetLogger.
type Option func(*options)

// WithContext makes GetLogger return the logger stored in ctx, if any, and
// decorates it with the correlation id found in ctx.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		o.ctx = ctx
	}
}

// WithTestingTB routes log output through tb.Log.
func WithTestingTB(tb testing.TB) Option {
	return func(o *options) {
		o.tb = tb
	}
}

// WithWriter sends log output to w.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// WithKeys adds the values of keys found in the context as log fields.
func WithKeys(keys ...any) Option {
	return func(o *options) {
		o.keys = append(o.keys, keys...)
	}
}

// GetLogger returns a logger. Without options it returns the standard logrus
// logger wrapped as a Logger.
func GetLogger(opts ...Option) Logger {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	var l Logger
	switch {
	case o.tb != nil:
		l = newTestLogger(o.tb)
	case o.writer != nil:
		base := logrus.New()
		base.SetOutput(o.writer)
		base.SetLevel(logrus.StandardLogger().GetLevel())
		l = &entry{logrus.NewEntry(base)}
	case o.ctx != nil:
		l = fromContext(o.ctx)
	default:
		l = &entry{logrus.NewEntry(logrus.StandardLogger())}
	}

	if o.ctx == nil {
		return l
	}

	if id := correlation.ExtractFromContext(o.ctx); id != "" {
		l = l.WithField(CorrelationIDKey, id)
	}

	fields := make(Fields, len(o.keys))
	for _, k := range o.keys {
		if v := o.ctx.Value(k); v != nil {
			fields[keyName(k)] = v
		}
	}
	if len(fields) > 0 {
		l = l.WithFields(fields)
	}

	return l
}

func keyName(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	if s, ok := k.(interface{ String() string }); ok {
		return s.String()
	}
	return "unknown"
}

func fromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok && l != nil {
		return l
	}
	return &entry{logrus.NewEntry(logrus.StandardLogger())}
}

// WithLogger returns a copy of ctx carrying l.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromLogrusLogger wraps a logrus entry as a Logger.
func FromLogrusLogger(e *logrus.Entry) Logger {
	return &entry{e}
}

// ToLogrusEntry exposes the logrus entry backing l. Loggers not created by
// this package are replaced by an entry of the standard logger.
func ToLogrusEntry(l Logger) *logrus.Entry {
	if e, ok := l.(*entry); ok {
		return e.Entry
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

type tbWriter struct {
	tb testing.TB
}

func (w tbWriter) Write(p []byte) (int, error) {
	w.tb.Helper()
	w.tb.Log(string(p))
	return len(p), nil
}

func newTestLogger(tb testing.TB) Logger {
	base := logrus.New()
	base.SetOutput(tbWriter{tb: tb})
	base.SetLevel(logrus.DebugLevel)
	return &entry{base.WithField("test", true)}
}
