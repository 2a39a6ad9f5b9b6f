package testutil

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/tigrisdata/s3fs/log"
)

type logWriterType struct {
	t testing.TB
}

func (l logWriterType) Write(p []byte) (n int, err error) {
	l.t.Log(string(p))
	return len(p), nil
}

type opts func(l *logrus.Entry)

func WithLogLevel(ll string) func(l *logrus.Entry) {
	return func(l *logrus.Entry) {
		lll, err := logrus.ParseLevel(ll)
		if err != nil {
			lll = logrus.DebugLevel
		}
		l.Logger.Level = lll
	}
}

func WithFields(fields log.Fields) func(l *logrus.Entry) {
	return func(l *logrus.Entry) {
		*l = *l.WithFields(logrus.Fields(fields))
	}
}

// NewContextWithLogger returns a context carrying a logger that writes to tb.
func NewContextWithLogger(tb testing.TB, opts ...opts) context.Context {
	return log.WithLogger(context.Background(), NewTestLogger(tb, opts...))
}

func NewTestLogger(t testing.TB, opts ...opts) log.Logger {
	logger := logrus.New().WithFields(
		logrus.Fields{
			"test": true,
		},
	)
	logger.Logger.Level = logrus.DebugLevel
	logger.Logger.SetOutput(logWriterType{t: t})

	for _, opt := range opts {
		opt(logger)
	}

	return log.FromLogrusLogger(logger)
}
