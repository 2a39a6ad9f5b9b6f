package log

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/labkit/correlation"
)

func TestGetLoggerFromContext(t *testing.T) {
	buf := new(bytes.Buffer)
	l := GetLogger(WithWriter(buf))

	ctx := WithLogger(context.Background(), l)
	GetLogger(WithContext(ctx)).Warn("from context")

	require.Contains(t, buf.String(), "from context")
}

func TestGetLoggerAddsCorrelationID(t *testing.T) {
	buf := new(bytes.Buffer)
	ctx := WithLogger(context.Background(), GetLogger(WithWriter(buf)))
	ctx = correlation.ContextWithCorrelation(ctx, "abc123")

	GetLogger(WithContext(ctx)).Warn("hello")

	require.Contains(t, buf.String(), CorrelationIDKey+"=abc123")
}

type ctxKey string

func (k ctxKey) String() string { return string(k) }

func TestGetLoggerWithKeys(t *testing.T) {
	buf := new(bytes.Buffer)
	ctx := WithLogger(context.Background(), GetLogger(WithWriter(buf)))
	ctx = context.WithValue(ctx, ctxKey("upload_id"), "u-1")

	GetLogger(WithContext(ctx), WithKeys(ctxKey("upload_id"), ctxKey("missing"))).Warn("keys")

	require.Contains(t, buf.String(), "upload_id=u-1")
	require.NotContains(t, buf.String(), "missing")
}

func TestLogrusRoundTrip(t *testing.T) {
	e := logrus.NewEntry(logrus.New()).WithField("component", "test")
	l := FromLogrusLogger(e)

	require.Same(t, e, ToLogrusEntry(l))

	withErr := l.WithError(errors.New("boom"))
	require.Equal(t, "boom", ToLogrusEntry(withErr).Data[logrus.ErrorKey].(error).Error())
}

func TestWithTestingTB(t *testing.T) {
	l := GetLogger(WithTestingTB(t))
	l.WithFields(Fields{"key": "value"}).Debug("routed through testing.TB")
	require.Equal(t, true, ToLogrusEntry(l).Data["test"])
}
