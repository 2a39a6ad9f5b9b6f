package testutil

import (
	"crypto/rand"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
)

// RandomBlob returns size random bytes and their digest.
func RandomBlob(tb testing.TB, size int) ([]byte, digest.Digest) {
	tb.Helper()

	b := make([]byte, size)
	_, err := rand.Read(b)
	require.NoError(tb, err)

	return b, digest.FromBytes(b)
}
