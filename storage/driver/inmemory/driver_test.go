package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tigrisdata/s3fs/storage/driver/factory"
	"github.com/tigrisdata/s3fs/transfer"
)

func target(key string) transfer.Target {
	return transfer.Target{ObjectRef: transfer.ObjectRef{Bucket: "bucket", Key: key}}
}

func TestMultipartRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := New(4)
	dst := target("dst")

	id, err := d.InitiateMultipart(ctx, dst)
	require.NoError(t, err)

	p2, err := d.UploadPart(ctx, dst, id, 2, []byte("ef"))
	require.NoError(t, err)
	p1, err := d.UploadPart(ctx, dst, id, 1, []byte("abcd"))
	require.NoError(t, err)

	_, err = d.GetObject(dst.ObjectRef)
	require.ErrorIs(t, err, ErrNotFound, "parts must not be visible before completion")

	require.NoError(t, d.CompleteMultipart(ctx, dst, id, []transfer.PartResult{p1, p2}))

	obj, err := d.GetObject(dst.ObjectRef)
	require.NoError(t, err)
	require.Equal(t, []byte("abcdef"), obj.Data)
	require.Zero(t, d.OpenUploads())

	err = d.AbortMultipart(ctx, dst, id)
	require.ErrorIs(t, err, ErrNoSuchUpload)
}

func TestCompleteValidation(t *testing.T) {
	ctx := context.Background()
	d := New(4)
	dst := target("dst")

	testCases := map[string]struct {
		parts       func(id string) []transfer.PartResult
		expectedErr error
	}{
		"empty": {
			parts:       func(string) []transfer.PartResult { return nil },
			expectedErr: ErrInvalidPart,
		},
		"unsorted": {
			parts: func(id string) []transfer.PartResult {
				p1, _ := d.UploadPart(ctx, dst, id, 1, []byte("abcd"))
				p2, _ := d.UploadPart(ctx, dst, id, 2, []byte("ef"))
				return []transfer.PartResult{p2, p1}
			},
			expectedErr: ErrInvalidPart,
		},
		"wrong_token": {
			parts: func(id string) []transfer.PartResult {
				_, _ = d.UploadPart(ctx, dst, id, 1, []byte("abcd"))
				return []transfer.PartResult{{Number: 1, Token: "sha256:nope"}}
			},
			expectedErr: ErrInvalidPart,
		},
		"non_final_part_too_small": {
			parts: func(id string) []transfer.PartResult {
				p1, _ := d.UploadPart(ctx, dst, id, 1, []byte("ab"))
				p2, _ := d.UploadPart(ctx, dst, id, 2, []byte("cd"))
				return []transfer.PartResult{p1, p2}
			},
			expectedErr: ErrEntityTooSmall,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(tt *testing.T) {
			id, err := d.InitiateMultipart(ctx, dst)
			require.NoError(tt, err)

			err = d.CompleteMultipart(ctx, dst, id, tc.parts(id))
			require.ErrorIs(tt, err, tc.expectedErr)
			require.Equal(tt, transfer.OutcomeTerminal, d.Classify(err))
		})
	}
}

func TestCopyPart(t *testing.T) {
	ctx := context.Background()
	d := New(1)
	src := target("src")
	dst := target("dst")

	require.NoError(t, d.PutObject(ctx, src, []byte("0123456789")))

	size, err := d.GetMetadata(ctx, src.ObjectRef)
	require.NoError(t, err)
	require.EqualValues(t, 10, size)

	id, err := d.InitiateMultipart(ctx, dst)
	require.NoError(t, err)

	p1, err := d.CopyPart(ctx, src.ObjectRef, dst, id, 1, transfer.ByteRange{First: 0, Last: 3})
	require.NoError(t, err)
	p2, err := d.CopyPart(ctx, src.ObjectRef, dst, id, 2, transfer.ByteRange{First: 4, Last: 9})
	require.NoError(t, err)

	_, err = d.CopyPart(ctx, src.ObjectRef, dst, id, 3, transfer.ByteRange{First: 8, Last: 10})
	require.ErrorIs(t, err, ErrInvalidRange)

	require.NoError(t, d.CompleteMultipart(ctx, dst, id, []transfer.PartResult{p1, p2}))

	obj, err := d.GetObject(dst.ObjectRef)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789"), obj.Data)
}

func TestClassify(t *testing.T) {
	d := New(1)

	require.Equal(t, transfer.OutcomeSuccess, d.Classify(nil))
	require.Equal(t, transfer.OutcomeTerminal, d.Classify(ErrNoSuchUpload))
	require.Equal(t, transfer.OutcomeTerminal, d.Classify(context.Canceled))
	require.Equal(t, transfer.OutcomeRetryable, d.Classify(transfer.Transient(ErrNotFound)))
}

func TestFactory(t *testing.T) {
	store, err := factory.Create(DriverName, map[string]any{"minpartsize": "16"})
	require.NoError(t, err)
	require.IsType(t, &Driver{}, store)
	// nolint: revive // unchecked-type-assertion
	require.EqualValues(t, 16, store.(*Driver).minPartSize)

	_, err = factory.Create(DriverName, map[string]any{"minpartsize": "-1"})
	require.Error(t, err)
}
