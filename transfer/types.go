//go:generate mockgen -package mocks -destination mocks/store.go . BlobStore

package transfer

import (
	"context"
	"fmt"
)

// ObjectRef identifies an object in a bucket. An empty Bucket selects the
// store's configured default bucket.
type ObjectRef struct {
	Bucket string
	Key    string
}

func (r ObjectRef) String() string {
	return r.Bucket + "/" + r.Key
}

// Target is the destination of a transfer.
type Target struct {
	ObjectRef

	// StorageClass is passed through to the store. Empty means the store default.
	StorageClass string
	// Encrypt requests server side encryption at rest.
	Encrypt bool
	// KMSKeyID selects KMS managed encryption when Encrypt is set.
	KMSKeyID    string
	ContentType string
	Metadata    map[string]string
}

// ByteRange is an inclusive range of bytes.
type ByteRange struct {
	First int64
	Last  int64
}

// Len returns the number of bytes covered by r.
func (r ByteRange) Len() int64 {
	return r.Last - r.First + 1
}

// String formats r as an HTTP Range header value.
func (r ByteRange) String() string {
	return fmt.Sprintf("bytes=%d-%d", r.First, r.Last)
}

// nextRange returns the part starting at pos: chunk bytes long, clipped so
// that it never extends past size-1. Both the writer and the copier derive
// their part boundaries from it.
func nextRange(pos, chunk, size int64) ByteRange {
	last := pos + chunk - 1
	if last >= size {
		last = size - 1
	}
	return ByteRange{First: pos, Last: last}
}

// ChunkPlan describes how an object of TotalSize bytes is split into parts.
type ChunkPlan struct {
	TotalSize int64
	ChunkSize int64
	Parts     int
}

// Ranges returns the contiguous, non-overlapping ranges covering the object.
func (p ChunkPlan) Ranges() []ByteRange {
	ranges := make([]ByteRange, 0, p.Parts)
	for pos := int64(0); pos < p.TotalSize; pos += p.ChunkSize {
		ranges = append(ranges, nextRange(pos, p.ChunkSize, p.TotalSize))
	}
	return ranges
}

// PartDescriptor describes one part to upload (Data) or copy (Range).
type PartDescriptor struct {
	Number int
	Data   []byte
	Range  ByteRange
}

// PartResult is what the store hands back for a part. Token is opaque.
type PartResult struct {
	Number int
	Token  string
}

// BlobStore is the object store the engine drives.
type BlobStore interface {
	InitiateMultipart(ctx context.Context, target Target) (string, error)
	UploadPart(ctx context.Context, target Target, uploadID string, partNumber int, data []byte) (PartResult, error)
	CopyPart(ctx context.Context, source ObjectRef, target Target, uploadID string, partNumber int, r ByteRange) (PartResult, error)
	CompleteMultipart(ctx context.Context, target Target, uploadID string, parts []PartResult) error
	// AbortMultipart is best effort.
	AbortMultipart(ctx context.Context, target Target, uploadID string) error
	PutObject(ctx context.Context, target Target, data []byte) error
	GetMetadata(ctx context.Context, ref ObjectRef) (int64, error)
}
