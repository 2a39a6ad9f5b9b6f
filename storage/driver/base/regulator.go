package base

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"sync"

	"github.com/tigrisdata/s3fs/transfer"
)

// Regulator bounds the number of concurrent calls into a blob store. The
// engine executor bounds part operations per engine; the regulator bounds
// every call per backend, whichever engine issues it.
type Regulator struct {
	transfer.BlobStore
	*sync.Cond

	available uint64
}

// GetLimitFromParameter takes an interface type as decoded from the YAML
// configuration and returns a uint64 representing the maximum number of
// concurrent calls given a minimum limit and default.
//
// If the parameter supplied is of an invalid type this returns an error.
func GetLimitFromParameter(param any, minimum, def uint64) (uint64, error) {
	limit := def

	switch v := param.(type) {
	case string:
		var err error
		if limit, err = strconv.ParseUint(v, 0, 64); err != nil {
			return limit, fmt.Errorf("parameter must be an integer, '%v' invalid", param)
		}
	case uint64:
		limit = v
	case int, int32, int64:
		val := reflect.ValueOf(v).Convert(reflect.TypeOf(param)).Int()
		// if param is negative casting to uint64 will wrap around and
		// give you the hugest thread limit ever. Let's be sensible, here
		if val > 0 {
			limit = uint64(val)
		} else {
			limit = minimum
		}
	case uint, uint32:
		limit = reflect.ValueOf(v).Convert(reflect.TypeOf(param)).Uint()
	case nil:
		// use the default
	default:
		return 0, fmt.Errorf("invalid value '%#v'", param)
	}

	if limit < minimum {
		return minimum, nil
	}

	return limit, nil
}

// NewRegulator wraps the given store and is used to regulate concurrent calls
// to the given store. A maximum of limit calls are in flight at any time.
func NewRegulator(store transfer.BlobStore, limit uint64) transfer.BlobStore {
	return &Regulator{
		BlobStore: store,
		Cond:      sync.NewCond(&sync.Mutex{}),
		available: limit,
	}
}

func (r *Regulator) enter() {
	r.L.Lock()
	for r.available == 0 {
		r.Wait()
	}
	r.available--
	r.L.Unlock()
}

func (r *Regulator) exit() {
	r.L.Lock()
	r.Signal()
	r.available++
	r.L.Unlock()
}

// Classify delegates to the wrapped store when it classifies its own errors.
func (r *Regulator) Classify(err error) transfer.Outcome {
	if c, ok := r.BlobStore.(transfer.ErrorClassifier); ok {
		return c.Classify(err)
	}
	return transfer.DefaultClassifier(err)
}

// InitiateMultipart forwards to the wrapped store.
func (r *Regulator) InitiateMultipart(ctx context.Context, target transfer.Target) (string, error) {
	r.enter()
	defer r.exit()

	return r.BlobStore.InitiateMultipart(ctx, target)
}

// UploadPart forwards to the wrapped store.
func (r *Regulator) UploadPart(ctx context.Context, target transfer.Target, uploadID string, partNumber int, data []byte) (transfer.PartResult, error) {
	r.enter()
	defer r.exit()

	return r.BlobStore.UploadPart(ctx, target, uploadID, partNumber, data)
}

// CopyPart forwards to the wrapped store.
func (r *Regulator) CopyPart(ctx context.Context, source transfer.ObjectRef, target transfer.Target, uploadID string, partNumber int, br transfer.ByteRange) (transfer.PartResult, error) {
	r.enter()
	defer r.exit()

	return r.BlobStore.CopyPart(ctx, source, target, uploadID, partNumber, br)
}

// CompleteMultipart forwards to the wrapped store.
func (r *Regulator) CompleteMultipart(ctx context.Context, target transfer.Target, uploadID string, parts []transfer.PartResult) error {
	r.enter()
	defer r.exit()

	return r.BlobStore.CompleteMultipart(ctx, target, uploadID, parts)
}

// AbortMultipart forwards to the wrapped store.
func (r *Regulator) AbortMultipart(ctx context.Context, target transfer.Target, uploadID string) error {
	r.enter()
	defer r.exit()

	return r.BlobStore.AbortMultipart(ctx, target, uploadID)
}

// PutObject forwards to the wrapped store.
func (r *Regulator) PutObject(ctx context.Context, target transfer.Target, data []byte) error {
	r.enter()
	defer r.exit()

	return r.BlobStore.PutObject(ctx, target, data)
}

// GetMetadata forwards to the wrapped store.
func (r *Regulator) GetMetadata(ctx context.Context, ref transfer.ObjectRef) (int64, error) {
	r.enter()
	defer r.exit()

	return r.BlobStore.GetMetadata(ctx, ref)
}
