package transfer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tigrisdata/s3fs/storage/driver/inmemory"
	"github.com/tigrisdata/s3fs/testutil"
	"github.com/tigrisdata/s3fs/transfer"
)

// faultyStore wraps the in-memory driver and injects failures into part
// operations. Part numbers map to the error returned and how many times it is
// returned; a negative count fails forever.
type faultyStore struct {
	*inmemory.Driver

	mu       sync.Mutex
	faults   map[int]*fault
	attempts map[int]int
	aborts   int
	puts     int
	metadata int
	delay    time.Duration
}

type fault struct {
	err   error
	times int
}

func newFaultyStore(minPartSize int64) *faultyStore {
	return &faultyStore{
		Driver:   inmemory.New(minPartSize),
		faults:   make(map[int]*fault),
		attempts: make(map[int]int),
	}
}

func (s *faultyStore) failPart(number int, err error, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[number] = &fault{err: err, times: times}
}

func (s *faultyStore) inject(ctx context.Context, number int) error {
	s.mu.Lock()
	s.attempts[number]++
	f, ok := s.faults[number]
	var err error
	if ok && f.times != 0 {
		f.times--
		err = f.err
	}
	delay := s.delay
	s.mu.Unlock()

	if err == nil && delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *faultyStore) Attempts(number int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[number]
}

func (s *faultyStore) Aborts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborts
}

func (s *faultyStore) UploadPart(ctx context.Context, target transfer.Target, uploadID string, partNumber int, data []byte) (transfer.PartResult, error) {
	if err := s.inject(ctx, partNumber); err != nil {
		return transfer.PartResult{}, err
	}
	return s.Driver.UploadPart(ctx, target, uploadID, partNumber, data)
}

func (s *faultyStore) CopyPart(ctx context.Context, source transfer.ObjectRef, target transfer.Target, uploadID string, partNumber int, r transfer.ByteRange) (transfer.PartResult, error) {
	if err := s.inject(ctx, partNumber); err != nil {
		return transfer.PartResult{}, err
	}
	return s.Driver.CopyPart(ctx, source, target, uploadID, partNumber, r)
}

func (s *faultyStore) AbortMultipart(ctx context.Context, target transfer.Target, uploadID string) error {
	s.mu.Lock()
	s.aborts++
	s.mu.Unlock()
	return s.Driver.AbortMultipart(ctx, target, uploadID)
}

func (s *faultyStore) PutObject(ctx context.Context, target transfer.Target, data []byte) error {
	s.mu.Lock()
	s.puts++
	s.mu.Unlock()
	return s.Driver.PutObject(ctx, target, data)
}

func (s *faultyStore) GetMetadata(ctx context.Context, ref transfer.ObjectRef) (int64, error) {
	s.mu.Lock()
	s.metadata++
	s.mu.Unlock()
	return s.Driver.GetMetadata(ctx, ref)
}

const testChunk = 8

func newTestEngine(t *testing.T, store transfer.BlobStore, attempts int) *transfer.Engine {
	t.Helper()

	policy, err := transfer.NewPolicy(transfer.PolicyOptions{
		PartSize:    testChunk,
		MinPartSize: 1,
		MaxAttempts: attempts,
		RetryBase:   time.Millisecond,
		RetryCap:    2 * time.Millisecond,
	})
	require.NoError(t, err)

	e, err := transfer.NewEngine(store, transfer.Config{Policy: policy, MaxConcurrency: 4, QueueSize: 64})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, e.Close(context.Background()))
	})
	return e
}

func testTarget(key string) transfer.Target {
	return transfer.Target{ObjectRef: transfer.ObjectRef{Bucket: "bucket", Key: key}}
}

func testContext(t *testing.T) context.Context {
	return testutil.NewContextWithLogger(t)
}
