// Package inmemory provides a transfer.BlobStore kept in process memory. It
// follows S3 multipart semantics closely enough to exercise the engine:
// parts are invisible until completion, non-final parts must meet a minimum
// size and completion validates every part token.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/tigrisdata/s3fs/storage/driver/factory"
	"github.com/tigrisdata/s3fs/storage/driver/internal/parse"
	"github.com/tigrisdata/s3fs/transfer"
)

const (
	DriverName = "inmemory"

	paramMinPartSize = "minpartsize"
)

var (
	// ErrNotFound is returned for objects that do not exist.
	ErrNotFound = errors.New("inmemory: no such key")
	// ErrNoSuchUpload is returned for unknown or finished upload ids.
	ErrNoSuchUpload = errors.New("inmemory: no such upload")
	// ErrInvalidPart is returned when completion references a part that was
	// not uploaded or whose token does not match.
	ErrInvalidPart = errors.New("inmemory: invalid part")
	// ErrEntityTooSmall is returned when a non-final part is below the minimum size.
	ErrEntityTooSmall = errors.New("inmemory: part too small")
	// ErrInvalidRange is returned for copy ranges outside of the source.
	ErrInvalidRange = errors.New("inmemory: invalid range")
)

func init() {
	factory.Register(DriverName, &inMemoryDriverFactory{})
}

// inMemoryDriverFactory implements the factory.StorageDriverFactory interface.
type inMemoryDriverFactory struct{}

func (*inMemoryDriverFactory) Create(parameters map[string]any) (transfer.BlobStore, error) {
	d, err := FromParameters(parameters)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Object is a committed object.
type Object struct {
	Data   []byte
	Target transfer.Target
}

type upload struct {
	target transfer.Target
	parts  map[int][]byte
}

// Driver is a transfer.BlobStore backed by maps.
type Driver struct {
	minPartSize int64

	mu      sync.Mutex
	objects map[transfer.ObjectRef]Object
	uploads map[string]*upload
}

// FromParameters constructs a Driver from a parameter map. The only
// recognised parameter is minpartsize, defaulting to transfer.MinPartSize.
func FromParameters(parameters map[string]any) (*Driver, error) {
	minPartSize, err := parse.Int64(parameters, paramMinPartSize, transfer.MinPartSize, 0, transfer.MaxPartSize)
	if err != nil {
		return nil, err
	}
	return New(minPartSize), nil
}

// New returns an empty Driver enforcing minPartSize on non-final parts.
func New(minPartSize int64) *Driver {
	return &Driver{
		minPartSize: minPartSize,
		objects:     make(map[transfer.ObjectRef]Object),
		uploads:     make(map[string]*upload),
	}
}

// Classify implements transfer.ErrorClassifier.
func (*Driver) Classify(err error) transfer.Outcome {
	var transient *transfer.TransientError

	switch {
	case err == nil:
		return transfer.OutcomeSuccess
	case errors.As(err, &transient):
		return transfer.OutcomeRetryable
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNoSuchUpload),
		errors.Is(err, ErrInvalidPart),
		errors.Is(err, ErrEntityTooSmall),
		errors.Is(err, ErrInvalidRange):
		return transfer.OutcomeTerminal
	default:
		return transfer.DefaultClassifier(err)
	}
}

// InitiateMultipart implements transfer.BlobStore.
func (d *Driver) InitiateMultipart(_ context.Context, target transfer.Target) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.NewString()
	d.uploads[id] = &upload{target: target, parts: make(map[int][]byte)}
	return id, nil
}

// UploadPart implements transfer.BlobStore.
func (d *Driver) UploadPart(ctx context.Context, _ transfer.Target, uploadID string, partNumber int, data []byte) (transfer.PartResult, error) {
	if err := ctx.Err(); err != nil {
		return transfer.PartResult{}, err
	}
	return d.storePart(uploadID, partNumber, append([]byte(nil), data...))
}

// CopyPart implements transfer.BlobStore.
func (d *Driver) CopyPart(ctx context.Context, source transfer.ObjectRef, _ transfer.Target, uploadID string, partNumber int, r transfer.ByteRange) (transfer.PartResult, error) {
	if err := ctx.Err(); err != nil {
		return transfer.PartResult{}, err
	}

	d.mu.Lock()
	obj, ok := d.objects[source]
	d.mu.Unlock()
	if !ok {
		return transfer.PartResult{}, fmt.Errorf("%s: %w", source, ErrNotFound)
	}
	if r.First < 0 || r.Last < r.First || r.Last >= int64(len(obj.Data)) {
		return transfer.PartResult{}, fmt.Errorf("%s of %d byte object: %w", r, len(obj.Data), ErrInvalidRange)
	}

	return d.storePart(uploadID, partNumber, append([]byte(nil), obj.Data[r.First:r.Last+1]...))
}

func (d *Driver) storePart(uploadID string, partNumber int, data []byte) (transfer.PartResult, error) {
	if partNumber < 1 || partNumber > transfer.MaxParts {
		return transfer.PartResult{}, fmt.Errorf("part number %d: %w", partNumber, ErrInvalidPart)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.uploads[uploadID]
	if !ok {
		return transfer.PartResult{}, fmt.Errorf("%s: %w", uploadID, ErrNoSuchUpload)
	}
	u.parts[partNumber] = data

	return transfer.PartResult{Number: partNumber, Token: digest.FromBytes(data).String()}, nil
}

// CompleteMultipart implements transfer.BlobStore.
func (d *Driver) CompleteMultipart(_ context.Context, target transfer.Target, uploadID string, parts []transfer.PartResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.uploads[uploadID]
	if !ok {
		return fmt.Errorf("%s: %w", uploadID, ErrNoSuchUpload)
	}
	if len(parts) == 0 {
		return fmt.Errorf("no parts to complete: %w", ErrInvalidPart)
	}

	sorted := sort.SliceIsSorted(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	if !sorted {
		return fmt.Errorf("parts must be in ascending order: %w", ErrInvalidPart)
	}

	var data []byte
	for i, p := range parts {
		part, ok := u.parts[p.Number]
		if !ok || digest.FromBytes(part).String() != p.Token {
			return fmt.Errorf("part %d: %w", p.Number, ErrInvalidPart)
		}
		if i < len(parts)-1 && int64(len(part)) < d.minPartSize {
			return fmt.Errorf("part %d has %d bytes, minimum is %d: %w", p.Number, len(part), d.minPartSize, ErrEntityTooSmall)
		}
		data = append(data, part...)
	}

	delete(d.uploads, uploadID)
	d.objects[target.ObjectRef] = Object{Data: data, Target: u.target}
	return nil
}

// AbortMultipart implements transfer.BlobStore.
func (d *Driver) AbortMultipart(_ context.Context, _ transfer.Target, uploadID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.uploads[uploadID]; !ok {
		return fmt.Errorf("%s: %w", uploadID, ErrNoSuchUpload)
	}
	delete(d.uploads, uploadID)
	return nil
}

// PutObject implements transfer.BlobStore.
func (d *Driver) PutObject(ctx context.Context, target transfer.Target, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.objects[target.ObjectRef] = Object{Data: append([]byte{}, data...), Target: target}
	return nil
}

// GetMetadata implements transfer.BlobStore.
func (d *Driver) GetMetadata(_ context.Context, ref transfer.ObjectRef) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	obj, ok := d.objects[ref]
	if !ok {
		return 0, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return int64(len(obj.Data)), nil
}

// GetObject returns a committed object.
func (d *Driver) GetObject(ref transfer.ObjectRef) (Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	obj, ok := d.objects[ref]
	if !ok {
		return Object{}, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return obj, nil
}

// OpenUploads returns the number of sessions neither completed nor aborted.
func (d *Driver) OpenUploads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.uploads)
}
