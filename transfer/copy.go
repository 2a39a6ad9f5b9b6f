package transfer

import (
	"context"
	"fmt"

	"github.com/tigrisdata/s3fs/internal/feature"
	"github.com/tigrisdata/s3fs/log"
	"github.com/tigrisdata/s3fs/transfer/internal/metrics"
	"golang.org/x/sync/errgroup"
)

type copyOptions struct {
	size     int64
	partSize int64
}

// CopyOption configures Copy.
type CopyOption func(*copyOptions)

// WithSourceSize skips the metadata lookup of the source object.
func WithSourceSize(size int64) CopyOption {
	return func(o *copyOptions) {
		o.size = size
	}
}

// WithPartSize overrides the part size of the engine policy for one copy.
func WithPartSize(size int64) CopyOption {
	return func(o *copyOptions) {
		o.partSize = size
	}
}

// CopyResult describes a committed copy.
type CopyResult struct {
	// UploadID is empty for zero byte sources, which are written directly.
	UploadID  string
	Size      int64
	ChunkSize int64
	Parts     int
}

// Copy copies source to target server side, splitting it into byte ranges
// copied in parallel. Either every part is copied and the target committed,
// or the session is aborted and a *CopyError returned.
func (e *Engine) Copy(ctx context.Context, source ObjectRef, target Target, opts ...CopyOption) (*CopyResult, error) {
	o := copyOptions{size: -1}
	for _, opt := range opts {
		opt(&o)
	}

	if source.Key == "" {
		return nil, invalidArgument("source", "key is required, got %q", source.String())
	}
	if target.Key == "" {
		return nil, invalidArgument("target", "key is required, got %q", target.ObjectRef.String())
	}

	policy := e.policy
	if o.partSize != 0 {
		var err error
		if policy, err = policy.WithPartSize(o.partSize); err != nil {
			return nil, err
		}
	}

	exec, err := e.executor()
	if err != nil {
		return nil, err
	}

	done := metrics.InstrumentSession(metrics.PathCopy)

	s, err := openSession(ctx, e.store, target)
	if err != nil {
		done(metrics.OutcomeAborted)
		return nil, &CopyError{Err: err}
	}

	fail := func(err error) error {
		done(metrics.OutcomeAborted)
		return &CopyError{UploadID: s.ID, Err: s.abort(ctx, err)}
	}

	size := o.size
	if size < 0 {
		if size, err = e.store.GetMetadata(ctx, source); err != nil {
			return nil, fail(fmt.Errorf("reading size of %s: %w", source, err))
		}
	}

	plan, err := policy.Plan(size)
	if err != nil {
		return nil, fail(err)
	}

	l := log.GetLogger(log.WithContext(ctx)).WithFields(log.Fields{
		"upload_id":  s.ID,
		"source":     source.String(),
		"target":     target.ObjectRef.String(),
		"size":       plan.TotalSize,
		"chunk_size": plan.ChunkSize,
		"parts":      plan.Parts,
	})

	if plan.Parts == 0 {
		// stores refuse to complete a session without parts
		if err := s.abort(ctx, nil); err != nil {
			l.WithError(err).Warn("discarding unused multipart session")
		}
		if err := e.putObject(ctx, target, nil); err != nil {
			done(metrics.OutcomeAborted)
			return nil, &CopyError{UploadID: s.ID, Err: err}
		}
		done(metrics.OutcomeSingleShot)
		return &CopyResult{ChunkSize: plan.ChunkSize}, nil
	}

	l.Info("starting multipart copy")

	first, err := s.reserve(plan.Parts)
	if err != nil {
		return nil, fail(err)
	}

	g, gctx := errgroup.WithContext(ctx)

	partCtx := ctx
	if feature.CopyCancelSiblings.Enabled() {
		partCtx = gctx
	}

	for i, r := range plan.Ranges() {
		if gctx.Err() != nil {
			// a part already failed, the session is going to be aborted
			break
		}
		number := first + i

		future, err := e.runPart(partCtx, exec, metrics.OperationCopy, s.ID, number, func(ctx context.Context) (PartResult, error) {
			return e.store.CopyPart(ctx, source, target, s.ID, number, r)
		})
		if err != nil {
			// surfaces through Wait and cancels what was already queued
			g.Go(func() error { return err })
			break
		}

		g.Go(func() error {
			res, err := future.Wait(partCtx)
			if err != nil {
				return err
			}
			return s.record(res)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fail(err)
	}

	if err := s.complete(ctx); err != nil {
		return nil, fail(err)
	}

	done(metrics.OutcomeCompleted)
	l.Info("multipart copy completed")

	return &CopyResult{
		UploadID:  s.ID,
		Size:      plan.TotalSize,
		ChunkSize: plan.ChunkSize,
		Parts:     plan.Parts,
	}, nil
}
