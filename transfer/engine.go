// Package transfer moves bytes into an object store as atomic objects,
// splitting large payloads into multipart sessions. It exposes a sequential
// Writer and a server side Copy. Parts run on a shared Executor and are
// retried according to a Policy. An object becomes visible only once its
// session completes.
package transfer

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/tigrisdata/s3fs/log"
	"github.com/tigrisdata/s3fs/transfer/internal/metrics"
)

// Config configures an Engine.
type Config struct {
	// Policy defaults to NewPolicy(PolicyOptions{}).
	Policy *Policy
	// MaxConcurrency and QueueSize size the executor created on first use.
	// They are ignored when Executor is set.
	MaxConcurrency int
	QueueSize      int
	// Executor is shared with the caller, who remains responsible for
	// shutting it down.
	Executor *Executor
	// Classifier defaults to the store's own classifier if it implements
	// ErrorClassifier, or DefaultClassifier otherwise.
	Classifier Classifier
	Clock      clock.Clock
}

// Engine runs writes and copies against a BlobStore.
type Engine struct {
	store   BlobStore
	policy  *Policy
	retrier *Retrier

	workers   int
	queueSize int

	execOnce sync.Once
	exec     *Executor
	execErr  error
	ownsExec bool
}

// NewEngine returns an Engine driving store.
func NewEngine(store BlobStore, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, invalidArgument("store", "must not be nil")
	}

	policy := cfg.Policy
	if policy == nil {
		var err error
		if policy, err = NewPolicy(PolicyOptions{}); err != nil {
			return nil, err
		}
	}

	workers := cfg.MaxConcurrency
	if workers == 0 {
		workers = DefaultMaxConcurrency
	}
	if workers < 0 {
		return nil, invalidArgument("maxconcurrency", "must be positive, got %d", workers)
	}
	queueSize := cfg.QueueSize
	if queueSize == 0 {
		queueSize = DefaultQueueSize
	}
	if queueSize < 0 {
		return nil, invalidArgument("queuesize", "must not be negative, got %d", queueSize)
	}

	classify := cfg.Classifier
	if classify == nil {
		if c, ok := store.(ErrorClassifier); ok {
			classify = c.Classify
		} else {
			classify = DefaultClassifier
		}
	}

	ropts := []RetrierOption{WithClassifier(classify)}
	if cfg.Clock != nil {
		ropts = append(ropts, WithClock(cfg.Clock))
	}

	return &Engine{
		store:     store,
		policy:    policy,
		retrier:   NewRetrier(policy, ropts...),
		workers:   workers,
		queueSize: queueSize,
		exec:      cfg.Executor,
	}, nil
}

// Policy returns the policy used by e.
func (e *Engine) Policy() *Policy {
	return e.policy
}

func (e *Engine) executor() (*Executor, error) {
	e.execOnce.Do(func() {
		if e.exec != nil {
			return
		}
		e.exec, e.execErr = NewExecutor(e.workers, e.queueSize)
		e.ownsExec = e.execErr == nil
	})
	return e.exec, e.execErr
}

// Close shuts down the executor if e created it. Transfers started after
// Close fail with a *ResourceExhaustionError.
func (e *Engine) Close(ctx context.Context) error {
	// make sure a later first use does not start a new pool
	e.execOnce.Do(func() {
		if e.exec == nil {
			e.execErr = &ResourceExhaustionError{Reason: "engine is closed"}
		}
	})

	if !e.ownsExec {
		return nil
	}
	return e.exec.Shutdown(ctx)
}

// putObject writes data as a single object, retrying like a part.
func (e *Engine) putObject(ctx context.Context, target Target, data []byte) error {
	_, err := e.retrier.Do(ctx, metrics.OperationPut, "", 0, func(ctx context.Context) (PartResult, error) {
		return PartResult{}, e.store.PutObject(ctx, target, data)
	})
	if err != nil {
		log.GetLogger(log.WithContext(ctx)).WithError(err).WithFields(log.Fields{
			"bucket": target.Bucket,
			"key":    target.Key,
			"size":   len(data),
		}).Error("single object write failed")
	}
	return err
}

// runPart submits one part operation to the executor.
func (e *Engine) runPart(ctx context.Context, exec *Executor, operation, uploadID string, partNumber int, op PartOperation) (*Future, error) {
	return exec.Submit(ctx, func(ctx context.Context) (PartResult, error) {
		return e.retrier.Do(ctx, operation, uploadID, partNumber, op)
	})
}
