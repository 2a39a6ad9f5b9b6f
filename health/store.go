package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tigrisdata/s3fs/log"
	"github.com/tigrisdata/s3fs/transfer"
)

const (
	StoreHealthy       = "healthy"
	StoreUnreachable   = "unreachable"
	StoreStatusUnknown = "unknown"
)

// StoreStatusChecker asynchronously probes a blob store and keeps the result
// of the last probe, returning the status when required.
//
// A probe looks up the metadata of a single object. The store is considered
// reachable when it answers, so a missing probe object is healthy. Only
// errors the store classifies as retryable mark it unreachable.
type StoreStatusChecker struct {
	store    transfer.BlobStore
	probe    transfer.ObjectRef
	interval time.Duration
	timeout  time.Duration
	classify transfer.Classifier

	mu     sync.RWMutex
	last   *probeInfo
	logger log.Logger
}

type probeInfo struct {
	err      error
	probedAt time.Time
}

func NewStoreStatusChecker(store transfer.BlobStore, probe transfer.ObjectRef, interval, timeout time.Duration, logger log.Logger) *StoreStatusChecker {
	classify := transfer.DefaultClassifier
	if c, ok := store.(transfer.ErrorClassifier); ok {
		classify = c.Classify
	}

	return &StoreStatusChecker{
		store:    store,
		probe:    probe,
		interval: interval,
		timeout:  timeout,
		classify: classify,
		logger:   logger,
	}
}

func (s *StoreStatusChecker) Start(ctx context.Context) {
	go s.updateStatusInBackground(ctx)
}

func (s *StoreStatusChecker) updateStatusInBackground(ctx context.Context) {
	// First, initialize the status right away
	s.doProbe(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.doProbe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *StoreStatusChecker) doProbe(ctx context.Context) {
	timestamp := time.Now()

	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	_, err := s.store.GetMetadata(probeCtx, s.probe)
	timedOut := probeCtx.Err() != nil
	cancel()

	if err != nil && !timedOut && s.classify(err) != transfer.OutcomeRetryable {
		// the store answered, the object is just not usable
		err = nil
	}
	if err != nil {
		s.logger.WithFields(log.Fields{"probe": s.probe.String()}).WithError(err).Warn("storage probe failed")
	}

	s.mu.Lock()
	s.last = &probeInfo{err: err, probedAt: timestamp}
	s.mu.Unlock()
}

// HealthCheck reports the error of the last probe. The store is assumed
// healthy until it has been probed once.
func (s *StoreStatusChecker) HealthCheck() error {
	s.mu.RLock()
	info := s.last
	s.mu.RUnlock()

	if info == nil {
		s.logger.WithFields(log.Fields{
			"path":  "/debug/health",
			"probe": s.probe.String(),
		}).Info("status unknown for storage, haven't probed it yet, returning OK")
		return nil
	}
	if info.err != nil {
		return fmt.Errorf("probing %s: %w", s.probe, info.err)
	}
	return nil
}

// ServeHTTP is a HTTP handler that reports on the status of the storage
// backend. This will be served at /debug/health/storage.
func (s *StoreStatusChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// If the response writing causes a write error, it's already too late to
	// handle it. Instead, this function helps us nicely log the error.
	maybeLogWriteErr := func(err error) {
		if err != nil {
			s.logger.WithFields(log.Fields{"path": "/debug/health/storage"}).WithError(err).
				Error("error writing response")
		}
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, err := fmt.Fprintf(w, "must be a GET request, not %s", r.Method)
		maybeLogWriteErr(err)
		return
	}

	encoded, err := json.Marshal(s.getStatus())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, writeErr := fmt.Fprint(w, err)
		maybeLogWriteErr(writeErr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, err = fmt.Fprint(w, string(encoded))
	maybeLogWriteErr(err)
}

func (s *StoreStatusChecker) getStatus() *StoreStatus {
	status := &StoreStatus{
		Probe:  s.probe.String(),
		Status: StoreStatusUnknown,
	}

	s.mu.RLock()
	info := s.last
	s.mu.RUnlock()

	if info == nil {
		return status
	}

	status.LastProbedAt = (*timestamp)(&info.probedAt)
	if info.err != nil {
		status.Status = StoreUnreachable
		status.Error = info.err.Error()
	} else {
		status.Status = StoreHealthy
	}
	return status
}

type StoreStatus struct {
	Probe        string     `json:"probe"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
	LastProbedAt *timestamp `json:"last_probed_at,omitempty"`
}

// timestamp is a time.Time that marshals into an ISO8601 timestamp with
// millisecond precision.
type timestamp time.Time

// MarshalJSON outputs the timestamp in ISO8601 format with millisecond precision.
func (t *timestamp) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0)
	b = append(b, '"')
	b = (*time.Time)(t).AppendFormat(b, "2006-01-02T15:04:05.999Z")
	b = append(b, '"')
	return b, nil
}
