package transfer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/tigrisdata/s3fs/log"
)

// SessionState is the lifecycle state of a multipart session. Transitions
// only move forward: Open -> Completing -> Completed, or to Aborted.
type SessionState int

const (
	SessionOpen SessionState = iota
	SessionCompleting
	SessionCompleted
	SessionAborted
)

func (s SessionState) String() string {
	switch s {
	case SessionOpen:
		return "open"
	case SessionCompleting:
		return "completing"
	case SessionCompleted:
		return "completed"
	case SessionAborted:
		return "aborted"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Session is a multipart upload in progress. It owns the results collected
// for its parts; nothing is visible at the target until Complete succeeds.
type Session struct {
	ID     string
	Target Target

	store BlobStore

	mu       sync.Mutex
	state    SessionState
	reserved int
	parts    map[int]PartResult
}

func openSession(ctx context.Context, store BlobStore, target Target) (*Session, error) {
	id, err := store.InitiateMultipart(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("initiating multipart upload for %s: %w", target.ObjectRef, err)
	}

	log.GetLogger(log.WithContext(ctx)).WithFields(log.Fields{
		"upload_id": id,
		"bucket":    target.Bucket,
		"key":       target.Key,
	}).Info("multipart session opened")

	return &Session{
		ID:     id,
		Target: target,
		store:  store,
		parts:  make(map[int]PartResult),
	}, nil
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reserved returns how many part numbers were handed out.
func (s *Session) Reserved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserved
}

// reserve hands out the next n part numbers and returns the first of them.
func (s *Session) reserve(n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionOpen {
		return 0, fmt.Errorf("reserving parts in %s session %q: %w", s.state, s.ID, ErrSessionState)
	}
	first := s.reserved + 1
	s.reserved += n
	return first, nil
}

func (s *Session) record(res PartResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionOpen {
		return fmt.Errorf("recording part %d in %s session %q: %w", res.Number, s.state, s.ID, ErrSessionState)
	}
	if res.Number < 1 || res.Number > s.reserved {
		return fmt.Errorf("part %d was never dispatched in session %q: %w", res.Number, s.ID, ErrSessionState)
	}
	if _, ok := s.parts[res.Number]; ok {
		return fmt.Errorf("part %d recorded twice in session %q: %w", res.Number, s.ID, ErrSessionState)
	}
	s.parts[res.Number] = res
	return nil
}

// results returns the collected parts sorted by part number, checking that
// every reserved part number is present exactly once.
func (s *Session) results() ([]PartResult, error) {
	if len(s.parts) != s.reserved {
		return nil, fmt.Errorf("session %q has %d of %d parts: %w", s.ID, len(s.parts), s.reserved, ErrSessionState)
	}

	parts := make([]PartResult, 0, len(s.parts))
	for _, p := range s.parts {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })

	for i, p := range parts {
		if p.Number != i+1 {
			return nil, fmt.Errorf("session %q is missing part %d: %w", s.ID, i+1, ErrSessionState)
		}
	}
	return parts, nil
}

func (s *Session) complete(ctx context.Context) error {
	s.mu.Lock()
	if s.state != SessionOpen {
		s.mu.Unlock()
		return fmt.Errorf("completing %s session %q: %w", s.state, s.ID, ErrSessionState)
	}
	parts, err := s.results()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = SessionCompleting
	s.mu.Unlock()

	if err := s.store.CompleteMultipart(ctx, s.Target, s.ID, parts); err != nil {
		return fmt.Errorf("completing multipart upload %q: %w", s.ID, err)
	}

	s.mu.Lock()
	s.state = SessionCompleted
	s.mu.Unlock()

	log.GetLogger(log.WithContext(ctx)).WithFields(log.Fields{
		"upload_id": s.ID,
		"parts":     len(parts),
	}).Info("multipart session completed")

	return nil
}

// abort discards the session and returns cause, joined with the abort error
// if the store refused to abort. Aborting never runs on a cancelled context.
func (s *Session) abort(ctx context.Context, cause error) error {
	s.mu.Lock()
	if s.state == SessionAborted || s.state == SessionCompleted {
		s.mu.Unlock()
		return cause
	}
	s.state = SessionAborted
	s.mu.Unlock()

	l := log.GetLogger(log.WithContext(ctx)).WithFields(log.Fields{"upload_id": s.ID})

	if err := s.store.AbortMultipart(context.WithoutCancel(ctx), s.Target, s.ID); err != nil {
		l.WithError(err).Warn("aborting multipart session failed")
		if cause == nil {
			return err
		}
		return multierror.Append(cause, fmt.Errorf("aborting upload %q: %w", s.ID, err))
	}

	l.WithError(cause).Info("multipart session aborted")
	return cause
}
