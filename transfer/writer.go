package transfer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/tigrisdata/s3fs/log"
	"github.com/tigrisdata/s3fs/transfer/internal/metrics"
)

// Writer buffers a sequential stream of bytes and stores it as one object.
// Payloads that fit in a single part are written with one PutObject call.
// Larger payloads open a multipart session on the first part boundary and
// upload one part at a time, blocking the caller while each part is in
// flight. A full buffer is only shipped once more bytes arrive, so a payload
// of exactly one chunk still takes the single object path.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	ctx    context.Context
	engine *Engine
	target Target
	chunk  int64

	buf     *bytes.Buffer
	session *Session
	size    int64
	offset  int64
	parts   int

	closed bool
	err    error
	done   func(outcome string)
}

// NewWriter returns a Writer storing its bytes at target. ctx governs every
// store call made by the writer.
func (e *Engine) NewWriter(ctx context.Context, target Target) (*Writer, error) {
	if target.Key == "" {
		return nil, invalidArgument("target", "key is required, got %q", target.ObjectRef.String())
	}

	chunk := e.policy.ChunkSize(-1)
	return &Writer{
		ctx:    ctx,
		engine: e,
		target: target,
		chunk:  chunk,
		buf:    bytes.NewBuffer(make([]byte, 0, chunk)),
		done:   metrics.InstrumentSession(metrics.PathWrite),
	}, nil
}

// Write appends p to the object.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	if w.err != nil {
		return 0, w.err
	}

	var n int
	for len(p) > 0 {
		if int64(w.buf.Len()) == w.chunk {
			if err := w.dispatch(); err != nil {
				return n, err
			}
		}

		room := int(w.chunk) - w.buf.Len()
		if room > len(p) {
			room = len(p)
		}
		w.buf.Write(p[:room])
		p = p[room:]
		n += room
		w.size += int64(room)
	}

	return n, nil
}

// Flush is a no-op beyond reporting a previous failure: buffered bytes stay
// buffered until a part boundary is crossed or the writer is closed.
func (w *Writer) Flush() error {
	if w.closed {
		return ErrWriterClosed
	}
	return w.err
}

// Close commits the object. Nothing is visible at the target before Close
// returns without error.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true

	if w.err != nil {
		return w.err
	}

	if w.session == nil {
		if err := w.engine.putObject(w.ctx, w.target, w.buf.Bytes()); err != nil {
			w.err = err
			w.done(metrics.OutcomeAborted)
			return err
		}
		w.done(metrics.OutcomeSingleShot)
		return nil
	}

	if w.buf.Len() > 0 {
		if err := w.dispatch(); err != nil {
			return err
		}
	}

	if err := w.session.complete(w.ctx); err != nil {
		return w.fail(err)
	}

	w.done(metrics.OutcomeCompleted)
	return nil
}

// Cancel abandons the write, discarding any uploaded parts.
func (w *Writer) Cancel(ctx context.Context) error {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true
	w.buf.Reset()

	if w.err != nil {
		// already aborted
		return nil
	}
	w.err = ErrWriterClosed

	if w.session != nil {
		if err := w.session.abort(ctx, nil); err != nil {
			log.GetLogger(log.WithContext(ctx)).WithError(err).Warn("cancel could not abort upload")
		}
	}
	w.done(metrics.OutcomeAborted)
	return nil
}

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 {
	return w.size
}

// Parts returns the number of parts dispatched so far.
func (w *Writer) Parts() int {
	return w.parts
}

// UploadID returns the id of the multipart session, or an empty string if
// none was opened.
func (w *Writer) UploadID() string {
	if w.session == nil {
		return ""
	}
	return w.session.ID
}

// dispatch uploads the next part from the buffer and waits for it.
func (w *Writer) dispatch() error {
	if w.session == nil {
		s, err := openSession(w.ctx, w.engine.store, w.target)
		if err != nil {
			w.err = err
			w.done(metrics.OutcomeAborted)
			return err
		}
		w.session = s
	}

	exec, err := w.engine.executor()
	if err != nil {
		return w.fail(err)
	}

	number, err := w.session.reserve(1)
	if err != nil {
		return w.fail(err)
	}
	if number > w.engine.policy.MaxParts() {
		return w.fail(invalidArgument("size", "object needs more than %d parts of %d bytes", w.engine.policy.MaxParts(), w.chunk))
	}

	r := nextRange(w.offset, w.chunk, w.offset+int64(w.buf.Len()))
	// valid until the next write to buf; the upload completes before that
	data := w.buf.Next(int(r.Len()))

	log.GetLogger(log.WithContext(w.ctx)).WithFields(log.Fields{
		"upload_id":   w.session.ID,
		"part_number": number,
		"range":       r.String(),
	}).Debug("dispatching part")

	uploadID := w.session.ID
	future, err := w.engine.runPart(w.ctx, exec, metrics.OperationUpload, uploadID, number, func(ctx context.Context) (PartResult, error) {
		return w.engine.store.UploadPart(ctx, w.target, uploadID, number, data)
	})
	if err != nil {
		return w.fail(err)
	}

	res, err := future.Wait(w.ctx)
	if err != nil {
		return w.fail(err)
	}
	if err := w.session.record(res); err != nil {
		return w.fail(err)
	}

	w.offset += r.Len()
	w.parts++
	return nil
}

// fail aborts the session and makes err sticky.
func (w *Writer) fail(err error) error {
	w.err = w.session.abort(w.ctx, fmt.Errorf("writing %s: %w", w.target.ObjectRef, err))
	w.done(metrics.OutcomeAborted)
	return w.err
}
