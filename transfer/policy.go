package transfer

import (
	"time"
)

const (
	// DefaultPartSize is the part size used when none is configured.
	DefaultPartSize int64 = 5 << 20
	// MinPartSize is the smallest non-final part S3 accepts.
	MinPartSize int64 = 5 << 20
	// MaxPartSize is the largest part S3 accepts.
	MaxPartSize int64 = 5 << 30
	// MaxParts is the largest part number S3 accepts.
	MaxParts = 10000

	DefaultMaxAttempts = 5
	DefaultRetryBase   = 500 * time.Millisecond
	DefaultRetryCap    = 10 * time.Second
)

// PolicyOptions configures a Policy. Zero values select the defaults.
type PolicyOptions struct {
	PartSize    int64
	MinPartSize int64
	MaxPartSize int64
	MaxParts    int
	MaxAttempts int
	RetryBase   time.Duration
	RetryCap    time.Duration
}

// Policy decides part sizes and retry timing.
type Policy struct {
	partSize    int64
	minPartSize int64
	maxPartSize int64
	maxParts    int
	maxAttempts int
	retryBase   time.Duration
	retryCap    time.Duration
}

// NewPolicy validates opts and returns a Policy. Negative values, a minimum
// above the maximum and a cap below the base are rejected.
func NewPolicy(opts PolicyOptions) (*Policy, error) {
	p := &Policy{
		partSize:    opts.PartSize,
		minPartSize: opts.MinPartSize,
		maxPartSize: opts.MaxPartSize,
		maxParts:    opts.MaxParts,
		maxAttempts: opts.MaxAttempts,
		retryBase:   opts.RetryBase,
		retryCap:    opts.RetryCap,
	}

	switch {
	case p.partSize < 0:
		return nil, invalidArgument("partsize", "must not be negative, got %d", p.partSize)
	case p.minPartSize < 0:
		return nil, invalidArgument("minpartsize", "must not be negative, got %d", p.minPartSize)
	case p.maxPartSize < 0:
		return nil, invalidArgument("maxpartsize", "must not be negative, got %d", p.maxPartSize)
	case p.maxParts < 0:
		return nil, invalidArgument("maxparts", "must not be negative, got %d", p.maxParts)
	case p.maxAttempts < 0:
		return nil, invalidArgument("maxattempts", "must not be negative, got %d", p.maxAttempts)
	case p.retryBase < 0:
		return nil, invalidArgument("retrybase", "must not be negative, got %s", p.retryBase)
	case p.retryCap < 0:
		return nil, invalidArgument("retrycap", "must not be negative, got %s", p.retryCap)
	}

	if p.partSize == 0 {
		p.partSize = DefaultPartSize
	}
	if p.minPartSize == 0 {
		p.minPartSize = MinPartSize
	}
	if p.maxPartSize == 0 {
		p.maxPartSize = MaxPartSize
	}
	if p.maxParts == 0 {
		p.maxParts = MaxParts
	}
	if p.maxAttempts == 0 {
		p.maxAttempts = DefaultMaxAttempts
	}
	if p.retryBase == 0 {
		p.retryBase = DefaultRetryBase
	}
	if p.retryCap == 0 {
		p.retryCap = DefaultRetryCap
	}

	if p.minPartSize > p.maxPartSize {
		return nil, invalidArgument("minpartsize", "%d exceeds maxpartsize %d", p.minPartSize, p.maxPartSize)
	}
	if p.retryCap < p.retryBase {
		return nil, invalidArgument("retrycap", "%s is lower than retrybase %s", p.retryCap, p.retryBase)
	}

	return p, nil
}

// ChunkSize returns the part size to use for an object of total bytes. A
// negative total means the size is not known up front, in which case the
// configured part size clipped to the store bounds is returned. For known
// sizes the part size grows until the part count fits within MaxParts.
func (p *Policy) ChunkSize(total int64) int64 {
	size := clamp(p.partSize, p.minPartSize, p.maxPartSize)
	if total <= 0 {
		return size
	}

	if ceilDiv(total, size) > int64(p.maxParts) {
		size = clamp(ceilDiv(total, int64(p.maxParts)), p.minPartSize, p.maxPartSize)
	}
	return size
}

// Plan returns the split of an object of total bytes. It fails when the
// object cannot be covered by MaxParts parts of MaxPartSize.
func (p *Policy) Plan(total int64) (ChunkPlan, error) {
	if total < 0 {
		return ChunkPlan{}, invalidArgument("size", "must not be negative, got %d", total)
	}

	chunk := p.ChunkSize(total)
	parts := ceilDiv(total, chunk)
	if parts > int64(p.maxParts) {
		return ChunkPlan{}, invalidArgument("size", "%d bytes exceeds %d parts of %d bytes", total, p.maxParts, p.maxPartSize)
	}

	return ChunkPlan{TotalSize: total, ChunkSize: chunk, Parts: int(parts)}, nil
}

// WithPartSize returns a copy of p using partSize as the preferred part size.
func (p *Policy) WithPartSize(partSize int64) (*Policy, error) {
	if partSize <= 0 {
		return nil, invalidArgument("partsize", "must be positive, got %d", partSize)
	}
	cp := *p
	cp.partSize = partSize
	return &cp, nil
}

// MaxAttempts returns the number of attempts made for a part before giving up.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// MaxParts returns the maximum number of parts in a session.
func (p *Policy) MaxParts() int {
	return p.maxParts
}

// RetrySleep returns the delay after the given failed attempt (1-based). The
// delay grows linearly with the attempt number and is capped at RetryCap.
func (p *Policy) RetrySleep(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.retryBase * time.Duration(attempt)
	if d > p.retryCap || d < 0 {
		return p.retryCap
	}
	return d
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
