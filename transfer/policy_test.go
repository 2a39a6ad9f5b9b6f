package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewPolicyDefaults(t *testing.T) {
	p, err := NewPolicy(PolicyOptions{})
	require.NoError(t, err)

	require.Equal(t, DefaultPartSize, p.ChunkSize(-1))
	require.Equal(t, DefaultMaxAttempts, p.MaxAttempts())
	require.Equal(t, MaxParts, p.MaxParts())
	require.Equal(t, DefaultRetryBase, p.RetrySleep(1))
}

func TestNewPolicyZeroSelectsDefault(t *testing.T) {
	// only the retry cap is set, every other field keeps its default
	p, err := NewPolicy(PolicyOptions{RetryCap: time.Minute})
	require.NoError(t, err)

	require.Equal(t, DefaultPartSize, p.ChunkSize(-1))
	require.Equal(t, DefaultMaxAttempts, p.MaxAttempts())
	require.Equal(t, MaxParts, p.MaxParts())
	require.Equal(t, DefaultRetryBase, p.RetrySleep(1))
	require.Equal(t, time.Minute, p.RetrySleep(1000))

	_, err = NewPolicy(PolicyOptions{MaxAttempts: -1})
	require.EqualError(t, err, `invalid argument "maxattempts": must not be negative, got -1`)
}

func TestNewPolicyInvalid(t *testing.T) {
	testCases := map[string]struct {
		opts          PolicyOptions
		expectedField string
	}{
		"negative_part_size":      {opts: PolicyOptions{PartSize: -1}, expectedField: "partsize"},
		"negative_min_part_size":  {opts: PolicyOptions{MinPartSize: -1}, expectedField: "minpartsize"},
		"negative_max_part_size":  {opts: PolicyOptions{MaxPartSize: -1}, expectedField: "maxpartsize"},
		"negative_max_parts":      {opts: PolicyOptions{MaxParts: -1}, expectedField: "maxparts"},
		"negative_attempts":       {opts: PolicyOptions{MaxAttempts: -3}, expectedField: "maxattempts"},
		"negative_retry_base":     {opts: PolicyOptions{RetryBase: -time.Second}, expectedField: "retrybase"},
		"negative_retry_cap":      {opts: PolicyOptions{RetryCap: -time.Second}, expectedField: "retrycap"},
		"min_above_max":           {opts: PolicyOptions{MinPartSize: 10, MaxPartSize: 5}, expectedField: "minpartsize"},
		"retry_cap_below_base":    {opts: PolicyOptions{RetryBase: time.Second, RetryCap: time.Millisecond}, expectedField: "retrycap"},
		"default_min_above_max_5": {opts: PolicyOptions{MaxPartSize: 5}, expectedField: "minpartsize"},
	}

	for name, tc := range testCases {
		t.Run(name, func(tt *testing.T) {
			p, err := NewPolicy(tc.opts)
			require.Nil(tt, p)

			var invalid *InvalidArgumentError
			require.ErrorAs(tt, err, &invalid)
			require.Equal(tt, tc.expectedField, invalid.Field)
		})
	}
}

func TestChunkSize(t *testing.T) {
	p, err := NewPolicy(PolicyOptions{
		PartSize:    10,
		MinPartSize: 5,
		MaxPartSize: 100,
		MaxParts:    4,
	})
	require.NoError(t, err)

	testCases := []struct {
		name     string
		total    int64
		expected int64
	}{
		{name: "unknown size", total: -1, expected: 10},
		{name: "empty", total: 0, expected: 10},
		{name: "fits", total: 40, expected: 10},
		{name: "grows to respect part count", total: 41, expected: 11},
		{name: "grows further", total: 399, expected: 100},
		{name: "capped at max part size", total: 1000, expected: 100},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(tt *testing.T) {
			require.Equal(tt, tc.expected, p.ChunkSize(tc.total))
		})
	}
}

func TestChunkSizeClipsConfiguredPartSize(t *testing.T) {
	small, err := NewPolicy(PolicyOptions{PartSize: 1, MinPartSize: 8, MaxPartSize: 16})
	require.NoError(t, err)
	require.EqualValues(t, 8, small.ChunkSize(-1))

	large, err := NewPolicy(PolicyOptions{PartSize: 64, MinPartSize: 8, MaxPartSize: 16})
	require.NoError(t, err)
	require.EqualValues(t, 16, large.ChunkSize(-1))
}

func TestPlan(t *testing.T) {
	p, err := NewPolicy(PolicyOptions{PartSize: 10, MinPartSize: 1, MaxPartSize: 100, MaxParts: 4})
	require.NoError(t, err)

	plan, err := p.Plan(25)
	require.NoError(t, err)
	require.Equal(t, ChunkPlan{TotalSize: 25, ChunkSize: 10, Parts: 3}, plan)
	require.Equal(t, []ByteRange{{0, 9}, {10, 19}, {20, 24}}, plan.Ranges())

	plan, err = p.Plan(0)
	require.NoError(t, err)
	require.Zero(t, plan.Parts)
	require.Empty(t, plan.Ranges())

	_, err = p.Plan(401)
	var invalid *InvalidArgumentError
	require.ErrorAs(t, err, &invalid)

	_, err = p.Plan(-1)
	require.ErrorAs(t, err, &invalid)
}

func TestPlanRangesCoverObject(t *testing.T) {
	p, err := NewPolicy(PolicyOptions{PartSize: 7, MinPartSize: 1})
	require.NoError(t, err)

	for _, size := range []int64{1, 6, 7, 8, 13, 14, 15, 100} {
		plan, err := p.Plan(size)
		require.NoError(t, err)

		ranges := plan.Ranges()
		require.Len(t, ranges, plan.Parts)
		require.EqualValues(t, (size+6)/7, plan.Parts)

		var next int64
		for i, r := range ranges {
			require.Equal(t, next, r.First, "size %d part %d", size, i+1)
			if i < len(ranges)-1 {
				require.EqualValues(t, 7, r.Len())
			}
			next = r.Last + 1
		}
		require.Equal(t, size-1, ranges[len(ranges)-1].Last)
	}
}

func TestRetrySleep(t *testing.T) {
	p, err := NewPolicy(PolicyOptions{RetryBase: 100 * time.Millisecond, RetryCap: 350 * time.Millisecond})
	require.NoError(t, err)

	var prev time.Duration
	expected := []time.Duration{100, 200, 300, 350, 350}
	for i, e := range expected {
		d := p.RetrySleep(i + 1)
		require.Equal(t, e*time.Millisecond, d)
		require.GreaterOrEqual(t, d, prev)
		prev = d
	}

	require.Equal(t, 100*time.Millisecond, p.RetrySleep(0))
}

func TestWithPartSize(t *testing.T) {
	p, err := NewPolicy(PolicyOptions{PartSize: 10, MinPartSize: 1})
	require.NoError(t, err)

	q, err := p.WithPartSize(3)
	require.NoError(t, err)
	require.EqualValues(t, 3, q.ChunkSize(-1))
	require.EqualValues(t, 10, p.ChunkSize(-1))

	_, err = p.WithPartSize(0)
	var invalid *InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
}

func TestByteRange(t *testing.T) {
	r := nextRange(10, 5, 12)
	require.Equal(t, ByteRange{First: 10, Last: 11}, r)
	require.EqualValues(t, 2, r.Len())
	require.Equal(t, "bytes=10-11", r.String())

	require.Equal(t, ByteRange{First: 0, Last: 4}, nextRange(0, 5, 100))
}
