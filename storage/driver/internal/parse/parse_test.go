package parse

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBool(t *testing.T) {
	testCases := map[string]struct {
		param          any
		defaultt       bool
		expected       bool
		expectedErrMsg string
	}{
		"valid_boolean_string": {
			param:    "false",
			expected: false,
		},
		"valid_boolean_string_true": {
			param:    "true",
			expected: true,
		},
		"valid_boolean": {
			param:    true,
			expected: true,
		},
		"nil_defaultt_true": {
			param:    nil,
			defaultt: true,
			expected: true,
		},
		"invalid_string": {
			param:          "invalid",
			expected:       false,
			expectedErrMsg: `cannot parse "param" string as bool: strconv.ParseBool: parsing "invalid": invalid syntax`,
		},
		"invalid_param_defaultt_true": {
			param:          0,
			defaultt:       true,
			expected:       true,
			expectedErrMsg: `cannot parse "param" with type int as bool`,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(tt *testing.T) {
			got, err := Bool(map[string]any{"param": tc.param}, "param", tc.defaultt)

			if tc.expectedErrMsg != "" {
				require.EqualError(tt, err, tc.expectedErrMsg)
			} else {
				require.NoError(tt, err)
			}
			require.Equal(tt, tc.expected, got)
		})
	}
}

func TestInt64(t *testing.T) {
	testCases := map[string]struct {
		param          any
		defaultt       int64
		minimum        int64
		maximum        int64
		expected       int64
		expectedErrMsg string
	}{
		"valid_string": {
			param:    "5242880",
			maximum:  math.MaxInt64,
			expected: 5 << 20,
		},
		"valid_hex_string": {
			param:    "0x10",
			maximum:  100,
			expected: 16,
		},
		"valid_int": {
			param:    42,
			maximum:  100,
			expected: 42,
		},
		"valid_uint64": {
			param:    uint64(42),
			maximum:  100,
			expected: 42,
		},
		"valid_whole_float": {
			param:    float64(42),
			maximum:  100,
			expected: 42,
		},
		"nil_defaultt_99": {
			param:    nil,
			defaultt: 99,
			maximum:  100,
			expected: 99,
		},
		"fractional_float": {
			param:          1.5,
			defaultt:       7,
			maximum:        100,
			expected:       7,
			expectedErrMsg: `value 1.500000 for "param" is not an int64`,
		},
		"below_minimum": {
			param:          42,
			minimum:        50,
			maximum:        100,
			expectedErrMsg: `the param 42 parameter should be a number between 50 and 100 (inclusive)`,
		},
		"uint64_overflow": {
			param:          uint64(math.MaxUint64),
			maximum:        math.MaxInt64,
			expectedErrMsg: `value 18446744073709551615 for "param" exceeds int64 range`,
		},
		"invalid_string": {
			param:          "invalid",
			maximum:        100,
			expectedErrMsg: `cannot parse "param" string as int64: strconv.ParseInt: parsing "invalid": invalid syntax`,
		},
		"invalid_type": {
			param:          true,
			maximum:        100,
			expectedErrMsg: `cannot parse "param" with type bool as int64`,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(tt *testing.T) {
			got, err := Int64(map[string]any{"param": tc.param}, "param", tc.defaultt, tc.minimum, tc.maximum)

			if tc.expectedErrMsg != "" {
				require.EqualError(tt, err, tc.expectedErrMsg)
			} else {
				require.NoError(tt, err)
			}
			require.Equal(tt, tc.expected, got)
		})
	}
}

func TestDuration(t *testing.T) {
	testCases := map[string]struct {
		param          any
		defaultt       time.Duration
		expected       time.Duration
		expectedErrMsg string
	}{
		"valid_duration": {
			param:    42 * time.Second,
			expected: 42 * time.Second,
		},
		"valid_duration_string": {
			param:    "1h30m",
			expected: 90 * time.Minute,
		},
		"valid_int": {
			param:    42,
			expected: 42 * time.Second,
		},
		"valid_float64": {
			param:    2.5,
			expected: 2500 * time.Millisecond,
		},
		"nil": {
			param:    nil,
			defaultt: time.Second,
			expected: time.Second,
		},
		"negative_int": {
			param:          -30,
			defaultt:       5 * time.Second,
			expected:       5 * time.Second,
			expectedErrMsg: `"param" must be non-negative, got -30s`,
		},
		"invalid_string": {
			param:          "1h30",
			expectedErrMsg: `cannot parse "param" string as duration: time: missing unit in duration "1h30"`,
		},
		"invalid_type": {
			param:          []int{1},
			expectedErrMsg: `cannot parse "param" with type []int as duration`,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(tt *testing.T) {
			got, err := Duration(map[string]any{"param": tc.param}, "param", tc.defaultt)

			if tc.expectedErrMsg != "" {
				require.EqualError(tt, err, tc.expectedErrMsg)
			} else {
				require.NoError(tt, err)
			}
			require.Equal(tt, tc.expected, got)
		})
	}
}

func TestString(t *testing.T) {
	params := map[string]any{"set": "value", "number": 7, "empty": ""}

	require.Equal(t, "value", String(params, "set", "default"))
	require.Equal(t, "7", String(params, "number", "default"))
	require.Equal(t, "default", String(params, "empty", "default"))
	require.Equal(t, "default", String(params, "missing", "default"))
}
