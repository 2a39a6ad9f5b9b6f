// Package parse converts untyped driver parameters, as decoded from yaml or
// set from the environment, into typed values.
package parse

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// String returns parameters[name] formatted as a string, or defaultt when unset.
func String(parameters map[string]any, name, defaultt string) string {
	v, ok := parameters[name]
	if !ok || v == nil {
		return defaultt
	}
	s := fmt.Sprint(v)
	if s == "" {
		return defaultt
	}
	return s
}

// Bool returns parameters[name] as a bool. Strings are parsed with
// strconv.ParseBool. On error the default is returned alongside the error.
func Bool(parameters map[string]any, name string, defaultt bool) (bool, error) {
	switch v := parameters[name].(type) {
	case nil:
		return defaultt, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return defaultt, fmt.Errorf("cannot parse %q string as bool: %w", name, err)
		}
		return b, nil
	default:
		return defaultt, fmt.Errorf("cannot parse %q with type %T as bool", name, v)
	}
}

// Int64 returns parameters[name] as an int64 within [minimum, maximum].
func Int64(parameters map[string]any, name string, defaultt, minimum, maximum int64) (int64, error) {
	var (
		n   int64
		err error
	)

	switch v := parameters[name].(type) {
	case nil:
		return defaultt, nil
	case string:
		n, err = strconv.ParseInt(v, 0, 64)
		if err != nil {
			return defaultt, fmt.Errorf("cannot parse %q string as int64: %w", name, err)
		}
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint:
		if uint64(v) > math.MaxInt64 {
			return defaultt, fmt.Errorf("value %d for %q exceeds int64 range", v, name)
		}
		n = int64(v)
	case uint32:
		n = int64(v)
	case uint64:
		if v > math.MaxInt64 {
			return defaultt, fmt.Errorf("value %d for %q exceeds int64 range", v, name)
		}
		n = int64(v)
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
			return defaultt, fmt.Errorf("value %f for %q is not an int64", v, name)
		}
		n = int64(v)
	default:
		return defaultt, fmt.Errorf("cannot parse %q with type %T as int64", name, v)
	}

	if n < minimum || n > maximum {
		return defaultt, fmt.Errorf("the %s %d parameter should be a number between %d and %d (inclusive)", name, n, minimum, maximum)
	}

	return n, nil
}

// Duration returns parameters[name] as a non-negative duration. Numbers are
// interpreted as seconds, strings with time.ParseDuration.
func Duration(parameters map[string]any, name string, defaultt time.Duration) (time.Duration, error) {
	var d time.Duration

	switch v := parameters[name].(type) {
	case nil:
		return defaultt, nil
	case time.Duration:
		d = v
	case string:
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return defaultt, fmt.Errorf("cannot parse %q string as duration: %w", name, err)
		}
	case int:
		d = time.Duration(v) * time.Second
	case int64:
		d = time.Duration(v) * time.Second
	case float64:
		d = time.Duration(v * float64(time.Second))
	default:
		return defaultt, fmt.Errorf("cannot parse %q with type %T as duration", name, v)
	}

	if d < 0 {
		return defaultt, fmt.Errorf("%q must be non-negative, got %s", name, d)
	}
	return d, nil
}
