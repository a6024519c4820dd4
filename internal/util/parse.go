package util

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNotInteger is returned for a wait argument that is not a whole number.
var ErrNotInteger = errors.New("not an integer")

// ErrOutOfRange is returned for a wait argument too large for a duration.
var ErrOutOfRange = errors.New("out of range")

const maxWaitSeconds = math.MaxInt64 / int64(time.Second)

// ParseDuration parses a duration given either in seconds (decimal) or in
// Go duration syntax ("250ms", "1m30s").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f < 0 {
			return 0, fmt.Errorf("invalid duration %q: negative", s)
		}
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration %q: negative", s)
	}
	return d, nil
}

// ParseWaitSeconds parses the optional wait argument. An absent value is 0.
// Negative values are returned as is; callers decide what they mean.
func ParseWaitSeconds(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("%w: %q", ErrOutOfRange, s)
		}
		return 0, fmt.Errorf("%w: %q", ErrNotInteger, s)
	}
	if n > maxWaitSeconds || n < -maxWaitSeconds {
		return 0, fmt.Errorf("%w: %q", ErrOutOfRange, s)
	}
	return int(n), nil
}
