package tsa

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotTimePath indicates a URI path is not of the form /<integer>.
var ErrNotTimePath = errors.New("path is not a time value")

// ParseTimePath parses "/<seconds>" into the asserted generation time.
//
// The value after the slash is a base-10 signed 64-bit integer; anything
// else, including an empty value, a '+' sign or extra segments, is rejected.
func ParseTimePath(path string) (time.Time, error) {
	if len(path) < 2 || path[0] != '/' || path[1] == '+' {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNotTimePath, path)
	}
	secs, err := strconv.ParseInt(path[1:], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNotTimePath, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// TimeSource supplies the generation time for one token.
type TimeSource interface {
	Now() time.Time
}

// FixedTime is a TimeSource that always reports the same instant,
// truncated to whole seconds.
type FixedTime time.Time

// Now implements TimeSource.
func (t FixedTime) Now() time.Time {
	return time.Time(t).UTC().Truncate(time.Second)
}
