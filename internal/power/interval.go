package power

import (
	"errors"
	"fmt"
	"time"
)

// TimestampLayout is the only accepted measurement time format.
const TimestampLayout = "2006-01-02T15:04:05Z"

var ErrParse = errors.New("invalid measurement time")

type ParseError struct {
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse measurement time %q: %v", e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// ParseTimestamp parses s strictly as YYYY-MM-DDTHH:MM:SSZ in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	// time.Parse accepts fractional seconds after the seconds field even when
	// the layout has none, so the length check keeps the format strict.
	if len(s) != len(TimestampLayout) {
		return time.Time{}, &ParseError{Value: s, Err: fmt.Errorf("expected layout %s", TimestampLayout)}
	}
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, &ParseError{Value: s, Err: err}
	}
	return t.UTC(), nil
}

// HalfHour truncates t to the start of its half-hour interval.
func HalfHour(t time.Time) time.Time {
	minute := 0
	if t.Minute() >= 30 {
		minute = 30
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, t.Location())
}

// IntervalKey returns the half-hour interval a measurement time belongs to.
func IntervalKey(measurementTime string) (time.Time, error) {
	t, err := ParseTimestamp(measurementTime)
	if err != nil {
		return time.Time{}, err
	}
	return HalfHour(t), nil
}
