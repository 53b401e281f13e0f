/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Textual forms used by the schedule table.
const (
	DateLayout = "02 Jan 2006"
	TimeLayout = "03:04:05 PM"
)

var (
	// ErrInvalidSeconds is returned for negative, NaN, infinite or oversized second counts.
	ErrInvalidSeconds = errors.New("invalid duration seconds")
	// ErrInvalidDuration is returned when a stored duration cannot be parsed.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrInvalidStart is returned when a stored start date/time cannot be parsed.
	ErrInvalidStart = errors.New("invalid start date/time")
)

// Rows written by other tools sometimes drop the leading zero.
var (
	dateLayouts = []string{DateLayout, "2 Jan 2006"}
	timeLayouts = []string{TimeLayout, "3:04:05 PM"}
)

const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// Field bounds keep the sum of all parts below the int64 nanosecond limit.
const (
	maxHours        = 2_000_000
	maxMinutes      = 10_000_000
	maxFieldSeconds = 100_000_000
)

// DurationFromSeconds converts a floating-point second count into a duration
// truncated to whole seconds.
func DurationFromSeconds(seconds float64) (time.Duration, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 || seconds >= maxSeconds {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSeconds, seconds)
	}
	return time.Duration(math.Trunc(seconds)) * time.Second, nil
}

// FormatDuration renders d as HH:MM:SS, dropping any sub-second remainder.
// Hours are not wrapped at 24.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// ParseDuration parses "H:M:S" with an optional fractional second part
// ("0:03:25.480"). The fraction is kept to nanosecond precision.
func ParseDuration(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	hours, err := parseField(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q: hours: %v", ErrInvalidDuration, s, err)
	}
	minutes, err := parseField(parts[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q: minutes: %v", ErrInvalidDuration, s, err)
	}

	secPart, fracPart, hasFrac := strings.Cut(parts[2], ".")
	seconds, err := parseField(secPart)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: seconds: %v", ErrInvalidDuration, s, err)
	}

	var frac time.Duration
	if hasFrac {
		frac, err = parseFraction(fracPart)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: fraction: %v", ErrInvalidDuration, s, err)
		}
	}

	if hours > maxHours || minutes > maxMinutes || seconds > maxFieldSeconds {
		return 0, fmt.Errorf("%w: %q: out of range", ErrInvalidDuration, s)
	}

	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		frac, nil
}

func parseField(v string) (int64, error) {
	if v == "" {
		return 0, errors.New("empty field")
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative field")
	}
	return n, nil
}

// parseFraction turns the digits after the decimal point into a duration.
func parseFraction(digits string) (time.Duration, error) {
	if digits == "" {
		return 0, nil
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-digit %q", r)
		}
	}
	if len(digits) > 9 {
		digits = digits[:9]
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, err
	}
	for i := len(digits); i < 9; i++ {
		n *= 10
	}
	return time.Duration(n), nil
}

// FormatStart renders t in loc as the (start_date, start_time) column pair.
func FormatStart(t time.Time, loc *time.Location) (date, clock string) {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	return local.Format(DateLayout), local.Format(TimeLayout)
}

// ParseStart combines the start_date and start_time columns into an instant in loc.
func ParseStart(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	date = strings.TrimSpace(date)
	clock = strings.ToUpper(strings.TrimSpace(clock))

	for _, dl := range dateLayouts {
		for _, tl := range timeLayouts {
			if t, err := time.ParseInLocation(dl+" "+tl, date+" "+clock, loc); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q %q", ErrInvalidStart, date, clock)
}
