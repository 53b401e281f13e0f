/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analyzer

import (
	"errors"
	"fmt"
)

// Failure kinds. Each aborts the item it was raised for.
var (
	ErrUnreadable       = errors.New("descriptor unreadable")
	ErrMalformed        = errors.New("malformed metadata")
	ErrDurationNotFound = errors.New("duration not found")
	ErrInvalidDuration  = errors.New("invalid duration attribute")
)

// ExtractionError reports why a descriptor yielded no duration.
type ExtractionError struct {
	Path     string
	Encoding string
	Kind     error // one of the Err* sentinels above
	Cause    error
}

func (e *ExtractionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %v", e.Path, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Path, e.Kind, e.Cause)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *ExtractionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// ErrorKind returns a short label suitable for metrics and logs.
func (e *ExtractionError) ErrorKind() string {
	switch e.Kind {
	case ErrUnreadable:
		return "unreadable"
	case ErrMalformed:
		return "malformed"
	case ErrDurationNotFound:
		return "duration_not_found"
	case ErrInvalidDuration:
		return "invalid_duration"
	}
	return "unknown"
}

func newError(path, enc string, kind, cause error) *ExtractionError {
	return &ExtractionError{Path: path, Encoding: enc, Kind: kind, Cause: cause}
}
