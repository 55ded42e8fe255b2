package model

import (
	"errors"
	"fmt"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrMalformedItem     = errors.New("malformed item")
	ErrPersistence       = errors.New("persistence failure")
	ErrNoSources         = errors.New("no source produced data")
)

// SourceError reports that one source could not be read for a run.
type SourceError struct {
	SourceID string
	Err      error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("source %s unavailable", e.SourceID)
	}
	return fmt.Sprintf("source %s unavailable: %v", e.SourceID, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceUnavailable, e.Err}
}

func NewSourceError(sourceID string, err error) error {
	return &SourceError{SourceID: sourceID, Err: err}
}

// MalformedItemError reports one item that was excluded before clustering.
type MalformedItemError struct {
	SourceID string
	Ref      string
	Reason   string
	Err      error
}

func (e *MalformedItemError) Error() string {
	msg := fmt.Sprintf("malformed item from %s", e.SourceID)
	if e.Ref != "" {
		msg += " (" + e.Ref + ")"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedItemError) Unwrap() []error {
	return []error{ErrMalformedItem, e.Err}
}

func NewMalformedItemError(sourceID, ref, reason string, err error) error {
	return &MalformedItemError{SourceID: sourceID, Ref: ref, Reason: reason, Err: err}
}

// PersistenceError wraps a failure to durably write a day's output.
func PersistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
