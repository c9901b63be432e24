package outcome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wwcpsync/domain"
)

// Result is the outcome of an operation on a single subject. It is built
// only through the named constructors in this package.
type Result[T any] struct {
	subject     T
	kind        Kind
	description string
	warnings    []string
	runtime     time.Duration
	trackingID  domain.EventTrackingID
	err         error
	argument    string
}

func newResult[T any](subject T, kind Kind, tid domain.EventTrackingID, description string) Result[T] {
	return Result[T]{subject: subject, kind: kind, trackingID: tid, description: description}
}

func Success[T any](subject T, tid domain.EventTrackingID) Result[T] {
	return newResult(subject, KindSuccess, tid, "")
}

func Enqueued[T any](subject T, tid domain.EventTrackingID) Result[T] {
	return newResult(subject, KindEnqueued, tid, "")
}

func NoOperation[T any](subject T, tid domain.EventTrackingID, description string) Result[T] {
	return newResult(subject, KindNoOperation, tid, description)
}

// ArgumentError reports an invalid argument named by argument.
func ArgumentError[T any](subject T, tid domain.EventTrackingID, argument, description string) Result[T] {
	r := newResult(subject, KindArgumentError, tid, description)
	r.argument = argument
	return r
}

func AdminDown[T any](subject T, tid domain.EventTrackingID) Result[T] {
	return newResult(subject, KindAdminDown, tid, "administratively down")
}

func OutOfService[T any](subject T, tid domain.EventTrackingID) Result[T] {
	return newResult(subject, KindOutOfService, tid, "out of service")
}

func CanNotBeRemoved[T any](subject T, tid domain.EventTrackingID, reason string) Result[T] {
	return newResult(subject, KindCanNotBeRemoved, tid, reason)
}

func LockTimeout[T any](subject T, tid domain.EventTrackingID, waited time.Duration) Result[T] {
	return newResult(subject, KindLockTimeout, tid, fmt.Sprintf("lock not acquired within %s", waited))
}

func Error[T any](subject T, tid domain.EventTrackingID, err error) Result[T] {
	desc := ""
	if err != nil {
		desc = err.Error()
	}
	r := newResult(subject, KindError, tid, desc)
	r.err = err
	return r
}

// Timeout is an Error result for a request that exceeded its deadline.
func Timeout[T any](subject T, tid domain.EventTrackingID, after time.Duration) Result[T] {
	r := newResult(subject, KindError, tid, fmt.Sprintf("request timed out after %s", after))
	r.err = context.DeadlineExceeded
	return r
}

func Failed[T any](subject T, tid domain.EventTrackingID, description string) Result[T] {
	return newResult(subject, KindFailed, tid, description)
}

func Canceled[T any](subject T, tid domain.EventTrackingID) Result[T] {
	r := newResult(subject, KindCanceled, tid, "request canceled")
	r.err = context.Canceled
	return r
}

func Unspecified[T any](subject T, tid domain.EventTrackingID, description string) Result[T] {
	return newResult(subject, KindUnspecified, tid, description)
}

// FromError maps err to Timeout, Canceled or Error. timeout is reported in
// the description of a deadline failure.
func FromError[T any](subject T, tid domain.EventTrackingID, err error, timeout time.Duration) Result[T] {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout(subject, tid, timeout)
	case errors.Is(err, context.Canceled):
		return Canceled(subject, tid)
	default:
		return Error(subject, tid, err)
	}
}

func (r Result[T]) Subject() T                         { return r.subject }
func (r Result[T]) Kind() Kind                         { return r.kind }
func (r Result[T]) Description() string                { return r.description }
func (r Result[T]) Runtime() time.Duration             { return r.runtime }
func (r Result[T]) TrackingID() domain.EventTrackingID { return r.trackingID }
func (r Result[T]) Err() error                         { return r.err }
func (r Result[T]) Argument() string                   { return r.argument }

func (r Result[T]) Warnings() []string {
	return append([]string(nil), r.warnings...)
}

// WithWarnings returns a copy of r with ws appended to its warnings.
func (r Result[T]) WithWarnings(ws ...string) Result[T] {
	r.warnings = append(append([]string(nil), r.warnings...), ws...)
	return r
}

func (r Result[T]) WithRuntime(d time.Duration) Result[T] {
	r.runtime = d
	return r
}

func (r Result[T]) WithDescription(description string) Result[T] {
	r.description = description
	return r
}

type resultJSON struct {
	Subject     any                    `json:"subject"`
	Kind        Kind                   `json:"kind"`
	Description string                 `json:"description,omitempty"`
	Argument    string                 `json:"argument,omitempty"`
	Warnings    []string               `json:"warnings,omitempty"`
	RuntimeMS   int64                  `json:"runtime_ms,omitempty"`
	TrackingID  domain.EventTrackingID `json:"tracking_id,omitempty"`
}

func (r Result[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Subject:     subjectRef(r.subject),
		Kind:        r.kind,
		Description: r.description,
		Argument:    r.argument,
		Warnings:    r.warnings,
		RuntimeMS:   r.runtime.Milliseconds(),
		TrackingID:  r.trackingID,
	})
}

// subjectRef reduces entity subjects to their identifier.
func subjectRef(subject any) any {
	if e, ok := subject.(interface{ EntityID() string }); ok {
		return e.EntityID()
	}
	return subject
}
