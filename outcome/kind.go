// Package outcome is the result taxonomy of every synchronization operation.
package outcome

import "fmt"

// Kind classifies the result of an operation on one entity or a batch.
type Kind int

// Kinds in display order.
const (
	KindNoOperation Kind = iota
	KindEnqueued
	KindSuccess
	KindPartial
	KindArgumentError
	KindAdminDown
	KindOutOfService
	KindCanNotBeRemoved
	KindLockTimeout
	KindError
	KindFailed
	KindCanceled
	KindUnspecified
)

var kindNames = [...]string{
	KindNoOperation:     "NoOperation",
	KindEnqueued:        "Enqueued",
	KindSuccess:         "Success",
	KindPartial:         "Partial",
	KindArgumentError:   "ArgumentError",
	KindAdminDown:       "AdminDown",
	KindOutOfService:    "OutOfService",
	KindCanNotBeRemoved: "CanNotBeRemoved",
	KindLockTimeout:     "LockTimeout",
	KindError:           "Error",
	KindFailed:          "Failed",
	KindCanceled:        "Canceled",
	KindUnspecified:     "Unspecified",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Benign reports whether the kind counts as accepted by the caller.
func (k Kind) Benign() bool {
	return k == KindNoOperation || k == KindEnqueued || k == KindSuccess
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for i, n := range kindNames {
		if n == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("outcome: unknown kind %q", b)
}
