package models

import (
	"errors"
	"fmt"
)

// TransientAdapterError marks a collaborator failure worth retrying:
// timeouts, rate limits, flaky upstreams. Exhausted retries degrade the
// task, never the whole cycle.
type TransientAdapterError struct {
	Channel Channel
	Err     error
}

func (e *TransientAdapterError) Error() string {
	return fmt.Sprintf("transient %s adapter error: %v", e.Channel, e.Err)
}

func (e *TransientAdapterError) Unwrap() error { return e.Err }

// PermanentAdapterError marks a collaborator failure that retrying cannot
// fix: bad credentials, malformed requests. Recorded as a failed task
// outcome immediately.
type PermanentAdapterError struct {
	Channel Channel
	Err     error
}

func (e *PermanentAdapterError) Error() string {
	return fmt.Sprintf("permanent %s adapter error: %v", e.Channel, e.Err)
}

func (e *PermanentAdapterError) Unwrap() error { return e.Err }

// OrchestrationConflict is returned when a tick finds the tenant's cycle
// lease already held. It is logged and skipped, never surfaced to users.
type OrchestrationConflict struct {
	TenantID string
	Holder   string
}

func (e *OrchestrationConflict) Error() string {
	return fmt.Sprintf("cycle lease for tenant %s already held", e.TenantID)
}

// DataIntegrityError marks a broken invariant: an outcome id replayed with
// different content, an illegal phase transition. Fatal to the single
// cycle only.
type DataIntegrityError struct {
	Detail string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity violation: %s", e.Detail)
}

// IsTransient reports whether err is (or wraps) a transient adapter error.
func IsTransient(err error) bool {
	var te *TransientAdapterError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is (or wraps) a permanent adapter error.
func IsPermanent(err error) bool {
	var pe *PermanentAdapterError
	return errors.As(err, &pe)
}

// IsConflict reports whether err is (or wraps) an orchestration conflict.
func IsConflict(err error) bool {
	var ce *OrchestrationConflict
	return errors.As(err, &ce)
}

// IsIntegrity reports whether err is (or wraps) an integrity violation.
func IsIntegrity(err error) bool {
	var de *DataIntegrityError
	return errors.As(err, &de)
}
