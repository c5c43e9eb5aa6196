package db

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/lib/pq"
)

const serializationFailure = pq.ErrorCode("40001")

// OperationalError is a storage failure outside the application's control:
// connection loss, resource exhaustion, transaction rollback. Err is the
// driver error that caused it.
type OperationalError struct {
	Err error
}

func (e *OperationalError) Error() string {
	return fmt.Sprintf("operational error: %v", e.Err)
}

func (e *OperationalError) Unwrap() error {
	return e.Err
}

// IntegrityError is a constraint violation reported by the database.
type IntegrityError struct {
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity error: %v", e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// TranslateError wraps PostgreSQL errors into OperationalError or
// IntegrityError according to their SQLSTATE class. Other errors are
// returned unchanged.
func TranslateError(err error) error {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return err
	}
	switch pqErr.Code.Class() {
	case "23":
		return &IntegrityError{Err: pqErr}
	case "08", "40", "53", "54", "55", "57", "58":
		return &OperationalError{Err: pqErr}
	}
	return err
}

// IsSerializationFailure reports whether err is an OperationalError caused
// directly by a PostgreSQL serialization failure. Tracing and annotations
// added by juju/errors are looked through; nothing else is.
func IsSerializationFailure(err error) bool {
	opErr, ok := errors.Cause(err).(*OperationalError)
	if !ok {
		return false
	}
	pqErr, ok := opErr.Err.(*pq.Error)
	return ok && pqErr.Code == serializationFailure
}

// IsUniqueViolation reports whether err is an IntegrityError caused by a
// unique constraint.
func IsUniqueViolation(err error) bool {
	intErr, ok := errors.Cause(err).(*IntegrityError)
	if !ok {
		return false
	}
	pqErr, ok := intErr.Err.(*pq.Error)
	return ok && pqErr.Code.Name() == "unique_violation"
}
