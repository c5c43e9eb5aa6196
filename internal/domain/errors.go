package domain

import "github.com/juju/errors"

const (
	// ErrOutOfRange is raised when a requested address is outside every
	// eligible static range.
	ErrOutOfRange = errors.ConstError("static IP address out of range")

	// ErrTypeClash is raised when a MAC is fully allocated with addresses of
	// other types than the one requested.
	ErrTypeClash = errors.ConstError("static IP address type clash")

	// ErrRangeExhausted is raised when no free address remains in a static
	// range.
	ErrRangeExhausted = errors.ConstError("static IP address range exhausted")

	// ErrAddressUnavailable is raised when a specific requested address is
	// already allocated.
	ErrAddressUnavailable = errors.ConstError("static IP address unavailable")

	ErrNotFound      = errors.ConstError("not found")
	ErrAlreadyExists = errors.ConstError("already exists")
)
