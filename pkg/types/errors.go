package types

import "errors"

var (
	// ErrUnresolvedReference means an event names a customer, subscription,
	// project or price this service does not know.
	ErrUnresolvedReference = errors.New("unresolved reference")
	// ErrInvariantViolation means a request or event would break a billing
	// rule, such as paying a project twice or charging the wrong amount.
	ErrInvariantViolation = errors.New("invariant violation")
)
