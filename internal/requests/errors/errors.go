package errors

import "errors"

var (
	ErrNotFound = errors.New("message request not found")

	// ErrAlreadyPending is the duplicate key on the pending-pair index.
	ErrAlreadyPending = errors.New("a pending request already exists for this pair and place")

	// ErrNotPending means a conditional transition matched nothing because
	// the request left the pending state first.
	ErrNotPending = errors.New("message request is no longer pending")
)
