package errors

import "errors"

var (
	ErrNotFound = errors.New("checkin not found")

	// ErrActiveExists is raised by the store when a second active checkin
	// for the same user would be committed.
	ErrActiveExists = errors.New("user already has an active checkin")
)
