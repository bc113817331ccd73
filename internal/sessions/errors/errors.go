package errors

import "errors"

var (
	ErrNotFound = errors.New("message session not found")

	ErrNotActive = errors.New("message session is not active")

	ErrDuplicateSource = errors.New("a session already exists for this request")
)
