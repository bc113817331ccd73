package errors

import "context"

// RetryRead runs an idempotent read and retries it once when the first
// attempt fails with SERVICE_UNAVAILABLE. Mutations must not go through here.
func RetryRead[T any](ctx context.Context, read func(context.Context) (T, error)) (T, error) {
	result, err := read(ctx)
	if err == nil || !HasCode(err, CodeUnavailable) || ctx.Err() != nil {
		return result, err
	}
	return read(ctx)
}
