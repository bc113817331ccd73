package identity

import (
	"context"

	apperrors "herenow/pkg/errors"
)

// Provider answers "who is calling". Implementations return an
// UNAUTHENTICATED AppError when no verified user is attached.
type Provider interface {
	UserID(ctx context.Context) (string, error)
}

type userIDKey struct{}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func UserIDFrom(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey{}).(string)
	return userID, ok && userID != ""
}

// ContextProvider reads the user id placed in the context by the
// authentication middleware.
type ContextProvider struct{}

func (ContextProvider) UserID(ctx context.Context) (string, error) {
	userID, ok := UserIDFrom(ctx)
	if !ok {
		return "", apperrors.Unauthenticated("Sign in to continue")
	}
	return userID, nil
}
