package mongo

import (
	"context"
	"fmt"
	"time"

	apperrors "herenow/pkg/errors"

	"go.mongodb.org/mongo-driver/mongo"
)

// TransactionFunc receives the transaction's context. Repositories called
// with it join the transaction; inside Mongo it is a mongo.SessionContext.
type TransactionFunc func(ctx context.Context) error

type TransactionManager interface {
	ExecuteTransaction(ctx context.Context, fn TransactionFunc) error
}

type mongoTransactionManager struct {
	client *mongo.Client
}

func NewTransactionManager(client *mongo.Client) TransactionManager {
	return &mongoTransactionManager{
		client: client,
	}
}

// ExecuteTransaction runs fn inside session.WithTransaction, which retries
// the whole callback on transient write conflicts. AppErrors returned by fn
// abort the transaction and are passed through unchanged.
func (m *mongoTransactionManager) ExecuteTransaction(ctx context.Context, fn TransactionFunc) error {
	session, err := m.client.StartSession()
	if err != nil {
		return apperrors.Unavailable("Storage", fmt.Errorf("failed to start session: %w", err))
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		return nil, fn(sessCtx)
	})

	if err != nil {
		if apperrors.IsAppError(err) {
			return err
		}
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// WithTimeout bounds ctx by timeout unless ctx belongs to a transaction.
// A SessionContext cannot be wrapped without detaching it from its session,
// so it is returned as is with a no-op cancel.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		return context.WithTimeout(ctx, timeout)
	}

	remaining := time.Until(deadline)
	if remaining < timeout {
		return context.WithTimeout(ctx, remaining)
	}

	return context.WithTimeout(ctx, timeout)
}

// StorageError classifies a driver error: network failures and timeouts
// become SERVICE_UNAVAILABLE, everything else is wrapped as-is.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return apperrors.Unavailable("Storage", fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
