// Package memstore keeps checkins, message requests, sessions and messages
// in process memory behind the same repository interfaces as the Mongo
// implementations. It enforces the same unique constraints and conditional
// writes, and transactions are serializable with rollback, so the protocol
// services can be exercised concurrently without a database.
package memstore

import (
	"context"
	"maps"
	"sync"

	mongotx "herenow/pkg/db/mongo"
	"herenow/pkg/model"
)

type txKey struct{}

type Store struct {
	mu       sync.Mutex
	checkins map[string]model.Checkin
	requests map[string]model.MessageRequest
	sessions map[string]model.MessageSession
	messages map[string]model.Message
	faults   map[string]error
}

type snapshot struct {
	checkins map[string]model.Checkin
	requests map[string]model.MessageRequest
	sessions map[string]model.MessageSession
	messages map[string]model.Message
}

func New() *Store {
	return &Store{
		checkins: make(map[string]model.Checkin),
		requests: make(map[string]model.MessageRequest),
		sessions: make(map[string]model.MessageSession),
		messages: make(map[string]model.Message),
		faults:   make(map[string]error),
	}
}

// ExecuteTransaction holds the store lock for the whole of fn and restores
// every collection if fn fails. Nested calls join the outer transaction.
func (s *Store) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// FailNext makes the next call of op return err. Op names are
// "<collection>.<Method>", e.g. "sessions.Create".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// fault must be called with the lock held.
func (s *Store) fault(op string) error {
	err, ok := s.faults[op]
	if !ok {
		return nil
	}
	delete(s.faults, op)
	return err
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		checkins: maps.Clone(s.checkins),
		requests: maps.Clone(s.requests),
		sessions: maps.Clone(s.sessions),
		messages: maps.Clone(s.messages),
	}
}

func (s *Store) restore(snap snapshot) {
	s.checkins = snap.checkins
	s.requests = snap.requests
	s.sessions = snap.sessions
	s.messages = snap.messages
}

func (s *Store) Checkins() *CheckinRepository {
	return &CheckinRepository{store: s}
}

func (s *Store) Requests() *RequestRepository {
	return &RequestRepository{store: s}
}

func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{store: s}
}

func (s *Store) Messages() *MessageRepository {
	return &MessageRepository{store: s}
}

func limitSlice[T any](items []T, offset int64, limit int) []T {
	if offset >= int64(len(items)) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
