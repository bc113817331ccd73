package memstore

import (
	"context"
	"sort"
	"time"

	sessionserrors "herenow/internal/sessions/errors"
	mongotx "herenow/pkg/db/mongo"
	"herenow/pkg/model"
)

type SessionRepository struct {
	store *Store
}

func (r *SessionRepository) Create(ctx context.Context, session *model.MessageSession) error {
	defer r.store.lock(ctx)()
	if err := r.store.fault("sessions.Create"); err != nil {
		return err
	}

	if session.SourceRequestID != nil {
		for _, existing := range r.store.sessions {
			if existing.SourceRequestID != nil && *existing.SourceRequestID == *session.SourceRequestID {
				return sessionserrors.ErrDuplicateSource
			}
		}
	}
	r.store.sessions[session.ID] = *session
	return nil
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*model.MessageSession, error) {
	defer r.store.lock(ctx)()
	if err := r.store.fault("sessions.FindByID"); err != nil {
		return nil, err
	}

	session, ok := r.store.sessions[id]
	if !ok {
		return nil, sessionserrors.ErrNotFound
	}
	return &session, nil
}

func (r *SessionRepository) Close(ctx context.Context, id string, at time.Time) error {
	defer r.store.lock(ctx)()
	if err := r.store.fault("sessions.Close"); err != nil {
		return err
	}

	session, ok := r.store.sessions[id]
	if !ok || session.Status != model.SessionStatusActive {
		return sessionserrors.ErrNotActive
	}
	session.Status = model.SessionStatusClosed
	session.ClosedAt = &at
	r.store.sessions[id] = session
	return nil
}

func (r *SessionRepository) Touch(ctx context.Context, id string, now time.Time) error {
	defer r.store.lock(ctx)()
	if err := r.store.fault("sessions.Touch"); err != nil {
		return err
	}

	session, ok := r.store.sessions[id]
	if !ok || !session.ActiveAt(now) {
		return sessionserrors.ErrNotActive
	}
	session.LastMessageAt = &now
	r.store.sessions[id] = session
	return nil
}

func (r *SessionRepository) ExpireActive(ctx context.Context, now time.Time) (int64, error) {
	defer r.store.lock(ctx)()
	if err := r.store.fault("sessions.ExpireActive"); err != nil {
		return 0, err
	}

	var n int64
	for id, session := range r.store.sessions {
		if session.Status == model.SessionStatusActive && session.ExpiresAt != nil && !now.Before(*session.ExpiresAt) {
			session.Status = model.SessionStatusExpired
			r.store.sessions[id] = session
			n++
		}
	}
	return n, nil
}

func (r *SessionRepository) FindForUser(ctx context.Context, userID string, placeID string, limit int) ([]*model.MessageSession, error) {
	defer r.store.lock(ctx)()
	if err := r.store.fault("sessions.FindForUser"); err != nil {
		return nil, err
	}

	out := []*model.MessageSession{}
	for _, session := range r.store.sessions {
		if session.PlaceID == placeID && session.IsParticipant(userID) {
			out = append(out, &session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return limitSlice(out, 0, limit), nil
}

func (r *SessionRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.store.ExecuteTransaction(ctx, fn)
}

// SessionsForRequest counts sessions materialized from requestID.
func (s *Store) SessionsForRequest(requestID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, session := range s.sessions {
		if session.SourceRequestID != nil && *session.SourceRequestID == requestID {
			n++
		}
	}
	return n
}

func (s *Store) Session(id string) (model.MessageSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	return session, ok
}

type MessageRepository struct {
	store *Store
}

func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	defer r.store.lock(ctx)()
	if err := r.store.fault("messages.Create"); err != nil {
		return err
	}

	r.store.messages[message.ID] = *message
	return nil
}

func (r *MessageRepository) FindBySession(ctx context.Context, sessionID string, limit int, offset int64) ([]*model.Message, error) {
	defer r.store.lock(ctx)()
	if err := r.store.fault("messages.FindBySession"); err != nil {
		return nil, err
	}

	out := []*model.Message{}
	for _, m := range r.store.messages {
		if m.SessionID == sessionID {
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return limitSlice(out, offset, limit), nil
}

func (s *Store) MessageCount(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			n++
		}
	}
	return n
}
