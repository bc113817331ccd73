package service

import (
	"context"
	"errors"
	"time"

	sessionserrors "herenow/internal/sessions/errors"
	"herenow/internal/sessions/repository"
	"herenow/internal/sessions/validator"
	"herenow/pkg/config"
	apperrors "herenow/pkg/errors"
	"herenow/pkg/model"
	"herenow/pkg/ratelimit"
	"herenow/pkg/sanitizer"
	"herenow/pkg/validation"

	"github.com/google/uuid"
)

type MessageSessionService interface {
	CreateFromRequest(ctx context.Context, req *model.MessageRequest) (*model.MessageSession, error)
	Close(ctx context.Context, sessionID string, actorID string) error
	SendMessage(ctx context.Context, sessionID string, senderID string, input *model.MessageInput) (*model.Message, error)
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	ListForUser(ctx context.Context, userID string, placeID string, limit int) ([]*model.MessageSession, error)
	ListMessages(ctx context.Context, sessionID string, actorID string, limit int, offset int64) ([]*model.Message, error)
}

type messageSessionService struct {
	repo      repository.MessageSessionRepository
	messages  repository.MessageRepository
	validator *validator.MessageValidator
	limiter   ratelimit.Guard
	cfg       *config.Config
	now       func() time.Time
}

func NewMessageSessionService(
	repo repository.MessageSessionRepository,
	messages repository.MessageRepository,
	validator *validator.MessageValidator,
	limiter ratelimit.Guard,
	cfg *config.Config,
) MessageSessionService {
	return &messageSessionService{
		repo:      repo,
		messages:  messages,
		validator: validator,
		limiter:   limiter,
		cfg:       cfg,
		now:       time.Now,
	}
}

// CreateFromRequest is only called from the accept transaction, with its
// context. The unique index on source_request_id backs exactly-once creation.
func (s *messageSessionService) CreateFromRequest(ctx context.Context, req *model.MessageRequest) (*model.MessageSession, error) {
	now := s.timestamp()
	sourceID := req.ID

	session := &model.MessageSession{
		ID:              uuid.NewString(),
		PlaceID:         req.PlaceID,
		InitiatorID:     req.InitiatorID,
		InitiateeID:     req.InitiateeID,
		SourceRequestID: &sourceID,
		Status:          model.SessionStatusActive,
		CreatedAt:       now,
	}
	if s.cfg.SessionTTL > 0 {
		expiresAt := now.Add(s.cfg.SessionTTL)
		session.ExpiresAt = &expiresAt
	}

	if err := s.repo.Create(ctx, session); err != nil {
		if errors.Is(err, sessionserrors.ErrDuplicateSource) {
			s.cfg.Log.Warn("Session already exists for request", "request_id", req.ID)
			return nil, apperrors.Conflict("A session already exists for this request")
		}
		s.cfg.Log.Error("Failed to create message session", "request_id", req.ID, "error", err)
		return nil, apperrors.FromStorage("Failed to start message session", err)
	}

	s.cfg.Log.Info("Message session created",
		"session_id", session.ID,
		"request_id", req.ID,
		"place_id", session.PlaceID,
	)
	return session, nil
}

// Close is idempotent for a session that is already closed. An expired
// session cannot be closed.
func (s *messageSessionService) Close(ctx context.Context, sessionID string, actorID string) error {
	if actorID == "" {
		return apperrors.Unauthenticated("Sign in to close sessions")
	}

	session, err := s.find(ctx, sessionID)
	if err != nil {
		return err
	}

	if !session.IsParticipant(actorID) {
		return apperrors.Forbidden("Only participants can close this session")
	}

	now := s.timestamp()
	switch {
	case session.Status == model.SessionStatusClosed:
		return nil
	case !session.ActiveAt(now):
		return apperrors.SessionNotActive("This session has expired")
	}

	err = s.repo.Close(ctx, session.ID, now)
	if err == nil {
		s.cfg.Log.Info("Message session closed", "session_id", session.ID, "actor_id", actorID)
		return nil
	}
	if !errors.Is(err, sessionserrors.ErrNotActive) {
		s.cfg.Log.Error("Failed to close message session", "session_id", session.ID, "error", err)
		return apperrors.FromStorage("Failed to close session", err)
	}

	// Lost the race: a concurrent close is success, a sweep is not.
	current, err := s.find(ctx, session.ID)
	if err != nil {
		return err
	}
	if current.Status == model.SessionStatusClosed {
		return nil
	}
	return apperrors.SessionNotActive("This session has expired")
}

// SendMessage stamps the session and appends the message in one
// transaction, so a message is never stored for a session that closed or
// expired in the meantime.
func (s *messageSessionService) SendMessage(ctx context.Context, sessionID string, senderID string, input *model.MessageInput) (*model.Message, error) {
	if senderID == "" {
		return nil, apperrors.Unauthenticated("Sign in to send messages")
	}

	input.Content = sanitizer.NormalizeContent(input.Content)
	if err := s.validator.Validate(input); err != nil {
		s.cfg.Log.Warn("Message validation failed", "session_id", sessionID, "sender_id", senderID, "error", err)
		return nil, toValidationError(err, "Invalid message")
	}

	if err := s.limiter.Enforce(ctx, ratelimit.CategorySendMessage); err != nil {
		return nil, err
	}

	session, err := s.find(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !session.IsParticipant(senderID) {
		return nil, apperrors.Forbidden("Only participants can send messages in this session")
	}

	now := s.timestamp()
	if !session.ActiveAt(now) {
		return nil, apperrors.SessionNotActive("This session is no longer active")
	}

	message := &model.Message{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		SenderID:    senderID,
		RecipientID: session.Peer(senderID),
		PlaceID:     session.PlaceID,
		Content:     input.Content,
		CreatedAt:   now,
	}

	err = s.repo.ExecuteTransaction(ctx, func(txCtx context.Context) error {
		if err := s.repo.Touch(txCtx, session.ID, now); err != nil {
			return err
		}
		return s.messages.Create(txCtx, message)
	})
	if err != nil {
		if errors.Is(err, sessionserrors.ErrNotActive) {
			return nil, apperrors.SessionNotActive("This session is no longer active")
		}
		s.cfg.Log.Error("Failed to send message", "session_id", session.ID, "sender_id", senderID, "error", err)
		return nil, apperrors.FromStorage("Failed to send message", err)
	}

	s.cfg.Log.Info("Message sent", "message_id", message.ID, "session_id", session.ID)
	return message, nil
}

func (s *messageSessionService) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.repo.ExpireActive(ctx, now.UTC())
	if err != nil {
		s.cfg.Log.Error("Failed to expire message sessions", "error", err)
		return 0, apperrors.FromStorage("Failed to expire message sessions", err)
	}

	if n > 0 {
		s.cfg.Log.Info("Expired message sessions", "count", n)
	}
	return n, nil
}

func (s *messageSessionService) ListForUser(ctx context.Context, userID string, placeID string, limit int) ([]*model.MessageSession, error) {
	if userID == "" {
		return nil, apperrors.Unauthenticated("Sign in to view sessions")
	}

	placeID = sanitizer.NormalizeIdentifier(placeID)
	if placeID == "" {
		return nil, apperrors.InvalidInput("Place ID cannot be empty")
	}

	if err := s.limiter.Enforce(ctx, ratelimit.CategorySearch); err != nil {
		return nil, err
	}

	sessions, err := apperrors.RetryRead(ctx, func(ctx context.Context) ([]*model.MessageSession, error) {
		return s.repo.FindForUser(ctx, userID, placeID, config.NormalizePaginationLimit(limit))
	})
	if err != nil {
		s.cfg.Log.Error("Failed to list message sessions", "user_id", userID, "place_id", placeID, "error", err)
		return nil, apperrors.FromStorage("Failed to retrieve sessions", err)
	}
	return sessions, nil
}

func (s *messageSessionService) ListMessages(ctx context.Context, sessionID string, actorID string, limit int, offset int64) ([]*model.Message, error) {
	if actorID == "" {
		return nil, apperrors.Unauthenticated("Sign in to view messages")
	}

	session, err := s.find(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !session.IsParticipant(actorID) {
		return nil, apperrors.Forbidden("Only participants can view this session")
	}

	messages, err := apperrors.RetryRead(ctx, func(ctx context.Context) ([]*model.Message, error) {
		return s.messages.FindBySession(ctx, session.ID, config.NormalizePaginationLimit(limit), offset)
	})
	if err != nil {
		s.cfg.Log.Error("Failed to list messages", "session_id", session.ID, "error", err)
		return nil, apperrors.FromStorage("Failed to retrieve messages", err)
	}
	return messages, nil
}

func (s *messageSessionService) find(ctx context.Context, sessionID string) (*model.MessageSession, error) {
	sessionID = sanitizer.NormalizeIdentifier(sessionID)
	if sessionID == "" {
		return nil, apperrors.InvalidInput("Session ID cannot be empty")
	}

	session, err := apperrors.RetryRead(ctx, func(ctx context.Context) (*model.MessageSession, error) {
		return s.repo.FindByID(ctx, sessionID)
	})
	if err != nil {
		if errors.Is(err, sessionserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Session", sessionID)
		}
		s.cfg.Log.Error("Failed to find message session", "session_id", sessionID, "error", err)
		return nil, apperrors.FromStorage("Failed to retrieve session", err)
	}
	return session, nil
}

func (s *messageSessionService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func toValidationError(err error, message string) error {
	var errs validation.ValidationErrors
	if errors.As(err, &errs) {
		return errs.AppError(message)
	}
	return apperrors.Validation(message, map[string]any{"error": err.Error()})
}
