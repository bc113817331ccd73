package service

import (
	"context"
	"errors"
	"time"

	requestserrors "herenow/internal/requests/errors"
	"herenow/internal/requests/repository"
	"herenow/internal/requests/validator"
	"herenow/pkg/config"
	apperrors "herenow/pkg/errors"
	"herenow/pkg/model"
	"herenow/pkg/ratelimit"
	"herenow/pkg/sanitizer"
	"herenow/pkg/validation"

	"github.com/google/uuid"
)

type MessageRequestService interface {
	Create(ctx context.Context, initiatorID string, input *model.MessageRequestInput) (*model.MessageRequest, error)
	Respond(ctx context.Context, requestID string, responderID string, input *model.RespondInput) (*model.RequestResolution, error)
	Cancel(ctx context.Context, requestID string, initiatorID string) (*model.RequestResolution, error)
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	ListForUser(ctx context.Context, userID string, placeID string, limit int) ([]*model.MessageRequest, error)
}

// ParticipantChecker resolves a user's current checkin at a place.
type ParticipantChecker interface {
	GetCurrent(ctx context.Context, userID string, placeID string) (*model.Checkin, error)
}

// SessionCreator materializes an accepted request. It is called with the
// accept transaction's context and must write through it.
type SessionCreator interface {
	CreateFromRequest(ctx context.Context, req *model.MessageRequest) (*model.MessageSession, error)
}

type messageRequestService struct {
	repo         repository.MessageRequestRepository
	validator    *validator.MessageRequestValidator
	participants ParticipantChecker
	sessions     SessionCreator
	limiter      ratelimit.Guard
	cfg          *config.Config
	now          func() time.Time
}

func NewMessageRequestService(
	repo repository.MessageRequestRepository,
	validator *validator.MessageRequestValidator,
	participants ParticipantChecker,
	sessions SessionCreator,
	limiter ratelimit.Guard,
	cfg *config.Config,
) MessageRequestService {
	return &messageRequestService{
		repo:         repo,
		validator:    validator,
		participants: participants,
		sessions:     sessions,
		limiter:      limiter,
		cfg:          cfg,
		now:          time.Now,
	}
}

func (s *messageRequestService) Create(ctx context.Context, initiatorID string, input *model.MessageRequestInput) (*model.MessageRequest, error) {
	if initiatorID == "" {
		return nil, apperrors.Unauthenticated("Sign in to send a message request")
	}

	input.InitiateeID = sanitizer.NormalizeIdentifier(input.InitiateeID)
	input.PlaceID = sanitizer.NormalizeIdentifier(input.PlaceID)

	if input.InitiateeID == initiatorID {
		return nil, apperrors.SelfTarget("You cannot send a message request to yourself")
	}

	if err := s.validator.Validate(input); err != nil {
		s.cfg.Log.Warn("Message request validation failed", "initiator_id", initiatorID, "error", err)
		return nil, toValidationError(err, "Invalid message request")
	}

	if err := s.limiter.Enforce(ctx, ratelimit.CategoryMessageRequest); err != nil {
		return nil, err
	}

	if err := s.checkParticipants(ctx, initiatorID, input.InitiateeID, input.PlaceID); err != nil {
		return nil, err
	}

	req := &model.MessageRequest{
		ID:          uuid.NewString(),
		InitiatorID: initiatorID,
		InitiateeID: input.InitiateeID,
		PlaceID:     input.PlaceID,
		PairKey:     model.PairKey(initiatorID, input.InitiateeID),
		Status:      model.RequestStatusPending,
		CreatedAt:   s.timestamp(),
	}

	if err := s.repo.Create(ctx, req); err != nil {
		if errors.Is(err, requestserrors.ErrAlreadyPending) {
			s.cfg.Log.Info("Duplicate message request rejected",
				"initiator_id", initiatorID,
				"initiatee_id", req.InitiateeID,
				"place_id", req.PlaceID,
			)
			return nil, apperrors.AlreadyPending("You already have a pending request with this person here")
		}
		s.cfg.Log.Error("Failed to create message request", "initiator_id", initiatorID, "place_id", req.PlaceID, "error", err)
		return nil, apperrors.FromStorage("Failed to send message request", err)
	}

	s.cfg.Log.Info("Message request created",
		"request_id", req.ID,
		"initiator_id", req.InitiatorID,
		"initiatee_id", req.InitiateeID,
		"place_id", req.PlaceID,
	)
	return req, nil
}

// checkParticipants requires both users to hold a current checkin at the
// place and the initiatee to be available.
func (s *messageRequestService) checkParticipants(ctx context.Context, initiatorID, initiateeID, placeID string) error {
	if _, err := s.participants.GetCurrent(ctx, initiatorID, placeID); err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			return apperrors.Forbidden("Check in at this place before sending message requests")
		}
		return err
	}

	target, err := s.participants.GetCurrent(ctx, initiateeID, placeID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			return apperrors.NotFound("Checked-in user")
		}
		return err
	}

	if target.Status == model.CheckinStatusBusy {
		return apperrors.Forbidden("This person is not accepting message requests right now")
	}
	return nil
}

// Respond checks the immutable fields first and then moves the request out
// of pending with a conditional write. On accept the transition and the
// session insert commit together or not at all.
func (s *messageRequestService) Respond(ctx context.Context, requestID string, responderID string, input *model.RespondInput) (*model.RequestResolution, error) {
	if responderID == "" {
		return nil, apperrors.Unauthenticated("Sign in to respond to message requests")
	}

	if err := s.validator.ValidateResponse(input); err != nil {
		return nil, toValidationError(err, "Invalid response")
	}

	if err := s.limiter.Enforce(ctx, ratelimit.CategoryRespond); err != nil {
		return nil, err
	}

	req, err := s.find(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if responderID != req.InitiateeID {
		return nil, apperrors.Forbidden("Only the recipient can respond to this request")
	}

	if req.Status != model.RequestStatusPending {
		return nil, alreadyResolved(req.Status)
	}

	now := s.timestamp()
	status := model.RequestStatusRejected
	if input.Decision == model.DecisionAccept {
		status = model.RequestStatusAccepted
	}

	resolved := *req
	resolved.Status = status
	resolved.RespondedAt = &now

	if status == model.RequestStatusRejected {
		if err := s.repo.Resolve(ctx, requestID, status, now); err != nil {
			return nil, s.resolveError(requestID, err)
		}
		s.cfg.Log.Info("Message request rejected", "request_id", requestID, "responder_id", responderID)
		return &model.RequestResolution{Request: &resolved}, nil
	}

	var session *model.MessageSession
	err = s.repo.ExecuteTransaction(ctx, func(txCtx context.Context) error {
		if err := s.repo.Resolve(txCtx, requestID, status, now); err != nil {
			return err
		}
		created, err := s.sessions.CreateFromRequest(txCtx, &resolved)
		if err != nil {
			return err
		}
		session = created
		return nil
	})
	if err != nil {
		return nil, s.resolveError(requestID, err)
	}

	s.cfg.Log.Info("Message request accepted",
		"request_id", requestID,
		"responder_id", responderID,
		"session_id", session.ID,
	)
	return &model.RequestResolution{Request: &resolved, Session: session}, nil
}

func (s *messageRequestService) Cancel(ctx context.Context, requestID string, initiatorID string) (*model.RequestResolution, error) {
	if initiatorID == "" {
		return nil, apperrors.Unauthenticated("Sign in to cancel message requests")
	}

	if err := s.limiter.Enforce(ctx, ratelimit.CategoryRespond); err != nil {
		return nil, err
	}

	req, err := s.find(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if initiatorID != req.InitiatorID {
		return nil, apperrors.Forbidden("Only the sender can cancel this request")
	}

	if req.Status != model.RequestStatusPending {
		return nil, alreadyResolved(req.Status)
	}

	now := s.timestamp()
	if err := s.repo.Resolve(ctx, requestID, model.RequestStatusCanceled, now); err != nil {
		return nil, s.resolveError(requestID, err)
	}

	canceled := *req
	canceled.Status = model.RequestStatusCanceled
	canceled.RespondedAt = &now

	s.cfg.Log.Info("Message request canceled", "request_id", requestID, "initiator_id", initiatorID)
	return &model.RequestResolution{Request: &canceled}, nil
}

// SweepExpired only touches rows that are still pending, so overlapping
// sweeps and racing responses are harmless.
func (s *messageRequestService) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.UTC().Add(-s.cfg.RequestTTL)

	n, err := s.repo.ExpirePending(ctx, cutoff)
	if err != nil {
		s.cfg.Log.Error("Failed to expire message requests", "cutoff", cutoff, "error", err)
		return 0, apperrors.FromStorage("Failed to expire message requests", err)
	}

	if n > 0 {
		s.cfg.Log.Info("Expired pending message requests", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

func (s *messageRequestService) ListForUser(ctx context.Context, userID string, placeID string, limit int) ([]*model.MessageRequest, error) {
	if userID == "" {
		return nil, apperrors.Unauthenticated("Sign in to view message requests")
	}

	placeID = sanitizer.NormalizeIdentifier(placeID)
	if placeID == "" {
		return nil, apperrors.InvalidInput("Place ID cannot be empty")
	}

	if err := s.limiter.Enforce(ctx, ratelimit.CategorySearch); err != nil {
		return nil, err
	}

	requests, err := apperrors.RetryRead(ctx, func(ctx context.Context) ([]*model.MessageRequest, error) {
		return s.repo.FindForUser(ctx, userID, placeID, config.NormalizePaginationLimit(limit))
	})
	if err != nil {
		s.cfg.Log.Error("Failed to list message requests", "user_id", userID, "place_id", placeID, "error", err)
		return nil, apperrors.FromStorage("Failed to retrieve message requests", err)
	}
	return requests, nil
}

func (s *messageRequestService) find(ctx context.Context, requestID string) (*model.MessageRequest, error) {
	requestID = sanitizer.NormalizeIdentifier(requestID)
	if requestID == "" {
		return nil, apperrors.InvalidInput("Request ID cannot be empty")
	}

	req, err := apperrors.RetryRead(ctx, func(ctx context.Context) (*model.MessageRequest, error) {
		return s.repo.FindByID(ctx, requestID)
	})
	if err != nil {
		if errors.Is(err, requestserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Message request", requestID)
		}
		s.cfg.Log.Error("Failed to find message request", "request_id", requestID, "error", err)
		return nil, apperrors.FromStorage("Failed to retrieve message request", err)
	}
	return req, nil
}

// resolveError maps a lost conditional write to ALREADY_RESOLVED. Any other
// failure inside the accept transaction rolled the transition back.
func (s *messageRequestService) resolveError(requestID string, err error) error {
	if errors.Is(err, requestserrors.ErrNotPending) {
		s.cfg.Log.Info("Message request transition lost the race", "request_id", requestID)
		return apperrors.AlreadyResolved("This request is no longer pending")
	}
	s.cfg.Log.Error("Failed to resolve message request", "request_id", requestID, "error", err)
	return apperrors.FromStorage("Failed to update message request", err)
}

func (s *messageRequestService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func alreadyResolved(status string) error {
	return apperrors.AlreadyResolved("This request is no longer pending").
		WithDetails(map[string]any{"status": status})
}

func toValidationError(err error, message string) error {
	var errs validation.ValidationErrors
	if errors.As(err, &errs) {
		return errs.AppError(message)
	}
	return apperrors.Validation(message, map[string]any{"error": err.Error()})
}
