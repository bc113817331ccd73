package service

import (
	"context"
	"errors"
	"time"

	checkinserrors "herenow/internal/checkins/errors"
	"herenow/internal/checkins/repository"
	"herenow/internal/checkins/validator"
	"herenow/pkg/config"
	apperrors "herenow/pkg/errors"
	"herenow/pkg/model"
	"herenow/pkg/ratelimit"
	"herenow/pkg/sanitizer"
	"herenow/pkg/validation"

	"github.com/google/uuid"
)

type CheckinService interface {
	CheckIn(ctx context.Context, userID string, input *model.CheckinInput) (*model.Checkin, error)
	CheckOut(ctx context.Context, userID string) error
	ListCurrent(ctx context.Context, placeID string, limit int) ([]*model.Checkin, error)
	GetCurrent(ctx context.Context, userID string, placeID string) (*model.Checkin, error)
}

type checkinService struct {
	repo      repository.CheckinRepository
	validator *validator.CheckinValidator
	limiter   ratelimit.Guard
	cfg       *config.Config
	now       func() time.Time
}

func NewCheckinService(
	repo repository.CheckinRepository,
	validator *validator.CheckinValidator,
	limiter ratelimit.Guard,
	cfg *config.Config,
) CheckinService {
	return &checkinService{
		repo:      repo,
		validator: validator,
		limiter:   limiter,
		cfg:       cfg,
		now:       time.Now,
	}
}

// CheckIn deactivates the user's previous checkin and inserts the new one in
// a single transaction. The partial unique index on active checkins turns a
// concurrent check-in by the same user into ErrActiveExists for the loser.
func (s *checkinService) CheckIn(ctx context.Context, userID string, input *model.CheckinInput) (*model.Checkin, error) {
	if userID == "" {
		return nil, apperrors.Unauthenticated("Sign in to check in")
	}

	s.sanitize(input)
	if err := s.validator.Validate(input); err != nil {
		s.cfg.Log.Warn("Checkin validation failed", "user_id", userID, "error", err)
		return nil, toValidationError(err, "Invalid check-in")
	}

	if err := s.limiter.Enforce(ctx, ratelimit.CategoryCheckin); err != nil {
		return nil, err
	}

	now := s.timestamp()
	checkin := &model.Checkin{
		ID:        uuid.NewString(),
		UserID:    userID,
		PlaceID:   input.PlaceID,
		Status:    input.Status,
		Topic:     input.Topic,
		IsActive:  true,
		CreatedAt: now,
	}

	var superseded int64
	err := s.repo.ExecuteTransaction(ctx, func(txCtx context.Context) error {
		n, err := s.repo.DeactivateActive(txCtx, userID, now)
		if err != nil {
			return err
		}
		superseded = n
		return s.repo.Create(txCtx, checkin)
	})
	if err != nil {
		if errors.Is(err, checkinserrors.ErrActiveExists) {
			s.cfg.Log.Warn("Concurrent check-in lost the race", "user_id", userID, "place_id", input.PlaceID)
			return nil, apperrors.Conflict("Another check-in was recorded at the same time, try again")
		}
		s.cfg.Log.Error("Failed to check in", "user_id", userID, "place_id", input.PlaceID, "error", err)
		return nil, apperrors.FromStorage("Failed to check in", err)
	}

	s.cfg.Log.Info("User checked in",
		"checkin_id", checkin.ID,
		"user_id", userID,
		"place_id", checkin.PlaceID,
		"status", checkin.Status,
		"superseded", superseded,
	)
	return checkin, nil
}

// CheckOut is a no-op when the user has no active checkin.
func (s *checkinService) CheckOut(ctx context.Context, userID string) error {
	if userID == "" {
		return apperrors.Unauthenticated("Sign in to check out")
	}

	n, err := s.repo.DeactivateActive(ctx, userID, s.timestamp())
	if err != nil {
		s.cfg.Log.Error("Failed to check out", "user_id", userID, "error", err)
		return apperrors.FromStorage("Failed to check out", err)
	}

	if n > 0 {
		s.cfg.Log.Info("User checked out", "user_id", userID)
	}
	return nil
}

func (s *checkinService) ListCurrent(ctx context.Context, placeID string, limit int) ([]*model.Checkin, error) {
	placeID = sanitizer.NormalizeIdentifier(placeID)
	if placeID == "" {
		return nil, apperrors.InvalidInput("Place ID cannot be empty")
	}

	if err := s.limiter.Enforce(ctx, ratelimit.CategorySearch); err != nil {
		return nil, err
	}

	since := s.now().UTC().Add(-s.cfg.RelevanceWindow)
	checkins, err := apperrors.RetryRead(ctx, func(ctx context.Context) ([]*model.Checkin, error) {
		return s.repo.FindCurrentByPlace(ctx, placeID, since, config.NormalizePaginationLimit(limit))
	})
	if err != nil {
		s.cfg.Log.Error("Failed to list checkins", "place_id", placeID, "error", err)
		return nil, apperrors.FromStorage("Failed to retrieve checkins", err)
	}

	return checkins, nil
}

func (s *checkinService) GetCurrent(ctx context.Context, userID string, placeID string) (*model.Checkin, error) {
	since := s.now().UTC().Add(-s.cfg.RelevanceWindow)

	checkin, err := apperrors.RetryRead(ctx, func(ctx context.Context) (*model.Checkin, error) {
		return s.repo.FindCurrent(ctx, userID, placeID, since)
	})
	if err != nil {
		if errors.Is(err, checkinserrors.ErrNotFound) {
			return nil, apperrors.NotFound("Checkin")
		}
		return nil, apperrors.FromStorage("Failed to retrieve checkin", err)
	}

	return checkin, nil
}

func (s *checkinService) sanitize(input *model.CheckinInput) {
	input.PlaceID = sanitizer.NormalizeIdentifier(input.PlaceID)
	input.Topic = sanitizer.NormalizeTopic(input.Topic)
}

func (s *checkinService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func toValidationError(err error, message string) error {
	var errs validation.ValidationErrors
	if errors.As(err, &errs) {
		return errs.AppError(message)
	}
	return apperrors.Validation(message, map[string]any{"error": err.Error()})
}
