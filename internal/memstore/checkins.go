package memstore

import (
	"context"
	"sort"
	"time"

	checkinserrors "herenow/internal/checkins/errors"
	mongotx "herenow/pkg/db/mongo"
	"herenow/pkg/model"
)

type CheckinRepository struct {
	store *Store
}

func (r *CheckinRepository) Create(ctx context.Context, checkin *model.Checkin) error {
	defer r.store.lock(ctx)()
	if err := r.store.fault("checkins.Create"); err != nil {
		return err
	}

	if checkin.IsActive {
		for _, existing := range r.store.checkins {
			if existing.IsActive && existing.UserID == checkin.UserID {
				return checkinserrors.ErrActiveExists
			}
		}
	}
	r.store.checkins[checkin.ID] = *checkin
	return nil
}

func (r *CheckinRepository) DeactivateActive(ctx context.Context, userID string, at time.Time) (int64, error) {
	defer r.store.lock(ctx)()
	if err := r.store.fault("checkins.DeactivateActive"); err != nil {
		return 0, err
	}

	var n int64
	for id, c := range r.store.checkins {
		if c.IsActive && c.UserID == userID {
			c.IsActive = false
			c.CheckedOutAt = &at
			r.store.checkins[id] = c
			n++
		}
	}
	return n, nil
}

func (r *CheckinRepository) FindCurrent(ctx context.Context, userID string, placeID string, since time.Time) (*model.Checkin, error) {
	defer r.store.lock(ctx)()
	if err := r.store.fault("checkins.FindCurrent"); err != nil {
		return nil, err
	}

	for _, c := range r.store.checkins {
		if c.IsActive && c.UserID == userID && c.PlaceID == placeID && !c.CreatedAt.Before(since) {
			return &c, nil
		}
	}
	return nil, checkinserrors.ErrNotFound
}

func (r *CheckinRepository) FindCurrentByPlace(ctx context.Context, placeID string, since time.Time, limit int) ([]*model.Checkin, error) {
	defer r.store.lock(ctx)()
	if err := r.store.fault("checkins.FindCurrentByPlace"); err != nil {
		return nil, err
	}

	out := []*model.Checkin{}
	for _, c := range r.store.checkins {
		if c.IsActive && c.PlaceID == placeID && !c.CreatedAt.Before(since) {
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return limitSlice(out, 0, limit), nil
}

func (r *CheckinRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.store.ExecuteTransaction(ctx, fn)
}

// ActiveCheckins counts rows with is_active=true for userID.
func (s *Store) ActiveCheckins(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.checkins {
		if c.IsActive && c.UserID == userID {
			n++
		}
	}
	return n
}
