package memstore

import (
	"context"
	"sort"
	"time"

	requestserrors "herenow/internal/requests/errors"
	mongotx "herenow/pkg/db/mongo"
	"herenow/pkg/model"
)

type RequestRepository struct {
	store *Store
}

func (r *RequestRepository) Create(ctx context.Context, req *model.MessageRequest) error {
	defer r.store.lock(ctx)()
	if err := r.store.fault("requests.Create"); err != nil {
		return err
	}

	if req.Status == model.RequestStatusPending {
		for _, existing := range r.store.requests {
			if existing.Status == model.RequestStatusPending &&
				existing.PairKey == req.PairKey &&
				existing.PlaceID == req.PlaceID {
				return requestserrors.ErrAlreadyPending
			}
		}
	}
	r.store.requests[req.ID] = *req
	return nil
}

func (r *RequestRepository) FindByID(ctx context.Context, id string) (*model.MessageRequest, error) {
	defer r.store.lock(ctx)()
	if err := r.store.fault("requests.FindByID"); err != nil {
		return nil, err
	}

	req, ok := r.store.requests[id]
	if !ok {
		return nil, requestserrors.ErrNotFound
	}
	return &req, nil
}

func (r *RequestRepository) Resolve(ctx context.Context, id string, status string, at time.Time) error {
	defer r.store.lock(ctx)()
	if err := r.store.fault("requests.Resolve"); err != nil {
		return err
	}

	req, ok := r.store.requests[id]
	if !ok || req.Status != model.RequestStatusPending {
		return requestserrors.ErrNotPending
	}
	req.Status = status
	req.RespondedAt = &at
	r.store.requests[id] = req
	return nil
}

func (r *RequestRepository) ExpirePending(ctx context.Context, createdBefore time.Time) (int64, error) {
	defer r.store.lock(ctx)()
	if err := r.store.fault("requests.ExpirePending"); err != nil {
		return 0, err
	}

	var n int64
	for id, req := range r.store.requests {
		if req.Status == model.RequestStatusPending && req.CreatedAt.Before(createdBefore) {
			req.Status = model.RequestStatusExpired
			r.store.requests[id] = req
			n++
		}
	}
	return n, nil
}

func (r *RequestRepository) FindForUser(ctx context.Context, userID string, placeID string, limit int) ([]*model.MessageRequest, error) {
	defer r.store.lock(ctx)()
	if err := r.store.fault("requests.FindForUser"); err != nil {
		return nil, err
	}

	out := []*model.MessageRequest{}
	for _, req := range r.store.requests {
		if req.PlaceID == placeID && req.IsParticipant(userID) {
			out = append(out, &req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return limitSlice(out, 0, limit), nil
}

func (r *RequestRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.store.ExecuteTransaction(ctx, fn)
}

// PendingRequests counts pending rows for the unordered pair at placeID.
func (s *Store) PendingRequests(a, b, placeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.PairKey(a, b)
	n := 0
	for _, req := range s.requests {
		if req.Status == model.RequestStatusPending && req.PairKey == key && req.PlaceID == placeID {
			n++
		}
	}
	return n
}

func (s *Store) Request(id string) (model.MessageRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	return req, ok
}
