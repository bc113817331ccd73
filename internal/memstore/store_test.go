package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	checkinserrors "herenow/internal/checkins/errors"
	requestserrors "herenow/internal/requests/errors"
	sessionserrors "herenow/internal/sessions/errors"
	"herenow/pkg/model"
)

func TestExecuteTransaction_RollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	if err := s.Checkins().Create(ctx, &model.Checkin{ID: "c1", UserID: "u1", PlaceID: "p", IsActive: true, CreatedAt: now}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := errors.New("boom")
	err := s.ExecuteTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.Checkins().DeactivateActive(ctx, "u1", now); err != nil {
			return err
		}
		if err := s.Checkins().Create(ctx, &model.Checkin{ID: "c2", UserID: "u1", PlaceID: "p", IsActive: true, CreatedAt: now}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	c, err := s.Checkins().FindCurrent(ctx, "u1", "p", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if c.ID != "c1" {
		t.Errorf("expected c1 to be restored, got %s", c.ID)
	}
	if n := s.ActiveCheckins("u1"); n != 1 {
		t.Errorf("expected 1 active checkin, got %d", n)
	}
}

func TestExecuteTransaction_Nested(t *testing.T) {
	s := New()

	err := s.ExecuteTransaction(context.Background(), func(ctx context.Context) error {
		return s.ExecuteTransaction(ctx, func(ctx context.Context) error {
			return s.Sessions().Create(ctx, &model.MessageSession{ID: "s1", Status: model.SessionStatusActive})
		})
	})
	if err != nil {
		t.Fatalf("nested transaction: %v", err)
	}
	if _, ok := s.Session("s1"); !ok {
		t.Error("expected session to be committed")
	}
}

func TestFailNext_FiresOnce(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	s.FailNext("messages.Create", boom)

	if err := s.Messages().Create(context.Background(), &model.Message{ID: "m1", SessionID: "s"}); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if err := s.Messages().Create(context.Background(), &model.Message{ID: "m1", SessionID: "s"}); err != nil {
		t.Fatalf("second call should succeed, got %v", err)
	}
}

func TestConstraints(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Checkins().Create(ctx, &model.Checkin{ID: "c1", UserID: "u1", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.Checkins().Create(ctx, &model.Checkin{ID: "c2", UserID: "u1", IsActive: true}); !errors.Is(err, checkinserrors.ErrActiveExists) {
		t.Errorf("expected ErrActiveExists, got %v", err)
	}

	pending := &model.MessageRequest{ID: "r1", PairKey: model.PairKey("a", "b"), PlaceID: "p", Status: model.RequestStatusPending}
	if err := s.Requests().Create(ctx, pending); err != nil {
		t.Fatal(err)
	}
	dup := &model.MessageRequest{ID: "r2", PairKey: model.PairKey("b", "a"), PlaceID: "p", Status: model.RequestStatusPending}
	if err := s.Requests().Create(ctx, dup); !errors.Is(err, requestserrors.ErrAlreadyPending) {
		t.Errorf("expected ErrAlreadyPending, got %v", err)
	}

	if err := s.Requests().Resolve(ctx, "r1", model.RequestStatusRejected, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.Requests().Resolve(ctx, "r1", model.RequestStatusAccepted, time.Now()); !errors.Is(err, requestserrors.ErrNotPending) {
		t.Errorf("expected ErrNotPending, got %v", err)
	}

	src := "r1"
	if err := s.Sessions().Create(ctx, &model.MessageSession{ID: "s1", SourceRequestID: &src}); err != nil {
		t.Fatal(err)
	}
	if err := s.Sessions().Create(ctx, &model.MessageSession{ID: "s2", SourceRequestID: &src}); !errors.Is(err, sessionserrors.ErrDuplicateSource) {
		t.Errorf("expected ErrDuplicateSource, got %v", err)
	}
}

func TestRepositories_ReturnCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Requests().Create(ctx, &model.MessageRequest{ID: "r1", Status: model.RequestStatusPending})

	got, _ := s.Requests().FindByID(ctx, "r1")
	got.Status = model.RequestStatusAccepted

	stored, _ := s.Request("r1")
	if stored.Status != model.RequestStatusPending {
		t.Errorf("mutating a returned entity must not change the store, got %s", stored.Status)
	}
}
