package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	checkinservice "herenow/internal/checkins/service"
	checkinvalidator "herenow/internal/checkins/validator"
	"herenow/internal/memstore"
	"herenow/internal/requests/validator"
	sessionservice "herenow/internal/sessions/service"
	sessionvalidator "herenow/internal/sessions/validator"
	"herenow/pkg/config"
	apperrors "herenow/pkg/errors"
	"herenow/pkg/logger"
	"herenow/pkg/model"
	"herenow/pkg/ratelimit"
)

// ────────────────────────────────────────────────
// Fixture
// ────────────────────────────────────────────────

type guardFunc func(ctx context.Context, category ratelimit.Category) error

func (f guardFunc) Enforce(ctx context.Context, category ratelimit.Category) error {
	return f(ctx, category)
}

var allowAll = guardFunc(func(context.Context, ratelimit.Category) error { return nil })

const (
	placeP = "place-p"
	userU1 = "user-1"
	userU2 = "user-2"
	userU3 = "user-3"
)

type fixture struct {
	store    *memstore.Store
	checkins checkinservice.CheckinService
	requests MessageRequestService
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logger.Discard()
	cfg := &config.Config{
		Log:             log,
		RelevanceWindow: 2 * time.Hour,
		RequestTTL:      2 * time.Hour,
		SessionTTL:      time.Hour,
		MaxTopicLength:  100,
		MaxMessageLen:   500,
	}

	store := memstore.New()
	checkins := checkinservice.NewCheckinService(store.Checkins(), checkinvalidator.NewCheckinValidator(log, cfg.MaxTopicLength), allowAll, cfg)
	sessions := sessionservice.NewMessageSessionService(store.Sessions(), store.Messages(), sessionvalidator.NewMessageValidator(log, cfg.MaxMessageLen), allowAll, cfg)
	requests := NewMessageRequestService(store.Requests(), validator.NewMessageRequestValidator(log), checkins, sessions, allowAll, cfg)

	return &fixture{store: store, checkins: checkins, requests: requests, cfg: cfg}
}

func (f *fixture) checkIn(t *testing.T, userID, status string) {
	t.Helper()
	topic := "chess"
	_, err := f.checkins.CheckIn(context.Background(), userID, &model.CheckinInput{PlaceID: placeP, Status: status, Topic: &topic})
	if err != nil {
		t.Fatalf("check in %s: %v", userID, err)
	}
}

func (f *fixture) pendingRequest(t *testing.T, from, to string) *model.MessageRequest {
	t.Helper()
	req, err := f.requests.Create(context.Background(), from, &model.MessageRequestInput{InitiateeID: to, PlaceID: placeP})
	if err != nil {
		t.Fatalf("create request %s -> %s: %v", from, to, err)
	}
	return req
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if !apperrors.HasCode(err, code) {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

// ────────────────────────────────────────────────
// Create
// ────────────────────────────────────────────────

func TestCreate_AcceptFlow(t *testing.T) {
	f := newFixture(t)
	f.checkIn(t, userU1, model.CheckinStatusAvailable)
	f.checkIn(t, userU2, model.CheckinStatusAvailable)

	req := f.pendingRequest(t, userU2, userU1)
	if req.Status != model.RequestStatusPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}

	res, err := f.requests.Respond(context.Background(), req.ID, userU1, &model.RespondInput{Decision: model.DecisionAccept})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if res.Request.Status != model.RequestStatusAccepted {
		t.Errorf("expected accepted, got %s", res.Request.Status)
	}
	if res.Request.RespondedAt == nil {
		t.Error("expected responded_at to be set")
	}

	s := res.Session
	if s == nil {
		t.Fatal("expected a session")
	}
	if s.InitiatorID != userU2 || s.InitiateeID != userU1 || s.PlaceID != placeP || s.Status != model.SessionStatusActive {
		t.Errorf("unexpected session %+v", s)
	}
	if s.SourceRequestID == nil || *s.SourceRequestID != req.ID {
		t.Errorf("expected source request %s, got %v", req.ID, s.SourceRequestID)
	}
	if s.ExpiresAt == nil || !s.ExpiresAt.After(s.CreatedAt) {
		t.Errorf("expected expiry after creation, got %v", s.ExpiresAt)
	}

	stored, _ := f.store.Request(req.ID)
	if stored.Status != model.RequestStatusAccepted {
		t.Errorf("stored request should be accepted, got %s", stored.Status)
	}
	if n := f.store.SessionsForRequest(req.ID); n != 1 {
		t.Errorf("expected 1 session, got %d", n)
	}
}

func TestCreate_AlreadyPending(t *testing.T) {
	f := newFixture(t)
	f.checkIn(t, userU1, model.CheckinStatusAvailable)
	f.checkIn(t, userU2, model.CheckinStatusAvailable)
	f.pendingRequest(t, userU2, userU1)

	tests := []struct {
		name     string
		from, to string
	}{
		{"same direction", userU2, userU1},
		{"reverse direction", userU1, userU2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.requests.Create(context.Background(), tt.from, &model.MessageRequestInput{InitiateeID: tt.to, PlaceID: placeP})
			assertCode(t, err, apperrors.CodeAlreadyPending)
		})
	}

	if n := f.store.PendingRequests(userU1, userU2, placeP); n != 1 {
		t.Errorf("expected 1 pending request, got %d", n)
	}
}

func TestCreate_AfterResolutionAllowsNewRequest(t *testing.T) {
	f := newFixture(t)
	f.checkIn(t, userU1, model.CheckinStatusAvailable)
	f.checkIn(t, userU2, model.CheckinStatusAvailable)

	req := f.pendingRequest(t, userU2, userU1)
	if _, err := f.requests.Cancel(context.Background(), req.ID, userU2); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	f.pendingRequest(t, userU2, userU1)
}

func TestCreate_IDsWithSeparatorDoNotBlockOtherPairs(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a:b", "c", "a", "b:c"} {
		f.checkIn(t, id, model.CheckinStatusAvailable)
	}

	f.pendingRequest(t, "a:b", "c")
	f.pendingRequest(t, "a", "b:c")

	_, err := f.requests.Create(context.Background(), "c", &model.MessageRequestInput{InitiateeID: "a:b", PlaceID: placeP})
	assertCode(t, err, apperrors.CodeAlreadyPending)
}

func TestCreate_Guards(t *testing.T) {
	f := newFixture(t)
	f.checkIn(t, userU1, model.CheckinStatusAvailable)
	f.checkIn(t, userU2, model.CheckinStatusBusy)

	tests := []struct {
		name      string
		initiator string
		input     model.MessageRequestInput
		code      string
	}{
		{"unauthenticated", "", model.MessageRequestInput{InitiateeID: userU2, PlaceID: placeP}, apperrors.CodeUnauthenticated},
		{"self target", userU1, model.MessageRequestInput{InitiateeID: userU1, PlaceID: placeP}, apperrors.CodeSelfTarget},
		{"missing place", userU1, model.MessageRequestInput{InitiateeID: userU2}, apperrors.CodeValidation},
		{"initiator not checked in", userU3, model.MessageRequestInput{InitiateeID: userU1, PlaceID: placeP}, apperrors.CodeForbidden},
		{"initiatee not checked in", userU1, model.MessageRequestInput{InitiateeID: userU3, PlaceID: placeP}, apperrors.CodeNotFound},
		{"initiatee busy", userU1, model.MessageRequestInput{InitiateeID: userU2, PlaceID: placeP}, apperrors.CodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := tt.input
			_, err := f.requests.Create(context.Background(), tt.initiator, &input)
			assertCode(t, err, tt.code)
		})
	}
}

func TestCreate_RateLimitedBeforeWrite(t *testing.T) {
	f := newFixture(t)
	f.checkIn(t, userU1, model.CheckinStatusAvailable)
	f.checkIn(t, userU2, model.CheckinStatusAvailable)

	svc := f.requests.(*messageRequestService)
	svc.limiter = guardFunc(func(_ context.Context, category ratelimit.Category) error {
		if category != ratelimit.CategoryMessageRequest {
			t.Errorf("expected category %s, got %s", ratelimit.CategoryMessageRequest, category)
		}
		return apperrors.RateLimited(time.Second)
	})

	_, err := f.requests.Create(context.Background(), userU2, &model.MessageRequestInput{InitiateeID: userU1, PlaceID: placeP})
	assertCode(t, err, apperrors.CodeRateLimited)

	if n := f.store.PendingRequests(userU1, userU2, placeP); n != 0 {
		t.Errorf("expected no request written, got %d", n)
	}
}

func TestCreate_ConcurrentSinglePending(t *testing.T) {
	f := newFixture(t)
	f.checkIn(t, userU1, model.CheckinStatusAvailable)
	f.checkIn(t, userU2, model.CheckinStatusAvailable)

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		from, to := userU2, userU1
		if i%2 == 1 {
			from, to = userU1, userU2
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.requests.Create(context.Background(), from, &model.MessageRequestInput{InitiateeID: to, PlaceID: placeP})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperrors.HasCode(err, apperrors.CodeAlreadyPending):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if succeeded != 1 {
		t.Errorf("expected exactly 1 create to succeed, got %d", succeeded)
	}
	if n := f.store.PendingRequests(userU1, userU2, placeP); n != 1 {
		t.Errorf("expected 1 pending request, got %d", n)
	}
}

// ────────────────────────────────────────────────
// Respond / Cancel
// ────────────────────────────────────────────────

func TestRespond_Guards(t *testing.T) {
	f := newFixture(t)
	f.checkIn(t, userU1, model.CheckinStatusAvailable)
	f.checkIn(t, userU2, model.CheckinStatusAvailable)
	req := f.pendingRequest(t, userU2, userU1)

	tests := []struct {
		name      string
		requestID string
		responder string
		decision  string
		code      string
	}{
		{"unauthenticated", req.ID, "", model.DecisionAccept, apperrors.CodeUnauthenticated},
		{"bad decision", req.ID, userU1, "maybe", apperrors.CodeValidation},
		{"not found", "00000000-0000-0000-0000-000000000000", userU1, model.DecisionAccept, apperrors.CodeNotFound},
		{"initiator cannot respond", req.ID, userU2, model.DecisionAccept, apperrors.CodeForbidden},
		{"stranger cannot respond", req.ID, userU3, model.DecisionReject, apperrors.CodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.requests.Respond(context.Background(), tt.requestID, tt.responder, &model.RespondInput{Decision: tt.decision})
			assertCode(t, err, tt.code)
		})
	}

	stored, _ := f.store.Request(req.ID)
	if stored.Status != model.RequestStatusPending {
		t.Errorf("guards must not mutate the request, got %s", stored.Status)
	}
}

func TestCancel_Guards(t *testing.T) {
	f := newFixture(t)
	f.checkIn(t, userU1, model.CheckinStatusAvailable)
	f.checkIn(t, userU2, model.CheckinStatusAvailable)
	req := f.pendingRequest(t, userU2, userU1)

	_, err := f.requests.Cancel(context.Background(), req.ID, userU1)
	assertCode(t, err, apperrors.CodeForbidden)

	_, err = f.requests.Cancel(context.Background(), "missing", userU2)
	assertCode(t, err, apperrors.CodeNotFound)

	res, err := f.requests.Cancel(context.Background(), req.ID, userU2)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Request.Status != model.RequestStatusCanceled || res.Session != nil {
		t.Errorf("unexpected resolution %+v", res)
	}
}

func TestTerminalFinality(t *testing.T) {
	terminate := map[string]func(f *fixture, req *model.MessageRequest) error{
		model.RequestStatusRejected: func(f *fixture, req *model.MessageRequest) error {
			_, err := f.requests.Respond(context.Background(), req.ID, userU1, &model.RespondInput{Decision: model.DecisionReject})
			return err
		},
		model.RequestStatusCanceled: func(f *fixture, req *model.MessageRequest) error {
			_, err := f.requests.Cancel(context.Background(), req.ID, userU2)
			return err
		},
		model.RequestStatusExpired: func(f *fixture, req *model.MessageRequest) error {
			_, err := f.requests.SweepExpired(context.Background(), time.Now().Add(3*time.Hour))
			return err
		},
	}

	for status, fn := range terminate {
		t.Run(status, func(t *testing.T) {
			f := newFixture(t)
			f.checkIn(t, userU1, model.CheckinStatusAvailable)
			f.checkIn(t, userU2, model.CheckinStatusAvailable)
			req := f.pendingRequest(t, userU2, userU1)

			if err := fn(f, req); err != nil {
				t.Fatalf("terminate: %v", err)
			}
			before, _ := f.store.Request(req.ID)
			if before.Status != status {
				t.Fatalf("expected %s, got %s", status, before.Status)
			}

			_, err := f.requests.Respond(context.Background(), req.ID, userU1, &model.RespondInput{Decision: model.DecisionAccept})
			assertCode(t, err, apperrors.CodeAlreadyResolved)
			_, err = f.requests.Cancel(context.Background(), req.ID, userU2)
			assertCode(t, err, apperrors.CodeAlreadyResolved)

			after, _ := f.store.Request(req.ID)
			if after.Status != before.Status {
				t.Errorf("status changed from %s to %s", before.Status, after.Status)
			}
			if n := f.store.SessionsForRequest(req.ID); n != 0 {
				t.Errorf("expected no session, got %d", n)
			}
		})
	}
}

func TestRespond_SessionFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.checkIn(t, userU1, model.CheckinStatusAvailable)
	f.checkIn(t, userU2, model.CheckinStatusAvailable)
	req := f.pendingRequest(t, userU2, userU1)

	f.store.FailNext("sessions.Create", errors.New("disk full"))

	_, err := f.requests.Respond(context.Background(), req.ID, userU1, &model.RespondInput{Decision: model.DecisionAccept})
	assertCode(t, err, apperrors.CodeInternal)

	stored, _ := f.store.Request(req.ID)
	if stored.Status != model.RequestStatusPending {
		t.Errorf("accept must roll back, got %s", stored.Status)
	}
	if n := f.store.SessionsForRequest(req.ID); n != 0 {
		t.Errorf("expected no session, got %d", n)
	}

	if _, err := f.requests.Respond(context.Background(), req.ID, userU1, &model.RespondInput{Decision: model.DecisionAccept}); err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
	if n := f.store.SessionsForRequest(req.ID); n != 1 {
		t.Errorf("expected 1 session after retry, got %d", n)
	}
}

func TestRespond_StorageUnavailable(t *testing.T) {
	f := newFixture(t)
	f.checkIn(t, userU1, model.CheckinStatusAvailable)
	f.checkIn(t, userU2, model.CheckinStatusAvailable)
	req := f.pendingRequest(t, userU2, userU1)

	f.store.FailNext("requests.Resolve", apperrors.Unavailable("Storage", errors.New("connection reset")))

	_, err := f.requests.Respond(context.Background(), req.ID, userU1, &model.RespondInput{Decision: model.DecisionReject})
	assertCode(t, err, apperrors.CodeUnavailable)
}

func TestRespond_ConcurrentAcceptAndCancel(t *testing.T) {
	for i := 0; i < 25; i++ {
		f := newFixture(t)
		f.checkIn(t, userU1, model.CheckinStatusAvailable)
		f.checkIn(t, userU2, model.CheckinStatusAvailable)
		req := f.pendingRequest(t, userU2, userU1)

		var wg sync.WaitGroup
		var acceptErr, cancelErr error
		start := make(chan struct{})

		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, acceptErr = f.requests.Respond(context.Background(), req.ID, userU1, &model.RespondInput{Decision: model.DecisionAccept})
		}()
		go func() {
			defer wg.Done()
			<-start
			_, cancelErr = f.requests.Cancel(context.Background(), req.ID, userU2)
		}()
		close(start)
		wg.Wait()

		if (acceptErr == nil) == (cancelErr == nil) {
			t.Fatalf("iteration %d: exactly one should succeed, accept=%v cancel=%v", i, acceptErr, cancelErr)
		}

		stored, _ := f.store.Request(req.ID)
		sessions := f.store.SessionsForRequest(req.ID)

		if acceptErr == nil {
			assertCode(t, cancelErr, apperrors.CodeAlreadyResolved)
			if stored.Status != model.RequestStatusAccepted || sessions != 1 {
				t.Fatalf("iteration %d: expected accepted with 1 session, got %s with %d", i, stored.Status, sessions)
			}
		} else {
			assertCode(t, acceptErr, apperrors.CodeAlreadyResolved)
			if stored.Status != model.RequestStatusCanceled || sessions != 0 {
				t.Fatalf("iteration %d: expected canceled with 0 sessions, got %s with %d", i, stored.Status, sessions)
			}
		}
	}
}

func TestRespond_ConcurrentAcceptsCreateOneSession(t *testing.T) {
	f := newFixture(t)
	f.checkIn(t, userU1, model.CheckinStatusAvailable)
	f.checkIn(t, userU2, model.CheckinStatusAvailable)
	req := f.pendingRequest(t, userU2, userU1)

	const callers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.requests.Respond(context.Background(), req.ID, userU1, &model.RespondInput{Decision: model.DecisionAccept})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !apperrors.HasCode(err, apperrors.CodeAlreadyResolved) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("expected 1 successful accept, got %d", succeeded)
	}
	if n := f.store.SessionsForRequest(req.ID); n != 1 {
		t.Errorf("expected exactly 1 session, got %d", n)
	}
}

// ────────────────────────────────────────────────
// SweepExpired / ListForUser
// ────────────────────────────────────────────────

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	f.checkIn(t, userU1, model.CheckinStatusAvailable)
	f.checkIn(t, userU2, model.CheckinStatusAvailable)
	f.checkIn(t, userU3, model.CheckinStatusAvailable)

	old := f.pendingRequest(t, userU2, userU1)

	svc := f.requests.(*messageRequestService)
	svc.now = func() time.Time { return time.Now().Add(90 * time.Minute) }
	fresh := f.pendingRequest(t, userU3, userU1)

	now := time.Now().Add(2*time.Hour + time.Minute)
	n, err := f.requests.SweepExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired, got %d", n)
	}

	if r, _ := f.store.Request(old.ID); r.Status != model.RequestStatusExpired {
		t.Errorf("old request should be expired, got %s", r.Status)
	}
	if r, _ := f.store.Request(fresh.ID); r.Status != model.RequestStatusPending {
		t.Errorf("fresh request should stay pending, got %s", r.Status)
	}

	n, err = f.requests.SweepExpired(context.Background(), now)
	if err != nil || n != 0 {
		t.Errorf("second sweep should be a no-op, got n=%d err=%v", n, err)
	}
}

func TestListForUser(t *testing.T) {
	f := newFixture(t)
	f.checkIn(t, userU1, model.CheckinStatusAvailable)
	f.checkIn(t, userU2, model.CheckinStatusAvailable)
	f.checkIn(t, userU3, model.CheckinStatusAvailable)

	f.pendingRequest(t, userU2, userU1)
	f.pendingRequest(t, userU3, userU2)

	mine, err := f.requests.ListForUser(context.Background(), userU1, placeP, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 || mine[0].InitiatorID != userU2 {
		t.Errorf("expected only the request involving %s, got %+v", userU1, mine)
	}

	all, _ := f.requests.ListForUser(context.Background(), userU2, placeP, 0)
	if len(all) != 2 {
		t.Errorf("expected 2 requests for %s, got %d", userU2, len(all))
	}

	_, err = f.requests.ListForUser(context.Background(), "", placeP, 0)
	assertCode(t, err, apperrors.CodeUnauthenticated)
}
