package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"herenow/pkg/config"
	apperrors "herenow/pkg/errors"
	"herenow/pkg/identity"
	"herenow/pkg/logger"
	"herenow/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type mockCheckinService struct {
	checkInFunc     func(ctx context.Context, userID string, input *model.CheckinInput) (*model.Checkin, error)
	checkOutFunc    func(ctx context.Context, userID string) error
	listCurrentFunc func(ctx context.Context, placeID string, limit int) ([]*model.Checkin, error)
}

func (m *mockCheckinService) CheckIn(ctx context.Context, userID string, input *model.CheckinInput) (*model.Checkin, error) {
	if m.checkInFunc != nil {
		return m.checkInFunc(ctx, userID, input)
	}
	return &model.Checkin{}, nil
}

func (m *mockCheckinService) CheckOut(ctx context.Context, userID string) error {
	if m.checkOutFunc != nil {
		return m.checkOutFunc(ctx, userID)
	}
	return nil
}

func (m *mockCheckinService) ListCurrent(ctx context.Context, placeID string, limit int) ([]*model.Checkin, error) {
	if m.listCurrentFunc != nil {
		return m.listCurrentFunc(ctx, placeID, limit)
	}
	return []*model.Checkin{}, nil
}

func (m *mockCheckinService) GetCurrent(ctx context.Context, userID string, placeID string) (*model.Checkin, error) {
	return nil, apperrors.NotFound("Checkin")
}

func serve(svc *mockCheckinService, method, path, body, userID string) *httptest.ResponseRecorder {
	router := httprouter.New()
	NewCheckinHandler(svc, identity.ContextProvider{}, logger.Discard()).RegisterRoutes(router)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req = req.WithContext(identity.WithUserID(req.Context(), userID))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCheckIn_Created(t *testing.T) {
	var gotUser string
	var gotInput model.CheckinInput
	svc := &mockCheckinService{
		checkInFunc: func(ctx context.Context, userID string, input *model.CheckinInput) (*model.Checkin, error) {
			gotUser, gotInput = userID, *input
			return &model.Checkin{ID: "c1", UserID: userID, PlaceID: input.PlaceID, Status: input.Status, IsActive: true}, nil
		},
	}

	w := serve(svc, http.MethodPost, "/api/v1/checkins", `{"place_id":"p","status":"available","topic":"coffee"}`, "u1")

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if gotUser != "u1" || gotInput.PlaceID != "p" || gotInput.Status != model.CheckinStatusAvailable {
		t.Errorf("unexpected call user=%s input=%+v", gotUser, gotInput)
	}
	if gotInput.Topic == nil || *gotInput.Topic != "coffee" {
		t.Errorf("expected topic coffee, got %v", gotInput.Topic)
	}
}

func TestCheckIn_Unauthenticated(t *testing.T) {
	svc := &mockCheckinService{
		checkInFunc: func(context.Context, string, *model.CheckinInput) (*model.Checkin, error) {
			t.Error("service should not be called")
			return nil, nil
		},
	}

	w := serve(svc, http.MethodPost, "/api/v1/checkins", `{"place_id":"p","status":"available"}`, "")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCheckOut_NoContent(t *testing.T) {
	called := false
	svc := &mockCheckinService{
		checkOutFunc: func(ctx context.Context, userID string) error {
			called = userID == "u1"
			return nil
		},
	}

	w := serve(svc, http.MethodDelete, "/api/v1/checkins/current", "", "u1")

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if !called {
		t.Error("expected CheckOut for u1")
	}
}

func TestListCurrent_DefaultLimit(t *testing.T) {
	var gotPlace string
	var gotLimit int
	svc := &mockCheckinService{
		listCurrentFunc: func(ctx context.Context, placeID string, limit int) ([]*model.Checkin, error) {
			gotPlace, gotLimit = placeID, limit
			return []*model.Checkin{{ID: "c1"}}, nil
		},
	}

	w := serve(svc, http.MethodGet, "/api/v1/places/cafe-7/checkins", "", "u1")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotPlace != "cafe-7" || gotLimit != config.DefaultPaginationLimit {
		t.Errorf("unexpected call place=%s limit=%d", gotPlace, gotLimit)
	}
	var body struct {
		Data []model.Checkin `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].ID != "c1" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestListCurrent_RateLimited(t *testing.T) {
	svc := &mockCheckinService{
		listCurrentFunc: func(context.Context, string, int) ([]*model.Checkin, error) {
			return nil, apperrors.RateLimited(0)
		},
	}

	w := serve(svc, http.MethodGet, "/api/v1/places/p/checkins", "", "u1")

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}
