package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "herenow/pkg/errors"
	"herenow/pkg/model"

	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────
// Fakes
// ──────────────────────────────────────────────────────────────

type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) send(t *testing.T, frame model.Frame) {
	t.Helper()
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	c.frames <- raw
}

func (c *fakeConn) subscribe(t *testing.T) {
	c.send(t, model.Frame{Type: model.FrameSubscribed, PlaceID: "place-1"})
}

func (c *fakeConn) event(t *testing.T, e *model.ChangeEvent) {
	c.send(t, model.Frame{Type: model.FrameEvent, Event: e})
}

type dialResult struct {
	conn *fakeConn
	err  error
}

// fakeDialer hands out queued results, blocking until one is queued.
type fakeDialer struct {
	results chan dialResult
	dials   atomic.Int32
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{results: make(chan dialResult, 8)}
}

func (d *fakeDialer) dial(ctx context.Context, placeID string) (Conn, error) {
	d.dials.Add(1)
	select {
	case r := <-d.results:
		if r.err != nil {
			return nil, r.err
		}
		return r.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) next() *fakeConn {
	conn := newFakeConn()
	d.results <- dialResult{conn: conn}
	return conn
}

type fakeAPI struct {
	mu        sync.Mutex
	checkins  []model.Checkin
	snapshots atomic.Int32
	// gate, when set, holds ListCheckins until it is closed.
	gate chan struct{}

	sendMessage   func(ctx context.Context, sessionID, content string) (*model.Message, error)
	createRequest func(ctx context.Context, initiateeID, placeID string) (*model.MessageRequest, error)
}

func (a *fakeAPI) setCheckins(c ...model.Checkin) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkins = c
}

func (a *fakeAPI) ListCheckins(ctx context.Context, placeID string) ([]model.Checkin, error) {
	a.snapshots.Add(1)
	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.Checkin(nil), a.checkins...), nil
}

func (a *fakeAPI) ListRequests(ctx context.Context, placeID string) ([]model.MessageRequest, error) {
	return nil, nil
}

func (a *fakeAPI) ListSessions(ctx context.Context, placeID string) ([]model.MessageSession, error) {
	return nil, nil
}

func (a *fakeAPI) ListMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	return nil, nil
}

func (a *fakeAPI) SendMessage(ctx context.Context, sessionID, content string) (*model.Message, error) {
	return a.sendMessage(ctx, sessionID, content)
}

func (a *fakeAPI) CreateRequest(ctx context.Context, initiateeID, placeID string) (*model.MessageRequest, error) {
	return a.createRequest(ctx, initiateeID, placeID)
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) seen(s State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.states {
		if got == s {
			return true
		}
	}
	return false
}

func newTestClient(t *testing.T, api API, d *fakeDialer, tweak func(*Options)) (*Client, *stateLog) {
	t.Helper()
	states := &stateLog{}
	opts := Options{
		UserID:            "u1",
		PlaceID:           "place-1",
		API:               api,
		Dial:              d.dial,
		SubscribeTimeout:  time.Second,
		OptimisticTimeout: time.Second,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		OnStateChange:     states.record,
	}
	if tweak != nil {
		tweak(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, states
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func view(t *testing.T, c *Client) View {
	t.Helper()
	v, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return v
}

// ──────────────────────────────────────────────────────────────
// Connection lifecycle
// ──────────────────────────────────────────────────────────────

func TestNew_RequiresCollaborators(t *testing.T) {
	d := newFakeDialer()
	if _, err := New(Options{PlaceID: "p", API: &fakeAPI{}, Dial: d.dial}); err == nil {
		t.Error("missing user should be rejected")
	}
	if _, err := New(Options{UserID: "u", PlaceID: "p", Dial: d.dial}); err == nil {
		t.Error("missing api should be rejected")
	}
}

func TestClient_SubscribeLoadsSnapshot(t *testing.T) {
	api := &fakeAPI{}
	api.setCheckins(newCheckin("u2"))
	d := newFakeDialer()
	c, _ := newTestClient(t, api, d, nil)

	if !c.Degraded() {
		t.Error("client should be degraded before the subscription is confirmed")
	}

	conn := d.next()
	conn.subscribe(t)

	eventually(t, "subscribed", func() bool { return c.State() == StateSubscribed })
	eventually(t, "snapshot applied", func() bool { return len(view(t, c).Checkins) == 1 })
	if c.Degraded() {
		t.Error("subscribed client should not be degraded")
	}
}

func TestClient_AppliesEventFrames(t *testing.T) {
	api := &fakeAPI{}
	d := newFakeDialer()
	var changes atomic.Int32
	c, _ := newTestClient(t, api, d, func(o *Options) { o.OnChange = func() { changes.Add(1) } })

	conn := d.next()
	conn.subscribe(t)
	eventually(t, "snapshot applied", func() bool { return changes.Load() == 1 })

	checkin := newCheckin("u2")
	insert := changeEvent(t, model.TableCheckins, model.EventInsert, checkin.ID, checkin)
	conn.event(t, insert)
	conn.event(t, insert)
	conn.send(t, model.Frame{Type: model.FrameEvent})
	conn.frames <- []byte("{not json")

	second := newCheckin("u3")
	conn.event(t, changeEvent(t, model.TableCheckins, model.EventInsert, second.ID, second))

	eventually(t, "both checkins", func() bool { return len(view(t, c).Checkins) == 2 })
	if c.State() != StateSubscribed {
		t.Errorf("state = %s, malformed frames must not break the subscription", c.State())
	}
	if n := changes.Load(); n != 3 {
		t.Errorf("OnChange calls = %d, want 3 (snapshot and two distinct inserts)", n)
	}
}

func TestClient_EventsDuringSnapshotSurviveIt(t *testing.T) {
	api := &fakeAPI{gate: make(chan struct{})}
	d := newFakeDialer()
	c, _ := newTestClient(t, api, d, nil)

	conn := d.next()
	conn.subscribe(t)
	eventually(t, "snapshot requested", func() bool { return api.snapshots.Load() == 1 })

	if !c.Degraded() {
		t.Error("client must stay degraded until the snapshot is loaded")
	}

	// Written after the snapshot was read, so the snapshot does not have it.
	late := newCheckin("u2")
	conn.event(t, changeEvent(t, model.TableCheckins, model.EventInsert, late.ID, late))
	time.Sleep(20 * time.Millisecond)
	close(api.gate)

	eventually(t, "held event applied over snapshot", func() bool {
		v := view(t, c)
		return len(v.Checkins) == 1 && v.Checkins[0].ID == late.ID
	})
	if c.State() != StateSubscribed {
		t.Errorf("state = %s, want subscribed once the snapshot is in", c.State())
	}
}

func TestClient_ReconnectsAfterReadError(t *testing.T) {
	api := &fakeAPI{}
	d := newFakeDialer()
	c, states := newTestClient(t, api, d, nil)

	first := d.next()
	first.subscribe(t)
	eventually(t, "first snapshot", func() bool { return api.snapshots.Load() == 1 })

	checkin := newCheckin("u2")
	api.setCheckins(checkin)
	close(first.frames)

	eventually(t, "error state", func() bool { return states.seen(StateError) })
	if !c.Degraded() {
		t.Error("client should report degraded while reconnecting")
	}

	second := d.next()
	second.subscribe(t)

	eventually(t, "snapshot refetched", func() bool { return api.snapshots.Load() == 2 })
	eventually(t, "missed checkin present", func() bool { return len(view(t, c).Checkins) == 1 })
	if !first.isClosed() {
		t.Error("old connection should be closed")
	}
}

func TestClient_DialFailureRetries(t *testing.T) {
	api := &fakeAPI{}
	d := newFakeDialer()
	d.results <- dialResult{err: errors.New("connection refused")}
	c, states := newTestClient(t, api, d, nil)

	eventually(t, "error state", func() bool { return states.seen(StateError) })

	conn := d.next()
	conn.subscribe(t)
	eventually(t, "subscribed", func() bool { return c.State() == StateSubscribed })
	if d.dials.Load() < 2 {
		t.Errorf("dials = %d, want a retry", d.dials.Load())
	}
}

func TestClient_SubscribeTimeout(t *testing.T) {
	api := &fakeAPI{}
	d := newFakeDialer()
	_, states := newTestClient(t, api, d, func(o *Options) { o.SubscribeTimeout = 30 * time.Millisecond })

	silent := d.next()
	eventually(t, "timed out", func() bool { return states.seen(StateTimedOut) })
	eventually(t, "silent conn closed", silent.isClosed)
}

func TestClient_ServerErrorFrameReconnects(t *testing.T) {
	api := &fakeAPI{}
	d := newFakeDialer()
	c, states := newTestClient(t, api, d, nil)

	conn := d.next()
	conn.subscribe(t)
	eventually(t, "subscribed", func() bool { return c.State() == StateSubscribed })

	conn.send(t, model.Frame{Type: model.FrameError, Code: apperrors.CodeUnavailable, Message: "dropped"})
	eventually(t, "error state", func() bool { return states.seen(StateError) })
	eventually(t, "conn closed", conn.isClosed)

	d.next().subscribe(t)
	eventually(t, "resubscribed", func() bool { return c.State() == StateSubscribed })
}

func TestClient_Close(t *testing.T) {
	api := &fakeAPI{}
	d := newFakeDialer()
	c, _ := newTestClient(t, api, d, nil)

	conn := d.next()
	conn.subscribe(t)
	eventually(t, "subscribed", func() bool { return c.State() == StateSubscribed })

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.State() != StateClosed {
		t.Errorf("state = %s, want closed", c.State())
	}
	if !conn.isClosed() {
		t.Error("connection should be released by Close")
	}
	if _, err := c.Snapshot(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Snapshot() error = %v, want ErrClosed", err)
	}
	if _, err := c.SendMessage(context.Background(), uuid.NewString(), "hi"); !errors.Is(err, ErrClosed) {
		t.Errorf("SendMessage() error = %v, want ErrClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

// ──────────────────────────────────────────────────────────────
// Optimistic actions
// ──────────────────────────────────────────────────────────────

func subscribedClient(t *testing.T, api *fakeAPI, tweak func(*Options)) (*Client, *fakeConn) {
	t.Helper()
	d := newFakeDialer()
	c, _ := newTestClient(t, api, d, tweak)
	conn := d.next()
	conn.subscribe(t)
	eventually(t, "snapshot", func() bool { return api.snapshots.Load() == 1 })
	return c, conn
}

func TestClient_SendMessage_EventBeforeResponse(t *testing.T) {
	sessionID := uuid.NewString()
	sent := newMessage(sessionID, "u1", "hello")
	release := make(chan struct{})
	api := &fakeAPI{
		sendMessage: func(ctx context.Context, _, _ string) (*model.Message, error) {
			<-release
			return &sent, nil
		},
	}
	c, conn := subscribedClient(t, api, nil)

	result := make(chan error, 1)
	go func() {
		_, err := c.SendMessage(context.Background(), sessionID, "hello")
		result <- err
	}()

	eventually(t, "optimistic message", func() bool {
		msgs := view(t, c).Messages
		return len(msgs) == 1 && isTempID(msgs[0].ID)
	})

	conn.event(t, changeEvent(t, model.TableMessages, model.EventInsert, sent.ID, sent))
	eventually(t, "superseded", func() bool {
		msgs := view(t, c).Messages
		return len(msgs) == 1 && msgs[0].ID == sent.ID
	})

	close(release)
	if err := <-result; err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if msgs := view(t, c).Messages; len(msgs) != 1 || msgs[0].ID != sent.ID {
		t.Errorf("messages = %+v, want the sent message exactly once", msgs)
	}
}

func TestClient_SendMessage_ResponseBeforeEvent(t *testing.T) {
	sessionID := uuid.NewString()
	sent := newMessage(sessionID, "u1", "hello")
	api := &fakeAPI{
		sendMessage: func(ctx context.Context, _, _ string) (*model.Message, error) { return &sent, nil },
	}
	c, conn := subscribedClient(t, api, nil)

	if _, err := c.SendMessage(context.Background(), sessionID, "hello"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	conn.event(t, changeEvent(t, model.TableMessages, model.EventInsert, sent.ID, sent))

	marker := newCheckin("u9")
	conn.event(t, changeEvent(t, model.TableCheckins, model.EventInsert, marker.ID, marker))
	eventually(t, "event processed", func() bool { return len(view(t, c).Checkins) == 1 })

	if msgs := view(t, c).Messages; len(msgs) != 1 || msgs[0].ID != sent.ID {
		t.Errorf("messages = %+v, want the sent message exactly once", msgs)
	}
}

func TestClient_SendMessage_RejectedWithdrawsEntry(t *testing.T) {
	api := &fakeAPI{
		sendMessage: func(ctx context.Context, _, _ string) (*model.Message, error) {
			return nil, apperrors.SessionNotActive("session closed")
		},
	}
	c, _ := subscribedClient(t, api, nil)

	_, err := c.SendMessage(context.Background(), uuid.NewString(), "too late")
	if !apperrors.HasCode(err, apperrors.CodeSessionNotActive) {
		t.Fatalf("SendMessage() error = %v, want SESSION_NOT_ACTIVE", err)
	}
	eventually(t, "entry withdrawn", func() bool { return len(view(t, c).Messages) == 0 })
}

func TestClient_OptimisticTimeoutReportsFailure(t *testing.T) {
	release := make(chan struct{})
	failures := make(chan DeliveryFailure, 1)
	api := &fakeAPI{
		sendMessage: func(ctx context.Context, _, _ string) (*model.Message, error) {
			<-release
			return nil, apperrors.Unavailable("API", errors.New("gave up"))
		},
	}
	c, _ := subscribedClient(t, api, func(o *Options) {
		o.OptimisticTimeout = 30 * time.Millisecond
		o.OnDeliveryFailure = func(f DeliveryFailure) { failures <- f }
	})
	defer close(release)

	go c.SendMessage(context.Background(), uuid.NewString(), "anyone?")

	select {
	case f := <-failures:
		if !errors.Is(f.Err, ErrDeliveryTimeout) || f.Table != model.TableMessages || !isTempID(f.TempID) {
			t.Errorf("failure = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery failure reported")
	}
	if msgs := view(t, c).Messages; len(msgs) != 0 {
		t.Errorf("messages = %+v, expired entry should be gone", msgs)
	}
}

func TestClient_CreateRequest_ConfirmedByEvent(t *testing.T) {
	created := model.MessageRequest{
		ID: uuid.NewString(), InitiatorID: "u1", InitiateeID: "u2", PlaceID: "place-1",
		Status: model.RequestStatusPending, CreatedAt: time.Now().UTC(),
	}
	release := make(chan struct{})
	api := &fakeAPI{
		createRequest: func(ctx context.Context, initiateeID, placeID string) (*model.MessageRequest, error) {
			<-release
			return &created, nil
		},
	}
	c, conn := subscribedClient(t, api, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.CreateRequest(context.Background(), "u2")
	}()

	eventually(t, "optimistic request", func() bool { return len(view(t, c).Requests) == 1 })
	conn.event(t, changeEvent(t, model.TableMessageRequests, model.EventInsert, created.ID, created))
	eventually(t, "request confirmed", func() bool {
		reqs := view(t, c).Requests
		return len(reqs) == 1 && reqs[0].ID == created.ID
	})

	close(release)
	<-done
	if reqs := view(t, c).Requests; len(reqs) != 1 {
		t.Errorf("requests = %+v, want exactly one", reqs)
	}
}
