// Package realtime keeps a client-side view of one place in sync with the
// proximity API: a snapshot after every subscribe, then change events
// reconciled into it. Events may repeat and arrive out of order, so inserts
// are add-if-absent, updates replace the whole entity and deletes need only
// the id. The user's own actions show up immediately as optimistic entries
// that the matching authoritative entity later supersedes.
//
// All state is owned by one loop goroutine. Callbacks in Options run on it
// and must not block.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"herenow/pkg/logger"
	"herenow/pkg/model"
	"herenow/pkg/sanitizer"
	"herenow/pkg/validation"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrClosed           = errors.New("realtime: client closed")
	errSubscribeTimeout = errors.New("realtime: no subscribed frame before timeout")
)

type Options struct {
	UserID  string
	PlaceID string
	API     API
	Dial    Dialer
	Log     *logger.Logger

	SubscribeTimeout  time.Duration
	SnapshotTimeout   time.Duration
	OptimisticTimeout time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration

	OnStateChange     func(State)
	OnChange          func()
	OnDeliveryFailure func(DeliveryFailure)
}

const (
	DefaultSubscribeTimeout  = 10 * time.Second
	DefaultSnapshotTimeout   = 10 * time.Second
	DefaultOptimisticTimeout = 15 * time.Second
	DefaultInitialBackoff    = 500 * time.Millisecond
	DefaultMaxBackoff        = 30 * time.Second
)

type Client struct {
	opts     Options
	log      *logger.Logger
	validate *validator.Validate

	ctx       context.Context
	cancel    context.CancelFunc
	inbox     chan func()
	done      chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once
	state     atomic.Int32

	// Owned by the loop goroutine.
	store          *store
	echoes         echoes
	conn           Conn
	gen            int
	backoff        backoff.BackOff
	retry          *time.Timer
	subscribeTimer *time.Timer
	// Events that arrive while a snapshot is in flight are held back and
	// applied on top of it.
	snapshotting bool
	held         []*model.ChangeEvent
}

// New validates opts and starts connecting in the background.
func New(opts Options) (*Client, error) {
	if opts.UserID == "" || opts.PlaceID == "" {
		return nil, errors.New("realtime: user and place are required")
	}
	if opts.API == nil || opts.Dial == nil {
		return nil, errors.New("realtime: api and dialer are required")
	}
	if opts.Log == nil {
		opts.Log = logger.Discard()
	}
	opts.SubscribeTimeout = orDefault(opts.SubscribeTimeout, DefaultSubscribeTimeout)
	opts.SnapshotTimeout = orDefault(opts.SnapshotTimeout, DefaultSnapshotTimeout)
	opts.OptimisticTimeout = orDefault(opts.OptimisticTimeout, DefaultOptimisticTimeout)
	opts.InitialBackoff = orDefault(opts.InitialBackoff, DefaultInitialBackoff)
	opts.MaxBackoff = orDefault(opts.MaxBackoff, DefaultMaxBackoff)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialBackoff
	b.MaxInterval = opts.MaxBackoff
	b.MaxElapsedTime = 0

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:     opts,
		log:      opts.Log.Component("realtime-client"),
		validate: validation.New(),
		ctx:      ctx,
		cancel:   cancel,
		inbox:    make(chan func(), 64),
		done:     make(chan struct{}),
		store:    newStore(),
		backoff:  b,
	}
	c.state.Store(int32(StateConnecting))

	go c.loop()
	return c, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func (c *Client) State() State {
	return State(c.state.Load())
}

// Degraded is true until the server has confirmed the subscription and the
// snapshot is loaded.
func (c *Client) Degraded() bool {
	return c.State() != StateSubscribed
}

// Snapshot returns a copy of the current view.
func (c *Client) Snapshot(ctx context.Context) (View, error) {
	var v View
	err := c.run(ctx, func() { v = c.store.view() })
	return v, err
}

// Close tears the subscription down. No event is applied once Close has
// been called, and the connection is released before Close returns.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.cancel()
		<-c.done
	})
	return nil
}

// ──────────────────────────────────────────────────────────────
// Loop plumbing
// ──────────────────────────────────────────────────────────────

func (c *Client) loop() {
	defer close(c.done)

	c.connect()
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.ctx.Done():
			c.teardown()
			return
		}
	}
}

// post queues fn for the loop. It reports false once the loop has exited.
func (c *Client) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

// run executes fn on the loop and waits for it.
func (c *Client) run(ctx context.Context, fn func()) error {
	if c.closing.Load() {
		return ErrClosed
	}
	finished := make(chan struct{})
	if !c.post(func() { fn(); close(finished) }) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.log.Debug("Realtime state changed", "state", s.String(), "place_id", c.opts.PlaceID)
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

func (c *Client) changed() {
	if c.opts.OnChange != nil {
		c.opts.OnChange()
	}
}

// ──────────────────────────────────────────────────────────────
// Connection state machine
// ──────────────────────────────────────────────────────────────

func (c *Client) connect() {
	if c.closing.Load() {
		return
	}
	c.gen++
	gen := c.gen
	c.setState(StateConnecting)

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.SubscribeTimeout)
		defer cancel()

		conn, err := c.opts.Dial(ctx, c.opts.PlaceID)
		delivered := c.post(func() { c.dialed(gen, conn, err) })
		if !delivered && conn != nil {
			conn.Close()
		}
	}()
}

func (c *Client) dialed(gen int, conn Conn, err error) {
	if gen != c.gen || c.closing.Load() {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.fail(StateError, err)
		return
	}

	c.conn = conn
	c.subscribeTimer = time.AfterFunc(c.opts.SubscribeTimeout, func() {
		c.post(func() {
			if gen == c.gen && c.State() == StateConnecting {
				c.fail(StateTimedOut, errSubscribeTimeout)
			}
		})
	})
	go c.read(gen, conn)
}

func (c *Client) read(gen int, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.post(func() {
				if gen == c.gen {
					c.fail(StateError, err)
				}
			})
			return
		}
		if !c.post(func() {
			if gen == c.gen {
				c.handleFrame(data)
			}
		}) {
			return
		}
	}
}

// fail drops the connection, enters state and schedules a reconnect.
func (c *Client) fail(state State, err error) {
	if c.closing.Load() {
		return
	}
	c.dropConn()
	c.setState(state)

	wait := c.backoff.NextBackOff()
	c.log.Warn("Realtime subscription lost", "state", state.String(), "retry_in", wait, "error", err)
	c.retry = time.AfterFunc(wait, func() { c.post(c.connect) })
}

// dropConn also bumps the generation so the old reader, timers and
// snapshot fetches are ignored from here on.
func (c *Client) dropConn() {
	c.gen++
	c.snapshotting = false
	c.held = nil
	if c.subscribeTimer != nil {
		c.subscribeTimer.Stop()
		c.subscribeTimer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) teardown() {
	c.dropConn()
	if c.retry != nil {
		c.retry.Stop()
	}
	c.echoes.stopAll()
	c.setState(StateClosed)
}

func (c *Client) subscribed() {
	if c.subscribeTimer != nil {
		c.subscribeTimer.Stop()
	}
	c.backoff.Reset()
	c.snapshotting = true

	gen := c.gen
	go func() {
		snap, err := c.fetchSnapshot()
		c.post(func() {
			if gen != c.gen || c.closing.Load() {
				return
			}
			if err != nil {
				c.fail(StateError, fmt.Errorf("snapshot: %w", err))
				return
			}
			c.applySnapshot(snap)
			c.snapshotting = false
			held := c.held
			c.held = nil
			changed := false
			for _, e := range held {
				changed = c.applyEvent(e) || changed
			}
			c.setState(StateSubscribed)
			if changed {
				c.changed()
			}
		})
	}()
}

// ──────────────────────────────────────────────────────────────
// Snapshot
// ──────────────────────────────────────────────────────────────

type snapshot struct {
	checkins []model.Checkin
	requests []model.MessageRequest
	sessions []model.MessageSession
	messages []model.Message
}

func (c *Client) fetchSnapshot() (snapshot, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.SnapshotTimeout)
	defer cancel()

	var s snapshot
	var err error
	if s.checkins, err = c.opts.API.ListCheckins(ctx, c.opts.PlaceID); err != nil {
		return s, err
	}
	if s.requests, err = c.opts.API.ListRequests(ctx, c.opts.PlaceID); err != nil {
		return s, err
	}
	if s.sessions, err = c.opts.API.ListSessions(ctx, c.opts.PlaceID); err != nil {
		return s, err
	}
	for _, session := range s.sessions {
		if session.Status != model.SessionStatusActive {
			continue
		}
		messages, err := c.opts.API.ListMessages(ctx, session.ID)
		if err != nil {
			return s, err
		}
		s.messages = append(s.messages, messages...)
	}
	return s, nil
}

func (c *Client) applySnapshot(s snapshot) {
	c.store.checkins.reset(s.checkins)
	c.store.requests.reset(s.requests)
	c.store.sessions.reset(s.sessions)
	c.store.messages.reset(s.messages)

	// Actions confirmed while the subscription was down.
	for i := range s.requests {
		c.confirm(model.TableMessageRequests, requestKey(&s.requests[i]), s.requests[i].CreatedAt)
	}
	for i := range s.messages {
		c.confirm(model.TableMessages, messageKey(&s.messages[i]), s.messages[i].CreatedAt)
	}

	c.log.Debug("Realtime snapshot applied",
		"checkins", len(s.checkins),
		"requests", len(s.requests),
		"sessions", len(s.sessions),
		"messages", len(s.messages),
	)
	c.changed()
}

// ──────────────────────────────────────────────────────────────
// Reconciliation
// ──────────────────────────────────────────────────────────────

func (c *Client) handleFrame(data []byte) {
	if c.closing.Load() {
		return
	}

	var frame model.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.log.Warn("Malformed realtime frame dropped", "error", err)
		return
	}

	switch frame.Type {
	case model.FrameSubscribed:
		c.subscribed()
	case model.FrameEvent:
		if frame.Event == nil {
			c.log.Warn("Event frame without event dropped")
			return
		}
		if c.snapshotting {
			c.held = append(c.held, frame.Event)
			return
		}
		if c.applyEvent(frame.Event) {
			c.changed()
		}
	case model.FrameError:
		c.fail(StateError, fmt.Errorf("server closed subscription: %s: %s", frame.Code, frame.Message))
	default:
		c.log.Debug("Unknown realtime frame ignored", "type", frame.Type)
	}
}

// applyEvent reports whether the view changed.
func (c *Client) applyEvent(e *model.ChangeEvent) bool {
	if c.closing.Load() {
		return false
	}
	if err := validation.Struct(c.validate, e); err != nil {
		c.log.Warn("Invalid change event dropped", "event_id", e.EventID, "error", err)
		return false
	}

	if e.Type == model.EventDelete {
		return c.store.remove(e.Table, e.DocumentID)
	}

	switch e.Table {
	case model.TableCheckins:
		v, ok := decodeRecord(c, e, func(v *model.Checkin) string { return v.ID })
		return ok && c.inScope(e, v.PlaceID) && apply(c.store.checkins, e.Type, v)

	case model.TableMessageRequests:
		v, ok := decodeRecord(c, e, func(v *model.MessageRequest) string { return v.ID })
		if !ok || !c.inScope(e, v.PlaceID, v.InitiatorID, v.InitiateeID) {
			return false
		}
		changed := apply(c.store.requests, e.Type, v)
		if e.Type != model.EventInsert {
			return changed
		}
		return c.confirm(model.TableMessageRequests, requestKey(&v), v.CreatedAt) || changed

	case model.TableMessageSessions:
		v, ok := decodeRecord(c, e, func(v *model.MessageSession) string { return v.ID })
		return ok && c.inScope(e, v.PlaceID, v.InitiatorID, v.InitiateeID) && apply(c.store.sessions, e.Type, v)

	case model.TableMessages:
		v, ok := decodeRecord(c, e, func(v *model.Message) string { return v.ID })
		if !ok || !c.inScope(e, v.PlaceID, v.SenderID, v.RecipientID) {
			return false
		}
		changed := apply(c.store.messages, e.Type, v)
		if e.Type != model.EventInsert {
			return changed
		}
		return c.confirm(model.TableMessages, messageKey(&v), v.CreatedAt) || changed
	}
	return false
}

// inScope drops records from another place, and records of conversations
// the user is not part of when participants are given.
func (c *Client) inScope(e *model.ChangeEvent, placeID string, participants ...string) bool {
	if placeID == c.opts.PlaceID && (len(participants) == 0 || slices.Contains(participants, c.opts.UserID)) {
		return true
	}
	c.log.Warn("Out of scope change event dropped", "event_id", e.EventID, "table", e.Table, "document_id", e.DocumentID, "place_id", placeID)
	return false
}

// decodeRecord parses and validates the event's record into T. Anything
// that is not a complete entity for the event's document is dropped.
func decodeRecord[T any](c *Client, e *model.ChangeEvent, id func(*T) string) (T, bool) {
	var v T
	if err := json.Unmarshal(e.Record, &v); err != nil {
		c.log.Warn("Undecodable change record dropped", "event_id", e.EventID, "table", e.Table, "error", err)
		return v, false
	}
	if err := validation.Struct(c.validate, &v); err != nil {
		c.log.Warn("Incomplete change record dropped", "event_id", e.EventID, "table", e.Table, "error", err)
		return v, false
	}
	if id(&v) != e.DocumentID {
		c.log.Warn("Change record does not match its document id", "event_id", e.EventID, "document_id", e.DocumentID)
		return v, false
	}
	return v, true
}

func apply[T any](col *collection[T], eventType string, v T) bool {
	if eventType == model.EventInsert {
		return col.insert(v)
	}
	col.replace(v)
	return true
}

// confirm removes the optimistic entry an authoritative entity stands for.
// Entities older than an echo by more than the optimistic timeout are
// earlier identical actions and confirm nothing.
func (c *Client) confirm(table, key string, createdAt time.Time) bool {
	x := c.echoes.take(table, key, createdAt.Add(c.opts.OptimisticTimeout))
	if x == nil {
		return false
	}
	c.store.remove(table, x.tempID)
	return true
}

// ──────────────────────────────────────────────────────────────
// Optimistic actions
// ──────────────────────────────────────────────────────────────

func (c *Client) addEcho(table, tempID, key string) {
	x := &echo{tempID: tempID, table: table, key: key, createdAt: time.Now()}
	x.timer = time.AfterFunc(c.opts.OptimisticTimeout, func() {
		c.post(func() { c.expire(tempID) })
	})
	c.echoes.add(x)
}

func (c *Client) expire(tempID string) {
	x := c.echoes.takeByTempID(tempID)
	if x == nil {
		return
	}
	c.store.remove(x.table, tempID)
	c.changed()

	c.log.Warn("Optimistic entry expired unconfirmed", "temp_id", tempID, "table", x.table)
	if c.opts.OnDeliveryFailure != nil {
		c.opts.OnDeliveryFailure(DeliveryFailure{TempID: tempID, Table: x.table, Err: ErrDeliveryTimeout})
	}
}

// withdraw drops an optimistic entry whose action the server rejected.
func (c *Client) withdraw(tempID string) {
	if x := c.echoes.takeByTempID(tempID); x != nil {
		c.store.remove(x.table, tempID)
		c.changed()
	}
}

// SendMessage shows the message at once and sends it. The returned error is
// the API's; on error the optimistic entry is withdrawn.
func (c *Client) SendMessage(ctx context.Context, sessionID, content string) (*model.Message, error) {
	temp := model.Message{
		ID:        tempIDPrefix + uuid.New().String(),
		SessionID: sessionID,
		SenderID:  c.opts.UserID,
		PlaceID:   c.opts.PlaceID,
		Content:   sanitizer.NormalizeContent(content),
		CreatedAt: time.Now(),
	}
	if err := c.run(ctx, func() {
		c.addEcho(model.TableMessages, temp.ID, messageKey(&temp))
		c.store.messages.insert(temp)
		c.changed()
	}); err != nil {
		return nil, err
	}

	msg, err := c.opts.API.SendMessage(ctx, sessionID, content)
	c.post(func() {
		if err != nil {
			c.withdraw(temp.ID)
			return
		}
		if c.closing.Load() {
			return
		}
		c.store.messages.insert(*msg)
		c.withdraw(temp.ID)
		c.changed()
	})
	return msg, err
}

// CreateRequest shows a pending request to initiateeID at once and creates
// it. On error the optimistic entry is withdrawn.
func (c *Client) CreateRequest(ctx context.Context, initiateeID string) (*model.MessageRequest, error) {
	temp := model.MessageRequest{
		ID:          tempIDPrefix + uuid.New().String(),
		InitiatorID: c.opts.UserID,
		InitiateeID: initiateeID,
		PlaceID:     c.opts.PlaceID,
		Status:      model.RequestStatusPending,
		CreatedAt:   time.Now(),
	}
	if err := c.run(ctx, func() {
		c.addEcho(model.TableMessageRequests, temp.ID, requestKey(&temp))
		c.store.requests.insert(temp)
		c.changed()
	}); err != nil {
		return nil, err
	}

	req, err := c.opts.API.CreateRequest(ctx, initiateeID, c.opts.PlaceID)
	c.post(func() {
		if err != nil {
			c.withdraw(temp.ID)
			return
		}
		if c.closing.Load() {
			return
		}
		c.store.requests.insert(*req)
		c.withdraw(temp.ID)
		c.changed()
	})
	return req, err
}
