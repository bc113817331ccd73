package realtime

import (
	"net/http"
	"slices"
	"time"

	"herenow/pkg/config"
	apperrors "herenow/pkg/errors"
	httputil "herenow/pkg/http"
	"herenow/pkg/identity"
	"herenow/pkg/logger"
	"herenow/pkg/model"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 4096
)

// Gateway upgrades authenticated clients to websockets and streams the
// events of their subscription. The connection is server-push only;
// inbound frames are read for liveness and throttled.
type Gateway struct {
	hub        *Hub
	identity   identity.Provider
	upgrader   websocket.Upgrader
	pingPeriod time.Duration
	frameRate  int
	log        *logger.Logger
}

func NewGateway(hub *Hub, identity identity.Provider, cfg *config.Config, log *logger.Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		identity: identity,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.CORSAllowedOrigins),
		},
		pingPeriod: cfg.RealtimePingPeriod,
		frameRate:  cfg.RealtimeFrameRate,
		log:        log,
	}
}

func (g *Gateway) RegisterRoutes(router *httprouter.Router) {
	router.GET("/api/v1/realtime", g.Subscribe)
}

func (g *Gateway) Subscribe(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, err := g.identity.UserID(r.Context())
	if err != nil {
		_ = httputil.WriteError(w, err)
		return
	}

	placeID := r.URL.Query().Get("place_id")
	if placeID == "" {
		_ = httputil.WriteError(w, apperrors.Validation("place_id is required", nil))
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		g.log.Warn("Websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	defer conn.Close()

	sub := g.hub.Subscribe(Scope{UserID: userID, PlaceID: placeID})
	defer sub.Close()

	done := make(chan struct{})
	go g.readLoop(conn, sub, done)
	g.writeLoop(conn, sub, done)
}

// readLoop discards inbound frames, keeps the read deadline fresh on pongs
// and ends the connection when the client floods it.
func (g *Gateway) readLoop(conn *websocket.Conn, sub *Subscription, done chan<- struct{}) {
	defer close(done)

	limiter := rate.NewLimiter(rate.Limit(g.frameRate), g.frameRate)
	pongWait := 2 * g.pingPeriod

	conn.SetReadLimit(maxInboundSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.Debug("Websocket read ended", "subscription_id", sub.ID, "error", err)
			}
			return
		}
		if !limiter.Allow() {
			g.log.Warn("Websocket client exceeded inbound frame rate", "subscription_id", sub.ID, "user_id", sub.Scope.UserID)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many frames"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (g *Gateway) writeLoop(conn *websocket.Conn, sub *Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(g.pingPeriod)
	defer ticker.Stop()

	if err := g.writeFrame(conn, model.Frame{Type: model.FrameSubscribed, PlaceID: sub.Scope.PlaceID}); err != nil {
		return
	}

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				_ = g.writeFrame(conn, model.Frame{
					Type:    model.FrameError,
					Code:    apperrors.CodeUnavailable,
					Message: "Subscription dropped, reconnect to resume",
				})
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscription dropped"),
					time.Now().Add(writeWait))
				return
			}
			if err := g.writeFrame(conn, model.Frame{Type: model.FrameEvent, Event: &event}); err != nil {
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

func (g *Gateway) writeFrame(conn *websocket.Conn, frame model.Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		g.log.Debug("Websocket write failed", "frame", frame.Type, "error", err)
		return err
	}
	return nil
}

// originChecker mirrors the CORS allow-list. Non-browser clients send no
// Origin and are allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}
