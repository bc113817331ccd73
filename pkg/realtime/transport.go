package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"herenow/pkg/client"
	"herenow/pkg/config"
	"herenow/pkg/model"

	"github.com/gorilla/websocket"
)

// Conn is one realtime connection. ReadMessage blocks for the next frame.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

type Dialer func(ctx context.Context, placeID string) (Conn, error)

type wsConn struct {
	*websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.Conn.ReadMessage()
	return data, err
}

// WebsocketDialer connects to the realtime endpoint of the API at baseURL.
// Pings from the server are answered by the websocket library while reads
// are in progress.
func WebsocketDialer(baseURL string, token func() string) Dialer {
	return func(ctx context.Context, placeID string) (Conn, error) {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		default:
			u.Scheme = "ws"
		}
		u.Path = "/api/v1/realtime"
		u.RawQuery = url.Values{"place_id": {placeID}}.Encode()

		header := http.Header{}
		if token != nil {
			if t := token(); t != "" {
				header.Set("Authorization", "Bearer "+t)
			}
		}

		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("realtime handshake failed with %s: %w", resp.Status, err)
			}
			return nil, err
		}
		return &wsConn{Conn: conn}, nil
	}
}

// API is the request/response side the client needs: snapshots after each
// subscribe and the two actions that get optimistic entries.
type API interface {
	ListCheckins(ctx context.Context, placeID string) ([]model.Checkin, error)
	ListRequests(ctx context.Context, placeID string) ([]model.MessageRequest, error)
	ListSessions(ctx context.Context, placeID string) ([]model.MessageSession, error)
	ListMessages(ctx context.Context, sessionID string) ([]model.Message, error)
	SendMessage(ctx context.Context, sessionID, content string) (*model.Message, error)
	CreateRequest(ctx context.Context, initiateeID, placeID string) (*model.MessageRequest, error)
}

type HTTPAPI struct {
	client *client.HttpClient
}

func NewHTTPAPI(c *client.HttpClient) *HTTPAPI {
	return &HTTPAPI{client: c}
}

var listQuery = url.Values{"limit": {strconv.Itoa(config.MaxPaginationLimit)}}

func (a *HTTPAPI) ListCheckins(ctx context.Context, placeID string) ([]model.Checkin, error) {
	var out []model.Checkin
	err := a.client.Get(ctx, "/api/v1/places/"+url.PathEscape(placeID)+"/checkins", listQuery, &out)
	return out, err
}

func (a *HTTPAPI) ListRequests(ctx context.Context, placeID string) ([]model.MessageRequest, error) {
	var out []model.MessageRequest
	err := a.client.Get(ctx, "/api/v1/places/"+url.PathEscape(placeID)+"/message-requests", listQuery, &out)
	return out, err
}

func (a *HTTPAPI) ListSessions(ctx context.Context, placeID string) ([]model.MessageSession, error) {
	var out []model.MessageSession
	err := a.client.Get(ctx, "/api/v1/places/"+url.PathEscape(placeID)+"/sessions", listQuery, &out)
	return out, err
}

func (a *HTTPAPI) ListMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	var out []model.Message
	err := a.client.Get(ctx, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/messages", listQuery, &out)
	return out, err
}

func (a *HTTPAPI) SendMessage(ctx context.Context, sessionID, content string) (*model.Message, error) {
	var out model.Message
	if err := a.client.Post(ctx, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/messages", model.MessageInput{Content: content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) CreateRequest(ctx context.Context, initiateeID, placeID string) (*model.MessageRequest, error) {
	var out model.MessageRequest
	input := model.MessageRequestInput{InitiateeID: initiateeID, PlaceID: placeID}
	if err := a.client.Post(ctx, "/api/v1/message-requests", input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
