package realtime

import (
	"errors"
	"strings"
	"time"

	"herenow/pkg/model"
	"herenow/pkg/sanitizer"
)

// ErrDeliveryTimeout is reported for optimistic entries that no
// authoritative event confirmed in time.
var ErrDeliveryTimeout = errors.New("realtime: action was not confirmed in time")

// DeliveryFailure reports an optimistic entry that was taken back.
type DeliveryFailure struct {
	TempID string
	Table  string
	Err    error
}

// echo is a locally created entry waiting for the server's version. It is
// matched by what it says and who it involves, never by id.
type echo struct {
	tempID    string
	table     string
	key       string
	createdAt time.Time
	timer     *time.Timer
}

type echoes struct {
	pending []*echo
}

func (e *echoes) add(x *echo) {
	e.pending = append(e.pending, x)
}

// take removes and returns the oldest echo with the given key created no
// later than latest, so repeated identical actions are confirmed in the
// order they were made.
func (e *echoes) take(table, key string, latest time.Time) *echo {
	for i, x := range e.pending {
		if x.table == table && x.key == key && !latest.Before(x.createdAt) {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			x.timer.Stop()
			return x
		}
	}
	return nil
}

func (e *echoes) takeByTempID(tempID string) *echo {
	for i, x := range e.pending {
		if x.tempID == tempID {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			x.timer.Stop()
			return x
		}
	}
	return nil
}

func (e *echoes) stopAll() {
	for _, x := range e.pending {
		x.timer.Stop()
	}
	e.pending = nil
}

func messageKey(m *model.Message) string {
	return strings.Join([]string{m.SessionID, m.SenderID, sanitizer.NormalizeContent(m.Content)}, "\x00")
}

func requestKey(r *model.MessageRequest) string {
	return strings.Join([]string{r.InitiatorID, r.InitiateeID, r.PlaceID}, "\x00")
}
