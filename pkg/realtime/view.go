package realtime

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"herenow/pkg/model"
)

const tempIDPrefix = "tmp-"

func isTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// View is a point-in-time copy of the client's local state, each list
// oldest first.
type View struct {
	Checkins []model.Checkin
	Requests []model.MessageRequest
	Sessions []model.MessageSession
	Messages []model.Message
}

// collection keeps one entity kind keyed by id.
type collection[T any] struct {
	items   map[string]T
	id      func(*T) string
	created func(*T) time.Time
}

func newCollection[T any](id func(*T) string, created func(*T) time.Time) *collection[T] {
	return &collection[T]{items: make(map[string]T), id: id, created: created}
}

// insert adds v unless its id is already present.
func (c *collection[T]) insert(v T) bool {
	id := c.id(&v)
	if _, ok := c.items[id]; ok {
		return false
	}
	c.items[id] = v
	return true
}

// replace stores v whole, dropping whatever was held for the id.
func (c *collection[T]) replace(v T) {
	c.items[c.id(&v)] = v
}

func (c *collection[T]) remove(id string) bool {
	if _, ok := c.items[id]; !ok {
		return false
	}
	delete(c.items, id)
	return true
}

// reset swaps in an authoritative set, keeping optimistic entries.
func (c *collection[T]) reset(items []T) {
	next := make(map[string]T, len(items))
	for id, v := range c.items {
		if isTempID(id) {
			next[id] = v
		}
	}
	for _, v := range items {
		next[c.id(&v)] = v
	}
	c.items = next
}

func (c *collection[T]) list() []T {
	out := make([]T, 0, len(c.items))
	for _, v := range c.items {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b T) int {
		if n := c.created(&a).Compare(c.created(&b)); n != 0 {
			return n
		}
		return cmp.Compare(c.id(&a), c.id(&b))
	})
	return out
}

type store struct {
	checkins *collection[model.Checkin]
	requests *collection[model.MessageRequest]
	sessions *collection[model.MessageSession]
	messages *collection[model.Message]
}

func newStore() *store {
	return &store{
		checkins: newCollection(
			func(v *model.Checkin) string { return v.ID },
			func(v *model.Checkin) time.Time { return v.CreatedAt },
		),
		requests: newCollection(
			func(v *model.MessageRequest) string { return v.ID },
			func(v *model.MessageRequest) time.Time { return v.CreatedAt },
		),
		sessions: newCollection(
			func(v *model.MessageSession) string { return v.ID },
			func(v *model.MessageSession) time.Time { return v.CreatedAt },
		),
		messages: newCollection(
			func(v *model.Message) string { return v.ID },
			func(v *model.Message) time.Time { return v.CreatedAt },
		),
	}
}

func (s *store) remove(table, id string) bool {
	switch table {
	case model.TableCheckins:
		return s.checkins.remove(id)
	case model.TableMessageRequests:
		return s.requests.remove(id)
	case model.TableMessageSessions:
		return s.sessions.remove(id)
	case model.TableMessages:
		return s.messages.remove(id)
	}
	return false
}

func (s *store) view() View {
	return View{
		Checkins: s.checkins.list(),
		Requests: s.requests.list(),
		Sessions: s.sessions.list(),
		Messages: s.messages.list(),
	}
}
