package relay

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"chat-relay/internal/models"
	"chat-relay/internal/observability"
)

// Sentinel errors surfaced to the protocol layer as typed error frames.
var (
	ErrInvalidName  = errors.New("invalid name")
	ErrUnauthorized = errors.New("unauthorized")
	ErrEmptyMessage = errors.New("empty message")
	// ErrSessionExists reports a registration under an id already owned
	// by another connection. Session ids are 8 random hex chars, so
	// this only fires on a broken caller, never silently overwrites.
	ErrSessionExists = errors.New("session id already registered")
)

// Outlet is the outbound side of one connected session. Deliver must
// not block; it reports false when the session can no longer accept
// payloads, and the coordinator treats that as a skip.
type Outlet interface {
	Deliver(payload []byte) bool
}

type session struct {
	id     string
	name   string
	outlet Outlet
}

// Coordinator owns the session registry, the typing tracker and the
// message history. A single mutex guards all three, and event payloads
// are handed to outlets while it is held, so every session observes
// one global event order. State is volatile: the moment the last
// session leaves, history and typing are wiped.
type Coordinator struct {
	mu          sync.Mutex
	sessions    map[string]*session
	order       []string
	typing      map[string]models.TypingEntry
	typingOrder []string
	history     []models.Message

	now func() time.Time
}

// NewCoordinator returns an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		sessions: make(map[string]*session),
		typing:   make(map[string]models.TypingEntry),
		now:      time.Now,
	}
}

// Authenticate registers the session under the given display name,
// delivers the welcome snapshot to its outlet and announces the join
// to everyone else. Re-authenticating an existing session through its
// own outlet updates the name; a different outlet under the same id is
// a collision and fails.
func (c *Coordinator) Authenticate(id, name string, outlet Outlet) (models.User, error) {
	if name == "" {
		return models.User{}, ErrInvalidName
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sessions[id]; ok {
		if existing.outlet != outlet {
			log.Printf("session id collision id=%s", id)
			return models.User{}, ErrSessionExists
		}
		existing.name = name
	} else {
		c.sessions[id] = &session{id: id, name: name, outlet: outlet}
		c.order = append(c.order, id)
	}

	self := models.User{ID: id, Name: name}
	welcome, _ := json.Marshal(models.Welcome{
		Type:    models.EventWelcome,
		Self:    self,
		Users:   c.usersLocked(),
		History: c.historyLocked(),
		Typing:  c.typingLocked(),
	})
	outlet.Deliver(welcome)

	joined, _ := json.Marshal(models.Presence{Type: models.EventUserJoined, ID: id, Name: name})
	c.broadcastLocked(joined, id)

	return self, nil
}

// Typing records or clears the sender's draft and mirrors it to every
// other session. An empty text is broadcast too, signaling "stopped
// typing".
func (c *Coordinator) Typing(id, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[id]
	if !ok {
		return ErrUnauthorized
	}

	if text != "" {
		if _, tracked := c.typing[id]; !tracked {
			c.typingOrder = append(c.typingOrder, id)
		}
		c.typing[id] = models.TypingEntry{ID: id, Name: s.name, Text: text}
	} else {
		c.clearTypingLocked(id)
	}

	payload, _ := json.Marshal(models.TypingEvent{Type: models.EventTyping, ID: id, Name: s.name, Text: text})
	c.broadcastLocked(payload, id)
	return nil
}

// Post validates and appends a message, clears the sender's typing
// entry and broadcasts the message to all sessions, sender included.
func (c *Coordinator) Post(id, text string, files []models.FileAttachment) (models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[id]
	if !ok {
		return models.Message{}, ErrUnauthorized
	}
	if text == "" && len(files) == 0 {
		return models.Message{}, ErrEmptyMessage
	}
	if files == nil {
		files = []models.FileAttachment{}
	}

	msg := models.Message{ID: id, Name: s.name, Text: text, Files: files, TS: c.now().UnixMilli()}
	c.history = append(c.history, msg)
	observability.SetHistoryLength(len(c.history))
	c.clearTypingLocked(id)

	payload, _ := json.Marshal(models.MessageEvent{Type: models.EventMessage, Message: msg})
	c.broadcastLocked(payload, "")
	return msg, nil
}

// Who delivers the current user list to the requesting session only.
func (c *Coordinator) Who(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[id]
	if !ok {
		return ErrUnauthorized
	}

	payload, _ := json.Marshal(models.UserList{Type: models.EventUsers, Users: c.usersLocked()})
	s.outlet.Deliver(payload)
	return nil
}

// Disconnect removes the session and its typing entry, announces the
// departure when the session had authenticated, and wipes history and
// typing once the registry is empty. Safe to call more than once; the
// second call reports false.
func (c *Coordinator) Disconnect(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[id]
	if !ok {
		return "", false
	}

	delete(c.sessions, id)
	c.order = removeID(c.order, id)
	c.clearTypingLocked(id)

	payload, _ := json.Marshal(models.Presence{Type: models.EventUserLeft, ID: id, Name: s.name})
	c.broadcastLocked(payload, "")

	if len(c.sessions) == 0 {
		c.history = nil
		c.typing = make(map[string]models.TypingEntry)
		c.typingOrder = nil
		observability.SetHistoryLength(0)
	}
	return s.name, true
}

// Authenticated reports whether the id belongs to a registered session.
func (c *Coordinator) Authenticated(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[id]
	return ok
}

// Empty reports whether no session is registered.
func (c *Coordinator) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions) == 0
}

// Users returns the authenticated sessions in registration order.
func (c *Coordinator) Users() []models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usersLocked()
}

// History returns a copy of the current message log.
func (c *Coordinator) History() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyLocked()
}

// TypingSnapshot returns the active drafts in first-keystroke order.
func (c *Coordinator) TypingSnapshot() []models.TypingEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typingLocked()
}

// broadcastLocked hands one serialized payload to every session except
// exclude. A dead outlet is skipped; it never aborts the fan-out.
func (c *Coordinator) broadcastLocked(payload []byte, exclude string) {
	for _, id := range c.order {
		if id == exclude {
			continue
		}
		if !c.sessions[id].outlet.Deliver(payload) {
			log.Printf("delivery skipped session=%s", id)
			observability.IncDeliverySkipped()
		}
	}
	observability.IncBroadcast()
}

func (c *Coordinator) clearTypingLocked(id string) {
	if _, ok := c.typing[id]; !ok {
		return
	}
	delete(c.typing, id)
	c.typingOrder = removeID(c.typingOrder, id)
}

func (c *Coordinator) usersLocked() []models.User {
	users := make([]models.User, 0, len(c.order))
	for _, id := range c.order {
		users = append(users, models.User{ID: id, Name: c.sessions[id].name})
	}
	return users
}

func (c *Coordinator) historyLocked() []models.Message {
	return append([]models.Message{}, c.history...)
}

func (c *Coordinator) typingLocked() []models.TypingEntry {
	entries := make([]models.TypingEntry, 0, len(c.typingOrder))
	for _, id := range c.typingOrder {
		entries = append(entries, c.typing[id])
	}
	return entries
}

func removeID(ids []string, id string) []string {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
