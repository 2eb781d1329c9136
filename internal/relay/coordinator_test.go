package relay

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/models"
)

type fakeOutlet struct {
	mu       sync.Mutex
	payloads [][]byte
	dead     bool
}

func (f *fakeOutlet) Deliver(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead {
		return false
	}
	f.payloads = append(f.payloads, payload)
	return true
}

// events decodes everything delivered so far into generic maps.
func (f *fakeOutlet) events(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]map[string]any, 0, len(f.payloads))
	for _, payload := range f.payloads {
		var event map[string]any
		require.NoError(t, json.Unmarshal(payload, &event))
		out = append(out, event)
	}
	return out
}

func (f *fakeOutlet) eventTypes(t *testing.T) []string {
	t.Helper()
	types := []string{}
	for _, event := range f.events(t) {
		types = append(types, event["type"].(string))
	}
	return types
}

func TestAuthenticateRegistersInOrder(t *testing.T) {
	c := NewCoordinator()
	alice, bob := &fakeOutlet{}, &fakeOutlet{}

	_, err := c.Authenticate("aaaa1111", "Alice", alice)
	require.NoError(t, err)
	_, err = c.Authenticate("bbbb2222", "Bob", bob)
	require.NoError(t, err)

	users := c.Users()
	require.Len(t, users, 2)
	assert.Equal(t, models.User{ID: "aaaa1111", Name: "Alice"}, users[0])
	assert.Equal(t, models.User{ID: "bbbb2222", Name: "Bob"}, users[1])

	// Alice got her welcome, then Bob's join announcement.
	assert.Equal(t, []string{"welcome", "user_joined"}, alice.eventTypes(t))
	// Bob only got his welcome; his own join is not echoed back.
	assert.Equal(t, []string{"welcome"}, bob.eventTypes(t))

	welcome := bob.events(t)[0]
	assert.Equal(t, "Bob", welcome["self"].(map[string]any)["name"])
	assert.Len(t, welcome["users"].([]any), 2)
	assert.Empty(t, welcome["history"].([]any))
	assert.Empty(t, welcome["typing"].([]any))
}

func TestAuthenticateEmptyName(t *testing.T) {
	c := NewCoordinator()

	_, err := c.Authenticate("aaaa1111", "", &fakeOutlet{})
	require.ErrorIs(t, err, ErrInvalidName)
	assert.True(t, c.Empty())
}

func TestAuthenticateCollisionFailsLoudly(t *testing.T) {
	c := NewCoordinator()

	_, err := c.Authenticate("aaaa1111", "Alice", &fakeOutlet{})
	require.NoError(t, err)

	_, err = c.Authenticate("aaaa1111", "Mallory", &fakeOutlet{})
	require.ErrorIs(t, err, ErrSessionExists)
	assert.Equal(t, "Alice", c.Users()[0].Name)
}

func TestReauthenticateRenames(t *testing.T) {
	c := NewCoordinator()
	outlet := &fakeOutlet{}

	_, err := c.Authenticate("aaaa1111", "Alice", outlet)
	require.NoError(t, err)
	_, err = c.Authenticate("aaaa1111", "Alicia", outlet)
	require.NoError(t, err)

	users := c.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "Alicia", users[0].Name)
}

func TestUnauthorizedMutationsRejected(t *testing.T) {
	c := NewCoordinator()

	require.ErrorIs(t, c.Typing("ghost", "hi"), ErrUnauthorized)
	_, err := c.Post("ghost", "hi", nil)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorIs(t, c.Who("ghost"), ErrUnauthorized)

	assert.Empty(t, c.History())
	assert.Empty(t, c.TypingSnapshot())
}

func TestPostRoundTrip(t *testing.T) {
	c := NewCoordinator()
	c.now = func() time.Time { return time.UnixMilli(1234) }
	alice, bob := &fakeOutlet{}, &fakeOutlet{}
	_, err := c.Authenticate("aaaa1111", "Alice", alice)
	require.NoError(t, err)
	_, err = c.Authenticate("bbbb2222", "Bob", bob)
	require.NoError(t, err)

	msg, err := c.Post("aaaa1111", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), msg.TS)

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Text)
	assert.Empty(t, history[0].Files)

	// The message fans out to everyone, sender included.
	assert.Contains(t, alice.eventTypes(t), "message")
	assert.Contains(t, bob.eventTypes(t), "message")
}

func TestPostEmptyRejected(t *testing.T) {
	c := NewCoordinator()
	alice := &fakeOutlet{}
	_, err := c.Authenticate("aaaa1111", "Alice", alice)
	require.NoError(t, err)

	before := len(alice.events(t))
	_, err = c.Post("aaaa1111", "", nil)
	require.ErrorIs(t, err, ErrEmptyMessage)

	assert.Empty(t, c.History())
	assert.Len(t, alice.events(t), before)
}

func TestPostWithOnlyFiles(t *testing.T) {
	c := NewCoordinator()
	_, err := c.Authenticate("aaaa1111", "Alice", &fakeOutlet{})
	require.NoError(t, err)

	files := []models.FileAttachment{{Name: "a.txt", Mime: "text/plain", Size: 1, Data: "QQ=="}}
	msg, err := c.Post("aaaa1111", "", files)
	require.NoError(t, err)
	assert.Equal(t, files, msg.Files)
	require.Len(t, c.History(), 1)
}

func TestTypingLifecycle(t *testing.T) {
	c := NewCoordinator()
	alice, bob := &fakeOutlet{}, &fakeOutlet{}
	_, err := c.Authenticate("aaaa1111", "Alice", alice)
	require.NoError(t, err)
	_, err = c.Authenticate("bbbb2222", "Bob", bob)
	require.NoError(t, err)

	require.NoError(t, c.Typing("aaaa1111", "dra"))
	snapshot := c.TypingSnapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, models.TypingEntry{ID: "aaaa1111", Name: "Alice", Text: "dra"}, snapshot[0])

	require.NoError(t, c.Typing("aaaa1111", ""))
	assert.Empty(t, c.TypingSnapshot())

	// Bob saw both broadcasts in order, the second with empty text.
	typingEvents := []map[string]any{}
	for _, event := range bob.events(t) {
		if event["type"] == "typing" {
			typingEvents = append(typingEvents, event)
		}
	}
	require.Len(t, typingEvents, 2)
	assert.Equal(t, "dra", typingEvents[0]["text"])
	assert.Equal(t, "", typingEvents[1]["text"])

	// The author never hears their own typing echo.
	assert.NotContains(t, alice.eventTypes(t), "typing")
}

func TestPostClearsTyping(t *testing.T) {
	c := NewCoordinator()
	_, err := c.Authenticate("aaaa1111", "Alice", &fakeOutlet{})
	require.NoError(t, err)

	require.NoError(t, c.Typing("aaaa1111", "dra"))
	_, err = c.Post("aaaa1111", "draft done", nil)
	require.NoError(t, err)

	assert.Empty(t, c.TypingSnapshot())
}

func TestDisconnectIdempotent(t *testing.T) {
	c := NewCoordinator()
	_, err := c.Authenticate("aaaa1111", "Alice", &fakeOutlet{})
	require.NoError(t, err)

	name, removed := c.Disconnect("aaaa1111")
	assert.True(t, removed)
	assert.Equal(t, "Alice", name)

	_, removed = c.Disconnect("aaaa1111")
	assert.False(t, removed)
}

func TestDisconnectAnnouncesAndWipes(t *testing.T) {
	c := NewCoordinator()
	alice, bob := &fakeOutlet{}, &fakeOutlet{}
	_, err := c.Authenticate("aaaa1111", "Alice", alice)
	require.NoError(t, err)
	_, err = c.Authenticate("bbbb2222", "Bob", bob)
	require.NoError(t, err)

	_, err = c.Post("aaaa1111", "hi", nil)
	require.NoError(t, err)
	require.NoError(t, c.Typing("bbbb2222", "dra"))

	c.Disconnect("bbbb2222")
	assert.Contains(t, alice.eventTypes(t), "user_left")
	// One session remains, so history survives.
	require.Len(t, c.History(), 1)
	assert.Empty(t, c.TypingSnapshot())

	c.Disconnect("aaaa1111")
	assert.True(t, c.Empty())
	assert.Empty(t, c.History())

	// The next joiner starts from a blank room.
	carol := &fakeOutlet{}
	_, err = c.Authenticate("cccc3333", "Carol", carol)
	require.NoError(t, err)
	welcome := carol.events(t)[0]
	assert.Empty(t, welcome["history"].([]any))
	assert.Empty(t, welcome["typing"].([]any))
}

func TestBroadcastSkipsDeadOutlet(t *testing.T) {
	c := NewCoordinator()
	alice, bob, carol := &fakeOutlet{}, &fakeOutlet{dead: true}, &fakeOutlet{}
	_, err := c.Authenticate("aaaa1111", "Alice", alice)
	require.NoError(t, err)
	_, err = c.Authenticate("bbbb2222", "Bob", bob)
	require.NoError(t, err)
	_, err = c.Authenticate("cccc3333", "Carol", carol)
	require.NoError(t, err)

	_, err = c.Post("aaaa1111", "hi", nil)
	require.NoError(t, err)

	// The dead recipient never aborts delivery to the rest.
	assert.Contains(t, alice.eventTypes(t), "message")
	assert.Contains(t, carol.eventTypes(t), "message")
	assert.Empty(t, bob.events(t))
}

func TestWhoDeliversSnapshotToCallerOnly(t *testing.T) {
	c := NewCoordinator()
	alice, bob := &fakeOutlet{}, &fakeOutlet{}
	_, err := c.Authenticate("aaaa1111", "Alice", alice)
	require.NoError(t, err)
	_, err = c.Authenticate("bbbb2222", "Bob", bob)
	require.NoError(t, err)

	require.NoError(t, c.Who("bbbb2222"))

	events := bob.events(t)
	last := events[len(events)-1]
	require.Equal(t, "users", last["type"])
	assert.Len(t, last["users"].([]any), 2)
	assert.NotContains(t, alice.eventTypes(t), "users")
}

func TestTypingSnapshotKeepsFirstKeystrokeOrder(t *testing.T) {
	c := NewCoordinator()
	_, err := c.Authenticate("aaaa1111", "Alice", &fakeOutlet{})
	require.NoError(t, err)
	_, err = c.Authenticate("bbbb2222", "Bob", &fakeOutlet{})
	require.NoError(t, err)

	require.NoError(t, c.Typing("bbbb2222", "b1"))
	require.NoError(t, c.Typing("aaaa1111", "a1"))
	require.NoError(t, c.Typing("bbbb2222", "b2"))

	snapshot := c.TypingSnapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "bbbb2222", snapshot[0].ID)
	assert.Equal(t, "b2", snapshot[0].Text)
	assert.Equal(t, "aaaa1111", snapshot[1].ID)
}
