package models

// Server-to-client event discriminators.
const (
	EventHello      = "hello"
	EventWelcome    = "welcome"
	EventUserJoined = "user_joined"
	EventUserLeft   = "user_left"
	EventTyping     = "typing"
	EventMessage    = "message"
	EventUsers      = "users"
	EventError      = "error"
)

// Hello is sent once per connection, asking the client to identify.
type Hello struct {
	Type    string `json:"type"`
	AskName bool   `json:"askName"`
}

// Welcome hydrates a freshly authenticated session with the full
// current state: who is connected, everything said so far and who is
// typing right now.
type Welcome struct {
	Type    string        `json:"type"`
	Self    User          `json:"self"`
	Users   []User        `json:"users"`
	History []Message     `json:"history"`
	Typing  []TypingEntry `json:"typing"`
}

// Presence announces a join or a leave.
type Presence struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TypingEvent mirrors a session's draft to everyone else. An empty
// Text means the author stopped typing.
type TypingEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// MessageEvent is broadcast to all sessions, sender included.
type MessageEvent struct {
	Type string `json:"type"`
	Message
}

// UserList answers a who request.
type UserList struct {
	Type  string `json:"type"`
	Users []User `json:"users"`
}

// ErrorEvent reports a protocol error to the offending sender only.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
