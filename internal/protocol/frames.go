package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chat-relay/internal/models"
)

// Limits applied to inbound payloads before they reach the relay.
const (
	MaxNameLen    = 32
	MaxTypingLen  = 500
	MaxMessageLen = 2000
)

// ErrMalformed reports a frame body that is not valid JSON or does not
// match the expected field types.
var ErrMalformed = errors.New("malformed frame")

// UnknownTypeError reports a frame whose type discriminator is not
// recognized.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown frame type %q", e.Type)
}

// Frame is one parsed, normalized client-to-server frame.
type Frame interface {
	frame()
}

// Auth carries the display name of a session asking to authenticate.
// The name is trimmed and capped; an empty name is passed through so
// the relay can reject it.
type Auth struct {
	Name string
}

// Typing carries the sender's current draft. Empty text means the
// sender stopped typing.
type Typing struct {
	Text string
}

// Message carries chat text and/or normalized file attachments.
type Message struct {
	Text  string
	Files []models.FileAttachment
}

// Who asks for the current user list.
type Who struct{}

func (Auth) frame()    {}
func (Typing) frame()  {}
func (Message) frame() {}
func (Who) frame()     {}

type envelope struct {
	Type  string          `json:"type"`
	Name  string          `json:"name"`
	Text  string          `json:"text"`
	Files json.RawMessage `json:"files"`
	File  json.RawMessage `json:"file"`
}

// ParseFrame decodes a raw client frame into its typed variant.
// Malformed input yields ErrMalformed; an unrecognized discriminator
// yields an UnknownTypeError. No partially-typed data escapes.
func ParseFrame(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformed
	}

	switch env.Type {
	case "auth":
		return Auth{Name: truncate(strings.TrimSpace(env.Name), MaxNameLen)}, nil
	case "typing":
		return Typing{Text: truncate(env.Text, MaxTypingLen)}, nil
	case "message":
		raw := env.Files
		if len(raw) == 0 {
			// Older clients send a single attachment under "file".
			raw = env.File
		}
		return Message{
			Text:  truncate(strings.TrimSpace(env.Text), MaxMessageLen),
			Files: NormalizeAttachments(raw),
		}, nil
	case "who":
		return Who{}, nil
	default:
		return nil, &UnknownTypeError{Type: env.Type}
	}
}

// truncate caps s at limit runes so a cut never splits a character.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
