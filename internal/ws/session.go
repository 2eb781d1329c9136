package ws

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

const sendBuffer = 64

// session pairs a websocket connection with its buffered outbound
// queue. The write pump is the only goroutine writing to the
// connection; everything else goes through Deliver.
type session struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newSession(id string, conn *websocket.Conn) *session {
	return &session{id: id, conn: conn, send: make(chan []byte, sendBuffer)}
}

// Deliver queues a payload for the write pump. A closed session or a
// full queue drops the payload and reports false; the relay treats
// that as a skipped recipient, never a failure.
func (s *session) Deliver(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

func (s *session) writePump() {
	defer s.conn.Close()
	for payload := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			return
		}
	}
	_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
