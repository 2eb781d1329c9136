package models

// User is the public view of an authenticated session.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TypingEntry is one in-progress draft, keyed by session id. Text is
// always non-empty; a session that stopped typing has no entry.
type TypingEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text"`
}
