package models

// FileAttachment is a file carried inside a chat message, its content
// base64-encoded by the sender.
type FileAttachment struct {
	Name string `json:"name"`
	Mime string `json:"mime"`
	Size int64  `json:"size"`
	Data string `json:"data"`
}

// Message is one accepted chat message. ID is the sender's session id
// and TS is milliseconds since the Unix epoch. Messages are immutable
// once appended to history.
type Message struct {
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	Text  string           `json:"text"`
	Files []FileAttachment `json:"files"`
	TS    int64            `json:"ts"`
}
