package protocol

import (
	"encoding/json"
	"strconv"

	"chat-relay/internal/models"
)

const (
	maxFileFieldLen = 255
	defaultFileName = "file"
	defaultFileMime = "application/octet-stream"
)

// NormalizeAttachments accepts either a single attachment object or an
// array of them and returns the surviving candidates in input order.
// A candidate that is not a JSON object or carries no data is dropped;
// dropped candidates do not reorder the rest.
func NormalizeAttachments(raw json.RawMessage) []models.FileAttachment {
	out := []models.FileAttachment{}
	for _, candidate := range attachmentCandidates(raw) {
		if att, ok := normalizeAttachment(candidate); ok {
			out = append(out, att)
		}
	}
	return out
}

func attachmentCandidates(raw json.RawMessage) []json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	return []json.RawMessage{raw}
}

func normalizeAttachment(raw json.RawMessage) (models.FileAttachment, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return models.FileAttachment{}, false
	}

	data := coerceString(fields["data"])
	if data == "" {
		return models.FileAttachment{}, false
	}

	name := coerceString(fields["name"])
	if name == "" {
		name = defaultFileName
	}
	mime := coerceString(fields["mime"])
	if mime == "" {
		mime = defaultFileMime
	}

	return models.FileAttachment{
		Name: truncate(name, maxFileFieldLen),
		Mime: truncate(mime, maxFileFieldLen),
		Size: coerceSize(fields["size"]),
		Data: data,
	}, true
}

// coerceString renders scalar JSON values as strings; objects, arrays
// and null come back empty.
func coerceString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}

// coerceSize parses a best-effort byte count, 0 when unparsable.
func coerceSize(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(parsed)
		}
	}
	return 0
}
