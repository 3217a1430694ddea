package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	fieldType   = "type"
	fieldTarget = "target"
	fieldSender = "sender"
)

var (
	// ErrNotObject is returned for frames that are valid JSON but not an object.
	ErrNotObject = errors.New("message is not a JSON object")
	// ErrInvalidMessage covers malformed JSON and envelope fields of the wrong type.
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is one decoded signaling frame.
//
// Only the routing envelope (type, target, sender) is understood; every other
// field is kept as raw JSON and forwarded untouched.
type Message struct {
	raw    []byte
	fields map[string]json.RawMessage

	typ      string
	target   string
	targeted bool

	// clientSender is set when the frame arrived with its own sender field.
	clientSender bool
}

// ParseMessage decodes a text frame. A `target` that is missing or null marks a
// broadcast; any string, including "", marks a targeted message.
func ParseMessage(data []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidMessage)
	}
	if !utf8.Valid(trimmed) {
		return nil, fmt.Errorf("%w: invalid utf-8", ErrInvalidMessage)
	}
	if trimmed[0] != '{' {
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("%w: malformed json", ErrInvalidMessage)
		}
		return nil, ErrNotObject
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	m := &Message{raw: data, fields: fields}

	// type is opaque: a non-string value is forwarded as-is but reported as "".
	if rawType, ok := fields[fieldType]; ok {
		_ = json.Unmarshal(rawType, &m.typ)
	}

	if rawTarget, ok := fields[fieldTarget]; ok && !isJSONNull(rawTarget) {
		if err := json.Unmarshal(rawTarget, &m.target); err != nil {
			return nil, fmt.Errorf("%w: target must be a string", ErrInvalidMessage)
		}
		m.targeted = true
	}
	_, m.clientSender = fields[fieldSender]
	return m, nil
}

// Type returns the opaque application tag, or "" when absent or not a string.
func (m *Message) Type() string { return m.typ }

// Target returns the recipient id and whether the message is targeted.
func (m *Message) Target() (string, bool) { return m.target, m.targeted }

// Sender returns the current sender field.
func (m *Message) Sender() string {
	var s string
	if raw, ok := m.fields[fieldSender]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// SetSender overwrites the sender field. Client-supplied values are never kept.
func (m *Message) SetSender(id string) {
	b, _ := json.Marshal(id)
	m.fields[fieldSender] = b
}

// HasClientSender reports whether the frame carried a sender field of its own.
func (m *Message) HasClientSender() bool { return m.clientSender }

// Raw returns the frame exactly as received.
func (m *Message) Raw() []byte { return m.raw }

// Encode serializes the message including any sender stamp.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m.fields)
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
