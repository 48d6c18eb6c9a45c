// Package api defines the JSON bodies exchanged with clients: the generic
// request/response object relayed to backends, the duplex authentication
// frame and the notification frames.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	FieldRequestID = "request_id"
	FieldSessionID = "session_id"
	FieldUserID    = "user_id"
	FieldSuccess   = "success"
	FieldErrMsg    = "errmsg"
)

var ErrNotObject = errors.New("api: body is not a JSON object")

// Message is a request or response body kept as raw fields. The gateway only
// reads the few fields it routes on and relays the rest untouched.
type Message map[string]json.RawMessage

// Decode parses a JSON object. An empty body is an empty message.
func Decode(data []byte) (Message, error) {
	m := Message{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if m == nil {
		return nil, ErrNotObject
	}
	return m, nil
}

// String returns field as a string, or "" when it is absent or not a string.
func (m Message) String(field string) string {
	raw, ok := m[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (m Message) SetString(field, value string) {
	raw, _ := json.Marshal(value)
	m[field] = raw
}

func (m Message) Bool(field string) bool {
	raw, ok := m[field]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return b
}

// Strings returns field as a string slice, or nil.
func (m Message) Strings(field string) []string {
	raw, ok := m[field]
	if !ok {
		return nil
	}
	var ss []string
	if err := json.Unmarshal(raw, &ss); err != nil {
		return nil
	}
	return ss
}

// Delete removes fields that must not reach the client.
func (m Message) Delete(fields ...string) {
	for _, f := range fields {
		delete(m, f)
	}
}

// Into decodes the whole message into a typed value.
func (m Message) Into(v any) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Success reports the backend's success flag.
func (m Message) Success() bool {
	return m.Bool(FieldSuccess)
}

// ErrorResponse is the uniform failure envelope.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Success   bool   `json:"success"`
	ErrMsg    string `json:"errmsg"`
}

// ClientAuthentication is the first frame a duplex client sends.
type ClientAuthentication struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
}
