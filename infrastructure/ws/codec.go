package ws

import (
	"bytes"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Frame is the envelope of every message on the socket, in both directions.
type Frame struct {
	Event event.Name      `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type SendMessageRequest struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversationId" validate:"required"`
	SenderID       string `json:"senderId" validate:"required"`
	CorrelationID  string `json:"correlationId" validate:"required"`
}

type MarkReadRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
	UserID         string `json:"userId" validate:"required"`
}

type outbound struct {
	Event event.Name        `json:"event"`
	Data  event.ServerEvent `json:"data"`
}

// Codec turns raw frames into typed requests and server events into frames.
type Codec struct {
	validate *validator.Validate
}

func NewCodec() Codec {
	return Codec{validate: validator.New()}
}

func (c Codec) Decode(raw []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, fmt.Errorf("%w: %s", errors.ErrMalformedFrame, err)
	}
	if frame.Event == "" {
		return Frame{}, fmt.Errorf("%w: event name is missing", errors.ErrMalformedFrame)
	}
	return frame, nil
}

func (c Codec) Encode(e event.ServerEvent) ([]byte, error) {
	return json.Marshal(outbound{Event: e.Name(), Data: e})
}

// DecodeID reads a single identifier sent either as a bare JSON string or as
// an object carrying it under key.
func (c Codec) DecodeID(data json.RawMessage, key string) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return "", fmt.Errorf("%w: %s", errors.ErrMalformedFrame, err)
		}
		return strings.TrimSpace(id), nil
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("%w: %s", errors.ErrMalformedFrame, err)
	}
	id, ok := fields[key].(string)
	if !ok {
		return "", nil
	}
	return strings.TrimSpace(id), nil
}

// DecodeSend keeps the correlation id even when validation fails, so the
// rejection can still be matched by the client.
func (c Codec) DecodeSend(data json.RawMessage) (SendMessageRequest, error) {
	var req SendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %s", errors.ErrMalformedFrame, err)
	}
	if err := c.validate.Struct(req); err != nil {
		return req, c.validationError(err)
	}
	return req, nil
}

func (c Codec) DecodeMarkRead(data json.RawMessage) (MarkReadRequest, error) {
	var req MarkReadRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %s", errors.ErrMalformedFrame, err)
	}
	if err := c.validate.Struct(req); err != nil {
		return req, c.validationError(err)
	}
	return req, nil
}

func (c Codec) validationError(err error) error {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return fmt.Errorf("%w: %s", errors.ErrValidation, err)
	}
	fields := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		fields = append(fields, fmt.Sprintf("%s is %s", lowerFirst(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", errors.ErrValidation, strings.Join(fields, ", "))
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
