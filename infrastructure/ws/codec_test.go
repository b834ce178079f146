package ws

import (
	"chat-relay/domain/event"
	"chat-relay/errors"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCodec_DecodeID_Accepts_String_And_Object(t *testing.T) {
	req := require.New(t)
	codec := NewCodec()

	id, err := codec.DecodeID(json.RawMessage(`"c1"`), "conversationId")
	req.NoError(err)
	req.Equal("c1", id)

	id, err = codec.DecodeID(json.RawMessage(`{"conversationId":" c2 "}`), "conversationId")
	req.NoError(err)
	req.Equal("c2", id)

	id, err = codec.DecodeID(nil, "conversationId")
	req.NoError(err)
	req.Empty(id)

	id, err = codec.DecodeID(json.RawMessage(`{"other":"x"}`), "conversationId")
	req.NoError(err)
	req.Empty(id)
}

func TestCodec_DecodeID_Malformed(t *testing.T) {
	_, err := NewCodec().DecodeID(json.RawMessage(`[1,2]`), "userId")
	require.ErrorIs(t, err, errors.ErrMalformedFrame)
}

func TestCodec_Decode_Requires_Event_Name(t *testing.T) {
	req := require.New(t)
	codec := NewCodec()

	_, err := codec.Decode([]byte(`not json`))
	req.ErrorIs(err, errors.ErrMalformedFrame)

	_, err = codec.Decode([]byte(`{"data":"c1"}`))
	req.ErrorIs(err, errors.ErrMalformedFrame)

	frame, err := codec.Decode([]byte(`{"event":"join-conversation","data":"c1"}`))
	req.NoError(err)
	req.Equal(event.JoinConversation, frame.Event)
	req.JSONEq(`"c1"`, string(frame.Data))
}

func TestCodec_DecodeSend_Keeps_Correlation_On_Failure(t *testing.T) {
	req := require.New(t)

	// Given a send-message without a conversation
	data := json.RawMessage(`{"content":"hi","senderId":"alice","correlationId":"k1"}`)

	// When it is decoded
	request, err := NewCodec().DecodeSend(data)

	// Then it is a validation error that still carries the correlation id
	req.ErrorIs(err, errors.ErrValidation)
	req.Contains(err.Error(), "conversationID is required")
	req.Equal("k1", request.CorrelationID)
}

func TestCodec_DecodeSend_Leaves_Empty_Content_To_The_Core(t *testing.T) {
	request, err := NewCodec().DecodeSend(json.RawMessage(`{"content":"","conversationId":"c1","senderId":"alice","correlationId":"k1"}`))
	require.NoError(t, err)
	require.Empty(t, request.Content)
}

func TestCodec_DecodeMarkRead(t *testing.T) {
	req := require.New(t)
	codec := NewCodec()

	request, err := codec.DecodeMarkRead(json.RawMessage(`{"conversationId":"c1","userId":"bob"}`))
	req.NoError(err)
	req.Equal(MarkReadRequest{ConversationID: "c1", UserID: "bob"}, request)

	_, err = codec.DecodeMarkRead(json.RawMessage(`{"conversationId":"c1"}`))
	req.ErrorIs(err, errors.ErrValidation)
}

func TestCodec_Encode_Wraps_Event_Name(t *testing.T) {
	req := require.New(t)
	id := uuid.New()

	payload, err := NewCodec().Encode(event.MessageSent{CorrelationID: "k1", MessageID: id})
	req.NoError(err)

	var decoded struct {
		Event string `json:"event"`
		Data  struct {
			CorrelationID string    `json:"correlationId"`
			MessageID     uuid.UUID `json:"messageId"`
		} `json:"data"`
	}
	req.NoError(json.Unmarshal(payload, &decoded))
	req.Equal("message-sent", decoded.Event)
	req.Equal("k1", decoded.Data.CorrelationID)
	req.Equal(id, decoded.Data.MessageID)
}
