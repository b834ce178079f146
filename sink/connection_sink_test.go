package sink

import (
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectionSink_Send_Queues_Events_In_Order(t *testing.T) {
	req := require.New(t)
	sink := NewConnectionSink(4, 10*time.Millisecond)

	req.NoError(sink.Send(context.Background(), event.UserStatusChange{UserID: "alice", IsOnline: true}))
	req.NoError(sink.Send(context.Background(), event.UserStatusChange{UserID: "bob", IsOnline: true}))

	first := <-sink.Events()
	second := <-sink.Events()
	req.Equal("alice", string(first.(event.UserStatusChange).UserID))
	req.Equal("bob", string(second.(event.UserStatusChange).UserID))
}

func TestConnectionSink_Full_Buffer_Times_Out(t *testing.T) {
	req := require.New(t)
	sink := NewConnectionSink(1, 20*time.Millisecond)

	// Given a consumer that never reads
	req.NoError(sink.Send(context.Background(), event.UserStatusChange{UserID: "alice"}))

	// When the buffer is full
	start := time.Now()
	err := sink.Send(context.Background(), event.UserStatusChange{UserID: "bob"})

	// Then the producer is released after the delivery timeout
	req.ErrorIs(err, errors.ErrSlowConsumer)
	req.GreaterOrEqual(time.Since(start), 20*time.Millisecond)
}

func TestConnectionSink_Send_After_Close_Fails(t *testing.T) {
	req := require.New(t)
	sink := NewConnectionSink(1, time.Second)

	sink.Close()
	sink.Close()

	err := sink.Send(context.Background(), event.UserStatusChange{UserID: "alice"})
	req.ErrorIs(err, errors.ErrConnectionClosed)
	select {
	case <-sink.Done():
	default:
		req.Fail("done should be closed")
	}
}

func TestConnectionSink_Close_Releases_Blocked_Producer(t *testing.T) {
	req := require.New(t)
	sink := NewConnectionSink(1, 5*time.Second)
	req.NoError(sink.Send(context.Background(), event.UserStatusChange{UserID: "alice"}))

	result := make(chan error, 1)
	go func() {
		result <- sink.Send(context.Background(), event.UserStatusChange{UserID: "bob"})
	}()

	time.Sleep(10 * time.Millisecond)
	sink.Close()

	select {
	case err := <-result:
		req.ErrorIs(err, errors.ErrConnectionClosed)
	case <-time.After(time.Second):
		req.Fail("producer should be released by Close")
	}
}

func TestConnectionSink_Backlog(t *testing.T) {
	req := require.New(t)
	sink := NewConnectionSink(3, 10*time.Millisecond)

	req.NoError(sink.Send(context.Background(), event.UserStatusChange{UserID: "alice", IsOnline: true}))
	length, capacity := sink.Backlog()

	req.Equal(1, length)
	req.Equal(3, capacity)
}
