package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-fairpass/internal/logger"
	"ms-fairpass/internal/models"
)

type fakeReader struct {
	messages []kafka.Message
	err      error
	cancel   context.CancelFunc
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		if r.err != nil {
			return kafka.Message{}, r.err
		}
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumerDecodesBookingEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payload, err := json.Marshal(models.BookingEvent{Type: models.BookingConfirmed, IntentID: "intent-9"})
	require.NoError(t, err)

	reader := &fakeReader{
		cancel: cancel,
		messages: []kafka.Message{
			{Topic: "test.confirmed", Value: []byte("not json")},
			{Topic: "test.confirmed", Value: payload},
		},
	}
	c := &Consumer{reader: reader, logger: logger.NewLoggerWithWriter(io.Discard)}

	var got []models.BookingEvent
	err = c.Start(ctx, func(event models.BookingEvent) {
		got = append(got, event)
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "intent-9", got[0].IntentID)
	assert.Equal(t, models.BookingConfirmed, got[0].Type)
}

func TestConsumerReturnsReadErrors(t *testing.T) {
	reader := &fakeReader{err: errors.New("group coordinator unavailable")}
	c := &Consumer{reader: reader, logger: logger.NewLoggerWithWriter(io.Discard)}

	err := c.Start(context.Background(), func(models.BookingEvent) {})
	assert.ErrorContains(t, err, "group coordinator unavailable")
}
