package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ms-fairpass/internal/models"
)

func TestDescribe(t *testing.T) {
	expires := time.Date(2026, 3, 1, 18, 5, 0, 0, time.UTC)

	reserved := describe(models.BookingEvent{
		Type:      models.BookingReserved,
		IntentID:  "i-1",
		TicketIDs: []string{"t-1", "t-2"},
		ExpiresAt: expires,
	})
	assert.Equal(t, "intent i-1 tickets=2 [t-1,t-2] expires 18:05:00", reserved)

	confirmed := describe(models.BookingEvent{
		Type:      models.BookingConfirmed,
		IntentID:  "i-1",
		TicketIDs: []string{"t-1"},
		ExpiresAt: expires,
	})
	assert.Equal(t, "intent i-1 tickets=1 [t-1]", confirmed)
}
