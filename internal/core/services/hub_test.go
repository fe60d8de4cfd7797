package services

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lccanvas/canvasd/internal/core/domain"
)

func TestHub_FanOutToOwnerOnly(t *testing.T) {
	h := NewHub(testLogger())
	a1 := h.Register("user-a")
	a2 := h.Register("user-a")
	b := h.Register("user-b")

	progress := 42.0
	h.SendToUser("user-a", domain.StatusEvent{JobID: "j1", Status: domain.JobStatusRunning, Progress: &progress})

	for _, conn := range []*HubConn{a1, a2} {
		select {
		case data := <-conn.Outbox():
			var ev domain.StatusEvent
			require.NoError(t, json.Unmarshal(data, &ev))
			assert.Equal(t, domain.JobID("j1"), ev.JobID)
			assert.Equal(t, domain.JobStatusRunning, ev.Status)
			require.NotNil(t, ev.Progress)
			assert.Equal(t, 42.0, *ev.Progress)
		default:
			t.Fatal("owner connection received nothing")
		}
	}
	assert.Empty(t, b.Outbox(), "event leaked to another user")

	assert.Equal(t, 2, h.Connections("user-a"))
	assert.Equal(t, 1, h.Connections("user-b"))
}

func TestHub_SendToUnknownUser(t *testing.T) {
	h := NewHub(testLogger())
	// No connections registered; must not panic.
	h.SendToUser("nobody", domain.StatusEvent{JobID: "j1", Status: domain.JobStatusQueued})
}

func TestHub_UnregisterClosesOutbox(t *testing.T) {
	h := NewHub(testLogger())
	conn := h.Register("user-a")

	h.Unregister(conn)
	_, open := <-conn.Outbox()
	assert.False(t, open, "outbox should be closed after unregister")
	assert.Equal(t, 0, h.Connections("user-a"))

	// A second unregister is a no-op, not a double close.
	h.Unregister(conn)

	// Events after unregister go nowhere.
	h.SendToUser("user-a", domain.StatusEvent{JobID: "j1", Status: domain.JobStatusQueued})
}

func TestHub_FullOutboxDropsNewest(t *testing.T) {
	h := NewHub(testLogger())
	conn := h.Register("user-a")

	for i := 0; i < hubSendBuffer+5; i++ {
		h.SendToUser("user-a", domain.StatusEvent{JobID: domain.JobID(fmt.Sprintf("j%d", i)), Status: domain.JobStatusQueued})
	}
	assert.Len(t, conn.Outbox(), hubSendBuffer)

	// Oldest events survive; overflow is dropped, never blocked on.
	var ev domain.StatusEvent
	require.NoError(t, json.Unmarshal(<-conn.Outbox(), &ev))
	assert.Equal(t, domain.JobID("j0"), ev.JobID)
}
