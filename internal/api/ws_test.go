package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lccanvas/canvasd/internal/config"
	"github.com/lccanvas/canvasd/internal/core/domain"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestWS_StreamsOwnerEvents(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/status?anon_id=anon-ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// Registration happens after the upgrade handshake returns.
	deadline := time.Now().Add(3 * time.Second)
	for env.hub.Connections("anon-ws") == 0 {
		require.False(t, time.Now().After(deadline), "socket never registered with the hub")
		time.Sleep(10 * time.Millisecond)
	}

	pos := 0
	env.hub.SendToUser("anon-ws", domain.StatusEvent{
		JobID: "j1", Status: domain.JobStatusQueued, Position: &pos,
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event domain.StatusEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, domain.JobID("j1"), event.JobID)
	assert.Equal(t, domain.JobStatusQueued, event.Status)
	require.NotNil(t, event.Position)
	assert.Equal(t, 0, *event.Position)
}

func TestWS_ClosedWhenBetaGated(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.BetaPassword = "letmein" })
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	// The upgrade itself succeeds so the client can distinguish the
	// gate from a network failure.
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/status"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, 4401, closeErr.Code)
	assert.Equal(t, "beta access required", closeErr.Text)
}
