package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/FlagLens/internal/models"
	"github.com/Corphon/FlagLens/internal/services"
)

func dialSession(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session"
	header := http.Header{}
	header.Set("Cookie", SessionCookie+"="+sessionID)

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.SessionEvent {
	t.Helper()
	var event models.SessionEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestSessionWebSocketStreamsTransitions(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	view := env.sessions.Create()
	conn := dialSession(t, srv, view.ID)

	snapshot := readEvent(t, conn)
	assert.Equal(t, services.EventSessionSnapshot, snapshot.Type)
	assert.Equal(t, view.ID, snapshot.SessionID)
	assert.Equal(t, models.StatusReady, snapshot.Status)

	require.Eventually(t, func() bool { return env.handler.Hub.ClientCount(view.ID) == 1 },
		2*time.Second, 5*time.Millisecond)

	// drive the session through an analysis outside HTTP
	require.NoError(t, env.sessions.Begin(view.ID))
	started := readEvent(t, conn)
	assert.Equal(t, services.EventAnalysisStarted, started.Type)
	assert.Equal(t, models.StatusLoading, started.Status)

	require.NoError(t, env.sessions.Fail(view.ID, "quota exceeded"))
	failed := readEvent(t, conn)
	assert.Equal(t, services.EventAnalysisFailed, failed.Type)
	assert.Equal(t, "quota exceeded", failed.Error)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return env.handler.Hub.ClientCount(view.ID) == 0 },
		2*time.Second, 5*time.Millisecond)
}

func TestSessionWebSocketShutdown(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	view := env.sessions.Create()
	conn := dialSession(t, srv, view.ID)
	defer conn.Close()
	readEvent(t, conn)

	require.Eventually(t, func() bool { return env.handler.Hub.ClientCount(view.ID) == 1 },
		2*time.Second, 5*time.Millisecond)

	env.handler.Hub.Shutdown()

	require.Eventually(t, func() bool { return env.handler.Hub.ClientCount(view.ID) == 0 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, env.handler.Hub.GetStatus()["total_connections"])
}
