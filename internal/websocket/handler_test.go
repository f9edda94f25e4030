package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDirectory map[string]bool

func (d mockDirectory) Exists(id string) bool { return d[id] }

func newTestHandlerServer(t *testing.T, dir mockDirectory) (*Registry, *httptest.Server) {
	t.Helper()
	registry := NewRegistry()
	handler := NewHandler(registry, dir, nil, nil)
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)
	return registry, server
}

func wsURL(server *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
}

func TestHandler_RejectsBadRequests(t *testing.T) {
	_, server := newTestHandlerServer(t, mockDirectory{testSessionID: true})

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"missing session", "", http.StatusBadRequest},
		{"malformed session", "?session_id=not-a-uuid", http.StatusBadRequest},
		{"unknown session", "?session_id=" + otherSessionID, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, tt.query), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestHandler_SubscribeReceivesGreeting(t *testing.T) {
	registry, server := newTestHandlerServer(t, mockDirectory{testSessionID: true})

	client, _, err := websocket.DefaultDialer.Dial(wsURL(server, "?session_id="+testSessionID), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	var greeting map[string]any
	require.NoError(t, client.ReadJSON(&greeting))
	assert.Equal(t, "connected", greeting["type"])
	assert.Equal(t, testSessionID, greeting["session_id"])

	require.Eventually(t, func() bool {
		return len(registry.SessionConnections(testSessionID)) == 1
	}, time.Second, 10*time.Millisecond)

	for _, conn := range registry.SessionConnections(testSessionID) {
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "notification", "message": "Query cleared"}))
	}
	var note map[string]any
	require.NoError(t, client.ReadJSON(&note))
	assert.Equal(t, "Query cleared", note["message"])
}

func TestHandler_UnregistersOnDisconnect(t *testing.T) {
	registry, server := newTestHandlerServer(t, mockDirectory{testSessionID: true})

	client, _, err := websocket.DefaultDialer.Dial(wsURL(server, "?session_id="+testSessionID), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return registry.GetStats()["total_connections"] == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())

	assert.Eventually(t, func() bool {
		return registry.GetStats()["total_connections"] == 0
	}, 2*time.Second, 10*time.Millisecond)
}
