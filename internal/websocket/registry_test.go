package websocket

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const otherSessionID = "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	a := NewConnection(createTestWebSocketConnection(t), testSessionID)
	b := NewConnection(createTestWebSocketConnection(t), testSessionID)
	c := NewConnection(createTestWebSocketConnection(t), otherSessionID)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	require.NoError(t, r.RegisterConnection(a))
	require.NoError(t, r.RegisterConnection(b))
	require.NoError(t, r.RegisterConnection(c))
	require.NoError(t, r.RegisterConnection(a), "re-registering is harmless")

	assert.Len(t, r.SessionConnections(testSessionID), 2)
	assert.Len(t, r.Subscribers(otherSessionID), 1)
	assert.Empty(t, r.SessionConnections("missing"))
	assert.Equal(t, map[string]int{"total_connections": 3, "active_sessions": 2}, r.GetStats())
}

func TestRegistry_RegisterRejects(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.RegisterConnection(nil), ErrNilConnection)

	conn := NewConnection(createTestWebSocketConnection(t), "")
	defer conn.Close()
	assert.ErrorIs(t, r.RegisterConnection(conn), ErrMissingSession)
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	conn := NewConnection(createTestWebSocketConnection(t), testSessionID)
	defer conn.Close()
	require.NoError(t, r.RegisterConnection(conn))

	r.UnregisterConnection(conn)
	r.UnregisterConnection(conn)
	r.UnregisterConnection(nil)

	assert.Empty(t, r.SessionConnections(testSessionID))
	assert.Equal(t, map[string]int{"total_connections": 0, "active_sessions": 0}, r.GetStats())
}

func TestRegistry_CloseSession(t *testing.T) {
	r := NewRegistry()
	a := NewConnection(createTestWebSocketConnection(t), testSessionID)
	b := NewConnection(createTestWebSocketConnection(t), testSessionID)
	require.NoError(t, r.RegisterConnection(a))
	require.NoError(t, r.RegisterConnection(b))

	assert.Equal(t, 2, r.CloseSession(testSessionID))
	assert.Equal(t, 0, r.CloseSession(testSessionID))
	assert.ErrorIs(t, a.WriteJSON("x"), ErrConnectionClosed)
	assert.Equal(t, 0, r.GetStats()["total_connections"])

	r.UnregisterConnection(a)
	assert.Equal(t, 0, r.GetStats()["total_connections"], "late unregister does not underflow")
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	conns := make([]*Connection, 10)
	for i := range conns {
		conns[i] = NewConnection(createTestWebSocketConnection(t), testSessionID)
		defer conns[i].Close()
	}

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(2)
		go func(c *Connection) {
			defer wg.Done()
			_ = r.RegisterConnection(c)
		}(conn)
		go func() {
			defer wg.Done()
			_ = r.SessionConnections(testSessionID)
			_ = r.GetStats()
		}()
	}
	wg.Wait()

	assert.Len(t, r.SessionConnections(testSessionID), 10)
}
