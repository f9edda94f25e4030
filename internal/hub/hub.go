package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"queryflow/pkg/interfaces"
	"queryflow/pkg/types"
)

// DefaultBufferSize is the event queue capacity used when none is given.
const DefaultBufferSize = 1000

// Subscribers resolves the live connections of a session.
type Subscribers interface {
	Subscribers(sessionID string) []interfaces.Connection
}

// Envelope is the JSON frame pushed to websocket subscribers.
type Envelope struct {
	Type  string      `json:"type"`
	Event types.Event `json:"event"`
}

// Hub fans session events out to their subscribers on a single goroutine.
// Publishing never blocks: events are dropped when the queue is full.
type Hub struct {
	events      chan types.Event
	subscribers Subscribers
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	running  bool
	shutdown chan struct{}
	done     chan struct{}

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates a hub delivering to subs. A nil logger uses slog.Default.
func NewHub(subs Subscribers, logger *slog.Logger, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		events:      make(chan types.Event, bufferSize),
		subscribers: subs,
		logger:      logger,
		now:         time.Now,
	}
}

// Start launches the dispatch loop. It stops when ctx is cancelled or Stop
// is called.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	h.logger.Info("starting notification hub")
	go h.run(ctx, h.shutdown, h.done)
	return nil
}

// Stop halts the dispatch loop and waits for it to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Info("notification hub stopped")
	return nil
}

// Publish queues ev for delivery. A missing ID or timestamp is filled in.
func (h *Hub) Publish(ev types.Event) error {
	if ev.SessionID == "" {
		return ErrMissingSession
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now().UTC()
	}

	h.mu.Lock()
	running := h.running
	h.mu.Unlock()
	if !running {
		return ErrHubNotRunning
	}

	select {
	case h.events <- ev:
		h.published.Add(1)
		return nil
	default:
		h.dropped.Add(1)
		return ErrEventChannelFull
	}
}

// Notify implements interfaces.Notifier. Failures are logged, never returned.
func (h *Hub) Notify(ev types.Event) {
	if err := h.Publish(ev); err != nil {
		h.logger.Warn("notification dropped",
			"session_id", ev.SessionID,
			"kind", ev.Kind,
			"message", ev.Message,
			"error", err)
	}
}

// GetStats returns delivery counters.
func (h *Hub) GetStats() map[string]int64 {
	return map[string]int64{
		"published": h.published.Load(),
		"delivered": h.delivered.Load(),
		"dropped":   h.dropped.Load(),
		"queued":    int64(len(h.events)),
	}
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case ev := <-h.events:
			h.handleEvent(ev)

		case <-shutdown:
			return

		case <-ctx.Done():
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			h.logger.Info("notification hub context cancelled")
			return
		}
	}
}

func (h *Hub) handleEvent(ev types.Event) {
	level := slog.LevelInfo
	if ev.Kind == types.EventError || ev.Kind == types.EventWarning {
		level = slog.LevelWarn
	}
	h.logger.Log(context.Background(), level, "session notification",
		"session_id", ev.SessionID,
		"kind", ev.Kind,
		"message", ev.Message)

	if h.subscribers == nil {
		return
	}
	frame := Envelope{Type: "notification", Event: ev}
	for _, conn := range h.subscribers.Subscribers(ev.SessionID) {
		if err := conn.WriteJSON(frame); err != nil {
			h.logger.Debug("notification not delivered",
				"session_id", ev.SessionID,
				"error", err)
			continue
		}
		h.delivered.Add(1)
	}
}
