package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

const writeTimeout = 5 * time.Second

type subscriber struct {
	conn    *websocket.Conn
	session string
	mu      sync.Mutex // serializes writes
}

func (s *subscriber) write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// Hub fans broadcast messages out to the websocket subscribers of a
// session. It is safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*subscriber]struct{}
	origins  []string
	ping     time.Duration
	logger   *slog.Logger
	stats    HubStats
}

// NewHub creates a Hub. originPatterns are passed to websocket.Accept.
func NewHub(logger *slog.Logger, originPatterns []string, ping time.Duration) *Hub {
	if ping <= 0 {
		ping = 30 * time.Second
	}
	return &Hub{
		sessions: make(map[string]map[*subscriber]struct{}),
		origins:  originPatterns,
		ping:     ping,
		logger:   logger,
	}
}

// Stats returns the hub counters.
func (h *Hub) Stats() HubSnapshot {
	return h.stats.Snapshot()
}

// Subscribers returns the number of live subscribers of a session, or of
// every session when session is empty.
func (h *Hub) Subscribers(session string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if session != "" {
		return len(h.sessions[session])
	}
	n := 0
	for _, subs := range h.sessions {
		n += len(subs)
	}
	return n
}

// ServeHTTP upgrades GET /ws/sessions/{session} and keeps the connection
// subscribed until the client goes away. Client messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session")
	if session == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("websocket accept failed", "session_id", session, "error", err)
		return
	}
	h.stats.accepted.Add(1)

	sub := &subscriber{conn: conn, session: session}
	ctx := conn.CloseRead(r.Context())
	h.add(sub)
	h.logger.Debug("subscriber joined", "session_id", session)

	defer func() {
		h.remove(sub)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Debug("subscriber left", "session_id", session)
	}()

	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				h.logger.Debug("subscriber ping failed", "session_id", session, "error", err)
				return
			}
		}
	}
}

// Publish sends env to every subscriber of session. Subscribers that
// cannot be written to are disconnected. It returns the number of
// subscribers reached.
func (h *Hub) Publish(ctx context.Context, session string, env Envelope) int {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("broadcast marshal failed", "session_id", session, "type", string(env.Type), "error", err)
		return 0
	}
	h.stats.published.Add(1)

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.sessions[session]))
	for s := range h.sessions[session] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range subs {
		if err := s.write(ctx, data); err != nil {
			h.stats.dropped.Add(1)
			h.logger.Warn("broadcast write failed, dropping subscriber",
				"session_id", session, "type", string(env.Type), "error", err)
			h.remove(s)
			_ = s.conn.Close(websocket.StatusPolicyViolation, "write failed")
			continue
		}
		delivered++
	}
	h.stats.delivered.Add(int64(delivered))
	return delivered
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]map[*subscriber]struct{})
	h.mu.Unlock()

	for _, subs := range sessions {
		for s := range subs {
			_ = s.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.sessions[s.session]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.sessions[s.session] = subs
	}
	subs[s] = struct{}{}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.sessions[s.session]
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.sessions, s.session)
	}
}
