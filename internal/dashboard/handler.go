package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/qass/buffercache/internal/cache"
	bufsync "github.com/qass/buffercache/internal/sync"
)

// Handler turns daemon notifications into dashboard messages. It implements
// daemon.Listener.
type Handler struct {
	server *Server
	cache  *cache.Cache
	logger *slog.Logger

	mu    sync.Mutex
	stats cache.Stats
}

// NewHandler creates a handler broadcasting on server. A non-nil cache is
// recounted after every pass that changed records.
func NewHandler(server *Server, c *cache.Cache, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		server: server,
		cache:  c,
		logger: logger.With("component", "dashboard"),
	}
}

// OnSyncReport broadcasts the report, then the updated counts.
func (h *Handler) OnSyncReport(report *bufsync.Report) {
	h.broadcast(MessageTypeSyncReport, report)

	if report.Changed() == 0 {
		return
	}
	h.RefreshStats(context.Background())
}

// OnSyncError broadcasts a failed pass.
func (h *Handler) OnSyncError(scope bufsync.Scope, err error) {
	h.broadcast(MessageTypeSyncError, SyncErrorData{Roots: scope.Roots, Error: err.Error()})
}

// RefreshStats recounts the cache and broadcasts the counts.
func (h *Handler) RefreshStats(ctx context.Context) {
	if h.cache == nil {
		return
	}
	stats, err := h.cache.Stats(ctx)
	if err != nil {
		h.logger.Warn("failed to count records", "error", err)
		return
	}

	h.mu.Lock()
	h.stats = *stats
	h.mu.Unlock()

	h.broadcast(MessageTypeStats, stats)
}

// GetStats returns the counts last broadcast.
func (h *Handler) GetStats() cache.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) broadcast(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal message", "type", typ, "error", err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}
