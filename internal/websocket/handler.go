// Package websocket carries the line protocol over WebSocket text frames
// and serves the small operator HTTP surface next to it.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/aaronwang/bidding-app/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients are not browsers tied to one origin
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// FrameHandler answers one inbound line with zero or more frames for the
// sender. Broadcasts go through the Manager directly.
type FrameHandler interface {
	Handle(ctx context.Context, connID, line string) [][]byte
}

// ItemReader serves the read-only catalogue endpoints
type ItemReader interface {
	Snapshot() []models.Item
	Get(id int64) (models.Item, bool)
}

// Stats is the body of GET /stats
type Stats struct {
	Connections int `json:"connections"`
	Sessions    int `json:"sessions"`
	Items       int `json:"items"`
	QueuedBids  int `json:"queued_bids"`
}

// Handler handles WebSocket connections
type Handler struct {
	manager *Manager
	router  FrameHandler
	items   ItemReader
	stats   func() Stats
	logger  *slog.Logger
	ctx     context.Context
}

// NewHandler wires the upgrade endpoint to router. ctx bounds the work
// done for every connection; cancel it on shutdown.
func NewHandler(ctx context.Context, manager *Manager, router FrameHandler, items ItemReader, stats func() Stats, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		router:  router,
		items:   items,
		stats:   stats,
		logger:  logger.With("component", "ws-handler"),
		ctx:     ctx,
	}
}

// SetupRoutes configures WebSocket and operator routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.logRequests)

	router.HandleFunc("/ws", h.HandleWebSocket)
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)

	// Read-only catalogue; all writes go through the socket protocol
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(corsMiddleware)
	api.HandleFunc("/items", h.ListItems).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/items/{id}", h.GetItem).Methods(http.MethodGet, http.MethodOptions)

	return router
}

// logRequests does not wrap the ResponseWriter so the upgrade can still
// hijack the connection.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

// HandleWebSocket upgrades the HTTP connection and serves the line protocol
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(uuid.New().String(), conn)
	h.manager.Register(client)

	go h.readPump(client)
}

// readPump feeds inbound frames to the router until the peer goes away.
// A bad frame only produces an ERROR reply; the connection stays open.
func (h *Handler) readPump(c *Client) {
	defer h.manager.Unregister(c)

	c.Conn.SetReadLimit(maxFrame)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Info("websocket closed unexpectedly", "conn_id", c.ID, "error", err)
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		for _, line := range strings.Split(string(message), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			for _, reply := range h.router.Handle(h.ctx, c.ID, line) {
				if !c.trySend(reply) {
					return
				}
			}
		}
	}
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy", "service": "bidding-server"})
}

// GetStats reports live counters
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	var s Stats
	if h.stats != nil {
		s = h.stats()
	}
	s.Connections = h.manager.Count()
	writeJSON(w, s)
}

// ListItems returns the item mirror
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.items.Snapshot())
}

// GetItem returns one item from the mirror
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid item id")
		return
	}
	it, ok := h.items.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "Item not found")
		return
	}
	writeJSON(w, it)
}

func writeJSON(w http.ResponseWriter, v any) {
	respondJSON(w, http.StatusOK, v)
}

func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

// corsMiddleware lets browser dashboards read the catalogue
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
