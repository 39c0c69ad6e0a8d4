package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/veridata-io/veridata-engine/pkg/pool"
)

// ConnectionService is the subset of the query service the connections
// handler needs for pool administration.
type ConnectionService interface {
	ListConnections() []pool.PoolInfo
	CloseConnection(name string) (bool, error)
	CloseAllConnections() int
}

// ListConnectionsResponse wraps the pool listing for JSON clients.
type ListConnectionsResponse struct {
	Connections []pool.PoolInfo `json:"connections"`
}

// CloseAllResponse reports how many pools a bulk close shut down.
type CloseAllResponse struct {
	Closed int `json:"closed"`
}

// ConnectionsHandler exposes pool administration endpoints.
type ConnectionsHandler struct {
	svc    ConnectionService
	logger *zap.Logger
}

// NewConnectionsHandler creates a ConnectionsHandler backed by the given service.
func NewConnectionsHandler(svc ConnectionService, logger *zap.Logger) *ConnectionsHandler {
	return &ConnectionsHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers the connection administration routes on the given mux.
func (h *ConnectionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/connections", h.List)
	mux.HandleFunc("DELETE /api/connections", h.CloseAll)
	mux.HandleFunc("DELETE /api/connections/{name}", h.Close)
}

// List handles GET /api/connections.
// Reports every open pool with its validity and member counts, from
// registry bookkeeping alone.
func (h *ConnectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	infos := h.svc.ListConnections()
	if infos == nil {
		infos = []pool.PoolInfo{}
	}

	if err := WriteJSON(w, http.StatusOK, ListConnectionsResponse{Connections: infos}); err != nil {
		h.logger.Error("Failed to encode connections response", zap.Error(err))
	}
}

// Close handles DELETE /api/connections/{name}.
// Closing a connection that has no open pool returns 404.
func (h *ConnectionsHandler) Close(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	closed, err := h.svc.CloseConnection(name)
	if err != nil {
		h.logger.Error("Failed to close connection pool",
			zap.String("connection", name),
			zap.Error(err))
		_ = WriteError(w, err)
		return
	}
	if !closed {
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "no open pool for connection "+name)
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]string{"status": "closed", "connection": name}); err != nil {
		h.logger.Error("Failed to encode close response", zap.Error(err))
	}
}

// CloseAll handles DELETE /api/connections.
func (h *ConnectionsHandler) CloseAll(w http.ResponseWriter, r *http.Request) {
	closed := h.svc.CloseAllConnections()
	h.logger.Info("Closed all connection pools", zap.Int("count", closed))

	if err := WriteJSON(w, http.StatusOK, CloseAllResponse{Closed: closed}); err != nil {
		h.logger.Error("Failed to encode close-all response", zap.Error(err))
	}
}
