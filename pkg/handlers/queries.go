package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/veridata-io/veridata-engine/pkg/logging"
	"github.com/veridata-io/veridata-engine/pkg/query"
)

// QueryService is the subset of the query service the query handler needs.
type QueryService interface {
	Query(ctx context.Context, sqlText, name string, params ...any) (*query.Result, error)
	Execute(ctx context.Context, sqlText, name string, params ...any) (int64, error)
}

// QueryRequest is the POST body for query and execute endpoints.
type QueryRequest struct {
	Connection string `json:"connection"`
	SQL        string `json:"sql"`
	Params     []any  `json:"params,omitempty"`
}

// ExecuteResponse reports the affected row count of a statement.
type ExecuteResponse struct {
	RowsAffected int64 `json:"rows_affected"`
}

// QueryHandler runs SQL against named connections.
type QueryHandler struct {
	svc    QueryService
	logger *zap.Logger
}

// NewQueryHandler creates a QueryHandler backed by the given service.
func NewQueryHandler(svc QueryService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers the query routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.Query)
	mux.HandleFunc("POST /api/execute", h.Execute)
}

func (h *QueryHandler) decode(w http.ResponseWriter, r *http.Request) (*QueryRequest, bool) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return nil, false
	}
	if req.Connection == "" || req.SQL == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "connection and sql are required")
		return nil, false
	}
	return &req, true
}

// Query handles POST /api/query.
// Runs a row-returning statement and responds with columns and rows.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	result, err := h.svc.Query(r.Context(), req.SQL, req.Connection, req.Params...)
	if err != nil {
		h.logger.Warn("Query failed",
			zap.String("connection", req.Connection),
			zap.String("error", logging.SanitizeError(err)))
		_ = WriteError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to encode query response", zap.Error(err))
	}
}

// Execute handles POST /api/execute.
// Runs a statement and responds with the affected row count.
func (h *QueryHandler) Execute(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	affected, err := h.svc.Execute(r.Context(), req.SQL, req.Connection, req.Params...)
	if err != nil {
		h.logger.Warn("Execute failed",
			zap.String("connection", req.Connection),
			zap.String("error", logging.SanitizeError(err)))
		_ = WriteError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ExecuteResponse{RowsAffected: affected}); err != nil {
		h.logger.Error("Failed to encode execute response", zap.Error(err))
	}
}
