package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/dsjohal14/httpingest/internal/commit"
	"github.com/dsjohal14/httpingest/internal/ledger"
	"github.com/dsjohal14/httpingest/internal/libs/obs"
	"github.com/dsjohal14/httpingest/internal/router"
	"github.com/rs/zerolog"
)

// MaxBodyBytes limits a webhook request body (10MB)
const MaxBodyBytes = 10 * 1024 * 1024

// Resolver maps deliveries to bindings
type Resolver interface {
	Resolve(d router.Delivery) (*router.Resolved, error)
}

// Committer accepts resolved documents and returns once they are acknowledged
type Committer interface {
	Submit(ctx context.Context, s commit.Submission) error
}

// Handler contains the webhook HTTP handlers
type Handler struct {
	resolver  Resolver
	committer Committer
	ledger    ledger.Store
	metrics   *obs.Metrics
	logger    zerolog.Logger

	receipts sync.WaitGroup
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithLedger records a receipt for every acknowledged delivery
func WithLedger(store ledger.Store) HandlerOption {
	return func(h *Handler) {
		h.ledger = store
	}
}

// WithMetrics counts handled requests
func WithMetrics(m *obs.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates a new webhook handler
func NewHandler(resolver Resolver, committer Committer, logger zerolog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		resolver:  resolver,
		committer: committer,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WaitReceipts blocks until every in-flight receipt write has finished
func (h *Handler) WaitReceipts() {
	h.receipts.Wait()
}

// Helper functions used across all handlers

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response with the given status code
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
