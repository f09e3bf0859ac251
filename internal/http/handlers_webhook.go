package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dsjohal14/httpingest/internal/commit"
	"github.com/dsjohal14/httpingest/internal/ledger"
	"github.com/dsjohal14/httpingest/internal/router"
	"github.com/go-chi/chi/v5/middleware"
)

const receiptTimeout = 5 * time.Second

// HandleWebhook routes a delivery to its binding and answers only after the runtime has
// acknowledged the delivery's checkpoint. Routing failures answer immediately and never
// reach the coordinator.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", CodeBodyTooLarge)
			return
		}
		h.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("failed to read webhook body")
		writeError(w, http.StatusBadRequest, "failed to read request body", CodeInvalidBody)
		return
	}

	receivedAt := time.Now().UTC()
	resolved, err := h.resolver.Resolve(router.Delivery{
		Path:       r.URL.Path,
		Header:     r.Header,
		Query:      r.URL.Query(),
		Body:       body,
		ReceivedAt: receivedAt,
	})
	if err != nil {
		h.writeResolveError(w, r, err)
		return
	}

	err = h.committer.Submit(r.Context(), commit.Submission{
		Binding: resolved.Binding,
		Doc:     resolved.Doc,
	})
	if err != nil {
		h.writeCommitError(w, r, resolved, err)
		return
	}

	writeJSON(w, http.StatusOK, PublishResponse{Published: resolved.Published})

	h.logger.Debug().
		Int("binding", resolved.Binding).
		Str("doc_id", resolved.ID).
		Msg("delivery committed")

	h.recordReceipt(r, resolved, receivedAt)
}

func (h *Handler) writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	var rerr *router.Error
	if !errors.As(err, &rerr) {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("unexpected routing error")
		writeError(w, http.StatusInternalServerError, "failed to route request", CodeCommitFailed)
		return
	}

	code := CodeInvalidBody
	switch {
	case errors.Is(rerr, router.ErrUnknownResource):
		code = CodeUnknownResource
	case errors.Is(rerr, router.ErrMissingIdentityHeader):
		code = CodeMissingHeader
	}

	h.logger.Info().Err(err).Str("path", r.URL.Path).Msg("webhook rejected")
	writeError(w, rerr.StatusCode(), rerr.Error(), code)
}

func (h *Handler) writeCommitError(w http.ResponseWriter, r *http.Request, resolved *router.Resolved, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The document stays queued and will still be committed.
		h.logger.Info().
			Int("binding", resolved.Binding).
			Str("doc_id", resolved.ID).
			Msg("caller went away before acknowledgement")
		writeError(w, http.StatusServiceUnavailable, "request cancelled before commit", CodeSessionClosed)
	case errors.Is(err, commit.ErrSessionClosed):
		writeError(w, http.StatusServiceUnavailable, "connector is shutting down", CodeSessionClosed)
	default:
		h.logger.Error().
			Err(err).
			Int("binding", resolved.Binding).
			Str("doc_id", resolved.ID).
			Msg("commit failed")
		writeError(w, http.StatusInternalServerError, "failed to commit document", CodeCommitFailed)
	}
}

// recordReceipt writes the receipt in the background so the response never waits on the
// ledger. Failures are only logged.
func (h *Handler) recordReceipt(r *http.Request, resolved *router.Resolved, receivedAt time.Time) {
	if h.ledger == nil {
		return
	}
	receipt := ledger.Receipt{
		Binding:        resolved.Binding,
		Collection:     resolved.Collection,
		DocumentID:     resolved.ID,
		Published:      resolved.Published,
		RequestID:      middleware.GetReqID(r.Context()),
		ReceivedAt:     receivedAt,
		AcknowledgedAt: time.Now().UTC(),
	}
	ctx := context.WithoutCancel(r.Context())

	h.receipts.Add(1)
	go func() {
		defer h.receipts.Done()
		ctx, cancel := context.WithTimeout(ctx, receiptTimeout)
		defer cancel()

		if err := h.ledger.Record(ctx, receipt); err != nil {
			h.logger.Warn().Err(err).Str("doc_id", receipt.DocumentID).Msg("failed to record receipt")
		}
	}()
}
