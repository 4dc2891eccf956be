/**
 * @description
 * HTTP handlers for the SMS gateway webhook and the internal operator endpoints.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/zestyping/blockpower-be-sub000/internal/domain"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// ReplyHandler applies an inbound SMS reply.
type ReplyHandler interface {
	HandleReply(ctx context.Context, from, body string) error
}

// BatchRunner runs the payout batch on demand.
type BatchRunner interface {
	RunPayoutBatch(ctx context.Context) (int, error)
}

// QueueInspector reports the disbursement queue depth.
type QueueInspector interface {
	Len() int
}

// AccountStore maintains the primary-account invariant.
type AccountStore interface {
	SetPrimaryAccount(ctx context.Context, ambassadorID, accountID string) error
}

// RateLimiter bounds inbound replies per phone number.
type RateLimiter interface {
	Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (bool, error)
}

// Handler holds the services the HTTP handlers interact with.
type Handler struct {
	replies      ReplyHandler
	batches      BatchRunner
	queue        QueueInspector
	accounts     AccountStore
	limiter      RateLimiter
	smsPerMinute int
	logger       *slog.Logger
}

// NewHandler creates a Handler. limiter may be nil, and smsPerMinute <= 0 disables the
// inbound limit.
func NewHandler(replies ReplyHandler, batches BatchRunner, queue QueueInspector, accounts AccountStore, limiter RateLimiter, smsPerMinute int, logger *slog.Logger) *Handler {
	return &Handler{
		replies:      replies,
		batches:      batches,
		queue:        queue,
		accounts:     accounts,
		limiter:      limiter,
		smsPerMinute: smsPerMinute,
		logger:       logger,
	}
}

// handleInboundSMS always acknowledges the gateway so it does not retry; processing errors are
// logged only.
func (h *Handler) handleInboundSMS(w http.ResponseWriter, r *http.Request) {
	defer respondWithTwiML(w)

	if err := r.ParseForm(); err != nil {
		h.logger.Warn("failed to parse inbound sms form", "error", err)
		return
	}
	from := r.PostForm.Get("From")
	body := r.PostForm.Get("Body")
	if from == "" {
		h.logger.Warn("inbound sms without sender")
		return
	}

	if h.limiter != nil && h.smsPerMinute > 0 {
		allowed, err := h.limiter.Allow(r.Context(), "sms_inbound", from, h.smsPerMinute, time.Minute)
		if err != nil {
			h.logger.Warn("sms rate limiter unavailable", "error", err)
		}
		if !allowed {
			h.logger.Warn("inbound sms rate limited", "from", from)
			return
		}
	}

	if err := h.replies.HandleReply(r.Context(), from, body); err != nil {
		h.logger.Error("failed to handle inbound sms", "from", from, "error", err)
	}
}

func (h *Handler) handleRunPayouts(w http.ResponseWriter, r *http.Request) {
	enqueued, err := h.batches.RunPayoutBatch(r.Context())
	if err != nil {
		h.logger.Error("manual payout batch failed", "error", err)
		http.Error(w, "payout batch failed", http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"enqueued": enqueued})
}

func (h *Handler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]int{"depth": h.queue.Len()})
}

func (h *Handler) handleSetPrimaryAccount(w http.ResponseWriter, r *http.Request) {
	ambassadorID := chi.URLParam(r, "id")
	accountID := chi.URLParam(r, "accountID")
	if ambassadorID == "" || accountID == "" {
		http.Error(w, "Ambassador ID and account ID are required", http.StatusBadRequest)
		return
	}

	if err := h.accounts.SetPrimaryAccount(r.Context(), ambassadorID, accountID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("failed to set primary account", "ambassador_id", ambassadorID, "account_id", accountID, "error", err)
		http.Error(w, "failed to set primary account", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondWithTwiML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(emptyTwiML))
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
