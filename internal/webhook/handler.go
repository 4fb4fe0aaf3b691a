// Package webhook handles inbound Meta webhooks and provides the HMAC
// helpers shared with the payment gateway webhook.
//
// Verification (GET):
//
//	Meta sends hub.mode, hub.verify_token and hub.challenge. The handler
//	echoes the challenge when the verify token matches.
//
// Event notification (POST):
//
//	Meta sends a JSON payload signed with X-Hub-Signature-256 (HMAC-SHA256
//	under the app secret). Each change in the payload is passed to the
//	configured EventFunc.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// maxBodySize caps the request body. Meta batches up to 1000 updates per
// notification, which stays well under this.
const maxBodySize = 1 << 20

// Payload is a Meta webhook notification.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes for one object (page or Instagram account).
type Entry struct {
	ID      string   `json:"id"`
	Time    int64    `json:"time"`
	Changes []Change `json:"changes"`
}

// Change is one field update.
type Change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// Event is a single change delivered to an EventFunc.
type Event struct {
	Object  string
	EntryID string
	Time    int64
	Field   string
	Value   json.RawMessage
}

// EventFunc handles one change. Errors are logged; Meta is always acknowledged
// so it does not redeliver.
type EventFunc func(ctx context.Context, ev Event) error

// MetaHandler handles Meta webhook verification and event notifications.
type MetaHandler struct {
	verifyToken string
	appSecret   string
	onEvent     EventFunc
}

// NewMetaHandler creates a handler. onEvent may be nil.
func NewMetaHandler(verifyToken, appSecret string, onEvent EventFunc) *MetaHandler {
	return &MetaHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		onEvent:     onEvent,
	}
}

// ServeHTTP dispatches to verification (GET) or event handling (POST).
func (h *MetaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost:
		h.handleEvent(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *MetaHandler) handleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "" || challenge == "" {
		log.Warn().Str("mode", mode).Msg("Webhook verification missing required parameters")
		http.Error(w, "missing required parameters", http.StatusBadRequest)
		return
	}
	if mode != "subscribe" {
		log.Warn().Str("mode", mode).Msg("Webhook verification unexpected mode")
		http.Error(w, "invalid mode", http.StatusBadRequest)
		return
	}
	if token != h.verifyToken {
		log.Warn().Msg("Webhook verification failed: invalid verify token")
		http.Error(w, "invalid verify token", http.StatusForbidden)
		return
	}

	log.Info().Msg("Webhook verification successful")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

func (h *MetaHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		log.Error().Err(err).Msg("Webhook event: failed to read body")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		log.Warn().Msg("Webhook event: empty body")
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		log.Warn().Msg("Webhook event: missing X-Hub-Signature-256 header")
		http.Error(w, "missing signature", http.StatusForbidden)
		return
	}
	if !VerifyMetaSignature(h.appSecret, body, signature) {
		log.Warn().Msg("Webhook event: invalid signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn().Err(err).Msg("Webhook event: payload is not valid JSON")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	log.Info().
		Str("object", payload.Object).
		Int("entries", len(payload.Entry)).
		Int("bodySize", len(body)).
		Msg("Webhook event received")

	h.dispatch(r.Context(), payload)
	w.WriteHeader(http.StatusOK)
}

func (h *MetaHandler) dispatch(ctx context.Context, payload Payload) {
	if h.onEvent == nil {
		return
	}
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			ev := Event{
				Object:  payload.Object,
				EntryID: entry.ID,
				Time:    entry.Time,
				Field:   change.Field,
				Value:   change.Value,
			}
			if err := h.onEvent(ctx, ev); err != nil {
				log.Error().Err(err).
					Str("object", ev.Object).
					Str("entryId", ev.EntryID).
					Str("field", ev.Field).
					Msg("Webhook event handler failed")
			}
		}
	}
}
