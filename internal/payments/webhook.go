package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/billing"
	"github.com/fpang/social-scheduler/internal/store"
)

const maxWebhookBody = 1 << 20

// WebhookEvent is a Razorpay webhook delivery.
type WebhookEvent struct {
	Event     string `json:"event"`
	AccountID string `json:"account_id"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity Payment `json:"entity"`
		} `json:"payment,omitempty"`
		Order *struct {
			Entity Order `json:"entity"`
		} `json:"order,omitempty"`
		Subscription *struct {
			Entity GatewaySubscription `json:"entity"`
		} `json:"subscription,omitempty"`
	} `json:"payload"`
}

// GatewaySubscription is a Razorpay subscription entity.
type GatewaySubscription struct {
	ID           string            `json:"id"`
	PlanID       string            `json:"plan_id"`
	Status       string            `json:"status"`
	CustomerID   string            `json:"customer_id,omitempty"`
	CurrentStart int64             `json:"current_start,omitempty"`
	CurrentEnd   int64             `json:"current_end,omitempty"`
	Notes        map[string]string `json:"notes,omitempty"`
}

// subscriptionStatus maps subscription.* events to stored statuses.
var subscriptionStatus = map[string]string{
	"subscription.activated":     billing.StatusActive,
	"subscription.charged":       billing.StatusActive,
	"subscription.resumed":       billing.StatusActive,
	"subscription.authenticated": billing.StatusPending,
	"subscription.halted":        billing.StatusHalted,
	"subscription.cancelled":     billing.StatusCancelled,
	"subscription.completed":     billing.StatusCompleted,
	"subscription.paused":        billing.StatusPaused,
}

// WebhookStore is the persistence the webhook needs.
type WebhookStore interface {
	store.BillingStore
	GetProfile(ctx context.Context, userID string) (*store.Profile, error)
	PutProfile(ctx context.Context, profile *store.Profile) error
}

// WebhookHandler receives Razorpay server-to-server events.
type WebhookHandler struct {
	store  WebhookStore
	secret string
	now    func() time.Time
}

// NewWebhookHandler creates a handler that verifies deliveries with secret.
func NewWebhookHandler(st WebhookStore, secret string) *WebhookHandler {
	return &WebhookHandler{store: st, secret: secret, now: time.Now}
}

// SetClock overrides the time source.
func (h *WebhookHandler) SetClock(now func() time.Time) { h.now = now }

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	signature := r.Header.Get("X-Razorpay-Signature")
	if signature == "" {
		log.Warn().Msg("Razorpay webhook: missing signature")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No signature found"})
		return
	}
	if !VerifyWebhookSignature(body, signature, h.secret) {
		log.Warn().Msg("Razorpay webhook: invalid signature")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid signature"})
		return
	}

	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Warn().Err(err).Msg("Razorpay webhook: invalid JSON")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid payload"})
		return
	}

	log.Info().Str("event", ev.Event).Int("bodySize", len(body)).Msg("Razorpay webhook received")
	if err := h.Handle(r.Context(), &ev); err != nil {
		log.Error().Err(err).Str("event", ev.Event).Msg("Razorpay webhook processing failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Webhook processing failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Handle applies one verified event. Records the event refers to that do not
// exist locally are logged and skipped.
func (h *WebhookHandler) Handle(ctx context.Context, ev *WebhookEvent) error {
	switch ev.Event {
	case "payment.captured", "payment.authorized", "payment.failed":
		if ev.Payload.Payment == nil {
			return nil
		}
		return h.updatePayment(ctx, &ev.Payload.Payment.Entity)
	case "order.paid":
		if ev.Payload.Order == nil {
			return nil
		}
		paymentID := ""
		if ev.Payload.Payment != nil {
			paymentID = ev.Payload.Payment.Entity.ID
		}
		return h.markOrderPaid(ctx, ev.Payload.Order.Entity.ID, paymentID)
	}

	if status, ok := subscriptionStatus[ev.Event]; ok {
		if ev.Payload.Subscription == nil {
			return nil
		}
		return h.updateSubscription(ctx, ev.Event, status, &ev.Payload.Subscription.Entity)
	}

	log.Info().Str("event", ev.Event).Msg("Unhandled Razorpay webhook event")
	return nil
}

func (h *WebhookHandler) updatePayment(ctx context.Context, p *Payment) error {
	err := h.store.UpdatePaymentStatus(ctx, p.OrderID, p.ID, p.Status)
	if err == nil {
		log.Info().Str("paymentId", p.ID).Str("status", p.Status).Msg("Payment status updated")
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("update payment %s: %w", p.ID, err)
	}

	// First we hear of this payment; the checkout may never have called verify.
	userID := ""
	if order, err := h.store.GetPaymentOrder(ctx, p.OrderID); err == nil && order != nil {
		userID = order.UserID
	}
	record := &store.Payment{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		UserID:    userID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Status:    p.Status,
		Method:    p.Method,
	}
	if err := h.store.PutPayment(ctx, record); err != nil {
		return fmt.Errorf("store payment %s: %w", p.ID, err)
	}
	log.Info().Str("paymentId", p.ID).Str("status", p.Status).Msg("Payment recorded from webhook")
	return nil
}

func (h *WebhookHandler) markOrderPaid(ctx context.Context, orderID, paymentID string) error {
	order, err := h.store.GetPaymentOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order == nil {
		log.Warn().Str("orderId", orderID).Msg("order.paid for unknown order")
		return nil
	}
	if order.Status == store.OrderPaid {
		return nil
	}
	if paymentID == "" {
		paymentID = order.PaymentID
	}
	// The plan and invoice are granted by VerifyPayment, which still runs for
	// an order the webhook marked paid.
	if err := h.store.MarkOrderPaid(ctx, orderID, paymentID, h.now()); err != nil {
		return fmt.Errorf("mark order %s paid: %w", orderID, err)
	}
	log.Info().Str("orderId", orderID).Msg("Order marked paid from webhook")
	return nil
}

func (h *WebhookHandler) updateSubscription(ctx context.Context, event, status string, gs *GatewaySubscription) error {
	sub, err := h.store.GetSubscriptionByGatewayID(ctx, gs.ID)
	if err != nil {
		return fmt.Errorf("load subscription %s: %w", gs.ID, err)
	}
	if sub == nil {
		log.Warn().Str("subscriptionId", gs.ID).Str("event", event).Msg("Webhook for unknown subscription")
		return nil
	}

	now := h.now().UTC()
	sub.Status = status
	if event == "subscription.charged" {
		sub.StartDate = now
		sub.EndDate = billing.SubscriptionEndDate(now, sub.BillingCycle)
	}
	if err := h.store.PutSubscription(ctx, sub); err != nil {
		return fmt.Errorf("update subscription %s: %w", gs.ID, err)
	}
	log.Info().Str("subscriptionId", gs.ID).Str("status", status).Msg("Subscription status updated")

	if event != "subscription.activated" {
		return nil
	}
	return h.activateProfile(ctx, sub.UserID, gs, now)
}

// activateProfile upgrades a profile still waiting on its first charge.
func (h *WebhookHandler) activateProfile(ctx context.Context, userID string, gs *GatewaySubscription, now time.Time) error {
	profile, err := h.store.GetProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("load profile %s: %w", userID, err)
	}
	if profile == nil || profile.SubscriptionStatus != billing.StatusPending {
		return nil
	}
	planID, cycle, ok := billing.ParseGatewayPlanID(gs.PlanID)
	if !ok {
		log.Warn().Str("gatewayPlanId", gs.PlanID).Msg("Cannot derive plan from gateway plan id")
		return nil
	}
	plan, _ := billing.LookupPlan(planID)
	billing.ApplyPlan(profile, plan, cycle, now)
	if err := h.store.PutProfile(ctx, profile); err != nil {
		return fmt.Errorf("update profile %s: %w", userID, err)
	}
	log.Info().Str("userId", userID).Str("planId", planID).Msg("Profile activated from subscription webhook")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
