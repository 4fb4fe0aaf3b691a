package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/billing"
	"github.com/fpang/social-scheduler/internal/events"
	"github.com/fpang/social-scheduler/internal/metrics"
	"github.com/fpang/social-scheduler/internal/store"
)

// Errors returned by Service. The API maps them to status codes.
var (
	ErrInvalidRequest   = errors.New("invalid payment request")
	ErrInvalidSignature = errors.New("invalid payment signature")
	ErrNotCaptured      = errors.New("payment not captured")
	ErrOrderNotFound    = errors.New("order not found")
	ErrAmountMismatch   = errors.New("payment amount does not match order")
)

// Gateway is the subset of the Razorpay client used by Service.
type Gateway interface {
	KeyID() string
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// Store is the persistence Service needs.
type Store interface {
	store.BillingStore
	GetProfile(ctx context.Context, userID string) (*store.Profile, error)
	PutProfile(ctx context.Context, profile *store.Profile) error
	AddEnhancementCredits(ctx context.Context, userID string, n int) (int, error)
}

// Service runs checkout for plans and top-ups.
type Service struct {
	store         Store
	gateway       Gateway
	keySecret     string
	emitter       events.Emitter
	businessState string
	now           func() time.Time
}

// NewService creates a Service. keySecret verifies checkout signatures.
// A nil emitter discards events.
func NewService(st Store, gw Gateway, keySecret string, emitter events.Emitter) *Service {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Service{store: st, gateway: gw, keySecret: keySecret, emitter: emitter, now: time.Now}
}

// SetBusinessState sets the seller's state used to split GST on invoices.
func (s *Service) SetBusinessState(state string) { s.businessState = state }

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// OrderRequest is the body of create-order.
type OrderRequest struct {
	PlanID       string `json:"planId" validate:"required"`
	BillingCycle string `json:"billingCycle" validate:"omitempty,oneof=monthly yearly"`
	Currency     string `json:"currency" validate:"omitempty,len=3"`
	Country      string `json:"country" validate:"omitempty,len=2"`
}

// OrderResponse is returned to the checkout widget.
type OrderResponse struct {
	Free        bool   `json:"free,omitempty"`
	OrderID     string `json:"orderId,omitempty"`
	Amount      int64  `json:"amount"`
	TaxAmount   int64  `json:"taxAmount"`
	TotalAmount int64  `json:"totalAmount"`
	Currency    string `json:"currency,omitempty"`
	IsExport    bool   `json:"isExport"`
	Key         string `json:"key,omitempty"`
}

// CreateOrder quotes req and opens a gateway order for the total. The free
// plan needs no order.
func (s *Service) CreateOrder(ctx context.Context, userID string, req OrderRequest) (*OrderResponse, error) {
	if req.PlanID == "" {
		return nil, fmt.Errorf("%w: planId is required", ErrInvalidRequest)
	}
	if req.PlanID == billing.PlanFree {
		return &OrderResponse{Free: true}, nil
	}
	if req.BillingCycle == "" {
		req.BillingCycle = billing.CycleMonthly
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}
	if req.Country == "" {
		if p, err := s.store.GetProfile(ctx, userID); err == nil && p != nil {
			req.Country = p.Country
		}
	}

	quote, err := billing.NewQuote(req.PlanID, req.BillingCycle, req.Currency, req.Country)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	now := s.now().UTC()
	notes := map[string]string{
		"userId":    userID,
		"planId":    quote.PlanID,
		"taxAmount": strconv.FormatInt(quote.TaxAmount, 10),
		"isExport":  strconv.FormatBool(quote.IsExport),
	}
	if quote.Cycle != "" {
		notes["billingCycle"] = quote.Cycle
	}
	if quote.Country != "" {
		notes["country"] = quote.Country
	}

	order, err := s.gateway.CreateOrder(ctx, quote.TotalAmount, quote.Currency, fmt.Sprintf("order_%d", now.UnixMilli()), notes)
	if err != nil {
		return nil, err
	}

	record := &store.PaymentOrder{
		OrderID:      order.ID,
		UserID:       userID,
		PlanID:       quote.PlanID,
		BillingCycle: quote.Cycle,
		Amount:       quote.Amount,
		TaxAmount:    quote.TaxAmount,
		TotalAmount:  quote.TotalAmount,
		Currency:     quote.Currency,
		Status:       store.OrderCreated,
		IsExport:     quote.IsExport,
		Tax: store.TaxDetails{
			Rate:       quote.TaxRate,
			Country:    quote.Country,
			Applicable: quote.TaxApplicable(),
		},
		CreatedAt: now,
	}
	if err := s.store.PutPaymentOrder(ctx, record); err != nil {
		return nil, fmt.Errorf("store order %s: %w", order.ID, err)
	}

	log.Info().
		Str("userId", userID).
		Str("orderId", order.ID).
		Str("planId", quote.PlanID).
		Int64("total", quote.TotalAmount).
		Str("currency", quote.Currency).
		Bool("isExport", quote.IsExport).
		Msg("Payment order created")

	return &OrderResponse{
		OrderID:     order.ID,
		Amount:      quote.Amount,
		TaxAmount:   quote.TaxAmount,
		TotalAmount: quote.TotalAmount,
		Currency:    quote.Currency,
		IsExport:    quote.IsExport,
		Key:         s.gateway.KeyID(),
	}, nil
}

// VerifyRequest is what the checkout widget returns on success.
type VerifyRequest struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

// VerifyResult describes what a verified payment bought.
type VerifyResult struct {
	OrderID          string     `json:"orderId"`
	PaymentID        string     `json:"paymentId"`
	PlanID           string     `json:"planId"`
	InvoiceID        string     `json:"invoiceId"`
	InvoiceNumber    string     `json:"invoiceNumber,omitempty"`
	CreditsAdded     int        `json:"creditsAdded,omitempty"`
	SubscriptionEnd  *time.Time `json:"subscriptionEndDate,omitempty"`
	AlreadyProcessed bool       `json:"alreadyProcessed,omitempty"`
}

// VerifyPayment confirms a checkout and grants what was bought. Verifying an
// order that is already fulfilled returns the earlier result without granting
// again; of two concurrent verifications only the one that attaches the
// invoice grants.
func (s *Service) VerifyPayment(ctx context.Context, userID string, req VerifyRequest) (*VerifyResult, error) {
	logger := log.With().Str("userId", userID).Str("orderId", req.OrderID).Str("paymentId", req.PaymentID).Logger()

	if !VerifyPaymentSignature(req.OrderID, req.PaymentID, req.Signature, s.keySecret) {
		logger.Warn().Msg("Payment signature mismatch")
		recordVerification("invalid_signature")
		return nil, ErrInvalidSignature
	}

	payment, err := s.gateway.FetchPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != PaymentCaptured && payment.Status != PaymentAuthorized {
		logger.Warn().Str("status", payment.Status).Msg("Payment not captured")
		recordVerification("not_captured")
		return nil, fmt.Errorf("%w: status %s", ErrNotCaptured, payment.Status)
	}

	order, err := s.store.GetPaymentOrder(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order == nil || order.UserID != userID {
		recordVerification("order_not_found")
		return nil, ErrOrderNotFound
	}
	// A webhook may mark the order paid first; only an attached invoice means
	// the purchase was granted.
	if order.InvoiceID != "" {
		logger.Info().Msg("Order already fulfilled")
		return alreadyProcessed(order), nil
	}

	expected := order.Amount + order.TaxAmount
	if payment.Amount != expected {
		logger.Warn().Int64("paid", payment.Amount).Int64("expected", expected).Msg("Payment amount mismatch")
		recordVerification("amount_mismatch")
		return nil, fmt.Errorf("%w: paid %d, expected %d", ErrAmountMismatch, payment.Amount, expected)
	}

	now := s.now().UTC()
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		profile = billing.NewProfile(userID, now)
	}
	invoice := billing.NewInvoice(order, req.PaymentID, billing.IsInterstate(s.businessState, profile.State), now)

	if err := s.store.FulfillOrder(ctx, order.OrderID, req.PaymentID, invoice.ID, now); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("fulfil order: %w", err)
		}
		// A concurrent verification won the fulfilment write and grants the purchase.
		current, gerr := s.store.GetPaymentOrder(ctx, order.OrderID)
		if gerr != nil || current == nil {
			current = order
		}
		logger.Info().Msg("Order fulfilled concurrently")
		return alreadyProcessed(current), nil
	}
	if err := s.store.PutPayment(ctx, &store.Payment{
		PaymentID: req.PaymentID,
		OrderID:   order.OrderID,
		UserID:    userID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Status:    payment.Status,
		Method:    payment.Method,
	}); err != nil {
		return nil, fmt.Errorf("store payment: %w", err)
	}

	result := &VerifyResult{
		OrderID:       order.OrderID,
		PaymentID:     req.PaymentID,
		PlanID:        order.PlanID,
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.Number,
	}

	if billing.IsTopUp(order.PlanID) {
		if err := s.grantTopUp(ctx, profile, order, req.PaymentID, now); err != nil {
			return nil, err
		}
		t, _ := billing.LookupTopUp(order.PlanID)
		result.CreditsAdded = t.Credits
	} else {
		end, err := s.activatePlan(ctx, profile, order, now)
		if err != nil {
			return nil, err
		}
		result.SubscriptionEnd = &end
	}

	if err := s.store.PutInvoice(ctx, invoice); err != nil {
		logger.Error().Err(err).Str("invoiceId", invoice.ID).Msg("Failed to store invoice")
	}

	ev := events.PaymentOutcome{
		OrderID:   order.OrderID,
		PaymentID: req.PaymentID,
		UserID:    userID,
		PlanID:    order.PlanID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		InvoiceID: invoice.ID,
		At:        now,
	}
	if err := s.emitter.Emit(ctx, events.PaymentVerified, ev); err != nil {
		logger.Warn().Err(err).Msg("Failed to emit payment event")
	}

	recordVerification("success")
	logger.Info().Str("planId", order.PlanID).Str("invoice", invoice.Number).Msg("Payment verified")
	return result, nil
}

func alreadyProcessed(order *store.PaymentOrder) *VerifyResult {
	recordVerification("duplicate")
	return &VerifyResult{
		OrderID:          order.OrderID,
		PaymentID:        order.PaymentID,
		PlanID:           order.PlanID,
		InvoiceID:        order.InvoiceID,
		AlreadyProcessed: true,
	}
}

func (s *Service) grantTopUp(ctx context.Context, profile *store.Profile, order *store.PaymentOrder, paymentID string, now time.Time) error {
	t, ok := billing.LookupTopUp(order.PlanID)
	if !ok {
		return fmt.Errorf("%w: unknown top-up %s", ErrInvalidRequest, order.PlanID)
	}
	if _, err := s.store.AddEnhancementCredits(ctx, order.UserID, t.Credits); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("add credits: %w", err)
		}
		profile.EnhancementCredits += t.Credits
		if err := s.store.PutProfile(ctx, profile); err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
	}
	return s.store.PutTopUp(ctx, &store.TopUp{
		ID:        uuid.New().String(),
		UserID:    order.UserID,
		PackageID: t.ID,
		Credits:   t.Credits,
		Amount:    order.Amount + order.TaxAmount,
		Currency:  order.Currency,
		PaymentID: paymentID,
		CreatedAt: now,
	})
}

func (s *Service) activatePlan(ctx context.Context, profile *store.Profile, order *store.PaymentOrder, now time.Time) (time.Time, error) {
	plan, ok := billing.LookupPlan(order.PlanID)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unknown plan %s", ErrInvalidRequest, order.PlanID)
	}
	cycle := order.BillingCycle
	if cycle == "" {
		cycle = billing.CycleMonthly
	}
	billing.ApplyPlan(profile, plan, cycle, now)
	if err := s.store.PutProfile(ctx, profile); err != nil {
		return time.Time{}, fmt.Errorf("update profile: %w", err)
	}

	end := *profile.SubscriptionEndDate
	sub := &store.Subscription{
		ID:           uuid.New().String(),
		UserID:       order.UserID,
		PlanID:       plan.ID,
		Status:       billing.StatusActive,
		BillingCycle: cycle,
		Amount:       order.Amount + order.TaxAmount,
		Currency:     order.Currency,
		StartDate:    now,
		EndDate:      end,
	}
	if err := s.store.PutSubscription(ctx, sub); err != nil {
		return time.Time{}, fmt.Errorf("store subscription: %w", err)
	}
	return end, nil
}

// ActivateFreePlan moves the user onto the free plan for one month.
func (s *Service) ActivateFreePlan(ctx context.Context, userID string) (*store.Profile, error) {
	now := s.now().UTC()
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		profile = &store.Profile{UserID: userID}
	}
	free, _ := billing.LookupPlan(billing.PlanFree)
	billing.ApplyPlan(profile, free, billing.CycleMonthly, now)
	if err := s.store.PutProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	sub := &store.Subscription{
		ID:           uuid.New().String(),
		UserID:       userID,
		PlanID:       billing.PlanFree,
		Status:       billing.StatusActive,
		BillingCycle: billing.CycleMonthly,
		Currency:     "USD",
		StartDate:    now,
		EndDate:      *profile.SubscriptionEndDate,
	}
	if err := s.store.PutSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("store subscription: %w", err)
	}
	log.Info().Str("userId", userID).Time("endDate", sub.EndDate).Msg("Free plan activated")
	return profile, nil
}

func recordVerification(outcome string) {
	metrics.New(metrics.Namespace).
		Dimension("Operation", "VerifyPayment").
		Dimension("Outcome", strings.ToLower(outcome)).
		Count("PaymentVerification").
		Flush()
}
