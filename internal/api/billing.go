package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/billing"
	"github.com/fpang/social-scheduler/internal/payments"
	"github.com/fpang/social-scheduler/internal/store"
)

type creditsResponse struct {
	Success      bool              `json:"success"`
	Credits      creditBalances    `json:"credits"`
	Subscription subscriptionState `json:"subscription"`
	StorageMB    int               `json:"storageLimitMb"`
}

type creditBalances struct {
	PostGenerations   int `json:"postGenerations"`
	ImageEnhancements int `json:"imageEnhancements"`
}

type subscriptionState struct {
	Plan          string `json:"plan"`
	Status        string `json:"status"`
	BillingCycle  string `json:"billingCycle,omitempty"`
	EndDate       string `json:"endDate,omitempty"`
	DaysRemaining int    `json:"daysRemaining"`
	Active        bool   `json:"active"`
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	p, err := billing.EnsureProfile(r.Context(), s.Store, userID(r), s.Now())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load credits", err.Error())
		return
	}
	now := s.Now()
	sub := subscriptionState{
		Plan:         p.Plan,
		Status:       p.SubscriptionStatus,
		BillingCycle: p.BillingCycle,
	}
	if p.SubscriptionEndDate != nil {
		end := *p.SubscriptionEndDate
		sub.EndDate = end.UTC().Format(time.RFC3339)
		sub.DaysRemaining = billing.DaysRemaining(end, now)
		sub.Active = billing.IsActive(p.SubscriptionStatus, end, now)
	}
	respondJSON(w, http.StatusOK, creditsResponse{
		Success: true,
		Credits: creditBalances{
			PostGenerations:   p.PostCredits,
			ImageEnhancements: p.EnhancementCredits,
		},
		Subscription: sub,
		StorageMB:    p.StorageLimitMB,
	})
}

// paymentError maps checkout failures onto statuses.
func paymentError(w http.ResponseWriter, err error) {
	var gwErr *payments.GatewayError
	switch {
	case errors.Is(err, payments.ErrOrderNotFound):
		httpError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, payments.ErrInvalidSignature):
		httpError(w, http.StatusBadRequest, "Invalid payment signature")
	case errors.Is(err, payments.ErrNotCaptured):
		httpError(w, http.StatusBadRequest, "Payment not completed")
	case errors.Is(err, payments.ErrAmountMismatch):
		httpError(w, http.StatusBadRequest, "Payment amount mismatch", err.Error())
	case errors.Is(err, payments.ErrInvalidRequest):
		httpError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &gwErr):
		httpError(w, http.StatusBadGateway, "payment gateway error", err.Error())
	default:
		httpError(w, http.StatusInternalServerError, "payment processing failed", err.Error())
	}
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	if s.Payments == nil {
		unavailable(w, "payments")
		return
	}
	var req payments.OrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.Payments.CreateOrder(r.Context(), userID(r), req)
	if err != nil {
		paymentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	if s.Payments == nil {
		unavailable(w, "payments")
		return
	}
	var req payments.VerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.Payments.VerifyPayment(r.Context(), userID(r), req)
	if err != nil {
		paymentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "payment": res})
}

func (s *Server) handleActivateFreePlan(w http.ResponseWriter, r *http.Request) {
	if s.Payments == nil {
		unavailable(w, "payments")
		return
	}
	p, err := s.Payments.ActivateFreePlan(r.Context(), userID(r))
	if err != nil {
		paymentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "profile": p})
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.Store.ListInvoices(r.Context(), userID(r))
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to list invoices", err.Error())
		return
	}
	if invoices == nil {
		invoices = []*store.Invoice{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"invoices": invoices})
}

func (s *Server) handleInvoicePDF(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	inv, err := s.Store.GetInvoice(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load invoice", err.Error())
		return
	}
	if inv == nil {
		httpError(w, http.StatusNotFound, "invoice not found")
		return
	}
	profile, err := s.Store.GetProfile(r.Context(), uid)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load profile", err.Error())
		return
	}

	pdf, err := billing.RenderInvoicePDF(inv, s.Seller, billing.BuyerParty(profile))
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to render invoice", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", inv.Number+".pdf"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pdf); err != nil {
		log.Warn().Err(err).Str("invoiceId", inv.ID).Msg("Failed to write invoice PDF")
	}
}

// handleCron runs one scheduling pass for an external cron caller.
func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	if !cronAuthorized(r, s.CronSecret) {
		httpError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if s.Scheduler == nil {
		unavailable(w, "scheduler")
		return
	}
	res, err := s.Scheduler.RunBatch(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "scheduler run failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "result": res})
}
