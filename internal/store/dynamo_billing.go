package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// --- Payment orders ---

func (s *DynamoStore) PutPaymentOrder(ctx context.Context, order *PaymentOrder) error {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.now().UTC()
	}
	if err := s.putItem(ctx, orderPK(order.OrderID), skOrder, order, putOptions{}); err != nil {
		return fmt.Errorf("put order %s: %w", order.OrderID, err)
	}
	log.Debug().
		Str("orderId", order.OrderID).
		Str("userId", order.UserID).
		Str("planId", order.PlanID).
		Int64("total", order.TotalAmount).
		Str("currency", order.Currency).
		Str("status", order.Status).
		Msg("Payment order persisted")
	return nil
}

func (s *DynamoStore) GetPaymentOrder(ctx context.Context, orderID string) (*PaymentOrder, error) {
	var order PaymentOrder
	found, err := s.getItem(ctx, orderPK(orderID), skOrder, &order)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if !found {
		return nil, nil
	}
	return &order, nil
}

func (s *DynamoStore) MarkOrderPaid(ctx context.Context, orderID, paymentID string, paidAt time.Time) error {
	err := s.updateGuarded(ctx, orderPK(orderID), skOrder,
		"SET #st = :paid, paymentId = :pid, paidAt = :at",
		"attribute_not_exists(invoiceId)",
		map[string]string{"#st": "status"},
		map[string]types.AttributeValue{
			":paid": str(OrderPaid),
			":pid":  str(paymentID),
			":at":   str(paidAt.UTC().Format(time.RFC3339Nano)),
		})
	if errors.Is(err, ErrConflict) {
		// Already fulfilled; the fulfilment write recorded the payment.
		return nil
	}
	return err
}

func (s *DynamoStore) FulfillOrder(ctx context.Context, orderID, paymentID, invoiceID string, paidAt time.Time) error {
	err := s.updateGuarded(ctx, orderPK(orderID), skOrder,
		"SET #st = :paid, paymentId = :pid, invoiceId = :iid, paidAt = :at",
		"attribute_not_exists(invoiceId)",
		map[string]string{"#st": "status"},
		map[string]types.AttributeValue{
			":paid": str(OrderPaid),
			":pid":  str(paymentID),
			":iid":  str(invoiceID),
			":at":   str(paidAt.UTC().Format(time.RFC3339Nano)),
		})
	if errors.Is(err, ErrConflict) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	log.Info().Str("orderId", orderID).Str("paymentId", paymentID).Str("invoiceId", invoiceID).Msg("Order fulfilled")
	return nil
}

// --- Payments ---

func (s *DynamoStore) PutPayment(ctx context.Context, p *Payment) error {
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if err := s.putItem(ctx, orderPK(p.OrderID), skPayment+p.PaymentID, p, putOptions{}); err != nil {
		return fmt.Errorf("put payment %s: %w", p.PaymentID, err)
	}
	return nil
}

func (s *DynamoStore) UpdatePaymentStatus(ctx context.Context, orderID, paymentID, status string) error {
	return s.updateExisting(ctx, orderPK(orderID), skPayment+paymentID,
		"SET #st = :s, updatedAt = :now",
		map[string]string{"#st": "status"},
		map[string]types.AttributeValue{
			":s":   str(status),
			":now": str(s.now().UTC().Format(time.RFC3339Nano)),
		})
}

// --- Subscriptions ---

func (s *DynamoStore) PutSubscription(ctx context.Context, sub *Subscription) error {
	sub.UpdatedAt = s.now().UTC()
	var extra map[string]types.AttributeValue
	if sub.GatewaySubscriptionID != "" {
		extra = map[string]types.AttributeValue{
			"GSI1PK": str(gsiGatewaySubPfx + sub.GatewaySubscriptionID),
			"GSI1SK": str(skSub + sub.ID),
		}
	}
	if err := s.putItem(ctx, userPK(sub.UserID), skSub+sub.ID, sub, putOptions{extra: extra}); err != nil {
		return fmt.Errorf("put subscription %s: %w", sub.ID, err)
	}
	log.Debug().Str("subscriptionId", sub.ID).Str("userId", sub.UserID).Str("status", sub.Status).Msg("Subscription persisted")
	return nil
}

func (s *DynamoStore) GetSubscriptionByGatewayID(ctx context.Context, gatewayID string) (*Subscription, error) {
	items, err := s.queryGSI1(ctx, gsiGatewaySubPfx+gatewayID, "", 1)
	if err != nil {
		return nil, fmt.Errorf("get subscription by gateway id %s: %w", gatewayID, err)
	}
	subs, err := unmarshalAll[Subscription](items)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return subs[0], nil
}

// --- Top-ups ---

func (s *DynamoStore) PutTopUp(ctx context.Context, t *TopUp) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	if err := s.putItem(ctx, userPK(t.UserID), skTopUp+t.ID, t, putOptions{}); err != nil {
		return fmt.Errorf("put top-up %s: %w", t.ID, err)
	}
	return nil
}

// --- Invoices ---

func (s *DynamoStore) PutInvoice(ctx context.Context, inv *Invoice) error {
	if err := s.putItem(ctx, userPK(inv.UserID), skInvoice+inv.ID, inv, putOptions{}); err != nil {
		return fmt.Errorf("put invoice %s: %w", inv.ID, err)
	}
	log.Debug().Str("invoiceId", inv.ID).Str("number", inv.Number).Int64("total", inv.Total).Msg("Invoice persisted")
	return nil
}

func (s *DynamoStore) GetInvoice(ctx context.Context, userID, invoiceID string) (*Invoice, error) {
	var inv Invoice
	found, err := s.getItem(ctx, userPK(userID), skInvoice+invoiceID, &inv)
	if err != nil {
		return nil, fmt.Errorf("get invoice %s: %w", invoiceID, err)
	}
	if !found {
		return nil, nil
	}
	return &inv, nil
}

func (s *DynamoStore) ListInvoices(ctx context.Context, userID string) ([]*Invoice, error) {
	items, err := s.queryBySKPrefix(ctx, userPK(userID), skInvoice)
	if err != nil {
		return nil, fmt.Errorf("list invoices for %s: %w", userID, err)
	}
	invoices, err := unmarshalAll[Invoice](items)
	if err != nil {
		return nil, err
	}
	sortInvoices(invoices)
	return invoices, nil
}

// sortInvoices orders newest first.
func sortInvoices(invoices []*Invoice) {
	sort.SliceStable(invoices, func(i, j int) bool {
		return invoices[i].IssuedAt.After(invoices[j].IssuedAt)
	})
}
