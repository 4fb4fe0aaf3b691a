package billing

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/fpang/social-scheduler/internal/store"
)

// Invoice statuses.
const (
	InvoicePaid = "paid"
)

const invoiceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// InvoiceNumber returns INV-<unix ms>-<6 upper alphanumerics>. A nil src
// uses crypto/rand.
func InvoiceNumber(now time.Time, src io.Reader) string {
	if src == nil {
		src = rand.Reader
	}
	buf := make([]byte, 6)
	if _, err := io.ReadFull(src, buf); err != nil {
		// Fall back to the nanosecond clock; uniqueness still comes from the timestamp.
		n := now.UnixNano()
		for i := range buf {
			buf[i] = byte(n >> (8 * i))
		}
	}
	suffix := make([]byte, len(buf))
	for i, b := range buf {
		suffix[i] = invoiceAlphabet[int(b)%len(invoiceAlphabet)]
	}
	return fmt.Sprintf("INV-%d-%s", now.UnixMilli(), suffix)
}

// InvoiceLines builds the item line followed by the tax lines that apply.
func InvoiceLines(itemName string, base int64, gst GST) []store.InvoiceLine {
	lines := []store.InvoiceLine{{
		Name:        itemName,
		Description: "Subscription / credits",
		Amount:      base,
		Quantity:    1,
	}}
	switch {
	case gst.IGST > 0:
		lines = append(lines, store.InvoiceLine{Name: "IGST", Description: "IGST @18%", Amount: gst.IGST, Quantity: 1})
	case gst.CGST > 0 || gst.SGST > 0:
		lines = append(lines,
			store.InvoiceLine{Name: "CGST", Description: "CGST @9%", Amount: gst.CGST, Quantity: 1},
			store.InvoiceLine{Name: "SGST", Description: "SGST @9%", Amount: gst.SGST, Quantity: 1},
		)
	}
	return lines
}

// NewInvoice issues a paid invoice for an order settled by paymentID. The tax
// on the invoice is the tax charged on the order, split by interstate.
func NewInvoice(order *store.PaymentOrder, paymentID string, interstate bool, now time.Time) *store.Invoice {
	var gst GST
	if order.TaxAmount > 0 {
		gst = splitTax(order.TaxAmount, interstate)
	}
	return &store.Invoice{
		ID:        uuid.New().String(),
		Number:    InvoiceNumber(now, nil),
		UserID:    order.UserID,
		OrderID:   order.OrderID,
		PaymentID: paymentID,
		Currency:  order.Currency,
		Lines:     InvoiceLines(ItemName(order.PlanID), order.Amount, gst),
		Subtotal:  order.Amount,
		TaxTotal:  order.TaxAmount,
		Total:     order.Amount + order.TaxAmount,
		Status:    InvoicePaid,
		IssuedAt:  now.UTC(),
	}
}

// splitTax divides an already computed tax total. Any odd minor unit goes to SGST.
func splitTax(total int64, interstate bool) GST {
	if interstate {
		return GST{Total: total, IGST: total}
	}
	cgst := total / 2
	return GST{Total: total, CGST: cgst, SGST: total - cgst}
}

// FormatAmount renders minor units with two decimals ("999.00").
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
