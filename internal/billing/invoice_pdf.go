package billing

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/store"
)

// Party is the seller or buyer printed on an invoice.
type Party struct {
	Name    string
	Email   string
	GSTIN   string
	Address []string
}

// BuyerParty builds the buyer block from a profile. The business name wins
// over the email when both are set.
func BuyerParty(p *store.Profile) Party {
	if p == nil {
		return Party{}
	}
	name := p.BusinessName
	if name == "" {
		name = p.Email
	}
	var addr []string
	if p.State != "" {
		addr = append(addr, p.State)
	}
	if p.Country != "" {
		addr = append(addr, p.Country)
	}
	return Party{Name: name, Email: p.Email, GSTIN: p.GSTNumber, Address: addr}
}

// RenderInvoicePDF renders inv as a single-page A4 PDF.
func RenderInvoicePDF(inv *store.Invoice, seller, buyer Party) ([]byte, error) {
	if inv == nil {
		return nil, fmt.Errorf("nil invoice")
	}
	log.Debug().Str("invoiceId", inv.ID).Str("number", inv.Number).Int("lines", len(inv.Lines)).Msg("Rendering invoice PDF")

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetTitle("Invoice "+inv.Number, false)
	pdf.SetCreator("social-scheduler", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 10, "INVOICE", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 5, "Invoice number: "+inv.Number, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 5, "Date: "+inv.IssuedAt.Format("02 Jan 2006"), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 5, "Status: "+inv.Status, "", 1, "L", false, 0, "")
	if inv.PaymentID != "" {
		pdf.CellFormat(0, 5, "Payment: "+inv.PaymentID, "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	top := pdf.GetY()
	writeParty(pdf, 15, top, "From", seller)
	sellerBottom := pdf.GetY()
	writeParty(pdf, 110, top, "Bill to", buyer)
	if sellerBottom > pdf.GetY() {
		pdf.SetY(sellerBottom)
	}
	pdf.Ln(8)

	widths := []float64{70, 60, 20, 30}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range []string{"Item", "Description", "Qty", "Amount"} {
		align := "L"
		if i >= 2 {
			align = "R"
		}
		pdf.CellFormat(widths[i], 8, h, "1", 0, align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for _, line := range inv.Lines {
		pdf.CellFormat(widths[0], 7, line.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, line.Description, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 7, fmt.Sprintf("%d", line.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 7, FormatAmount(line.Amount), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	labelW := widths[0] + widths[1] + widths[2]
	totals := []struct {
		label  string
		amount int64
		bold   bool
	}{
		{"Subtotal", inv.Subtotal, false},
		{"Tax", inv.TaxTotal, false},
		{"Total (" + inv.Currency + ")", inv.Total, true},
	}
	for _, t := range totals {
		style := ""
		if t.bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, 10)
		pdf.CellFormat(labelW, 7, t.label, "", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 7, FormatAmount(t.amount), "", 1, "R", false, 0, "")
	}

	if inv.TaxTotal == 0 {
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "I", 9)
		pdf.MultiCell(0, 5, "Export of services without payment of integrated tax.", "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		log.Error().Err(err).Str("invoiceId", inv.ID).Msg("Failed to render invoice PDF")
		return nil, fmt.Errorf("render invoice %s: %w", inv.Number, err)
	}
	return buf.Bytes(), nil
}

func writeParty(pdf *fpdf.Fpdf, x, y float64, heading string, p Party) {
	pdf.SetXY(x, y)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(85, 6, heading, "", 2, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	lines := []string{p.Name}
	lines = append(lines, p.Address...)
	if p.Email != "" {
		lines = append(lines, p.Email)
	}
	if p.GSTIN != "" {
		lines = append(lines, "GSTIN: "+p.GSTIN)
	}
	for _, l := range lines {
		if l == "" {
			continue
		}
		pdf.CellFormat(85, 5, l, "", 2, "L", false, 0, "")
	}
}
