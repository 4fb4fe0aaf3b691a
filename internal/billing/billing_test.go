package billing

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/fpang/social-scheduler/internal/store"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 30, 0, 0, time.UTC)
}

func TestSubscriptionEndDate(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		cycle string
		want  time.Time
	}{
		{"plain month", date(2026, 3, 15), CycleMonthly, date(2026, 4, 15)},
		{"jan 31 to feb 28", date(2026, 1, 31), CycleMonthly, date(2026, 2, 28)},
		{"jan 31 leap year", date(2028, 1, 31), CycleMonthly, date(2028, 2, 29)},
		{"mar 31 to apr 30", date(2026, 3, 31), CycleMonthly, date(2026, 4, 30)},
		{"dec to jan", date(2026, 12, 31), CycleMonthly, date(2027, 1, 31)},
		{"plain year", date(2026, 6, 1), CycleYearly, date(2027, 6, 1)},
		{"feb 29 plus year", date(2028, 2, 29), CycleYearly, date(2029, 2, 28)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SubscriptionEndDate(tt.start, tt.cycle)
			if !got.Equal(tt.want) {
				t.Errorf("SubscriptionEndDate(%s, %s) = %s, want %s", tt.start, tt.cycle, got, tt.want)
			}
		})
	}
	if got := NextBillingDate(date(2026, 1, 31), CycleMonthly); !got.Equal(date(2026, 2, 28)) {
		t.Errorf("NextBillingDate = %s", got)
	}
}

func TestDaysRemaining(t *testing.T) {
	now := date(2026, 5, 1)
	tests := []struct {
		end  time.Time
		want int
	}{
		{now.Add(-time.Hour), 0},
		{now, 0},
		{now.Add(time.Minute), 1},
		{now.Add(24 * time.Hour), 1},
		{now.Add(25 * time.Hour), 2},
		{now.AddDate(0, 0, 30), 30},
	}
	for _, tt := range tests {
		if got := DaysRemaining(tt.end, now); got != tt.want {
			t.Errorf("DaysRemaining(%s) = %d, want %d", tt.end.Sub(now), got, tt.want)
		}
	}
}

func TestIsActive(t *testing.T) {
	now := date(2026, 5, 1)
	if !IsActive(StatusActive, now.Add(time.Hour), now) {
		t.Error("active future subscription should be active")
	}
	if IsActive(StatusActive, now.Add(-time.Hour), now) {
		t.Error("expired subscription should not be active")
	}
	if IsActive(StatusCancelled, now.Add(time.Hour), now) {
		t.Error("cancelled subscription should not be active")
	}
}

func TestPrice(t *testing.T) {
	tests := []struct {
		id, cycle, currency string
		want                int64
		wantErr             bool
	}{
		{PlanStarter, CycleMonthly, "USD", 1200, false},
		{PlanStarter, CycleYearly, "inr", 999000, false},
		{PlanGrowth, CycleMonthly, "EUR", 2800, false},
		{PlanScale, CycleYearly, "GBP", 90000, false},
		{PlanFree, CycleMonthly, "USD", 0, false},
		{"enhancement-100", "", "INR", 329900, false},
		{"enhancement-250", CycleYearly, "USD", 8000, false},
		{"enterprise", CycleMonthly, "USD", 0, true},
		{PlanStarter, "weekly", "USD", 0, true},
		{PlanStarter, CycleMonthly, "JPY", 0, true},
		{"enhancement-5", "", "USD", 0, true},
	}
	for _, tt := range tests {
		got, err := Price(tt.id, tt.cycle, tt.currency)
		if (err != nil) != tt.wantErr {
			t.Errorf("Price(%s,%s,%s) err = %v, wantErr %v", tt.id, tt.cycle, tt.currency, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Price(%s,%s,%s) = %d, want %d", tt.id, tt.cycle, tt.currency, got, tt.want)
		}
	}
}

func TestNewQuote(t *testing.T) {
	q, err := NewQuote(PlanStarter, CycleMonthly, "INR", "in")
	if err != nil {
		t.Fatal(err)
	}
	if q.Amount != 99900 || q.TaxAmount != 17982 || q.TotalAmount != 117882 || q.IsExport {
		t.Errorf("India quote = %+v", q)
	}
	if !q.TaxApplicable() || q.TaxRate != GSTRate {
		t.Errorf("India quote should carry GST: %+v", q)
	}

	q, err = NewQuote(PlanGrowth, CycleYearly, "USD", "US")
	if err != nil {
		t.Fatal(err)
	}
	if q.TaxAmount != 0 || q.TotalAmount != 30000 || !q.IsExport {
		t.Errorf("export quote = %+v", q)
	}

	q, err = NewQuote("enhancement-25", CycleMonthly, "USD", "")
	if err != nil {
		t.Fatal(err)
	}
	if q.Cycle != "" || q.TotalAmount != 1200 {
		t.Errorf("top-up quote = %+v", q)
	}

	if _, err := NewQuote("bogus", CycleMonthly, "USD", "IN"); err == nil {
		t.Error("unknown plan should fail")
	}
}

func TestCalculateGST(t *testing.T) {
	intra := CalculateGST(99900, false)
	if intra.Total != 17982 || intra.CGST != 8991 || intra.SGST != 8991 || intra.IGST != 0 {
		t.Errorf("intra-state = %+v", intra)
	}
	if intra.Interstate() {
		t.Error("intra-state reported as interstate")
	}
	inter := CalculateGST(99900, true)
	if inter.Total != 17982 || inter.IGST != 17982 || inter.CGST != 0 {
		t.Errorf("inter-state = %+v", inter)
	}
	if got := GSTAmount(1); got != 0 {
		t.Errorf("GSTAmount(1) = %d", got)
	}
	if got := GSTAmount(3); got != 1 {
		t.Errorf("GSTAmount(3) = %d", got)
	}
}

func TestIsInterstate(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Karnataka", "karnataka", false},
		{"Karnataka", "Maharashtra", true},
		{"", "Maharashtra", false},
		{"Karnataka", "", false},
	}
	for _, tt := range tests {
		if got := IsInterstate(tt.a, tt.b); got != tt.want {
			t.Errorf("IsInterstate(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestValidGSTIN(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"29ABCDE1234F1Z5", true},
		{"29abcde1234f1z5", true},
		{"29ABCDE1234F0Z5", false},
		{"29ABCDE1234F1X5", false},
		{"ABCDE1234F1Z5", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidGSTIN(tt.in); got != tt.want {
			t.Errorf("ValidGSTIN(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInvoiceNumber(t *testing.T) {
	now := time.UnixMilli(1767225600123)
	got := InvoiceNumber(now, bytes.NewReader([]byte{0, 1, 25, 26, 35, 36}))
	if got != "INV-1767225600123-ABZ09A" {
		t.Errorf("InvoiceNumber = %s", got)
	}

	pattern := regexp.MustCompile(`^INV-\d+-[A-Z0-9]{6}$`)
	if n := InvoiceNumber(time.Now(), nil); !pattern.MatchString(n) {
		t.Errorf("random invoice number %q does not match format", n)
	}
}

func TestInvoiceLines(t *testing.T) {
	lines := InvoiceLines("Starter Plan", 99900, CalculateGST(99900, false))
	if len(lines) != 3 || lines[1].Description != "CGST @9%" || lines[2].Amount != 8991 {
		t.Errorf("intra-state lines = %+v", lines)
	}
	lines = InvoiceLines("Starter Plan", 99900, CalculateGST(99900, true))
	if len(lines) != 2 || lines[1].Name != "IGST" {
		t.Errorf("inter-state lines = %+v", lines)
	}
	lines = InvoiceLines("Starter Plan", 1200, GST{})
	if len(lines) != 1 || lines[0].Amount != 1200 {
		t.Errorf("export lines = %+v", lines)
	}
}

func TestNewInvoice(t *testing.T) {
	order := &store.PaymentOrder{
		OrderID: "order_1", UserID: "u1", PlanID: PlanStarter,
		Amount: 99900, TaxAmount: 17983, TotalAmount: 117883, Currency: "INR",
	}
	inv := NewInvoice(order, "pay_1", false, date(2026, 5, 1))
	if inv.Total != 117883 || inv.Subtotal != 99900 || inv.TaxTotal != 17983 {
		t.Errorf("invoice totals = %+v", inv)
	}
	var lineSum int64
	for _, l := range inv.Lines {
		lineSum += l.Amount
	}
	if lineSum != inv.Total {
		t.Errorf("lines sum to %d, total %d", lineSum, inv.Total)
	}
	if inv.Lines[0].Name != "Starter Plan" || inv.Status != InvoicePaid || inv.ID == "" {
		t.Errorf("invoice = %+v", inv)
	}
	if !strings.HasPrefix(inv.Number, "INV-") {
		t.Errorf("number = %s", inv.Number)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := map[int64]string{0: "0.00", 5: "0.05", 99900: "999.00", 117882: "1178.82", -250: "-2.50"}
	for in, want := range tests {
		if got := FormatAmount(in); got != want {
			t.Errorf("FormatAmount(%d) = %s, want %s", in, got, want)
		}
	}
}

func TestParseGatewayPlanID(t *testing.T) {
	plan, cycle, ok := ParseGatewayPlanID("plan_growth_yearly")
	if !ok || plan != PlanGrowth || cycle != CycleYearly {
		t.Errorf("got %s %s %v", plan, cycle, ok)
	}
	plan, cycle, ok = ParseGatewayPlanID("plan_starter")
	if !ok || plan != PlanStarter || cycle != CycleMonthly {
		t.Errorf("got %s %s %v", plan, cycle, ok)
	}
	if _, _, ok := ParseGatewayPlanID("plan_Hx82kd"); ok {
		t.Error("opaque gateway id should not parse")
	}
}

func TestPlansOrdered(t *testing.T) {
	ps := Plans()
	if len(ps) != 4 || ps[0].ID != PlanFree || ps[3].ID != PlanScale {
		t.Errorf("plans order = %v", ps)
	}
	if ts := TopUps(); len(ts) != 3 || ts[0].Credits != 25 {
		t.Errorf("top-ups = %v", ts)
	}
}

func TestRenderInvoicePDF(t *testing.T) {
	order := &store.PaymentOrder{OrderID: "order_1", UserID: "u1", PlanID: PlanGrowth, Amount: 3000, Currency: "USD"}
	inv := NewInvoice(order, "pay_1", false, date(2026, 5, 1))
	pdf, err := RenderInvoicePDF(inv,
		Party{Name: "Social Scheduler", Address: []string{"Bengaluru, KA"}, GSTIN: "29ABCDE1234F1Z5"},
		Party{Name: "Acme", Email: "ops@acme.test"})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Errorf("output is not a PDF: %q", pdf[:8])
	}
	if _, err := RenderInvoicePDF(nil, Party{}, Party{}); err == nil {
		t.Error("nil invoice should fail")
	}
}

func TestNewProfileAndStorage(t *testing.T) {
	p := NewProfile("u1", date(2026, 1, 31))
	if p.Plan != PlanFree || p.PostCredits != 15 || p.EnhancementCredits != 3 || p.SubscriptionStatus != StatusActive {
		t.Errorf("profile = %+v", p)
	}
	if !p.SubscriptionEndDate.Equal(date(2026, 2, 28)) {
		t.Errorf("end = %v", p.SubscriptionEndDate)
	}
	if got := StorageLimitBytes(p); got != 50<<20 {
		t.Errorf("free storage = %d", got)
	}
	growth, _ := LookupPlan(PlanGrowth)
	ApplyPlan(p, growth, CycleYearly, date(2026, 1, 31))
	if got := StorageLimitBytes(p); got != UnlimitedStorage {
		t.Errorf("growth storage = %d", got)
	}
	if !p.SubscriptionEndDate.Equal(date(2027, 1, 31)) {
		t.Errorf("yearly end = %v", p.SubscriptionEndDate)
	}
	if got := StorageLimitBytes(nil); got != 50<<20 {
		t.Errorf("nil profile storage = %d", got)
	}
}

func TestEnsureProfile(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	p, err := EnsureProfile(ctx, st, "u1", date(2026, 3, 1))
	if err != nil {
		t.Fatalf("EnsureProfile: %v", err)
	}
	if p.Plan != PlanFree || p.PostCredits != 15 {
		t.Errorf("new profile = %+v", p)
	}
	if _, err := st.DeductPostCredit(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	again, err := EnsureProfile(ctx, st, "u1", date(2026, 3, 2))
	if err != nil {
		t.Fatal(err)
	}
	if again.PostCredits != 14 {
		t.Errorf("existing profile was reset: credits = %d", again.PostCredits)
	}
}

func TestBuyerParty(t *testing.T) {
	if got := BuyerParty(nil); got.Name != "" || got.Address != nil {
		t.Errorf("nil profile = %+v", got)
	}
	p := &store.Profile{Email: "a@example.com", State: "Karnataka", Country: "IN", GSTNumber: "29ABCDE1234F1Z5"}
	got := BuyerParty(p)
	if got.Name != "a@example.com" || got.GSTIN != "29ABCDE1234F1Z5" || len(got.Address) != 2 || got.Address[0] != "Karnataka" {
		t.Errorf("BuyerParty = %+v", got)
	}
	p.BusinessName = "Acme Bakery"
	if got := BuyerParty(p); got.Name != "Acme Bakery" || got.Email != "a@example.com" {
		t.Errorf("business name not preferred: %+v", got)
	}
}
