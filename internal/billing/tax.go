package billing

import (
	"math"
	"regexp"
	"strings"
)

// GSTRate is the Indian GST rate on software services, in percent.
const GSTRate = 18.0

// CountryIndia is the only country where GST is charged.
const CountryIndia = "IN"

var gstinPattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][1-9A-Z]Z[0-9A-Z]$`)

// GST is the split of the tax on one amount.
type GST struct {
	Total int64 `json:"total"`
	CGST  int64 `json:"cgst"`
	SGST  int64 `json:"sgst"`
	IGST  int64 `json:"igst"`
}

// Interstate reports whether the tax was charged as IGST.
func (g GST) Interstate() bool { return g.IGST > 0 }

// GSTAmount is the tax on base, rounded to the nearest minor unit.
func GSTAmount(base int64) int64 {
	return int64(math.Round(float64(base) * GSTRate / 100))
}

// CalculateGST splits the tax on base. Inter-state sales carry IGST; sales
// within the seller's state split evenly into CGST and SGST.
func CalculateGST(base int64, interstate bool) GST {
	total := GSTAmount(base)
	if interstate {
		return GST{Total: total, IGST: total}
	}
	half := int64(math.Round(float64(total) / 2))
	return GST{Total: total, CGST: half, SGST: half}
}

// IsInterstate compares the seller and buyer states case-insensitively. An
// unknown state on either side counts as intra-state.
func IsInterstate(businessState, customerState string) bool {
	if businessState == "" || customerState == "" {
		return false
	}
	return !strings.EqualFold(strings.TrimSpace(businessState), strings.TrimSpace(customerState))
}

// ValidGSTIN checks the 15-character GSTIN layout.
func ValidGSTIN(gstin string) bool {
	if gstin == "" {
		return false
	}
	return gstinPattern.MatchString(strings.ToUpper(gstin))
}
