package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fpang/social-scheduler/internal/billing"
	"github.com/fpang/social-scheduler/internal/scheduler"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS),
// or milliseconds below one second.
func FormatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// WriteBatchResult prints a one-run summary.
func WriteBatchResult(w io.Writer, res *scheduler.BatchResult) {
	fmt.Fprintf(w, "due %d, enqueued %d, processed %d in %s\n",
		res.Due, res.Enqueued, res.Processed, FormatDurationShort(res.Duration))
	fmt.Fprintf(w, "  posted %d, partial %d, failed %d, skipped %d, retried %d\n",
		res.Succeeded, res.Partial, res.Failed, res.Skipped, res.Retried)
}

// WritePlans prints the plan catalogue priced in currency.
func WritePlans(w io.Writer, currency string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAN\tPOSTS\tENHANCEMENTS\tSTORAGE\tMONTHLY\tYEARLY")
	for _, p := range billing.Plans() {
		monthly, err := billing.Price(p.ID, billing.CycleMonthly, currency)
		if err != nil {
			return err
		}
		yearly, err := billing.Price(p.ID, billing.CycleYearly, currency)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n", p.ID, p.PostCredits, p.EnhancementCredits,
			formatStorage(p.StorageLimitMB), billing.FormatAmount(monthly), billing.FormatAmount(yearly))
	}
	for _, t := range billing.TopUps() {
		price, err := billing.Price(t.ID, "", currency)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t-\t%d\t-\t%s\t-\n", t.ID, t.Credits, billing.FormatAmount(price))
	}
	return tw.Flush()
}

func formatStorage(mb int) string {
	if mb == billing.UnlimitedStorage {
		return "unlimited"
	}
	return fmt.Sprintf("%d MB", mb)
}
