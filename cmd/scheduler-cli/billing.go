package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/social-scheduler/internal/auth"
	"github.com/fpang/social-scheduler/internal/billing"
	"github.com/fpang/social-scheduler/internal/cli"
	"github.com/fpang/social-scheduler/internal/lambdaboot"
	"github.com/fpang/social-scheduler/internal/payments"
)

func newPlansCmd() *cobra.Command {
	var currency string
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List plans and top-ups with prices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.WritePlans(cmd.OutOrStdout(), currency)
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "USD", "Price currency (USD, INR, EUR, GBP)")
	return cmd
}

func newQuoteCmd() *cobra.Command {
	var plan, cycle, currency, country string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a plan or top-up including GST",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := billing.NewQuote(plan, cycle, currency, country)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(q)
		},
	}
	cmd.Flags().StringVar(&plan, "plan", "", "Plan or top-up ID")
	cmd.Flags().StringVar(&cycle, "cycle", billing.CycleMonthly, "Billing cycle (monthly or yearly)")
	cmd.Flags().StringVar(&currency, "currency", "USD", "Currency")
	cmd.Flags().StringVar(&country, "country", "", "Buyer country code; IN adds GST")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newInvoicePDFCmd(a *app) *cobra.Command {
	var userID, invoiceID, out string
	var yes bool
	cmd := &cobra.Command{
		Use:   "invoice-pdf",
		Short: "Render a stored invoice to a PDF file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, exists, err := cli.ResolveOutputPath(out)
			if err != nil {
				return err
			}
			if exists && !yes && !cli.Confirm(a.in, cmd.ErrOrStderr(), fmt.Sprintf("%s exists. Overwrite?", path)) {
				return errors.New("aborted")
			}

			ctx := cmd.Context()
			st, err := a.openStore(ctx, a.table)
			if err != nil {
				return err
			}
			inv, err := st.GetInvoice(ctx, userID, invoiceID)
			if err != nil {
				return err
			}
			if inv == nil {
				return fmt.Errorf("invoice %s not found for user %s", invoiceID, userID)
			}
			profile, err := st.GetProfile(ctx, userID)
			if err != nil {
				return err
			}
			pdf, err := billing.RenderInvoicePDF(inv, lambdaboot.SellerFromEnv(), billing.BuyerParty(profile))
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, pdf, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", path, len(pdf))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Owner of the invoice")
	cmd.Flags().StringVar(&invoiceID, "invoice", "", "Invoice ID")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output PDF path")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Overwrite an existing file without asking")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("invoice")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// newSignPaymentCmd prints the checkout signature Razorpay would send for an
// order and payment, for exercising /api/payments/verify by hand.
func newSignPaymentCmd() *cobra.Command {
	var orderID, paymentID string
	cmd := &cobra.Command{
		Use:   "sign-payment",
		Short: "Compute the checkout signature for an order and payment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("RAZORPAY_KEY_SECRET")
			if secret == "" {
				return errors.New("RAZORPAY_KEY_SECRET is not set")
			}
			fmt.Fprintln(cmd.OutOrStdout(), payments.PaymentSignature(orderID, paymentID, secret))
			return nil
		},
	}
	cmd.Flags().StringVar(&orderID, "order", "", "Razorpay order ID")
	cmd.Flags().StringVar(&paymentID, "payment", "", "Razorpay payment ID")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("payment")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var userID, email string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			tok, err := newVerifier(secret).Issue(userID, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID (token subject)")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newVerifier(secret string) *auth.Verifier {
	return auth.NewVerifier(secret,
		auth.WithIssuer(os.Getenv("JWT_ISSUER")),
		auth.WithAudience(os.Getenv("JWT_AUDIENCE")),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build commit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), commitHash)
		},
	}
}
