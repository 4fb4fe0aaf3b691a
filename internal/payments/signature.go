package payments

import "github.com/fpang/social-scheduler/internal/webhook"

// PaymentSignature is the checkout signature for an order and payment.
func PaymentSignature(orderID, paymentID, keySecret string) string {
	return webhook.SignHex(keySecret, []byte(orderID+"|"+paymentID))
}

// VerifyPaymentSignature checks the signature the checkout widget returns,
// an HMAC-SHA256 over "order_id|payment_id" keyed with the API secret.
func VerifyPaymentSignature(orderID, paymentID, signature, keySecret string) bool {
	if orderID == "" || paymentID == "" {
		return false
	}
	return webhook.VerifyHex(keySecret, []byte(orderID+"|"+paymentID), signature)
}

// VerifyWebhookSignature checks X-Razorpay-Signature against the raw body.
func VerifyWebhookSignature(body []byte, signature, webhookSecret string) bool {
	return webhook.VerifyHex(webhookSecret, body, signature)
}
