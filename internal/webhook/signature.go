package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignHex returns the hex-encoded HMAC-SHA256 of msg under secret.
func SignHex(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHex reports whether sigHex is the HMAC-SHA256 of msg under secret.
// The comparison is constant time; malformed hex never matches.
func VerifyHex(secret string, msg []byte, sigHex string) bool {
	if secret == "" || sigHex == "" {
		return false
	}
	received, err := hex.DecodeString(strings.TrimSpace(sigHex))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hmac.Equal(received, mac.Sum(nil))
}

// VerifyMetaSignature checks an X-Hub-Signature-256 header ("sha256=<hex>")
// against the raw request body.
func VerifyMetaSignature(appSecret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) || len(header) == len(prefix) {
		return false
	}
	return VerifyHex(appSecret, body, header[len(prefix):])
}
