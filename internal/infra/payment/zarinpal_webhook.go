package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// hmacHex returns hex(HMAC-SHA256(secret, parts...)).
func hmacHex(secret string, parts ...[]byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// signatureMatches compares a hex signature in constant time. An empty signature or secret never matches.
func signatureMatches(secret, signature string, parts ...[]byte) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(strings.ToLower(signature)))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(hmacHex(secret, parts...))
	return hmac.Equal(got, want)
}

// VerifyZarinPalWebhookSignature checks HMAC-SHA256(amount + authority + status + secret) keyed by secret.
func VerifyZarinPalWebhookSignature(secret string, data map[string]string, signature string) bool {
	return signatureMatches(secret, signature, []byte(data["amount"]+data["authority"]+data["status"]+secret))
}
