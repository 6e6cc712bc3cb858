package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const (
	SignatureHeader = "X-Microtrax-Signature"
	EventIDHeader   = "X-Microtrax-Event-Id"
)

// Sign returns hex(HMAC-SHA256(body, secret)).
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature validates a webhook signature on the receiving side.
func VerifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, sigBytes)
}
