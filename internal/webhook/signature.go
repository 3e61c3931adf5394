// Package webhook authenticates inbound Kommo Chats API deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
)

// SignatureHeader carries the hex HMAC-SHA1 of the raw request body.
const SignatureHeader = "X-Signature"

// Sign returns the lowercase hex HMAC-SHA1 of body keyed by secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the HMAC-SHA1 of rawBody under secret.
// rawBody must be the exact bytes received on the wire. An empty secret or
// signature never verifies.
func Verify(rawBody []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(rawBody, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
