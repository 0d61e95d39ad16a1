// internal/transport/signature.go
//
// HMAC request signing shared by sender and receiver.
//
// The signature covers the exact serialized body, so any re-serialization
// between signing and verification breaks it.  Callers must sign and
// verify raw bytes.

package transport

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Header names used on signed webhook requests.
const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares a presented hex signature against the expected
// one in constant time.
func VerifySignature(body []byte, secret, presented string) bool {
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(presented))
}
