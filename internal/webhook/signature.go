// Package webhook delivers terminal-state notifications for generation
// tasks and verifies inbound callback signatures.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
)

// SignatureHeader carries the HMAC on both outbound and inbound requests.
const SignatureHeader = "X-Hub-Signature"

// Canonical re-encodes a JSON document with object keys sorted, so both
// sides sign the same bytes regardless of how their encoder orders fields.
func Canonical(doc []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order
	return json.Marshal(v)
}

// Sign computes the base64 HMAC-SHA256 of the canonical form of doc.
func Sign(secret string, doc []byte) (string, error) {
	canonical, err := Canonical(doc)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a received signature in constant time.
func Verify(secret string, doc []byte, signature string) bool {
	expected, err := Sign(secret, doc)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
