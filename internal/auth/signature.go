package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignaturePrefix is the algorithm tag GitHub puts in front of the digest
const SignaturePrefix = "sha256="

// Authenticator verifies webhook payloads against a shared secret
type Authenticator struct {
	secret []byte
}

// New creates an authenticator for the given webhook secret
func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// IsValid reports whether signatureHeader is the signature of rawBody.
// Malformed headers are simply invalid.
func (a *Authenticator) IsValid(signatureHeader, rawBody string) bool {
	// The prefix check does not depend on the secret, so failing early leaks nothing
	if !strings.HasPrefix(signatureHeader, SignaturePrefix) {
		return false
	}
	expected := a.sign([]byte(rawBody))
	return hmac.Equal([]byte(signatureHeader), []byte(expected))
}

func (a *Authenticator) sign(body []byte) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Sign returns the x-hub-signature-256 header value for body
func Sign(secret, body string) string {
	return New(secret).sign([]byte(body))
}
