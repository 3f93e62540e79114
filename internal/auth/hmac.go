// Package auth verifies that inbound requests carry a fresh HMAC-SHA256
// signature computed with the gateway's shared secret. Verification is pure:
// it has no side effects and touches no shared state.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingCredentials = errors.New("missing timestamp or signature")
	ErrBadTimestamp       = errors.New("timestamp is not a valid unix time")
	ErrStaleTimestamp     = errors.New("timestamp outside the allowed freshness window")
	ErrBadSignature       = errors.New("signature mismatch")
)

// MaxClockSkew bounds how far a request timestamp may lie from the current
// time, in either direction.
const MaxClockSkew = 5 * time.Minute

// Verifier checks request signatures against a shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// NewVerifierAt is like NewVerifier but with an injectable clock.
func NewVerifierAt(secret string, now func() time.Time) *Verifier {
	return &Verifier{secret: []byte(secret), now: now}
}

// Verify checks that signature is a valid HMAC over
// timestamp + ":" + METHOD + ":" + path + ":" + body and that timestamp lies
// within MaxClockSkew of the current time. The signature comparison is
// constant-time; a length mismatch is rejected immediately.
func (v *Verifier) Verify(method, path string, body []byte, timestamp, signature string) error {
	if timestamp == "" || signature == "" {
		return ErrMissingCredentials
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadTimestamp
	}

	skew := v.now().Sub(time.Unix(ts, 0))
	if skew > MaxClockSkew || skew < -MaxClockSkew {
		return ErrStaleTimestamp
	}

	claimed, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}

	expected := computeSignature(v.secret, method, path, body, timestamp)
	if len(claimed) != len(expected) {
		return ErrBadSignature
	}
	if !hmac.Equal(claimed, expected) {
		return ErrBadSignature
	}

	return nil
}

// Sign produces the hex signature a caller must send for the given request.
func Sign(secret, method, path string, body []byte, timestamp string) string {
	return hex.EncodeToString(computeSignature([]byte(secret), method, path, body, timestamp))
}

func computeSignature(secret []byte, method, path string, body []byte, timestamp string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte(":"))
	mac.Write([]byte(strings.ToUpper(method)))
	mac.Write([]byte(":"))
	mac.Write([]byte(path))
	mac.Write([]byte(":"))
	mac.Write(body)
	return mac.Sum(nil)
}
