package discord

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrBadPublicKey is returned for a public key that is not 32 hex encoded bytes.
var ErrBadPublicKey = errors.New("bad ed25519 public key")

// ParsePublicKey decodes the application public key from its hex form.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadPublicKey, len(b))
	}
	return ed25519.PublicKey(b), nil
}

// Verify checks the X-Signature-Ed25519 / X-Signature-Timestamp pair of an
// HTTP interaction request.
func Verify(key ed25519.PublicKey, signature, timestamp string, body []byte) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize || len(key) != ed25519.PublicKeySize {
		return false
	}
	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, body...)
	return ed25519.Verify(key, msg, sig)
}
