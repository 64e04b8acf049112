package adapters

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// AuthProvider signs outgoing REST requests and supplies the
// authentication payload for the user WebSocket channel. It
// generalizes the teacher's Auth into a pluggable interface: the
// teacher's L1 EIP-712 signing derived L2 credentials from an Ethereum
// wallet (venue-specific protocol authentication, out of spec.md §1's
// scope), but its L2 HMAC header scheme needs no blockchain dependency
// and is kept as the default implementation any REST venue using
// key/secret HMAC auth can reuse.
type AuthProvider interface {
	// Headers returns the auth headers for a signed request.
	Headers(method, path, body string) (map[string]string, error)
	// WSAuthPayload returns the payload the user WebSocket channel
	// expects at subscribe time, or nil for an unauthenticated feed.
	WSAuthPayload() map[string]string
}

// HMACAuthProvider signs requests with "timestamp+method+path+body"
// HMAC-SHA256, generalizing the teacher's Auth.buildHMAC/L2Headers
// (internal/exchange/auth.go) from Polymarket's POLY_* header names to
// venue-agnostic ones, and dropping the L1 EIP-712 key-derivation step
// entirely: credentials are supplied directly rather than derived from
// an on-chain wallet signature.
type HMACAuthProvider struct {
	APIKey     string
	Secret     string // base64-encoded, any of the standard encodings
	Passphrase string
}

// NewHMACAuthProvider constructs an HMACAuthProvider from pre-issued
// venue credentials.
func NewHMACAuthProvider(apiKey, secret, passphrase string) *HMACAuthProvider {
	return &HMACAuthProvider{APIKey: apiKey, Secret: secret, Passphrase: passphrase}
}

func (a *HMACAuthProvider) Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := a.sign(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("adapters: build hmac signature: %w", err)
	}
	return map[string]string{
		"X-API-KEY":    a.APIKey,
		"X-SIGNATURE":  sig,
		"X-TIMESTAMP":  timestamp,
		"X-PASSPHRASE": a.Passphrase,
	}, nil
}

func (a *HMACAuthProvider) WSAuthPayload() map[string]string {
	return map[string]string{
		"apiKey":     a.APIKey,
		"secret":     a.Secret,
		"passphrase": a.Passphrase,
	}
}

// sign tries every common base64 flavor for Secret before failing,
// matching the teacher's tolerance for whichever encoding a venue
// issues (URL-safe, standard, padded or not).
func (a *HMACAuthProvider) sign(timestamp, method, path, body string) (string, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}

	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(a.Secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	message := timestamp + method + path + body
	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// NoAuthProvider skips signing entirely, for venues/paths that need
// only unauthenticated market-data reads (e.g. book/bar requests).
type NoAuthProvider struct{}

func (NoAuthProvider) Headers(method, path, body string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (NoAuthProvider) WSAuthPayload() map[string]string { return nil }
