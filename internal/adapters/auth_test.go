package adapters

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestHMACAuthProviderHeadersIncludesSignature(t *testing.T) {
	t.Parallel()
	secret := base64.URLEncoding.EncodeToString([]byte("super-secret-key"))
	a := NewHMACAuthProvider("key123", secret, "pass123")

	headers, err := a.Headers("POST", "/orders", `{"side":"BUY"}`)
	if err != nil {
		t.Fatalf("Headers() error = %v", err)
	}
	if headers["X-API-KEY"] != "key123" {
		t.Errorf("X-API-KEY = %q, want key123", headers["X-API-KEY"])
	}
	if headers["X-SIGNATURE"] == "" {
		t.Error("expected non-empty X-SIGNATURE")
	}
	if headers["X-TIMESTAMP"] == "" {
		t.Error("expected non-empty X-TIMESTAMP")
	}
}

func TestHMACAuthProviderSignDeterministicForSameTimestamp(t *testing.T) {
	t.Parallel()
	secret := base64.URLEncoding.EncodeToString([]byte("another-secret"))
	a := NewHMACAuthProvider("key", secret, "pass")

	sig1, err := a.sign("1700000000", "GET", "/orders", "")
	if err != nil {
		t.Fatal(err)
	}
	sig2, err := a.sign("1700000000", "GET", "/orders", "")
	if err != nil {
		t.Fatal(err)
	}
	if sig1 != sig2 {
		t.Errorf("expected deterministic signature, got %q vs %q", sig1, sig2)
	}

	sig3, err := a.sign("1700000000", "GET", "/other", "")
	if err != nil {
		t.Fatal(err)
	}
	if sig1 == sig3 {
		t.Error("expected different signature for different path")
	}
}

func TestHMACAuthProviderTriesMultipleEncodings(t *testing.T) {
	t.Parallel()
	// StdEncoding secret (with padding) should still decode via the
	// fallback loop even though URLEncoding is tried first.
	secret := base64.StdEncoding.EncodeToString([]byte("std-encoded-secret"))
	a := NewHMACAuthProvider("key", secret, "pass")

	if _, err := a.sign("1700000000", "GET", "/book", ""); err != nil {
		t.Errorf("sign() error = %v, want nil", err)
	}
}

func TestHMACAuthProviderInvalidSecretErrors(t *testing.T) {
	t.Parallel()
	a := NewHMACAuthProvider("key", "not-valid-base64!!!", "pass")
	if _, err := a.Headers("GET", "/book", ""); err == nil {
		t.Error("expected error for invalid base64 secret")
	}
}

func TestNoAuthProviderReturnsEmptyHeaders(t *testing.T) {
	t.Parallel()
	var a NoAuthProvider
	headers, err := a.Headers("GET", "/book", "")
	if err != nil {
		t.Fatalf("Headers() error = %v", err)
	}
	if len(headers) != 0 {
		t.Errorf("expected empty headers, got %v", headers)
	}
	if a.WSAuthPayload() != nil {
		t.Error("expected nil WSAuthPayload for NoAuthProvider")
	}
}

func TestHMACAuthProviderWSAuthPayload(t *testing.T) {
	t.Parallel()
	a := NewHMACAuthProvider("key", base64.URLEncoding.EncodeToString([]byte("s")), "pass")
	payload := a.WSAuthPayload()
	if !strings.Contains(payload["apiKey"], "key") {
		t.Errorf("apiKey = %q, want key", payload["apiKey"])
	}
}
