package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPIgnoresForwardedFromUntrustedPeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:4512"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	if got := ClientIP(req, nil); got != "198.51.100.7" {
		t.Fatalf("untrusted peer must not spoof via headers, got %q", got)
	}
}

func TestClientIPHonorsForwardedFromTrustedProxy(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("parse trusted proxies: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:4512"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.9.9.9")

	if got := ClientIP(req, trusted); got != "203.0.113.9" {
		t.Fatalf("expected first untrusted hop, got %q", got)
	}
}

func TestNewTrustedProxiesRejectsGarbage(t *testing.T) {
	if _, err := NewTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatal("garbage entry accepted")
	}
}
