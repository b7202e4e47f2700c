package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10"})
	if err != nil {
		t.Fatalf("NewTrustedProxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		trusted    *TrustedProxies
		want       string
	}{
		{
			name:       "untrusted peer ignores forwarded headers",
			remoteAddr: "198.51.100.10:1234",
			xff:        "203.0.113.5",
			realIP:     "203.0.113.6",
			want:       "198.51.100.10",
		},
		{
			name:       "trusted peer honors forwarded-for",
			remoteAddr: "10.0.0.20:1234",
			xff:        "203.0.113.5",
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "chain walks to first untrusted hop",
			remoteAddr: "10.0.0.20:1234",
			xff:        "203.0.113.5, 10.0.0.10",
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "real-ip fallback when forwarded-for unusable",
			remoteAddr: "10.0.0.20:1234",
			xff:        "invalid",
			realIP:     "203.0.113.7",
			trusted:    trusted,
			want:       "203.0.113.7",
		},
		{
			name:       "fully trusted chain yields leftmost hop",
			remoteAddr: "10.0.0.20:1234",
			xff:        "10.0.0.5, 10.0.0.10",
			trusted:    trusted,
			want:       "10.0.0.5",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://example.com", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	if tp, err := NewTrustedProxies(nil); err != nil || tp != nil {
		t.Fatalf("empty list: tp=%v err=%v, want nil, nil", tp, err)
	}
	if _, err := NewTrustedProxies([]string{"bad-cidr"}); err == nil {
		t.Fatal("expected a parse error for an invalid entry")
	}
}
