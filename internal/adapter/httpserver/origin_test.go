package httpserver

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCheckOrigin(t *testing.T) {
	appURL := "https://feed.example.com/"

	tests := []struct {
		name          string
		origin        string
		host          string
		isDevelopment bool
		want          bool
	}{
		// Always allowed
		{"empty origin", "", "", false, true},
		{"app origin", "https://feed.example.com", "", false, true},
		{"same host as request", "http://10.0.0.5:8088", "10.0.0.5:8088", false, true},

		// Rejected in production
		{"different host", "https://evil.com", "feed.example.com", false, false},
		{"different port", "https://feed.example.com:9090", "", false, false},
		{"http instead of https", "http://feed.example.com", "", false, false},
		{"subdomain", "https://sub.feed.example.com", "", false, false},

		// Localhost: allowed in dev, rejected in prod
		{"localhost dev", "http://localhost:8088", "", true, true},
		{"127.0.0.1 dev", "http://127.0.0.1:3000", "", true, true},
		{"localhost prod rejected", "http://localhost:8088", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewCheckOrigin(appURL, tt.isDevelopment)
			r, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "/feed", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checker(r))
		})
	}
}

func TestNewCheckOrigin_NoAppURL(t *testing.T) {
	checker := NewCheckOrigin("", false)
	r, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "/prompt", nil)
	r.Host = "feed.example.com"
	r.Header.Set("Origin", "https://other.example.com")

	assert.False(t, checker(r))
}

func TestExtractOrigin(t *testing.T) {
	tests := []struct {
		name   string
		rawURL string
		want   string
	}{
		{"full URL with path", "https://example.com/feed", "https://example.com"},
		{"URL with port", "https://example.com:8443/path", "https://example.com:8443"},
		{"http URL", "http://localhost:8088/", "http://localhost:8088"},
		{"empty string", "", ""},
		{"no host", "mailto:user@example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractOrigin(tt.rawURL))
		})
	}
}
