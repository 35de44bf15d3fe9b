package logx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"203.0.113.57:5123", "203.0.113.0"},
		{"198.51.100.9", "198.51.100.0"},
		{"127.0.0.1:80", "127.0.0.1"},
		{"[2001:db8:85a3:1:2:3:4:5]:443", "2001:db8:85a3:1::"},
		{"not-an-ip", "unknown_ip"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, anonymizeIP(tt.in), tt.in)
	}
}

func TestRequestLogger_PassesThrough(t *testing.T) {
	handler := RequestLogger()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}
