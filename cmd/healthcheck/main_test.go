package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddr(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "127.0.0.1:8980"},
		{"garbage", "127.0.0.1:8980"},
		{"0.0.0.0:9000", "127.0.0.1:9000"},
		{":9000", "127.0.0.1:9000"},
		{"[::]:9000", "127.0.0.1:9000"},
		{"10.0.0.5:8980", "10.0.0.5:8980"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeAddr(tt.in), tt.in)
	}
}

func TestCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	assert.Equal(t, 0, check(strings.TrimPrefix(healthy.URL, "http://")))
	assert.Equal(t, 1, check(strings.TrimPrefix(failing.URL, "http://")))
}
