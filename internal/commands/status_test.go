package commands

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"conserv/internal/config"
)

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/session" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"isAuthenticated":true,"user":{"id":"2","name":"Maria","email":"m@example.com","role":"MANAGER"},"isLoading":false}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	cfg := &config.Config{BridgeAddr: strings.TrimPrefix(srv.URL, "http://")}
	if err := Status(cfg, &out); err != nil {
		t.Fatalf("Status returned error: %v", err)
	}

	for _, want := range []string{"signed in", "Maria <m@example.com>", "MANAGER"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output %q does not contain %q", out.String(), want)
		}
	}
}

func TestStatus_BridgeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := &config.Config{BridgeAddr: strings.TrimPrefix(srv.URL, "http://")}
	if err := Status(cfg, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for failing bridge")
	}
}
