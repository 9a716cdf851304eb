package connectors

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"traffic-insights/internal/apperr"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestGetJSONDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		io.WriteString(w, `{"name":"ok"}`)
	}))
	defer srv.Close()

	client := NewClient(5*time.Second, 1, quietLogger())
	var out struct {
		Name string `json:"name"`
	}
	err := client.GetJSON(context.Background(), srv.URL, map[string]string{"Authorization": "Bearer tok"}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Name != "ok" {
		t.Fatalf("decoded %+v", out)
	}
}

func TestGetJSONClientErrorFailsImmediately(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(5*time.Second, 3, quietLogger())
	err := client.GetJSON(context.Background(), srv.URL, nil, &struct{}{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperr.Is(err, apperr.KindUpstreamUnavailable) {
		t.Fatalf("kind = %v, want upstream unavailable", err)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Fatalf("4xx retried %d times, want a single attempt", n)
	}
}

func TestGetJSONRetriesServerErrors(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	client := NewClient(5*time.Second, 2, quietLogger())
	if err := client.GetJSON(context.Background(), srv.URL, nil, &struct{}{}); err != nil {
		t.Fatalf("expected recovery on retry, got %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 2 {
		t.Fatalf("requests = %d, want 2", n)
	}
}

func TestPostJSONRejectsClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad signature", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(5*time.Second, 3, quietLogger())
	err := client.PostJSON(context.Background(), srv.URL, []byte(`{}`), nil)
	if !apperr.Is(err, apperr.KindUpstreamUnavailable) {
		t.Fatalf("got %v, want upstream unavailable", err)
	}
}
