package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientSend(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/emails" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key123" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "msg-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key123")
	id, err := c.Send(context.Background(), &Message{From: "a@b.c", To: "x@y.z", Subject: "hi", HTML: "<p>hi</p>"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "msg-1" {
		t.Fatalf("message id = %q", id)
	}
	if got.To != "x@y.z" || got.Subject != "hi" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestClientSend429WithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key")
	_, err := c.Send(context.Background(), &Message{To: "x@y.z"})

	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rle.RetryAfter != 2*time.Minute {
		t.Fatalf("retry after = %v, want 2m", rle.RetryAfter)
	}
}

func TestClientSend429WithoutHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key")
	_, err := c.Send(context.Background(), &Message{To: "x@y.z"})

	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rle.RetryAfter != DefaultRetryAfter {
		t.Fatalf("retry after = %v, want default", rle.RetryAfter)
	}
}

func TestClientSendRateLimitByErrorName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"name": "rate_limit_exceeded", "message": "slow down"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key")
	_, err := c.Send(context.Background(), &Message{To: "x@y.z"})
	if !IsRateLimit(err) {
		t.Fatalf("err = %v, want rate limit", err)
	}
}

func TestClientSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"name": "validation_error", "message": "invalid to address"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key")
	_, err := c.Send(context.Background(), &Message{To: "nope"})
	if err == nil || IsRateLimit(err) {
		t.Fatalf("err = %v, want plain API error", err)
	}
}
