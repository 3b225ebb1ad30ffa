package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jkowitt/loud-legacy-sub001/internal/resolver"
)

func TestChatJSONDecodesContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat["type"] != "json_object" || len(req.Messages) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"lotSizeAcres\":0.25}"}}]}`))
	}))
	defer srv.Close()

	c := NewClient("sk-test", srv.URL, "", time.Second)
	var out struct {
		LotSizeAcres float64 `json:"lotSizeAcres"`
	}
	if err := c.ChatJSON(context.Background(), "sys", "user", 100, 0.3, &out); err != nil {
		t.Fatalf("ChatJSON: %v", err)
	}
	if out.LotSizeAcres != 0.25 {
		t.Fatalf("lot size = %v", out.LotSizeAcres)
	}
}

func TestChatJSONEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	err := NewClient("sk-test", srv.URL, "", time.Second).ChatJSON(context.Background(), "s", "u", 10, 0, &struct{}{})
	var f *resolver.Failure
	if !errors.As(err, &f) || f.Kind != resolver.KindEmpty {
		t.Fatalf("expected empty failure, got %v", err)
	}
}

func TestChatJSONStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewClient("sk-test", srv.URL, "", time.Second).ChatJSON(context.Background(), "s", "u", 10, 0, &struct{}{})
	var f *resolver.Failure
	if !errors.As(err, &f) || f.Kind != resolver.KindHTTP || f.Status != http.StatusTooManyRequests {
		t.Fatalf("expected http failure, got %v", err)
	}
}

func TestConfigured(t *testing.T) {
	if NewClient("", "", "", 0).Configured() {
		t.Fatal("empty key must be unconfigured")
	}
	var nilClient *Client
	if nilClient.Configured() {
		t.Fatal("nil client must be unconfigured")
	}
}
