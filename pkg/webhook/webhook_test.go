package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSendSetsHeaderAndBody(t *testing.T) {
	var kind string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind = r.Header.Get(Header)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	status, err := NewSender(time.Second).Send(context.Background(), srv.URL, KindTest, map[string]string{"type": "test"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if status != http.StatusAccepted || kind != KindTest || got["type"] != "test" {
		t.Fatalf("status=%d kind=%q body=%v", status, kind, got)
	}
}

func TestSendReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	status, err := NewSender(time.Second).Send(context.Background(), srv.URL, KindBusinessConfig, struct{}{})
	if err == nil || status != http.StatusInternalServerError {
		t.Fatalf("expected 500 error, got status=%d err=%v", status, err)
	}
}
