// Package webhook delivers JSON payloads to operator configured endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Header tags every outbound request with the kind of payload it carries.
const Header = "X-Evolution-Manager"

const (
	KindBusinessConfig = "business-config"
	KindTest           = "test"
)

// Sender posts payloads with a fixed timeout.
type Sender struct {
	httpClient *http.Client
}

func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{httpClient: &http.Client{Timeout: timeout}}
}

// Send posts payload to url. A non-2xx answer is returned as an error
// together with its status code.
func (s *Sender) Send(ctx context.Context, url, kind string, payload any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(Header, kind)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("webhook answered HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
