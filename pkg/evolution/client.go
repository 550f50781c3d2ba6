// Package evolution is an HTTP client for the Evolution WhatsApp gateway API.
package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout = 10 * time.Second
	Integration    = "WHATSAPP-BAILEYS"
	maxBodyBytes   = 4 << 20
)

// WebhookEvents are the gateway events subscribed when a webhook is set.
var WebhookEvents = []string{
	"APPLICATION_STARTUP",
	"QRCODE_UPDATED",
	"CONNECTION_UPDATE",
	"MESSAGES_UPSERT",
	"MESSAGES_UPDATE",
	"SEND_MESSAGE",
}

// Client calls the Evolution API with a fixed header set and timeout.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a client. A non-positive timeout means DefaultTimeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured gateway URL.
func (c *Client) BaseURL() string { return c.baseURL }

// CreateInstance registers a new instance on the gateway.
func (c *Client) CreateInstance(ctx context.Context, name string) (CreateResult, error) {
	var res CreateResult
	err := c.do(ctx, http.MethodPost, "/instance/create", map[string]any{
		"instanceName": name,
		"integration":  Integration,
		"qrcode":       true,
	}, &res)
	return res, err
}

// Connect asks the gateway for a fresh QR payload.
func (c *Client) Connect(ctx context.Context, name string) (QRCode, error) {
	var res connectResponse
	if err := c.do(ctx, http.MethodGet, "/instance/connect/"+url.PathEscape(name), nil, &res); err != nil {
		return QRCode{}, err
	}
	return res.payload(), nil
}

func (c *Client) DeleteInstance(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/instance/delete/"+url.PathEscape(name), nil, nil)
}

func (c *Client) RestartInstance(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPut, "/instance/restart/"+url.PathEscape(name), nil, nil)
}

func (c *Client) Logout(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/instance/logout/"+url.PathEscape(name), nil, nil)
}

// FetchInstances lists every instance known to the gateway.
func (c *Client) FetchInstances(ctx context.Context) ([]RemoteInstance, error) {
	var res []RemoteInstance
	if err := c.do(ctx, http.MethodGet, "/instance/fetchInstances", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// InstanceState returns the remote connection state of name.
// found is false when the gateway does not list the instance.
func (c *Client) InstanceState(ctx context.Context, name string) (state string, found bool, err error) {
	all, err := c.FetchInstances(ctx)
	if err != nil {
		return "", false, err
	}
	for _, inst := range all {
		if inst.InstanceName() == name {
			return inst.State(), true, nil
		}
	}
	return "", false, nil
}

// SetWebhook points the gateway's event webhook for name at target.
func (c *Client) SetWebhook(ctx context.Context, name, target string) error {
	return c.do(ctx, http.MethodPost, "/webhook/set/"+url.PathEscape(name), map[string]any{
		"url":     target,
		"enabled": true,
		"events":  WebhookEvents,
	}, nil)
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, name, number, text string) (SendResult, error) {
	var res SendResult
	err := c.do(ctx, http.MethodPost, "/message/sendText/"+url.PathEscape(name), map[string]string{
		"number": number,
		"text":   text,
	}, &res)
	return res, err
}

// SendMedia sends an image, video, audio or document message.
func (c *Client) SendMedia(ctx context.Context, name string, msg MediaMessage) (SendResult, error) {
	var res SendResult
	err := c.do(ctx, http.MethodPost, "/message/sendMedia/"+url.PathEscape(name), msg, &res)
	return res, err
}

// FetchProfile returns the WhatsApp profile of the connected account.
func (c *Client) FetchProfile(ctx context.Context, name string) (Profile, error) {
	var res Profile
	err := c.do(ctx, http.MethodGet, "/chat/whatsappProfile/"+url.PathEscape(name), nil, &res)
	return res, err
}

// CheckNumbers reports which numbers have a WhatsApp account.
func (c *Client) CheckNumbers(ctx context.Context, name string, numbers []string) ([]NumberCheck, error) {
	var res []NumberCheck
	err := c.do(ctx, http.MethodPost, "/chat/whatsappNumbers/"+url.PathEscape(name), map[string]any{
		"numbers": numbers,
	}, &res)
	return res, err
}

func (c *Client) FindChats(ctx context.Context, name string) ([]map[string]any, error) {
	var res []map[string]any
	err := c.do(ctx, http.MethodGet, "/chat/findChats/"+url.PathEscape(name), nil, &res)
	return res, err
}

// FindMessages returns up to limit stored messages exchanged with remoteJID.
func (c *Client) FindMessages(ctx context.Context, name, remoteJID string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 50
	}
	var res []map[string]any
	err := c.do(ctx, http.MethodPost, "/chat/findMessages/"+url.PathEscape(name), map[string]any{
		"where": map[string]string{"remoteJid": remoteJID},
		"limit": limit,
	}, &res)
	return res, err
}

func (c *Client) MarkAsRead(ctx context.Context, name string, keys []MessageKey) error {
	return c.do(ctx, http.MethodPut, "/chat/markMessageAsRead/"+url.PathEscape(name), map[string]any{
		"readMessages": keys,
	}, nil)
}

// UpdatePresence sets the typing/recording/available presence towards number.
func (c *Client) UpdatePresence(ctx context.Context, name, number, presence string) error {
	return c.do(ctx, http.MethodPut, "/chat/updatePresence/"+url.PathEscape(name), map[string]string{
		"number":   number,
		"presence": presence,
	}, nil)
}

// TestConnection lists instances to check URL and API key together.
func (c *Client) TestConnection(ctx context.Context) ConnectionTest {
	all, err := c.FetchInstances(ctx)
	if err != nil {
		return ConnectionTest{Status: "error", Message: err.Error(), Diagnosis: Diagnose(err)}
	}
	return ConnectionTest{Status: "connected", Instances: len(all)}
}

// Probe reports whether the gateway host answers at all. Any HTTP response
// counts as online.
func (c *Client) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// RawResponse is what a diagnostic request saw.
type RawResponse struct {
	Status      int
	ContentType string
}

// Raw sends a diagnostic request without interpreting the body. A nil header
// means the configured API key; otherwise header is sent as given.
func (c *Client) Raw(ctx context.Context, method, path string, header http.Header) (RawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return RawResponse{}, err
	}
	if header == nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("apikey", c.apiKey)
	} else {
		req.Header = header.Clone()
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RawResponse{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	return RawResponse{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}, nil
}

// APIKey returns the configured key.
func (c *Client) APIKey() string { return c.apiKey }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if isHTML(resp.Header.Get("Content-Type"), data) {
		msg := "unexpected HTML response"
		if title := htmlTitle(data); title != "" {
			msg += " (" + title + ")"
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Endpoint: path, HTML: true}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorMessage(data)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Endpoint: path}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{Status: resp.StatusCode, Message: "invalid JSON response: " + err.Error(), Endpoint: path}
	}
	return nil
}
