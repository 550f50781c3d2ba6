package business

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/evolution"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/webhook"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/app"
)

type receiver struct {
	mu     sync.Mutex
	status int
	kinds  []string
	bodies []map[string]any
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var body map[string]any
	_ = json.NewDecoder(req.Body).Decode(&body)
	r.kinds = append(r.kinds, req.Header.Get(webhook.Header))
	r.bodies = append(r.bodies, body)
	if r.status != 0 {
		w.WriteHeader(r.status)
	}
}

type gatewayHooks struct {
	mu  sync.Mutex
	set map[string]string
}

func (g *gatewayHooks) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if strings.HasPrefix(r.URL.Path, "/webhook/set/") {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		g.set[strings.TrimPrefix(r.URL.Path, "/webhook/set/")], _ = body["url"].(string)
	}
	_, _ = w.Write([]byte(`{}`))
}

func setup(t *testing.T, webhookURL string) (*Service, *app.App, *gatewayHooks) {
	t.Helper()
	gw := &gatewayHooks{set: map[string]string{}}
	gsrv := httptest.NewServer(gw)
	t.Cleanup(gsrv.Close)
	a, err := app.New(app.Config{
		Version:  "1.0.0",
		Gateway:  evolution.NewClient(gsrv.URL, "k", time.Second),
		Webhooks: webhook.NewSender(time.Second),
		Now:      func() time.Time { return time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	inst := domain.Instance{ID: "inst_1", Name: "Barbearia", RemoteName: "Barbearia", WebhookURL: webhookURL}
	if err := a.State.AddInstance(context.Background(), inst); err != nil {
		t.Fatalf("add: %v", err)
	}
	return NewService(a), a, gw
}

func profile() domain.BusinessProfile {
	return domain.BusinessProfile{
		BasicInfo: domain.BasicInfo{BusinessName: "Barbearia Silva", BusinessCity: "Campinas", BusinessPhone: "19998765432"},
		WhatsApp:  domain.WhatsAppSettings{WelcomeMessage: "Olá!"},
	}
}

func TestSaveForwardsToWebhook(t *testing.T) {
	rcv := &receiver{}
	hook := httptest.NewServer(rcv)
	defer hook.Close()
	s, a, _ := setup(t, hook.URL)

	res, err := s.Save(context.Background(), "inst_1", profile())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !res.Webhook.Delivered || len(res.Warnings) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(rcv.kinds) != 1 || rcv.kinds[0] != webhook.KindBusinessConfig {
		t.Fatalf("unexpected deliveries: %v", rcv.kinds)
	}
	if rcv.bodies[0]["instanceId"] != "inst_1" {
		t.Fatalf("payload missing instance id: %v", rcv.bodies[0])
	}
	inst, _ := a.State.Instance("inst_1")
	if inst.BusinessData == nil || inst.BusinessData.Appointments.Interval != 30 || len(inst.BusinessData.Schedule) != 7 {
		t.Fatalf("profile not stored normalized: %+v", inst.BusinessData)
	}
}

func TestSaveDeliveryFailureIsWarning(t *testing.T) {
	rcv := &receiver{status: http.StatusBadGateway}
	hook := httptest.NewServer(rcv)
	defer hook.Close()
	s, a, _ := setup(t, hook.URL)

	res, err := s.Save(context.Background(), "inst_1", profile())
	if err != nil {
		t.Fatalf("save should succeed: %v", err)
	}
	if res.Webhook.Delivered || res.Webhook.Status != http.StatusBadGateway {
		t.Fatalf("unexpected delivery: %+v", res.Webhook)
	}
	if n := a.Notifications.Recent(1); len(n) != 1 || n[0].Level != "warning" {
		t.Fatalf("expected warning notification, got %+v", n)
	}
}

func TestSaveRejectsInvalidProfile(t *testing.T) {
	s, a, _ := setup(t, "")
	p := profile()
	p.BasicInfo.BusinessPhone = "123"
	p.BasicInfo.BusinessEmail = "nope"
	_, err := s.Save(context.Background(), "inst_1", p)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 2 {
		t.Fatalf("expected two field errors, got %v", err)
	}
	if inst, _ := a.State.Instance("inst_1"); inst.BusinessData != nil {
		t.Fatalf("invalid profile must not be stored")
	}
}

func TestTestWebhookSavesURLAndRegisters(t *testing.T) {
	rcv := &receiver{}
	hook := httptest.NewServer(rcv)
	defer hook.Close()
	s, a, gw := setup(t, "")

	d, err := s.TestWebhook(context.Background(), "inst_1", hook.URL)
	if err != nil || !d.Delivered {
		t.Fatalf("test webhook: %+v %v", d, err)
	}
	body := rcv.bodies[0]
	if rcv.kinds[0] != webhook.KindTest || body["type"] != "test" || body["instanceName"] != "Barbearia" || body["version"] != "1.0.0" {
		t.Fatalf("unexpected test payload: %v", body)
	}
	if body["message"] != testMessage {
		t.Fatalf("message = %v", body["message"])
	}
	if inst, _ := a.State.Instance("inst_1"); inst.WebhookURL != hook.URL {
		t.Fatalf("webhook URL not saved: %q", inst.WebhookURL)
	}
	if gw.set["Barbearia"] != hook.URL {
		t.Fatalf("webhook not registered with gateway: %v", gw.set)
	}
}

func TestTestWebhookFailureKeepsURL(t *testing.T) {
	rcv := &receiver{status: http.StatusNotFound}
	hook := httptest.NewServer(rcv)
	defer hook.Close()
	s, a, gw := setup(t, "https://old.example.com/hook")

	d, err := s.TestWebhook(context.Background(), "inst_1", hook.URL)
	if err != nil || d.Delivered || d.Status != http.StatusNotFound {
		t.Fatalf("unexpected: %+v %v", d, err)
	}
	if inst, _ := a.State.Instance("inst_1"); inst.WebhookURL != "https://old.example.com/hook" {
		t.Fatalf("URL should be unchanged, got %q", inst.WebhookURL)
	}
	if len(gw.set) != 0 {
		t.Fatalf("gateway should not be touched")
	}
	if _, err := s.TestWebhook(context.Background(), "inst_1", "ftp:/x"); !errors.Is(err, app.ErrInvalidWebhookURL) {
		t.Fatalf("expected invalid URL, got %v", err)
	}
}

func TestExport(t *testing.T) {
	s, _, _ := setup(t, "")
	if _, _, err := s.Export("inst_1"); !errors.Is(err, app.ErrNoBusinessData) {
		t.Fatalf("expected no business data, got %v", err)
	}
	if _, _, err := s.Apply(context.Background(), "inst_1", profile()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	name, body, err := s.Export("inst_1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if name != "config-Barbearia-2024-03-10.json" {
		t.Fatalf("filename = %q", name)
	}
	var doc ConfigExport
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Instance.ID != "inst_1" || doc.BusinessData == nil || doc.BusinessData.BasicInfo.BusinessName != "Barbearia Silva" {
		t.Fatalf("unexpected document: %+v", doc)
	}
}
