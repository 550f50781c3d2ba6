package backup

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/evolution"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/storage"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/app"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/business"
)

var fixed = time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC)

func newService(t *testing.T, objects storage.ObjectStore) (*Service, *app.App) {
	t.Helper()
	a, err := app.New(app.Config{
		Gateway: evolution.NewClient("http://127.0.0.1:1", "k", time.Second),
		Objects: objects,
		Now:     func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx := context.Background()
	for _, inst := range []domain.Instance{{ID: "inst_1", Name: "Loja"}, {ID: "inst_2", Name: "Suporte"}} {
		if err := a.State.AddInstance(ctx, inst); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	return NewService(a, business.NewService(a)), a
}

func TestImportFullBackup(t *testing.T) {
	s, a := newService(t, nil)
	doc := `{"instances":[{"id":"inst_9","name":"Nova","status":"connected"}],
		"messageHistory":[{"id":"m1","instanceId":"inst_9","type":"sent","number":"1","message":"oi","timestamp":"2024-03-10T10:00:00Z"}],
		"timestamp":"2024-03-10T10:00:00Z","version":"1.0.0"}`
	res, err := s.Import(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Kind != KindFullBackup || res.Instances != 1 || res.Messages != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := a.State.Instances(); len(got) != 1 || got[0].ID != "inst_9" {
		t.Fatalf("instances not replaced: %+v", got)
	}
}

func TestImportRejectsBrokenBackup(t *testing.T) {
	s, a := newService(t, nil)
	_, err := s.Import(context.Background(), []byte(`{"instances":[{"name":"sem id"}]}`))
	if !errors.Is(err, app.ErrInvalidBackup) {
		t.Fatalf("expected invalid backup, got %v", err)
	}
	if len(a.State.Instances()) != 2 {
		t.Fatalf("state must be untouched")
	}
}

func TestImportInstanceConfigByName(t *testing.T) {
	s, a := newService(t, nil)
	doc := `{"instance":{"id":"inst_other","name":"suporte"},
		"businessData":{"basicInfo":{"businessName":"Suporte Ltda","businessCity":"Recife","businessPhone":"81999998888"},
		"whatsapp":{"welcomeMessage":"Oi"}}}`
	res, err := s.Import(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Kind != KindInstanceConfig || res.InstanceID != "inst_2" {
		t.Fatalf("unexpected result: %+v", res)
	}
	inst, _ := a.State.Instance("inst_2")
	if inst.BusinessData == nil || inst.BusinessData.BasicInfo.BusinessName != "Suporte Ltda" || inst.BusinessData.InstanceID != "inst_2" {
		t.Fatalf("profile not applied: %+v", inst.BusinessData)
	}
}

func TestImportInstanceConfigUnknownInstance(t *testing.T) {
	s, _ := newService(t, nil)
	doc := `{"instance":{"id":"x","name":"y"},"businessData":{"basicInfo":{"businessName":"a"}}}`
	if _, err := s.Import(context.Background(), []byte(doc)); !errors.Is(err, app.ErrInstanceNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestImportMessagesSkipsUnknownInstances(t *testing.T) {
	s, a := newService(t, nil)
	doc := `{"messages":[
		{"instanceId":"inst_1","type":"received","number":"5511","message":"a"},
		{"instanceId":"ghost","type":"received","number":"5511","message":"b"}]}`
	res, err := s.Import(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Kind != KindMessages || res.Messages != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	msgs := a.State.Messages()
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0].ID, "msg_") || !msgs[0].Timestamp.Equal(fixed) {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestImportUnknownDocument(t *testing.T) {
	s, _ := newService(t, nil)
	for _, doc := range []string{`{"foo":1}`, `not json`, `{"instances":{}}`} {
		if _, err := s.Import(context.Background(), []byte(doc)); !errors.Is(err, app.ErrInvalidBackup) {
			t.Fatalf("%s: expected invalid backup, got %v", doc, err)
		}
	}
}

func TestSnapshotUploadsAndPresigns(t *testing.T) {
	objects := storage.NewMemoryStore()
	s, _ := newService(t, objects)
	ctx := context.Background()
	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ObjectKey != "backups/20240310T150405.000Z.json" || snap.Instances != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	body, err := objects.Get(ctx, snap.ObjectKey)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var stored map[string]any
	if err := json.Unmarshal(body, &stored); err != nil || stored["version"] != "1.0.0" {
		t.Fatalf("stored snapshot: %v %v", stored, err)
	}
	latest, err := s.Latest(ctx, 0)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.URL != "memory://backups/20240310T150405.000Z.json" || !latest.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected latest: %+v", latest)
	}
}

func TestLatestFallsBackToKV(t *testing.T) {
	s, _ := newService(t, nil)
	ctx := context.Background()
	if _, err := s.Latest(ctx, 0); !errors.Is(err, ErrNoBackup) {
		t.Fatalf("expected no backup, got %v", err)
	}
	if _, err := s.Snapshot(ctx); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	latest, err := s.Latest(ctx, 0)
	if err != nil || latest.Backup == nil || len(latest.Backup.Instances) != 2 {
		t.Fatalf("unexpected latest: %+v %v", latest, err)
	}
}

func TestSnapshotsInSameSecondKeepDistinctKeys(t *testing.T) {
	objects := storage.NewMemoryStore()
	now := fixed
	a, err := app.New(app.Config{
		Gateway: evolution.NewClient("http://127.0.0.1:1", "k", time.Second),
		Objects: objects,
		Now:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	s := NewService(a, business.NewService(a))
	ctx := context.Background()
	first, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	now = fixed.Add(250 * time.Millisecond)
	second, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	if first.ObjectKey == second.ObjectKey {
		t.Fatalf("snapshots share key %q", first.ObjectKey)
	}
	if _, err := objects.Get(ctx, first.ObjectKey); err != nil {
		t.Fatalf("first snapshot overwritten: %v", err)
	}
	latest, err := s.Latest(ctx, 0)
	if err != nil || latest.ObjectKey != second.ObjectKey || !latest.Timestamp.Equal(now) {
		t.Fatalf("unexpected latest: %+v %v", latest, err)
	}
}

func TestRestoreRejectsDuplicateInstances(t *testing.T) {
	cases := map[string]string{
		"duplicate id":        `{"instances":[{"id":"inst_a","name":"Loja"},{"id":"inst_a","name":"Outra"}]}`,
		"duplicate name":      `{"instances":[{"id":"inst_a","name":"Loja"},{"id":"inst_b","name":"LOJA"}]}`,
		"duplicate technical": `{"instances":[{"id":"inst_a","name":"Loja A","evolutionInstanceName":"loja"},{"id":"inst_b","name":"Loja B","evolutionInstanceName":"LOJA"}]}`,
	}
	for name, doc := range cases {
		s, a := newService(t, nil)
		_, err := s.Import(context.Background(), []byte(doc))
		if !errors.Is(err, app.ErrInvalidBackup) {
			t.Fatalf("%s: expected invalid backup, got %v", name, err)
		}
		if got := a.State.Instances(); len(got) != 2 || got[0].ID != "inst_1" {
			t.Fatalf("%s: state must be untouched, got %+v", name, got)
		}
	}
}
