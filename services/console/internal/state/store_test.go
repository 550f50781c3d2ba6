package state

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/kvstore"
)

type failingBackend struct {
	*kvstore.MemoryBackend
	fail bool
}

func (f *failingBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryBackend.Set(ctx, key, value, ttl)
}

func newStore(t *testing.T, perInstance, global int) *Store {
	t.Helper()
	return New(Config{
		KV:                     kvstore.New(kvstore.NewMemoryBackend()),
		MaxMessagesPerInstance: perInstance,
		MaxMessageHistory:      global,
		Version:                "1.0.0",
	})
}

func mustAdd(t *testing.T, s *Store, id, name string) {
	t.Helper()
	if err := s.AddInstance(context.Background(), domain.Instance{ID: id, Name: name, Status: domain.StatusDisconnected}); err != nil {
		t.Fatalf("add %s: %v", id, err)
	}
}

func msg(instanceID string, n int) domain.Message {
	return domain.Message{
		ID:         fmt.Sprintf("%s-%d", instanceID, n),
		InstanceID: instanceID,
		Type:       domain.DirectionSent,
		Number:     "5511999999999",
		Message:    fmt.Sprintf("m%d", n),
		Timestamp:  time.Date(2024, 1, 1, 0, n, 0, 0, time.UTC),
	}
}

func TestAddInstanceRejectsDuplicateNames(t *testing.T) {
	s := newStore(t, 10, 10)
	mustAdd(t, s, "inst_1", "Loja Centro")
	for _, name := range []string{"loja centro", "LOJA-CENTRO", "  Loja Centro "} {
		err := s.AddInstance(context.Background(), domain.Instance{ID: "inst_" + name, Name: name})
		if !errors.Is(err, ErrDuplicateName) {
			t.Fatalf("%q: expected duplicate name, got %v", name, err)
		}
	}
	if s.NameTaken("Loja Centro", "inst_1") {
		t.Fatalf("own name should not count as taken")
	}
}

func TestPerInstanceEvictionDropsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 3, 100)
	mustAdd(t, s, "a", "A")
	mustAdd(t, s, "b", "B")
	if err := s.AddMessage(ctx, msg("b", 0)); err != nil {
		t.Fatalf("add: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := s.AddMessage(ctx, msg("a", i)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	got := s.InstanceMessages("a", 0)
	if len(got) != 3 || got[0].ID != "a-2" || got[2].ID != "a-4" {
		t.Fatalf("unexpected messages: %+v", got)
	}
	if len(s.InstanceMessages("b", 0)) != 1 {
		t.Fatalf("other instance should keep its message")
	}
}

func TestGlobalEvictionDropsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 100, 4)
	mustAdd(t, s, "a", "A")
	mustAdd(t, s, "b", "B")
	for i := 0; i < 3; i++ {
		_ = s.AddMessage(ctx, msg("a", i))
		_ = s.AddMessage(ctx, msg("b", i))
	}
	all := s.Messages()
	if len(all) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(all))
	}
	if all[0].ID != "a-1" || all[3].ID != "b-2" {
		t.Fatalf("unexpected order: %s .. %s", all[0].ID, all[3].ID)
	}
}

func TestRemoveInstanceRemovesOnlyItsMessages(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 10, 100)
	mustAdd(t, s, "a", "A")
	mustAdd(t, s, "b", "B")
	for i := 0; i < 3; i++ {
		_ = s.AddMessage(ctx, msg("a", i))
		_ = s.AddMessage(ctx, msg("b", i))
	}
	s.SetCurrentInstance("a")
	if err := s.RemoveInstance(ctx, "a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	for _, m := range s.Messages() {
		if m.InstanceID == "a" {
			t.Fatalf("message %s of removed instance survived", m.ID)
		}
	}
	if len(s.InstanceMessages("b", 0)) != 3 {
		t.Fatalf("messages of other instance were removed")
	}
	if s.CurrentInstance() != "" {
		t.Fatalf("current instance should be cleared")
	}
	if err := s.RemoveInstance(ctx, "a"); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newStore(t, 10, 100)
	mustAdd(t, src, "a", "A")
	mustAdd(t, src, "b", "B")
	_, _ = src.UpdateInstance(ctx, "a", func(i *domain.Instance) {
		i.Status = domain.StatusConnected
		i.MessageCount = 2
		i.Touch(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	})
	_ = src.AddMessage(ctx, msg("a", 1))
	_ = src.AddMessage(ctx, msg("a", 2))
	backup := src.CreateBackup()
	if backup.Version != "1.0.0" {
		t.Fatalf("unexpected version %q", backup.Version)
	}

	dst := newStore(t, 10, 100)
	if err := dst.RestoreBackup(ctx, backup); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !reflect.DeepEqual(src.Instances(), dst.Instances()) {
		t.Fatalf("instances differ:\n%+v\n%+v", src.Instances(), dst.Instances())
	}
	if !reflect.DeepEqual(src.Messages(), dst.Messages()) {
		t.Fatalf("messages differ")
	}
}

func TestPersistenceFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{MemoryBackend: kvstore.NewMemoryBackend()}
	s := New(Config{KV: kvstore.New(backend)})
	mustAdd(t, s, "a", "A")

	backend.fail = true
	if err := s.AddInstance(ctx, domain.Instance{ID: "b", Name: "B"}); err == nil {
		t.Fatalf("expected persistence error")
	}
	if _, err := s.UpdateInstance(ctx, "a", func(i *domain.Instance) { i.Name = "changed" }); err == nil {
		t.Fatalf("expected persistence error")
	}
	if err := s.AddMessage(ctx, msg("a", 1)); err == nil {
		t.Fatalf("expected persistence error")
	}
	insts := s.Instances()
	if len(insts) != 1 || insts[0].Name != "A" || len(s.Messages()) != 0 {
		t.Fatalf("state changed after failed writes: %+v", insts)
	}
}

func TestLoadReadsPersistedState(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.New(kvstore.NewMemoryBackend())
	s := New(Config{KV: kv})
	mustAdd(t, s, "a", "A")
	_ = s.AddMessage(ctx, msg("a", 1))
	_ = s.SetCurrentUser(ctx, &domain.Session{Username: "admin", Role: domain.RoleAdmin, LoginTime: time.Now().UTC()})
	_ = s.SetAnalytics(ctx, map[string]int{"total": 1})

	reloaded := New(Config{KV: kv})
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(reloaded.Instances()) != 1 || len(reloaded.Messages()) != 1 {
		t.Fatalf("unexpected reloaded state")
	}
	if u := reloaded.CurrentUser(); u == nil || u.Username != "admin" {
		t.Fatalf("current user not restored: %+v", u)
	}
	if string(reloaded.Analytics()) != `{"total":1}` {
		t.Fatalf("unexpected analytics %s", reloaded.Analytics())
	}
}

func TestFilterAndCounts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 10, 10)
	_ = s.AddInstance(ctx, domain.Instance{ID: "inst_1", Name: "Vendas", Description: "time comercial", Status: domain.StatusConnected})
	_ = s.AddInstance(ctx, domain.Instance{ID: "inst_2", Name: "Suporte", Status: domain.StatusWaitingQR})
	_ = s.AddInstance(ctx, domain.Instance{ID: "inst_3", Name: "Financeiro", Status: domain.StatusDisconnected})

	c := s.Counts()
	if c != (Counts{Total: 3, Connected: 1, Waiting: 1, Disconnected: 1}) {
		t.Fatalf("unexpected counts %+v", c)
	}
	if got := s.Filter("", "COMERCIAL"); len(got) != 1 || got[0].ID != "inst_1" {
		t.Fatalf("description match failed: %+v", got)
	}
	if got := s.Filter(domain.StatusWaitingQR, ""); len(got) != 1 || got[0].ID != "inst_2" {
		t.Fatalf("status filter failed: %+v", got)
	}
	if got := s.Filter("", "inst_3"); len(got) != 1 {
		t.Fatalf("id match failed: %+v", got)
	}
}

func TestImportMessagesSkipsUnknownInstances(t *testing.T) {
	s := newStore(t, 2, 10)
	mustAdd(t, s, "a", "A")
	n, err := s.ImportMessages(context.Background(), []domain.Message{msg("a", 1), msg("a", 2), msg("a", 3), msg("x", 1)})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 accepted, got %d", n)
	}
	if got := s.InstanceMessages("a", 0); len(got) != 2 || got[0].ID != "a-2" {
		t.Fatalf("per-instance cap not applied: %+v", got)
	}
}

func TestImportMessagesSkipsKnownIDs(t *testing.T) {
	s := newStore(t, 10, 10)
	mustAdd(t, s, "a", "A")
	ctx := context.Background()
	batch := []domain.Message{msg("a", 1), msg("a", 2)}
	if n, err := s.ImportMessages(ctx, batch); err != nil || n != 2 {
		t.Fatalf("first import: n=%d err=%v", n, err)
	}
	n, err := s.ImportMessages(ctx, append(batch, msg("a", 3), msg("a", 3)))
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the new message, got %d", n)
	}
	if got := s.InstanceMessages("a", 0); len(got) != 3 {
		t.Fatalf("history doubled: %+v", got)
	}
}

func TestRestoreBackupRejectsDuplicateIDs(t *testing.T) {
	s := newStore(t, 10, 10)
	mustAdd(t, s, "a", "A")
	b := Backup{Instances: []domain.Instance{{ID: "x", Name: "X"}, {ID: "x", Name: "Y"}}}
	if err := s.RestoreBackup(context.Background(), b); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected duplicate id, got %v", err)
	}
	if got := s.Instances(); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("state must be untouched: %+v", got)
	}
}
