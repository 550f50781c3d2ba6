package navigation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/evolution"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/app"
)

func newNavigator(t *testing.T) (*Navigator, *app.App) {
	t.Helper()
	a, err := app.New(app.Config{Gateway: evolution.NewClient("http://127.0.0.1:1", "k", time.Second)})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if err := a.State.AddInstance(context.Background(), domain.Instance{ID: "inst_1", Name: "Loja"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	return New(a), a
}

func TestResolveWithoutDeepLink(t *testing.T) {
	n, _ := newNavigator(t)
	ctx := context.Background()
	if v := n.Resolve(ctx, "", false); v.Page != PageLogin || v.Title != AppTitle {
		t.Fatalf("unexpected view: %+v", v)
	}
	if v := n.Resolve(ctx, "", true); v.Page != PageAdmin {
		t.Fatalf("expected admin, got %+v", v)
	}
}

func TestResolveDeepLink(t *testing.T) {
	n, a := newNavigator(t)
	v := n.Resolve(context.Background(), "inst_1", false)
	if v.Page != PageInstance || v.Tab != TabConfig || v.InstanceID != "inst_1" {
		t.Fatalf("unexpected view: %+v", v)
	}
	if v.Title != "Loja - Evolution API Manager" {
		t.Fatalf("title = %q", v.Title)
	}
	if a.State.CurrentInstance() != "inst_1" {
		t.Fatalf("current instance not selected")
	}
	if len(v.Breadcrumbs) != 3 || v.Breadcrumbs[1].Label != "Loja" || !v.Breadcrumbs[2].Current {
		t.Fatalf("unexpected breadcrumbs: %+v", v.Breadcrumbs)
	}
}

func TestResolveUnknownInstanceFallsBackToLogin(t *testing.T) {
	n, a := newNavigator(t)
	v := n.Resolve(context.Background(), "inst_missing", true)
	if v.Page != PageLogin || v.Notice == "" {
		t.Fatalf("unexpected view: %+v", v)
	}
	if got := a.Notifications.Recent(1); len(got) != 1 || got[0].Level != "error" {
		t.Fatalf("expected error notification, got %+v", got)
	}
}

func TestShowPageGuards(t *testing.T) {
	n, _ := newNavigator(t)
	ctx := context.Background()
	if v, err := n.ShowPage(ctx, PageAdmin, false); err != nil || v.Page != PageLogin {
		t.Fatalf("admin without session should land on login: %+v %v", v, err)
	}
	if v, err := n.ShowPage(ctx, PageInstance, true); err != nil || v.Page != PageLogin || v.Notice == "" {
		t.Fatalf("instance without selection should land on login: %+v %v", v, err)
	}
	if _, err := n.ShowPage(ctx, Page("reports"), true); !errors.Is(err, ErrUnknownPage) {
		t.Fatalf("expected unknown page, got %v", err)
	}
}

func TestSwitchTabAndGoBack(t *testing.T) {
	n, _ := newNavigator(t)
	n.OpenInstance(context.Background(), "inst_1")
	v, err := n.SwitchTab(TabMessages)
	if err != nil || v.Tab != TabMessages {
		t.Fatalf("switch: %+v %v", v, err)
	}
	if _, err := n.SwitchTab(Tab("billing")); !errors.Is(err, ErrUnknownTab) {
		t.Fatalf("expected unknown tab, got %v", err)
	}
	if n.Current().Tab != TabMessages {
		t.Fatalf("invalid switch must not change the tab")
	}
	if v := n.GoBack(true); v.Page != PageAdmin {
		t.Fatalf("back with session should go to admin, got %s", v.Page)
	}
	n.OpenInstance(context.Background(), "inst_1")
	if v := n.GoBack(false); v.Page != PageLogin {
		t.Fatalf("back without session should go to login, got %s", v.Page)
	}
}

func TestInstanceLink(t *testing.T) {
	got, err := InstanceLink("https://console.example.com/app/?instance=old#top", "inst_9")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if got != "https://console.example.com/app/?instance=inst_9" {
		t.Fatalf("link = %q", got)
	}
}

func TestBreadcrumbs(t *testing.T) {
	crumbs := Breadcrumbs("/admin//instances/Loja/")
	if len(crumbs) != 3 {
		t.Fatalf("expected 3 crumbs, got %+v", crumbs)
	}
	if crumbs[1].Path != "admin/instances" || crumbs[1].Current || !crumbs[2].Current {
		t.Fatalf("unexpected crumbs: %+v", crumbs)
	}
}

func TestTabAt(t *testing.T) {
	if tab, ok := TabAt(3); !ok || tab != TabAnalytics {
		t.Fatalf("TabAt(3) = %q %v", tab, ok)
	}
	if _, ok := TabAt(4); ok {
		t.Fatalf("TabAt(4) should not resolve")
	}
}
