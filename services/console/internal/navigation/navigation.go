// Package navigation resolves which console page and tab the operator sees.
package navigation

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/app"
)

type Page string

const (
	PageLogin    Page = "login"
	PageAdmin    Page = "admin"
	PageInstance Page = "instance"
)

type Tab string

const (
	TabConfig    Tab = "config"
	TabMessages  Tab = "messages"
	TabAnalytics Tab = "analytics"
)

// Tabs in display order.
var Tabs = []Tab{TabConfig, TabMessages, TabAnalytics}

const AppTitle = "Evolution API Manager"

var (
	ErrUnknownPage = errors.New("unknown page")
	ErrUnknownTab  = errors.New("unknown tab")
)

type Crumb struct {
	Label   string `json:"label"`
	Path    string `json:"path"`
	Current bool   `json:"current"`
}

// View is what the client should render.
type View struct {
	Page        Page    `json:"page"`
	Tab         Tab     `json:"tab,omitempty"`
	InstanceID  string  `json:"instanceId,omitempty"`
	Title       string  `json:"title"`
	Breadcrumbs []Crumb `json:"breadcrumbs"`
	Notice      string  `json:"notice,omitempty"`
}

// Navigator keeps the current page and tab. The current instance lives in
// the state store.
type Navigator struct {
	app *app.App

	mu   sync.Mutex
	page Page
	tab  Tab
}

func New(a *app.App) *Navigator {
	return &Navigator{app: a, page: PageLogin, tab: TabConfig}
}

// Resolve applies an optional instance deep link, otherwise lands on the
// admin page for authenticated operators and on login for everyone else.
func (n *Navigator) Resolve(ctx context.Context, instanceID string, authenticated bool) View {
	if id := strings.TrimSpace(instanceID); id != "" {
		return n.OpenInstance(ctx, id)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if authenticated {
		n.page = PageAdmin
	} else {
		n.page = PageLogin
	}
	return n.viewLocked("")
}

// OpenInstance selects the instance and shows its page. An unknown id falls
// back to login with a notice.
func (n *Navigator) OpenInstance(ctx context.Context, id string) View {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.app.State.Instance(id); !ok {
		n.page = PageLogin
		n.app.Notifications.Error(ctx, id, "Instance not found")
		return n.viewLocked("Instance not found")
	}
	n.app.State.SetCurrentInstance(id)
	n.page = PageInstance
	n.tab = TabConfig
	return n.viewLocked("")
}

// ShowPage moves to page. Pages that need a session or a selected instance
// redirect to login instead.
func (n *Navigator) ShowPage(ctx context.Context, page Page, authenticated bool) (View, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch page {
	case PageLogin:
		n.page = PageLogin
	case PageAdmin:
		if !authenticated {
			n.page = PageLogin
			return n.viewLocked(""), nil
		}
		n.page = PageAdmin
	case PageInstance:
		if n.app.State.CurrentInstance() == "" {
			n.app.Notifications.Warning(ctx, "", "No instance selected")
			n.page = PageLogin
			return n.viewLocked("No instance selected"), nil
		}
		n.page = PageInstance
	default:
		n.app.Notifications.Error(ctx, "", "Page not found")
		return n.viewLocked(""), ErrUnknownPage
	}
	return n.viewLocked(""), nil
}

func (n *Navigator) SwitchTab(tab Tab) (View, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !validTab(tab) {
		return n.viewLocked(""), ErrUnknownTab
	}
	n.tab = tab
	return n.viewLocked(""), nil
}

// GoBack leaves the instance page for admin, or login without a session.
func (n *Navigator) GoBack(authenticated bool) View {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.page == PageInstance {
		if authenticated {
			n.page = PageAdmin
		} else {
			n.page = PageLogin
		}
	}
	return n.viewLocked("")
}

func (n *Navigator) Current() View {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.viewLocked("")
}

func (n *Navigator) viewLocked(notice string) View {
	v := View{Page: n.page, Notice: notice}
	var inst *domain.Instance
	if n.page == PageInstance {
		v.Tab = n.tab
		v.InstanceID = n.app.State.CurrentInstance()
		if found, ok := n.app.State.Instance(v.InstanceID); ok {
			inst = &found
		}
	}
	v.Title = Title(n.page, inst)
	path := string(n.page)
	if inst != nil {
		path += "/" + inst.Name + "/" + string(n.tab)
	}
	v.Breadcrumbs = Breadcrumbs(path)
	return v
}

// InstanceLink builds the shareable deep link for an instance. Any query
// or fragment already on base is dropped.
func InstanceLink(base, id string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	u.RawQuery = url.Values{"instance": []string{id}}.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// Breadcrumbs splits a slash separated path. Every crumb links to its
// prefix; the last one is marked current.
func Breadcrumbs(path string) []Crumb {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	crumbs := make([]Crumb, 0, len(parts))
	for i, p := range parts {
		crumbs = append(crumbs, Crumb{
			Label:   p,
			Path:    strings.Join(parts[:i+1], "/"),
			Current: i == len(parts)-1,
		})
	}
	return crumbs
}

// Title is the document title for page. inst may be nil.
func Title(page Page, inst *domain.Instance) string {
	if page == PageInstance && inst != nil && inst.Name != "" {
		return inst.Name + " - " + AppTitle
	}
	return AppTitle
}

// TabAt maps the 1-based keyboard shortcut index to a tab.
func TabAt(index int) (Tab, bool) {
	if index < 1 || index > len(Tabs) {
		return "", false
	}
	return Tabs[index-1], true
}

func validTab(tab Tab) bool {
	for _, t := range Tabs {
		if t == tab {
			return true
		}
	}
	return false
}
