// Package diagnostics checks that the configured gateway is reachable and
// answers the console the way it expects.
package diagnostics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/leonardo-lacerda/InstanciaEvo/internal/util"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/evolution"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/app"
)

const (
	apiPath      = "/instance/fetchInstances"
	checkTimeout = 15 * time.Second
)

// Connectivity holds one flag per check.
type Connectivity struct {
	Domain bool `json:"domain"`
	SSL    bool `json:"ssl"`
	API    bool `json:"api"`
	Auth   bool `json:"auth"`
}

func (c Connectivity) passed() (passed, total int) {
	for _, ok := range []bool{c.Domain, c.SSL, c.API, c.Auth} {
		total++
		if ok {
			passed++
		}
	}
	return passed, total
}

type Suggestion struct {
	Type      string `json:"type"`
	Current   string `json:"current"`
	Suggested string `json:"suggested"`
	Reason    string `json:"reason"`
}

type Report struct {
	Timestamp    time.Time            `json:"timestamp"`
	BaseURL      string               `json:"baseUrl"`
	Connectivity Connectivity         `json:"connectivity"`
	Diagnosis    *evolution.Diagnosis `json:"diagnosis,omitempty"`
	Suggestions  []Suggestion         `json:"suggestions,omitempty"`
	HealthScore  int                  `json:"healthScore"`
}

type Service struct {
	app *app.App
}

func NewService(a *app.App) *Service {
	return &Service{app: a}
}

// Run executes every check in order. The auth check only runs once the API
// answered with JSON.
func (s *Service) Run(ctx context.Context) Report {
	gw := s.app.Gateway
	logger := util.LoggerFromContext(ctx)
	report := Report{Timestamp: s.app.Now().UTC(), BaseURL: gw.BaseURL()}

	report.Connectivity.Domain = gw.Probe(ctx)
	report.Connectivity.SSL = strings.HasPrefix(strings.ToLower(gw.BaseURL()), "https://")

	cctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	resp, err := gw.Raw(cctx, http.MethodGet, apiPath, nil)
	switch {
	case err != nil:
		report.Diagnosis = evolution.Diagnose(err)
		logger.Warn("gateway api check failed", "problem", report.Diagnosis.Problem, "err", err)
	case strings.Contains(resp.ContentType, "application/json"):
		report.Connectivity.API = true
		report.Connectivity.Auth = resp.Status >= 200 && resp.Status < 300
		if !report.Connectivity.Auth {
			report.Diagnosis = evolution.Diagnose(&evolution.APIError{Status: resp.Status, Endpoint: apiPath, Message: http.StatusText(resp.Status)})
		}
	default:
		report.Diagnosis = evolution.Diagnose(&evolution.APIError{Status: resp.Status, Endpoint: apiPath, HTML: true, Message: "unexpected " + resp.ContentType})
	}

	if report.Connectivity.API && !report.Connectivity.Auth {
		report.Suggestions = s.authSuggestions(cctx)
	}
	passed, total := report.Connectivity.passed()
	report.HealthScore = HealthScore(passed, total)
	return report
}

// authSuggestions retries the API check with other common key headers.
func (s *Service) authSuggestions(ctx context.Context) []Suggestion {
	key := s.app.Gateway.APIKey()
	alternatives := []struct {
		name  string
		value string
	}{
		{"Authorization", "Bearer " + key},
		{"x-api-key", key},
		{"api_key", key},
	}
	for _, alt := range alternatives {
		h := http.Header{}
		h.Set("Content-Type", "application/json")
		h.Set(alt.name, alt.value)
		resp, err := s.app.Gateway.Raw(ctx, http.MethodGet, apiPath, h)
		if err != nil || resp.Status < 200 || resp.Status > 299 {
			continue
		}
		return []Suggestion{{
			Type:      "auth",
			Current:   "apikey header",
			Suggested: alt.name,
			Reason:    "the gateway accepts this authentication header",
		}}
	}
	return nil
}

// HealthScore is the rounded percentage of passed checks.
func HealthScore(passed, total int) int {
	if total <= 0 {
		return 0
	}
	score, err := stats.Round(float64(passed)/float64(total)*100, 0)
	if err != nil {
		return 0
	}
	return int(score)
}
