// Package server exposes the console over a JSON HTTP API.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/leonardo-lacerda/InstanciaEvo/internal/ratelimit"
	"github.com/leonardo-lacerda/InstanciaEvo/internal/util"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
	"github.com/leonardo-lacerda/InstanciaEvo/pkg/evolution"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/analytics"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/app"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/auth"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/backup"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/business"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/diagnostics"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/lifecycle"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/messages"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/navigation"
)

const (
	maxBodyBytes   = 1 << 20
	maxBackupBytes = 32 << 20
	webhookHeader  = "X-Webhook-Token"
)

// Config wires the HTTP server.
type Config struct {
	App         *app.App
	Auth        *auth.Service
	Tracker     *lifecycle.Tracker
	Messages    *messages.Service
	Business    *business.Service
	Analytics   *analytics.Service
	Backups     *backup.Service
	Navigator   *navigation.Navigator
	Diagnostics *diagnostics.Service

	// LoginLimiter may be nil, which disables login rate limiting.
	LoginLimiter   *ratelimit.FixedWindowLimiter
	TrustedOrigins []string
	TrustedProxies *util.TrustedProxies
	// WebhookToken guards the gateway callback. Empty disables the endpoint.
	WebhookToken string
}

// Server exposes HTTP handlers.
type Server struct {
	app          *app.App
	auth         *auth.Service
	tracker      *lifecycle.Tracker
	messages     *messages.Service
	business     *business.Service
	analytics    *analytics.Service
	backups      *backup.Service
	nav          *navigation.Navigator
	diagnostics  *diagnostics.Service
	loginLimiter *ratelimit.FixedWindowLimiter
	origins      []string
	proxies      *util.TrustedProxies
	webhookToken string
	mux          *http.ServeMux
}

// New builds the server. Missing services are built from cfg.App.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("server: auth service required")
	}
	if cfg.Tracker == nil {
		cfg.Tracker = lifecycle.New(cfg.App, lifecycle.DefaultRetryPolicy())
	}
	if cfg.Messages == nil {
		cfg.Messages = messages.NewService(cfg.App)
	}
	if cfg.Business == nil {
		cfg.Business = business.NewService(cfg.App)
	}
	if cfg.Analytics == nil {
		cfg.Analytics = analytics.NewService(cfg.App)
	}
	if cfg.Backups == nil {
		cfg.Backups = backup.NewService(cfg.App, cfg.Business)
	}
	if cfg.Navigator == nil {
		cfg.Navigator = navigation.New(cfg.App)
	}
	if cfg.Diagnostics == nil {
		cfg.Diagnostics = diagnostics.NewService(cfg.App)
	}
	s := &Server{
		app:          cfg.App,
		auth:         cfg.Auth,
		tracker:      cfg.Tracker,
		messages:     cfg.Messages,
		business:     cfg.Business,
		analytics:    cfg.Analytics,
		backups:      cfg.Backups,
		nav:          cfg.Navigator,
		diagnostics:  cfg.Diagnostics,
		loginLimiter: cfg.LoginLimiter,
		origins:      cfg.TrustedOrigins,
		proxies:      cfg.TrustedProxies,
		webhookToken: strings.TrimSpace(cfg.WebhookToken),
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("console", util.WithSecurityHeaders(util.WithCORS(s.origins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/auth/session", s.authenticated(s.handleSession))

	// instances
	s.mux.Handle("/api/instances", s.authenticated(s.handleInstances))
	s.mux.Handle("/api/instances/refresh", s.authenticated(s.handleRefreshAll))
	s.mux.Handle("/api/instances/health", s.authenticated(s.handleHealthCheck))
	s.mux.Handle("/api/instances/", s.authenticated(s.handleInstanceByID))

	// analytics
	s.mux.Handle("/api/analytics/overview", s.authenticated(s.handleOverview))
	s.mux.Handle("/api/analytics/report", s.authenticated(s.handleReport))

	// backup
	s.mux.Handle("/api/backup", s.authenticated(s.handleBackup))
	s.mux.Handle("/api/backup/restore", s.authenticated(s.handleRestore))
	s.mux.Handle("/api/backup/latest", s.authenticated(s.handleLatestBackup))
	s.mux.Handle("/api/import", s.authenticated(s.handleImport))

	// console
	s.mux.Handle("/api/view", s.authenticated(s.handleView))
	s.mux.Handle("/api/notifications", s.authenticated(s.handleNotifications))
	s.mux.Handle("/api/diagnostics", s.authenticated(s.handleDiagnostics))
	s.mux.Handle("/api/gateway/test", s.authenticated(s.handleGatewayTest))

	// gateway callback
	s.mux.HandleFunc("/webhook/evolution", s.handleGatewayEvent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.app.Version})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.Session)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "console.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		session, err := s.auth.Verify(r.Context(), token)
		if err != nil {
			s.audit(r, "console.authorize", "fail", "reason", err.Error())
			writeAuthError(w, err)
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("session_id", session.SessionID))
		next(w, r.WithContext(ctx), session)
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string         `json:"token"`
	Session domain.Session `json:"session"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "console.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.audit(r, "console.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		s.audit(r, "console.login", "fail", "reason", "missing_credentials")
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	session, token, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.audit(r, "console.login", "fail", "reason", err.Error())
		writeAuthError(w, err)
		return
	}
	s.audit(r, "console.login", "success", "session_id", session.SessionID)
	s.app.Notifications.Success(r.Context(), "", "Login successful")
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Session: session})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "console.logout", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.auth.Logout(r.Context(), token); err != nil {
		s.audit(r, "console.logout", "fail", "reason", err.Error())
		writeAuthError(w, err)
		return
	}
	s.audit(r, "console.logout", "success")
	if _, err := s.nav.ShowPage(r.Context(), navigation.PageLogin, false); err != nil {
		slog.Warn("reset navigation failed", "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, session domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":   session,
		"expiresAt": session.LoginTime.Add(s.app.SessionWindow),
	})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ctx := r.Context()
	q := r.URL.Query()
	var (
		view navigation.View
		err  error
	)
	switch {
	case q.Get("instance") != "":
		view = s.nav.Resolve(ctx, q.Get("instance"), true)
	case q.Get("page") == "back":
		view = s.nav.GoBack(true)
	case q.Get("page") != "":
		view, err = s.nav.ShowPage(ctx, navigation.Page(q.Get("page")), true)
	default:
		view = s.nav.Current()
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if tab := q.Get("tab"); tab != "" {
		if n, convErr := strconv.Atoi(tab); convErr == nil {
			t, ok := navigation.TabAt(n)
			if !ok {
				writeError(w, http.StatusBadRequest, navigation.ErrUnknownTab.Error())
				return
			}
			tab = string(t)
		}
		if view, err = s.nav.SwitchTab(navigation.Tab(tab)); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, map[string]any{"notifications": s.app.Notifications.Recent(limit)})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.diagnostics.Run(r.Context()))
}

func (s *Server) handleGatewayTest(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	res := s.app.Gateway.TestConnection(r.Context())
	if res.Status == "connected" {
		s.app.Notifications.Success(r.Context(), "", "Gateway connection OK")
	} else {
		s.app.Notifications.Error(r.Context(), "", "Gateway connection failed")
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGatewayEvent accepts both native gateway events and the minimal
// {instanceId, from, message} callback.
func (s *Server) handleGatewayEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.webhookToken == "" {
		writeError(w, http.StatusServiceUnavailable, "webhook token not configured")
		return
	}
	token := r.Header.Get(webhookHeader)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.webhookToken)) != 1 {
		s.audit(r, "console.webhook", "fail", "reason", "bad_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	res, err := s.dispatchEvent(r.Context(), body)
	if err != nil {
		if errors.Is(err, evolution.ErrUnexpectedEvent) || isJSONError(err) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type eventResult struct {
	Event    string           `json:"event"`
	Accepted bool             `json:"accepted"`
	Message  *domain.Message  `json:"message,omitempty"`
	Instance *domain.Instance `json:"instance,omitempty"`
}

func (s *Server) dispatchEvent(ctx context.Context, body []byte) (eventResult, error) {
	var ev evolution.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return eventResult{}, err
	}
	res := eventResult{Event: ev.Kind()}
	switch ev.Kind() {
	case evolution.EventMessagesUpsert:
		msg, ok, err := s.messages.ReceiveGatewayEvent(ctx, ev)
		if err != nil {
			return res, err
		}
		if ok {
			res.Accepted, res.Message = true, &msg
		}
	case evolution.EventConnectionUpdate:
		state, err := ev.ConnectionState()
		if err != nil {
			return res, err
		}
		inst, err := s.tracker.ApplyConnectionUpdate(ctx, ev.Instance, state)
		if err != nil {
			return res, ignoreUnknown(ctx, ev, err)
		}
		res.Accepted, res.Instance = true, &inst
	case evolution.EventQRCodeUpdated:
		qr, err := ev.QRCode()
		if err != nil {
			return res, err
		}
		inst, err := s.tracker.ApplyQRUpdate(ctx, ev.Instance, qr)
		if err != nil {
			return res, ignoreUnknown(ctx, ev, err)
		}
		res.Accepted, res.Instance = true, &inst
	case "":
		var simple messages.ReceivedEvent
		if err := json.Unmarshal(body, &simple); err != nil {
			return res, err
		}
		res.Event = "message"
		msg, ok, err := s.messages.Receive(ctx, simple)
		if err != nil {
			return res, err
		}
		if ok {
			res.Accepted, res.Message = true, &msg
		}
	default:
		util.LoggerFromContext(ctx).Debug("ignored gateway event", "event", ev.Event, "instance", ev.Instance)
	}
	return res, nil
}

// ignoreUnknown drops events for instances the console does not manage and
// QR events without a payload.
func ignoreUnknown(ctx context.Context, ev evolution.Event, err error) error {
	if errors.Is(err, app.ErrInstanceNotFound) || errors.Is(err, lifecycle.ErrNoQRCode) {
		util.LoggerFromContext(ctx).Debug("ignored gateway event", "event", ev.Event, "instance", ev.Instance, "reason", err)
		return nil
	}
	return err
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeFile(w http.ResponseWriter, filename, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(filename, `"`, "")+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		slog.Error("auth failure", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeAppError maps service errors onto HTTP statuses. Gateway failures are
// answered with 502 and the diagnosis.
func writeAppError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	var apiErr *evolution.APIError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Error(), "fields": verr.Fields})
	case errors.Is(err, app.ErrInstanceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrDuplicateName), errors.Is(err, app.ErrNotConnected):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrNameRequired),
		errors.Is(err, app.ErrInvalidWebhookURL),
		errors.Is(err, app.ErrInvalidPhone),
		errors.Is(err, app.ErrEmptyMessage),
		errors.Is(err, app.ErrInvalidBackup),
		errors.Is(err, app.ErrUnsupportedFormat),
		errors.Is(err, app.ErrNoRemoteInstance):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNoBusinessData), errors.Is(err, lifecycle.ErrNoQRCode), errors.Is(err, backup.ErrNoBackup):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &apiErr):
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "diagnosis": evolution.Diagnose(err)})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": "gateway timeout", "diagnosis": evolution.Diagnose(err)})
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isJSONError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.proxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.proxies)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(limiter.RetryAfter().Seconds())))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
