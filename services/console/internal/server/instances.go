package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/lifecycle"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/messages"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/navigation"
)

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		status := domain.InstanceStatus(strings.TrimSpace(q.Get("status")))
		if status != "" && status != "all" && !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status filter")
			return
		}
		if status == "all" {
			status = ""
		}
		list := s.app.State.Filter(status, q.Get("q"))
		if list == nil {
			list = []domain.Instance{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"instances": list,
			"counts":    s.app.State.Counts(),
		})
	case http.MethodPost:
		var req lifecycle.CreateRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		inst, err := s.tracker.Create(r.Context(), req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, inst)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	res := s.tracker.RefreshAll(r.Context())
	if _, err := s.analytics.Overview(r.Context()); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	report, err := s.tracker.CheckHealth(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleInstanceByID routes /api/instances/{id}[/action[/sub]].
func (s *Server) handleInstanceByID(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/instances/"), "/")
	parts := strings.SplitN(path, "/", 3)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	action := ""
	if len(parts) > 1 {
		action = strings.Join(parts[1:], "/")
	}

	switch action {
	case "":
		s.handleInstance(w, r, id)
	case "qr":
		s.handleRefreshQR(w, r, id)
	case "qr.png":
		s.handleQRImage(w, r, id)
	case "restart":
		s.handleRestart(w, r, id)
	case "logout":
		s.handleInstanceLogout(w, r, id)
	case "messages":
		s.handleMessages(w, r, id)
	case "messages/export":
		s.handleMessagesExport(w, r, id)
	case "business":
		s.handleBusiness(w, r, id)
	case "business/export":
		s.handleBusinessExport(w, r, id)
	case "webhook/test":
		s.handleWebhookTest(w, r, id)
	case "analytics":
		s.handleInstanceAnalytics(w, r, id)
	case "link":
		s.handleInstanceLink(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleInstance(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		inst, ok := s.app.State.Instance(id)
		if !ok {
			writeError(w, http.StatusNotFound, "instance not found")
			return
		}
		writeJSON(w, http.StatusOK, inst)
	case http.MethodPatch:
		var req lifecycle.EditRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		inst, err := s.tracker.Update(r.Context(), id, req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inst)
	case http.MethodDelete:
		res, err := s.tracker.Delete(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "console.instance.delete", "success", "instance_id", id)
		writeJSON(w, http.StatusOK, res)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleRefreshQR(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	inst, err := s.tracker.RefreshQR(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleQRImage(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	inst, ok := s.app.State.Instance(id)
	if !ok {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	png, err := lifecycle.QRPNG(inst.QRCode)
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	inst, err := s.tracker.Restart(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleInstanceLogout(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	inst, err := s.tracker.Logout(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list, err := s.messages.List(id, limit)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if list == nil {
			list = []domain.Message{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": list})
	case http.MethodPost:
		var req messages.SendRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, err := s.messages.SendTest(r.Context(), id, req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	case http.MethodDelete:
		n, err := s.messages.Clear(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": n})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMessagesExport(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = messages.FormatJSON
	}
	exp, err := s.messages.Export(id, format)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeFile(w, exp.Filename, exp.ContentType, exp.Body)
}

func (s *Server) handleBusiness(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var profile domain.BusinessProfile
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.business.Save(r.Context(), id, profile)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBusinessExport(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filename, body, err := s.business.Export(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeFile(w, filename, "application/json", body)
}

type webhookTestRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleWebhookTest(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req webhookTestRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	target := strings.TrimSpace(req.URL)
	if target == "" {
		inst, ok := s.app.State.Instance(id)
		if !ok {
			writeError(w, http.StatusNotFound, "instance not found")
			return
		}
		target = inst.WebhookURL
	}
	res, err := s.business.TestWebhook(r.Context(), id, target)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleInstanceAnalytics(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	summary, err := s.analytics.Instance(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleInstanceLink(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, ok := s.app.State.Instance(id); !ok {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	base := r.URL.Query().Get("base")
	if base == "" {
		scheme := "http"
		if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			scheme = "https"
		}
		base = scheme + "://" + r.Host + "/"
	}
	link, err := navigation.InstanceLink(base, id)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid base URL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}
