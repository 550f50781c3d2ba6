package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leonardo-lacerda/InstanciaEvo/pkg/domain"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/analytics"
	"github.com/leonardo-lacerda/InstanciaEvo/services/console/internal/state"
)

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	o, err := s.analytics.Overview(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	report := s.analytics.Report()
	stamp := report.Timestamp.Format("2006-01-02")
	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "", "json":
		writeJSON(w, http.StatusOK, report)
	case "csv":
		body, err := analytics.ReportCSV(report)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeFile(w, "relatorio-"+stamp+".csv", "text/csv; charset=utf-8", body)
	default:
		writeError(w, http.StatusBadRequest, "unsupported export format")
	}
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	b := s.backups.Create()
	body, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.app.Notifications.Success(r.Context(), "", "Backup created")
	writeFile(w, "evolution-backup-"+b.Timestamp.Format("2006-01-02")+".json", "application/json", body)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var b state.Backup
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBackupBytes)).Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.backups.Restore(r.Context(), b); err != nil {
		writeAppError(w, err)
		return
	}
	s.audit(r, "console.backup.restore", "success", "instances", len(b.Instances))
	writeJSON(w, http.StatusOK, map[string]int{
		"instances": len(b.Instances),
		"messages":  len(b.MessageHistory),
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBackupBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	res, err := s.backups.Import(r.Context(), raw)
	if err != nil {
		s.app.Notifications.Error(r.Context(), "", "Import failed: "+err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "console.import", "success", "kind", res.Kind)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLatestBackup(w http.ResponseWriter, r *http.Request, _ domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	var expiry time.Duration
	if v := r.URL.Query().Get("expiry"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid expiry")
			return
		}
		expiry = d
	}
	latest, err := s.backups.Latest(r.Context(), expiry)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}
