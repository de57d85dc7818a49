package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/bolahunter/internal/capture"
	"github.com/raaihank/bolahunter/internal/export"
	"github.com/raaihank/bolahunter/internal/rules"
	"github.com/raaihank/bolahunter/internal/traffic"
)

// RuleView is a rule as listed by the API
type RuleView struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Enabled bool   `json:"enabled"`
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
}

// ItemDetail is a captured item with its raw request and response
type ItemDetail struct {
	capture.Snapshot
	Request  *string `json:"request"`
	Response *string `json:"response"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"version":   s.version,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	compiled := s.engine.Rules().Compiled()
	views := make([]RuleView, len(compiled))
	for i, c := range compiled {
		views[i] = RuleView{Index: i, Name: c.Name, Pattern: c.Pattern, Enabled: c.Enabled, Valid: c.Err == nil}
		if c.Err != nil {
			views[i].Error = c.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string `json:"name"`
		Pattern string `json:"pattern"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.engine.Rules().Add(r.Context(), body.Name, body.Pattern); err != nil {
		s.ruleError(w, r, err)
		return
	}
	s.handleListRules(w, r)
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule index")
		return
	}

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(r, &body); err != nil || body.Enabled == nil {
		writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}

	if err := s.engine.Rules().SetEnabled(r.Context(), index, *body.Enabled); err != nil {
		s.ruleError(w, r, err)
		return
	}
	s.handleListRules(w, r)
}

func (s *Server) handleResetRules(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Rules().ResetToDefaults(r.Context()); err != nil {
		s.ruleError(w, r, err)
		return
	}
	s.handleListRules(w, r)
}

// ruleError maps rule store errors to HTTP status codes. Persistence
// failures still leave the change applied in memory.
func (s *Server) ruleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rules.ErrInvalidRule):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rules.ErrIndexOutOfRange):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Rule update not persisted", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleGetAttack(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"armed": s.engine.Armed()})
}

func (s *Server) handleSetAttack(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Armed *bool `json:"armed"`
	}
	if err := decodeBody(r, &body); err != nil || body.Armed == nil {
		writeError(w, http.StatusBadRequest, `body must be {"armed": true|false}`)
		return
	}
	s.engine.SetArmed(*body.Armed)
	writeJSON(w, http.StatusOK, map[string]bool{"armed": s.engine.Armed()})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Pool().Snapshots())
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, ok := s.engine.Pool().Get(mux.Vars(r)["value"])
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}

	detail := ItemDetail{Snapshot: item.Snapshot()}
	if d, ok := item.Request.(traffic.Dumper); ok {
		dump := string(d.Dump())
		detail.Request = &dump
	}
	if d, ok := item.Response().(traffic.Dumper); ok {
		dump := string(d.Dump())
		detail.Response = &dump
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSetItemActive(w http.ResponseWriter, r *http.Request) {
	value := mux.Vars(r)["value"]

	var body struct {
		Active *bool `json:"active"`
	}
	if err := decodeBody(r, &body); err != nil || body.Active == nil {
		writeError(w, http.StatusBadRequest, `body must be {"active": true|false}`)
		return
	}

	snap, ok := s.engine.SetActive(value, *body.Active)
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Remove(mux.Vars(r)["value"]) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearItems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.engine.Clear()})
}

func (s *Server) handleExportItems(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records := export.FromSnapshots(s.engine.Pool().Snapshots())
	filename := fmt.Sprintf("bolahunter-%s.%s", time.Now().UTC().Format("20060102-150405"), format.Extension())

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := export.Write(w, format, records); err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Export failed", zap.Error(err))
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"engine": s.engine.Stats(),
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.wsHub != nil {
		resp["websocket"] = s.wsHub.GetStats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCACert(w http.ResponseWriter, r *http.Request) {
	pem := CertificatePEM(s.ca)
	if pem == nil {
		writeError(w, http.StatusNotFound, "no CA certificate configured")
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", `attachment; filename="bolahunter-ca.pem"`)
	_, _ = w.Write(pem)
}
