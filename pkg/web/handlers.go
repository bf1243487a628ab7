package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/MrCodeEU/faceignition/pkg/ignition"
	"github.com/MrCodeEU/faceignition/pkg/logging"
)

// logsResponse is what the dashboard buttons receive.
type logsResponse struct {
	Logs      []string `json:"logs"`
	AttemptID string   `json:"attempt_id,omitempty"`
	Outcome   string   `json:"outcome,omitempty"`
	Error     string   `json:"error,omitempty"`
	Location  string   `json:"location,omitempty"`
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		logging.Component("web").WithError(err).WithField("template", name).Error("Template rendering failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	if s.ctrl.IsPending() {
		http.Redirect(w, r, "/authorize", http.StatusFound)
		return
	}
	s.render(w, "index.html", map[string]any{
		"Logs":     s.journal.Lines(),
		"Snapshot": s.ctrl.Snapshot(),
	})
}

// startVehicle kicks off a start attempt. With wait=true it blocks until
// the attempt finishes or the start wait elapses.
func (s *Server) startVehicle(w http.ResponseWriter, r *http.Request) {
	resp := logsResponse{}

	attempt, err := s.ctrl.Start()
	switch {
	case errors.Is(err, ignition.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		resp.Error = err.Error()
	default:
		resp.AttemptID = attempt.ID
		if r.URL.Query().Get("wait") == "true" {
			s.waitForAttempt(r.Context(), attempt, &resp)
		}
	}

	resp.Logs = s.journal.Lines()
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) waitForAttempt(ctx context.Context, attempt *ignition.Attempt, resp *logsResponse) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StartWait)
	defer cancel()

	res, err := attempt.Wait(ctx)
	if err != nil {
		s.journal.Appendf("Timeout or error waiting for start: %v", err)
		resp.Error = err.Error()
		return
	}

	resp.Outcome = string(res.Outcome)
	if res.Err != nil {
		s.journal.Appendf("Start failed: %s", res.Err.Error())
		resp.Error = res.Err.Error()
	}
}

func (s *Server) stopVehicle(w http.ResponseWriter, r *http.Request) {
	resp := logsResponse{}
	if err := s.ctrl.Stop(); err != nil {
		s.journal.Appendf("Failed to stop motor: %v", err)
		resp.Error = err.Error()
	}
	resp.Logs = s.journal.Lines()
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) authorizePage(w http.ResponseWriter, r *http.Request) {
	if !s.ctrl.IsPending() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	s.render(w, "authorize.html", map[string]any{
		"Logs":     s.journal.Lines(),
		"Snapshot": s.ctrl.Snapshot(),
	})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form")
		return
	}
	decision, err := ignition.ParseDecision(r.PostForm.Get("action"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.ctrl.Resolve(decision); err != nil {
		switch {
		case errors.Is(err, ignition.ErrNotPending):
			logging.Component("web").Debug("Authorization received with nothing pending")
		case errors.Is(err, ignition.ErrClosed):
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		default:
			// The controller already journaled the failure.
			logging.Component("web").WithError(err).Warn("Authorization could not start the vehicle")
		}
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) capturedImage(w http.ResponseWriter, r *http.Request) {
	path, ok := s.ctrl.PendingCapture()
	if !ok {
		http.Error(w, "No captured image available", http.StatusNotFound)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "No captured image available", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "No captured image available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) sendLocation(w http.ResponseWriter, r *http.Request) {
	url := s.locator.URL()
	s.journal.Appendf("Using fixed location: %s", url)
	respondJSON(w, http.StatusOK, logsResponse{
		Logs:     s.journal.Lines(),
		Location: url,
	})
}

func (s *Server) redirectToMap(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, s.locator.URL(), http.StatusFound)
}

// stream pushes the journal as Server-Sent Events: the full log once, then
// again every time it grew. It ends when the client leaves or the server
// shuts down.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	// The server write timeout would otherwise cut the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	seen := s.journal.Total()
	sendSSEData(w, flusher, logsResponse{Logs: s.journal.Lines()})

	ticker := time.NewTicker(s.opts.StreamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.streams.Done():
			return
		case <-ticker.C:
			total := s.journal.Total()
			if total == seen {
				continue
			}
			seen = total
			sendSSEData(w, flusher, logsResponse{Logs: s.journal.Lines()})
		}
	}
}

func sendSSEData(w http.ResponseWriter, flusher http.Flusher, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "data: ")
	_, _ = w.Write(jsonData)
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
