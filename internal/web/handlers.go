package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// handleReport serves the assembled weekly report. Repos whose statistics are
// still computing carry a pending marker; the dashboard polls the stats
// endpoint until they resolve.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	agg, err := s.aggregatorFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rep, err := agg.Report(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, rep)
}

// handleRepoStats serves one repository's statistics, for re-polling pending
// report rows.
func (s *Server) handleRepoStats(w http.ResponseWriter, r *http.Request) {
	agg, err := s.aggregatorFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stats, err := agg.Statistics(r.Context(), r.PathValue("repo"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, stats)
}

// handleRepoCommits serves one repository's commits for the reporting week.
func (s *Server) handleRepoCommits(w http.ResponseWriter, r *http.Request) {
	agg, err := s.aggregatorFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	commits, err := agg.Commits(r.Context(), r.PathValue("repo"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, commits)
}

// handleAllCommits serves the week's commits across all eligible repos.
func (s *Server) handleAllCommits(w http.ResponseWriter, r *http.Request) {
	agg, err := s.aggregatorFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	commits, err := agg.AllCommits(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, commits)
}

// handlePRActivity serves recent pull requests grouped by repository.
func (s *Server) handlePRActivity(w http.ResponseWriter, r *http.Request) {
	agg, err := s.aggregatorFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	activity, err := agg.PRActivity(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, activity)
}

// handleDigest composes and sends the weekly digest email for a team. The
// report is fully resolved first, so this request blocks while pending
// statistics are polled.
func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	to := r.URL.Query().Get("to")
	if to == "" {
		writeError(w, http.StatusBadRequest, errMissingRecipient)
		return
	}

	agg, err := s.aggregatorFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rep, err := agg.EmailReport(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	msg, err := s.composer.Compose(to, rep)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if msg == nil {
		writeJSON(w, digestResponse{Sent: false})
		return
	}

	id, err := s.sender.Send(r.Context(), *msg)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, digestResponse{Sent: true, MessageID: id})
}

type digestResponse struct {
	Sent      bool   `json:"sent"`
	MessageID string `json:"messageId,omitempty"`
}

var errMissingRecipient = &apiError{"recipient is required, pass ?to="}

type apiError struct{ msg string }

func (e *apiError) Error() string { return e.msg }

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
