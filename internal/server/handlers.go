package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smehta/brokersync/internal/domain"
	"github.com/smehta/brokersync/internal/modules/analytics"
	"github.com/smehta/brokersync/internal/modules/holdings"
	"github.com/smehta/brokersync/internal/modules/runs"
	"github.com/smehta/brokersync/internal/reliability"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// RunReader reads runs from the ledger.
type RunReader interface {
	GetByDate(ctx context.Context, scheduledDate string) (*domain.RunRecord, error)
	ListRecent(ctx context.Context, limit int) ([]domain.RunRecord, error)
}

// SyncRunner executes the daily run for a scheduled date.
type SyncRunner interface {
	RunDaily(ctx context.Context, scheduledDate string) (*domain.RunRecord, error)
}

// HoldingsReader reads synced portfolio state.
type HoldingsReader interface {
	GetByUser(ctx context.Context, userID int64) ([]holdings.Holding, error)
	TotalValue(ctx context.Context, userID int64) (float64, error)
}

// ReturnsSummarizer computes return analytics.
type ReturnsSummarizer interface {
	Summarize(ctx context.Context, userID int64, days int) (*analytics.Summary, error)
}

// HealthReporter reports service health.
type HealthReporter interface {
	Check(ctx context.Context) reliability.HealthStatus
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.Check(r.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, status)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 30
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 365 {
			s.respondError(w, http.StatusBadRequest, "limit must be an integer between 1 and 365")
			return
		}
		limit = parsed
	}

	records, err := s.runReader.ListRecent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list runs")
		s.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"runs": records})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if !datePattern.MatchString(date) {
		s.respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	record, err := s.runReader.GetByDate(r.Context(), date)
	if errors.Is(err, runs.ErrRunNotFound) {
		s.respondError(w, http.StatusNotFound, "no run for this date")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("date", date).Msg("Failed to load run")
		s.respondError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	s.respondJSON(w, http.StatusOK, record)
}

// handleTriggerSync starts a run for today outside the cron schedule. The
// run executes in the background; poll GET /api/runs/{date} for the result.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	date := time.Now().In(s.loc).Format("2006-01-02")

	if existing, err := s.runReader.GetByDate(r.Context(), date); err == nil {
		if existing.Status == domain.RunStatusRunning {
			s.respondError(w, http.StatusConflict, "run already in progress for "+date)
			return
		}
		s.respondJSON(w, http.StatusOK, existing)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(s.baseCtx, s.syncTimeout)
		defer cancel()
		if _, err := s.syncRunner.RunDaily(ctx, date); err != nil && !errors.Is(err, runs.ErrRunInProgress) {
			s.log.Error().Err(err).Str("date", date).Msg("Triggered run failed")
		}
	}()

	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"scheduled_date": date,
		"status":         "started",
	})
}

func (s *Server) userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID < 1 {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return userID, true
}

func (s *Server) handleGetHoldings(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userIDParam(w, r)
	if !ok {
		return
	}

	rows, err := s.holdingsReader.GetByUser(r.Context(), userID)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("Failed to load holdings")
		s.respondError(w, http.StatusInternalServerError, "failed to load holdings")
		return
	}
	total, err := s.holdingsReader.TotalValue(r.Context(), userID)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("Failed to total holdings")
		s.respondError(w, http.StatusInternalServerError, "failed to load holdings")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"holdings":    rows,
		"total_value": total,
	})
}

func (s *Server) handleGetReturns(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userIDParam(w, r)
	if !ok {
		return
	}

	days := 90
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 2 || parsed > 3650 {
			s.respondError(w, http.StatusBadRequest, "days must be an integer between 2 and 3650")
			return
		}
		days = parsed
	}

	summary, err := s.returns.Summarize(r.Context(), userID, days)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("Failed to summarize returns")
		s.respondError(w, http.StatusInternalServerError, "failed to summarize returns")
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}
