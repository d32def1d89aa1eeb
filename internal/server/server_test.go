package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smehta/brokersync/internal/domain"
	"github.com/smehta/brokersync/internal/modules/analytics"
	"github.com/smehta/brokersync/internal/modules/holdings"
	"github.com/smehta/brokersync/internal/modules/runs"
	"github.com/smehta/brokersync/internal/reliability"
)

type stubRunReader struct {
	runs   map[string]*domain.RunRecord
	recent []domain.RunRecord
}

func (s *stubRunReader) GetByDate(_ context.Context, date string) (*domain.RunRecord, error) {
	record, ok := s.runs[date]
	if !ok {
		return nil, runs.ErrRunNotFound
	}
	return record, nil
}

func (s *stubRunReader) ListRecent(_ context.Context, limit int) ([]domain.RunRecord, error) {
	if limit < len(s.recent) {
		return s.recent[:limit], nil
	}
	return s.recent, nil
}

type stubSyncRunner struct {
	started chan string
}

func (s *stubSyncRunner) RunDaily(_ context.Context, date string) (*domain.RunRecord, error) {
	if s.started != nil {
		s.started <- date
	}
	return &domain.RunRecord{ScheduledDate: date, Status: domain.RunStatusCompleted}, nil
}

type stubHoldings struct{}

func (stubHoldings) GetByUser(_ context.Context, userID int64) ([]holdings.Holding, error) {
	return []holdings.Holding{{UserID: userID, Symbol: "INFY", MarketValue: 14500}}, nil
}

func (stubHoldings) TotalValue(context.Context, int64) (float64, error) { return 14500, nil }

type stubReturns struct{}

func (stubReturns) Summarize(_ context.Context, _ int64, days int) (*analytics.Summary, error) {
	return &analytics.Summary{Days: days}, nil
}

type stubHealth struct {
	degraded bool
}

func (s stubHealth) Check(context.Context) reliability.HealthStatus {
	status := "ok"
	if s.degraded {
		status = "degraded"
	}
	return reliability.HealthStatus{Status: status, CheckedAt: time.Now()}
}

func testServer(t *testing.T, reader *stubRunReader, runner *stubSyncRunner) *Server {
	t.Helper()
	if reader == nil {
		reader = &stubRunReader{runs: map[string]*domain.RunRecord{}}
	}
	if runner == nil {
		runner = &stubSyncRunner{}
	}
	return New(0, Deps{
		RunReader:      reader,
		SyncRunner:     runner,
		HoldingsReader: stubHoldings{},
		Returns:        stubReturns{},
		Health:         stubHealth{},
		Metrics:        NewMetrics(),
		Location:       time.UTC,
		SyncTimeout:    time.Minute,
	}, zerolog.Nop())
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	rec := doRequest(t, testServer(t, nil, nil), http.MethodGet, "/api/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body reliability.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestHealthEndpoint_Degraded(t *testing.T) {
	s := New(0, Deps{
		RunReader:  &stubRunReader{runs: map[string]*domain.RunRecord{}},
		SyncRunner: &stubSyncRunner{},
		Health:     stubHealth{degraded: true},
	}, zerolog.Nop())

	rec := doRequest(t, s, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListRuns(t *testing.T) {
	reader := &stubRunReader{
		runs: map[string]*domain.RunRecord{},
		recent: []domain.RunRecord{
			{ScheduledDate: "2026-08-31", Status: domain.RunStatusCompleted},
			{ScheduledDate: "2026-08-30", Status: domain.RunStatusCompleted},
		},
	}
	rec := doRequest(t, testServer(t, reader, nil), http.MethodGet, "/api/runs?limit=1")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []domain.RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Runs, 1)
}

func TestListRuns_InvalidLimit(t *testing.T) {
	rec := doRequest(t, testServer(t, nil, nil), http.MethodGet, "/api/runs?limit=banana")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun(t *testing.T) {
	reader := &stubRunReader{runs: map[string]*domain.RunRecord{
		"2026-08-31": {ID: "run-1", ScheduledDate: "2026-08-31", Status: domain.RunStatusCompleted},
	}}
	rec := doRequest(t, testServer(t, reader, nil), http.MethodGet, "/api/runs/2026-08-31")

	assert.Equal(t, http.StatusOK, rec.Code)
	var record domain.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "run-1", record.ID)
}

func TestGetRun_NotFound(t *testing.T) {
	rec := doRequest(t, testServer(t, nil, nil), http.MethodGet, "/api/runs/2026-01-01")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRun_BadDate(t *testing.T) {
	rec := doRequest(t, testServer(t, nil, nil), http.MethodGet, "/api/runs/yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerSync_StartsBackgroundRun(t *testing.T) {
	runner := &stubSyncRunner{started: make(chan string, 1)}
	rec := doRequest(t, testServer(t, nil, runner), http.MethodPost, "/api/sync/trigger")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case date := <-runner.started:
		assert.Equal(t, time.Now().UTC().Format("2006-01-02"), date)
	case <-time.After(2 * time.Second):
		t.Fatal("run never started")
	}
}

// ctxCapturingRunner hands its run context to the test.
type ctxCapturingRunner struct {
	ctxCh chan context.Context
}

func (r *ctxCapturingRunner) RunDaily(ctx context.Context, date string) (*domain.RunRecord, error) {
	r.ctxCh <- ctx
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTriggerSync_ShutdownCancelsBackgroundRun(t *testing.T) {
	baseCtx, cancel := context.WithCancel(context.Background())
	runner := &ctxCapturingRunner{ctxCh: make(chan context.Context, 1)}

	s := New(0, Deps{
		RunReader:   &stubRunReader{runs: map[string]*domain.RunRecord{}},
		SyncRunner:  runner,
		Health:      stubHealth{},
		BaseContext: baseCtx,
	}, zerolog.Nop())

	rec := doRequest(t, s, http.MethodPost, "/api/sync/trigger")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var runCtx context.Context
	select {
	case runCtx = <-runner.ctxCh:
	case <-time.After(2 * time.Second):
		t.Fatal("run never started")
	}

	cancel()

	select {
	case <-runCtx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not cancel the triggered run")
	}
}

func TestTriggerSync_ConflictWhileRunning(t *testing.T) {
	today := time.Now().UTC().Format("2006-01-02")
	reader := &stubRunReader{runs: map[string]*domain.RunRecord{
		today: {ScheduledDate: today, Status: domain.RunStatusRunning},
	}}
	rec := doRequest(t, testServer(t, reader, nil), http.MethodPost, "/api/sync/trigger")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerSync_FinalizedReturnsRecord(t *testing.T) {
	today := time.Now().UTC().Format("2006-01-02")
	reader := &stubRunReader{runs: map[string]*domain.RunRecord{
		today: {ID: "run-9", ScheduledDate: today, Status: domain.RunStatusCompleted},
	}}
	rec := doRequest(t, testServer(t, reader, nil), http.MethodPost, "/api/sync/trigger")

	assert.Equal(t, http.StatusOK, rec.Code)
	var record domain.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "run-9", record.ID)
}

func TestGetHoldings(t *testing.T) {
	rec := doRequest(t, testServer(t, nil, nil), http.MethodGet, "/api/users/7/holdings")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Holdings   []holdings.Holding `json:"holdings"`
		TotalValue float64            `json:"total_value"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Holdings, 1)
	assert.Equal(t, 14500.0, body.TotalValue)
}

func TestGetHoldings_BadUserID(t *testing.T) {
	rec := doRequest(t, testServer(t, nil, nil), http.MethodGet, "/api/users/abc/holdings")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetReturns(t *testing.T) {
	rec := doRequest(t, testServer(t, nil, nil), http.MethodGet, "/api/users/7/returns?days=30")

	assert.Equal(t, http.StatusOK, rec.Code)
	var summary analytics.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 30, summary.Days)
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(t, nil, nil)
	s.metrics.ObserveOutcome(domain.StatusSuccess)

	rec := doRequest(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "brokersync_task_outcomes_total")
}

func TestUnknownRouteIs404(t *testing.T) {
	rec := doRequest(t, testServer(t, nil, nil), http.MethodGet, fmt.Sprintf("/api/%s", "nope"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
