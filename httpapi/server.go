// Package httpapi is the HTTP ingress boundary: webhook intake, direct
// event injection, and the read-side query endpoints for the dashboard.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reviewpilot/reviewpilot/review"
	"github.com/reviewpilot/reviewpilot/workflow"
	"github.com/reviewpilot/reviewpilot/workflow/store"
)

// Server holds the dependencies for the API server.
type Server struct {
	Bus           *workflow.Bus
	Runs          store.RunStore
	Reviews       review.ReviewStore
	WebhookSecret string

	// Gatherer serves /metrics. Nil falls back to the default registry.
	Gatherer prometheus.Gatherer
}

// Router builds the echo instance with all routes registered.
func (s *Server) Router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.POST("/api/webhooks/github", s.GitHubWebhook)
	e.POST("/api/events", s.PublishEvent)
	e.GET("/api/runs", s.ListRuns)
	e.GET("/api/runs/:id", s.GetRun)
	e.POST("/api/repositories", s.ConnectRepository)
	e.GET("/api/repositories/:id/reviews", s.ListReviews)
	e.GET("/healthz", s.Health)

	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return e
}

// PublishEvent injects an event directly onto the bus and returns the run
// ID handling it. Internal surface; webhook traffic goes through the
// GitHub endpoint instead.
// (POST /api/events)
func (s *Server) PublishEvent(c echo.Context) error {
	var event workflow.Event
	if err := c.Bind(&event); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	if err := event.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	runID, err := s.Bus.Publish(c.Request().Context(), event)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to publish event: "+err.Error())
	}

	return c.JSON(http.StatusAccepted, map[string]string{"runId": runID})
}

// runView is the JSON shape of a run in query responses.
type runView struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflowId"`
	RunKey     string          `json:"runKey"`
	Status     store.Status    `json:"status"`
	Event      json.RawMessage `json:"event,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type stepView struct {
	Step        string          `json:"step"`
	Value       json.RawMessage `json:"value,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	Attempts    int             `json:"attempts"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

func viewOfRun(run *store.Run) runView {
	return runView{
		ID:         run.ID,
		WorkflowID: run.WorkflowID,
		RunKey:     run.RunKey,
		Status:     run.Status,
		Event:      run.Event,
		CreatedAt:  run.CreatedAt,
		UpdatedAt:  run.UpdatedAt,
	}
}

func viewOfStep(result *store.StepResult) stepView {
	v := stepView{
		Step:      result.Step,
		Value:     result.Value,
		LastError: result.LastError,
		Attempts:  result.Attempts,
	}
	if !result.CompletedAt.IsZero() {
		t := result.CompletedAt
		v.CompletedAt = &t
	}
	return v
}

// ListRuns returns runs filtered by the status query parameter; with no
// filter, every non-terminal status is listed.
// (GET /api/runs?status=running)
func (s *Server) ListRuns(c echo.Context) error {
	var statuses []store.Status
	switch raw := c.QueryParam("status"); raw {
	case "":
		statuses = []store.Status{store.StatusPending, store.StatusRunning}
	case string(store.StatusPending), string(store.StatusRunning),
		string(store.StatusCompleted), string(store.StatusFailed):
		statuses = []store.Status{store.Status(raw)}
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown status: "+raw)
	}

	runs, err := s.Runs.ListRunsByStatus(c.Request().Context(), statuses...)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list runs: "+err.Error())
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, viewOfRun(run))
	}
	return c.JSON(http.StatusOK, views)
}

// GetRun returns one run with its step results.
// (GET /api/runs/:id)
func (s *Server) GetRun(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	run, err := s.Runs.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load run: "+err.Error())
	}

	results, err := s.Runs.ListStepResults(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load step results: "+err.Error())
	}

	steps := make([]stepView, 0, len(results))
	for _, result := range results {
		steps = append(steps, viewOfStep(result))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"run":   viewOfRun(run),
		"steps": steps,
	})
}

// ListReviews returns a repository's review history, newest first.
// (GET /api/repositories/:id/reviews)
func (s *Server) ListReviews(c echo.Context) error {
	records, err := s.Reviews.ListReviews(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list reviews: "+err.Error())
	}
	if records == nil {
		records = []*review.ReviewRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

// Health reports liveness.
// (GET /healthz)
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
