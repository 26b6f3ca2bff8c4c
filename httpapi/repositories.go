package httpapi

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/reviewpilot/reviewpilot/review"
	"github.com/reviewpilot/reviewpilot/workflow"
)

type connectRepositoryRequest struct {
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	UserID string `json:"userId"`
}

// ConnectRepository registers a repository and triggers its indexing
// workflow. The repository row must exist before any review of its pull
// requests can be recorded; reconnecting an already-connected repository
// re-triggers indexing without creating a second row.
// (POST /api/repositories)
func (s *Server) ConnectRepository(c echo.Context) error {
	var req connectRepositoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Owner == "" || req.Name == "" || req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner, name and userId are required")
	}

	ctx := c.Request().Context()

	repo, found, err := s.Reviews.FindRepository(ctx, req.Owner, req.Name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to look up repository: "+err.Error())
	}

	status := http.StatusOK
	if !found {
		repo = &review.Repository{
			ID:     uuid.NewString(),
			Owner:  req.Owner,
			Name:   req.Name,
			URL:    fmt.Sprintf("https://github.com/%s/%s", req.Owner, req.Name),
			UserID: req.UserID,
		}
		if err := s.Reviews.AddRepository(ctx, repo); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save repository: "+err.Error())
		}
		status = http.StatusCreated
	}

	runID, err := s.Bus.Publish(ctx, workflow.Event{
		Name: review.EventRepositoryConnected,
		Data: map[string]interface{}{
			"owner":  req.Owner,
			"repo":   req.Name,
			"userId": req.UserID,
		},
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to trigger indexing: "+err.Error())
	}

	return c.JSON(status, map[string]interface{}{
		"repository": repo,
		"runId":      runID,
	})
}
