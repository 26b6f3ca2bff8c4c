package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/reviewpilot/reviewpilot/review"
	"github.com/reviewpilot/reviewpilot/workflow"
)

// reviewableActions are the pull_request actions that trigger a review.
var reviewableActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

// pullRequestPayload is the subset of GitHub's pull_request webhook body
// the translation needs.
type pullRequestPayload struct {
	Action     string `json:"action"`
	Number     int    `json:"number"`
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// GitHubWebhook ingests GitHub webhook deliveries. The signature is
// verified over the raw body before anything is parsed; a failed check
// never reaches the bus. A 200 response means the event was durably
// enqueued (or deliberately ignored), not that any workflow completed.
// (POST /api/webhooks/github)
func (s *Server) GitHubWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to read request body")
	}

	if !s.verifySignature(body, c.Request().Header.Get("X-Hub-Signature-256")) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid signature")
	}

	eventName := c.Request().Header.Get("X-GitHub-Event")
	if eventName == "ping" {
		return c.JSON(http.StatusOK, map[string]string{"msg": "pong"})
	}

	if eventName == "pull_request" {
		var payload pullRequestPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON payload")
		}
		if reviewableActions[payload.Action] {
			event := workflow.Event{
				Name: review.EventReviewRequested,
				Data: map[string]interface{}{
					"owner":    payload.Repository.Owner.Login,
					"repo":     payload.Repository.Name,
					"prNumber": payload.Number,
					"userId":   payload.Sender.Login,
				},
			}
			if _, err := s.Bus.Publish(c.Request().Context(), event); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "Failed to enqueue event: "+err.Error())
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"msg": "Event processed"})
	}

	if !json.Valid(body) {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON payload")
	}
	return c.JSON(http.StatusOK, map[string]string{"msg": "Event processed"})
}

// verifySignature checks the X-Hub-Signature-256 header against the HMAC
// of the raw body. An empty configured secret disables verification for
// local development.
func (s *Server) verifySignature(body []byte, header string) bool {
	if s.WebhookSecret == "" {
		return true
	}

	got, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.WebhookSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(got), []byte(want))
}
