package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gopkg.in/yaml.v3"

	"github.com/streamfall/streamfall/internal/auth"
	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
)

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// login mints a bearer token against the dashboard credential.
// POST /api/auth/login
func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if locked, remaining := s.limiter.Locked(req.Username); locked {
		return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
			"error":             "account temporarily locked",
			"retryAfterSeconds": int(remaining.Seconds()) + 1,
		})
	}

	token, err := s.deps.Auth.Login(req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrNoPasswordSet):
			return c.JSON(http.StatusForbidden, map[string]string{"error": "password login is not configured"})
		case errors.Is(err, auth.ErrInvalidCredentials):
			s.limiter.Fail(req.Username)
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		default:
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}

	s.limiter.Succeed(req.Username)
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

// listStates returns every lifecycle state, in order.
// GET /api/states
func (s *Server) listStates(c echo.Context) error {
	return c.JSON(http.StatusOK, media.AllStates)
}

// getStats reports store counts and bus depth.
// GET /api/stats
func (s *Server) getStats(c echo.Context) error {
	ctx := c.Request().Context()

	states, err := s.deps.Store.CountByState(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	types, err := s.deps.Store.CountByType(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	retries, err := s.deps.Store.IncompleteRetries(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	var total int64
	for _, n := range types {
		total += n
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"totalItems":        total,
		"states":            states,
		"types":             types,
		"incompleteRetries": retries,
		"queued":            len(s.deps.Bus.Queued()),
		"running":           len(s.deps.Bus.Running()),
		"uptimeSeconds":     int(time.Since(s.startedAt).Seconds()),
	})
}

// getEvents snapshots the bus queues.
// GET /api/events
func (s *Server) getEvents(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"queued":  s.deps.Bus.Queued(),
		"running": s.deps.Bus.Running(),
	})
}

// listServices reports per-service availability as seen by the runner.
// GET /api/services
func (s *Server) listServices(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ready":    s.deps.Runner.Ready(),
		"services": s.deps.Runner.ServiceStatuses(),
	})
}

// getSettings returns the live configuration keyed like the config file.
// GET /api/settings
func (s *Server) getSettings(c echo.Context) error {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()

	out, err := configToMap(cfg)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, out)
}

// updateSettings merges the request body over the current configuration,
// persists the result, and notifies main so services restart on the new
// settings. Body keys match the config file (snake_case, nested).
// PUT /api/settings
func (s *Server) updateSettings(c echo.Context) error {
	var patch map[string]interface{}
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if len(patch) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "no settings provided"})
	}

	patchData, err := yaml.Marshal(patch)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	s.mu.Lock()
	updated := *s.cfg
	if err := yaml.Unmarshal(patchData, &updated); err != nil {
		s.mu.Unlock()
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid settings: " + err.Error()})
	}

	if err := config.Save(&updated, s.deps.ConfigPath); err != nil {
		s.mu.Unlock()
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	s.cfg = &updated
	hook := s.onSettingsSaved
	s.mu.Unlock()

	s.logger.Info().Msg("Settings updated")
	if hook != nil {
		// The hook restarts services; it must not block the response.
		go hook(&updated)
	}

	out, err := configToMap(&updated)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, out)
}

func configToMap(cfg *config.Config) (map[string]interface{}, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// listTasks returns all scheduled tasks.
// GET /api/tasks
func (s *Server) listTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Scheduler.ListTasks())
}

// runTask triggers a scheduled task immediately.
// POST /api/tasks/:id/run
func (s *Server) runTask(c echo.Context) error {
	taskID := c.Param("id")
	if err := s.deps.Scheduler.RunNow(taskID); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "Task started",
		"taskId":  taskID,
	})
}
