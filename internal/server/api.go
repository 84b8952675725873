package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response body for GET /ready.
type ReadyResponse struct {
	Ready bool `json:"ready"`
}

// RunsResponse is the response body for GET /api/v1/runs.
type RunsResponse struct {
	Runs  []*pipeline.Run `json:"runs"`
	Count int             `json:"count"`
}

// AliasesResponse is the response body for GET /api/v1/aliases.
type AliasesResponse struct {
	Aliases map[string]string `json:"aliases"`
}

// PlanResponse is the response body for POST /api/v1/plan.
type PlanResponse struct {
	Plan pipeline.Plan `json:"plan"`
}

// readiness is implemented by dispatchers that can report whether they
// accept runs.
type readiness interface {
	Ready() bool
}

// handleHealth returns a simple liveness response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady reports whether the daemon accepts new runs.
func (s *Server) handleReady(c echo.Context) error {
	if r, ok := s.deps.Dispatcher.(readiness); ok && !r.Ready() {
		return c.JSON(http.StatusServiceUnavailable, ReadyResponse{Ready: false})
	}
	return c.JSON(http.StatusOK, ReadyResponse{Ready: true})
}

// handleListRuns returns recent runs, newest first. The limit query
// parameter bounds the page; it defaults to 50.
func (s *Server) handleListRuns(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	recent := s.deps.Runs.Recent(limit)
	return c.JSON(http.StatusOK, RunsResponse{Runs: recent, Count: len(recent)})
}

// handleGetRun returns one run record by ID.
func (s *Server) handleGetRun(c echo.Context) error {
	id := c.Param("id")
	run, ok := s.deps.Runs.Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, run)
}

// handleAliases returns the current docs alias table.
func (s *Server) handleAliases(c echo.Context) error {
	if s.deps.Aliases == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "alias store not configured")
	}

	table, err := s.deps.Aliases.List(c.Request().Context())
	if err != nil {
		s.logger.Error("listing aliases", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing aliases failed")
	}
	return c.JSON(http.StatusOK, AliasesResponse{Aliases: table})
}

// handlePlan dry-runs the pure dispatcher on a submitted event. No run
// is recorded and nothing executes; this is the debugging surface for
// routing rules. The topology query parameter accepts "split"
// (default, the daemon's layout) or "self-contained".
func (s *Server) handlePlan(c echo.Context) error {
	var ev pipeline.Event
	if err := c.Bind(&ev); err != nil {
		s.logger.Warn("invalid plan request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	topo := pipeline.TopologySplit
	switch c.QueryParam("topology") {
	case "", "split":
	case "self-contained":
		topo = pipeline.TopologySelfContained
	default:
		return echo.NewHTTPError(http.StatusBadRequest, `topology must be "split" or "self-contained"`)
	}

	plan, err := pipeline.BuildPlan(ev, topo)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	return c.JSON(http.StatusOK, PlanResponse{Plan: plan})
}
