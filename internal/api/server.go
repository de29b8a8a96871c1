// Package api serves validation history over HTTP.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/segeval/internal/vallog"
	"github.com/samcharles93/segeval/internal/version"
	"github.com/samcharles93/segeval/internal/visual"
)

const maxListLimit = 1000

// Server exposes read-only views over a validation log.
type Server struct {
	runs vallog.Reader
	// checkpointRoot is where visualizations were rendered; empty disables
	// the visualization endpoint.
	checkpointRoot string
}

func NewServer(runs vallog.Reader, checkpointRoot string) *Server {
	return &Server{runs: runs, checkpointRoot: checkpointRoot}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/runs", s.handleListRuns)
	e.GET("/v1/runs/:epoch", s.handleGetRun)
	e.GET("/v1/runs/:epoch/visualization", s.handleVisualization)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.String(),
	})
}

func (s *Server) handleListRuns(c *echo.Context) error {
	q := vallog.Query{Experiment: c.QueryParam("experiment")}
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return writeRequestError(c, err)
	}
	q.Limit = limit
	recs, err := s.runs.List(c.Request().Context(), q)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
	}
	out := RunList{Object: "list", Data: make([]Run, 0, len(recs))}
	for _, rec := range recs {
		out.Data = append(out.Data, runFromRecord(rec, s.checkpointRoot != ""))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetRun(c *echo.Context) error {
	rec, err := s.lookup(c)
	if err != nil {
		return writeRequestError(c, err)
	}
	return c.JSON(http.StatusOK, runFromRecord(rec, s.checkpointRoot != ""))
}

func (s *Server) handleVisualization(c *echo.Context) error {
	if s.checkpointRoot == "" {
		return writeNotFound(c, "visualizations are not being served")
	}
	rec, err := s.lookup(c)
	if err != nil {
		return writeRequestError(c, err)
	}
	data, err := os.ReadFile(visual.Path(s.checkpointRoot, rec.Experiment, rec.Epoch))
	if errors.Is(err, os.ErrNotExist) {
		return writeNotFound(c, fmt.Sprintf("no visualization for epoch %d", rec.Epoch))
	}
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
	}
	return c.Blob(http.StatusOK, "image/png", data)
}

func (s *Server) lookup(c *echo.Context) (vallog.Record, error) {
	epoch, err := parseEpoch(c.Param("epoch"))
	if err != nil {
		return vallog.Record{}, err
	}
	return s.runs.Latest(c.Request().Context(), c.QueryParam("experiment"), epoch)
}

// parseLimit reads the optional list limit; empty means no limit.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > maxListLimit {
		return 0, badParam("limit", "must be an integer in [1, %d], got %q", maxListLimit, raw)
	}
	return limit, nil
}

func parseEpoch(raw string) (int, error) {
	epoch, err := strconv.Atoi(raw)
	if err != nil || epoch < 0 {
		return 0, badParam("epoch", "must be a non-negative integer, got %q", raw)
	}
	return epoch, nil
}

func writeRequestError(c *echo.Context, err error) error {
	var pe *paramError
	switch {
	case errors.As(err, &pe):
		return writeBadRequest(c, pe.Param, err.Error())
	case errors.Is(err, vallog.ErrNotFound):
		return writeNotFound(c, err.Error())
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
	}
}

func visualizationURL(rec vallog.Record) string {
	return fmt.Sprintf("/v1/runs/%d/visualization?experiment=%s", rec.Epoch, url.QueryEscape(rec.Experiment))
}

func writeBadRequest(c *echo.Context, param, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, param)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "")
}

func writeError(c *echo.Context, status int, errType, msg, param string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Param:   param,
		},
	})
}
