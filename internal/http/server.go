// Package http exposes the remediation API over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/entity"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
	"github.com/fyrsmithlabs/remedyd/internal/remediation"
)

// TenantHeader names the tenant for a request. Absent means the default
// single-tenant install.
const TenantHeader = "X-Tenant-ID"

const defaultTenant = "default"

// RemediationService is the orchestrator surface the API needs.
type RemediationService interface {
	Submit(ctx context.Context, req remediation.Request) (*remediation.Job, error)
	Job(ctx context.Context, id string) (*remediation.Job, error)
	Jobs(ctx context.Context, tenantID string, limit int) ([]*remediation.Job, error)
}

// Server provides HTTP endpoints for remedyd.
type Server struct {
	echo    *echo.Echo
	service RemediationService
	logger  *logging.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(service RemediationService, logger *logging.Logger, cfg *Config) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("remediation service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			ctx = logging.WithTenantID(ctx, tenantID(c))
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			duration := time.Since(start)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		service: service,
		logger:  logger,
		config:  cfg,
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/remediate", s.handleRemediate)
	v1.GET("/jobs", s.handleListJobs)
	v1.GET("/jobs/:id", s.handleGetJob)
}

// RemediateRequest is the request body for POST /api/v1/remediate. Exactly
// one of the two identifiers must be set.
type RemediateRequest struct {
	AlertFingerprint string `json:"alert_fingerprint,omitempty"`
	IncidentID       string `json:"incident_id,omitempty"`
}

// RemediateResponse is the response body for POST /api/v1/remediate.
type RemediateResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// JobResponse is the response body for GET /api/v1/jobs/:id.
type JobResponse struct {
	JobID       string     `json:"job_id"`
	TenantID    string     `json:"tenant_id"`
	EntityType  string     `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	Status      string     `json:"status"`
	Repo        string     `json:"repo,omitempty"`
	PRURL       string     `json:"pr_url,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleRemediate(c echo.Context) error {
	ctx := c.Request().Context()

	var body RemediateRequest
	if err := c.Bind(&body); err != nil {
		s.logger.Warn(ctx, "invalid remediate request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var req remediation.Request
	switch {
	case body.AlertFingerprint != "" && body.IncidentID != "":
		return echo.NewHTTPError(http.StatusBadRequest, "provide exactly one of alert_fingerprint or incident_id")
	case body.AlertFingerprint != "":
		req = remediation.Request{EntityType: entity.TypeAlert, EntityID: body.AlertFingerprint}
	case body.IncidentID != "":
		req = remediation.Request{EntityType: entity.TypeIncident, EntityID: body.IncidentID}
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "provide exactly one of alert_fingerprint or incident_id")
	}
	req.TenantID = tenantID(c)

	job, err := s.service.Submit(ctx, req)
	if err != nil {
		if errors.Is(err, remediation.ErrJobPending) {
			return c.JSON(http.StatusAccepted, RemediateResponse{
				JobID:   job.ID,
				Status:  string(job.Status),
				Message: "remediation already in progress",
			})
		}
		return s.mapSubmitError(ctx, err)
	}

	return c.JSON(http.StatusAccepted, RemediateResponse{
		JobID:   job.ID,
		Status:  string(job.Status),
		Message: "remediation started",
	})
}

func (s *Server) mapSubmitError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, remediation.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, remediation.ErrFeatureDisabled):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, remediation.ErrEntityNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, remediation.ErrQuotaExceeded):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	default:
		s.logger.Error(ctx, "remediation submission failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleGetJob(c echo.Context) error {
	job, err := s.service.Job(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, remediation.ErrJobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		s.logger.Error(c.Request().Context(), "job lookup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, jobResponse(job))
}

func (s *Server) handleListJobs(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}

	jobs, err := s.service.Jobs(c.Request().Context(), tenantID(c), limit)
	if err != nil {
		s.logger.Error(c.Request().Context(), "job listing failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	out := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobResponse(job))
	}
	return c.JSON(http.StatusOK, out)
}

func jobResponse(job *remediation.Job) JobResponse {
	return JobResponse{
		JobID:       job.ID,
		TenantID:    job.TenantID,
		EntityType:  string(job.EntityType),
		EntityID:    job.EntityID,
		Status:      string(job.Status),
		Repo:        job.Repo,
		PRURL:       job.PRURL,
		Summary:     job.Summary,
		Error:       job.Error,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}

func tenantID(c echo.Context) string {
	if t := c.Request().Header.Get(TenantHeader); t != "" {
		return t
	}
	return defaultTenant
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
