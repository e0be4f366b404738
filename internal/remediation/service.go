package remediation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/entity"
	"github.com/fyrsmithlabs/remedyd/internal/evidence"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
	"github.com/fyrsmithlabs/remedyd/internal/publish"
)

const instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/remediation"

// ServiceParams wires the orchestrator's collaborators. Store, Entities, Gate,
// Resolver and Generator are required; Fetcher, Publisher and Enricher are
// optional and their stages are skipped when nil.
type ServiceParams struct {
	Store     JobStore
	Entities  EntityStore
	Gate      FeatureGate
	Resolver  *Resolver
	Fetcher   EvidenceFetcher
	Generator ReportGenerator
	Publisher PullRequestPublisher
	Enricher  EnrichmentWriter

	// FrontendBaseURL, when set, is used to link published PRs back to the
	// originating entity.
	FrontendBaseURL string

	Logger *logging.Logger
}

// Service runs the remediation pipeline. Submissions return immediately with
// a pending job; the pipeline itself runs on a background goroutine per job.
type Service struct {
	store           JobStore
	entities        EntityStore
	gate            FeatureGate
	resolver        *Resolver
	fetcher         EvidenceFetcher
	generator       ReportGenerator
	publisher       PullRequestPublisher
	enricher        EnrichmentWriter
	frontendBaseURL string
	logger          *logging.Logger
	now             func() time.Time

	tracer            trace.Tracer
	meter             metric.Meter
	submitCounter     metric.Int64Counter
	completionCounter metric.Int64Counter

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewService creates the orchestrator.
func NewService(p ServiceParams) (*Service, error) {
	if p.Store == nil {
		return nil, errors.New("job store is required")
	}
	if p.Entities == nil {
		return nil, errors.New("entity store is required")
	}
	if p.Gate == nil {
		return nil, errors.New("feature gate is required")
	}
	if p.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if p.Generator == nil {
		return nil, errors.New("report generator is required")
	}
	if p.Logger == nil {
		p.Logger = logging.NewNop()
	}

	s := &Service{
		store:           p.Store,
		entities:        p.Entities,
		gate:            p.Gate,
		resolver:        p.Resolver,
		fetcher:         p.Fetcher,
		generator:       p.Generator,
		publisher:       p.Publisher,
		enricher:        p.Enricher,
		frontendBaseURL: p.FrontendBaseURL,
		logger:          p.Logger,
		now:             time.Now,
		tracer:          otel.Tracer(instrumentationName),
		meter:           otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error

	s.submitCounter, err = s.meter.Int64Counter(
		"remedyd.remediation.submissions_total",
		metric.WithDescription("Total number of remediation submissions accepted"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create submission counter", zap.Error(err))
	}

	s.completionCounter, err = s.meter.Int64Counter(
		"remedyd.remediation.completions_total",
		metric.WithDescription("Total number of remediation jobs reaching a terminal state"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create completion counter", zap.Error(err))
	}
}

// Submit validates a remediation request, records a pending job and starts
// the pipeline asynchronously. A duplicate submission while the first run is
// still pending returns the existing job together with ErrJobPending.
func (s *Service) Submit(ctx context.Context, req Request) (*Job, error) {
	ctx, span := s.tracer.Start(ctx, "remediation.submit")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", req.TenantID),
		attribute.String("entity_type", string(req.EntityType)),
		attribute.String("entity_id", req.EntityID),
	)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errors.New("service is closed")
	}
	s.mu.RUnlock()

	if req.TenantID == "" || req.EntityID == "" || !req.EntityType.Valid() {
		return nil, fmt.Errorf("%w: tenant, entity type and entity id are required", ErrInvalidRequest)
	}

	if !s.gate.HasAccess(ctx, req.TenantID, FeatureAIRemediation) {
		return nil, ErrFeatureDisabled
	}
	if !s.gate.QuotaRemaining(ctx, req.TenantID, FeatureAIRemediation) {
		return nil, ErrQuotaExceeded
	}

	ec, err := s.entities.Entity(ctx, req.TenantID, req.EntityType, req.EntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity: %w", err)
	}
	if ec == nil {
		return nil, ErrEntityNotFound
	}

	// Check-then-act duplicate guard. A concurrent duplicate can slip past
	// this; the publisher's stable branch naming absorbs the race.
	existing, err := s.store.PendingByFingerprint(ctx, req.Fingerprint())
	if err != nil {
		return nil, fmt.Errorf("failed to check pending jobs: %w", err)
	}
	if existing != nil {
		return existing, ErrJobPending
	}

	job := &Job{
		ID:          uuid.New().String(),
		TenantID:    req.TenantID,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		Fingerprint: req.Fingerprint(),
		Status:      StatusPending,
		StartedAt:   s.now().UTC(),
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.writeEnrichment(ctx, job, map[string]string{
		"remediation_status":     string(StatusPending),
		"remediation_job_id":     job.ID,
		"remediation_started_at": job.StartedAt.Format(time.RFC3339),
	})

	if s.submitCounter != nil {
		s.submitCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("entity_type", string(req.EntityType)),
		))
	}

	s.logger.Info(ctx, "remediation job submitted",
		zap.String("job_id", job.ID),
		zap.String("entity_type", string(req.EntityType)),
		zap.String("entity_id", req.EntityID))

	// Jobs run to completion on their own context; request cancellation must
	// not leave a job pending.
	runCtx := logging.WithJobID(logging.WithTenantID(context.Background(), req.TenantID), job.ID)
	s.wg.Add(1)
	go s.run(runCtx, job, ec)

	return job, nil
}

// Job returns the current state of a job.
func (s *Service) Job(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// Jobs lists a tenant's jobs, newest first.
func (s *Service) Jobs(ctx context.Context, tenantID string, limit int) ([]*Job, error) {
	return s.store.List(ctx, tenantID, limit)
}

// run executes the pipeline stages strictly in order. Evidence and publish
// failures degrade the result; only internal faults fail the job.
func (s *Service) run(ctx context.Context, job *Job, ec *entity.Context) {
	defer s.wg.Done()

	ctx, span := s.tracer.Start(ctx, "remediation.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", job.ID),
		attribute.String("entity_type", string(job.EntityType)),
	)

	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, job, fmt.Errorf("pipeline panic: %v", r))
		}
	}()

	var repoRef *RepositoryReference
	if s.publisher != nil {
		repoRef = s.resolver.Resolve(ctx, ec)
	}
	repoLabel := "N/A"
	if repoRef != nil {
		repoLabel = repoRef.String()
	}

	var bundle *evidence.Bundle
	if s.fetcher != nil {
		var err error
		bundle, err = s.fetcher.Fetch(ctx, job.TenantID, ec)
		if err != nil {
			s.logger.Warn(ctx, "evidence fetch failed, continuing without evidence",
				zap.Error(err))
			bundle = nil
		}
	}

	report := s.generator.Generate(ctx, ec, bundle, repoLabel)

	var prURL string
	if s.publisher != nil && repoRef != nil {
		url, err := s.publisher.Publish(ctx, publish.Request{
			Owner:      repoRef.Owner,
			Repo:       repoRef.Name,
			EntityType: job.EntityType,
			EntityID:   job.EntityID,
			Report:     report,
			EntityLink: s.entityLink(job),
		})
		if err != nil {
			s.logger.Warn(ctx, "publish failed, job completes with report only",
				zap.String("repo", repoLabel),
				zap.Error(err))
		} else {
			prURL = url
		}
	}

	res := Result{PRURL: prURL, Repo: repoLabel, Summary: report.Summary}
	if err := s.store.MarkSuccess(ctx, job.ID, res); err != nil {
		s.logger.Error(ctx, "failed to persist job success", zap.Error(err))
		return
	}

	fields := map[string]string{
		"remediation_status":       string(StatusSuccess),
		"remediation_completed_at": s.now().UTC().Format(time.RFC3339),
		"remediation_repo":         repoLabel,
		"rca_summary":              report.Summary,
		"rca_fix_category":         report.RecommendedFixCategory,
		"rca_report":               report.FullReportMarkdown,
	}
	if prURL != "" {
		fields["remediation_pr_url"] = prURL
	}
	s.writeEnrichment(ctx, job, fields)

	if s.completionCounter != nil {
		s.completionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(StatusSuccess)),
		))
	}

	s.logger.Info(ctx, "remediation job completed",
		zap.String("job_id", job.ID),
		zap.String("repo", repoLabel),
		zap.String("pr_url", prURL),
		zap.String("report_method", string(report.Method)))
}

func (s *Service) fail(ctx context.Context, job *Job, cause error) {
	s.logger.Error(ctx, "remediation job failed",
		zap.String("job_id", job.ID),
		zap.Error(cause))

	if err := s.store.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		s.logger.Error(ctx, "failed to persist job failure", zap.Error(err))
	}
	s.writeEnrichment(ctx, job, map[string]string{
		"remediation_status": string(StatusFailed),
		"remediation_error":  cause.Error(),
	})
	if s.completionCounter != nil {
		s.completionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(StatusFailed)),
		))
	}
}

// writeEnrichment is best-effort: failures are logged and never affect the job.
func (s *Service) writeEnrichment(ctx context.Context, job *Job, fields map[string]string) {
	if s.enricher == nil {
		return
	}
	if err := s.enricher.WriteEnrichment(ctx, job.TenantID, job.EntityType, job.EntityID, fields); err != nil {
		s.logger.Warn(ctx, "failed to write enrichment",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
}

func (s *Service) entityLink(job *Job) string {
	if s.frontendBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/%ss/%s", s.frontendBaseURL, job.EntityType, job.EntityID)
}

// Wait blocks until all in-flight jobs finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close stops accepting submissions and waits for in-flight jobs.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
