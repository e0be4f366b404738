package remediation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remedyd/internal/entity"
	"github.com/fyrsmithlabs/remedyd/internal/evidence"
	"github.com/fyrsmithlabs/remedyd/internal/publish"
	"github.com/fyrsmithlabs/remedyd/internal/rca"
)

type fakeEntityStore struct {
	entities map[string]*entity.Context
	err      error
}

func (f *fakeEntityStore) Entity(_ context.Context, _ string, _ entity.Type, id string) (*entity.Context, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entities[id], nil
}

type fakeGate struct {
	access bool
	quota  bool
}

func (f *fakeGate) HasAccess(context.Context, string, string) bool      { return f.access }
func (f *fakeGate) QuotaRemaining(context.Context, string, string) bool { return f.quota }

type fakeFetcher struct {
	bundle *evidence.Bundle
	err    error
}

func (f *fakeFetcher) Fetch(context.Context, string, *entity.Context) (*evidence.Bundle, error) {
	return f.bundle, f.err
}

type fakePublisher struct {
	mu       sync.Mutex
	url      string
	err      error
	requests []publish.Request
	release  chan struct{}
}

func (f *fakePublisher) Publish(_ context.Context, req publish.Request) (string, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.url, f.err
}

type fakeEnricher struct {
	mu     sync.Mutex
	writes []map[string]string
	err    error
}

func (f *fakeEnricher) WriteEnrichment(_ context.Context, _ string, _ entity.Type, _ string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	f.writes = append(f.writes, copied)
	return f.err
}

func (f *fakeEnricher) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, w := range f.writes {
		if s, ok := w["remediation_status"]; ok {
			out = append(out, s)
		}
	}
	return out
}

func taggedAlert() *entity.Context {
	return &entity.Context{
		Type: entity.TypeAlert,
		ID:   "fp-1234",
		Alert: &entity.Alert{
			Fingerprint: "fp-1234",
			Name:        "HighErrorRate",
			Severity:    "critical",
			Service:     "payments-service",
			Description: "Connection timed out to payments-service",
			Repo:        "acme/payments",
		},
	}
}

type serviceFixture struct {
	svc       *Service
	store     *MemoryJobStore
	publisher *fakePublisher
	enricher  *fakeEnricher
}

func newFixture(t *testing.T, mutate func(*ServiceParams)) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store:     NewMemoryJobStore(),
		publisher: &fakePublisher{url: "https://github.com/acme/payments/pull/7"},
		enricher:  &fakeEnricher{},
	}
	params := ServiceParams{
		Store:           f.store,
		Entities:        &fakeEntityStore{entities: map[string]*entity.Context{"fp-1234": taggedAlert()}},
		Gate:            &fakeGate{access: true, quota: true},
		Resolver:        NewResolver(nil, nil),
		Fetcher:         &fakeFetcher{},
		Generator:       rca.NewTemplateGenerator(),
		Publisher:       f.publisher,
		Enricher:        f.enricher,
		FrontendBaseURL: "https://app.example.com",
	}
	if mutate != nil {
		mutate(&params)
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func submitAlert(t *testing.T, f *serviceFixture) *Job {
	t.Helper()
	job, err := f.svc.Submit(context.Background(), Request{
		TenantID:   "acme",
		EntityType: entity.TypeAlert,
		EntityID:   "fp-1234",
	})
	require.NoError(t, err)
	return job
}

func TestService_SubmitRunsPipeline(t *testing.T) {
	f := newFixture(t, nil)

	job := submitAlert(t, f)
	assert.Equal(t, StatusPending, job.Status)
	f.svc.Wait()

	done, err := f.svc.Job(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, done.Status)
	assert.Equal(t, "https://github.com/acme/payments/pull/7", done.PRURL)
	assert.Equal(t, "acme/payments", done.Repo)
	assert.NotEmpty(t, done.Summary)
	require.NotNil(t, done.CompletedAt)

	require.Len(t, f.publisher.requests, 1)
	req := f.publisher.requests[0]
	assert.Equal(t, "acme", req.Owner)
	assert.Equal(t, "payments", req.Repo)
	assert.Equal(t, "https://app.example.com/alerts/fp-1234", req.EntityLink)
	require.NotNil(t, req.Report)
	assert.Equal(t, "Timeout / retry configuration", req.Report.RecommendedFixCategory)

	assert.Equal(t, []string{"pending", "success"}, f.enricher.statuses())
}

func TestService_SubmitValidation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Submit(context.Background(), Request{TenantID: "acme", EntityType: "bogus", EntityID: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.Submit(context.Background(), Request{TenantID: "acme", EntityType: entity.TypeAlert})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_GateAndQuota(t *testing.T) {
	f := newFixture(t, func(p *ServiceParams) {
		p.Gate = &fakeGate{access: false, quota: true}
	})
	_, err := f.svc.Submit(context.Background(), Request{TenantID: "acme", EntityType: entity.TypeAlert, EntityID: "fp-1234"})
	assert.ErrorIs(t, err, ErrFeatureDisabled)

	f = newFixture(t, func(p *ServiceParams) {
		p.Gate = &fakeGate{access: true, quota: false}
	})
	_, err = f.svc.Submit(context.Background(), Request{TenantID: "acme", EntityType: entity.TypeAlert, EntityID: "fp-1234"})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestService_EntityNotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Submit(context.Background(), Request{TenantID: "acme", EntityType: entity.TypeAlert, EntityID: "unknown"})
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestService_DuplicatePendingReturnsExistingJob(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(p *ServiceParams) {
		p.Publisher = &fakePublisher{url: "u", release: release}
	})

	first := submitAlert(t, f)

	// The first job is blocked inside publish, so the duplicate sees it
	// pending.
	dup, err := f.svc.Submit(context.Background(), Request{
		TenantID:   "acme",
		EntityType: entity.TypeAlert,
		EntityID:   "fp-1234",
	})
	require.ErrorIs(t, err, ErrJobPending)
	require.NotNil(t, dup)
	assert.Equal(t, first.ID, dup.ID)

	close(release)
	f.svc.Wait()
}

func TestService_PublishFailureIsSoft(t *testing.T) {
	f := newFixture(t, func(p *ServiceParams) {
		p.Publisher = &fakePublisher{err: &publish.Error{Stage: "branch", Err: errors.New("403")}}
	})

	job := submitAlert(t, f)
	f.svc.Wait()

	done, err := f.svc.Job(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, done.Status)
	assert.Empty(t, done.PRURL)
	assert.NotEmpty(t, done.Summary)
}

func TestService_EvidenceFailureIsSoft(t *testing.T) {
	f := newFixture(t, func(p *ServiceParams) {
		p.Fetcher = &fakeFetcher{err: errors.New("sentry 500")}
	})

	job := submitAlert(t, f)
	f.svc.Wait()

	done, err := f.svc.Job(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, done.Status)
}

func TestService_NoRepoSkipsPublish(t *testing.T) {
	untagged := taggedAlert()
	untagged.Alert.Repo = ""
	f := newFixture(t, func(p *ServiceParams) {
		p.Entities = &fakeEntityStore{entities: map[string]*entity.Context{"fp-1234": untagged}}
	})

	job := submitAlert(t, f)
	f.svc.Wait()

	done, err := f.svc.Job(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, done.Status)
	assert.Equal(t, "N/A", done.Repo)
	assert.Empty(t, done.PRURL)
	assert.Empty(t, f.publisher.requests)
}

func TestService_EnrichmentFailureIgnored(t *testing.T) {
	f := newFixture(t, func(p *ServiceParams) {
		p.Enricher = &fakeEnricher{err: errors.New("write refused")}
	})

	job := submitAlert(t, f)
	f.svc.Wait()

	done, err := f.svc.Job(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, done.Status)
}

func TestService_NoDanglingPending(t *testing.T) {
	// A generator panic must still drive the job to a terminal state.
	f := newFixture(t, func(p *ServiceParams) {
		p.Generator = panickingGenerator{}
	})

	job := submitAlert(t, f)
	f.svc.Wait()

	done, err := f.svc.Job(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Contains(t, done.Error, "pipeline panic")
}

type panickingGenerator struct{}

func (panickingGenerator) Generate(context.Context, *entity.Context, *evidence.Bundle, string) *rca.Report {
	panic("boom")
}

func TestService_ClosedRejectsSubmissions(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.svc.Close())

	_, err := f.svc.Submit(context.Background(), Request{
		TenantID:   "acme",
		EntityType: entity.TypeAlert,
		EntityID:   "fp-1234",
	})
	assert.ErrorContains(t, err, "closed")
}
