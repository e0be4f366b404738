package remediation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// JobStore persists job state. Terminal-state writes to an already-terminal
// job return ErrJobTerminal; status never moves backwards.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)

	// PendingByFingerprint returns the pending job for a submission
	// fingerprint, or (nil, nil) when there is none.
	PendingByFingerprint(ctx context.Context, fingerprint string) (*Job, error)

	MarkSuccess(ctx context.Context, id string, res Result) error
	MarkFailed(ctx context.Context, id, message string) error

	// CountCompletedSince counts a tenant's jobs that reached a terminal
	// state at or after the given instant. Used for quota accounting.
	CountCompletedSince(ctx context.Context, tenantID string, since time.Time) (int, error)

	// List returns a tenant's jobs, newest first, up to limit.
	List(ctx context.Context, tenantID string, limit int) ([]*Job, error)

	Close() error
}

// MemoryJobStore is an in-memory JobStore for tests and single-run setups.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewMemoryJobStore creates an empty in-memory store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *MemoryJobStore) PendingByFingerprint(_ context.Context, fingerprint string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.Fingerprint == fingerprint && job.Status == StatusPending {
			copied := *job
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryJobStore) MarkSuccess(_ context.Context, id string, res Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return ErrJobTerminal
	}
	now := s.now()
	job.Status = StatusSuccess
	job.PRURL = res.PRURL
	job.Repo = res.Repo
	job.Summary = res.Summary
	job.CompletedAt = &now
	return nil
}

func (s *MemoryJobStore) MarkFailed(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return ErrJobTerminal
	}
	now := s.now()
	job.Status = StatusFailed
	job.Error = message
	job.CompletedAt = &now
	return nil
}

func (s *MemoryJobStore) CountCompletedSince(_ context.Context, tenantID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int
	for _, job := range s.jobs {
		if job.TenantID != tenantID || job.CompletedAt == nil {
			continue
		}
		if !job.CompletedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryJobStore) List(_ context.Context, tenantID string, limit int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []*Job
	for _, job := range s.jobs {
		if job.TenantID == tenantID {
			copied := *job
			jobs = append(jobs, &copied)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryJobStore) Close() error {
	return nil
}
