package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/entity"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
	"github.com/fyrsmithlabs/remedyd/internal/rca"
)

const (
	defaultBranchPrefix = "remedyd"
	reportFilePath      = "RCA_REPORT.md"
	shortIDLength       = 8
)

// Request carries everything needed to publish one report.
type Request struct {
	Owner      string
	Repo       string
	EntityType entity.Type
	EntityID   string
	Report     *rca.Report

	// EntityLink is an optional dashboard URL included in the PR body.
	EntityLink string
}

// Publisher opens draft pull requests carrying RCA reports.
type Publisher struct {
	provider     clientProvider
	branchPrefix string
	baseFallback string
	logger       *logging.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// WithClientProvider overrides the GitHub App auth flow. Used by tests.
func WithClientProvider(provider clientProvider) Option {
	return func(p *Publisher) { p.provider = provider }
}

// New creates a Publisher using GitHub App authentication.
func New(cfg config.GitHubConfig, opts ...Option) (*Publisher, error) {
	p := &Publisher{
		branchPrefix: defaultBranchPrefix,
		baseFallback: cfg.PreferredBase,
		logger:       logging.NewNop(),
	}
	if p.baseFallback == "" {
		p.baseFallback = "main"
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.provider == nil {
		auth, err := newAppAuth(cfg)
		if err != nil {
			return nil, err
		}
		p.provider = auth
	}
	return p, nil
}

// Publish commits the report on a remediation branch and opens a draft pull
// request. It is idempotent per entity: an existing branch or open pull
// request for the same entity counts as success, and the existing PR's URL is
// returned.
func (p *Publisher) Publish(ctx context.Context, req Request) (string, error) {
	if req.Owner == "" || req.Repo == "" {
		return "", fmt.Errorf("repository owner and name required")
	}
	if req.Report == nil {
		return "", fmt.Errorf("report required")
	}

	client, err := p.provider.installationClient(ctx, req.Owner, req.Repo)
	if err != nil {
		return "", err
	}

	base := p.defaultBranch(ctx, client, req)
	branch := p.branchName(req)

	if err := p.ensureBranch(ctx, client, req, base, branch); err != nil {
		return "", &Error{Stage: "branch", Err: err}
	}
	if err := p.commitReport(ctx, client, req, branch); err != nil {
		return "", &Error{Stage: "commit", Err: err}
	}
	url, err := p.ensurePullRequest(ctx, client, req, base, branch)
	if err != nil {
		return "", &Error{Stage: "pull_request", Err: err}
	}
	return url, nil
}

// branchName derives a stable branch from the entity identity so repeated
// publishes converge on the same branch.
func (p *Publisher) branchName(req Request) string {
	id := req.EntityID
	if len(id) > shortIDLength {
		id = id[:shortIDLength]
	}
	return fmt.Sprintf("%s/%s-%s-remediation", p.branchPrefix, req.EntityType, id)
}

func (p *Publisher) defaultBranch(ctx context.Context, client *github.Client, req Request) string {
	repoInfo, _, err := client.Repositories.Get(ctx, req.Owner, req.Repo)
	if err != nil || repoInfo.GetDefaultBranch() == "" {
		p.logger.Warn(ctx, "failed to resolve default branch, using fallback",
			zap.String("repo", req.Owner+"/"+req.Repo),
			zap.String("fallback", p.baseFallback),
			zap.Error(err))
		return p.baseFallback
	}
	return repoInfo.GetDefaultBranch()
}

func (p *Publisher) ensureBranch(ctx context.Context, client *github.Client, req Request, base, branch string) error {
	baseRef, _, err := client.Git.GetRef(ctx, req.Owner, req.Repo, "refs/heads/"+base)
	if err != nil {
		return fmt.Errorf("failed to resolve base branch %q: %w", base, err)
	}

	newRef := &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: baseRef.Object.SHA},
	}
	_, _, err = client.Git.CreateRef(ctx, req.Owner, req.Repo, newRef)
	if err != nil {
		// 422 means the branch already exists from a previous publish.
		if isStatus(err, http.StatusUnprocessableEntity) {
			p.logger.Debug(ctx, "remediation branch already exists",
				zap.String("branch", branch))
			return nil
		}
		return fmt.Errorf("failed to create branch %q: %w", branch, err)
	}
	return nil
}

func (p *Publisher) commitReport(ctx context.Context, client *github.Client, req Request, branch string) error {
	content := []byte(req.Report.FullReportMarkdown)
	message := fmt.Sprintf("Add automated RCA report for %s %s", req.EntityType, req.EntityID)
	fileOpts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		Branch:  github.String(branch),
	}

	existing, _, _, err := client.Repositories.GetContents(ctx, req.Owner, req.Repo, reportFilePath,
		&github.RepositoryContentGetOptions{Ref: branch})
	if err == nil && existing != nil {
		fileOpts.SHA = existing.SHA
		_, _, err = client.Repositories.UpdateFile(ctx, req.Owner, req.Repo, reportFilePath, fileOpts)
	} else {
		_, _, err = client.Repositories.CreateFile(ctx, req.Owner, req.Repo, reportFilePath, fileOpts)
	}
	if err != nil {
		return fmt.Errorf("failed to commit report: %w", err)
	}
	return nil
}

func (p *Publisher) ensurePullRequest(ctx context.Context, client *github.Client, req Request, base, branch string) (string, error) {
	pr, _, err := client.PullRequests.Create(ctx, req.Owner, req.Repo, &github.NewPullRequest{
		Title: github.String(fmt.Sprintf("Automated remediation for %s: %s", req.EntityType, req.Report.EntityName)),
		Head:  github.String(branch),
		Base:  github.String(base),
		Body:  github.String(p.prBody(req)),
		Draft: github.Bool(true),
	})
	if err == nil {
		p.logger.Info(ctx, "opened draft remediation PR",
			zap.String("repo", req.Owner+"/"+req.Repo),
			zap.String("url", pr.GetHTMLURL()))
		return pr.GetHTMLURL(), nil
	}

	// 422 means a PR for this branch is already open. Find and return it.
	if isStatus(err, http.StatusUnprocessableEntity) {
		existing, _, listErr := client.PullRequests.List(ctx, req.Owner, req.Repo, &github.PullRequestListOptions{
			Head:  req.Owner + ":" + branch,
			State: "open",
		})
		if listErr == nil && len(existing) > 0 {
			p.logger.Info(ctx, "remediation PR already open",
				zap.String("url", existing[0].GetHTMLURL()))
			return existing[0].GetHTMLURL(), nil
		}
		if listErr != nil {
			return "", fmt.Errorf("PR exists but lookup failed: %w", listErr)
		}
	}
	return "", fmt.Errorf("failed to create pull request: %w", err)
}

func (p *Publisher) prBody(req Request) string {
	var b strings.Builder
	b.WriteString("## Automated Remediation\n\n")
	b.WriteString(req.Report.Summary)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "**Recommended Fix Category**: %s\n\n", req.Report.RecommendedFixCategory)
	fmt.Fprintf(&b, "The full analysis is in [`%s`](%s) on this branch.\n\n", reportFilePath, reportFilePath)
	b.WriteString("### Review Checklist\n\n")
	b.WriteString("- [ ] Review the ranked root cause hypotheses\n")
	b.WriteString("- [ ] Validate the recommended fix category\n")
	b.WriteString("- [ ] Apply the fix, or close this PR if not applicable\n")
	if req.EntityLink != "" {
		fmt.Fprintf(&b, "\n[View %s in dashboard](%s)\n", req.EntityType, req.EntityLink)
	}
	return b.String()
}

func isStatus(err error, code int) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode == code
	}
	return false
}
