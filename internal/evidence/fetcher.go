// Package evidence retrieves structured error evidence from a Sentry-style
// issue tracker for use in root cause analysis.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/remedyd/internal/entity"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
)

const (
	defaultTimeout = 30 * time.Second

	// maxFramesPerException bounds the rendered stacktrace per exception entry.
	maxFramesPerException = 5
)

// issueIDFields are the payload field names checked, in order, when looking
// for an issue tracker ID on an alert.
var issueIDFields = []string{
	"sentry_issue_id",
	"sentry_id",
	"sentryIssueId",
	"sentryId",
	"issue_id",
	"issueId",
}

// issueURLPattern extracts a numeric issue ID from an issue permalink.
var issueURLPattern = regexp.MustCompile(`/issues/(\d+)`)

// numericPattern matches a purely numeric fingerprint.
var numericPattern = regexp.MustCompile(`^\d+$`)

// Fetcher retrieves issue evidence using tenant-scoped credentials.
type Fetcher struct {
	creds      CredentialStore
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
}

// NewFetcher creates an evidence fetcher. baseURL defaults to the public
// Sentry API when empty.
func NewFetcher(creds CredentialStore, baseURL string, logger *logging.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = "https://sentry.io/api/0"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Fetcher{
		creds:      creds,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		logger:     logger,
	}
}

// Fetch retrieves evidence for the entity. Returns (nil, nil) when the tenant
// has no tracker credentials or no issue ID can be found; both are expected
// outcomes, not errors. Incident evidence gathering is best-effort and
// currently resolves nothing; incidents carry no single issue reference.
func (f *Fetcher) Fetch(ctx context.Context, tenantID string, ec *entity.Context) (*Bundle, error) {
	if ec.Type != entity.TypeAlert || ec.Alert == nil {
		return nil, nil
	}

	creds, err := f.creds.IssueTrackerCredentials(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve tracker credentials: %w", err)
	}
	if creds == nil || !creds.Token.IsSet() {
		f.logger.Debug(ctx, "no issue tracker credentials, skipping evidence fetch")
		return nil, nil
	}

	issueID := f.extractIssueID(ec.Alert)
	if issueID == "" {
		f.logger.Debug(ctx, "no issue ID found on alert")
		return nil, nil
	}

	issue, err := f.fetchIssue(ctx, creds, issueID)
	if err != nil {
		return nil, fmt.Errorf("fetch issue %s: %w", issueID, err)
	}

	bundle := &Bundle{
		IssueID:  issueID,
		IssueURL: issue.Permalink,
		Culprit:  issue.Culprit,
	}
	if bundle.IssueURL == "" {
		bundle.IssueURL = fmt.Sprintf("https://sentry.io/issues/%s/", issueID)
	}
	if issue.Metadata != nil {
		bundle.ExceptionType = issue.Metadata.Type
		bundle.Message = issue.Metadata.Value
	}

	// Stacktrace comes from the latest event. Failures here degrade the
	// stacktrace fields only; the issue-level evidence stands.
	event, err := f.fetchLatestEvent(ctx, creds, issueID)
	if err != nil {
		f.logger.Warn(ctx, "failed to fetch latest event, continuing with partial evidence",
			zap.String("issue_id", issueID), zap.Error(err))
		return bundle, nil
	}
	bundle.StacktraceTopFrame = topFrame(event)
	bundle.FullStacktrace = renderStacktrace(event)

	return bundle, nil
}

// extractIssueID applies the extraction heuristic in priority order: known
// payload fields, a purely numeric fingerprint, then a numeric issue ID inside
// a permalink found in free-text fields.
func (f *Fetcher) extractIssueID(alert *entity.Alert) string {
	for _, field := range issueIDFields {
		if v, ok := alert.Field(field); ok {
			return v
		}
	}

	if numericPattern.MatchString(alert.Fingerprint) {
		return alert.Fingerprint
	}

	for _, text := range []string{alert.Description, alert.Message, alert.URL} {
		if m := issueURLPattern.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}

	return ""
}

// issuePayload is the subset of the tracker issue document we read.
type issuePayload struct {
	Permalink string `json:"permalink"`
	Culprit   string `json:"culprit"`
	Metadata  *struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"metadata"`
}

// eventPayload is the subset of the latest-event document we read.
type eventPayload struct {
	Exception struct {
		Values []exceptionEntry `json:"values"`
	} `json:"exception"`
}

type exceptionEntry struct {
	Type       string `json:"type"`
	Value      string `json:"value"`
	Stacktrace struct {
		Frames []frame `json:"frames"`
	} `json:"stacktrace"`
}

type frame struct {
	Filename string `json:"filename"`
	Function string `json:"function"`
	Lineno   int    `json:"lineno"`
}

func (f *Fetcher) fetchIssue(ctx context.Context, creds *Credentials, issueID string) (*issuePayload, error) {
	var issue issuePayload
	url := fmt.Sprintf("%s/issues/%s/", f.baseURL, issueID)
	if err := f.getJSON(ctx, creds, url, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (f *Fetcher) fetchLatestEvent(ctx context.Context, creds *Credentials, issueID string) (*eventPayload, error) {
	var event eventPayload
	url := fmt.Sprintf("%s/issues/%s/events/latest/", f.baseURL, issueID)
	if err := f.getJSON(ctx, creds, url, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func (f *Fetcher) getJSON(ctx context.Context, creds *Credentials, url string, out any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token.Value())
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// topFrame renders the innermost call of the most recent exception entry as
// "filename:line in function". The tracker lists frames outermost first, so
// the last frame of the last entry is the point of failure.
func topFrame(event *eventPayload) string {
	values := event.Exception.Values
	if len(values) == 0 {
		return ""
	}
	frames := values[len(values)-1].Stacktrace.Frames
	if len(frames) == 0 {
		return ""
	}
	top := frames[len(frames)-1]
	return formatFrame(top)
}

// renderStacktrace renders up to the last 5 frames of each exception entry.
func renderStacktrace(event *eventPayload) string {
	var b strings.Builder
	for i, entry := range event.Exception.Values {
		if i > 0 {
			b.WriteString("\n")
		}
		header := entry.Type
		if entry.Value != "" {
			header = fmt.Sprintf("%s: %s", entry.Type, entry.Value)
		}
		b.WriteString(header)
		b.WriteString("\n")

		frames := entry.Stacktrace.Frames
		if len(frames) > maxFramesPerException {
			frames = frames[len(frames)-maxFramesPerException:]
		}
		for _, fr := range frames {
			b.WriteString("  ")
			b.WriteString(formatFrame(fr))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatFrame(fr frame) string {
	filename := fr.Filename
	if filename == "" {
		filename = "unknown"
	}
	function := fr.Function
	if function == "" {
		function = "unknown"
	}
	return fmt.Sprintf("%s:%d in %s", filename, fr.Lineno, function)
}
