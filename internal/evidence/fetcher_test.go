package evidence

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/entity"
)

type staticCreds struct {
	creds *Credentials
	err   error
}

func (s *staticCreds) IssueTrackerCredentials(ctx context.Context, tenantID string) (*Credentials, error) {
	return s.creds, s.err
}

func alertContext(alert *entity.Alert) *entity.Context {
	return &entity.Context{Type: entity.TypeAlert, ID: alert.Fingerprint, Alert: alert}
}

func TestFetchWithoutCredentials(t *testing.T) {
	f := NewFetcher(&staticCreds{}, "", nil)

	bundle, err := f.Fetch(context.Background(), "acme", alertContext(&entity.Alert{Fingerprint: "123"}))
	require.NoError(t, err)
	assert.Nil(t, bundle)
}

func TestFetchSkipsIncidents(t *testing.T) {
	f := NewFetcher(&staticCreds{creds: &Credentials{Token: config.Secret("tok")}}, "", nil)

	bundle, err := f.Fetch(context.Background(), "acme", &entity.Context{
		Type:     entity.TypeIncident,
		Incident: &entity.Incident{ID: "inc-1"},
	})
	require.NoError(t, err)
	assert.Nil(t, bundle)
}

func TestExtractIssueID(t *testing.T) {
	f := NewFetcher(&staticCreds{}, "", nil)

	tests := []struct {
		name  string
		alert *entity.Alert
		want  string
	}{
		{
			name:  "payload field",
			alert: &entity.Alert{Fingerprint: "abc", Payload: map[string]any{"sentry_issue_id": "9001"}},
			want:  "9001",
		},
		{
			name:  "camel case payload field",
			alert: &entity.Alert{Fingerprint: "abc", Payload: map[string]any{"sentryIssueId": 9002}},
			want:  "9002",
		},
		{
			name:  "numeric fingerprint",
			alert: &entity.Alert{Fingerprint: "123456"},
			want:  "123456",
		},
		{
			name:  "issue url in description",
			alert: &entity.Alert{Fingerprint: "abc", Description: "see https://sentry.io/organizations/acme/issues/777/ for details"},
			want:  "777",
		},
		{
			name:  "issue url in message",
			alert: &entity.Alert{Fingerprint: "abc", Message: "tracked at /issues/888/"},
			want:  "888",
		},
		{
			name:  "nothing found",
			alert: &entity.Alert{Fingerprint: "abc-def"},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.extractIssueID(tt.alert))
		})
	}
}

func TestFetchFullEvidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tracker-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/issues/9001/":
			fmt.Fprint(w, `{
				"permalink": "https://sentry.io/organizations/acme/issues/9001/",
				"culprit": "payments.charge",
				"metadata": {"type": "NullPointerException", "value": "user was nil"}
			}`)
		case "/issues/9001/events/latest/":
			fmt.Fprint(w, `{
				"exception": {"values": [{
					"type": "NullPointerException",
					"value": "user was nil",
					"stacktrace": {"frames": [
						{"filename": "main.go", "function": "main", "lineno": 10},
						{"filename": "charge.go", "function": "Charge", "lineno": 42}
					]}
				}]}
			}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(&staticCreds{creds: &Credentials{Token: config.Secret("tracker-token")}}, srv.URL, nil)

	bundle, err := f.Fetch(context.Background(), "acme", alertContext(&entity.Alert{
		Fingerprint: "abc",
		Payload:     map[string]any{"sentry_issue_id": "9001"},
	}))
	require.NoError(t, err)
	require.NotNil(t, bundle)

	assert.Equal(t, "9001", bundle.IssueID)
	assert.Equal(t, "https://sentry.io/organizations/acme/issues/9001/", bundle.IssueURL)
	assert.Equal(t, "NullPointerException", bundle.ExceptionType)
	assert.Equal(t, "user was nil", bundle.Message)
	assert.Equal(t, "payments.charge", bundle.Culprit)
	assert.Equal(t, "charge.go:42 in Charge", bundle.StacktraceTopFrame)
	assert.Contains(t, bundle.FullStacktrace, "NullPointerException: user was nil")
	assert.Contains(t, bundle.FullStacktrace, "  main.go:10 in main")
}

func TestFetchPartialEvidenceOnEventFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/issues/9001/":
			fmt.Fprint(w, `{"metadata": {"type": "TimeoutError"}}`)
		default:
			http.Error(w, "upstream broken", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	f := NewFetcher(&staticCreds{creds: &Credentials{Token: config.Secret("tok")}}, srv.URL, nil)

	bundle, err := f.Fetch(context.Background(), "acme", alertContext(&entity.Alert{Fingerprint: "9001"}))
	require.NoError(t, err)
	require.NotNil(t, bundle)

	assert.Equal(t, "TimeoutError", bundle.ExceptionType)
	assert.Empty(t, bundle.StacktraceTopFrame)
	assert.Empty(t, bundle.FullStacktrace)
	// Permalink missing from the issue document falls back to the public URL.
	assert.Equal(t, "https://sentry.io/issues/9001/", bundle.IssueURL)
}

func TestFetchIssueErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFetcher(&staticCreds{creds: &Credentials{Token: config.Secret("tok")}}, srv.URL, nil)

	bundle, err := f.Fetch(context.Background(), "acme", alertContext(&entity.Alert{Fingerprint: "9001"}))
	require.Error(t, err)
	assert.Nil(t, bundle)
}

func TestRenderStacktraceCapsFrames(t *testing.T) {
	event := &eventPayload{}
	entry := exceptionEntry{Type: "RuntimeError"}
	for i := 1; i <= 8; i++ {
		entry.Stacktrace.Frames = append(entry.Stacktrace.Frames, frame{
			Filename: "f.go", Function: "fn", Lineno: i,
		})
	}
	event.Exception.Values = []exceptionEntry{entry}

	rendered := renderStacktrace(event)
	assert.NotContains(t, rendered, "f.go:3 in fn")
	assert.Contains(t, rendered, "f.go:4 in fn")
	assert.Contains(t, rendered, "f.go:8 in fn")
}
