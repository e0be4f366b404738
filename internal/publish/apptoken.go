package publish

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/remedyd/internal/config"
)

// App JWT validity window. The issued-at skew absorbs clock drift between us
// and GitHub.
const (
	appJWTSkew     = 60 * time.Second
	appJWTLifetime = 10 * time.Minute
)

// clientProvider yields a GitHub client authenticated for a repository's app
// installation.
type clientProvider interface {
	installationClient(ctx context.Context, owner, repo string) (*github.Client, error)
}

// appAuth implements clientProvider with the GitHub App flow.
type appAuth struct {
	appID   string
	key     *rsa.PrivateKey
	baseURL string
	timeout time.Duration
	now     func() time.Time
}

func newAppAuth(cfg config.GitHubConfig) (*appAuth, error) {
	if cfg.AppID == "" {
		return nil, fmt.Errorf("github app_id required")
	}

	pemData := []byte(cfg.PrivateKey.Value())
	if len(pemData) == 0 && cfg.PrivateKeyPath != "" {
		data, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read github private key: %w", err)
		}
		pemData = data
	}
	if len(pemData) == 0 {
		return nil, fmt.Errorf("github private key required")
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse github private key: %w", err)
	}

	timeout := 30 * time.Second
	if cfg.Timeout.Duration() > 0 {
		timeout = cfg.Timeout.Duration()
	}

	return &appAuth{
		appID:   cfg.AppID,
		key:     key,
		baseURL: cfg.BaseURL,
		timeout: timeout,
		now:     time.Now,
	}, nil
}

// appJWT signs a short-lived RS256 assertion identifying the app itself.
func (a *appAuth) appJWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-appJWTSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
		Issuer:    a.appID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign app JWT: %w", err)
	}
	return signed, nil
}

// installationClient exchanges the app JWT for an installation token scoped
// to the given repository and returns a client using it.
func (a *appAuth) installationClient(ctx context.Context, owner, repo string) (*github.Client, error) {
	assertion, err := a.appJWT()
	if err != nil {
		return nil, err
	}

	appClient, err := a.githubClient(&http.Client{Timeout: a.timeout})
	if err != nil {
		return nil, err
	}
	appClient = appClient.WithAuthToken(assertion)

	installation, _, err := appClient.Apps.FindRepositoryInstallation(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("no app installation for %s/%s: %w", owner, repo, err)
	}

	token, _, err := appClient.Apps.CreateInstallationToken(ctx, installation.GetID(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create installation token: %w", err)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.GetToken()})
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = a.timeout
	return a.githubClient(tc)
}

func (a *appAuth) githubClient(hc *http.Client) (*github.Client, error) {
	client := github.NewClient(hc)
	if a.baseURL == "" {
		return client, nil
	}
	client, err := client.WithEnterpriseURLs(a.baseURL, a.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid github base URL: %w", err)
	}
	return client, nil
}
