package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/domain"
)

// expirySlack refreshes tokens slightly early so in-flight requests don't
// race the upstream's expiry clock.
const expirySlack = 30 * time.Second

// AuthStyle selects how client credentials travel to the token endpoint.
type AuthStyle int

const (
	// AuthStyleParams sends client_id/client_secret as form fields (Twitch).
	AuthStyleParams AuthStyle = iota
	// AuthStyleBasic sends them as an Authorization: Basic header (Spotify).
	AuthStyleBasic
)

// TokenSource caches a client-credentials bearer token and refreshes it
// once it expires. It is safe for concurrent use.
type TokenSource struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Style        AuthStyle
	Client       *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token returns the cached bearer token, fetching a fresh one when the
// cache is empty or expired.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.clock()()
	if ts.token != "" && now.Before(ts.expiresAt.Add(-expirySlack)) {
		return ts.token, nil
	}
	return ts.refreshLocked(ctx)
}

// Invalidate drops the cached token if it still equals the one that just
// failed, so the next Token call fetches a fresh credential. A token
// already replaced by a concurrent refresh is left alone.
func (ts *TokenSource) Invalidate(failed string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token == failed {
		ts.token = ""
		ts.expiresAt = time.Time{}
	}
}

func (ts *TokenSource) refreshLocked(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}

	var body string
	if ts.Style == AuthStyleParams {
		form.Set("client_id", ts.ClientID)
		form.Set("client_secret", ts.ClientSecret)
	}
	body = form.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.TokenURL, strings.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if ts.Style == AuthStyleBasic {
		req.SetBasicAuth(ts.ClientID, ts.ClientSecret)
	}

	client := ts.Client
	if client == nil {
		client = http.DefaultClient
	}

	var parsed tokenResponse
	if err := DoJSON(client, req, &parsed); err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", errors.New("token exchange: empty access_token")
	}

	ttl := time.Duration(parsed.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	ts.token = parsed.AccessToken
	ts.expiresAt = ts.clock()().Add(ttl)
	return ts.token, nil
}

func (ts *TokenSource) clock() func() time.Time {
	if ts.now != nil {
		return ts.now
	}
	return time.Now
}

// WithBearerRetry runs do with a bearer token. On an auth rejection the
// cached token is invalidated and the call retried exactly once with a
// fresh token — deliberately outside the general retry helper, so token
// refresh latency never compounds with transport backoff.
func WithBearerRetry(ctx context.Context, ts *TokenSource, do func(token string) error) error {
	token, err := ts.Token(ctx)
	if err != nil {
		return err
	}
	err = do(token)
	if err == nil || !errors.Is(err, domain.ErrUpstreamAuth) {
		return err
	}

	ts.Invalidate(token)
	token, refreshErr := ts.Token(ctx)
	if refreshErr != nil {
		return refreshErr
	}
	return do(token)
}
