// Package common holds the outbound HTTP plumbing shared by all connectors:
// JSON request execution with status classification, and cached
// client-credentials bearer tokens.
package common

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/domain"
)

const (
	DefaultUserAgent = "tastebuds-catalog/1.0"

	maxErrorBody    = 2 * 1024
	maxResponseBody = 4 * 1024 * 1024
)

// DoJSON executes req and decodes a 2xx JSON body into out. Non-2xx
// responses become *domain.UpstreamStatusError so callers and the retry
// helper can tell auth rejections, negative answers and server faults apart.
func DoJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.UpstreamStatusError{
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GetJSON is the common GET path: builds the request, sets the standard
// headers, and delegates to DoJSON.
func GetJSON(ctx context.Context, client *http.Client, url, userAgent string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	return DoJSON(client, req, out)
}

// ReadRaw executes req and returns the verbatim body for 2xx responses.
// Connectors keep this payload for the audit trail on source records.
func ReadRaw(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &domain.UpstreamStatusError{
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
}
