// Package search fans a query out to every selected source, fetches the
// matching works, and merges them into one deduplicated response. One bad
// source never fails the request; it is reported in its per-source status.
package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/connector"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/domain"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/resilience"
)

// maxConcurrentSources bounds parallel provider queries so a request naming
// every source cannot pile up outbound connections.
const maxConcurrentSources = 8

const (
	defaultPerSourceLimit = 3
	maxPerSourceLimit     = 5
)

var ErrEmptyQuery = errors.New("search query is empty")

type Orchestrator struct {
	registry *connector.Registry
	monitor  *resilience.Monitor
	retry    resilience.RetryConfig
	timeout  time.Duration
	logger   *slog.Logger
}

func NewOrchestrator(registry *connector.Registry, monitor *resilience.Monitor, retry resilience.RetryConfig, timeout time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{registry: registry, monitor: monitor, retry: retry, timeout: timeout, logger: logger}
}

type sourceOutcome struct {
	status domain.SourceStatus
	hits   []domain.CanonicalResult
}

// Search runs the fan-out. Results come back grouped in source enumeration
// order, capped per source, with hits the caller already knows removed.
func (o *Orchestrator) Search(ctx context.Context, req domain.FanoutRequest) (domain.FanoutResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return domain.FanoutResult{}, ErrEmptyQuery
	}

	selected, err := o.registry.Resolve(req.Sources)
	if err != nil {
		return domain.FanoutResult{}, err
	}

	limit := req.PerSourceLimit
	if limit <= 0 {
		limit = defaultPerSourceLimit
	}
	if limit > maxPerSourceLimit {
		limit = maxPerSourceLimit
	}

	allowed := make(map[domain.MediaType]struct{}, len(req.AllowedMediaTypes))
	for _, mt := range req.AllowedMediaTypes {
		allowed[mt] = struct{}{}
	}

	runCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && o.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	startedAt := time.Now()
	outcomes := make([]sourceOutcome, len(selected))

	sem := semaphore.NewWeighted(maxConcurrentSources)
	var wg sync.WaitGroup
	for i, conn := range selected {
		wg.Add(1)
		go func(index int, current connector.Connector) {
			defer wg.Done()

			name := current.Name()
			if len(allowed) > 0 && !servesAny(current, allowed) {
				outcomes[index] = sourceOutcome{status: domain.SourceStatus{Name: name, Skipped: true}}
				return
			}

			if err := sem.Acquire(runCtx, 1); err != nil {
				outcomes[index] = sourceOutcome{status: domain.SourceStatus{
					Name: name, Skipped: true, Error: "context cancelled",
				}}
				return
			}
			defer sem.Release(1)

			outcomes[index] = o.querySource(runCtx, current, query, limit, allowed)
		}(i, conn)
	}
	wg.Wait()

	result := domain.FanoutResult{Query: query}
	seen := make(map[domain.SourceKey]struct{})
	titles := make(map[string][]string)
	for _, outcome := range outcomes {
		status := outcome.status
		status.Hits = 0
		for _, hit := range outcome.hits {
			key := hit.Key()
			if _, known := req.KnownKeys[key]; known {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			status.Hits++
			result.Hits = append(result.Hits, hit)
			if folded := FoldTitle(hit.Title); folded != "" {
				titles[folded] = append(titles[folded], hit.SourceName)
			}
		}
		result.Sources = append(result.Sources, status)
	}
	result.TotalHits = len(result.Hits)
	result.ElapsedMS = time.Since(startedAt).Milliseconds()

	for folded, sources := range titles {
		if len(sources) > 1 {
			o.logger.Debug("same title from multiple sources",
				"title", folded, "sources", sources)
		}
	}

	o.logger.Info("fan-out search completed",
		"query", query,
		"sources", len(selected),
		"hits", result.TotalHits,
		"elapsed_ms", result.ElapsedMS)
	return result, nil
}

// querySource runs search then fetch for one source under its circuit
// breaker. A breaker that is already open skips the source outright; a
// fetch failure keeps whatever hits were resolved before it.
func (o *Orchestrator) querySource(ctx context.Context, current connector.Connector, query string, limit int, allowed map[domain.MediaType]struct{}) sourceOutcome {
	name := current.Name()
	status := domain.SourceStatus{Name: name}

	if !o.monitor.AllowCall(name) {
		o.monitor.RecordSkip(name, "search")
		status.Skipped = true
		status.Error = "source cooling down, retry in " + o.monitor.Cooldown(name).Round(time.Second).String()
		return sourceOutcome{status: status}
	}

	searchStartedAt := time.Now()
	var ids []string
	searchErr := o.monitor.Execute(ctx, name, "search", func(ctx context.Context) error {
		return resilience.RetryWithBackoff(ctx, o.retry, func() error {
			var err error
			ids, err = current.Search(ctx, query, limit)
			return err
		})
	})
	status.SearchMS = time.Since(searchStartedAt).Milliseconds()
	if searchErr != nil {
		if resilience.IsCircuitOpen(searchErr) {
			status.Skipped = true
		}
		status.Error = searchErr.Error()
		o.logger.Warn("source search failed",
			"source", name, "query", query, "error", searchErr)
		return sourceOutcome{status: status}
	}

	var hits []domain.CanonicalResult
	fetchStartedAt := time.Now()
	for _, id := range ids {
		if len(hits) >= limit {
			break
		}
		var result domain.CanonicalResult
		fetchErr := o.monitor.Execute(ctx, name, "fetch", func(ctx context.Context) error {
			return resilience.RetryWithBackoff(ctx, o.retry, func() error {
				var err error
				result, err = current.Fetch(ctx, id)
				return err
			})
		})
		if fetchErr != nil {
			// A search hit that no longer resolves is dropped quietly.
			if errors.Is(fetchErr, domain.ErrNotFound) {
				o.logger.Debug("search hit vanished on fetch",
					"source", name, "id", id)
				continue
			}
			status.Error = fetchErr.Error()
			o.logger.Warn("source fetch failed",
				"source", name, "id", id, "error", fetchErr)
			break
		}
		if len(allowed) > 0 {
			if _, ok := allowed[result.MediaType]; !ok {
				continue
			}
		}
		hits = append(hits, result)
	}
	status.FetchMS = time.Since(fetchStartedAt).Milliseconds()
	status.OK = status.Error == ""
	return sourceOutcome{status: status, hits: hits}
}

func servesAny(current connector.Connector, allowed map[domain.MediaType]struct{}) bool {
	for _, mt := range current.MediaTypes() {
		if _, ok := allowed[mt]; ok {
			return true
		}
	}
	return false
}
