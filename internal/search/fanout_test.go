package search

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/connector"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/domain"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/resilience"
)

type fakeSource struct {
	name        string
	mediaTypes  []domain.MediaType
	searchIDs   []string
	searchErr   error
	fetchErr    error
	searchCalls int
	fetchCalls  int
	results     map[string]domain.CanonicalResult
}

func (f *fakeSource) Name() string                   { return f.name }
func (f *fakeSource) MediaTypes() []domain.MediaType { return f.mediaTypes }
func (f *fakeSource) ParseIdentifier(raw string) (string, error) {
	return raw, nil
}
func (f *fakeSource) Search(ctx context.Context, query string, limit int) ([]string, error) {
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.searchIDs) > limit {
		return f.searchIDs[:limit], nil
	}
	return f.searchIDs, nil
}
func (f *fakeSource) Fetch(ctx context.Context, id string) (domain.CanonicalResult, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return domain.CanonicalResult{}, f.fetchErr
	}
	result, ok := f.results[id]
	if !ok {
		return domain.CanonicalResult{}, fmt.Errorf("fetch %s: %w", id, domain.ErrNotFound)
	}
	return result, nil
}

func bookHit(source, id, title string) domain.CanonicalResult {
	return domain.CanonicalResult{
		MediaType:  domain.MediaTypeBook,
		Title:      title,
		SourceName: source,
		SourceID:   id,
	}
}

func movieHit(source, id, title string) domain.CanonicalResult {
	hit := bookHit(source, id, title)
	hit.MediaType = domain.MediaTypeMovie
	return hit
}

func newOrchestrator(t *testing.T, sources ...connector.Connector) *Orchestrator {
	t.Helper()
	monitor := resilience.NewMonitor(resilience.Config{})
	retry := resilience.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	return NewOrchestrator(connector.NewRegistry(sources...), monitor, retry, time.Second, slog.Default())
}

func TestSearchMergesSourcesInOrder(t *testing.T) {
	books := &fakeSource{
		name:       "openlibrary",
		mediaTypes: []domain.MediaType{domain.MediaTypeBook},
		searchIDs:  []string{"OL1W", "OL2W"},
		results: map[string]domain.CanonicalResult{
			"OL1W": bookHit("openlibrary", "OL1W", "Dune"),
			"OL2W": bookHit("openlibrary", "OL2W", "Dune Messiah"),
		},
	}
	movies := &fakeSource{
		name:       "tmdb",
		mediaTypes: []domain.MediaType{domain.MediaTypeMovie},
		searchIDs:  []string{"movie:438631"},
		results: map[string]domain.CanonicalResult{
			"movie:438631": movieHit("tmdb", "movie:438631", "Dune"),
		},
	}

	o := newOrchestrator(t, movies, books)
	result, err := o.Search(context.Background(), domain.FanoutRequest{Query: "dune"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.TotalHits != 3 {
		t.Fatalf("total hits = %d, want 3", result.TotalHits)
	}
	// Registry order is alphabetical, so openlibrary's hits come first.
	if result.Hits[0].SourceName != "openlibrary" || result.Hits[2].SourceName != "tmdb" {
		t.Fatalf("hit order = %v, %v, %v",
			result.Hits[0].SourceName, result.Hits[1].SourceName, result.Hits[2].SourceName)
	}
	if len(result.Sources) != 2 {
		t.Fatalf("statuses = %+v", result.Sources)
	}
	for _, status := range result.Sources {
		if !status.OK {
			t.Errorf("source %s not ok: %s", status.Name, status.Error)
		}
	}
	if result.Sources[0].Hits != 2 || result.Sources[1].Hits != 1 {
		t.Errorf("per-source hits = %d, %d", result.Sources[0].Hits, result.Sources[1].Hits)
	}
}

func TestSearchIsolatesFailingSource(t *testing.T) {
	broken := &fakeSource{
		name:       "tmdb",
		mediaTypes: []domain.MediaType{domain.MediaTypeMovie},
		searchErr:  &domain.UpstreamStatusError{Status: 500},
	}
	healthy := &fakeSource{
		name:       "openlibrary",
		mediaTypes: []domain.MediaType{domain.MediaTypeBook},
		searchIDs:  []string{"OL1W"},
		results:    map[string]domain.CanonicalResult{"OL1W": bookHit("openlibrary", "OL1W", "Dune")},
	}

	o := newOrchestrator(t, broken, healthy)
	result, err := o.Search(context.Background(), domain.FanoutRequest{Query: "dune"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.TotalHits != 1 {
		t.Fatalf("total hits = %d", result.TotalHits)
	}

	var brokenStatus, healthyStatus *domain.SourceStatus
	for i := range result.Sources {
		switch result.Sources[i].Name {
		case "tmdb":
			brokenStatus = &result.Sources[i]
		case "openlibrary":
			healthyStatus = &result.Sources[i]
		}
	}
	if brokenStatus == nil || brokenStatus.OK || brokenStatus.Error == "" {
		t.Errorf("broken status = %+v", brokenStatus)
	}
	if healthyStatus == nil || !healthyStatus.OK {
		t.Errorf("healthy status = %+v", healthyStatus)
	}
}

func TestSearchSkipsSourceWithOpenCircuit(t *testing.T) {
	src := &fakeSource{
		name:       "tmdb",
		mediaTypes: []domain.MediaType{domain.MediaTypeMovie},
		searchIDs:  []string{"movie:1"},
		results:    map[string]domain.CanonicalResult{"movie:1": movieHit("tmdb", "movie:1", "Dune")},
	}

	monitor := resilience.NewMonitor(resilience.Config{FailureThreshold: 1})
	retry := resilience.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	o := NewOrchestrator(connector.NewRegistry(src), monitor, retry, time.Second, slog.Default())

	// Trip the breaker before the fan-out runs.
	_ = monitor.Execute(context.Background(), "tmdb", "fetch", func(context.Context) error {
		return &domain.UpstreamStatusError{Status: 503}
	})

	result, err := o.Search(context.Background(), domain.FanoutRequest{Query: "dune"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.TotalHits != 0 {
		t.Fatalf("total hits = %d", result.TotalHits)
	}
	if len(result.Sources) != 1 || !result.Sources[0].Skipped {
		t.Fatalf("status = %+v", result.Sources)
	}
	if src.searchCalls != 0 {
		t.Fatalf("search was invoked %d times on an open circuit", src.searchCalls)
	}
}

func TestSearchDropsKnownKeys(t *testing.T) {
	src := &fakeSource{
		name:       "openlibrary",
		mediaTypes: []domain.MediaType{domain.MediaTypeBook},
		searchIDs:  []string{"OL1W", "OL2W"},
		results: map[string]domain.CanonicalResult{
			"OL1W": bookHit("openlibrary", "OL1W", "Dune"),
			"OL2W": bookHit("openlibrary", "OL2W", "Dune Messiah"),
		},
	}

	o := newOrchestrator(t, src)
	result, err := o.Search(context.Background(), domain.FanoutRequest{
		Query: "dune",
		KnownKeys: map[domain.SourceKey]struct{}{
			{SourceName: "openlibrary", SourceID: "OL1W"}: {},
		},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.TotalHits != 1 || result.Hits[0].SourceID != "OL2W" {
		t.Fatalf("hits = %+v", result.Hits)
	}
}

func TestSearchDedupesRepeatedIdentifiers(t *testing.T) {
	src := &fakeSource{
		name:       "openlibrary",
		mediaTypes: []domain.MediaType{domain.MediaTypeBook},
		searchIDs:  []string{"OL1W", "OL1W", "OL2W"},
		results: map[string]domain.CanonicalResult{
			"OL1W": bookHit("openlibrary", "OL1W", "Dune"),
			"OL2W": bookHit("openlibrary", "OL2W", "Dune Messiah"),
		},
	}

	o := newOrchestrator(t, src)
	result, err := o.Search(context.Background(), domain.FanoutRequest{Query: "dune"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.TotalHits != 2 {
		t.Fatalf("total hits = %d, want the repeated identifier collapsed to one", result.TotalHits)
	}
	if result.Hits[0].SourceID != "OL1W" || result.Hits[1].SourceID != "OL2W" {
		t.Fatalf("hits = %+v", result.Hits)
	}
	if result.Sources[0].Hits != 2 {
		t.Fatalf("status hits = %d, want 2 after dedupe", result.Sources[0].Hits)
	}
}

func TestSearchFiltersByMediaType(t *testing.T) {
	books := &fakeSource{
		name:       "openlibrary",
		mediaTypes: []domain.MediaType{domain.MediaTypeBook},
		searchIDs:  []string{"OL1W"},
		results:    map[string]domain.CanonicalResult{"OL1W": bookHit("openlibrary", "OL1W", "Dune")},
	}
	movies := &fakeSource{
		name:       "tmdb",
		mediaTypes: []domain.MediaType{domain.MediaTypeMovie, domain.MediaTypeTV},
		searchIDs:  []string{"movie:1"},
		results:    map[string]domain.CanonicalResult{"movie:1": movieHit("tmdb", "movie:1", "Dune")},
	}

	o := newOrchestrator(t, books, movies)
	result, err := o.Search(context.Background(), domain.FanoutRequest{
		Query:             "dune",
		AllowedMediaTypes: []domain.MediaType{domain.MediaTypeBook},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.TotalHits != 1 || result.Hits[0].MediaType != domain.MediaTypeBook {
		t.Fatalf("hits = %+v", result.Hits)
	}
	// The movie-only source is skipped without being queried.
	if movies.searchCalls != 0 {
		t.Fatalf("movie source queried %d times", movies.searchCalls)
	}
	for _, status := range result.Sources {
		if status.Name == "tmdb" && !status.Skipped {
			t.Fatalf("tmdb status = %+v", status)
		}
	}
}

func TestSearchClampsPerSourceLimit(t *testing.T) {
	results := make(map[string]domain.CanonicalResult)
	var ids []string
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("OL%dW", i)
		ids = append(ids, id)
		results[id] = bookHit("openlibrary", id, fmt.Sprintf("Book %d", i))
	}
	src := &fakeSource{
		name:       "openlibrary",
		mediaTypes: []domain.MediaType{domain.MediaTypeBook},
		searchIDs:  ids,
		results:    results,
	}

	o := newOrchestrator(t, src)
	result, err := o.Search(context.Background(), domain.FanoutRequest{Query: "book", PerSourceLimit: 99})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.TotalHits != maxPerSourceLimit {
		t.Fatalf("total hits = %d, want %d", result.TotalHits, maxPerSourceLimit)
	}
}

func TestSearchSkipsVanishedHits(t *testing.T) {
	src := &fakeSource{
		name:       "openlibrary",
		mediaTypes: []domain.MediaType{domain.MediaTypeBook},
		searchIDs:  []string{"OL1W", "OL404W", "OL2W"},
		results: map[string]domain.CanonicalResult{
			"OL1W": bookHit("openlibrary", "OL1W", "Dune"),
			"OL2W": bookHit("openlibrary", "OL2W", "Dune Messiah"),
		},
	}

	o := newOrchestrator(t, src)
	result, err := o.Search(context.Background(), domain.FanoutRequest{Query: "dune"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.TotalHits != 2 {
		t.Fatalf("total hits = %d, want 2", result.TotalHits)
	}
	if !result.Sources[0].OK {
		t.Fatalf("status = %+v", result.Sources[0])
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	o := newOrchestrator(t, &fakeSource{name: "tmdb", mediaTypes: []domain.MediaType{domain.MediaTypeMovie}})
	if _, err := o.Search(context.Background(), domain.FanoutRequest{Query: "   "}); err != ErrEmptyQuery {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestFoldTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Amélie", "amelie"},
		{"  DUNE   Messiah ", "dune messiah"},
		{"Les Misérables", "les miserables"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := FoldTitle(tc.in); got != tc.want {
			t.Errorf("FoldTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
