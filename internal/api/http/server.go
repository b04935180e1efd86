// Package apihttp exposes the catalog over a small JSON API: fan-out
// search, item ingestion, source health, and the per-user preview list.
package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/connector"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/domain"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/ingest"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/preview"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/quota"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/resilience"
)

const userIDHeader = "X-User-ID"

// SearchService runs a fan-out query across external sources.
type SearchService interface {
	Search(ctx context.Context, req domain.FanoutRequest) (domain.FanoutResult, error)
}

// IngestService resolves one identifier against a source and upserts the
// canonical item.
type IngestService interface {
	Ingest(ctx context.Context, source, rawIdentifier string, forceRefresh bool) (ingest.Outcome, error)
}

// PreviewCache stores search hits per user for later review.
type PreviewCache interface {
	Put(ctx context.Context, userID string, result domain.CanonicalResult) (preview.Entry, error)
	List(ctx context.Context, userID string) ([]preview.Entry, error)
	TTL() time.Duration
}

// QuotaGuard counts a request against the caller's budget and rejects
// once it is spent.
type QuotaGuard interface {
	Check(userID string) error
}

// HealthReporter exposes the circuit state per source.
type HealthReporter interface {
	Snapshot() map[string]resilience.SourceHealth
}

// KnownKeySource lists the (source, sourceID) pairs already ingested so
// search responses can drop them.
type KnownKeySource interface {
	SourceKeys(ctx context.Context) (map[domain.SourceKey]struct{}, error)
}

type Server struct {
	registry *connector.Registry
	search   SearchService
	ingester IngestService
	previews PreviewCache
	quota    QuotaGuard
	health   HealthReporter
	keys     KnownKeySource

	logger         *slog.Logger
	rateLimitRPS   float64
	rateLimitBurst int
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rateLimitRPS = rps
			s.rateLimitBurst = burst
		}
	}
}

func NewServer(
	registry *connector.Registry,
	search SearchService,
	ingester IngestService,
	previews PreviewCache,
	quotas QuotaGuard,
	health HealthReporter,
	keys KnownKeySource,
	opts ...ServerOption,
) *Server {
	s := &Server{
		registry:       registry,
		search:         search,
		ingester:       ingester,
		previews:       previews,
		quota:          quotas,
		health:         health,
		keys:           keys,
		logger:         slog.Default(),
		rateLimitRPS:   50,
		rateLimitBurst: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler assembles the route table and the middleware chain around it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("GET /sources", s.handleSources)
	mux.HandleFunc("GET /sources/health", s.handleSourcesHealth)
	mux.HandleFunc("GET /preview", s.handlePreview)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = loggingMiddleware(s.logger, handler)
	handler = otelhttp.NewHandler(handler, "catalog",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	)
	handler = metricsMiddleware(handler)
	handler = rateLimitMiddleware(s.rateLimitRPS, s.rateLimitBurst, handler)
	handler = recoveryMiddleware(s.logger, handler)
	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_query", "q parameter is required")
		return
	}

	if !s.checkQuota(w, userID) {
		return
	}

	req := domain.FanoutRequest{
		Query:   query,
		Sources: parseCSV(r.URL.Query().Get("sources")),
	}

	for _, raw := range parseCSV(r.URL.Query().Get("types")) {
		mt, valid := domain.ParseMediaType(raw)
		if !valid {
			writeError(w, http.StatusBadRequest, "invalid_type", fmt.Sprintf("unknown media type %q", raw))
			return
		}
		req.AllowedMediaTypes = append(req.AllowedMediaTypes, mt)
	}

	if rawLimit := strings.TrimSpace(r.URL.Query().Get("limit")); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		req.PerSourceLimit = limit
	}

	known, err := s.keys.SourceKeys(r.Context())
	if err != nil {
		s.logger.Warn("known key lookup failed", slog.String("error", err.Error()))
	} else {
		req.KnownKeys = known
	}

	result, err := s.search.Search(r.Context(), req)
	if err != nil {
		var unknown *connector.UnknownSourceError
		switch {
		case errors.As(err, &unknown):
			writeError(w, http.StatusBadRequest, "unknown_source", unknown.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, "search_timeout", "search timed out")
		default:
			s.logger.Error("search failed", slog.String("query", query), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
		}
		return
	}

	for _, hit := range result.Hits {
		if _, err := s.previews.Put(r.Context(), userID, hit); err != nil {
			s.logger.Warn("preview store failed",
				slog.String("source", hit.SourceName),
				slog.String("sourceId", hit.SourceID),
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

type ingestRequest struct {
	Source       string `json:"source"`
	Identifier   string `json:"identifier"`
	ForceRefresh bool   `json:"force_refresh"`
}

type itemResponse struct {
	ID            string          `json:"id"`
	MediaType     string          `json:"mediaType"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	ReleaseDate   string          `json:"releaseDate,omitempty"`
	CoverImageURL string          `json:"coverImageUrl,omitempty"`
	CanonicalURL  string          `json:"canonicalUrl,omitempty"`
	Extension     json.RawMessage `json:"extension,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type ingestResponse struct {
	Status string       `json:"status"`
	Item   itemResponse `json:"item"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return
	}
	req.Source = strings.ToLower(strings.TrimSpace(req.Source))
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Source == "" || req.Identifier == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "source and identifier are required")
		return
	}

	if !s.checkQuota(w, userID) {
		return
	}

	outcome, err := s.ingester.Ingest(r.Context(), req.Source, req.Identifier, req.ForceRefresh)
	if err != nil {
		s.writeIngestError(w, req.Source, err)
		return
	}

	status := http.StatusOK
	if outcome.Status == ingest.OutcomeCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, ingestResponse{Status: outcome.Status, Item: toItemResponse(outcome)})
}

func (s *Server) writeIngestError(w http.ResponseWriter, source string, err error) {
	var (
		circuitErr *resilience.CircuitOpenError
		statusErr  *domain.UpstreamStatusError
	)
	switch {
	case errors.Is(err, connector.ErrUnknownSource):
		writeError(w, http.StatusBadRequest, "unknown_source", fmt.Sprintf("unknown source %q", source))
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no item matches that identifier")
	case errors.As(err, &circuitErr):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(circuitErr.RetryAfter)))
		writeError(w, http.StatusServiceUnavailable, "source_unavailable", circuitErr.Error())
	case errors.As(err, &statusErr):
		writeError(w, http.StatusBadGateway, "upstream_error", statusErr.Error())
	default:
		s.logger.Error("ingest failed", slog.String("source", source), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "ingest failed")
	}
}

type sourceInfo struct {
	Name       string             `json:"name"`
	MediaTypes []domain.MediaType `json:"mediaTypes"`
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	names := s.registry.Names()
	sources := make([]sourceInfo, 0, len(names))
	for _, name := range names {
		c, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		sources = append(sources, sourceInfo{Name: name, MediaTypes: c.MediaTypes()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) handleSourcesHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.health.Snapshot()})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	entries, err := s.previews.List(r.Context(), userID)
	if err != nil {
		s.logger.Error("preview list failed", slog.String("userId", userID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "preview lookup failed")
		return
	}
	if entries == nil {
		entries = []preview.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"ttlSeconds": int(s.previews.TTL().Seconds()),
	})
}

func (s *Server) checkQuota(w http.ResponseWriter, userID string) bool {
	err := s.quota.Check(userID)
	if err == nil {
		return true
	}
	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(exceeded.RetryAfter)))
		writeError(w, http.StatusTooManyRequests, "quota_exceeded", exceeded.Error())
		return false
	}
	s.logger.Error("quota check failed", slog.String("userId", userID), slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal_error", "quota check failed")
	return false
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(userIDHeader))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user", userIDHeader+" header is required")
		return "", false
	}
	return userID, true
}

func toItemResponse(outcome ingest.Outcome) itemResponse {
	resp := itemResponse{
		ID:            outcome.Item.ID,
		MediaType:     outcome.Item.MediaType,
		Title:         outcome.Item.Title,
		Description:   outcome.Item.Description,
		ReleaseDate:   outcome.Item.ReleaseDate,
		CoverImageURL: outcome.Item.CoverImageURL,
		CanonicalURL:  outcome.Item.CanonicalURL,
		CreatedAt:     outcome.Item.CreatedAt,
		UpdatedAt:     outcome.Item.UpdatedAt,
	}
	if outcome.Extension != nil && outcome.Extension.Payload != "" {
		resp.Extension = json.RawMessage(outcome.Extension.Payload)
	}
	return resp
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(d.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Warn("response encode failed", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
