package domain

// FanoutRequest describes one multi-source search.
type FanoutRequest struct {
	Query             string
	Sources           []string
	PerSourceLimit    int
	AllowedMediaTypes []MediaType
	// KnownKeys lets the caller exclude entities it already holds canonically,
	// so they are neither re-fetched nor re-displayed.
	KnownKeys map[SourceKey]struct{}
}

// SourceStatus reports how one source fared during a fan-out. A failed or
// skipped source never fails the whole search; callers inspect these instead.
type SourceStatus struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
	Hits     int    `json:"hits"`
	SearchMS int64  `json:"searchMs"`
	FetchMS  int64  `json:"fetchMs"`
}

// FanoutResult aggregates hits and per-source outcomes. Hits are ordered by
// source enumeration order, then within-source fetch order; ranking is a
// caller concern.
type FanoutResult struct {
	Query     string            `json:"query"`
	Hits      []CanonicalResult `json:"hits"`
	Sources   []SourceStatus    `json:"sources"`
	TotalHits int               `json:"totalHits"`
	ElapsedMS int64             `json:"elapsedMs"`
}
