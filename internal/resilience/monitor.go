package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/domain"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/metrics"
)

const (
	defaultFailureThreshold = 3
	defaultBaseBackoff      = 15 * time.Second
	defaultMaxBackoff       = 300 * time.Second
)

// CircuitOpenError rejects a call while a source's circuit is open. The
// fan-out layer converts it into a per-source skip; it never fails a whole
// search.
type CircuitOpenError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry in %s", e.Source, e.RetryAfter.Round(time.Second))
}

func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}

type Config struct {
	FailureThreshold int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}

// breakerState is the per-source circuit. Two states only: closed and open.
// There is no half-open probe phase; once openUntil passes, the next call
// runs as if closed and its outcome decides staying closed or re-tripping.
type breakerState struct {
	failureStreak  int
	openUntil      time.Time
	currentBackoff time.Duration
	openedCount    int64
}

type opMetrics struct {
	started       int64
	succeeded     int64
	failed        int64
	skipped       int64
	lastLatencyMS int64
	lastError     string
}

// OperationHealth is the observable snapshot of one (source, operation).
type OperationHealth struct {
	Started       int64  `json:"started"`
	Succeeded     int64  `json:"succeeded"`
	Failed        int64  `json:"failed"`
	Skipped       int64  `json:"skipped"`
	LastLatencyMS int64  `json:"lastLatencyMs,omitempty"`
	LastError     string `json:"lastError,omitempty"`
}

type CircuitHealth struct {
	Open           bool       `json:"open"`
	FailureStreak  int        `json:"failureStreak"`
	OpenUntil      *time.Time `json:"openUntil,omitempty"`
	CurrentBackoff string     `json:"currentBackoff"`
	OpenedCount    int64      `json:"openedCount"`
}

type SourceHealth struct {
	Circuit    CircuitHealth              `json:"circuit"`
	Operations map[string]OperationHealth `json:"operations"`
}

// Monitor wraps every connector call: it gates on the per-source circuit,
// records outcomes, and keeps cumulative per-(source, operation) counters.
// Counters are observational only; the circuit alone gates calls.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	breakers map[string]*breakerState
	ops      map[string]map[string]*opMetrics
}

type MonitorOption func(*Monitor)

func WithLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the monitor's time source.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMonitor(cfg Config, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
		now:      time.Now,
		breakers: make(map[string]*breakerState),
		ops:      make(map[string]map[string]*opMetrics),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AllowCall reports whether a call to the source would pass the circuit
// right now. It lets the fan-out skip a known-down source without
// constructing a call at all.
func (m *Monitor) AllowCall(source string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.breakers[normalizeSource(source)]
	if state == nil {
		return true
	}
	return !m.now().Before(state.openUntil)
}

// Cooldown returns the remaining open time for a source, zero if closed.
func (m *Monitor) Cooldown(source string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.breakers[normalizeSource(source)]
	if state == nil {
		return 0
	}
	remaining := state.openUntil.Sub(m.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordSkip counts an operation that was never attempted because the
// caller observed an open circuit up front.
func (m *Monitor) RecordSkip(source, operation string) {
	source = normalizeSource(source)
	m.mu.Lock()
	m.opState(source, operation).skipped++
	m.mu.Unlock()
	metrics.SourceRequestsTotal.WithLabelValues(source, operation, "skipped").Inc()
	m.logger.Info("source call skipped",
		slog.String("source", source),
		slog.String("operation", operation),
	)
}

// Execute runs fn through the source's circuit. An open circuit rejects the
// call with *CircuitOpenError without invoking fn. A not-found error from fn
// propagates without counting as a circuit failure: the upstream answered,
// it did not break.
func (m *Monitor) Execute(ctx context.Context, source, operation string, fn func(context.Context) error) error {
	source = normalizeSource(source)

	m.mu.Lock()
	state := m.breaker(source)
	now := m.now()
	if now.Before(state.openUntil) {
		remaining := state.openUntil.Sub(now)
		m.opState(source, operation).skipped++
		m.mu.Unlock()
		metrics.SourceRequestsTotal.WithLabelValues(source, operation, "skipped").Inc()
		m.logger.Warn("circuit open, call rejected",
			slog.String("source", source),
			slog.String("operation", operation),
			slog.Duration("retryAfter", remaining),
		)
		return &CircuitOpenError{Source: source, RetryAfter: remaining}
	}
	m.opState(source, operation).started++
	m.mu.Unlock()

	startedAt := m.now()
	err := fn(ctx)
	latency := m.now().Sub(startedAt)
	metrics.SourceRequestDuration.WithLabelValues(source, operation).Observe(latency.Seconds())

	m.recordOutcome(source, operation, err, latency)
	return err
}

func (m *Monitor) recordOutcome(source, operation string, err error, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op := m.opState(source, operation)
	op.lastLatencyMS = latency.Milliseconds()

	if err == nil {
		op.succeeded++
		op.lastError = ""
		state := m.breaker(source)
		state.failureStreak = 0
		state.currentBackoff = m.cfg.BaseBackoff
		metrics.SourceRequestsTotal.WithLabelValues(source, operation, "ok").Inc()
		metrics.SourceAvailable.WithLabelValues(source).Set(1)
		return
	}

	op.failed++
	op.lastError = err.Error()

	if errors.Is(err, domain.ErrNotFound) {
		// Correct negative result; the breaker arithmetic stays untouched.
		metrics.SourceRequestsTotal.WithLabelValues(source, operation, "not_found").Inc()
		return
	}

	metrics.SourceRequestsTotal.WithLabelValues(source, operation, "error").Inc()
	m.logger.Warn("source call failed",
		slog.String("source", source),
		slog.String("operation", operation),
		slog.Int64("latencyMs", latency.Milliseconds()),
		slog.String("error", err.Error()),
	)

	state := m.breaker(source)
	state.failureStreak++
	if state.failureStreak < m.cfg.FailureThreshold {
		return
	}

	state.openUntil = m.now().Add(state.currentBackoff)
	state.failureStreak = 0
	state.openedCount++
	opened := state.currentBackoff
	state.currentBackoff *= 2
	if state.currentBackoff > m.cfg.MaxBackoff {
		state.currentBackoff = m.cfg.MaxBackoff
	}
	metrics.CircuitOpenedTotal.WithLabelValues(source).Inc()
	metrics.SourceAvailable.WithLabelValues(source).Set(0)
	m.logger.Warn("circuit opened",
		slog.String("source", source),
		slog.Duration("cooldown", opened),
		slog.Int64("openedCount", state.openedCount),
	)
}

// Snapshot returns the health view for every source the monitor has seen.
func (m *Monitor) Snapshot() map[string]SourceHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make(map[string]SourceHealth, len(m.breakers))

	names := make(map[string]struct{}, len(m.breakers))
	for name := range m.breakers {
		names[name] = struct{}{}
	}
	for name := range m.ops {
		names[name] = struct{}{}
	}

	for name := range names {
		health := SourceHealth{Operations: make(map[string]OperationHealth)}
		if state := m.breakers[name]; state != nil {
			health.Circuit = CircuitHealth{
				Open:           now.Before(state.openUntil),
				FailureStreak:  state.failureStreak,
				CurrentBackoff: state.currentBackoff.String(),
				OpenedCount:    state.openedCount,
			}
			if now.Before(state.openUntil) {
				until := state.openUntil
				health.Circuit.OpenUntil = &until
			}
		}
		for opName, op := range m.ops[name] {
			health.Operations[opName] = OperationHealth{
				Started:       op.started,
				Succeeded:     op.succeeded,
				Failed:        op.failed,
				Skipped:       op.skipped,
				LastLatencyMS: op.lastLatencyMS,
				LastError:     op.lastError,
			}
		}
		out[name] = health
	}
	return out
}

// breaker returns the per-source circuit, creating it lazily on first use.
// Callers must hold m.mu.
func (m *Monitor) breaker(source string) *breakerState {
	state := m.breakers[source]
	if state == nil {
		state = &breakerState{currentBackoff: m.cfg.BaseBackoff}
		m.breakers[source] = state
	}
	return state
}

// opState returns counters for (source, operation). Callers must hold m.mu.
func (m *Monitor) opState(source, operation string) *opMetrics {
	byOp := m.ops[source]
	if byOp == nil {
		byOp = make(map[string]*opMetrics)
		m.ops[source] = byOp
	}
	op := byOp[operation]
	if op == nil {
		op = &opMetrics{}
		byOp[operation] = op
	}
	return op
}

func normalizeSource(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}
