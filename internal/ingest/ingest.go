// Package ingest turns a provider identifier into a canonical library item.
// The upsert is keyed on (source_name, source_id): re-ingesting a known
// record is idempotent unless a refresh is forced, in which case freshly
// fetched non-empty fields overwrite the stored ones.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/connector"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/domain"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/metrics"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/resilience"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/store"
)

const (
	OutcomeCreated   = "created"
	OutcomeExists    = "exists"
	OutcomeRefreshed = "refreshed"
)

type Outcome struct {
	Status    string
	Item      store.MediaItem
	Extension *store.MediaExtension
}

// catalogStore is the slice of the datastore the engine writes through.
type catalogStore interface {
	FindSourceRecord(ctx context.Context, sourceName, sourceID string) (*store.SourceRecord, error)
	GetItem(ctx context.Context, id string) (*store.MediaItem, *store.MediaExtension, error)
	CreateItemWithSource(ctx context.Context, item store.MediaItem, ext *store.MediaExtension, rec store.SourceRecord) error
	UpdateItemWithSource(ctx context.Context, item store.MediaItem, ext *store.MediaExtension, rec store.SourceRecord) error
}

type Engine struct {
	store    catalogStore
	registry *connector.Registry
	monitor  *resilience.Monitor
	retry    resilience.RetryConfig
	logger   *slog.Logger
}

func NewEngine(st *store.Store, registry *connector.Registry, monitor *resilience.Monitor, retry resilience.RetryConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, registry: registry, monitor: monitor, retry: retry, logger: logger}
}

// Ingest resolves the raw identifier against the named source, fetches the
// work under the source's circuit breaker and the retry policy, and upserts
// the result.
func (e *Engine) Ingest(ctx context.Context, source, rawID string, forceRefresh bool) (Outcome, error) {
	conn, ok := e.registry.Get(source)
	if !ok {
		return Outcome{}, &connector.UnknownSourceError{Name: source}
	}

	identifier, err := conn.ParseIdentifier(rawID)
	if err != nil {
		return Outcome{}, err
	}

	var result domain.CanonicalResult
	err = e.monitor.Execute(ctx, conn.Name(), "fetch", func(ctx context.Context) error {
		return resilience.RetryWithBackoff(ctx, e.retry, func() error {
			var fetchErr error
			result, fetchErr = conn.Fetch(ctx, identifier)
			return fetchErr
		})
	})
	if err != nil {
		metrics.IngestTotal.WithLabelValues(conn.Name(), "error").Inc()
		return Outcome{}, err
	}

	outcome, err := e.Upsert(ctx, result, forceRefresh)
	if err != nil {
		metrics.IngestTotal.WithLabelValues(conn.Name(), "error").Inc()
		return Outcome{}, err
	}
	metrics.IngestTotal.WithLabelValues(conn.Name(), outcome.Status).Inc()
	return outcome, nil
}

// Upsert stores a fetched result. Known records return the existing item
// untouched; forceRefresh merges fresh data over it instead. A create that
// loses a concurrent race on the source key reloads the winner and proceeds
// as if the record had been found.
func (e *Engine) Upsert(ctx context.Context, result domain.CanonicalResult, forceRefresh bool) (Outcome, error) {
	key := result.Key()
	rec, err := e.store.FindSourceRecord(ctx, key.SourceName, key.SourceID)
	if err != nil {
		return Outcome{}, err
	}
	if rec != nil {
		return e.resolveExisting(ctx, rec, result, forceRefresh)
	}

	item, ext, srcRec, err := buildRows(uuid.NewString(), result)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.store.CreateItemWithSource(ctx, item, ext, srcRec); err != nil {
		if store.IsUniqueConflict(err) {
			e.logger.Debug("lost create race, reloading winner",
				"source", key.SourceName, "source_id", key.SourceID)
			rec, findErr := e.store.FindSourceRecord(ctx, key.SourceName, key.SourceID)
			if findErr != nil {
				return Outcome{}, findErr
			}
			if rec == nil {
				return Outcome{}, fmt.Errorf("upsert %s/%s: conflict with no surviving record", key.SourceName, key.SourceID)
			}
			return e.resolveExisting(ctx, rec, result, forceRefresh)
		}
		return Outcome{}, err
	}

	e.logger.Info("item created",
		"item_id", item.ID, "media_type", item.MediaType,
		"source", key.SourceName, "source_id", key.SourceID)
	return Outcome{Status: OutcomeCreated, Item: item, Extension: ext}, nil
}

func (e *Engine) resolveExisting(ctx context.Context, rec *store.SourceRecord, result domain.CanonicalResult, forceRefresh bool) (Outcome, error) {
	item, ext, err := e.store.GetItem(ctx, rec.ItemID)
	if err != nil {
		return Outcome{}, err
	}
	if item == nil {
		return Outcome{}, fmt.Errorf("source record %s/%s points at missing item %s",
			rec.SourceName, rec.SourceID, rec.ItemID)
	}
	if !forceRefresh {
		return Outcome{Status: OutcomeExists, Item: *item, Extension: ext}, nil
	}
	return e.refresh(ctx, *item, ext, result)
}

// refresh overlays the fetched result onto the stored item. Only non-empty
// incoming fields overwrite; locally enriched data survives a provider that
// stops returning a field. A result reclassified to a different media type
// replaces the extension outright, so the old kind's fields never blend
// into the new kind's payload.
func (e *Engine) refresh(ctx context.Context, item store.MediaItem, ext *store.MediaExtension, result domain.CanonicalResult) (Outcome, error) {
	reclassified := item.MediaType != string(result.MediaType)
	if reclassified {
		e.logger.Info("item reclassified",
			"item_id", item.ID, "from", item.MediaType, "to", result.MediaType)
		item.MediaType = string(result.MediaType)
	}
	overlayField(&item.Title, result.Title)
	overlayField(&item.Description, result.Description)
	overlayField(&item.ReleaseDate, result.ReleaseDate)
	overlayField(&item.CoverImageURL, result.CoverImageURL)
	overlayField(&item.CanonicalURL, result.CanonicalURL)

	incoming, err := extensionPayload(result)
	if err != nil {
		return Outcome{}, err
	}
	if incoming != "" {
		if ext == nil || reclassified {
			ext = &store.MediaExtension{ItemID: item.ID, Kind: string(result.MediaType), Payload: incoming}
		} else {
			merged, err := overlayJSON(ext.Payload, incoming)
			if err != nil {
				return Outcome{}, err
			}
			ext.Payload = merged
		}
	}

	metadata, err := metadataPayload(result)
	if err != nil {
		return Outcome{}, err
	}
	rec := store.SourceRecord{
		SourceName: result.SourceName,
		SourceID:   result.SourceID,
		SourceURL:  result.SourceURL,
		RawPayload: result.RawPayload,
		Metadata:   metadata,
	}
	if err := e.store.UpdateItemWithSource(ctx, item, ext, rec); err != nil {
		return Outcome{}, err
	}

	e.logger.Info("item refreshed",
		"item_id", item.ID, "source", result.SourceName, "source_id", result.SourceID)
	return Outcome{Status: OutcomeRefreshed, Item: item, Extension: ext}, nil
}

func buildRows(itemID string, result domain.CanonicalResult) (store.MediaItem, *store.MediaExtension, store.SourceRecord, error) {
	item := store.MediaItem{
		ID:            itemID,
		MediaType:     string(result.MediaType),
		Title:         result.Title,
		Description:   result.Description,
		ReleaseDate:   result.ReleaseDate,
		CoverImageURL: result.CoverImageURL,
		CanonicalURL:  result.CanonicalURL,
	}

	var ext *store.MediaExtension
	payload, err := extensionPayload(result)
	if err != nil {
		return store.MediaItem{}, nil, store.SourceRecord{}, err
	}
	if payload != "" {
		ext = &store.MediaExtension{ItemID: itemID, Kind: string(result.MediaType), Payload: payload}
	}

	metadata, err := metadataPayload(result)
	if err != nil {
		return store.MediaItem{}, nil, store.SourceRecord{}, err
	}
	rec := store.SourceRecord{
		ItemID:     itemID,
		SourceName: result.SourceName,
		SourceID:   result.SourceID,
		SourceURL:  result.SourceURL,
		RawPayload: result.RawPayload,
		Metadata:   metadata,
	}
	return item, ext, rec, nil
}

func extensionPayload(result domain.CanonicalResult) (string, error) {
	ext, ok := result.Extensions.ForType(result.MediaType)
	if !ok {
		return "", nil
	}
	b, err := json.Marshal(ext)
	if err != nil {
		return "", fmt.Errorf("marshal %s extension: %w", result.MediaType, err)
	}
	return string(b), nil
}

func metadataPayload(result domain.CanonicalResult) (string, error) {
	if len(result.Metadata) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(result.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal source metadata: %w", err)
	}
	return string(b), nil
}

func overlayField(dst *string, incoming string) {
	if incoming != "" {
		*dst = incoming
	}
}

// overlayJSON merges two flat JSON objects, letting non-empty incoming
// values win. Empty strings, nulls, zero numbers, and empty collections
// never erase stored data.
func overlayJSON(existing, incoming string) (string, error) {
	base := map[string]any{}
	if existing != "" {
		if err := json.Unmarshal([]byte(existing), &base); err != nil {
			return "", fmt.Errorf("decode stored extension: %w", err)
		}
	}
	next := map[string]any{}
	if err := json.Unmarshal([]byte(incoming), &next); err != nil {
		return "", fmt.Errorf("decode fetched extension: %w", err)
	}
	for key, value := range next {
		if isEmptyValue(value) {
			continue
		}
		base[key] = value
	}
	b, err := json.Marshal(base)
	if err != nil {
		return "", fmt.Errorf("encode merged extension: %w", err)
	}
	return string(b), nil
}

func isEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case float64:
		return v == 0
	case bool:
		return false
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}
