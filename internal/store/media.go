package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/domain"
)

type MediaItem struct {
	ID            string
	MediaType     string
	Title         string
	Description   string
	ReleaseDate   string
	CoverImageURL string
	CanonicalURL  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MediaExtension carries the type-specific payload as a JSON document keyed
// by kind (the kind always matches the owning item's media_type).
type MediaExtension struct {
	ItemID  string
	Kind    string
	Payload string
}

type SourceRecord struct {
	ID            int64
	ItemID        string
	SourceName    string
	SourceID      string
	SourceURL     string
	RawPayload    string
	Metadata      string
	LastFetchedAt time.Time
}

// FindSourceRecord looks up the provider record for (sourceName, sourceID).
// A missing record returns (nil, nil).
func (s *Store) FindSourceRecord(ctx context.Context, sourceName, sourceID string) (*SourceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, item_id, source_name, source_id, source_url, raw_payload, metadata, last_fetched_at
		FROM source_records
		WHERE source_name = ? AND source_id = ?
	`, sourceName, sourceID)

	var rec SourceRecord
	err := row.Scan(&rec.ID, &rec.ItemID, &rec.SourceName, &rec.SourceID,
		&rec.SourceURL, &rec.RawPayload, &rec.Metadata, &rec.LastFetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find source record: %w", err)
	}
	return &rec, nil
}

// GetItem loads an item and its extension row. A missing item returns
// (nil, nil, nil); a missing extension leaves the second result nil.
func (s *Store) GetItem(ctx context.Context, id string) (*MediaItem, *MediaExtension, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, media_type, title, description, release_date, cover_image_url, canonical_url, created_at, updated_at
		FROM media_items
		WHERE id = ?
	`, id)

	var item MediaItem
	err := row.Scan(&item.ID, &item.MediaType, &item.Title, &item.Description,
		&item.ReleaseDate, &item.CoverImageURL, &item.CanonicalURL, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get item: %w", err)
	}

	extRow := s.db.QueryRowContext(ctx, `
		SELECT item_id, kind, payload FROM media_extensions WHERE item_id = ?
	`, id)
	var ext MediaExtension
	err = extRow.Scan(&ext.ItemID, &ext.Kind, &ext.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return &item, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get item extension: %w", err)
	}
	return &item, &ext, nil
}

// CreateItemWithSource inserts the item, its extension (when present), and
// the source record in one transaction. A UNIQUE violation on
// (source_name, source_id) surfaces to the caller for conflict recovery.
func (s *Store) CreateItemWithSource(ctx context.Context, item MediaItem, ext *MediaExtension, rec SourceRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create item: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO media_items (id, media_type, title, description, release_date, cover_image_url, canonical_url)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.MediaType, item.Title, item.Description, item.ReleaseDate, item.CoverImageURL, item.CanonicalURL); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}

	if ext != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO media_extensions (item_id, kind, payload) VALUES (?, ?, ?)
		`, item.ID, ext.Kind, ext.Payload); err != nil {
			return fmt.Errorf("insert extension: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO source_records (item_id, source_name, source_id, source_url, raw_payload, metadata, last_fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, item.ID, rec.SourceName, rec.SourceID, rec.SourceURL, rec.RawPayload, rec.Metadata); err != nil {
		return fmt.Errorf("insert source record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create item: %w", err)
	}
	return nil
}

// UpdateItemWithSource rewrites the item row, upserts its extension, and
// refreshes the source record in one transaction.
func (s *Store) UpdateItemWithSource(ctx context.Context, item MediaItem, ext *MediaExtension, rec SourceRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update item: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE media_items
		SET media_type = ?, title = ?, description = ?, release_date = ?, cover_image_url = ?, canonical_url = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, item.MediaType, item.Title, item.Description, item.ReleaseDate, item.CoverImageURL, item.CanonicalURL, item.ID); err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	if ext != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO media_extensions (item_id, kind, payload) VALUES (?, ?, ?)
			ON CONFLICT(item_id) DO UPDATE SET kind = excluded.kind, payload = excluded.payload
		`, item.ID, ext.Kind, ext.Payload); err != nil {
			return fmt.Errorf("upsert extension: %w", err)
		}
	}

	// The extension kind always matches the item's media_type; a stale row
	// left over from a reclassification is dropped.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM media_extensions WHERE item_id = ? AND kind != ?
	`, item.ID, item.MediaType); err != nil {
		return fmt.Errorf("prune stale extension: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE source_records
		SET source_url = ?, raw_payload = ?, metadata = ?, last_fetched_at = CURRENT_TIMESTAMP
		WHERE source_name = ? AND source_id = ?
	`, rec.SourceURL, rec.RawPayload, rec.Metadata, rec.SourceName, rec.SourceID); err != nil {
		return fmt.Errorf("update source record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update item: %w", err)
	}
	return nil
}

// SourceKeys lists the provider keys already linked to canonical items, used
// to drop search hits the library already knows.
func (s *Store) SourceKeys(ctx context.Context) (map[domain.SourceKey]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_name, source_id FROM source_records`)
	if err != nil {
		return nil, fmt.Errorf("list source keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[domain.SourceKey]struct{})
	for rows.Next() {
		var key domain.SourceKey
		if err := rows.Scan(&key.SourceName, &key.SourceID); err != nil {
			return nil, fmt.Errorf("scan source key: %w", err)
		}
		keys[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("source keys rows: %w", err)
	}
	return keys, nil
}
