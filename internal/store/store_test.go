package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testItem(id string) (MediaItem, *MediaExtension, SourceRecord) {
	item := MediaItem{
		ID:            id,
		MediaType:     "movie",
		Title:         "The Matrix",
		Description:   "A hacker learns the truth.",
		ReleaseDate:   "1999-03-30",
		CoverImageURL: "https://image.tmdb.org/t/p/w500/poster.jpg",
		CanonicalURL:  "https://www.themoviedb.org/movie/603",
	}
	ext := &MediaExtension{
		ItemID:  id,
		Kind:    "movie",
		Payload: `{"runtime_minutes":136,"genres":["Action"]}`,
	}
	rec := SourceRecord{
		ItemID:     id,
		SourceName: "tmdb",
		SourceID:   "movie:603",
		SourceURL:  "https://www.themoviedb.org/movie/603",
		RawPayload: `{"title":"The Matrix"}`,
		Metadata:   `{"tmdb_kind":"movie"}`,
	}
	return item, ext, rec
}

func TestCreateAndLoadItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	item, ext, rec := testItem("item-1")

	if err := s.CreateItemWithSource(ctx, item, ext, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	found, err := s.FindSourceRecord(ctx, "tmdb", "movie:603")
	if err != nil {
		t.Fatalf("find source record: %v", err)
	}
	if found == nil || found.ItemID != "item-1" {
		t.Fatalf("source record = %+v", found)
	}
	if found.RawPayload != rec.RawPayload {
		t.Errorf("raw payload = %q", found.RawPayload)
	}

	got, gotExt, err := s.GetItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got == nil || got.Title != "The Matrix" || got.MediaType != "movie" {
		t.Fatalf("item = %+v", got)
	}
	if gotExt == nil || gotExt.Kind != "movie" || gotExt.Payload != ext.Payload {
		t.Fatalf("extension = %+v", gotExt)
	}
}

func TestMissingRowsReturnNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.FindSourceRecord(ctx, "tmdb", "movie:999")
	if err != nil || rec != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", rec, err)
	}
	item, ext, err := s.GetItem(ctx, "nope")
	if err != nil || item != nil || ext != nil {
		t.Fatalf("expected nil item; got %+v, %+v, %v", item, ext, err)
	}
}

func TestDuplicateSourceRecordIsUniqueConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, ext, rec := testItem("item-1")
	if err := s.CreateItemWithSource(ctx, item, ext, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	dupe, dupeExt, dupeRec := testItem("item-2")
	dupeRec.ItemID = "item-2"
	dupeExt.ItemID = "item-2"
	err := s.CreateItemWithSource(ctx, dupe, dupeExt, dupeRec)
	if err == nil {
		t.Fatal("expected unique conflict")
	}
	if !IsUniqueConflict(err) {
		t.Fatalf("expected unique conflict, got %v", err)
	}

	// The failed transaction must not leave a second item behind.
	got, _, err := s.GetItem(ctx, "item-2")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got != nil {
		t.Fatalf("orphan item survived rollback: %+v", got)
	}
}

func TestUpdateItemWithSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, ext, rec := testItem("item-1")
	if err := s.CreateItemWithSource(ctx, item, ext, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	item.Title = "The Matrix (Remastered)"
	item.Description = "A refreshed description."
	ext.Payload = `{"runtime_minutes":136,"genres":["Action","Science Fiction"]}`
	rec.RawPayload = `{"title":"The Matrix (Remastered)"}`
	if err := s.UpdateItemWithSource(ctx, item, ext, rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, gotExt, err := s.GetItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Title != "The Matrix (Remastered)" {
		t.Errorf("title = %q", got.Title)
	}
	if gotExt == nil || gotExt.Payload != ext.Payload {
		t.Errorf("extension = %+v", gotExt)
	}

	found, err := s.FindSourceRecord(ctx, "tmdb", "movie:603")
	if err != nil {
		t.Fatalf("find source record: %v", err)
	}
	if found.RawPayload != rec.RawPayload {
		t.Errorf("raw payload = %q", found.RawPayload)
	}
}

func TestSourceKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, ext, rec := testItem("item-1")
	if err := s.CreateItemWithSource(ctx, item, ext, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	keys, err := s.SourceKeys(ctx)
	if err != nil {
		t.Fatalf("source keys: %v", err)
	}
	want := domain.SourceKey{SourceName: "tmdb", SourceID: "movie:603"}
	if _, ok := keys[want]; !ok || len(keys) != 1 {
		t.Fatalf("keys = %v", keys)
	}
}

func TestPreviewLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entry := PreviewEntry{
		UserID:     "u1",
		SourceName: "openlibrary",
		ExternalID: "OL45883W",
		Payload:    `{"title":"The Great Gatsby"}`,
		CreatedAt:  now,
		ExpiresAt:  now.Add(300 * time.Second),
	}
	if err := s.PutPreview(ctx, entry); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.GetPreview(ctx, "u1", "openlibrary", "OL45883W", now.Add(299*time.Second))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Payload != entry.Payload {
		t.Fatalf("entry = %+v", got)
	}

	// Expired entries read as absent even before the sweeper runs.
	got, err = s.GetPreview(ctx, "u1", "openlibrary", "OL45883W", now.Add(300*time.Second))
	if err != nil {
		t.Fatalf("get expired: %v", err)
	}
	if got != nil {
		t.Fatalf("expired entry returned: %+v", got)
	}

	// Re-caching resets the expiry.
	entry.CreatedAt = now.Add(400 * time.Second)
	entry.ExpiresAt = now.Add(700 * time.Second)
	if err := s.PutPreview(ctx, entry); err != nil {
		t.Fatalf("re-put: %v", err)
	}
	got, err = s.GetPreview(ctx, "u1", "openlibrary", "OL45883W", now.Add(500*time.Second))
	if err != nil {
		t.Fatalf("get after re-put: %v", err)
	}
	if got == nil {
		t.Fatal("refreshed entry missing")
	}

	n, err := s.DeleteExpiredPreviews(ctx, now.Add(800*time.Second))
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d rows, want 1", n)
	}
}

func TestListPreviewsOmitsExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	live := PreviewEntry{
		UserID: "u1", SourceName: "tmdb", ExternalID: "movie:603",
		Payload: `{}`, CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute),
	}
	dead := PreviewEntry{
		UserID: "u1", SourceName: "tmdb", ExternalID: "movie:604",
		Payload: `{}`, CreatedAt: now.Add(-10 * time.Minute), ExpiresAt: now.Add(-5 * time.Minute),
	}
	other := PreviewEntry{
		UserID: "u2", SourceName: "tmdb", ExternalID: "movie:603",
		Payload: `{}`, CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute),
	}
	for _, e := range []PreviewEntry{live, dead, other} {
		if err := s.PutPreview(ctx, e); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	entries, err := s.ListPreviews(ctx, "u1", now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].ExternalID != "movie:603" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestUserSecrets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	secret, err := s.GetUserSecret(ctx, "u1", "tmdb")
	if err != nil || secret != "" {
		t.Fatalf("expected empty secret, got %q, %v", secret, err)
	}

	if err := s.PutUserSecret(ctx, "u1", "tmdb", "key-1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutUserSecret(ctx, "u1", "tmdb", "key-2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	secret, err = s.GetUserSecret(ctx, "u1", "tmdb")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if secret != "key-2" {
		t.Fatalf("secret = %q", secret)
	}
}
