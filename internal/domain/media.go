package domain

import "strings"

type MediaType string

const (
	MediaTypeBook  MediaType = "book"
	MediaTypeMovie MediaType = "movie"
	MediaTypeTV    MediaType = "tv"
	MediaTypeGame  MediaType = "game"
	MediaTypeMusic MediaType = "music"
)

func ParseMediaType(raw string) (MediaType, bool) {
	switch MediaType(strings.ToLower(strings.TrimSpace(raw))) {
	case MediaTypeBook:
		return MediaTypeBook, true
	case MediaTypeMovie:
		return MediaTypeMovie, true
	case MediaTypeTV:
		return MediaTypeTV, true
	case MediaTypeGame:
		return MediaTypeGame, true
	case MediaTypeMusic:
		return MediaTypeMusic, true
	default:
		return "", false
	}
}

// SourceKey identifies one upstream entity. It is the dedupe and upsert key
// across the whole system; it is never the canonical record's own identifier.
type SourceKey struct {
	SourceName string `json:"sourceName"`
	SourceID   string `json:"sourceId"`
}

// CanonicalResult is the normalized shape every connector fetch must produce.
// It is never persisted verbatim; the upsert engine reconciles it into a
// canonical media item plus a source record.
type CanonicalResult struct {
	MediaType     MediaType         `json:"mediaType"`
	Title         string            `json:"title"`
	Description   string            `json:"description,omitempty"`
	ReleaseDate   string            `json:"releaseDate,omitempty"`
	CoverImageURL string            `json:"coverImageUrl,omitempty"`
	CanonicalURL  string            `json:"canonicalUrl,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	SourceName    string            `json:"sourceName"`
	SourceID      string            `json:"sourceId"`
	SourceURL     string            `json:"sourceUrl,omitempty"`
	RawPayload    string            `json:"-"`
	Extensions    ExtensionSet      `json:"extensions,omitempty"`
}

func (r CanonicalResult) Key() SourceKey {
	return SourceKey{SourceName: r.SourceName, SourceID: r.SourceID}
}

// ExtensionSet is the closed set of type-specific field blocks a connector
// may attach. At most the block matching the result's media type is applied
// during upsert; the rest are ignored.
type ExtensionSet struct {
	Book  *BookExtension  `json:"book,omitempty"`
	Movie *MovieExtension `json:"movie,omitempty"`
	TV    *TVExtension    `json:"tv,omitempty"`
	Game  *GameExtension  `json:"game,omitempty"`
	Music *MusicExtension `json:"music,omitempty"`
}

// ForType returns the extension block matching the given media type.
// The extension kind string equals the media type value.
func (e ExtensionSet) ForType(mt MediaType) (any, bool) {
	switch mt {
	case MediaTypeBook:
		if e.Book != nil {
			return e.Book, true
		}
	case MediaTypeMovie:
		if e.Movie != nil {
			return e.Movie, true
		}
	case MediaTypeTV:
		if e.TV != nil {
			return e.TV, true
		}
	case MediaTypeGame:
		if e.Game != nil {
			return e.Game, true
		}
	case MediaTypeMusic:
		if e.Music != nil {
			return e.Music, true
		}
	}
	return nil, false
}

type BookExtension struct {
	Authors    []string `json:"authors,omitempty"`
	Subjects   []string `json:"subjects,omitempty"`
	PageCount  int      `json:"pageCount,omitempty"`
	ISBN       string   `json:"isbn,omitempty"`
	Publishers []string `json:"publishers,omitempty"`
}

type MovieExtension struct {
	Directors        []string `json:"directors,omitempty"`
	RuntimeMinutes   int      `json:"runtimeMinutes,omitempty"`
	Genres           []string `json:"genres,omitempty"`
	OriginalLanguage string   `json:"originalLanguage,omitempty"`
	VoteAverage      float64  `json:"voteAverage,omitempty"`
}

type TVExtension struct {
	Seasons     int      `json:"seasons,omitempty"`
	Episodes    int      `json:"episodes,omitempty"`
	Networks    []string `json:"networks,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	VoteAverage float64  `json:"voteAverage,omitempty"`
}

type GameExtension struct {
	Platforms  []string `json:"platforms,omitempty"`
	Genres     []string `json:"genres,omitempty"`
	Developers []string `json:"developers,omitempty"`
	Rating     float64  `json:"rating,omitempty"`
}

type MusicExtension struct {
	Artists    []string `json:"artists,omitempty"`
	TrackCount int      `json:"trackCount,omitempty"`
	Label      string   `json:"label,omitempty"`
	AlbumType  string   `json:"albumType,omitempty"`
}
