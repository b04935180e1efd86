// Package tmdb adapts The Movie Database for movies and TV. Identifiers are
// kind-qualified ("movie:603", "tv:1396") because TMDB keeps separate ID
// spaces per kind.
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/connector/common"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/domain"
)

const (
	defaultBaseURL = "https://api.themoviedb.org/3"
	siteBaseURL    = "https://www.themoviedb.org"
	posterBaseURL  = "https://image.tmdb.org/t/p/w500"

	sourceName = "tmdb"
)

type Config struct {
	APIKey    string
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

type Connector struct {
	apiKey    string
	baseURL   string
	userAgent string
	client    *http.Client
}

func New(cfg Config) *Connector {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = common.DefaultUserAgent
	}
	return &Connector{
		apiKey:    strings.TrimSpace(cfg.APIKey),
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    client,
	}
}

func (c *Connector) Name() string {
	return sourceName
}

func (c *Connector) MediaTypes() []domain.MediaType {
	return []domain.MediaType{domain.MediaTypeMovie, domain.MediaTypeTV}
}

// ParseIdentifier accepts "movie:603", "tv:1396", a bare numeric ID
// (treated as a movie), or a themoviedb.org URL whose path carries the kind
// and a "603-the-matrix" style slugged ID.
func (c *Connector) ParseIdentifier(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("tmdb: empty identifier")
	}

	if strings.Contains(value, "://") {
		parsed, err := url.Parse(value)
		if err != nil {
			return "", fmt.Errorf("tmdb: parse url: %w", err)
		}
		segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		if len(segments) < 2 || (segments[0] != "movie" && segments[0] != "tv") {
			return "", fmt.Errorf("tmdb: %q is not a movie or tv url", raw)
		}
		id, _, _ := strings.Cut(segments[1], "-")
		if !isDigits(id) {
			return "", fmt.Errorf("tmdb: %q has no numeric id", raw)
		}
		return segments[0] + ":" + id, nil
	}

	if kind, id, ok := strings.Cut(value, ":"); ok {
		kind = strings.ToLower(strings.TrimSpace(kind))
		id = strings.TrimSpace(id)
		if (kind != "movie" && kind != "tv") || !isDigits(id) {
			return "", fmt.Errorf("tmdb: invalid identifier %q", raw)
		}
		return kind + ":" + id, nil
	}

	if isDigits(value) {
		return "movie:" + value, nil
	}
	return "", fmt.Errorf("tmdb: invalid identifier %q", raw)
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type multiSearchResponse struct {
	Results []struct {
		ID        int64  `json:"id"`
		MediaType string `json:"media_type"`
	} `json:"results"`
}

func (c *Connector) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1
	}
	params := url.Values{
		"api_key": {c.apiKey},
		"query":   {strings.TrimSpace(query)},
	}

	var parsed multiSearchResponse
	endpoint := c.baseURL + "/search/multi?" + params.Encode()
	if err := common.GetJSON(ctx, c.client, endpoint, c.userAgent, &parsed); err != nil {
		return nil, fmt.Errorf("tmdb search: %w", err)
	}

	ids := make([]string, 0, limit)
	for _, item := range parsed.Results {
		if item.MediaType != "movie" && item.MediaType != "tv" {
			continue
		}
		ids = append(ids, item.MediaType+":"+strconv.FormatInt(item.ID, 10))
		if len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

type namedRef struct {
	Name string `json:"name"`
}

type movieResponse struct {
	Title            string     `json:"title"`
	Overview         string     `json:"overview"`
	ReleaseDate      string     `json:"release_date"`
	PosterPath       string     `json:"poster_path"`
	Runtime          int        `json:"runtime"`
	OriginalLanguage string     `json:"original_language"`
	VoteAverage      float64    `json:"vote_average"`
	Genres           []namedRef `json:"genres"`
}

type tvResponse struct {
	Name             string     `json:"name"`
	Overview         string     `json:"overview"`
	FirstAirDate     string     `json:"first_air_date"`
	PosterPath       string     `json:"poster_path"`
	NumberOfSeasons  int        `json:"number_of_seasons"`
	NumberOfEpisodes int        `json:"number_of_episodes"`
	VoteAverage      float64    `json:"vote_average"`
	Genres           []namedRef `json:"genres"`
	Networks         []namedRef `json:"networks"`
}

func (c *Connector) Fetch(ctx context.Context, identifier string) (domain.CanonicalResult, error) {
	kind, id, ok := strings.Cut(identifier, ":")
	if !ok || (kind != "movie" && kind != "tv") || !isDigits(id) {
		return domain.CanonicalResult{}, fmt.Errorf("tmdb: invalid identifier %q", identifier)
	}

	endpoint := fmt.Sprintf("%s/%s/%s?api_key=%s", c.baseURL, kind, id, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.CanonicalResult{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	raw, err := common.ReadRaw(c.client, req)
	if err != nil {
		return domain.CanonicalResult{}, fmt.Errorf("tmdb %s %s: %w", kind, id, err)
	}

	if kind == "movie" {
		return c.movieResult(identifier, id, raw)
	}
	return c.tvResult(identifier, id, raw)
}

func (c *Connector) movieResult(identifier, id string, raw []byte) (domain.CanonicalResult, error) {
	var movie movieResponse
	if err := json.Unmarshal(raw, &movie); err != nil {
		return domain.CanonicalResult{}, fmt.Errorf("tmdb movie %s: decode: %w", id, err)
	}
	if strings.TrimSpace(movie.Title) == "" {
		return domain.CanonicalResult{}, fmt.Errorf("tmdb movie %s: %w", id, domain.ErrNotFound)
	}

	canonicalURL := siteBaseURL + "/movie/" + id
	return domain.CanonicalResult{
		MediaType:     domain.MediaTypeMovie,
		Title:         movie.Title,
		Description:   movie.Overview,
		ReleaseDate:   movie.ReleaseDate,
		CoverImageURL: posterURL(movie.PosterPath),
		CanonicalURL:  canonicalURL,
		SourceName:    sourceName,
		SourceID:      identifier,
		SourceURL:     canonicalURL,
		RawPayload:    string(raw),
		Metadata:      map[string]string{"tmdb_kind": "movie"},
		Extensions: domain.ExtensionSet{
			Movie: &domain.MovieExtension{
				RuntimeMinutes:   movie.Runtime,
				Genres:           genreNames(movie.Genres),
				OriginalLanguage: movie.OriginalLanguage,
				VoteAverage:      movie.VoteAverage,
			},
		},
	}, nil
}

func (c *Connector) tvResult(identifier, id string, raw []byte) (domain.CanonicalResult, error) {
	var show tvResponse
	if err := json.Unmarshal(raw, &show); err != nil {
		return domain.CanonicalResult{}, fmt.Errorf("tmdb tv %s: decode: %w", id, err)
	}
	if strings.TrimSpace(show.Name) == "" {
		return domain.CanonicalResult{}, fmt.Errorf("tmdb tv %s: %w", id, domain.ErrNotFound)
	}

	networks := make([]string, 0, len(show.Networks))
	for _, n := range show.Networks {
		if n.Name != "" {
			networks = append(networks, n.Name)
		}
	}

	canonicalURL := siteBaseURL + "/tv/" + id
	return domain.CanonicalResult{
		MediaType:     domain.MediaTypeTV,
		Title:         show.Name,
		Description:   show.Overview,
		ReleaseDate:   show.FirstAirDate,
		CoverImageURL: posterURL(show.PosterPath),
		CanonicalURL:  canonicalURL,
		SourceName:    sourceName,
		SourceID:      identifier,
		SourceURL:     canonicalURL,
		RawPayload:    string(raw),
		Metadata:      map[string]string{"tmdb_kind": "tv"},
		Extensions: domain.ExtensionSet{
			TV: &domain.TVExtension{
				Seasons:     show.NumberOfSeasons,
				Episodes:    show.NumberOfEpisodes,
				Networks:    networks,
				Genres:      genreNames(show.Genres),
				VoteAverage: show.VoteAverage,
			},
		},
	}, nil
}

func posterURL(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	return posterBaseURL + path
}

func genreNames(genres []namedRef) []string {
	names := make([]string, 0, len(genres))
	for _, g := range genres {
		if g.Name != "" {
			names = append(names, g.Name)
		}
	}
	return names
}
