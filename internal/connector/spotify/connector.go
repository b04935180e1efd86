// Package spotify adapts the Spotify Web API for album metadata. Tokens come
// from the client-credentials flow with HTTP basic auth on the exchange.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/connector/common"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/domain"
)

const (
	defaultBaseURL  = "https://api.spotify.com/v1"
	defaultTokenURL = "https://accounts.spotify.com/api/token"
	siteBaseURL     = "https://open.spotify.com/album"

	sourceName = "spotify"
	albumIDLen = 22
)

type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
	UserAgent    string
	Client       *http.Client
}

type Connector struct {
	baseURL   string
	userAgent string
	client    *http.Client
	tokens    *common.TokenSource
}

func New(cfg Config) *Connector {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = defaultTokenURL
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
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    client,
		tokens: &common.TokenSource{
			TokenURL:     tokenURL,
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			Style:        common.AuthStyleBasic,
			Client:       client,
		},
	}
}

func (c *Connector) Name() string {
	return sourceName
}

func (c *Connector) MediaTypes() []domain.MediaType {
	return []domain.MediaType{domain.MediaTypeMusic}
}

// ParseIdentifier accepts a bare 22-character album ID, a spotify:album:<id>
// URI, or an open.spotify.com/album/<id> share URL (query string dropped).
func (c *Connector) ParseIdentifier(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("spotify: empty identifier")
	}

	switch {
	case strings.HasPrefix(value, "spotify:"):
		parts := strings.Split(value, ":")
		if len(parts) != 3 || parts[1] != "album" {
			return "", fmt.Errorf("spotify: %q is not an album uri", raw)
		}
		value = parts[2]
	case strings.Contains(value, "://"):
		parsed, err := url.Parse(value)
		if err != nil {
			return "", fmt.Errorf("spotify: parse url: %w", err)
		}
		segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		if len(segments) < 2 || segments[0] != "album" {
			return "", fmt.Errorf("spotify: %q is not an album url", raw)
		}
		value = segments[1]
	}

	if !isAlbumID(value) {
		return "", fmt.Errorf("spotify: invalid album id %q", raw)
	}
	return value, nil
}

func isAlbumID(value string) bool {
	if len(value) != albumIDLen {
		return false
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

type searchResponse struct {
	Albums struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	} `json:"albums"`
}

func (c *Connector) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1
	}
	params := url.Values{}
	params.Set("q", strings.TrimSpace(query))
	params.Set("type", "album")
	params.Set("limit", strconv.Itoa(limit))

	var resp searchResponse
	if err := c.getJSON(ctx, "/search?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("spotify search: %w", err)
	}

	ids := make([]string, 0, len(resp.Albums.Items))
	for _, item := range resp.Albums.Items {
		ids = append(ids, item.ID)
	}
	return ids, nil
}

type albumResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AlbumType   string `json:"album_type"`
	ReleaseDate string `json:"release_date"`
	TotalTracks int    `json:"total_tracks"`
	Label       string `json:"label"`
	Artists     []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Images []struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"images"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
	Genres []string `json:"genres"`
}

func (c *Connector) Fetch(ctx context.Context, identifier string) (domain.CanonicalResult, error) {
	identifier = strings.TrimSpace(identifier)
	if !isAlbumID(identifier) {
		return domain.CanonicalResult{}, fmt.Errorf("spotify: invalid album id %q", identifier)
	}

	var raw json.RawMessage
	if err := c.getJSON(ctx, "/albums/"+identifier, &raw); err != nil {
		// The API answers 400 for well-formed but nonexistent base62 ids.
		var statusErr *domain.UpstreamStatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusBadRequest {
			return domain.CanonicalResult{}, fmt.Errorf("spotify album %s: %w", identifier, domain.ErrNotFound)
		}
		return domain.CanonicalResult{}, fmt.Errorf("spotify album %s: %w", identifier, err)
	}

	var album albumResponse
	if err := json.Unmarshal(raw, &album); err != nil {
		return domain.CanonicalResult{}, fmt.Errorf("spotify album %s: decode: %w", identifier, err)
	}
	if album.Name == "" {
		return domain.CanonicalResult{}, fmt.Errorf("spotify album %s: %w", identifier, domain.ErrNotFound)
	}

	artists := make([]string, 0, len(album.Artists))
	for _, a := range album.Artists {
		if a.Name != "" {
			artists = append(artists, a.Name)
		}
	}

	canonicalURL := album.ExternalURLs.Spotify
	if canonicalURL == "" {
		canonicalURL = siteBaseURL + "/" + album.ID
	}

	return domain.CanonicalResult{
		MediaType:     domain.MediaTypeMusic,
		Title:         album.Name,
		ReleaseDate:   album.ReleaseDate,
		CoverImageURL: largestImage(album),
		CanonicalURL:  canonicalURL,
		SourceName:    sourceName,
		SourceID:      album.ID,
		SourceURL:     canonicalURL,
		RawPayload:    string(raw),
		Metadata:      map[string]string{"album_type": album.AlbumType},
		Extensions: domain.ExtensionSet{
			Music: &domain.MusicExtension{
				Artists:    artists,
				TrackCount: album.TotalTracks,
				Label:      album.Label,
				AlbumType:  album.AlbumType,
			},
		},
	}, nil
}

func (c *Connector) getJSON(ctx context.Context, path string, out any) error {
	return common.WithBearerRetry(ctx, c.tokens, func(token string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		return common.DoJSON(c.client, req, out)
	})
}

func largestImage(album albumResponse) string {
	best := ""
	bestWidth := -1
	for _, img := range album.Images {
		if img.Width > bestWidth {
			best = img.URL
			bestWidth = img.Width
		}
	}
	return best
}
