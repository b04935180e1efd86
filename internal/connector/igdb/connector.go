// Package igdb adapts the IGDB game catalog. The API authenticates with a
// Twitch client-credentials bearer token and speaks a small query language
// over POST bodies. Identifiers are numeric game IDs or igdb.com slugs.
package igdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/connector/common"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/domain"
)

const (
	defaultBaseURL  = "https://api.igdb.com/v4"
	defaultTokenURL = "https://id.twitch.tv/oauth2/token"
	siteBaseURL     = "https://www.igdb.com/games"

	sourceName  = "igdb"
	fetchFields = "name,summary,first_release_date,cover.url,genres.name,platforms.name," +
		"involved_companies.company.name,involved_companies.developer,total_rating,slug,url"
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
	clientID  string
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
		clientID:  strings.TrimSpace(cfg.ClientID),
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    client,
		tokens: &common.TokenSource{
			TokenURL:     tokenURL,
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			Style:        common.AuthStyleParams,
			Client:       client,
		},
	}
}

func (c *Connector) Name() string {
	return sourceName
}

func (c *Connector) MediaTypes() []domain.MediaType {
	return []domain.MediaType{domain.MediaTypeGame}
}

// ParseIdentifier accepts a numeric game ID or an igdb.com game URL, whose
// path segment is a slug ("https://www.igdb.com/games/the-witcher-3-wild-hunt").
// Slugs are valid identifiers; Fetch queries by slug when the identifier is
// not numeric.
func (c *Connector) ParseIdentifier(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("igdb: empty identifier")
	}

	if strings.Contains(value, "://") {
		parsed, err := url.Parse(value)
		if err != nil {
			return "", fmt.Errorf("igdb: parse url: %w", err)
		}
		segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		if len(segments) < 2 || segments[0] != "games" {
			return "", fmt.Errorf("igdb: %q is not a game url", raw)
		}
		value = segments[1]
	}

	if value == "" || !isSlugOrID(value) {
		return "", fmt.Errorf("igdb: invalid identifier %q", raw)
	}
	return value, nil
}

func isSlugOrID(value string) bool {
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}

type searchItem struct {
	ID int64 `json:"id"`
}

func (c *Connector) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1
	}
	body := fmt.Sprintf("search %q; fields id; limit %d;", strings.TrimSpace(query), limit)

	var items []searchItem
	if err := c.query(ctx, "/games", body, &items); err != nil {
		return nil, fmt.Errorf("igdb search: %w", err)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, strconv.FormatInt(item.ID, 10))
	}
	return ids, nil
}

type gameResponse struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	Summary          string  `json:"summary"`
	FirstReleaseDate int64   `json:"first_release_date"`
	TotalRating      float64 `json:"total_rating"`
	Slug             string  `json:"slug"`
	URL              string  `json:"url"`
	Cover            struct {
		URL string `json:"url"`
	} `json:"cover"`
	Genres []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Platforms []struct {
		Name string `json:"name"`
	} `json:"platforms"`
	InvolvedCompanies []struct {
		Developer bool `json:"developer"`
		Company   struct {
			Name string `json:"name"`
		} `json:"company"`
	} `json:"involved_companies"`
}

func (c *Connector) Fetch(ctx context.Context, identifier string) (domain.CanonicalResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || !isSlugOrID(identifier) {
		return domain.CanonicalResult{}, fmt.Errorf("igdb: invalid identifier %q", identifier)
	}

	var where string
	if _, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		where = "where id = " + identifier
	} else {
		where = fmt.Sprintf("where slug = %q", identifier)
	}
	body := fmt.Sprintf("fields %s; %s; limit 1;", fetchFields, where)

	var raw json.RawMessage
	if err := c.query(ctx, "/games", body, &raw); err != nil {
		return domain.CanonicalResult{}, fmt.Errorf("igdb game %s: %w", identifier, err)
	}

	var games []gameResponse
	if err := json.Unmarshal(raw, &games); err != nil {
		return domain.CanonicalResult{}, fmt.Errorf("igdb game %s: decode: %w", identifier, err)
	}
	if len(games) == 0 {
		return domain.CanonicalResult{}, fmt.Errorf("igdb game %s: %w", identifier, domain.ErrNotFound)
	}
	game := games[0]

	genres := make([]string, 0, len(game.Genres))
	for _, g := range game.Genres {
		if g.Name != "" {
			genres = append(genres, g.Name)
		}
	}
	platforms := make([]string, 0, len(game.Platforms))
	for _, p := range game.Platforms {
		if p.Name != "" {
			platforms = append(platforms, p.Name)
		}
	}
	var developers []string
	for _, ic := range game.InvolvedCompanies {
		if ic.Developer && ic.Company.Name != "" {
			developers = append(developers, ic.Company.Name)
		}
	}

	releaseDate := ""
	if game.FirstReleaseDate > 0 {
		releaseDate = time.Unix(game.FirstReleaseDate, 0).UTC().Format("2006-01-02")
	}

	canonicalURL := strings.TrimSpace(game.URL)
	if canonicalURL == "" && game.Slug != "" {
		canonicalURL = siteBaseURL + "/" + game.Slug
	}

	return domain.CanonicalResult{
		MediaType:     domain.MediaTypeGame,
		Title:         game.Name,
		Description:   game.Summary,
		ReleaseDate:   releaseDate,
		CoverImageURL: normalizeCoverURL(game.Cover.URL),
		CanonicalURL:  canonicalURL,
		SourceName:    sourceName,
		SourceID:      strconv.FormatInt(game.ID, 10),
		SourceURL:     canonicalURL,
		RawPayload:    string(raw),
		Metadata:      map[string]string{"slug": game.Slug},
		Extensions: domain.ExtensionSet{
			Game: &domain.GameExtension{
				Platforms:  platforms,
				Genres:     genres,
				Developers: developers,
				Rating:     game.TotalRating,
			},
		},
	}, nil
}

// query posts an APIcalypse body with a bearer token; an auth rejection
// triggers one token refresh and a single retry at this level.
func (c *Connector) query(ctx context.Context, path, body string, out any) error {
	return common.WithBearerRetry(ctx, c.tokens, func(token string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Client-ID", c.clientID)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		return common.DoJSON(c.client, req, out)
	})
}

// IGDB serves protocol-relative cover URLs ("//images.igdb.com/...") sized
// for thumbnails; rewrite to https and the larger artwork rendition.
func normalizeCoverURL(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "//") {
		value = "https:" + value
	}
	return strings.Replace(value, "t_thumb", "t_cover_big", 1)
}
