// Package openlibrary adapts the Open Library book catalog. Works are the
// unit of ingestion; identifiers are work keys such as OL45883W.
package openlibrary

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
	defaultEndpoint = "https://openlibrary.org"
	coverEndpoint   = "https://covers.openlibrary.org/b/id"

	sourceName = "openlibrary"
	maxAuthors = 3
)

type Config struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

type Connector struct {
	client    *http.Client
	endpoint  string
	userAgent string
}

func New(cfg Config) *Connector {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = common.DefaultUserAgent
	}
	return &Connector{client: client, endpoint: endpoint, userAgent: userAgent}
}

func (c *Connector) Name() string {
	return sourceName
}

func (c *Connector) MediaTypes() []domain.MediaType {
	return []domain.MediaType{domain.MediaTypeBook}
}

// ParseIdentifier accepts a bare work key ("OL45883W") or any Open Library
// work URL ("https://openlibrary.org/works/OL45883W/The_Great_Gatsby").
func (c *Connector) ParseIdentifier(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("openlibrary: empty identifier")
	}

	if strings.Contains(value, "://") {
		parsed, err := url.Parse(value)
		if err != nil {
			return "", fmt.Errorf("openlibrary: parse url: %w", err)
		}
		segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		if len(segments) >= 2 && segments[0] == "works" {
			value = segments[1]
		} else {
			return "", fmt.Errorf("openlibrary: %q is not a work url", raw)
		}
	}

	value = strings.TrimPrefix(value, "/works/")
	if !isWorkKey(value) {
		return "", fmt.Errorf("openlibrary: %q is not a work key", raw)
	}
	return value, nil
}

func isWorkKey(value string) bool {
	if !strings.HasPrefix(value, "OL") || !strings.HasSuffix(value, "W") {
		return false
	}
	digits := value[2 : len(value)-1]
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type searchResponse struct {
	Docs []struct {
		Key string `json:"key"`
	} `json:"docs"`
}

func (c *Connector) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1
	}
	params := url.Values{
		"q":      {strings.TrimSpace(query)},
		"limit":  {strconv.Itoa(limit)},
		"fields": {"key"},
	}

	var parsed searchResponse
	endpoint := c.endpoint + "/search.json?" + params.Encode()
	if err := common.GetJSON(ctx, c.client, endpoint, c.userAgent, &parsed); err != nil {
		return nil, fmt.Errorf("openlibrary search: %w", err)
	}

	ids := make([]string, 0, len(parsed.Docs))
	for _, doc := range parsed.Docs {
		key := strings.TrimPrefix(strings.TrimSpace(doc.Key), "/works/")
		if !isWorkKey(key) {
			continue
		}
		ids = append(ids, key)
		if len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

type workAuthorRef struct {
	Author struct {
		Key string `json:"key"`
	} `json:"author"`
}

type workResponse struct {
	Title            string          `json:"title"`
	Description      json.RawMessage `json:"description"`
	FirstPublishDate string          `json:"first_publish_date"`
	Covers           []int64         `json:"covers"`
	Subjects         []string        `json:"subjects"`
	Authors          []workAuthorRef `json:"authors"`
}

type authorResponse struct {
	Name string `json:"name"`
}

func (c *Connector) Fetch(ctx context.Context, identifier string) (domain.CanonicalResult, error) {
	if !isWorkKey(identifier) {
		return domain.CanonicalResult{}, fmt.Errorf("openlibrary: %q is not a work key", identifier)
	}

	workURL := c.endpoint + "/works/" + identifier + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, workURL, nil)
	if err != nil {
		return domain.CanonicalResult{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	raw, err := common.ReadRaw(c.client, req)
	if err != nil {
		return domain.CanonicalResult{}, fmt.Errorf("openlibrary work %s: %w", identifier, err)
	}

	var work workResponse
	if err := json.Unmarshal(raw, &work); err != nil {
		return domain.CanonicalResult{}, fmt.Errorf("openlibrary work %s: decode: %w", identifier, err)
	}
	if strings.TrimSpace(work.Title) == "" {
		return domain.CanonicalResult{}, fmt.Errorf("openlibrary work %s has no title: %w", identifier, domain.ErrNotFound)
	}

	authors := c.fetchAuthorNames(ctx, work.Authors)

	coverURL := ""
	if len(work.Covers) > 0 && work.Covers[0] > 0 {
		coverURL = fmt.Sprintf("%s/%d-L.jpg", coverEndpoint, work.Covers[0])
	}

	canonicalURL := c.endpoint + "/works/" + identifier
	result := domain.CanonicalResult{
		MediaType:     domain.MediaTypeBook,
		Title:         work.Title,
		Description:   decodeDescription(work.Description),
		ReleaseDate:   work.FirstPublishDate,
		CoverImageURL: coverURL,
		CanonicalURL:  canonicalURL,
		SourceName:    sourceName,
		SourceID:      identifier,
		SourceURL:     canonicalURL,
		RawPayload:    string(raw),
		Extensions: domain.ExtensionSet{
			Book: &domain.BookExtension{
				Authors:  authors,
				Subjects: work.Subjects,
			},
		},
	}
	if len(authors) > 0 {
		result.Metadata = map[string]string{"authors": strings.Join(authors, ", ")}
	}
	return result, nil
}

// fetchAuthorNames resolves up to maxAuthors author keys to names. Author
// lookups are best-effort enrichment: a failed lookup drops the name, it
// never fails the work fetch.
func (c *Connector) fetchAuthorNames(ctx context.Context, refs []workAuthorRef) []string {
	var names []string
	for _, ref := range refs {
		if len(names) >= maxAuthors {
			break
		}
		key := strings.TrimSpace(ref.Author.Key)
		if key == "" {
			continue
		}
		var author authorResponse
		if err := common.GetJSON(ctx, c.client, c.endpoint+key+".json", c.userAgent, &author); err != nil {
			continue
		}
		if name := strings.TrimSpace(author.Name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// decodeDescription handles Open Library's two description shapes: a plain
// string or {"type": ..., "value": ...}.
func decodeDescription(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	var typed struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &typed); err == nil {
		return typed.Value
	}
	return ""
}
