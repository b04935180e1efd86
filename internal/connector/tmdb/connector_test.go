package tmdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/domain"
)

func newTestServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestParseIdentifier(t *testing.T) {
	c := New(Config{APIKey: "k"})

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "movie:603", want: "movie:603"},
		{in: "tv:1396", want: "tv:1396"},
		{in: "MOVIE: 603", want: "movie:603"},
		{in: "603", want: "movie:603"},
		{in: "https://www.themoviedb.org/movie/603-the-matrix", want: "movie:603"},
		{in: "https://www.themoviedb.org/tv/1396-breaking-bad", want: "tv:1396"},
		{in: "https://www.themoviedb.org/person/6384", wantErr: true},
		{in: "movie:abc", wantErr: true},
		{in: "book:12", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := c.ParseIdentifier(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseIdentifier(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseIdentifier(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseIdentifier(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSearchFiltersToMoviesAndTV(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		"/search/multi": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("api_key"); got != "k" {
				t.Errorf("api_key = %q", got)
			}
			w.Write([]byte(`{"results":[
				{"id":603,"media_type":"movie"},
				{"id":6384,"media_type":"person"},
				{"id":1396,"media_type":"tv"},
				{"id":604,"media_type":"movie"}
			]}`))
		},
	})

	c := New(Config{APIKey: "k", BaseURL: server.URL})
	ids, err := c.Search(context.Background(), "matrix", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := []string{"movie:603", "tv:1396"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d ids, got %v", len(want), ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestFetchMovie(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		"/movie/603": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{
				"title":"The Matrix",
				"overview":"A hacker learns the truth.",
				"release_date":"1999-03-30",
				"poster_path":"/poster.jpg",
				"runtime":136,
				"original_language":"en",
				"vote_average":8.2,
				"genres":[{"name":"Action"},{"name":"Science Fiction"}]
			}`))
		},
	})

	c := New(Config{APIKey: "k", BaseURL: server.URL})
	result, err := c.Fetch(context.Background(), "movie:603")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.MediaType != domain.MediaTypeMovie {
		t.Errorf("media type = %q", result.MediaType)
	}
	if result.Title != "The Matrix" {
		t.Errorf("title = %q", result.Title)
	}
	if result.SourceID != "movie:603" {
		t.Errorf("source id = %q", result.SourceID)
	}
	if result.CoverImageURL != "https://image.tmdb.org/t/p/w500/poster.jpg" {
		t.Errorf("cover url = %q", result.CoverImageURL)
	}
	if result.CanonicalURL != "https://www.themoviedb.org/movie/603" {
		t.Errorf("canonical url = %q", result.CanonicalURL)
	}
	movie := result.Extensions.Movie
	if movie == nil {
		t.Fatal("movie extension missing")
	}
	if movie.RuntimeMinutes != 136 || movie.OriginalLanguage != "en" {
		t.Errorf("movie extension = %+v", movie)
	}
	if len(movie.Genres) != 2 || movie.Genres[0] != "Action" {
		t.Errorf("genres = %v", movie.Genres)
	}
}

func TestFetchTV(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		"/tv/1396": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{
				"name":"Breaking Bad",
				"overview":"A chemistry teacher turns to crime.",
				"first_air_date":"2008-01-20",
				"number_of_seasons":5,
				"number_of_episodes":62,
				"vote_average":8.9,
				"genres":[{"name":"Drama"}],
				"networks":[{"name":"AMC"}]
			}`))
		},
	})

	c := New(Config{APIKey: "k", BaseURL: server.URL})
	result, err := c.Fetch(context.Background(), "tv:1396")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.MediaType != domain.MediaTypeTV {
		t.Errorf("media type = %q", result.MediaType)
	}
	tv := result.Extensions.TV
	if tv == nil {
		t.Fatal("tv extension missing")
	}
	if tv.Seasons != 5 || tv.Episodes != 62 {
		t.Errorf("tv extension = %+v", tv)
	}
	if len(tv.Networks) != 1 || tv.Networks[0] != "AMC" {
		t.Errorf("networks = %v", tv.Networks)
	}
}

func TestFetchUpstream404IsNotFound(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		"/movie/999999": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status_message":"The resource you requested could not be found."}`))
		},
	})

	c := New(Config{APIKey: "k", BaseURL: server.URL})
	_, err := c.Fetch(context.Background(), "movie:999999")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchRejectsMalformedIdentifier(t *testing.T) {
	c := New(Config{APIKey: "k"})
	for _, id := range []string{"", "603", "movie:", "person:1"} {
		if _, err := c.Fetch(context.Background(), id); err == nil {
			t.Errorf("Fetch(%q): expected error", id)
		}
	}
}
