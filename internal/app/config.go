package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr       string
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string
	UserAgent      string

	DBPath   string
	RedisURL string

	PreviewTTL           time.Duration
	PreviewPruneInterval time.Duration

	QuotaWindow      time.Duration
	QuotaMaxRequests int

	BreakerFailureThreshold int
	BreakerBaseBackoff      time.Duration
	BreakerMaxBackoff       time.Duration

	OpenLibraryEndpoint string

	TMDBAPIKey  string
	TMDBBaseURL string

	IGDBClientID     string
	IGDBClientSecret string
	IGDBBaseURL      string
	TwitchTokenURL   string

	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyBaseURL      string
	SpotifyTokenURL     string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:      getEnv("CATALOG_USER_AGENT", "tastebuds-catalog/1.0"),

		DBPath:   getEnv("DB_PATH", "data/catalog.db"),
		RedisURL: getEnv("REDIS_URL", ""),

		PreviewTTL:           time.Duration(getEnvInt("PREVIEW_TTL_SECONDS", 300)) * time.Second,
		PreviewPruneInterval: time.Duration(getEnvInt("PREVIEW_PRUNE_INTERVAL_SECONDS", 60)) * time.Second,

		QuotaWindow:      time.Duration(getEnvInt("QUOTA_WINDOW_SECONDS", 60)) * time.Second,
		QuotaMaxRequests: getEnvInt("QUOTA_MAX_REQUESTS", 10),

		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 3),
		BreakerBaseBackoff:      time.Duration(getEnvInt("BREAKER_BASE_BACKOFF_SECONDS", 15)) * time.Second,
		BreakerMaxBackoff:       time.Duration(getEnvInt("BREAKER_MAX_BACKOFF_SECONDS", 300)) * time.Second,

		OpenLibraryEndpoint: getEnv("OPENLIBRARY_ENDPOINT", "https://openlibrary.org"),

		TMDBAPIKey:  strings.TrimSpace(os.Getenv("TMDB_API_KEY")),
		TMDBBaseURL: getEnv("TMDB_BASE_URL", "https://api.themoviedb.org/3"),

		IGDBClientID:     strings.TrimSpace(os.Getenv("IGDB_CLIENT_ID")),
		IGDBClientSecret: strings.TrimSpace(os.Getenv("IGDB_CLIENT_SECRET")),
		IGDBBaseURL:      getEnv("IGDB_BASE_URL", "https://api.igdb.com/v4"),
		TwitchTokenURL:   getEnv("TWITCH_TOKEN_URL", "https://id.twitch.tv/oauth2/token"),

		SpotifyClientID:     strings.TrimSpace(os.Getenv("SPOTIFY_CLIENT_ID")),
		SpotifyClientSecret: strings.TrimSpace(os.Getenv("SPOTIFY_CLIENT_SECRET")),
		SpotifyBaseURL:      getEnv("SPOTIFY_BASE_URL", "https://api.spotify.com/v1"),
		SpotifyTokenURL:     getEnv("SPOTIFY_TOKEN_URL", "https://accounts.spotify.com/api/token"),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
