package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string
	Env  string
	// Sites configuration
	SitesPath   string
	SitesInline string
	// Repository backends
	GitHubToken  string
	GitHubAPIURL string
	ReposDir     string
	// Token verification
	RedisURL        string
	TokenCacheTTL   time.Duration
	StaticTokenHash string
	TemplatesDir    string
	LogLevel        string
	LogFormat       string
	HTTPTimeout     time.Duration
	// S3 compatible media storage
	MediaEndpoint  string
	MediaAccessKey string
	MediaSecretKey string
	MediaUseSSL    bool
	BridgyEndpoint string
}

func Load() Config {
	return Config{
		Addr:         getenv("MICROPUB_ADDR", ":4567"),
		Env:          getenv("MICROPUB_ENV", "production"),
		SitesPath:    getenv("SITES_CONFIG_PATH", "config.yml"),
		SitesInline:  getenv("SITES_CONFIG", ""),
		GitHubToken:  getenv("GITHUB_ACCESS_TOKEN", ""),
		GitHubAPIURL: getenv("GITHUB_API_URL", "https://api.github.com"),
		ReposDir:     getenv("REPOS_DIR", "./data/repos"),
		// Redis - token caching is disabled if not configured
		RedisURL:        getenv("REDIS_URL", ""),
		TokenCacheTTL:   time.Duration(getenvInt("TOKEN_CACHE_TTL_SECONDS", 300)) * time.Second,
		StaticTokenHash: getenv("STATIC_TOKEN_BCRYPT", ""),
		TemplatesDir:    getenv("TEMPLATES_DIR", ""),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogFormat:       getenv("LOG_FORMAT", "text"),
		HTTPTimeout:     time.Duration(getenvInt("HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
		MediaEndpoint:   getenv("MEDIA_S3_ENDPOINT", ""),
		MediaAccessKey:  getenv("MEDIA_S3_ACCESS_KEY", ""),
		MediaSecretKey:  getenv("MEDIA_S3_SECRET_KEY", ""),
		MediaUseSSL:     getenvBool("MEDIA_S3_USE_SSL", true),
		BridgyEndpoint:  getenv("BRIDGY_ENDPOINT", "https://brid.gy/publish/webmention"),
	}
}

// Development reports whether tokens are accepted without verification.
func (c Config) Development() bool {
	return c.Env == "development"
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
