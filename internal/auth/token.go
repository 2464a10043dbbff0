// Package auth verifies IndieAuth bearer tokens against a token endpoint.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/crypto/bcrypt"

	"micropub/api/internal/micropub"
	"micropub/api/internal/rbac"
)

// Identity is what a verified token grants.
type Identity struct {
	Me       string       `json:"me"`
	ClientID string       `json:"client_id,omitempty"`
	Scopes   []rbac.Scope `json:"scopes"`
}

// Cache remembers verified tokens by hash.
type Cache interface {
	LookupToken(ctx context.Context, tokenHash string) (Identity, bool, error)
	SaveToken(ctx context.Context, tokenHash string, identity Identity, ttl time.Duration) error
}

type Config struct {
	TokenEndpoint string
	Development   bool
	// StaticTokenHash is a bcrypt hash of a token that is accepted without
	// asking the token endpoint.
	StaticTokenHash string
	CacheTTL        time.Duration
}

type Introspector struct {
	cfg    Config
	client *http.Client
	cache  Cache
	logger *slog.Logger
}

func NewIntrospector(cfg Config, client *http.Client, cache Cache, logger *slog.Logger) *Introspector {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Introspector{cfg: cfg, client: client, cache: cache, logger: logger}
}

// Verify resolves a bearer token into the identity and scopes it carries.
func (i *Introspector) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, micropub.Unauthorized("")
	}
	if i.cfg.Development {
		return Identity{Me: "development", Scopes: rbac.AllScopes}, nil
	}
	if i.cfg.StaticTokenHash != "" &&
		bcrypt.CompareHashAndPassword([]byte(i.cfg.StaticTokenHash), []byte(token)) == nil {
		return Identity{Me: "static", Scopes: rbac.AllScopes}, nil
	}

	hash := HashToken(token)
	if i.cache != nil {
		identity, ok, err := i.cache.LookupToken(ctx, hash)
		if err != nil {
			i.logger.Warn("token cache lookup failed", "error", err)
		} else if ok {
			return identity, nil
		}
	}

	identity, err := i.introspect(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	if i.cache != nil && i.cfg.CacheTTL > 0 {
		if err := i.cache.SaveToken(ctx, hash, identity, i.cfg.CacheTTL); err != nil {
			i.logger.Warn("token cache save failed", "error", err)
		}
	}
	return identity, nil
}

func (i *Introspector) introspect(ctx context.Context, token string) (Identity, error) {
	if i.cfg.TokenEndpoint == "" {
		return Identity{}, fmt.Errorf("token endpoint not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.cfg.TokenEndpoint, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Accept", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := i.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("token endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return Identity{}, micropub.Unauthorized("")
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Identity{}, fmt.Errorf("read token response: %w", err)
	}

	fields := decodeTokenResponse(resp.Header.Get("Content-Type"), body)
	me, scope := fields.Get("me"), fields.Get("scope")
	if me == "" || scope == "" {
		return Identity{}, micropub.Forbidden("")
	}
	return Identity{Me: me, ClientID: fields.Get("client_id"), Scopes: rbac.ParseScopes(scope)}, nil
}

func decodeTokenResponse(contentType string, body []byte) url.Values {
	if mediaType, _, _ := mime.ParseMediaType(contentType); mediaType == "application/json" {
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			return url.Values{}
		}
		out := url.Values{}
		for k, v := range payload {
			if s, ok := v.(string); ok {
				out.Set(k, s)
			}
		}
		return out
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return url.Values{}
	}
	return values
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
