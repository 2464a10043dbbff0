// Package syndicate sends published posts to Bridgy for re-syndication.
package syndicate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultEndpoint is Bridgy's publish webmention endpoint.
const DefaultEndpoint = "https://brid.gy/publish/webmention"

const maxPolls = 5

// Options are the Bridgy publish query flags. Bridgy accepts "true", "false"
// and, for omit_link, "maybe"; empty means "false".
type Options struct {
	OmitLink         string `yaml:"bridgy_omit_link" json:"bridgy_omit_link"`
	IgnoreFormatting string `yaml:"bridgy_ignore_formatting" json:"bridgy_ignore_formatting"`
}

// Config holds the Bridgy publish configuration
type Config struct {
	Endpoint string
	Options  Options
}

// Service polls for a published post and then asks Bridgy to syndicate it.
type Service struct {
	config Config
	client *http.Client
	logger *slog.Logger

	sleep  func(context.Context, time.Duration) error
	jitter func(n int) int
}

// NewService creates a new syndication service
func NewService(config Config, client *http.Client, logger *slog.Logger) *Service {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config: config,
		client: client,
		logger: logger,
		sleep:  sleepContext,
		jitter: rand.IntN,
	}
}

// IsConfigured returns true if there is an endpoint to publish to
func (s *Service) IsConfigured() bool {
	return s != nil && s.config.Endpoint != ""
}

// Backoff returns the wait before poll count (1-based) with the given jitter.
func Backoff(count, jitter int) time.Duration {
	secs := count*count*count*count + 15 + jitter*(count+1)
	return time.Duration(secs) * time.Second
}

// Enqueue starts one detached job per silo. The jobs outlive the request.
func (s *Service) Enqueue(location string, silos []string) {
	if !s.IsConfigured() {
		return
	}
	for _, silo := range silos {
		go func() {
			if err := s.Publish(context.Background(), location, silo); err != nil {
				s.logger.Warn("syndication failed", "location", location, "silo", silo, "error", err)
			}
		}()
	}
}

// Publish waits for location to appear and then sends the webmention.
func (s *Service) Publish(ctx context.Context, location, silo string) error {
	s.logger.Info("syndicating", "location", location, "silo", silo)

	ready := false
	for count := 1; count <= maxPolls; count++ {
		wait := Backoff(count, s.jitter(30))
		s.logger.Debug("waiting for post", "location", location, "wait", wait)
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
		if s.available(ctx, location) {
			ready = true
			break
		}
	}
	if !ready {
		s.logger.Info("post never appeared, skipping syndication", "location", location)
		return nil
	}
	return s.send(ctx, location, silo)
}

func (s *Service) available(ctx context.Context, location string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, location, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (s *Service) send(ctx context.Context, location, silo string) error {
	endpoint, err := url.Parse(s.config.Endpoint)
	if err != nil {
		return fmt.Errorf("parse bridgy endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("bridgy_omit_link", flag(s.config.Options.OmitLink))
	q.Set("bridgy_ignore_formatting", flag(s.config.Options.IgnoreFormatting))
	endpoint.RawQuery = q.Encode()

	form := url.Values{
		"source": {location},
		"target": {"https://brid.gy/publish/" + silo},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build bridgy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webmention: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		s.logger.Warn("bridgy rejected webmention", "location", location, "silo", silo, "status", resp.StatusCode)
		return nil
	}
	s.logger.Info("syndicated", "location", location, "silo", silo)
	return nil
}

func flag(v string) string {
	if v == "" {
		return "false"
	}
	return v
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
