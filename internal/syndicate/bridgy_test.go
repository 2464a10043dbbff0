package syndicate

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, endpoint string, waits *[]time.Duration) *Service {
	t.Helper()
	svc := NewService(Config{Endpoint: endpoint, Options: Options{OmitLink: "maybe"}}, nil, quietLogger())
	svc.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	svc.jitter = func(int) int { return 0 }
	return svc
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 16*time.Second, Backoff(1, 0))
	assert.Equal(t, 31*time.Second+60*time.Second, Backoff(2, 20))
	assert.Equal(t, time.Duration(625+15+29*6)*time.Second, Backoff(5, 29))
}

func TestPublishSendsWebmention(t *testing.T) {
	var heads atomic.Int32
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		if heads.Add(1) < 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer site.Close()

	var got struct {
		source, target, omit, ignore string
	}
	bridgy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got.source = r.PostForm.Get("source")
		got.target = r.PostForm.Get("target")
		got.omit = r.URL.Query().Get("bridgy_omit_link")
		got.ignore = r.URL.Query().Get("bridgy_ignore_formatting")
		w.WriteHeader(http.StatusCreated)
	}))
	defer bridgy.Close()

	var waits []time.Duration
	svc := newTestService(t, bridgy.URL, &waits)

	location := site.URL + "/2017/07/02/hello"
	require.NoError(t, svc.Publish(context.Background(), location, "twitter"))

	assert.Equal(t, []time.Duration{Backoff(1, 0), Backoff(2, 0)}, waits)
	assert.Equal(t, location, got.source)
	assert.Equal(t, "https://brid.gy/publish/twitter", got.target)
	assert.Equal(t, "maybe", got.omit)
	assert.Equal(t, "false", got.ignore)
}

func TestPublishGivesUpWhenPostNeverAppears(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer site.Close()

	var posted atomic.Bool
	bridgy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted.Store(true)
	}))
	defer bridgy.Close()

	var waits []time.Duration
	svc := newTestService(t, bridgy.URL, &waits)

	require.NoError(t, svc.Publish(context.Background(), site.URL+"/missing", "github"))
	assert.Len(t, waits, maxPolls)
	assert.False(t, posted.Load())
}

func TestPublishStopsOnCancel(t *testing.T) {
	svc := NewService(Config{}, nil, quietLogger())
	svc.jitter = func(int) int { return 0 }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := svc.Publish(ctx, "http://example.invalid/post", "twitter")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBridgyRejectionIsNotAnError(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer site.Close()
	bridgy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no"}`, http.StatusBadRequest)
	}))
	defer bridgy.Close()

	var waits []time.Duration
	svc := newTestService(t, bridgy.URL, &waits)
	assert.NoError(t, svc.Publish(context.Background(), site.URL, "twitter"))
	assert.Len(t, waits, 1)
}

func TestEnqueueRunsDetached(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer site.Close()

	done := make(chan string, 2)
	bridgy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		done <- r.PostForm.Get("target")
		w.WriteHeader(http.StatusCreated)
	}))
	defer bridgy.Close()

	svc := NewService(Config{Endpoint: bridgy.URL}, nil, quietLogger())
	svc.sleep = func(context.Context, time.Duration) error { return nil }
	svc.jitter = func(int) int { return 0 }

	svc.Enqueue(site.URL, []string{"twitter", "github"})

	var targets []string
	for range 2 {
		select {
		case target := <-done:
			targets = append(targets, target)
		case <-time.After(5 * time.Second):
			t.Fatal("syndication did not run")
		}
	}
	assert.ElementsMatch(t, []string{"https://brid.gy/publish/twitter", "https://brid.gy/publish/github"}, targets)
}
