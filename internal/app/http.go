package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"micropub/api/internal/auth"
	"micropub/api/internal/logging"
	"micropub/api/internal/micropub"
)

const (
	maxBodyBytes   = 32 << 20
	maxMemoryBytes = 8 << 20
)

type tokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Identity, error)
}

type HTTPServer struct {
	service  *Service
	verifier tokenVerifier
	logger   *slog.Logger
	checks   map[string]func(context.Context) error
}

func NewHTTPServer(service *Service, verifier tokenVerifier, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{service: service, verifier: verifier, logger: logger, checks: map[string]func(context.Context) error{}}
}

// AddHealthCheck registers a dependency probe reported by /healthz.
func (s *HTTPServer) AddHealthCheck(name string, check func(context.Context) error) {
	s.checks[name] = check
}

func (s *HTTPServer) health(ctx context.Context) (int, map[string]any) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ok := true
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			ok = false
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	body := map[string]any{"ok": ok}
	if len(results) > 0 {
		body["checks"] = results
	}
	if !ok {
		return http.StatusServiceUnavailable, body
	}
	return http.StatusOK, body
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// incoming is a decoded request body. err is reported only after the
// caller has been authenticated.
type incoming struct {
	req         *micropub.Request
	form        url.Values
	token       string
	destination string
	err         error
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/healthz" {
		status, body := s.health(r.Context())
		writeJSON(w, status, body)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) == 0 || parts[0] != "micropub" || len(parts) > 3 {
		writeText(w, http.StatusNotFound, "Not found")
		return
	}

	var in incoming
	if r.Method == http.MethodPost {
		in = readBody(r)
	}

	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		token = in.token
	}
	if token == "" {
		s.logFrom(r).Info("request without a token")
		s.writeError(w, r, micropub.Unauthorized(""))
		return
	}
	identity, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	switch {
	case r.Method == http.MethodGet && len(parts) == 1:
		s.handleGlobalQuery(w, r)
	case r.Method == http.MethodPost && len(parts) == 1:
		site := in.destination
		if site == "" {
			writeText(w, http.StatusNotFound, "No destination")
			return
		}
		s.handlePost(w, r, identity, site, in)
	case r.Method == http.MethodGet && len(parts) == 2:
		s.handleSiteQuery(w, r, parts[1])
	case r.Method == http.MethodPost && len(parts) == 2:
		s.handlePost(w, r, identity, parts[1], in)
	case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "media":
		s.handleMedia(w, r, identity, parts[1], in)
	default:
		writeText(w, http.StatusNotFound, "Not found")
	}
}

func (s *HTTPServer) handleGlobalQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("q") {
		writeText(w, http.StatusNotFound, "Missing query")
		return
	}
	if q.Get("q") != "config" {
		s.writeError(w, r, micropub.InvalidRequest("Unsupported query: "+q.Get("q")))
		return
	}
	writeJSON(w, http.StatusOK, s.service.Config(baseURL(r)))
}

func (s *HTTPServer) handleSiteQuery(w http.ResponseWriter, r *http.Request, site string) {
	if !s.service.HasSite(site) {
		writeText(w, http.StatusNotFound, "Site not found")
		return
	}
	q := r.URL.Query()
	if !q.Has("q") {
		writeText(w, http.StatusNotFound, "Missing query for site")
		return
	}

	switch q.Get("q") {
	case "config":
		writeJSON(w, http.StatusOK, s.service.SiteConfig(baseURL(r), site))
	case "media-endpoint":
		writeJSON(w, http.StatusOK, map[string]any{"media-endpoint": mediaEndpointFor(baseURL(r), site)})
	case "syndicate-to":
		writeJSON(w, http.StatusOK, s.service.SyndicateTo())
	case "source":
		props := append(q["properties[]"], q["properties"]...)
		source, err := s.service.Source(r.Context(), site, q.Get("url"), props)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, source)
	default:
		s.writeError(w, r, micropub.InvalidRequest("Unsupported query: "+q.Get("q")))
	}
}

func (s *HTTPServer) handlePost(w http.ResponseWriter, r *http.Request, identity auth.Identity, site string, in incoming) {
	if !s.service.HasSite(site) {
		writeText(w, http.StatusNotFound, "Site not found")
		return
	}
	if in.err != nil {
		s.writeError(w, r, in.err)
		return
	}
	if in.req.Media != nil {
		s.handleMedia(w, r, identity, site, in)
		return
	}

	outcome, err := s.service.Post(r.Context(), site, identity, in.req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if outcome.Created {
		w.Header().Set("Location", outcome.Location)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleMedia(w http.ResponseWriter, r *http.Request, identity auth.Identity, site string, in incoming) {
	if !s.service.HasSite(site) {
		writeText(w, http.StatusNotFound, "Site not found")
		return
	}
	if in.err != nil {
		s.writeError(w, r, in.err)
		return
	}
	location, err := s.service.UploadMedia(r.Context(), site, identity, in.req.Media)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusCreated)
}

// readBody decodes JSON, form and multipart bodies into a request and pulls
// out the access_token and mp-destination fields.
func readBody(r *http.Request) incoming {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var in incoming
	switch mediaType {
	case "application/json":
		body, err := io.ReadAll(r.Body)
		if err != nil {
			in.err = micropub.InvalidRequest("Unreadable body")
			return in
		}
		in.req, in.err = micropub.DecodeJSON(body)
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
			in.err = micropub.InvalidRequest("Invalid multipart body")
			return in
		}
		uploads, err := readUploads(r)
		if err != nil {
			in.err = err
			return in
		}
		in.form = r.MultipartForm.Value
		in.req, in.err = micropub.DecodeForm(in.form, uploads)
	default:
		if err := r.ParseForm(); err != nil {
			in.err = micropub.InvalidRequest("Invalid form body")
			return in
		}
		in.form = r.PostForm
		in.req, in.err = micropub.DecodeForm(in.form, nil)
	}

	if in.req != nil {
		if v, ok := in.req.Properties["access_token"]; ok {
			in.token = v.String()
			delete(in.req.Properties, "access_token")
		}
		if v, ok := in.req.Properties["mp-destination"]; ok {
			in.destination = v.String()
			delete(in.req.Properties, "mp-destination")
		}
	} else if in.form != nil {
		in.destination = in.form.Get("mp-destination")
	}
	return in
}

func readUploads(r *http.Request) ([]micropub.Upload, error) {
	var uploads []micropub.Upload
	for field, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
			}
			uploads = append(uploads, micropub.Upload{
				Field:       field,
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}
	return uploads, nil
}

func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrSiteNotFound) {
		writeText(w, http.StatusNotFound, "Site not found")
		return
	}
	status, body := mapError(err)
	if status == http.StatusInternalServerError {
		s.logFrom(r).Error("request failed", "error", err)
	} else {
		s.logFrom(r).Info("request rejected", "code", body.Error, "error", err)
	}
	writeJSON(w, status, body)
}

func (s *HTTPServer) logFrom(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context(), s.logger)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		logger := s.logger.With("request_id", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(logging.WithLogger(ctx, logger))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header())
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header) {
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Location")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, message)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
