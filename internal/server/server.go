// Package server exposes bill analysis, editing, splitting and sharing over
// HTTP with JSON bodies.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zombor/splitit/internal/auth"
	"github.com/zombor/splitit/internal/scanning"
	"github.com/zombor/splitit/internal/session"
	"github.com/zombor/splitit/internal/share"
	"github.com/zombor/splitit/internal/storage"
)

// Tokens issues and verifies anonymous session tokens
type Tokens interface {
	auth.Authenticator
	Verify(token string) (*auth.Session, error)
}

// IDGenerator generates unique prefixes for uploaded files
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (defaultIDGenerator) Generate() string {
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config holds the server settings that are not collaborators.
type Config struct {
	// PublicOrigin is the base URL share links point at
	PublicOrigin string
	// MaxUploadBytes caps multipart uploads
	MaxUploadBytes int64
	// InlineUploads sends uploads to the analyzer as data URIs rather than
	// storage keys, for analyzers that cannot read local storage
	InlineUploads bool
}

const defaultMaxUploadBytes = 20 << 20

// Server handles HTTP requests for bill splitting
type Server struct {
	tokens      Tokens
	analyzer    scanning.Analyzer
	shares      *share.Service
	uploads     storage.Storage
	metrics     *Metrics
	config      Config
	idGenerator IDGenerator
	timeSource  TimeSource
	mux         *http.ServeMux

	mu          sync.Mutex
	controllers map[string]*session.Controller
}

// NewServer creates a new Server with default mux
func NewServer(tokens Tokens, analyzer scanning.Analyzer, shares *share.Service, uploads storage.Storage, metrics *Metrics, config Config) *Server {
	return NewServerWithDeps(tokens, analyzer, shares, uploads, metrics, config, defaultIDGenerator{}, defaultTimeSource{}, http.NewServeMux())
}

// NewServerWithDeps creates a new Server with custom dependencies for testing
func NewServerWithDeps(tokens Tokens, analyzer scanning.Analyzer, shares *share.Service, uploads storage.Storage, metrics *Metrics, config Config, idGen IDGenerator, timeSrc TimeSource, mux *http.ServeMux) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = defaultMaxUploadBytes
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	s := &Server{
		tokens:      tokens,
		analyzer:    analyzer,
		shares:      shares,
		uploads:     uploads,
		metrics:     metrics,
		config:      config,
		idGenerator: idGen,
		timeSource:  timeSrc,
		mux:         mux,
		controllers: make(map[string]*session.Controller),
	}
	s.registerRoutes()
	return s
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.handle("POST /api/session", s.handleCreateSession, false)
	s.handle("POST /api/split", s.handleSplit, false)
	s.handle("GET /api/bills/{id}", s.handleGetSharedBill, false)

	s.handle("POST /api/analyze", s.handleAnalyze, true)
	s.handle("POST /api/reset", s.handleReset, true)

	s.handle("GET /api/bill", s.handleGetBill, true)
	s.handle("POST /api/bill", s.handleStartBill, true)
	s.handle("POST /api/bill/items", s.handleAddItem, true)
	s.handle("PATCH /api/bill/items/{index}", s.handleUpdateItem, true)
	s.handle("DELETE /api/bill/items/{index}", s.handleRemoveItem, true)
	s.handle("PUT /api/bill/total", s.handleSetTotal, true)
	s.handle("DELETE /api/bill/total", s.handleResetTotal, true)
	s.handle("POST /api/people/{op}", s.handlePeople, true)

	s.handle("POST /api/bills", s.handleShareBill, true)

	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

// handle registers h under pattern with request counting and, when
// authRequired, bearer token verification.
func (s *Server) handle(pattern string, h http.HandlerFunc, authRequired bool) {
	if authRequired {
		h = s.requireSession(h)
	}
	s.mux.HandleFunc(pattern, s.instrument(pattern, h))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}

// bearerToken extracts the token from an Authorization header
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", auth.ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// requireSession middleware
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, err)
			return
		}
		sess, err := s.tokens.Verify(token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				err = fmt.Errorf("%w: %w", auth.ErrInvalidToken, err)
			}
			writeError(w, err)
			return
		}
		next(w, r.WithContext(auth.WithSession(r.Context(), sess)))
	}
}

// controllerFor returns the user's controller, creating it on first use.
func (s *Server) controllerFor(sess *auth.Session) *session.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.controllers[sess.UserID]; ok {
		return c
	}

	now := s.timeSource.Now()
	for id, c := range s.controllers {
		if !c.Session().Valid(now) {
			delete(s.controllers, id)
		}
	}

	c := session.NewControllerWithDeps(s.tokens, s.analyzer, sess, s.timeSource)
	s.controllers[sess.UserID] = c
	return c
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// ServeHTTP adds CORS headers to every response and answers preflight
// requests before routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
