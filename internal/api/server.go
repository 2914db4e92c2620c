// Package api exposes a DB over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/spatialdb/internal/docstore"
	"github.com/sells-group/spatialdb/internal/errs"
	"github.com/sells-group/spatialdb/internal/feature"
	"github.com/sells-group/spatialdb/internal/geodb"
	"github.com/sells-group/spatialdb/internal/predicate"
)

const maxBodyBytes = 64 << 20

// DB is the subset of *geodb.DB the server calls.
type DB interface {
	Add(ctx context.Context, f *feature.Feature, opts docstore.WriteOptions) (docstore.Result, error)
	Load(ctx context.Context, fs []*feature.Feature, opts docstore.WriteOptions) ([]docstore.BulkResult, error)
	Remove(ctx context.Context, id string) (docstore.Result, error)
	Unload(ctx context.Context, ids []string) ([]docstore.BulkResult, error)
	Get(ctx context.Context, id string) (*feature.Feature, error)
	Query(ctx context.Context, rel predicate.Relation, q geom.T) ([]string, error)
	Verify(ctx context.Context) (*geodb.Report, error)
}

// Options configures the middleware stack.
type Options struct {
	// RateLimit is the allowed requests per second. Zero disables limiting.
	RateLimit   float64
	RateBurst   int
	CORSOrigins []string
}

// server routes HTTP requests to a DB.
type server struct {
	db  DB
	log *zap.Logger
}

// NewRouter builds the chi router for db.
func NewRouter(db DB, opts Options) http.Handler {
	s := &server{db: db, log: zap.L().With(zap.String("component", "api"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		r.Use(limit(rate.NewLimiter(rate.Limit(opts.RateLimit), burst)))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/features", func(r chi.Router) {
		r.Post("/", s.add)
		r.Post("/_bulk", s.load)
		r.Post("/_unload", s.unload)
		r.Get("/{id}", s.get)
		r.Delete("/{id}", s.remove)
	})
	r.Post("/query/{relation}", s.query)
	r.Get("/index/verify", s.verify)
	return r
}

func (s *server) add(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	f, err := feature.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.db.Add(r.Context(), f, writeOptions(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *server) load(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	fs, err := feature.ParseMany(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	results, err := s.db.Load(r.Context(), fs, writeOptions(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkResponse(results))
}

func (s *server) unload(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	results, err := s.db.Unload(r.Context(), req.IDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkResponse(results))
}

func (s *server) get(w http.ResponseWriter, r *http.Request) {
	f, err := s.db.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *server) remove(w http.ResponseWriter, r *http.Request) {
	res, err := s.db.Remove(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) query(w http.ResponseWriter, r *http.Request) {
	rel, err := predicate.ParseRelation(chi.URLParam(r, "relation"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	g, err := feature.ParseGeometry(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ids, err := s.db.Query(r.Context(), rel, g)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"ids": ids})
}

func (s *server) verify(w http.ResponseWriter, r *http.Request) {
	report, err := s.db.Verify(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return nil, false
	}
	return body, true
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, err)
}

// StatusOf maps an error to its HTTP status code.
func StatusOf(err error) int {
	switch {
	case errs.IsKind[*errs.RollbackError](err):
		return http.StatusInternalServerError
	case errs.IsKind[*errs.ExtractionError](err),
		errs.IsKind[*errs.PredicateError](err),
		errs.IsKind[*errs.UnknownRelationError](err),
		errors.Is(err, docstore.ErrMissingID),
		errors.Is(err, docstore.ErrBadRev):
		return http.StatusBadRequest
	case errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, docstore.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, geodb.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeOptions(r *http.Request) docstore.WriteOptions {
	return docstore.WriteOptions{KeepRevs: r.URL.Query().Get("new_edits") == "false"}
}

type bulkEntry struct {
	ID    string `json:"id,omitempty"`
	Rev   string `json:"rev,omitempty"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func bulkResponse(results []docstore.BulkResult) []bulkEntry {
	out := make([]bulkEntry, len(results))
	for i, r := range results {
		out[i] = bulkEntry{ID: r.ID, Rev: r.Rev, OK: r.OK()}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func limit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
