package observability

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"testlms/internal/auth"
	"testlms/internal/grading"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// Metrics owns the service registry. It also receives grading events from the
// exam service.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpLatency       *prometheus.HistogramVec
	answersGraded     *prometheus.CounterVec
	attemptsSubmitted *prometheus.CounterVec
	testsGenerated    *prometheus.CounterVec
}

func NewMetrics(db *sql.DB) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "testlms_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "testlms_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		answersGraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "testlms_answers_graded_total",
			Help: "Graded answers by question shape and outcome.",
		}, []string{"shape", "reason"}),
		attemptsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "testlms_attempts_submitted_total",
			Help: "Closed attempts by training flag and pass state.",
		}, []string{"training", "passed"}),
		testsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "testlms_tests_generated_total",
			Help: "Test generation runs by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpLatency,
		m.answersGraded,
		m.attemptsSubmitted,
		m.testsGenerated,
	)
	if db != nil {
		m.registry.MustRegister(collectors.NewDBStatsCollector(db, "testlms"))
	}
	return m
}

func (m *Metrics) AnswerGraded(kind grading.Kind, reason string) {
	m.answersGraded.WithLabelValues(string(kind), reason).Inc()
}

func (m *Metrics) AttemptSubmitted(training, passed bool) {
	m.attemptsSubmitted.WithLabelValues(strconv.FormatBool(training), strconv.FormatBool(passed)).Inc()
}

func (m *Metrics) TestGenerated(outcome string) {
	m.testsGenerated.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RequestID takes the caller's X-Request-ID or assigns a new one, and stores
// it where middleware.GetReqID finds it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type tagsKey struct{}

// requestTags is filled by inner middleware so the access log can see the
// authenticated user.
type requestTags struct {
	userID int64
}

// TagUser copies the authenticated user into the access log entry. It must
// run after auth.RequireAuth.
func TagUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tags, ok := r.Context().Value(tagsKey{}).(*requestTags); ok {
			if u, ok := auth.CurrentUser(r.Context()); ok {
				tags.userID = u.ID
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Middleware records request metrics and writes one access log line per
// request.
func (m *Metrics) Middleware(log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			tags := &requestTags{}
			r = r.WithContext(context.WithValue(r.Context(), tagsKey{}, tags))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			path := routePath(r)

			m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
			m.httpLatency.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())

			log.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Int64("user_id", tags.userID),
				zap.Int64("attempt_id", extractAttemptID(r.URL.Path)),
				zap.String("method", r.Method),
				zap.String("path", path),
				zap.Int("status", status),
				zap.Float64("latency_ms", float64(elapsed.Microseconds())/1000.0),
				zap.String("remote_ip", strings.TrimSpace(r.RemoteAddr)),
			)
		})
	}
}

// routePath prefers the matched chi pattern so label cardinality stays bounded.
func routePath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return normalizedPath(r.URL.Path)
}

func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func extractAttemptID(path string) int64 {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "attempts" {
			if id, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
				return id
			}
		}
	}
	return 0
}
