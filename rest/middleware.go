package rest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/go-chi/chi/middleware"
	ua "github.com/mileusna/useragent"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"dsp/store"
)

// Middleware constructor.
type Middleware func(http.Handler) http.Handler

// StatusResponseWriter records the status code written by a handler.
type StatusResponseWriter struct {
	statusCode int
	http.ResponseWriter
}

func NewStatusResponseWriter(w http.ResponseWriter) *StatusResponseWriter {
	return &StatusResponseWriter{ResponseWriter: w}
}

// WriteHeader writes
func (w *StatusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Code returns the written status, 200 when the handler never set one.
func (w *StatusResponseWriter) Code() int {
	if w.statusCode == 0 {
		return http.StatusOK
	}
	return w.statusCode
}

// StatusCodeClass returns the status family, e.g. "2XX".
func (w *StatusResponseWriter) StatusCodeClass() string {
	class := "XXX"
	switch w.Code() / 100 {
	case 1:
		class = "1XX"
	case 2:
		class = "2XX"
	case 3:
		class = "3XX"
	case 4:
		class = "4XX"
	case 5:
		class = "5XX"
	}
	return class
}

// MethodOverride lets clients that can only POST tunnel other verbs through
// the X-HTTP-Method header.
func MethodOverride(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if m := strings.ToUpper(strings.TrimSpace(r.Header.Get("X-HTTP-Method"))); m != "" {
				if _, ok := store.ActionForMethod(m); ok {
					r.Method = m
				}
			}
		}
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

// Logging logs each request at debug level.
func Logging(log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			statusW := NewStatusResponseWriter(w)
			defer func(start time.Time) {
				log.Debug("Request served",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", statusW.Code()),
					zap.String("user_agent", UserAgent(r)),
					zap.Duration("took", time.Since(start)))
			}(time.Now())
			next.ServeHTTP(statusW, r)
		}
		return http.HandlerFunc(fn)
	}
}

// Compress gzips responses of at least minSize bytes.
func Compress(level, minSize int) (Middleware, error) {
	wrap, err := gziphandler.NewGzipLevelAndMinSize(level, minSize)
	if err != nil {
		return nil, err
	}
	return Middleware(wrap), nil
}

func UserAgent(r *http.Request) string {
	header := r.Header.Get("User-Agent")
	if header == "" {
		return "unknown"
	}
	return ua.Parse(header).Name
}

// Metrics holds the HTTP and batch collectors.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	batches  *prometheus.CounterVec
	records  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	const namespace, subsystem = "dsp", "rest"
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Number of REST requests",
		}, []string{"resource", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "Time taken to serve REST requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"resource", "method", "status"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batches_total",
			Help:      "Number of batch writes by outcome",
		}, []string{"resource", "op", "outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_records_total",
			Help:      "Number of records submitted in batch writes",
		}, []string{"resource", "op"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.batches, m.records)
	}
	return m
}

// Middleware observes every request. The resource label is the first path
// segment below the mount point.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		statusW := NewStatusResponseWriter(w)
		defer func(start time.Time) {
			label := prometheus.Labels{
				"resource": resourceLabel(r.URL.Path),
				"method":   r.Method,
				"status":   strconv.Itoa(statusW.Code()),
			}
			m.duration.With(label).Observe(time.Since(start).Seconds())
			m.requests.With(label).Inc()
		}(time.Now())
		next.ServeHTTP(statusW, r)
	}
	return http.HandlerFunc(fn)
}

func (m *Metrics) observeBatch(resource string, op store.BatchOp, n int, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case store.IsBatchError(err):
		outcome = "partial"
	case err != nil:
		outcome = "failure"
	}
	m.batches.WithLabelValues(resource, string(op), outcome).Inc()
	m.records.WithLabelValues(resource, string(op)).Add(float64(n))
}

// resourceLabel keeps label cardinality bounded by dropping ids.
func resourceLabel(p string) string {
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimPrefix(p, "rest/")
	p = strings.TrimPrefix(p, "system/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "rest" || p == "system" {
		return "/"
	}
	return p
}
