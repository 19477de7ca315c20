package observability

import (
	"bufio"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gunjou/api-ukai-syndrome/internal/auth"
)

type key struct {
	Method string
	Path   string
	Status int
}

type stat struct {
	Count     int64
	LatencyMS float64
}

// Collector keeps per-route request counters in memory and writes one JSON
// access log line per request.
type Collector struct {
	db *sql.DB

	mu           sync.RWMutex
	requestStats map[key]stat
	outcomes     map[string]int64
	startedAt    time.Time
}

func NewCollector(db *sql.DB) *Collector {
	return &Collector{
		db:           db,
		requestStats: make(map[key]stat),
		outcomes:     make(map[string]int64),
		startedAt:    time.Now(),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		// Auth runs deeper in the chain, so the user is read back from this holder.
		holder := &userHolder{}
		next.ServeHTTP(rec, r.WithContext(withUserHolder(r.Context(), holder)))

		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		path := normalizedPath(r.URL.Path)

		c.mu.Lock()
		k := key{Method: r.Method, Path: path, Status: rec.status}
		s := c.requestStats[k]
		s.Count++
		s.LatencyMS += latencyMS
		c.requestStats[k] = s
		if outcome := attemptOutcome(r.Method, path, rec.status); outcome != "" {
			c.outcomes[outcome]++
		}
		c.mu.Unlock()

		var userID int64
		if holder.user != nil {
			userID = holder.user.ID
		}

		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Int64("user_id", userID).
			Str("attempt_token", extractAttemptToken(r.URL.Path)).
			Str("method", r.Method).
			Str("path", path).
			Int("status", rec.status).
			Float64("latency_ms", latencyMS).
			Str("remote_ip", strings.TrimSpace(r.RemoteAddr)).
			Msg("http request")
	})
}

// CaptureUser records the authenticated user for the access log. Mount it
// after the auth middleware.
func CaptureUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := r.Context().Value(holderKey{}).(*userHolder); ok {
			if u, ok := auth.CurrentUser(r.Context()); ok {
				h.user = u
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	statsCopy := make(map[key]stat, len(c.requestStats))
	for k, v := range c.requestStats {
		statsCopy[k] = v
	}
	outcomes := make(map[string]int64, len(c.outcomes))
	for k, v := range c.outcomes {
		outcomes[k] = v
	}
	startedAt := c.startedAt
	c.mu.RUnlock()

	keys := make([]key, 0, len(statsCopy))
	for k := range statsCopy {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Status < keys[j].Status
	})

	var sb strings.Builder
	sb.WriteString("# ukai tryout metrics\n")
	sb.WriteString("# TYPE ukai_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("ukai_uptime_seconds %.0f\n", time.Since(startedAt).Seconds()))

	sb.WriteString("# TYPE ukai_http_requests_total counter\n")
	sb.WriteString("# TYPE ukai_http_request_latency_ms_sum counter\n")
	for _, k := range keys {
		s := statsCopy[k]
		labels := fmt.Sprintf("method=\"%s\",path=\"%s\",status=\"%d\"", k.Method, k.Path, k.Status)
		sb.WriteString(fmt.Sprintf("ukai_http_requests_total{%s} %d\n", labels, s.Count))
		sb.WriteString(fmt.Sprintf("ukai_http_request_latency_ms_sum{%s} %.3f\n", labels, s.LatencyMS))
	}

	outcomeNames := make([]string, 0, len(outcomes))
	for name := range outcomes {
		outcomeNames = append(outcomeNames, name)
	}
	sort.Strings(outcomeNames)
	sb.WriteString("# TYPE ukai_attempt_requests_total counter\n")
	for _, name := range outcomeNames {
		sb.WriteString(fmt.Sprintf("ukai_attempt_requests_total{outcome=\"%s\"} %d\n", name, outcomes[name]))
	}

	if c.db != nil {
		dbs := c.db.Stats()
		sb.WriteString("# TYPE ukai_db_open_connections gauge\n")
		sb.WriteString(fmt.Sprintf("ukai_db_open_connections %d\n", dbs.OpenConnections))
		sb.WriteString("# TYPE ukai_db_in_use_connections gauge\n")
		sb.WriteString(fmt.Sprintf("ukai_db_in_use_connections %d\n", dbs.InUse))
		sb.WriteString("# TYPE ukai_db_wait_count counter\n")
		sb.WriteString(fmt.Sprintf("ukai_db_wait_count %d\n", dbs.WaitCount))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// normalizedPath collapses numeric ids and attempt tokens so metrics keep a
// bounded label set.
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
			continue
		}
		if _, err := uuid.Parse(p); err == nil {
			parts[i] = "{token}"
		}
	}
	return strings.Join(parts, "/")
}

func extractAttemptToken(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "attempts" {
			if _, err := uuid.Parse(parts[i+1]); err == nil {
				return parts[i+1]
			}
		}
	}
	return ""
}

// attemptOutcome labels the mutating attempt routes by their response class.
func attemptOutcome(method, path string, status int) string {
	var op string
	switch {
	case method == http.MethodPost && strings.HasSuffix(path, "/attempts/start"):
		op = "start"
	case method == http.MethodPut && strings.Contains(path, "/answers/"):
		op = "answer"
	case method == http.MethodPost && strings.HasSuffix(path, "/submit"):
		op = "submit"
	default:
		return ""
	}
	switch {
	case status < 300:
		return op + "_ok"
	case status == http.StatusGone:
		return op + "_expired"
	case status == http.StatusConflict:
		return op + "_conflict"
	case status >= 500:
		return op + "_error"
	default:
		return op + "_rejected"
	}
}
