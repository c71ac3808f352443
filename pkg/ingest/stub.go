package ingest

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"logbench/pkg/workload"
)

const defaultRecentLimit = 100

// StubOptions configures the in-memory ingestion service.
type StubOptions struct {
	// Latency is added to every write before it is answered.
	Latency time.Duration
	// FailureRate is the fraction of writes answered with 503, in [0, 1].
	FailureRate float64
	// MaxPerDevice caps the records retained per device; older ones are dropped.
	MaxPerDevice int
	Seed         int64
}

// Store is the in-memory state of the stub service.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	byDevice map[string][]StoredLog
	byLevel  map[string]int64
	total    int64
	limit    int
}

// NewStore creates an empty store retaining at most limit records per device
// (0 for unlimited).
func NewStore(limit int) *Store {
	return &Store{
		byDevice: make(map[string][]StoredLog),
		byLevel:  make(map[string]int64),
		limit:    limit,
	}
}

// Add stores records and returns how many were accepted.
func (s *Store) Add(items ...workload.WorkItem) int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		s.nextID++
		logs := append(s.byDevice[item.DeviceID], StoredLog{
			ID:         s.nextID,
			DeviceID:   item.DeviceID,
			Level:      item.Level,
			Message:    item.Message,
			Data:       item.Data,
			ReceivedAt: now,
		})
		if s.limit > 0 && len(logs) > s.limit {
			logs = logs[len(logs)-s.limit:]
		}
		s.byDevice[item.DeviceID] = logs
		s.byLevel[item.Level]++
		s.total++
	}
	return len(items)
}

// Recent returns up to limit records of a device, newest first.
func (s *Store) Recent(deviceID string, limit int) []StoredLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := s.byDevice[deviceID]
	n := min(limit, len(logs))
	out := make([]StoredLog, 0, n)
	for i := len(logs) - 1; i >= len(logs)-n; i-- {
		out = append(out, logs[i])
	}
	return out
}

// Stats returns the aggregate counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byLevel := make(map[string]int64, len(s.byLevel))
	for k, v := range s.byLevel {
		byLevel[k] = v
	}
	return Stats{TotalLogs: s.total, Devices: len(s.byDevice), LogsByLevel: byLevel}
}

type stub struct {
	store  *Store
	opts   StubOptions
	logger zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	received *prometheus.CounterVec
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewStubRouter builds the HTTP handler of an in-memory ingestion service.
// Its counters are registered with reg and served at /metrics.
func NewStubRouter(store *Store, opts StubOptions, reg *prometheus.Registry, logger zerolog.Logger) http.Handler {
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	s := &stub{
		store:  store,
		opts:   opts,
		logger: logger,
		rng:    rand.New(rand.NewSource(opts.Seed)),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logs_received_total",
			Help: "Log records accepted.",
		}, []string{"level"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests handled.",
		}, []string{"endpoint", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time spent answering HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
	reg.MustRegister(s.received, s.requests, s.latency)

	r := mux.NewRouter()
	r.HandleFunc(PathLog, s.timed(PathLog, s.handleLog)).Methods(http.MethodPost)
	r.HandleFunc(PathBatch, s.timed(PathBatch, s.handleBatch)).Methods(http.MethodPost)
	r.HandleFunc(PathLogs, s.timed(PathLogs, s.handleRecent)).Methods(http.MethodGet)
	r.HandleFunc(PathStats, s.timed(PathStats, s.handleStats)).Methods(http.MethodGet)
	r.HandleFunc(PathHealth, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}

func (s *stub) timed(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	observer := s.latency.WithLabelValues(endpoint)
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		observer.Observe(time.Since(start).Seconds())
	}
}

// admit applies the configured latency and decides whether a write fails.
func (s *stub) admit(r *http.Request) bool {
	if s.opts.Latency > 0 {
		select {
		case <-time.After(s.opts.Latency):
		case <-r.Context().Done():
			return false
		}
	}
	if s.opts.FailureRate <= 0 {
		return true
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() >= s.opts.FailureRate
}

func (s *stub) handleLog(w http.ResponseWriter, r *http.Request) {
	var item workload.WorkItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		s.fail(w, PathLog, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if msg := validate(item); msg != "" {
		s.fail(w, PathLog, http.StatusUnprocessableEntity, msg)
		return
	}
	if !s.admit(r) {
		s.fail(w, PathLog, http.StatusServiceUnavailable, "injected failure")
		return
	}

	s.store.Add(item)
	s.received.WithLabelValues(item.Level).Inc()
	s.requests.WithLabelValues(PathLog, "200").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}

func (s *stub) handleBatch(w http.ResponseWriter, r *http.Request) {
	var batch workload.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		s.fail(w, PathBatch, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(batch.Logs) == 0 {
		s.fail(w, PathBatch, http.StatusBadRequest, "logs must not be empty")
		return
	}
	for _, item := range batch.Logs {
		if msg := validate(item); msg != "" {
			s.fail(w, PathBatch, http.StatusUnprocessableEntity, msg)
			return
		}
	}
	if !s.admit(r) {
		s.fail(w, PathBatch, http.StatusServiceUnavailable, "injected failure")
		return
	}

	n := s.store.Add(batch.Logs...)
	for _, item := range batch.Logs {
		s.received.WithLabelValues(item.Level).Inc()
	}
	s.requests.WithLabelValues(PathBatch, "200").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted", "count": n})
}

func (s *stub) handleRecent(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]

	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(w, PathLogs, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	logs := s.store.Recent(deviceID, limit)
	s.requests.WithLabelValues(PathLogs, "200").Inc()
	writeJSON(w, http.StatusOK, RecentLogs{DeviceID: deviceID, Count: len(logs), Logs: logs})
}

func (s *stub) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.requests.WithLabelValues(PathStats, "200").Inc()
	writeJSON(w, http.StatusOK, s.store.Stats())
}

// fail answers with a plain text body, which clients keep as the error description.
func (s *stub) fail(w http.ResponseWriter, endpoint string, status int, msg string) {
	s.requests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	s.logger.Debug().Str("endpoint", endpoint).Int("status", status).Str("error", msg).Msg("Rejected request")
	http.Error(w, msg, status)
}

func validate(item workload.WorkItem) string {
	if item.DeviceID == "" {
		return "device_id is required"
	}
	if !slices.Contains(workload.Levels, item.Level) {
		return "unknown log_level " + strconv.Quote(item.Level)
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
