package metrics

import (
	"net/http"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "warden"

// Recorder counts protection core decisions. It implements services.SecurityMetrics.
type Recorder struct {
	admissions    *prometheus.CounterVec
	failures      prometheus.Counter
	blocks        *prometheus.CounterVec
	sessionsEnded *prometheus.CounterVec
}

// NewRecorder creates the counters and registers them on reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_decisions_total",
			Help:      "Login admission decisions by outcome.",
		}, []string{"outcome"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_attempts_total",
			Help:      "Failed credential checks recorded by the lockout engine.",
		}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_applied_total",
			Help:      "Account blocks applied by type.",
		}, []string{"type"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions ended by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(r.admissions, r.failures, r.blocks, r.sessionsEnded)
	return r
}

func (r *Recorder) AdmissionDecided(outcome string) { r.admissions.WithLabelValues(outcome).Inc() }
func (r *Recorder) FailureRecorded()                { r.failures.Inc() }
func (r *Recorder) BlockApplied(kind string)        { r.blocks.WithLabelValues(kind).Inc() }
func (r *Recorder) SessionEnded(reason string)      { r.sessionsEnded.WithLabelValues(reason).Inc() }

// StatsSource provides the aggregate view exported as gauges
type StatsSource interface {
	Stats() models.SecurityStats
}

// DropCounter reports audit/alert items dropped by the dispatcher
type DropCounter interface {
	Dropped() int64
}

type stateCollector struct {
	source  StatsSource
	dropper DropCounter

	activeBlocks       *prometheus.Desc
	activeSessions     *prometheus.Desc
	usersWithFailures  *prometheus.Desc
	monitoredAccounts  *prometheus.Desc
	pendingInvalidated *prometheus.Desc
	failuresTracked    *prometheus.Desc
	eventsDropped      *prometheus.Desc
}

// NewStateCollector exports the current lockout and session state. dropper may be nil.
func NewStateCollector(source StatsSource, dropper DropCounter) prometheus.Collector {
	return &stateCollector{
		source:  source,
		dropper: dropper,
		activeBlocks: prometheus.NewDesc(namespace+"_active_blocks",
			"Accounts currently blocked by type.", []string{"type"}, nil),
		activeSessions: prometheus.NewDesc(namespace+"_active_sessions",
			"Live sessions.", nil, nil),
		usersWithFailures: prometheus.NewDesc(namespace+"_users_with_failures",
			"Usernames with failed attempts in the current cycle.", nil, nil),
		monitoredAccounts: prometheus.NewDesc(namespace+"_monitored_accounts",
			"Usernames with recorded source address history.", nil, nil),
		pendingInvalidated: prometheus.NewDesc(namespace+"_pending_invalidations",
			"Session invalidation marks not yet expired.", nil, nil),
		failuresTracked: prometheus.NewDesc(namespace+"_failed_attempts_tracked",
			"Failed attempts currently held in the ledger.", nil, nil),
		eventsDropped: prometheus.NewDesc(namespace+"_dispatcher_dropped_total",
			"Audit events and alerts dropped on a full queue.", nil, nil),
	}
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeBlocks
	ch <- c.activeSessions
	ch <- c.usersWithFailures
	ch <- c.monitoredAccounts
	ch <- c.pendingInvalidated
	ch <- c.failuresTracked
	ch <- c.eventsDropped
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.activeBlocks, prometheus.GaugeValue, float64(stats.Lockout.TemporaryBlocks), "temporary")
	ch <- prometheus.MustNewConstMetric(c.activeBlocks, prometheus.GaugeValue, float64(stats.Lockout.PermanentBlocks), "permanent")
	ch <- prometheus.MustNewConstMetric(c.activeSessions, prometheus.GaugeValue, float64(stats.Sessions.ActiveSessions))
	ch <- prometheus.MustNewConstMetric(c.usersWithFailures, prometheus.GaugeValue, float64(stats.Lockout.UsersWithFailures))
	ch <- prometheus.MustNewConstMetric(c.monitoredAccounts, prometheus.GaugeValue, float64(stats.Lockout.MonitoredAccounts))
	ch <- prometheus.MustNewConstMetric(c.pendingInvalidated, prometheus.GaugeValue, float64(stats.Sessions.PendingInvalidated))
	ch <- prometheus.MustNewConstMetric(c.failuresTracked, prometheus.GaugeValue, float64(stats.Operational.TotalFailuresTracked))

	var dropped int64
	if c.dropper != nil {
		dropped = c.dropper.Dropped()
	}
	ch <- prometheus.MustNewConstMetric(c.eventsDropped, prometheus.CounterValue, float64(dropped))
}

// NewRegistry returns a registry carrying the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	_ = reg.Register(collectors.NewGoCollector())
	_ = reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves reg behind a static bearer token. An empty token rejects every request.
func Handler(reg *prometheus.Registry, token string) http.Handler {
	return requireMetricsAuth(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), token)
}

func requireMetricsAuth(next http.Handler, token string) http.Handler {
	token = strings.TrimSpace(token)
	if token == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
	expected := "Bearer " + token
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != expected {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
