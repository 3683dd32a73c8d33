package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SWIM membership metrics (spec §4.1a).
	SWIMMembersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbcore_swim_members_total",
			Help: "Total number of known SWIM members by status",
		},
		[]string{"status"},
	)

	SWIMRoundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbcore_swim_round_duration_seconds",
			Help:    "Time taken to complete one failure-detector probe round",
			Buckets: prometheus.DefBuckets,
		},
	)

	SWIMSuspectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbcore_swim_suspects_total",
			Help: "Total number of times a member transitioned to suspected",
		},
	)

	SWIMRefutationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbcore_swim_refutations_total",
			Help: "Total number of self-refutations against false suspicion",
		},
	)

	// Raft election metrics (spec §4.5a).
	RaftIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbcore_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbcore_raft_term",
			Help: "Current Raft term",
		},
	)

	RaftElectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbcore_raft_elections_total",
			Help: "Total number of elections started, by outcome",
		},
		[]string{"outcome"},
	)

	RaftSplitVotesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbcore_raft_split_votes_total",
			Help: "Total number of elections that detected a split vote",
		},
	)

	RaftElectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbcore_raft_election_duration_seconds",
			Help:    "Time taken from candidacy to election outcome",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Limbo replication metrics (spec §4.6a).
	LimboQueueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbcore_limbo_queue_length",
			Help: "Number of entries currently in the limbo queue",
		},
	)

	LimboConfirmDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbcore_limbo_confirm_duration_seconds",
			Help:    "Time from submit to confirm for a limbo entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	LimboRollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbcore_limbo_rollbacks_total",
			Help: "Total number of limbo entries rolled back",
		},
	)

	LimboOwnershipTransfersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbcore_limbo_ownership_transfers_total",
			Help: "Total number of limbo ownership transfers",
		},
	)
)

func init() {
	prometheus.MustRegister(SWIMMembersTotal)
	prometheus.MustRegister(SWIMRoundDuration)
	prometheus.MustRegister(SWIMSuspectsTotal)
	prometheus.MustRegister(SWIMRefutationsTotal)

	prometheus.MustRegister(RaftIsLeader)
	prometheus.MustRegister(RaftTerm)
	prometheus.MustRegister(RaftElectionsTotal)
	prometheus.MustRegister(RaftSplitVotesTotal)
	prometheus.MustRegister(RaftElectionDuration)

	prometheus.MustRegister(LimboQueueLength)
	prometheus.MustRegister(LimboConfirmDuration)
	prometheus.MustRegister(LimboRollbacksTotal)
	prometheus.MustRegister(LimboOwnershipTransfersTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
