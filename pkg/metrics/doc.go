/*
Package metrics provides Prometheus metrics collection and exposition for
dbcore's three engines: SWIM membership, Raft election, and the synchronous
replication limbo queue. Every metric is a package-level variable registered
at init and updated inline by the engine that produces the state change —
there is no separate polling collector; each metric is as current as the
engine's own state.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Engine Call Sites                   │          │
	│  │                                              │          │
	│  │  pkg/swim/engine.go: round duration,        │          │
	│  │    suspects, refutations, member counts     │          │
	│  │  pkg/raft/raft.go, statemachine.go: term,   │          │
	│  │    leader flag, election outcome/duration   │          │
	│  │  pkg/limbo/queue.go: queue length, confirm  │          │
	│  │    duration, rollbacks, ownership transfers │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics (promhttp.Handler())      │          │
	│  │  - Path: /health, /ready, /live             │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

SWIM Metrics:

dbcore_swim_members_total{status}:
  - Type: Gauge
  - Description: Known SWIM members by status (alive/suspected/dead/left)
  - Updated: pkg/swim/engine.go, on every table mutation

dbcore_swim_round_duration_seconds:
  - Type: Histogram
  - Description: Time to complete one failure-detector probe round
  - Updated: pkg/swim/engine.go, end of each probe round

dbcore_swim_suspects_total:
  - Type: Counter
  - Description: Total member transitions to suspected
  - Updated: pkg/swim/engine.go, on suspicion

dbcore_swim_refutations_total:
  - Type: Counter
  - Description: Total self-refutations against false suspicion
  - Updated: pkg/swim/engine.go, on refutation

Raft Metrics:

dbcore_raft_is_leader:
  - Type: Gauge
  - Description: Whether this node is Raft leader (1=leader, 0=follower)
  - Updated: pkg/raft/raft.go:publishUpdate, on every state transition

dbcore_raft_term:
  - Type: Gauge
  - Description: Current Raft term
  - Updated: pkg/raft/raft.go:publishUpdate

dbcore_raft_elections_total{outcome}:
  - Type: Counter
  - Description: Elections started, by outcome (won/lost/preempted/split_vote)
  - Updated: pkg/raft/statemachine.go, on election resolution

dbcore_raft_split_votes_total:
  - Type: Counter
  - Description: Elections that detected a split vote
  - Updated: pkg/raft/statemachine.go

dbcore_raft_election_duration_seconds:
  - Type: Histogram
  - Description: Time from candidacy to election outcome
  - Updated: pkg/raft/statemachine.go

Limbo Metrics:

dbcore_limbo_queue_length:
  - Type: Gauge
  - Description: Entries currently in the limbo queue
  - Updated: pkg/limbo/queue.go, on submit/confirm/rollback

dbcore_limbo_confirm_duration_seconds:
  - Type: Histogram
  - Description: Time from submit to confirm for a limbo entry
  - Updated: pkg/limbo/queue.go, on confirm

dbcore_limbo_rollbacks_total:
  - Type: Counter
  - Description: Limbo entries rolled back
  - Updated: pkg/limbo/queue.go, on rollback

dbcore_limbo_ownership_transfers_total:
  - Type: Counter
  - Description: Limbo ownership transfers between Raft leaders
  - Updated: pkg/limbo/queue.go:TransferOwnership

# Usage

Updating Gauge Metrics:

	import "github.com/tarantool/dbcore/pkg/metrics"

	metrics.RaftTerm.Set(float64(term))
	metrics.RaftIsLeader.Set(1)

Updating Counter Metrics:

	metrics.SWIMSuspectsTotal.Inc()
	metrics.RaftElectionsTotal.WithLabelValues("won").Inc()

Recording Histogram Observations:

	timer := metrics.NewTimer()
	// ... run the probe round ...
	timer.ObserveDuration(metrics.SWIMRoundDuration)

Exposing the Endpoint:

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	http.ListenAndServe(":9090", mux)

# Integration Points

This package integrates with:

  - pkg/swim: membership and probe-round metrics
  - pkg/raft: term, leadership, and election metrics
  - pkg/limbo: queue length and replication-commit metrics
  - cmd/dbcored: registers component health and mounts the HTTP handlers
  - Prometheus: scrapes /metrics

# Design Patterns

Package Init Registration:
  - All metrics registered in init()
  - MustRegister panics on duplicate registration

Push, Not Pull:
  - Metrics are set at the exact call site that produces the state
    change, never recomputed from a snapshot on a timer
  - Avoids a second, possibly-stale view of engine state

Label Discipline:
  - Bounded label sets only (status, outcome) — never peer IDs or LSNs

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
