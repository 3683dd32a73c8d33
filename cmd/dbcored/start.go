package main

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tarantool/dbcore/pkg/clock"
	"github.com/tarantool/dbcore/pkg/events"
	"github.com/tarantool/dbcore/pkg/limbo"
	"github.com/tarantool/dbcore/pkg/log"
	"github.com/tarantool/dbcore/pkg/metrics"
	"github.com/tarantool/dbcore/pkg/raft"
	"github.com/tarantool/dbcore/pkg/raftlog"
	"github.com/tarantool/dbcore/pkg/raftnet"
	"github.com/tarantool/dbcore/pkg/swim"
	"github.com/tarantool/dbcore/pkg/swimnet"
	"github.com/tarantool/dbcore/pkg/types"
	"github.com/tarantool/dbcore/pkg/vclock"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a dbcore node",
	Long: `Start joins this node to a cluster by binding SWIM and Raft sockets,
replaying any persisted Raft state, and dialing the peers named by
repeated --peer flags. The node that wins the Raft election owns the
synchronous replication limbo queue until it steps down or is outvoted.`,
	RunE: runStart,
}

func init() {
	f := startCmd.Flags()
	f.Uint32("node-id", 1, "This node's Raft/limbo peer id (must be nonzero)")
	f.String("swim-addr", "127.0.0.1:7946", "Bind address for SWIM gossip")
	f.String("raft-addr", "127.0.0.1:7950", "Bind address for Raft broadcast")
	f.String("data-dir", "./dbcore-data", "Directory for the Raft write-ahead log")
	f.String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus /metrics endpoint")
	f.StringArray("peer", nil, "Known peer as id,swim-addr,raft-addr (repeatable)")
	f.Int("cluster-size", 1, "Number of voting Raft members, for split-vote detection")
	f.Int("quorum", 1, "Raft election quorum and limbo ack quorum")
	f.Bool("candidate", true, "Whether this node may become Raft leader")
	f.String("config", "", "YAML config file (overrides the flags above where set)")
}

// peerSpec is one --peer flag's parsed value.
type peerSpec struct {
	id       types.PeerID
	swimAddr types.Addr
	raftAddr types.Addr
}

// parsePeerSpec parses "id,swim-addr,raft-addr" (commas, since each
// address already uses ':' for host:port).
func parsePeerSpec(s string) (peerSpec, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 3 {
		return peerSpec{}, fmt.Errorf("peer %q: want id,swim-addr,raft-addr", s)
	}
	id, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return peerSpec{}, fmt.Errorf("peer %q: bad id: %w", s, err)
	}
	swimAddr, err := types.ParseAddr(fields[1])
	if err != nil {
		return peerSpec{}, fmt.Errorf("peer %q: bad swim-addr: %w", s, err)
	}
	raftAddr, err := types.ParseAddr(fields[2])
	if err != nil {
		return peerSpec{}, fmt.Errorf("peer %q: bad raft-addr: %w", s, err)
	}
	return peerSpec{id: types.PeerID(id), swimAddr: swimAddr, raftAddr: raftAddr}, nil
}

// peerUUID derives a stable SWIM identity from a Raft peer id, so the
// same node presents the same UUID across restarts without persisting
// one separately (this binary has no other identity store).
func peerUUID(id types.PeerID) uuid.UUID {
	h := sha1.Sum([]byte(fmt.Sprintf("dbcore-peer-%d", id)))
	var u uuid.UUID
	copy(u[:], h[:16])
	u[6] = (u[6] & 0x0f) | 0x50 // version 5
	u[8] = (u[8] & 0x3f) | 0x80 // variant RFC 4122
	return u
}

func runStart(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	nodeID, _ := f.GetUint32("node-id")
	var self types.PeerID

	swimAddrStr, _ := f.GetString("swim-addr")
	raftAddrStr, _ := f.GetString("raft-addr")
	dataDir, _ := f.GetString("data-dir")
	metricsAddr, _ := f.GetString("metrics-addr")
	peerStrs, _ := f.GetStringArray("peer")
	clusterSize, _ := f.GetInt("cluster-size")
	quorum, _ := f.GetInt("quorum")
	candidate, _ := f.GetBool("candidate")
	configPath, _ := f.GetString("config")

	var peers []peerSpec
	for _, ps := range peerStrs {
		p, err := parsePeerSpec(ps)
		if err != nil {
			return err
		}
		peers = append(peers, p)
	}

	swimTuning := swim.DefaultConfig()
	raftTuning := raft.DefaultConfig()
	limboWaitTimeout := limbo.DefaultConfig().WaitTimeout

	if configPath != "" {
		fc, err := loadFileConfig(configPath)
		if err != nil {
			return err
		}
		if fc.NodeID != 0 {
			nodeID = fc.NodeID
		}
		if fc.SWIMAddr != "" {
			swimAddrStr = fc.SWIMAddr
		}
		if fc.RaftAddr != "" {
			raftAddrStr = fc.RaftAddr
		}
		if fc.DataDir != "" {
			dataDir = fc.DataDir
		}
		if fc.MetricsAddr != "" {
			metricsAddr = fc.MetricsAddr
		}
		if fc.ClusterSize != 0 {
			clusterSize = fc.ClusterSize
		}
		if fc.Quorum != 0 {
			quorum = fc.Quorum
		}
		if fc.Candidate != nil {
			candidate = *fc.Candidate
		}
		if len(fc.Peers) > 0 {
			filePeers, err := fc.toPeerSpecs()
			if err != nil {
				return err
			}
			peers = filePeers
		}
		if t := fc.Tuning; t != nil {
			if t.SWIMProbeInterval > 0 {
				swimTuning.ProbeInterval = t.SWIMProbeInterval
			}
			if t.SWIMAckTimeout > 0 {
				swimTuning.AckTimeout = t.SWIMAckTimeout
			}
			if t.RaftElectionTimeout > 0 {
				raftTuning.ElectionTimeout = t.RaftElectionTimeout
			}
			if t.RaftDeathTimeout > 0 {
				raftTuning.DeathTimeout = t.RaftDeathTimeout
			}
			if t.LimboWaitTimeout > 0 {
				limboWaitTimeout = t.LimboWaitTimeout
			}
		}
	}

	self = types.PeerID(nodeID)
	if nodeID == 0 {
		return fmt.Errorf("--node-id (or config nodeId) must be nonzero")
	}

	swimAddr, err := types.ParseAddr(swimAddrStr)
	if err != nil {
		return fmt.Errorf("--swim-addr: %w", err)
	}
	raftAddr, err := types.ParseAddr(raftAddrStr)
	if err != nil {
		return fmt.Errorf("--raft-addr: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Uint32("node_id", nodeID).Logger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	clk := clock.New()

	// --- SWIM membership ---
	swimTransport, err := swimnet.Bind(swimAddr)
	if err != nil {
		return fmt.Errorf("bind swim: %w", err)
	}
	swimEngine := swim.New(swim.EngineConfig{
		Config:    swimTuning,
		Clock:     clk,
		Transport: swimTransport,
		Broker:    broker,
		Logger:    logger,
		SelfUUID:  peerUUID(self),
	})
	swimEngine.Start(ctx)
	defer swimEngine.Close()
	metrics.RegisterComponent("swim", true, "")

	for _, p := range peers {
		swimEngine.AddMember(p.swimAddr, peerUUID(p.id))
	}
	log.Info(fmt.Sprintf("swim listening on %s with %d known peer(s)", swimTransport.LocalAddr(), len(peers)))

	// --- Raft leader election ---
	wal, err := raftlog.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open raft log: %w", err)
	}
	defer wal.Close()
	persisted, err := wal.Replay()
	if err != nil {
		return fmt.Errorf("replay raft log: %w", err)
	}

	raftTransport, err := raftnet.Bind(raftAddr, self, wal, logger)
	if err != nil {
		return fmt.Errorf("bind raft: %w", err)
	}
	defer raftTransport.Close()

	raftPeers := map[types.PeerID]types.Addr{self: raftAddr}
	for _, p := range peers {
		raftPeers[p.id] = p.raftAddr
	}
	raftTransport.SetPeers(raftPeers)

	raftCfg := raftTuning
	raftCfg.IsCandidate = candidate
	raftCfg.ClusterSize = clusterSize
	raftCfg.ElectionQuorum = quorum

	vclk := vclock.New()
	raftEngine := raft.New(raftCfg, self, vclk, raftTransport, clk, broker, logger)
	raftRecords := make([]raft.Record, 0, len(persisted))
	for _, r := range persisted {
		raftRecords = append(raftRecords, raft.Record{Term: r.Term, Vote: types.PeerID(r.Vote)})
	}
	raftEngine.Restore(raftRecords)
	raftTransport.SetEngine(raftEngine)
	raftTransport.Start(ctx)
	raftEngine.Start(ctx)
	defer raftEngine.Close()
	metrics.RegisterComponent("raft", true, "")
	log.Info(fmt.Sprintf("raft listening on %s, candidate=%v, quorum=%d/%d", raftTransport.LocalAddr(), candidate, quorum, clusterSize))

	// --- Limbo queue, owned by whoever Raft elects leader ---
	limboCfg := limbo.DefaultConfig()
	limboCfg.Quorum = quorum
	limboCfg.WaitTimeout = limboWaitTimeout
	limboQueue := limbo.New(limboCfg, self, clk, broker, logger)
	limboQueue.Start(ctx)
	defer limboQueue.Close()
	metrics.RegisterComponent("limbo", true, "")

	stopHeartbeat := runLeadershipWatcher(ctx, broker, self, raftTransport, limboQueue)
	defer stopHeartbeat()

	// --- Metrics endpoint ---
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server error: %v", err)
		}
	}()
	log.Info(fmt.Sprintf("metrics listening on http://%s/metrics (health/ready/live also mounted)", metricsAddr))

	log.Info("node is running, press ctrl+c to stop")
	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return nil
}
