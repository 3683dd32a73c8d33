package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape --config loads, the dbcored equivalent of
// the teacher's `warren apply -f` resource file (cmd/warren/apply.go):
// same read-file-then-yaml.Unmarshal idiom, scoped to this binary's own
// tuning knobs and peer list instead of a generic resource envelope.
type fileConfig struct {
	NodeID      uint32        `yaml:"nodeId"`
	SWIMAddr    string        `yaml:"swimAddr"`
	RaftAddr    string        `yaml:"raftAddr"`
	DataDir     string        `yaml:"dataDir"`
	MetricsAddr string        `yaml:"metricsAddr"`
	ClusterSize int           `yaml:"clusterSize"`
	Quorum      int           `yaml:"quorum"`
	Candidate   *bool         `yaml:"candidate"`
	Peers       []peerConfig  `yaml:"peers"`
	Tuning      *tuningConfig `yaml:"tuning"`
}

type peerConfig struct {
	ID       uint32 `yaml:"id"`
	SWIMAddr string `yaml:"swimAddr"`
	RaftAddr string `yaml:"raftAddr"`
}

// tuningConfig overrides the swim/raft/limbo engine defaults. Any zero
// field is left at whatever DefaultConfig already set.
type tuningConfig struct {
	SWIMProbeInterval   time.Duration `yaml:"swimProbeInterval"`
	SWIMAckTimeout      time.Duration `yaml:"swimAckTimeout"`
	RaftElectionTimeout time.Duration `yaml:"raftElectionTimeout"`
	RaftDeathTimeout    time.Duration `yaml:"raftDeathTimeout"`
	LimboWaitTimeout    time.Duration `yaml:"limboWaitTimeout"`
}

// loadFileConfig reads and parses path, following the teacher's
// apply.go: os.ReadFile then yaml.Unmarshal, wrapped errors throughout.
func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return &fc, nil
}

// toPeerSpecs converts the file's peer list to the same peerSpec shape
// --peer flags parse to, so runStart can treat both sources identically.
func (fc *fileConfig) toPeerSpecs() ([]peerSpec, error) {
	specs := make([]peerSpec, 0, len(fc.Peers))
	for _, p := range fc.Peers {
		spec, err := parsePeerSpec(fmt.Sprintf("%d,%s,%s", p.ID, p.SWIMAddr, p.RaftAddr))
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
