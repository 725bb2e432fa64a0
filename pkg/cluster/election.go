// Package cluster provides optional Raft-backed leader election for
// running several hyperwatch engine replicas for availability
// (SPEC_FULL.md §11.1). It carries no engine semantics: the raft log elects
// a single leader among a fixed set of peers and replicates nothing else.
// An Election satisfies pkg/executor.LeaderGate by duck typing (IsLeader);
// this package does not import pkg/executor to avoid a cycle.
package cluster

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Peer identifies one member of the fixed election set.
type Peer struct {
	ID   string
	Addr string
}

// Config configures a single Election node.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
	Peers    []Peer // full voter set, including this node
}

// Election wraps a raft.Raft instance whose only purpose is deciding which
// of a fixed set of peers is currently the leader.
type Election struct {
	logger zerolog.Logger
	raft   *raft.Raft
}

// New bootstraps (or rejoins, if DataDir already holds state) a Raft group
// across cfg.Peers and returns an Election reporting this node's
// leadership status.
func New(logger zerolog.Logger, cfg Config) (*Election, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("cluster: create data dir: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.HeartbeatTimeout = 500 * time.Millisecond
	raftCfg.ElectionTimeout = 500 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("cluster: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("cluster: create transport: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("cluster: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("cluster: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("cluster: create stable store: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, &noopFSM{}, logStore, stableStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("cluster: create raft: %w", err)
	}

	hasState, err := raft.HasExistingState(logStore, stableStore, snapshots)
	if err != nil {
		return nil, fmt.Errorf("cluster: inspect existing state: %w", err)
	}
	if !hasState {
		servers := make([]raft.Server, len(cfg.Peers))
		for i, p := range cfg.Peers {
			servers[i] = raft.Server{ID: raft.ServerID(p.ID), Address: raft.ServerAddress(p.Addr)}
		}
		future := r.BootstrapCluster(raft.Configuration{Servers: servers})
		if err := future.Error(); err != nil {
			return nil, fmt.Errorf("cluster: bootstrap: %w", err)
		}
	}

	return &Election{logger: logger, raft: r}, nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (e *Election) IsLeader() bool {
	return e.raft.State() == raft.Leader
}

// LeaderAddress returns the address of the current leader, or "" if none is
// known right now.
func (e *Election) LeaderAddress() string {
	return string(e.raft.Leader())
}

// Shutdown gracefully leaves the Raft group.
func (e *Election) Shutdown() error {
	return e.raft.Shutdown().Error()
}
