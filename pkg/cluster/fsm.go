package cluster

import (
	"io"

	"github.com/hashicorp/raft"
)

// noopFSM is the Raft finite-state machine backing Election. It applies no
// domain state — hyperwatch's raft log exists purely to elect a leader, not
// to replicate report data (SPEC_FULL.md §13 Non-goals) — so Apply,
// Snapshot and Restore are all no-ops.
type noopFSM struct{}

func (f *noopFSM) Apply(*raft.Log) interface{} { return nil }

func (f *noopFSM) Snapshot() (raft.FSMSnapshot, error) { return noopSnapshot{}, nil }

func (f *noopFSM) Restore(rc io.ReadCloser) error { return rc.Close() }

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }

func (noopSnapshot) Release() {}
