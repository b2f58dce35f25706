// Package storage implements durable storage of the versioned Merkle tree:
// the database contract, patch sets, a key/value backed store and the
// parallel (background) persistence mode.
package storage

import (
	"sync/atomic"
	"time"

	"github.com/danijelTxFusion/treedb/types"
)

// HintedKey is a node key together with the expected kind of the node
type HintedKey struct {
	Key    types.NodeKey
	IsLeaf bool
}

// NodeKeys is a bulk lookup request
type NodeKeys []HintedKey

type (
	// Database is the contract of the durable tree store.
	//
	// Reads return (zero, nil) for absent records and an error only when a stored
	// record cannot be deserialized. ApplyPatch is atomic and blocking: the patch
	// is durable when the call returns. The store is single-writer; concurrent
	// reads against an in-flight writer are allowed.
	Database interface {
		// Manifest reads the manifest. ok == false means the store is empty
		Manifest() (manifest types.Manifest, ok bool, err error)
		// Root reads the root of the given version. ok == false means the version does not exist
		Root(version uint64) (root types.Root, ok bool, err error)
		// TreeNode reads one node. The stored node kind must match the hint
		TreeNode(key types.NodeKey, isLeaf bool) (types.Node, error)
		// TreeNodes reads nodes in bulk. The result has exactly the length of keys;
		// result[i] is the node for keys[i] or nil if absent
		TreeNodes(keys NodeKeys) []types.Node
		// StartProfiling opens a timing scope for an operation. The scope is closed with End
		StartProfiling(op ProfiledOperation) ProfilingScope
		// ApplyPatch atomically applies the patch set
		ApplyPatch(patch *PatchSet) error
	}

	// PruneDatabase extends Database with garbage collection of stale node records
	PruneDatabase interface {
		Database
		// MinStaleKeyVersion is the smallest version with stale keys recorded, if any
		MinStaleKeyVersion() (uint64, bool)
		// StaleKeys lists node keys recorded as stale at the version
		StaleKeys(version uint64) []types.NodeKey
		// Prune atomically removes pruned nodes and stale key records
		Prune(patch *PrunePatchSet) error
	}
)

//----------------------------------------------------------------------------
// profiling

// ProfiledOperation identifies a profiled store operation
type ProfiledOperation byte

const (
	ProfileLoadManifest = ProfiledOperation(iota)
	ProfileLoadRoot
	ProfileLoadNode
	ProfileLoadNodes
	ProfileApplyPatch
	ProfilePrune

	numProfiledOperations = int(iota)
)

func (op ProfiledOperation) String() string {
	switch op {
	case ProfileLoadManifest:
		return "load_manifest"
	case ProfileLoadRoot:
		return "load_root"
	case ProfileLoadNode:
		return "load_node"
	case ProfileLoadNodes:
		return "load_nodes"
	case ProfileApplyPatch:
		return "apply_patch"
	case ProfilePrune:
		return "prune"
	}
	return "unknown"
}

// ProfilingScope measures one operation from StartProfiling until End.
// End must be called exactly once
type ProfilingScope interface {
	End()
}

// OperationStats are aggregate timings of one operation kind
type OperationStats struct {
	Count        uint64
	TotalElapsed time.Duration
}

// profileStats aggregates scopes lock-free; scopes may End on any goroutine
type profileStats struct {
	count   [numProfiledOperations]atomic.Uint64
	totalNS [numProfiledOperations]atomic.Int64
}

type timingScope struct {
	stats   *profileStats
	op      ProfiledOperation
	started time.Time
}

func (s *profileStats) start(op ProfiledOperation) ProfilingScope {
	return &timingScope{stats: s, op: op, started: time.Now()}
}

func (s *timingScope) End() {
	s.stats.count[s.op].Add(1)
	s.stats.totalNS[s.op].Add(int64(time.Since(s.started)))
}

func (s *profileStats) snapshot() map[string]OperationStats {
	ret := make(map[string]OperationStats, numProfiledOperations)
	for op := 0; op < numProfiledOperations; op++ {
		count := s.count[op].Load()
		if count == 0 {
			continue
		}
		ret[ProfiledOperation(op).String()] = OperationStats{
			Count:        count,
			TotalElapsed: time.Duration(s.totalNS[op].Load()),
		}
	}
	return ret
}
