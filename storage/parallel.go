package storage

import (
	"sync/atomic"
	"time"

	"github.com/danijelTxFusion/treedb/common"
	"github.com/danijelTxFusion/treedb/types"
	"golang.org/x/xerrors"
)

// persistenceCommand is one buffered persistence unit: the manifest, the partial
// patch of the updated version and the keys that became stale. Immutable once
// constructed. The persisted flag is set by the persistence loop strictly after
// the underlying store absorbed the command; readers treat a set flag as
// "the store already has this or something newer"
type persistenceCommand struct {
	manifest  types.Manifest
	patch     *PartialPatchSet
	staleKeys []types.NodeKey
	persisted atomic.Bool
}

const syncPollInterval = 50 * time.Millisecond

// ParallelDatabase persists patch sets on a background goroutine. Not yet applied
// commands are buffered in a bounded FIFO and are consulted by all read methods,
// newest first, before falling through to the underlying store.
//
// Assumptions:
//   - this is the only mutable handle of the underlying store;
//   - every patch set updates the same tree version (e.g. the tree is being recovered);
//   - the application tolerates the latest buffered changes being dropped on failure.
type ParallelDatabase struct {
	inner          PruneDatabase
	updatedVersion uint64
	commands       chan *persistenceCommand
	done           chan struct{} // closed when the persistence loop exits
	persistErr     error         // written once before done is closed
	// mirror keeps every sent command, oldest first, for read-through.
	// Persisted entries form a prefix and are garbage-collected in ApplyPatch.
	// Only the producer goroutine touches the mirror
	mirror []*persistenceCommand
}

var _ PruneDatabase = &ParallelDatabase{}

// NewParallelDatabase starts the persistence loop over the store handle.
// bufferCapacity bounds the number of in-flight commands: ApplyPatch blocks
// when the buffer is full, trading throughput for memory
func NewParallelDatabase(inner PruneDatabase, updatedVersion uint64, bufferCapacity int) *ParallelDatabase {
	common.Assertf(bufferCapacity > 0, "wrong buffer capacity %d", bufferCapacity)
	ret := &ParallelDatabase{
		inner:          inner,
		updatedVersion: updatedVersion,
		commands:       make(chan *persistenceCommand, bufferCapacity),
		done:           make(chan struct{}),
		mirror:         make([]*persistenceCommand, 0, bufferCapacity),
	}
	go ret.runPersistence()
	return ret
}

// runPersistence consumes commands in FIFO order and applies each one to the
// underlying store. A command is marked persisted only after ApplyPatch returned:
// otherwise readers could see a state in which neither the buffer nor the store
// contains the command
func (p *ParallelDatabase) runPersistence() {
	defer close(p.done)
	for command := range p.commands {
		patch := &PatchSet{
			manifest:           command.manifest,
			patchesByVersion:   map[uint64]*PartialPatchSet{p.updatedVersion: command.patch},
			updatedVersion:     p.updatedVersion,
			hasUpdatedVersion:  true,
			staleKeysByVersion: map[uint64][]types.NodeKey{p.updatedVersion: command.staleKeys},
		}
		if err := p.inner.ApplyPatch(patch); err != nil {
			p.persistErr = xerrors.Errorf("persisting patch for version %d: %w", p.updatedVersion, err)
			return
		}
		command.persisted.Store(true)
	}
}

// persistenceFailure reports why the persistence loop is gone. Must only be
// called after done is closed
func (p *ParallelDatabase) persistenceFailure() error {
	if p.persistErr != nil {
		return p.persistErr
	}
	return xerrors.New("persistence loop terminated unexpectedly")
}

// gcMirror drops the already persisted prefix of the mirror
func (p *ParallelDatabase) gcMirror() {
	i := 0
	for i < len(p.mirror) && p.mirror[i].persisted.Load() {
		p.mirror[i] = nil
		i++
	}
	p.mirror = p.mirror[i:]
}

// ApplyPatch splits the patch set into a compact persistence command, enqueues it
// and returns. The patch set must either update the predefined version, or be
// manifest-only; anything else is a programming error of the caller.
// Blocks iff the command buffer is full
func (p *ParallelDatabase) ApplyPatch(patch *PatchSet) error {
	var partial *PartialPatchSet
	if patch.hasUpdatedVersion {
		common.Assertf(patch.updatedVersion == p.updatedVersion,
			"unsupported update: must update predefined version %d", p.updatedVersion)
		common.Assertf(len(patch.patchesByVersion) == 1,
			"unsupported update: must *only* update version %d", patch.updatedVersion)
		partial = patch.patchesByVersion[p.updatedVersion]
		common.Assertf(partial != nil, "patch set invariant violated: missing patch for the updated version")

		p.gcMirror()
	} else {
		// only manifest updates are supported without a version
		common.Assertf(len(patch.patchesByVersion) == 0,
			"unsupported update: a patch without the updated version must be manifest-only")
		partial = emptyPartialPatchSet()
	}

	common.Assertf(len(patch.staleKeysByVersion) == 0 ||
		(len(patch.staleKeysByVersion) == 1 && patch.staleKeysByVersion[p.updatedVersion] != nil),
		"unsupported update: stale keys must belong to version %d", p.updatedVersion)

	command := &persistenceCommand{
		manifest:  patch.manifest,
		patch:     partial,
		staleKeys: patch.staleKeysByVersion[p.updatedVersion],
	}
	// enqueue first, mirror second: the command must never be observable in the
	// mirror without being owned by the persistence loop
	select {
	case <-p.done:
		return p.persistenceFailure()
	default:
	}
	select {
	case p.commands <- command:
	case <-p.done:
		return p.persistenceFailure()
	}
	p.mirror = append(p.mirror, command)
	return nil
}

func (p *ParallelDatabase) Manifest() (types.Manifest, bool, error) {
	for i := len(p.mirror) - 1; i >= 0; i-- {
		command := p.mirror[i]
		if command.persisted.Load() {
			continue
		}
		return command.manifest, true, nil
	}
	return p.inner.Manifest()
}

func (p *ParallelDatabase) Root(version uint64) (types.Root, bool, error) {
	if version != p.updatedVersion {
		return p.inner.Root(version)
	}
	for i := len(p.mirror) - 1; i >= 0; i-- {
		command := p.mirror[i]
		if command.persisted.Load() {
			continue
		}
		if command.patch.root != nil {
			return *command.patch.root, true, nil
		}
	}
	return p.inner.Root(version)
}

func (p *ParallelDatabase) TreeNode(key types.NodeKey, isLeaf bool) (types.Node, error) {
	if key.Version != p.updatedVersion {
		return p.inner.TreeNode(key, isLeaf)
	}
	for i := len(p.mirror) - 1; i >= 0; i-- {
		command := p.mirror[i]
		if command.persisted.Load() {
			continue
		}
		if node, ok := command.patch.nodes[key]; ok {
			common.Assertf(node.IsLeaf() == isLeaf, "node %s: buffered kind does not match the requested one", key)
			return node, nil
		}
	}
	return p.inner.TreeNode(key, isLeaf)
}

func (p *ParallelDatabase) TreeNodes(keys NodeKeys) []types.Node {
	nodes := make([]types.Node, len(keys))
	for i := len(p.mirror) - 1; i >= 0; i-- {
		command := p.mirror[i]
		if command.persisted.Load() {
			continue
		}
		for idx, hinted := range keys {
			if nodes[idx] != nil {
				continue
			}
			if node, ok := command.patch.nodes[hinted.Key]; ok {
				common.Assertf(node.IsLeaf() == hinted.IsLeaf,
					"node %s: buffered kind does not match the requested one", hinted.Key)
				nodes[idx] = node
			}
		}
	}

	// load missing nodes from the underlying store, preserving positions
	missingIdx := make([]int, 0, len(keys))
	missingKeys := make(NodeKeys, 0, len(keys))
	for idx, hinted := range keys {
		if nodes[idx] == nil {
			missingIdx = append(missingIdx, idx)
			missingKeys = append(missingKeys, hinted)
		}
	}
	if len(missingKeys) == 0 {
		return nodes
	}
	innerNodes := p.inner.TreeNodes(missingKeys)
	for j, idx := range missingIdx {
		nodes[idx] = innerNodes[j]
	}
	return nodes
}

func (p *ParallelDatabase) StartProfiling(op ProfiledOperation) ProfilingScope {
	return p.inner.StartProfiling(op)
}

// MinStaleKeyVersion reports the updated version while any live buffered command
// carries stale keys: those keys are not yet reflected in the store records
func (p *ParallelDatabase) MinStaleKeyVersion() (uint64, bool) {
	for _, command := range p.mirror {
		if command.persisted.Load() {
			continue
		}
		if len(command.staleKeys) > 0 {
			return p.updatedVersion, true
		}
	}
	return p.inner.MinStaleKeyVersion()
}

func (p *ParallelDatabase) StaleKeys(version uint64) []types.NodeKey {
	if version != p.updatedVersion {
		return p.inner.StaleKeys(version)
	}
	var ret []types.NodeKey
	for _, command := range p.mirror {
		if command.persisted.Load() {
			continue
		}
		ret = append(ret, command.staleKeys...)
	}
	return append(ret, p.inner.StaleKeys(version)...)
}

// Prune requires the underlying store to be fully synced first
func (p *ParallelDatabase) Prune(patch *PrunePatchSet) error {
	if err := p.WaitSync(); err != nil {
		return err
	}
	return p.inner.Prune(patch)
}

// WaitSync blocks until every buffered command is durably applied. Fails if the
// persistence loop terminated in the meantime
func (p *ParallelDatabase) WaitSync() error {
	for {
		p.gcMirror()
		if len(p.mirror) == 0 {
			break
		}
		select {
		case <-p.done:
			return p.persistenceFailure()
		case <-time.After(syncPollInterval):
		}
	}
	// the loop never exits by itself while the database is alive
	select {
	case <-p.done:
		return p.persistenceFailure()
	default:
	}
	return nil
}

// Join consumes the database: closes the command buffer, waits for the
// persistence loop to drain and returns the inner store handle
func (p *ParallelDatabase) Join() (PruneDatabase, error) {
	close(p.commands)
	<-p.done
	p.mirror = nil
	if p.persistErr != nil {
		return nil, p.persistErr
	}
	return p.inner, nil
}

//----------------------------------------------------------------------------

// MaybeParallel is a store with either sequential or parallel persistence.
// Most operation modes want the sequential path: no extra goroutine, no buffer.
// Bulk recovery and catch-up switch to the parallel path with Parallelize
type MaybeParallel struct {
	seq PruneDatabase
	par *ParallelDatabase
}

var _ PruneDatabase = &MaybeParallel{}

func NewMaybeParallel(db PruneDatabase) *MaybeParallel {
	return &MaybeParallel{seq: db}
}

// Parallelize switches to parallel persistence of the single updated version.
// No-op if already parallel. The only way back is Join
func (m *MaybeParallel) Parallelize(updatedVersion uint64, bufferCapacity int) {
	if m.par == nil {
		m.par = NewParallelDatabase(m.seq, updatedVersion, bufferCapacity)
		m.seq = nil
	}
}

// WaitSync drains the persistence buffer; immediate in sequential mode
func (m *MaybeParallel) WaitSync() error {
	if m.par != nil {
		return m.par.WaitSync()
	}
	return nil
}

// Join collapses back to the raw store handle after draining
func (m *MaybeParallel) Join() (PruneDatabase, error) {
	if m.par != nil {
		return m.par.Join()
	}
	return m.seq, nil
}

func (m *MaybeParallel) active() PruneDatabase {
	if m.par != nil {
		return m.par
	}
	return m.seq
}

func (m *MaybeParallel) Manifest() (types.Manifest, bool, error) {
	return m.active().Manifest()
}

func (m *MaybeParallel) Root(version uint64) (types.Root, bool, error) {
	return m.active().Root(version)
}

func (m *MaybeParallel) TreeNode(key types.NodeKey, isLeaf bool) (types.Node, error) {
	return m.active().TreeNode(key, isLeaf)
}

func (m *MaybeParallel) TreeNodes(keys NodeKeys) []types.Node {
	return m.active().TreeNodes(keys)
}

func (m *MaybeParallel) StartProfiling(op ProfiledOperation) ProfilingScope {
	return m.active().StartProfiling(op)
}

func (m *MaybeParallel) ApplyPatch(patch *PatchSet) error {
	return m.active().ApplyPatch(patch)
}

func (m *MaybeParallel) MinStaleKeyVersion() (uint64, bool) {
	return m.active().MinStaleKeyVersion()
}

func (m *MaybeParallel) StaleKeys(version uint64) []types.NodeKey {
	return m.active().StaleKeys(version)
}

func (m *MaybeParallel) Prune(patch *PrunePatchSet) error {
	return m.active().Prune(patch)
}
