package storage

import (
	"github.com/danijelTxFusion/treedb/common"
	"github.com/danijelTxFusion/treedb/types"
)

// PartialPatchSet is the part of a patch set pertaining to a single version:
// an optional root update and new node records
type PartialPatchSet struct {
	root  *types.Root
	nodes map[types.NodeKey]types.Node
}

func newPartialPatchSet(root *types.Root, nodes map[types.NodeKey]types.Node) *PartialPatchSet {
	if nodes == nil {
		nodes = map[types.NodeKey]types.Node{}
	}
	return &PartialPatchSet{root: root, nodes: nodes}
}

func emptyPartialPatchSet() *PartialPatchSet {
	return newPartialPatchSet(nil, nil)
}

// NodeCount returns the number of node records in the partial patch
func (p *PartialPatchSet) NodeCount() int {
	return len(p.nodes)
}

// PatchSet is one atomic unit of tree mutations produced by the update engine:
// the new manifest, per-version partial patches, and keys that became stale
type PatchSet struct {
	manifest           types.Manifest
	patchesByVersion   map[uint64]*PartialPatchSet
	updatedVersion     uint64
	hasUpdatedVersion  bool
	staleKeysByVersion map[uint64][]types.NodeKey
}

// NewPatchSet creates a patch set updating a single version
func NewPatchSet(
	manifest types.Manifest,
	updatedVersion uint64,
	root types.Root,
	nodes map[types.NodeKey]types.Node,
	staleKeys []types.NodeKey,
) *PatchSet {
	for key, node := range nodes {
		common.Assertf(key.Version == updatedVersion, "node key %s does not belong to version %d", key, updatedVersion)
		common.Assertf(node != nil, "nil node at key %s", key)
	}
	staleKeysByVersion := map[uint64][]types.NodeKey{}
	if len(staleKeys) > 0 {
		staleKeysByVersion[updatedVersion] = staleKeys
	}
	return &PatchSet{
		manifest:           manifest,
		patchesByVersion:   map[uint64]*PartialPatchSet{updatedVersion: newPartialPatchSet(&root, nodes)},
		updatedVersion:     updatedVersion,
		hasUpdatedVersion:  true,
		staleKeysByVersion: staleKeysByVersion,
	}
}

// PatchSetFromManifest creates a manifest-only patch set
func PatchSetFromManifest(manifest types.Manifest) *PatchSet {
	return &PatchSet{
		manifest:           manifest,
		patchesByVersion:   map[uint64]*PartialPatchSet{},
		staleKeysByVersion: map[uint64][]types.NodeKey{},
	}
}

// WithStaleKeys attaches stale keys of the version to the patch set
func (p *PatchSet) WithStaleKeys(version uint64, staleKeys []types.NodeKey) *PatchSet {
	if len(staleKeys) > 0 {
		p.staleKeysByVersion[version] = append(p.staleKeysByVersion[version], staleKeys...)
	}
	return p
}

// Manifest returns the manifest carried by the patch set
func (p *PatchSet) Manifest() types.Manifest {
	return p.manifest
}

// PrunePatchSet lists node records to remove and the half-open range of versions
// whose stale key records are dropped together with them
type PrunePatchSet struct {
	prunedNodeKeys []types.NodeKey
	staleKeysFrom  uint64
	staleKeysTo    uint64
}

func NewPrunePatchSet(prunedNodeKeys []types.NodeKey, staleKeysFrom, staleKeysTo uint64) *PrunePatchSet {
	common.Assertf(staleKeysFrom <= staleKeysTo, "wrong pruned version range [%d, %d)", staleKeysFrom, staleKeysTo)
	return &PrunePatchSet{
		prunedNodeKeys: prunedNodeKeys,
		staleKeysFrom:  staleKeysFrom,
		staleKeysTo:    staleKeysTo,
	}
}
