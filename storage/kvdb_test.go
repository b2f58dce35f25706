package storage

import (
	"testing"

	"github.com/danijelTxFusion/treedb/common"
	"github.com/danijelTxFusion/treedb/types"
	"github.com/stretchr/testify/require"
)

func TestEmptyStore(t *testing.T) {
	db := newTestDB()

	_, ok, err := db.Manifest()
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = db.Root(0)
	require.NoError(t, err)
	require.False(t, ok)

	node, err := db.TreeNode(leafNodeKey(0, 0), true)
	require.NoError(t, err)
	require.Nil(t, node)

	_, ok = db.MinStaleKeyVersion()
	require.False(t, ok)
	require.Empty(t, db.StaleKeys(0))
}

func TestApplyPatchRoundTrip(t *testing.T) {
	db := newTestDB()
	require.NoError(t, db.ApplyPatch(mockPatchSet(0, 10)))

	manifest, ok, err := db.Manifest()
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, updatedVersion, manifest.VersionCount)
	require.EqualValues(t, types.MaxNibbleCount, manifest.Tags.Depth)

	root, ok, err := db.Root(updatedVersion)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 10, root.LeafCount)
	require.False(t, root.IsEmpty())

	requireLeavesUpTo(t, db.TreeNodes(leafKeys(20)), 10)

	node, err := db.TreeNode(leafNodeKey(3, updatedVersion), true)
	require.NoError(t, err)
	leaf := node.(types.LeafNode)
	require.EqualValues(t, 4, leaf.LeafIndex)
	require.Equal(t, types.KeyFromUint64(3), leaf.FullKey)
}

func TestNodeKindMismatch(t *testing.T) {
	db := newTestDB()
	require.NoError(t, db.ApplyPatch(mockPatchSet(0, 1)))

	_, err := db.TreeNode(leafNodeKey(0, updatedVersion), false)
	require.ErrorIs(t, err, common.ErrDeserialize)
}

func TestStaleKeysAccumulate(t *testing.T) {
	db := newTestDB()
	first := []types.NodeKey{leafNodeKey(100, updatedVersion)}
	second := []types.NodeKey{leafNodeKey(101, updatedVersion), leafNodeKey(102, updatedVersion)}

	require.NoError(t, db.ApplyPatch(staleKeysPatch(0, 1, first)))
	require.NoError(t, db.ApplyPatch(staleKeysPatch(1, 2, second)))

	require.Equal(t, append(first, second...), db.StaleKeys(updatedVersion))

	version, ok := db.MinStaleKeyVersion()
	require.True(t, ok)
	require.EqualValues(t, updatedVersion, version)
}

func TestMinStaleKeyVersionAcrossVersions(t *testing.T) {
	db := newTestDB()
	for _, version := range []uint64{7, 5, 9} {
		root := types.NewRoot(0, nil)
		patch := NewPatchSet(types.NewManifest(version+1), version, root, nil, []types.NodeKey{
			types.NewNibbles(types.KeyFromUint64(version), types.MaxNibbleCount).WithVersion(version),
		})
		require.NoError(t, db.ApplyPatch(patch))
	}

	version, ok := db.MinStaleKeyVersion()
	require.True(t, ok)
	require.EqualValues(t, 5, version)
}

func TestPruneRemovesNodesAndStaleRecords(t *testing.T) {
	db := newTestDB()
	stale := []types.NodeKey{leafNodeKey(0, updatedVersion), leafNodeKey(1, updatedVersion)}
	require.NoError(t, db.ApplyPatch(staleKeysPatch(0, 5, stale)))

	require.NoError(t, db.Prune(NewPrunePatchSet(stale, 0, updatedVersion+1)))

	// pruned node records are gone, the rest is intact
	node, err := db.TreeNode(leafNodeKey(0, updatedVersion), true)
	require.NoError(t, err)
	require.Nil(t, node)
	node, err = db.TreeNode(leafNodeKey(3, updatedVersion), true)
	require.NoError(t, err)
	require.NotNil(t, node)

	require.Empty(t, db.StaleKeys(updatedVersion))
	_, ok := db.MinStaleKeyVersion()
	require.False(t, ok)
}

func TestProfilingScopes(t *testing.T) {
	db := newTestDB()

	scope := db.StartProfiling(ProfileLoadNodes)
	db.TreeNodes(leafKeys(5))
	scope.End()

	scope = db.StartProfiling(ProfileLoadNodes)
	scope.End()

	stats := db.ProfilingStats()
	require.EqualValues(t, 2, stats[ProfileLoadNodes.String()].Count)
	require.NotContains(t, stats, ProfilePrune.String())
}

func TestCorruptRecordSurfacesDeserializeError(t *testing.T) {
	store := common.NewInMemoryKVStore()
	db := NewDB(store)
	require.NoError(t, db.ApplyPatch(mockPatchSet(0, 1)))

	store.Set(manifestRecordKey, []byte{0xff})
	_, _, err := db.Manifest()
	require.Error(t, err)

	store.Set(nodeRecordKey(leafNodeKey(0, updatedVersion)), []byte{0xff, 0x00})
	_, err = db.TreeNode(leafNodeKey(0, updatedVersion), true)
	require.ErrorIs(t, err, common.ErrDeserialize)
}
