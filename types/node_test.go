package types

import (
	"bytes"
	"testing"

	"github.com/danijelTxFusion/treedb/common"
	"github.com/stretchr/testify/require"
)

func TestNibbles(t *testing.T) {
	key := KeyFromUint64(0xabcdef)

	n := NewNibbles(key, MaxNibbleCount)
	require.EqualValues(t, MaxNibbleCount, n.Count())
	require.EqualValues(t, key[:], n.Packed())

	n = NewNibbles(key, 0)
	require.EqualValues(t, 0, n.Count())
	require.Empty(t, n.Packed())

	// odd nibble count masks the unused half of the last byte
	key = Key{0xab, 0xcd}
	n = NewNibbles(key, 3)
	require.EqualValues(t, []byte{0xab, 0xc0}, n.Packed())
	require.EqualValues(t, 0xa, n.Nibble(0))
	require.EqualValues(t, 0xb, n.Nibble(1))
	require.EqualValues(t, 0xc, n.Nibble(2))

	// masked values are comparable regardless of the key tail
	other := Key{0xab, 0xcf, 0xff}
	require.Equal(t, n, NewNibbles(other, 3))
	require.NotEqual(t, n, NewNibbles(other, 4))
}

func TestNodeKeyRoundTrip(t *testing.T) {
	for _, nibbleCount := range []int{0, 1, 7, 64} {
		key := NewNibbles(KeyFromUint64(123456), nibbleCount).WithVersion(42)

		var buf bytes.Buffer
		require.NoError(t, key.Write(&buf))
		back, err := ReadNodeKey(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		require.Equal(t, key, back)
	}
}

func TestLeafNodeRoundTrip(t *testing.T) {
	leaf := NewLeafNode(TreeEntry{
		Key:       KeyFromUint64(17),
		Value:     HashValue([]byte("value")),
		LeafIndex: 18,
	})
	require.True(t, leaf.IsLeaf())

	back, err := NodeFromBytes(common.MustBytes(leaf))
	require.NoError(t, err)
	require.Equal(t, leaf, back)
}

func TestInternalNodeRoundTrip(t *testing.T) {
	node := NewInternalNode()
	node.SetChild(0, ChildRef{Version: 1, Hash: HashValue([]byte("a")), IsLeaf: true})
	node.SetChild(7, ChildRef{Version: 2, Hash: HashValue([]byte("b")), IsLeaf: false})
	node.SetChild(15, ChildRef{Version: 3, Hash: HashValue([]byte("c")), IsLeaf: true})
	require.False(t, node.IsLeaf())
	require.EqualValues(t, 3, node.ChildCount())

	back, err := NodeFromBytes(common.MustBytes(node))
	require.NoError(t, err)
	require.Equal(t, node, back)

	ref, ok := back.(*InternalNode).Child(7)
	require.True(t, ok)
	require.EqualValues(t, 2, ref.Version)
	_, ok = back.(*InternalNode).Child(8)
	require.False(t, ok)
}

func TestRootRoundTrip(t *testing.T) {
	empty := NewRoot(0, nil)
	require.True(t, empty.IsEmpty())
	back, err := RootFromBytes(common.MustBytes(empty))
	require.NoError(t, err)
	require.Equal(t, empty, back)

	node := NewInternalNode()
	node.SetChild(3, ChildRef{Version: 9, Hash: HashValue([]byte("x")), IsLeaf: true})
	filled := NewRoot(25, node)
	require.False(t, filled.IsEmpty())
	back, err = RootFromBytes(common.MustBytes(filled))
	require.NoError(t, err)
	require.Equal(t, filled, back)
}

func TestManifestRoundTrip(t *testing.T) {
	manifest := NewManifest(11)
	back, err := ManifestFromBytes(common.MustBytes(manifest))
	require.NoError(t, err)
	require.Equal(t, manifest, back)
}

func TestNodeDeserializationErrors(t *testing.T) {
	_, err := NodeFromBytes(nil)
	require.ErrorIs(t, err, common.ErrDeserialize)

	_, err = NodeFromBytes([]byte{0x7f})
	require.ErrorIs(t, err, common.ErrDeserialize)

	// trailing garbage is rejected
	leaf := NewLeafNode(TreeEntry{Key: KeyFromUint64(1), LeafIndex: 1})
	_, err = NodeFromBytes(append(common.MustBytes(leaf), 0x00))
	require.ErrorIs(t, err, common.ErrNotAllBytesConsumed)

	// truncated leaf record
	_, err = NodeFromBytes(common.MustBytes(leaf)[:10])
	require.Error(t, err)
}
