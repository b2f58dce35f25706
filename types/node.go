package types

import (
	"bytes"
	"fmt"
	"io"

	"github.com/danijelTxFusion/treedb/common"
	"golang.org/x/xerrors"
)

// Node is either a leaf or an internal node of the tree
type Node interface {
	IsLeaf() bool
	// Write serializes the node, including its kind tag
	Write(w io.Writer) error
}

const (
	leafNodeTag     = byte(0x01)
	internalNodeTag = byte(0x02)
)

// NodeFromBytes deserializes a node record. The kind is encoded in the record itself
func NodeFromBytes(data []byte) (Node, error) {
	rdr := bytes.NewReader(data)
	tag, err := common.ReadByte(rdr)
	if err != nil {
		return nil, xerrors.Errorf("node tag: %w", common.ErrDeserialize)
	}
	var ret Node
	switch tag {
	case leafNodeTag:
		ret, err = readLeafNode(rdr)
	case internalNodeTag:
		ret, err = readInternalNode(rdr)
	default:
		return nil, xerrors.Errorf("wrong node tag %d: %w", tag, common.ErrDeserialize)
	}
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, common.ErrDeserialize)
	}
	if rdr.Len() != 0 {
		return nil, common.ErrNotAllBytesConsumed
	}
	return ret, nil
}

//----------------------------------------------------------------------------
// leaf

// LeafNode is a terminal node. It carries the full key of the entry, the committed
// value hash and the enumeration index of the leaf
type LeafNode struct {
	FullKey   Key
	ValueHash ValueHash
	LeafIndex uint64
}

var _ Node = LeafNode{}

func NewLeafNode(entry TreeEntry) LeafNode {
	return LeafNode{
		FullKey:   entry.Key,
		ValueHash: entry.Value,
		LeafIndex: entry.LeafIndex,
	}
}

func (n LeafNode) IsLeaf() bool {
	return true
}

func (n LeafNode) Write(w io.Writer) error {
	if err := common.WriteByte(w, leafNodeTag); err != nil {
		return err
	}
	if _, err := w.Write(n.FullKey[:]); err != nil {
		return err
	}
	if _, err := w.Write(n.ValueHash[:]); err != nil {
		return err
	}
	return common.WriteUint64(w, n.LeafIndex)
}

func readLeafNode(r io.Reader) (LeafNode, error) {
	var ret LeafNode
	if _, err := io.ReadFull(r, ret.FullKey[:]); err != nil {
		return LeafNode{}, err
	}
	if _, err := io.ReadFull(r, ret.ValueHash[:]); err != nil {
		return LeafNode{}, err
	}
	var err error
	ret.LeafIndex, err = common.ReadUint64(r)
	return ret, err
}

//----------------------------------------------------------------------------
// internal node

// ChildRef is a reference to a child node: the version the child was last written at,
// its hash and its kind
type ChildRef struct {
	Version uint64
	Hash    ValueHash
	IsLeaf  bool
}

// InternalNode holds up to 16 child references indexed by the next nibble of the path
type InternalNode struct {
	children map[byte]ChildRef
}

var _ Node = &InternalNode{}

func NewInternalNode() *InternalNode {
	return &InternalNode{
		children: make(map[byte]ChildRef),
	}
}

func (n *InternalNode) IsLeaf() bool {
	return false
}

// SetChild sets the child reference at the nibble position
func (n *InternalNode) SetChild(nibble byte, ref ChildRef) {
	common.Assertf(nibble < 16, "wrong child nibble %d", nibble)
	n.children[nibble] = ref
}

func (n *InternalNode) Child(nibble byte) (ChildRef, bool) {
	ret, ok := n.children[nibble]
	return ret, ok
}

func (n *InternalNode) ChildCount() int {
	return len(n.children)
}

// child presence is encoded as a 16-bit bitmap, children follow in ascending nibble order
func (n *InternalNode) Write(w io.Writer) error {
	if err := common.WriteByte(w, internalNodeTag); err != nil {
		return err
	}
	var bitmap uint16
	for nibble := range n.children {
		bitmap |= 1 << nibble
	}
	if err := common.WriteByte(w, byte(bitmap>>8)); err != nil {
		return err
	}
	if err := common.WriteByte(w, byte(bitmap)); err != nil {
		return err
	}
	for nibble := byte(0); nibble < 16; nibble++ {
		ref, ok := n.children[nibble]
		if !ok {
			continue
		}
		if err := common.WriteUint64(w, ref.Version); err != nil {
			return err
		}
		if _, err := w.Write(ref.Hash[:]); err != nil {
			return err
		}
		kind := byte(0)
		if ref.IsLeaf {
			kind = 1
		}
		if err := common.WriteByte(w, kind); err != nil {
			return err
		}
	}
	return nil
}

func readInternalNode(r io.Reader) (*InternalNode, error) {
	hi, err := common.ReadByte(r)
	if err != nil {
		return nil, err
	}
	lo, err := common.ReadByte(r)
	if err != nil {
		return nil, err
	}
	bitmap := uint16(hi)<<8 | uint16(lo)
	ret := NewInternalNode()
	for nibble := byte(0); nibble < 16; nibble++ {
		if bitmap&(1<<nibble) == 0 {
			continue
		}
		var ref ChildRef
		if ref.Version, err = common.ReadUint64(r); err != nil {
			return nil, err
		}
		if _, err = io.ReadFull(r, ref.Hash[:]); err != nil {
			return nil, err
		}
		kind, err := common.ReadByte(r)
		if err != nil {
			return nil, err
		}
		if kind > 1 {
			return nil, fmt.Errorf("wrong child kind %d", kind)
		}
		ref.IsLeaf = kind == 1
		ret.children[nibble] = ref
	}
	return ret, nil
}

//----------------------------------------------------------------------------
// root

// Root is the root of the tree at a specific version. Node == nil means the empty tree
type Root struct {
	LeafCount uint64
	Node      Node
}

func NewRoot(leafCount uint64, node Node) Root {
	return Root{LeafCount: leafCount, Node: node}
}

func (r Root) IsEmpty() bool {
	return r.Node == nil
}

func (r Root) Write(w io.Writer) error {
	if err := common.WriteUint64(w, r.LeafCount); err != nil {
		return err
	}
	if r.Node == nil {
		return common.WriteByte(w, 0)
	}
	if err := common.WriteByte(w, 1); err != nil {
		return err
	}
	return r.Node.Write(w)
}

func RootFromBytes(data []byte) (Root, error) {
	rdr := bytes.NewReader(data)
	leafCount, err := common.ReadUint64(rdr)
	if err != nil {
		return Root{}, xerrors.Errorf("root leaf count: %w", common.ErrDeserialize)
	}
	hasNode, err := common.ReadByte(rdr)
	if err != nil {
		return Root{}, xerrors.Errorf("root flags: %w", common.ErrDeserialize)
	}
	ret := Root{LeafCount: leafCount}
	if hasNode == 0 {
		if rdr.Len() != 0 {
			return Root{}, common.ErrNotAllBytesConsumed
		}
		return ret, nil
	}
	rest := make([]byte, rdr.Len())
	if _, err = io.ReadFull(rdr, rest); err != nil {
		return Root{}, err
	}
	if ret.Node, err = NodeFromBytes(rest); err != nil {
		return Root{}, err
	}
	return ret, nil
}

//----------------------------------------------------------------------------
// manifest

// ManifestTags describe the shape of the stored tree. They are fixed at tree creation;
// reading a manifest back does not validate them
type ManifestTags struct {
	Architecture string
	Depth        uint8
	Hasher       string
}

func defaultTags() ManifestTags {
	return ManifestTags{
		Architecture: "MT16",
		Depth:        MaxNibbleCount,
		Hasher:       "blake2b-256",
	}
}

// Manifest is the global bookkeeping record of the tree: the number of versions
// and the tree shape tags. Small and cheap to copy
type Manifest struct {
	VersionCount uint64
	Tags         ManifestTags
}

func NewManifest(versionCount uint64) Manifest {
	return Manifest{
		VersionCount: versionCount,
		Tags:         defaultTags(),
	}
}

func (m Manifest) Write(w io.Writer) error {
	if err := common.WriteUint64(w, m.VersionCount); err != nil {
		return err
	}
	if err := common.WriteBytes8(w, []byte(m.Tags.Architecture)); err != nil {
		return err
	}
	if err := common.WriteByte(w, m.Tags.Depth); err != nil {
		return err
	}
	return common.WriteBytes8(w, []byte(m.Tags.Hasher))
}

func ManifestFromBytes(data []byte) (Manifest, error) {
	rdr := bytes.NewReader(data)
	var ret Manifest
	var err error
	if ret.VersionCount, err = common.ReadUint64(rdr); err != nil {
		return Manifest{}, xerrors.Errorf("manifest version count: %w", common.ErrDeserialize)
	}
	arch, err := common.ReadBytes8(rdr)
	if err != nil {
		return Manifest{}, xerrors.Errorf("manifest tags: %w", common.ErrDeserialize)
	}
	ret.Tags.Architecture = string(arch)
	if ret.Tags.Depth, err = common.ReadByte(rdr); err != nil {
		return Manifest{}, xerrors.Errorf("manifest tags: %w", common.ErrDeserialize)
	}
	hasher, err := common.ReadBytes8(rdr)
	if err != nil {
		return Manifest{}, xerrors.Errorf("manifest tags: %w", common.ErrDeserialize)
	}
	ret.Tags.Hasher = string(hasher)
	if rdr.Len() != 0 {
		return Manifest{}, common.ErrNotAllBytesConsumed
	}
	return ret, nil
}
