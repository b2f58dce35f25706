package types

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/danijelTxFusion/treedb/common"
)

// MaxNibbleCount is the depth of the tree: a 32-byte key has 64 nibbles
const MaxNibbleCount = 64

// Nibbles is a path prefix of a key: the first `count` nibbles, packed two per byte,
// high nibble first. The unused tail is always zeroed, so values are comparable
type Nibbles struct {
	count byte
	bits  [32]byte
}

// NewNibbles takes the first nibbleCount nibbles of the key
func NewNibbles(key Key, nibbleCount int) Nibbles {
	common.Assertf(nibbleCount >= 0 && nibbleCount <= MaxNibbleCount, "nibble count %d out of range", nibbleCount)
	ret := Nibbles{count: byte(nibbleCount)}
	copy(ret.bits[:(nibbleCount+1)/2], key[:])
	if nibbleCount%2 == 1 {
		ret.bits[nibbleCount/2] &= 0xf0
	}
	return ret
}

func (n Nibbles) Count() int {
	return int(n.count)
}

// Nibble returns the i-th nibble of the path
func (n Nibbles) Nibble(i int) byte {
	common.Assertf(i >= 0 && i < int(n.count), "nibble index %d out of range", i)
	b := n.bits[i/2]
	if i%2 == 0 {
		return b >> 4
	}
	return b & 0x0f
}

// Packed returns the packed nibbles, ceil(count/2) bytes
func (n Nibbles) Packed() []byte {
	return n.bits[:(int(n.count)+1)/2]
}

// WithVersion binds the path to a tree version
func (n Nibbles) WithVersion(version uint64) NodeKey {
	return NodeKey{Version: version, Nibbles: n}
}

func (n Nibbles) String() string {
	return fmt.Sprintf("[%d]%s", n.count, hex.EncodeToString(n.Packed()))
}

// NodeKey uniquely identifies a tree node: the version of the tree and the nibble path from the root
type NodeKey struct {
	Version uint64
	Nibbles Nibbles
}

func (k NodeKey) String() string {
	return fmt.Sprintf("%d:%s", k.Version, k.Nibbles)
}

// IsRoot tells if the key addresses the root node of its version
func (k NodeKey) IsRoot() bool {
	return k.Nibbles.Count() == 0
}

// Write serializes the node key: 8 bytes of version, 1 byte of nibble count, packed nibbles
func (k NodeKey) Write(w io.Writer) error {
	if err := common.WriteUint64(w, k.Version); err != nil {
		return err
	}
	if err := common.WriteByte(w, k.Nibbles.count); err != nil {
		return err
	}
	_, err := w.Write(k.Nibbles.Packed())
	return err
}

// Bytes is the serialized form of the key, also used as the storage key of the node record
func (k NodeKey) Bytes() []byte {
	return common.MustBytes(k)
}

// ReadNodeKey deserializes a node key. The encoding is self-delimiting
func ReadNodeKey(r io.Reader) (NodeKey, error) {
	var ret NodeKey
	var err error
	if ret.Version, err = common.ReadUint64(r); err != nil {
		return NodeKey{}, err
	}
	count, err := common.ReadByte(r)
	if err != nil {
		return NodeKey{}, err
	}
	if count > MaxNibbleCount {
		return NodeKey{}, fmt.Errorf("wrong nibble count %d: %w", count, common.ErrDeserialize)
	}
	ret.Nibbles.count = count
	if _, err = io.ReadFull(r, ret.Nibbles.bits[:(int(count)+1)/2]); err != nil {
		return NodeKey{}, err
	}
	return ret, nil
}
