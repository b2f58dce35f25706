// Package types defines the data model of the versioned Merkle tree storage:
// keys, node kinds, roots and the manifest, together with their binary serialization.
package types

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Key is a full 256-bit key of a tree entry
type Key [32]byte

// ValueHash is a 32-byte hash of the entry value
type ValueHash [32]byte

// KeyFromUint64 makes a key out of a small integer. Mostly used for testing and examples
func KeyFromUint64(v uint64) Key {
	var ret Key
	binary.BigEndian.PutUint64(ret[24:], v)
	return ret
}

// HashValue commits to an arbitrary value with blake2b-256
func HashValue(value []byte) ValueHash {
	return blake2b.Sum256(value)
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

func (h ValueHash) String() string {
	return hex.EncodeToString(h[:])
}

// TreeEntry is a leaf payload: the full key, the committed value hash and the
// 1-based enumeration index of the leaf
type TreeEntry struct {
	Key       Key
	Value     ValueHash
	LeafIndex uint64
}
