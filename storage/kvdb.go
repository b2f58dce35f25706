package storage

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/danijelTxFusion/treedb/common"
	"github.com/danijelTxFusion/treedb/types"
	"golang.org/x/xerrors"
)

// record partitions of the key/value engine
const (
	manifestPrefix  = byte(0x00)
	rootPrefix      = byte(0x01)
	nodePrefix      = byte(0x02)
	staleKeysPrefix = byte(0x03)
)

var manifestRecordKey = []byte{manifestPrefix}

func rootRecordKey(version uint64) []byte {
	return common.Concat(rootPrefix, version)
}

func nodeRecordKey(key types.NodeKey) []byte {
	return common.Concat(nodePrefix, key.Bytes())
}

func staleKeysRecordKey(version uint64) []byte {
	return common.Concat(staleKeysPrefix, version)
}

// Backend is the capability set the store needs from its key/value engine
type Backend interface {
	common.KVReader
	common.BatchedUpdatable
	common.Traversable
}

// DB is a durable tree store over a batched key/value engine. Patch application
// is atomic: all records of a patch set are flushed in a single batch.
//
// DB is single-writer: ApplyPatch and Prune are serialized with a mutex;
// concurrent reads are allowed at any time
type DB struct {
	store Backend
	mu    sync.Mutex // serializes writers
	prof  profileStats
}

var _ PruneDatabase = &DB{}

func NewDB(store Backend) *DB {
	return &DB{store: store}
}

func (db *DB) Manifest() (types.Manifest, bool, error) {
	data := db.store.Get(manifestRecordKey)
	if data == nil {
		return types.Manifest{}, false, nil
	}
	manifest, err := types.ManifestFromBytes(data)
	if err != nil {
		return types.Manifest{}, false, xerrors.Errorf("manifest: %w", err)
	}
	return manifest, true, nil
}

func (db *DB) Root(version uint64) (types.Root, bool, error) {
	data := db.store.Get(rootRecordKey(version))
	if data == nil {
		return types.Root{}, false, nil
	}
	root, err := types.RootFromBytes(data)
	if err != nil {
		return types.Root{}, false, xerrors.Errorf("root at version %d: %w", version, err)
	}
	return root, true, nil
}

func (db *DB) TreeNode(key types.NodeKey, isLeaf bool) (types.Node, error) {
	data := db.store.Get(nodeRecordKey(key))
	if data == nil {
		return nil, nil
	}
	node, err := types.NodeFromBytes(data)
	if err != nil {
		return nil, xerrors.Errorf("node %s: %w", key, err)
	}
	if node.IsLeaf() != isLeaf {
		return nil, xerrors.Errorf("node %s: stored kind does not match the requested one: %w", key, common.ErrDeserialize)
	}
	return node, nil
}

func (db *DB) TreeNodes(keys NodeKeys) []types.Node {
	ret := make([]types.Node, len(keys))
	for i, hinted := range keys {
		node, err := db.TreeNode(hinted.Key, hinted.IsLeaf)
		common.AssertNoError(err)
		ret[i] = node
	}
	return ret
}

func (db *DB) StartProfiling(op ProfiledOperation) ProfilingScope {
	return db.prof.start(op)
}

// ProfilingStats is a snapshot of aggregate operation timings collected via StartProfiling
func (db *DB) ProfilingStats() map[string]OperationStats {
	return db.prof.snapshot()
}

func (db *DB) ApplyPatch(patch *PatchSet) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	batch := db.store.BatchedWriter()
	batch.Set(manifestRecordKey, common.MustBytes(patch.manifest))
	for version, partial := range patch.patchesByVersion {
		if partial.root != nil {
			batch.Set(rootRecordKey(version), common.MustBytes(*partial.root))
		}
		for key, node := range partial.nodes {
			batch.Set(nodeRecordKey(key), common.MustBytes(node))
		}
	}
	for version, staleKeys := range patch.staleKeysByVersion {
		if len(staleKeys) == 0 {
			continue
		}
		// append to the existing record; reads of the store are consistent because
		// the batch is applied atomically and there is a single writer
		record := db.store.Get(staleKeysRecordKey(version))
		batch.Set(staleKeysRecordKey(version), appendStaleKeys(record, staleKeys))
	}
	return batch.Commit()
}

func (db *DB) MinStaleKeyVersion() (uint64, bool) {
	minVersion := uint64(0)
	found := false
	db.store.Iterator([]byte{staleKeysPrefix}).IterateKeys(func(k []byte) bool {
		version := binary.BigEndian.Uint64(k[1:])
		if !found || version < minVersion {
			minVersion = version
			found = true
		}
		return true
	})
	return minVersion, found
}

func (db *DB) StaleKeys(version uint64) []types.NodeKey {
	record := db.store.Get(staleKeysRecordKey(version))
	if record == nil {
		return nil
	}
	keys, err := decodeStaleKeys(record)
	common.AssertNoError(err)
	return keys
}

func (db *DB) Prune(patch *PrunePatchSet) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	batch := db.store.BatchedWriter()
	for _, key := range patch.prunedNodeKeys {
		batch.Set(nodeRecordKey(key), nil)
	}
	for version := patch.staleKeysFrom; version < patch.staleKeysTo; version++ {
		batch.Set(staleKeysRecordKey(version), nil)
	}
	return batch.Commit()
}

// the stale keys record is a plain concatenation of node key encodings;
// the encoding is self-delimiting, so appending is cheap
func appendStaleKeys(record []byte, staleKeys []types.NodeKey) []byte {
	var buf bytes.Buffer
	buf.Write(record)
	for _, key := range staleKeys {
		common.AssertNoError(key.Write(&buf))
	}
	return buf.Bytes()
}

func decodeStaleKeys(record []byte) ([]types.NodeKey, error) {
	rdr := bytes.NewReader(record)
	var ret []types.NodeKey
	for rdr.Len() > 0 {
		key, err := types.ReadNodeKey(rdr)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, common.ErrDeserialize
			}
			return nil, err
		}
		ret = append(ret, key)
	}
	return ret, nil
}
