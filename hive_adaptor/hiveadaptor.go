// Package hive_adaptor contains adaptors of the hive.go key/value store to the
// storage backend interfaces of this module
package hive_adaptor

import (
	"errors"

	"github.com/danijelTxFusion/treedb/common"
	"github.com/iotaledger/hive.go/core/kvstore"
)

// HiveKVStoreAdaptor maps a partition of the hive.go KVStore to common.KVStore
// with batched updates and prefix iteration
type HiveKVStoreAdaptor struct {
	kvs    kvstore.KVStore
	prefix []byte
}

var (
	_ common.KVStore          = &HiveKVStoreAdaptor{}
	_ common.BatchedUpdatable = &HiveKVStoreAdaptor{}
	_ common.Traversable      = &HiveKVStoreAdaptor{}
)

// NewHiveKVStoreAdaptor creates a new adaptor over a partition of the hive.go KVStore
func NewHiveKVStoreAdaptor(kvs kvstore.KVStore, prefix []byte) *HiveKVStoreAdaptor {
	return &HiveKVStoreAdaptor{kvs: kvs, prefix: prefix}
}

func mustNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

func makeKey(prefix, k []byte) []byte {
	if len(prefix) == 0 {
		return k
	}
	return common.Concat(prefix, k)
}

func (kvs *HiveKVStoreAdaptor) Get(key []byte) []byte {
	v, err := kvs.kvs.Get(makeKey(kvs.prefix, key))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil
	}
	mustNoErr(err)
	return v
}

func (kvs *HiveKVStoreAdaptor) Has(key []byte) bool {
	v, err := kvs.kvs.Has(makeKey(kvs.prefix, key))
	mustNoErr(err)
	return v
}

func (kvs *HiveKVStoreAdaptor) Set(key, value []byte) {
	var err error
	if len(value) == 0 {
		err = kvs.kvs.Delete(makeKey(kvs.prefix, key))
	} else {
		err = kvs.kvs.Set(makeKey(kvs.prefix, key), value)
	}
	mustNoErr(err)
}

// BatchedWriter buffers mutations and flushes them into one hive.go batch on Commit
func (kvs *HiveKVStoreAdaptor) BatchedWriter() common.KVBatchedWriter {
	return &hiveBatchedWriter{
		adaptor:   kvs,
		mutations: common.NewMutations(),
	}
}

type hiveBatchedWriter struct {
	adaptor   *HiveKVStoreAdaptor
	mutations *common.Mutations
}

func (bw *hiveBatchedWriter) Set(key, value []byte) {
	bw.mutations.Set(key, value)
}

func (bw *hiveBatchedWriter) Commit() error {
	batch, err := bw.adaptor.kvs.Batched()
	if err != nil {
		return err
	}
	bw.mutations.Iterate(func(k, v []byte, _ bool) bool {
		if len(v) > 0 {
			err = batch.Set(makeKey(bw.adaptor.prefix, k), v)
		} else {
			err = batch.Delete(makeKey(bw.adaptor.prefix, k))
		}
		return err == nil
	})
	if err != nil {
		batch.Cancel()
		return err
	}
	bw.mutations = nil // invalidate
	return batch.Commit()
}

func (kvs *HiveKVStoreAdaptor) Iterator(prefix []byte) common.KVIterator {
	return &hiveIterator{adaptor: kvs, prefix: prefix}
}

type hiveIterator struct {
	adaptor *HiveKVStoreAdaptor
	prefix  []byte
}

func (it *hiveIterator) Iterate(fun func(k, v []byte) bool) {
	fullPrefix := makeKey(it.adaptor.prefix, it.prefix)
	err := it.adaptor.kvs.Iterate(fullPrefix, func(key kvstore.Key, value kvstore.Value) bool {
		return fun(key[len(it.adaptor.prefix):], value)
	})
	mustNoErr(err)
}

func (it *hiveIterator) IterateKeys(fun func(k []byte) bool) {
	fullPrefix := makeKey(it.adaptor.prefix, it.prefix)
	err := it.adaptor.kvs.IterateKeys(fullPrefix, func(key kvstore.Key) bool {
		return fun(key[len(it.adaptor.prefix):])
	})
	mustNoErr(err)
}
