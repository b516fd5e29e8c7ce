package trie

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/trie/trienode"
	"github.com/ethereum/go-ethereum/triedb"

	"guildhall/storage"
)

// Trie wraps go-ethereum's trie implementation to expose a simplified API for
// the rest of the codebase. Trie nodes live in an in-memory triedb rebuilt at
// startup; the authoritative copy of every key/value pair is written through
// to the backing flat store on Commit so state survives restarts.
//
// The keys passed into Get/Update are expected to be fully hashed (keccak256)
// before insertion.
//
// Trie is not safe for concurrent use.
type Trie struct {
	store  storage.Database
	trieDB *triedb.Database
	trie   *gethtrie.Trie
	root   common.Hash
	// dirty buffers uncommitted writes so a Reset can roll them back without
	// touching the flat store. A nil value marks a pending deletion.
	dirty map[string][]byte
}

// NewTrie creates a trie backed by the provided storage, replaying every
// persisted entry. A non-empty expected root is verified against the rebuilt
// state so corruption is caught at startup.
func NewTrie(store storage.Database, expectedRoot []byte) (*Trie, error) {
	backend := memorydb.New()
	db := rawdb.NewDatabase(backend)
	trieDB := triedb.NewDatabase(db, triedb.HashDefaults)
	underlying, err := gethtrie.New(gethtrie.TrieID(gethtypes.EmptyRootHash), trieDB)
	if err != nil {
		return nil, err
	}
	t := &Trie{
		store:  store,
		trieDB: trieDB,
		trie:   underlying,
		root:   gethtypes.EmptyRootHash,
		dirty:  make(map[string][]byte),
	}
	var replayErr error
	if err := store.Iterate(func(key, value []byte) bool {
		if err := t.trie.Update(key, value); err != nil {
			replayErr = err
			return false
		}
		return true
	}); err != nil {
		return nil, err
	}
	if replayErr != nil {
		return nil, replayErr
	}
	if _, err := t.commitNodes(0); err != nil {
		return nil, err
	}
	if len(expectedRoot) > 0 && !bytes.Equal(t.root.Bytes(), expectedRoot) {
		return nil, fmt.Errorf("trie: rebuilt root %x does not match expected %x", t.root, expectedRoot)
	}
	return t, nil
}

// Get retrieves a value from the trie for the provided key.
func (t *Trie) Get(key []byte) ([]byte, error) {
	return t.trie.Get(key)
}

// Update inserts or updates a value in the trie for the provided key. The
// write stays buffered until Commit.
func (t *Trie) Update(key, value []byte) error {
	if err := t.trie.Update(key, value); err != nil {
		return err
	}
	t.dirty[string(key)] = append([]byte(nil), value...)
	return nil
}

// Delete removes the key from the trie. The deletion stays buffered until
// Commit.
func (t *Trie) Delete(key []byte) error {
	if err := t.trie.Delete(key); err != nil {
		return err
	}
	t.dirty[string(key)] = nil
	return nil
}

// Hash returns the root hash of the trie reflecting all in-memory mutations.
func (t *Trie) Hash() common.Hash {
	return t.trie.Hash()
}

// Root returns the last committed root hash.
func (t *Trie) Root() common.Hash {
	return t.root
}

// Reset discards any uncommitted changes and reloads the trie at the provided
// root. It is primarily used to roll back a failed state transition.
func (t *Trie) Reset(root common.Hash) error {
	underlying, err := gethtrie.New(gethtrie.TrieID(root), t.trieDB)
	if err != nil {
		return err
	}
	t.trie = underlying
	t.root = root
	t.dirty = make(map[string][]byte)
	return nil
}

// Commit persists the trie changes and flushes the buffered writes to the
// backing flat store, returning the new root hash. After committing the
// wrapper recreates the underlying trie so it can be reused.
func (t *Trie) Commit(blockNumber uint64) (common.Hash, error) {
	newRoot, err := t.commitNodes(blockNumber)
	if err != nil {
		return common.Hash{}, err
	}
	for key, value := range t.dirty {
		if value == nil {
			if err := t.store.Delete([]byte(key)); err != nil {
				return common.Hash{}, err
			}
			continue
		}
		if err := t.store.Put([]byte(key), value); err != nil {
			return common.Hash{}, err
		}
	}
	t.dirty = make(map[string][]byte)
	return newRoot, nil
}

func (t *Trie) commitNodes(blockNumber uint64) (common.Hash, error) {
	parent := t.root
	newRoot, nodes := t.trie.Commit(false)
	if nodes != nil {
		merged := trienode.NewMergedNodeSet()
		if err := merged.Merge(nodes); err != nil {
			return common.Hash{}, err
		}
		if err := t.trieDB.Update(newRoot, parent, blockNumber, merged, nil); err != nil {
			return common.Hash{}, err
		}
		if err := t.trieDB.Commit(newRoot, false); err != nil {
			return common.Hash{}, err
		}
	}
	underlying, err := gethtrie.New(gethtrie.TrieID(newRoot), t.trieDB)
	if err != nil {
		return common.Hash{}, err
	}
	t.trie = underlying
	t.root = newRoot
	return newRoot, nil
}

// Store exposes the backing storage in case callers need to access it
// directly.
func (t *Trie) Store() storage.Database {
	return t.store
}
