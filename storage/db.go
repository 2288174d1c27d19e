package storage

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	gethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is the key-value store backing the ledger. Besides plain
// Put/Get access for ledger metadata (transaction records, the reference index,
// the committed head) it exposes the trie database that holds account state.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	TrieDB() *triedb.Database
	Close()
}

type kvDatabase struct {
	disk   ethdb.Database
	trieDB *triedb.Database
	once   sync.Once
}

func newKVDatabase(kv ethdb.KeyValueStore) *kvDatabase {
	disk := rawdb.NewDatabase(kv)
	return &kvDatabase{
		disk:   disk,
		trieDB: triedb.NewDatabase(disk, triedb.HashDefaults),
	}
}

func (db *kvDatabase) Put(key []byte, value []byte) error {
	return db.disk.Put(key, value)
}

func (db *kvDatabase) Get(key []byte) ([]byte, error) {
	ok, err := db.disk.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return db.disk.Get(key)
}

func (db *kvDatabase) Has(key []byte) (bool, error) {
	return db.disk.Has(key)
}

func (db *kvDatabase) Delete(key []byte) error {
	return db.disk.Delete(key)
}

func (db *kvDatabase) TrieDB() *triedb.Database {
	return db.trieDB
}

func (db *kvDatabase) Close() {
	db.once.Do(func() {
		db.trieDB.Close()
		db.disk.Close()
	})
}

// --- In-Memory DB (for testing) ---

// MemDB keeps the whole ledger in memory.
type MemDB struct {
	*kvDatabase
}

func NewMemDB() *MemDB {
	return &MemDB{kvDatabase: newKVDatabase(memorydb.New())}
}

// --- Persistent DB ---

// LevelDB is a persistent store using LevelDB through go-ethereum's ethdb
// adapter so that trie nodes and ledger metadata share a single handle.
type LevelDB struct {
	*kvDatabase
}

// LevelDBOptions tunes the LevelDB handle.
type LevelDBOptions struct {
	CacheMB     int
	OpenFiles   int
	ReadOnly    bool
	Compression bool
}

// NewLevelDB creates or opens a LevelDB database at the specified path with
// default tuning.
func NewLevelDB(path string) (*LevelDB, error) {
	return NewLevelDBWithOptions(path, LevelDBOptions{CacheMB: 64, OpenFiles: 128})
}

// NewLevelDBWithOptions opens the database applying the supplied tuning.
func NewLevelDBWithOptions(path string, opts LevelDBOptions) (*LevelDB, error) {
	cache := opts.CacheMB
	if cache < 16 {
		cache = 16
	}
	handles := opts.OpenFiles
	if handles < 16 {
		handles = 16
	}
	kv, err := gethleveldb.NewCustom(path, "loyaltypay/db/", func(o *opt.Options) {
		o.OpenFilesCacheCapacity = handles
		o.BlockCacheCapacity = cache / 2 * opt.MiB
		o.WriteBuffer = cache / 4 * opt.MiB
		o.ReadOnly = opts.ReadOnly
		if !opts.Compression {
			o.Compression = opt.NoCompression
		}
	})
	if err != nil {
		return nil, err
	}
	return &LevelDB{kvDatabase: newKVDatabase(kv)}, nil
}
