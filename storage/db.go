package storage

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned by Get when the key is absent, whatever the backend.
var ErrNotFound = errors.New("storage: key not found")

// Entry is one key/value pair of a batch write.
type Entry struct {
	Key   []byte
	Value []byte
}

// Database is the key-value store snapshots are persisted to. MemDB backs
// tests; LevelDB and BoltDB back the daemon.
type Database interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	// WriteBatch applies every entry or none of them.
	WriteBatch(entries []Entry) error
	// Iterate visits keys with the given prefix in ascending order until fn
	// returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	Close()
}

// MemDB keeps values in a map. Stored and returned slices are copies.
type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (m *MemDB) Put(key, value []byte) error {
	return m.WriteBatch([]Entry{{Key: key, Value: value}})
}

func (m *MemDB) WriteBatch(entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range entries {
		m.data[string(entry.Key)] = bytes.Clone(entry.Value)
	}
	return nil
}

func (m *MemDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(value), nil
}

func (m *MemDB) Delete(key []byte) error {
	m.mu.Lock()
	delete(m.data, string(key))
	m.mu.Unlock()
	return nil
}

// Iterate works on a copy taken under the read lock, so fn may write to the
// same MemDB.
func (m *MemDB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	matched := make([]Entry, 0, len(m.data))
	for k, v := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			matched = append(matched, Entry{Key: []byte(k), Value: bytes.Clone(v)})
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return bytes.Compare(matched[i].Key, matched[j].Key) < 0
	})
	for _, entry := range matched {
		if !fn(entry.Key, entry.Value) {
			break
		}
	}
	return nil
}

func (m *MemDB) Close() {}

// LevelDB persists to a goleveldb directory.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens the database at path, creating it when missing.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) WriteBatch(entries []Entry) error {
	batch := new(leveldb.Batch)
	for _, entry := range entries {
		batch.Put(entry.Key, entry.Value)
	}
	return l.db.Write(batch, nil)
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if !fn(bytes.Clone(iter.Key()), bytes.Clone(iter.Value())) {
			break
		}
	}
	return iter.Error()
}

func (l *LevelDB) Close() {
	_ = l.db.Close()
}

var boltBucket = []byte("cdp")

// BoltDB keeps every key in a single bbolt bucket. It suits operators who
// want the snapshot store in one file.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB opens the bbolt file at path, creating it when missing.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Put(key, value []byte) error {
	return b.WriteBatch([]Entry{{Key: key, Value: value}})
}

func (b *BoltDB) WriteBatch(entries []Entry) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		for _, entry := range entries {
			if err := bucket.Put(entry.Key, entry.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltDB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltBucket).Get(key)
		if raw == nil {
			return ErrNotFound
		}
		value = bytes.Clone(raw)
		return nil
	})
	return value, err
}

func (b *BoltDB) Delete(key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(key)
	})
}

// Iterate collects matches inside a read transaction and calls fn after it
// closes, so fn may write to the same store.
func (b *BoltDB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	var matched []Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			matched = append(matched, Entry{Key: bytes.Clone(k), Value: bytes.Clone(v)})
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, entry := range matched {
		if !fn(entry.Key, entry.Value) {
			break
		}
	}
	return nil
}

func (b *BoltDB) Close() {
	_ = b.db.Close()
}

// Backends accepted by Open.
const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Open opens a persistent store. An empty backend means LevelDB, which
// treats path as a directory; bolt treats it as a file.
func Open(backend, path string) (Database, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendLevelDB:
		return NewLevelDB(path)
	case BackendBolt:
		return NewBoltDB(path)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
