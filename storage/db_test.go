package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	_, err := db.Get([]byte("missing"))
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, db.Put([]byte("cdp/a"), []byte("1")))
	require.NoError(t, db.Put([]byte("cdp/c"), []byte("3")))
	require.NoError(t, db.Put([]byte("cdp/b"), []byte("2")))
	require.NoError(t, db.Put([]byte("other"), []byte("x")))

	value, err := db.Get([]byte("cdp/b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), value)

	var keys []string
	require.NoError(t, db.Iterate([]byte("cdp/"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	}))
	require.Equal(t, []string{"cdp/a", "cdp/b", "cdp/c"}, keys)

	keys = keys[:0]
	require.NoError(t, db.Iterate([]byte("cdp/"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return len(keys) < 2
	}))
	require.Len(t, keys, 2)

	require.NoError(t, db.Delete([]byte("cdp/a")))
	_, err = db.Get([]byte("cdp/a"))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'z'
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestWriteBatch(t *testing.T) {
	mem := NewMemDB()
	level, err := NewLevelDB(filepath.Join(t.TempDir(), "batch"))
	require.NoError(t, err)
	defer level.Close()

	boltStore, err := NewBoltDB(filepath.Join(t.TempDir(), "batch.db"))
	require.NoError(t, err)
	defer boltStore.Close()

	for name, db := range map[string]Database{"mem": mem, "leveldb": level, "bolt": boltStore} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.WriteBatch([]Entry{
				{Key: []byte("snap/0"), Value: []byte("envelope")},
				{Key: []byte("snap/latest"), Value: []byte("0")},
			}))
			latest, err := db.Get([]byte("snap/latest"))
			require.NoError(t, err)
			require.Equal(t, []byte("0"), latest)
			env, err := db.Get([]byte("snap/0"))
			require.NoError(t, err)
			require.Equal(t, []byte("envelope"), env)
		})
	}
}

func TestBoltDB(t *testing.T) {
	db, err := NewBoltDB(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestOpenBackends(t *testing.T) {
	dir := t.TempDir()
	level, err := Open("", filepath.Join(dir, "level"))
	require.NoError(t, err)
	require.IsType(t, &LevelDB{}, level)
	level.Close()

	boltStore, err := Open(" Bolt ", filepath.Join(dir, "snap.db"))
	require.NoError(t, err)
	require.IsType(t, &BoltDB{}, boltStore)
	boltStore.Close()

	_, err = Open("rocksdb", filepath.Join(dir, "x"))
	require.Error(t, err)
}
