package blob

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadBlob(t *testing.T) {

	data := []byte("test")

	store, fs := defaultStore(t)

	err := store.Save("/certs/agent.pem", data, PERM_PUBLIC)
	assert.Nil(t, err)

	persisted, err := store.Load("/certs/agent.pem")
	assert.Nil(t, err)
	assert.Equal(t, data, persisted)

	info, err := fs.Stat(TEST_ROOT_DIR + "/certs/agent.pem")
	require.NoError(t, err)
	assert.Equal(t, PERM_PUBLIC, info.Mode().Perm())

	// no temp files left behind
	entries, err := afero.ReadDir(fs, TEST_ROOT_DIR+"/certs")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveReplacesBlob(t *testing.T) {

	store, _ := defaultStore(t)

	assert.Nil(t, store.Save("key.pem", []byte("one"), PERM_PRIVATE))
	assert.Nil(t, store.Save("key.pem", []byte("two"), PERM_PRIVATE))

	persisted, err := store.Load("key.pem")
	assert.Nil(t, err)
	assert.Equal(t, []byte("two"), persisted)
}

func TestLoadMissingBlob(t *testing.T) {

	store, _ := defaultStore(t)

	_, err := store.Load("missing.pem")
	assert.ErrorIs(t, err, ErrBlobNotFound)
	assert.False(t, store.Exists("missing.pem"))
}

func TestDeleteBlob(t *testing.T) {

	store, _ := defaultStore(t)

	assert.Nil(t, store.Save("csr.pem", []byte("csr"), PERM_PUBLIC))
	assert.True(t, store.Exists("csr.pem"))

	assert.Nil(t, store.Delete("csr.pem"))
	assert.False(t, store.Exists("csr.pem"))

	assert.ErrorIs(t, store.Delete("csr.pem"), ErrBlobNotFound)
}

func TestAppendBlob(t *testing.T) {

	store, _ := defaultStore(t)

	assert.Nil(t, store.Append("inventory.txt", []byte("a\n"), PERM_PUBLIC))
	assert.Nil(t, store.Append("inventory.txt", []byte("b\n"), PERM_PUBLIC))

	persisted, err := store.Load("inventory.txt")
	assert.Nil(t, err)
	assert.Equal(t, "a\nb\n", string(persisted))
}

func TestTouchAndModTime(t *testing.T) {

	store, _ := defaultStore(t)

	_, err := store.ModTime("crl.pem")
	assert.ErrorIs(t, err, ErrBlobNotFound)
	assert.ErrorIs(t, store.Touch("crl.pem", time.Now()), ErrBlobNotFound)

	assert.Nil(t, store.Save("crl.pem", []byte("crl"), PERM_PUBLIC))
	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Nil(t, store.Touch("crl.pem", mtime))

	persisted, err := store.ModTime("crl.pem")
	assert.Nil(t, err)
	assert.True(t, mtime.Equal(persisted))
}

func TestListBlobs(t *testing.T) {

	store, _ := defaultStore(t)

	keys, err := store.List("requests", ".pem")
	assert.Nil(t, err)
	assert.Empty(t, keys)

	for _, name := range []string{"b.pem", "a.pem", "c.txt"} {
		assert.Nil(t, store.Save("requests/"+name, []byte(name), PERM_PUBLIC))
	}

	keys, err = store.List("requests", ".pem")
	assert.Nil(t, err)
	assert.Equal(t, []string{"requests/a.pem", "requests/b.pem"}, keys)
}

func TestLiteralPaths(t *testing.T) {

	fs := afero.NewMemMapFs()
	store, err := NewFSBlobStore(nil, fs, "")
	require.NoError(t, err)

	assert.Nil(t, store.Save("/var/lib/ca/serial", []byte("0001"), PERM_PUBLIC))
	data, err := afero.ReadFile(fs, "/var/lib/ca/serial")
	assert.Nil(t, err)
	assert.Equal(t, "0001", string(data))
}
