package addrbook

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "addrbook-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	cfg := DefaultConfig()
	cfg.AllowPrivate = true
	cfg.PersistencePath = dir
	b := New(cfg)
	require.NoError(t, b.Add(ep("203.0.113.1", 9000), "manual"))
	require.NoError(t, b.Add(ep("203.0.113.2", 9000), "manual"))
	b.RecordSuccess(ep("203.0.113.1", 9000))

	require.NoError(t, b.Save())

	b2 := New(cfg)
	require.NoError(t, b2.Load())
	require.Equal(t, 2, b2.Len())

	got, ok := b2.Get(ep("203.0.113.1", 9000))
	require.True(t, ok)
	require.EqualValues(t, 1, got.SuccessCount)
}

func TestSaveLoadEncrypted(t *testing.T) {
	dir, err := ioutil.TempDir("", "addrbook-enc-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	cfg := DefaultConfig()
	cfg.AllowPrivate = true
	cfg.PersistencePath = dir
	cfg.EncryptionPassphrase = "correct horse battery staple"
	b := New(cfg)
	require.NoError(t, b.Add(ep("203.0.113.9", 9000), "manual"))
	require.NoError(t, b.Save())

	b2 := New(cfg)
	require.NoError(t, b2.Load())
	require.Equal(t, 1, b2.Len())
}

func TestExportSnapshotWritesFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "addrbook-export-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	cfg := DefaultConfig()
	cfg.AllowPrivate = true
	b := New(cfg)
	require.NoError(t, b.Add(ep("203.0.113.1", 9000), "manual"))

	dst := dir + "/snapshot.json"
	require.NoError(t, b.ExportSnapshot(dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}
