package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATOM_DATA_DIR", dir)
	c, err := New()
	require.NoError(t, err)
	require.Equal(t, dir, c.DataDir)
	require.Equal(t, "badger", c.Backend)
	require.Equal(t, "zstd", c.Compression)
	require.Equal(t, 512, c.NodeSize)
	require.Equal(t, 16, c.SubscriberBuffer)
	require.Equal(t, 2, c.DBLogLevel())
}

func TestEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATOM_DATA_DIR", dir)
	t.Setenv("DATOM_NODE_FANOUT", "8")
	file := "# tuned\nexport DATOM_BACKEND=memory\nDATOM_NODE_FANOUT=4\nDATOM_NODE_SIZE='64'\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(file), 0o600))
	c, err := New()
	require.NoError(t, err)
	require.Equal(t, "memory", c.Backend)
	require.Equal(t, 64, c.NodeSize)
	// the environment wins over the file
	require.Equal(t, 8, c.NodeFanout)

	var w bytes.Buffer
	c.PrintEnv(&w)
	require.Contains(t, w.String(), "export DATOM_BACKEND=memory\n")
	require.True(t, strings.HasPrefix(w.String(), "#!/usr/bin/env bash"))
}

func TestValidate(t *testing.T) {
	t.Setenv("DATOM_DATA_DIR", t.TempDir())
	for k, v := range map[string]string{
		"DATOM_BACKEND":           "leveldb",
		"DATOM_COMPRESSION":       "lz4",
		"DATOM_NODE_SIZE":         "1",
		"DATOM_SUBSCRIBER_BUFFER": "0",
	} {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			_, err := New()
			require.Error(t, err)
		})
	}
}
