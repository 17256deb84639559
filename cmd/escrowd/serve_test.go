package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	engineconfig "bountyescrow/config"
	"bountyescrow/services/escrowd"
)

func TestLoadEngineConfigPrefersServiceOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg := escrowd.Config{
		Engine:  filepath.Join(dir, "escrow.toml"),
		DataDir: filepath.Join(dir, "data"),
		Backend: "BBOLT",
	}
	engineCfg, err := loadEngineConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, cfg.DataDir, engineCfg.DataDir)
	require.Equal(t, engineconfig.BackendBolt, engineCfg.Backend)

	db, err := openStateDB(engineCfg)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)
	db.Close()
}

func TestOpenStateDBRejectsUnknownBackend(t *testing.T) {
	_, err := openStateDB(&engineconfig.Config{Backend: "rocksdb"})
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	require.Equal(t, "escrowd dev\n", out.String())
}
