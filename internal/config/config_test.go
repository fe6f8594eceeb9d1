package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.ListenAddr)
	assert.EqualValues(t, 8192, cfg.MaxUploadBytes)
	assert.Equal(t, 8, cfg.UsernameMinLen)
	assert.Equal(t, 32, cfg.UsernameMaxLen)
	assert.Equal(t, 8, cfg.IDLength)
	assert.Equal(t, 50, cfg.MaxQueryRows)
	assert.False(t, cfg.QueryAllEnabled)
	assert.True(t, cfg.UpdateNeedsID)
	assert.False(t, cfg.ResetOnStart, "boot must not wipe history unless asked")
	assert.Equal(t, "tracked", cfg.TableName)
	assert.Equal(t, "unknown", cfg.UnknownTitle)
	assert.Equal(t, time.Minute, cfg.ReaperInterval())
	assert.Equal(t, time.Hour, cfg.StalenessWindow())
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
listen_addr: ":9999"
max_query_rows: 10
query_all_enabled: true
reset_on_start: true
table_name: spotted
staleness_window_sec: 120
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 10, cfg.MaxQueryRows)
	assert.True(t, cfg.QueryAllEnabled)
	assert.True(t, cfg.ResetOnStart)
	assert.Equal(t, "spotted", cfg.TableName)
	assert.Equal(t, 2*time.Minute, cfg.StalenessWindow())
	// Untouched keys keep their defaults.
	assert.Equal(t, 8, cfg.IDLength)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsBadBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("username_min_len: 20\nusername_max_len: 10\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsEmptyTableName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`table_name: ""`+"\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
