package config

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 9034, cfg.Port)
	assert.Equal(t, Size(256), cfg.BufferSize)
	assert.True(t, cfg.Drain())
	assert.Equal(t, ":9034", cfg.Addr())
}

func TestLoadToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	content := `
host = "127.0.0.1"
port = 7000
buffer_size = "4KiB"
strategy = "bitset"
capacity = 2
timeout = "250ms"
accept_drain = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr())
	assert.Equal(t, Size(4096), cfg.BufferSize)
	assert.Equal(t, StrategyBitset, cfg.Strategy)
	assert.Equal(t, 2, cfg.Capacity)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout.Duration)
	assert.True(t, cfg.Drain())
	// untouched keys keep their defaults
	assert.Equal(t, DefaultFlushTimeout, cfg.FlushTimeout.Duration)
	assert.NoError(t, cfg.Validate())
}

func TestLoadNumericBufferSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte("buffer_size = 512\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Size(512), cfg.BufferSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestBitsetDefaultsToSingleAccept(t *testing.T) {
	cfg := Default()
	cfg.Strategy = StrategyBitset
	assert.False(t, cfg.Drain())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Strategy = StrategyBitset
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, "bitset without capacity")

	cfg = Default()
	cfg.Strategy = "epoll"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = Default()
	cfg.BufferSize = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = Default()
	cfg.Port = 70000
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestSizeText(t *testing.T) {
	var s Size
	require.NoError(t, s.UnmarshalText([]byte("1k")))
	assert.Equal(t, Size(1024), s)
	assert.Equal(t, "1KiB", s.String())
	assert.Error(t, s.UnmarshalText([]byte("lots")))
}
