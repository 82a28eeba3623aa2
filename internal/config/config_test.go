package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lilithos/internal/kernel/image"
	"lilithos/internal/kernel/patcher"
	"lilithos/internal/logger"
)

func TestLoad(t *testing.T) {
	cfg, err := Load("testdata/config.toml")
	require.NoError(t, err)

	require.Equal(t, "iPhone4,1", cfg.Device)
	require.Equal(t, "9.3.6", cfg.Version)
	require.Equal(t, "downloads", cfg.Downloads)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	require.Equal(t, logger.Info, level)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	require.Equal(t, patcher.PolicyAbort, policy)

	table := cfg.Table()
	require.Equal(t, 3, table.Len())
	first := table.Descriptor(0)
	require.Equal(t, uint64(0x12345678), first.Offset)
	require.Equal(t, uint32(0xE3500000), first.Original)
	require.Equal(t, uint32(0xE3A00000), first.Patched)
	require.Equal(t, "Disable code signing", first.Description)
}

func TestLoadNotExist(t *testing.T) {
	_, err := Load("testdata/not exist.toml")
	require.Error(t, err)
}

func TestLoadBytesDefaults(t *testing.T) {
	cfg, err := LoadBytes(nil)
	require.NoError(t, err)

	require.Equal(t, "iPhone4,1", cfg.Device)
	require.Equal(t, "9.3.6", cfg.Version)
	require.Equal(t, "downloads", cfg.Downloads)
	require.Equal(t, "info", cfg.Logger.Level)
	require.Equal(t, "continue", cfg.Patcher.Policy)
	require.Equal(t, "offsets.cache", cfg.Patcher.Cache)
	require.Equal(t, uint64(image.DefaultKernelBase), cfg.Patcher.Base)
	require.Empty(t, cfg.Patches)
	require.Equal(t, 0, cfg.Table().Len())
}

func TestLoadBytesInvalid(t *testing.T) {
	_, err := LoadBytes([]byte{0x00})
	require.Error(t, err)

	_, err = LoadBytes([]byte(`
[logger]
  level = "loud"
`))
	require.Error(t, err)

	_, err = LoadBytes([]byte(`
[patcher]
  policy = "retry"
`))
	require.Error(t, err)
}
