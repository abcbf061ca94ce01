package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("reads yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kmscap.yaml")
		require.NoError(t, os.WriteFile(path, []byte("card_path: /dev/dri/card1\nmonitor: DP-1\nfps: 30\n"), 0o600))

		cfg, err := Load(path, nil)

		require.NoError(t, err)
		assert.Equal(t, "/dev/dri/card1", cfg.CardPath)
		assert.Equal(t, "DP-1", cfg.Monitor)
		assert.Equal(t, 30, cfg.FPS)
		assert.Equal(t, "h264", cfg.Codec)
	})

	t.Run("flags override file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kmscap.yaml")
		require.NoError(t, os.WriteFile(path, []byte("monitor: DP-1\n"), 0o600))

		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		fs.String("monitor", "screen", "")
		fs.Int("fps", 60, "")
		require.NoError(t, fs.Parse([]string{"--monitor", "HDMI-A-1"}))

		cfg, err := Load(path, fs)

		require.NoError(t, err)
		assert.Equal(t, "HDMI-A-1", cfg.Monitor)
		assert.Equal(t, 60, cfg.FPS, "unchanged flags must not clobber defaults")
	})

	t.Run("env overrides defaults", func(t *testing.T) {
		t.Setenv("KMSCAP_CODEC", "hevc")
		path := filepath.Join(t.TempDir(), "kmscap.yaml")
		require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))

		cfg, err := Load(path, nil)

		require.NoError(t, err)
		assert.Equal(t, "hevc", cfg.Codec)
	})
}

func TestValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		cfg := Default()
		assert.Empty(t, cfg.Validate())
	})

	t.Run("reports every bad field", func(t *testing.T) {
		cfg := Default()
		cfg.CardPath = "/tmp/card0"
		cfg.Codec = "vp9"
		cfg.Monitor = " "
		cfg.LogFormat = "xml"

		errs := cfg.Validate()

		assert.Len(t, errs, 4)
	})

	t.Run("clamps fps", func(t *testing.T) {
		cfg := Default()
		cfg.FPS = 0
		assert.Empty(t, cfg.Validate())
		assert.Equal(t, minFPS, cfg.FPS)

		cfg.FPS = 1000
		assert.Empty(t, cfg.Validate())
		assert.Equal(t, maxFPS, cfg.FPS)
	})
}
