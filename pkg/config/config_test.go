package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtfodev/rtspd/pkg/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 7778, cfg.Port)
	assert.Equal(t, 8089, cfg.MjpegServerPort)
	assert.True(t, cfg.AuthRequired)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.env"))
	require.NoError(t, err)
	assert.Equal(t, config.Default().Port, cfg.Port)
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtspd.env")
	content := "port=9000\nmjpeg_server_quality=150\nback_camera_enabled=false\nuser.viewer=secret\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 100, cfg.MjpegServerQuality) // clamped from 150
	assert.False(t, cfg.BackCameraEnabled)
	assert.Equal(t, "secret", cfg.Users["viewer"])
}

func TestClampQualityBoundaries(t *testing.T) {
	cases := map[int]int{0: 10, 5: 10, 10: 10, 50: 50, 100: 100, 150: 100, -1: 10}
	for in, want := range cases {
		assert.Equal(t, want, config.ClampQuality(in), "input %d", in)
	}
}

func TestSanitizeProfileName(t *testing.T) {
	assert.Equal(t, "AB", config.SanitizeProfileName("A B"))
	assert.Equal(t, "ab", config.SanitizeProfileName("a/b"))
	assert.Equal(t, "", config.SanitizeProfileName(""))
}

func TestVideoProfileSetNameKeepsPreviousOnEmpty(t *testing.T) {
	p := config.DefaultVideoProfile("original")
	p.SetName("")
	assert.Equal(t, "original", p.Name)
	p.SetName("new name")
	assert.Equal(t, "newname", p.Name)
}

func TestValidateRejectsHTTPSWithoutCertificate(t *testing.T) {
	cfg := config.Default()
	cfg.UseHTTPS = true
	assert.Error(t, cfg.Validate())
}
