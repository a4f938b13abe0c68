package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvmarrod/link-weaver/internal/config"
)

func TestParseSeed(t *testing.T) {
	u, err := parseSeed("https://example.com/docs/")
	require.NoError(t, err)
	assert.Equal(t, "example.com", u.Host)

	for _, raw := range []string{"", "ftp://example.com/", "http://", "://bad"} {
		_, err := parseSeed(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseAuth(t *testing.T) {
	auth, err := parseAuth("")
	require.NoError(t, err)
	assert.Nil(t, auth)

	auth, err = parseAuth("user:pa:ss")
	require.NoError(t, err)
	assert.Equal(t, "user", auth.Username)
	assert.Equal(t, "pa:ss", auth.Password)

	_, err = parseAuth("nopassword")
	assert.Error(t, err)
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := loadConfig(defaultConfigPath)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = loadConfig(filepath.Join(dir, "other.json"))
	assert.Error(t, err)
}
