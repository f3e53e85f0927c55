package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOuterConfigMissingFile(t *testing.T) {
	config, err := LoadOuterConfig(filepath.Join(t.TempDir(), "nope.yml"))
	require.NoError(t, err)
	assert.Equal(t, LocalConfig{}, config)
}

func TestLoadOuterConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "outer.yml")
	content := "serverPort: 4000\ndbPath: /tmp/outer-test.db\nupstreamUrl: http://upstream:9999\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	config, err := LoadOuterConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, 4000, config.ServerPort)
	assert.Equal(t, "/tmp/outer-test.db", config.DBPath)
	assert.Equal(t, "http://upstream:9999", config.UpstreamURL)
}

func TestLoadOuterConfigInvalidPort(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "outer.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("serverPort: 99999\n"), 0644))

	_, err := LoadOuterConfig(configPath)
	assert.Error(t, err)
}

func TestApplyConfigEnv(t *testing.T) {
	t.Setenv("OUTER_SERVER_PORT", "")
	t.Setenv("OUTER_DB_PATH", "already-set.db")
	os.Unsetenv("OUTER_SERVER_PORT")

	ApplyConfigEnv(LocalConfig{ServerPort: 4100, DBPath: "from-config.db"})

	assert.Equal(t, "4100", os.Getenv("OUTER_SERVER_PORT"))
	// env wins over config
	assert.Equal(t, "already-set.db", os.Getenv("OUTER_DB_PATH"))
}

func TestGetServerPortDefault(t *testing.T) {
	t.Setenv("OUTER_SERVER_PORT", "")
	os.Unsetenv("OUTER_SERVER_PORT")
	assert.Equal(t, 3000, GetServerPort())

	t.Setenv("OUTER_SERVER_PORT", "3210")
	assert.Equal(t, 3210, GetServerPort())
}
