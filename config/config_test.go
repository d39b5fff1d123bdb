package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	defaults := NewDefaultConfig()

	assert.Equal(t, defaultZKConnStr, defaults.ZKConnStr)
	assert.Equal(t, defaultZKSessionTimeout, defaults.ZKSessionTimeout)
	assert.Equal(t, defaultZKSpinDelay, defaults.ZKSpinDelay)
	assert.Equal(t, defaultZKRetries, defaults.ZKRetries)
	assert.Equal(t, defaultLogLevel, defaults.LogLevel)
}

func TestParse(t *testing.T) {
	t.Run("requires path", func(t *testing.T) {
		_, err := Parse([]string{"--zk-conn-str", "127.0.0.1:2181"})
		assert.Equal(t, errMissingPath, err)
	})

	t.Run("requires zk-conn-str", func(t *testing.T) {
		_, err := Parse([]string{"--path", "/manatee/1.moray.coal.joyent.us", "--zk-conn-str", ""})
		assert.Equal(t, errMissingConnStr, err)
	})

	t.Run("parses provided flags", func(t *testing.T) {
		cfg, err := Parse([]string{
			"--path", "/manatee/1.moray.coal.joyent.us",
			"--zk-conn-str", "10.0.0.1:2181,10.0.0.2:2181",
			"--log-level", "debug",
		})
		assert.NoError(t, err)
		assert.Equal(t, "/manatee/1.moray.coal.joyent.us", cfg.Path)
		assert.Equal(t, "10.0.0.1:2181,10.0.0.2:2181", cfg.ZKConnStr)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("substitutes $VAR args from the environment", func(t *testing.T) {
		os.Setenv("MANATEE_TOPOLOGY_TEST_PATH", "/manatee/env.moray.coal.joyent.us")
		defer os.Unsetenv("MANATEE_TOPOLOGY_TEST_PATH")

		cfg, err := Parse([]string{
			"--path", "$MANATEE_TOPOLOGY_TEST_PATH",
			"--zk-conn-str", "127.0.0.1:2181",
		})
		assert.NoError(t, err)
		assert.Equal(t, "/manatee/env.moray.coal.joyent.us", cfg.Path)
	})
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{Path: "/manatee/1.moray.coal.joyent.us"}
	assert.Equal(t, "/manatee/1.moray.coal.joyent.us/election", cfg.ElectionPath())
	assert.Equal(t, "/manatee/1.moray.coal.joyent.us/state", cfg.StatePath())
}
