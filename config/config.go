package config

import (
	"flag"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Config holds the configuration needed to watch a single Manatee shard.
type Config struct {
	// Path is the ZK path of the shard, e.g. "/manatee/1.moray.coal.joyent.us".
	// The election and cluster-state nodes are derived from it.
	Path string

	// ZKConnStr is a comma-separated "host:port" list of the ZK ensemble.
	ZKConnStr string

	// ZKSessionTimeout is forwarded to the underlying ZK session.
	ZKSessionTimeout time.Duration

	// ZKSpinDelay is carried into zookeeper.ConnectOpts; the ZK client in
	// use takes no spin-delay option, so it has no effect on the session.
	ZKSpinDelay time.Duration

	// ZKRetries is carried into zookeeper.ConnectOpts; the ZK client in use
	// takes no retry-count option, so it has no effect on the session.
	ZKRetries int

	LogLevel string

	// TopologyCachePath, if non-empty, is where the last published
	// Topology is persisted as JSON between sessions.
	TopologyCachePath string
}

// Default values for config fields.
const (
	defaultPath              = ""
	defaultZKConnStr         = "127.0.0.1:2181"
	defaultZKSessionTimeout  = 5 * time.Second
	defaultZKSpinDelay       = 1 * time.Second
	defaultZKRetries         = 3
	defaultLogLevel          = "info"
	defaultTopologyCachePath = ""
)

const (
	optPath              = "path"
	optZKConnStr         = "zk-conn-str"
	optZKSessionTimeout  = "zk-session-timeout"
	optZKSpinDelay       = "zk-spin-delay"
	optZKRetries         = "zk-retries"
	optLogLevel          = "log-level"
	optTopologyCachePath = "topology-cache"
)

var (
	errMissingPath    = errors.New("config: \"path\" is required")
	errMissingConnStr = errors.New("config: \"zk-conn-str\" is required")
)

// NewDefaultConfig returns a Config populated with the package defaults.
func NewDefaultConfig() *Config {
	// Don't use keyed literals so we get errors at compile time when new
	// config fields get added.
	return &Config{
		defaultPath,
		defaultZKConnStr,
		defaultZKSessionTimeout,
		defaultZKSpinDelay,
		defaultZKRetries,
		defaultLogLevel,
		defaultTopologyCachePath,
	}
}

// replaceEnvVariables replaces any argument beginning with "$" with the
// value of the environment variable it names.
func replaceEnvVariables(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		if len(arg) > 0 && arg[0] == '$' {
			result[i] = os.Getenv(arg[1:])
		} else {
			result[i] = arg
		}
	}
	return result
}

// Parse builds a Config from CLI-style args, falling back to the package
// defaults for anything not provided. "path" and "zk-conn-str" are required.
func Parse(args []string) (*Config, error) {
	cfg := NewDefaultConfig()
	args = replaceEnvVariables(args)

	cliArgs := flag.NewFlagSet("cli-args", flag.ContinueOnError)
	cliArgs.StringVar(&cfg.Path, optPath, cfg.Path, "The ZK path of the shard to watch.")
	cliArgs.StringVar(&cfg.ZKConnStr, optZKConnStr, cfg.ZKConnStr, "Comma-separated host:port list of the ZK ensemble.")
	cliArgs.DurationVar(&cfg.ZKSessionTimeout, optZKSessionTimeout, cfg.ZKSessionTimeout, "ZK session timeout.")
	cliArgs.DurationVar(&cfg.ZKSpinDelay, optZKSpinDelay, cfg.ZKSpinDelay, "ZK spin delay (accepted; not applied to the ZK session).")
	cliArgs.IntVar(&cfg.ZKRetries, optZKRetries, cfg.ZKRetries, "ZK retry count (accepted; not applied to the ZK session).")
	cliArgs.StringVar(&cfg.LogLevel, optLogLevel, cfg.LogLevel, "The output logging level.")
	cliArgs.StringVar(&cfg.TopologyCachePath, optTopologyCachePath, cfg.TopologyCachePath, "Filesystem path used to persist the last published topology.")

	if err := cliArgs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "could not parse arguments")
	}

	if cfg.Path == "" {
		return nil, errMissingPath
	}
	if cfg.ZKConnStr == "" {
		return nil, errMissingConnStr
	}

	return cfg, nil
}

// ElectionPath is the ZK path of the election directory for this shard.
func (c *Config) ElectionPath() string {
	return c.Path + "/election"
}

// StatePath is the ZK path of the cluster-state node for this shard.
func (c *Config) StatePath() string {
	return c.Path + "/state"
}
