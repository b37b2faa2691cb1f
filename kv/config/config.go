package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap-incubator/tinydoc/pkg/repl"
	"github.com/pingcap-incubator/tinydoc/pkg/typeutil"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the data node configuration.
type Config struct {
	*flag.FlagSet `toml:"-" json:"-"`

	StatusAddr string `toml:"status-addr" json:"status-addr"`

	Replication ReplicationConfig `toml:"replication" json:"replication"`
	FLE         FLEConfig         `toml:"fle" json:"fle"`
	Txn         TxnConfig         `toml:"txn" json:"txn"`

	Log log.Config `toml:"log" json:"log"`

	configFile string

	// For all warnings during parsing.
	WarningMsgs []string

	logger   *zap.Logger
	logProps *log.ZapProperties
}

// ReplicationConfig decides whether the node is a replica set member.
type ReplicationConfig struct {
	Mode        string `toml:"mode" json:"mode"`
	ReplSetName string `toml:"repl-set-name" json:"repl-set-name"`
}

// FLEConfig configures the encrypted CRUD path.
type FLEConfig struct {
	PoolName string `toml:"pool-name" json:"pool-name"`
}

// TxnConfig configures the internal retryable transaction runtime.
type TxnConfig struct {
	MaxAttempts    int               `toml:"max-attempts" json:"max-attempts"`
	InitialBackoff typeutil.Duration `toml:"initial-backoff" json:"initial-backoff"`
	MaxBackoff     typeutil.Duration `toml:"max-backoff" json:"max-backoff"`
}

const (
	defaultStatusAddr     = "127.0.0.1:27080"
	defaultReplMode       = "replset"
	defaultReplSetName    = "rs0"
	defaultFLEPoolName    = "FLECrud"
	defaultMaxAttempts    = 10
	defaultInitialBackoff = 10 * time.Millisecond
	defaultMaxBackoff     = time.Second
)

// NewConfig creates a new config with the command line flags registered.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.FlagSet = flag.NewFlagSet("tinydoc-server", flag.ContinueOnError)
	fs := cfg.FlagSet

	fs.StringVar(&cfg.configFile, "config", "", "Config file")
	fs.StringVar(&cfg.StatusAddr, "status-addr", "", "status and metrics address")
	fs.StringVar(&cfg.Replication.Mode, "repl-mode", "", "replication mode: none or replset (default 'replset')")
	fs.StringVar(&cfg.Replication.ReplSetName, "repl-set-name", "", "replica set name")
	fs.StringVar(&cfg.Log.Level, "L", "", "log level: debug, info, warn, error, fatal (default 'info')")
	fs.StringVar(&cfg.Log.File.Filename, "log-file", "", "log file path")
	return cfg
}

// NewTestConfig returns an adjusted config for a replica set member.
func NewTestConfig() *Config {
	cfg := &Config{}
	if err := cfg.Adjust(nil); err != nil {
		panic(err)
	}
	return cfg
}

// Parse parses flag definitions from the argument list.
func (c *Config) Parse(arguments []string) error {
	// Parse first to get config file.
	err := c.FlagSet.Parse(arguments)
	if err != nil {
		return errors.WithStack(err)
	}

	var meta *toml.MetaData
	if c.configFile != "" {
		meta, err = c.configFromFile(c.configFile)
		if err != nil {
			return err
		}
	}

	// Parse again to replace with command line options.
	err = c.FlagSet.Parse(arguments)
	if err != nil {
		return errors.WithStack(err)
	}
	if len(c.FlagSet.Args()) != 0 {
		return errors.Errorf("'%s' is an invalid flag", c.FlagSet.Arg(0))
	}
	return c.Adjust(meta)
}

// Adjust fills the unset items with defaults and validates the result.
func (c *Config) Adjust(meta *toml.MetaData) error {
	if meta != nil {
		if undecoded := meta.Undecoded(); len(undecoded) != 0 {
			msg := "Config contains undefined item: "
			for i, key := range undecoded {
				if i > 0 {
					msg += ", "
				}
				msg += key.String()
			}
			c.WarningMsgs = append(c.WarningMsgs, msg)
		}
	}

	adjustString(&c.StatusAddr, defaultStatusAddr)
	adjustString(&c.Replication.Mode, defaultReplMode)
	adjustString(&c.Replication.ReplSetName, defaultReplSetName)
	adjustString(&c.FLE.PoolName, defaultFLEPoolName)
	if c.Txn.MaxAttempts == 0 {
		c.Txn.MaxAttempts = defaultMaxAttempts
	}
	adjustDuration(&c.Txn.InitialBackoff, defaultInitialBackoff)
	adjustDuration(&c.Txn.MaxBackoff, defaultMaxBackoff)
	return c.Validate()
}

// Validate checks the adjusted config.
func (c *Config) Validate() error {
	if _, err := repl.ParseMode(c.Replication.Mode); err != nil {
		return err
	}
	if c.Txn.MaxAttempts < 0 {
		return errors.Errorf("txn.max-attempts must not be negative, got %d", c.Txn.MaxAttempts)
	}
	if c.Txn.MaxBackoff.Duration < c.Txn.InitialBackoff.Duration {
		return errors.Errorf("txn.max-backoff %s is less than txn.initial-backoff %s",
			c.Txn.MaxBackoff, c.Txn.InitialBackoff)
	}
	return nil
}

// ReplicationMode returns the parsed replication mode.
func (c *Config) ReplicationMode() repl.Mode {
	mode, err := repl.ParseMode(c.Replication.Mode)
	if err != nil {
		return repl.ModeNone
	}
	return mode
}

func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "<nil>"
	}
	return string(data)
}

func (c *Config) configFromFile(path string) (*toml.MetaData, error) {
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("load config %s", path))
	}
	return &meta, nil
}

// SetupLogger setup the logger.
func (c *Config) SetupLogger() error {
	lg, p, err := log.InitLogger(&c.Log, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return err
	}
	c.logger = lg
	c.logProps = p
	return nil
}

// GetZapLogger gets the created zap logger.
func (c *Config) GetZapLogger() *zap.Logger {
	return c.logger
}

// GetZapLogProperties gets properties of the zap logger.
func (c *Config) GetZapLogProperties() *log.ZapProperties {
	return c.logProps
}

func adjustString(v *string, defValue string) {
	if len(*v) == 0 {
		*v = defValue
	}
}

func adjustDuration(v *typeutil.Duration, defValue time.Duration) {
	if v.Duration == 0 {
		v.Duration = defValue
	}
}
