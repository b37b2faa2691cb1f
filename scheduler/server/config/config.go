// Copyright 2016 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/pingcap-incubator/tinydoc/pkg/typeutil"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the config server configuration.
type Config struct {
	*flag.FlagSet `json:"-"`

	Version bool `json:"-"`

	ConfigCheck bool `json:"-"`

	Name string `toml:"name" json:"name"`
	Addr string `toml:"addr" json:"addr"`

	// ClusterRole is one of "configsvr", "shardsvr" or "none".
	ClusterRole string `toml:"cluster-role" json:"cluster-role"`
	ReplSetName string `toml:"repl-set-name" json:"repl-set-name"`

	// FeatureCompatibilityVersion gates features by version, e.g. "6.0".
	FeatureCompatibilityVersion string `toml:"feature-compatibility-version" json:"feature-compatibility-version"`
	// FeatureFlags force individual features on or off regardless of the
	// feature compatibility version.
	FeatureFlags map[string]bool `toml:"feature-flags" json:"feature-flags"`

	Balancer BalancerConfig `toml:"balancer" json:"balancer"`

	// Shards are registered in the shard registry at startup.
	Shards []ShardConfig `toml:"shard" json:"shard"`

	// Log related config.
	Log log.Config `toml:"log" json:"log"`

	configFile string

	// For all warnings during parsing.
	WarningMsgs []string

	logger   *zap.Logger
	logProps *log.ZapProperties
}

// NewConfig creates a new config.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.FlagSet = flag.NewFlagSet("config-server", flag.ContinueOnError)
	fs := cfg.FlagSet

	fs.BoolVar(&cfg.Version, "V", false, "print version information and exit")
	fs.BoolVar(&cfg.Version, "version", false, "print version information and exit")
	fs.StringVar(&cfg.configFile, "config", "", "Config file")
	fs.BoolVar(&cfg.ConfigCheck, "config-check", false, "check config file validity and exit")

	fs.StringVar(&cfg.Name, "name", "", "human-readable name for this config server")
	fs.StringVar(&cfg.Addr, "addr", "", "address the admin API listens on (default '127.0.0.1:27019')")
	fs.StringVar(&cfg.ClusterRole, "cluster-role", "", "cluster role: configsvr, shardsvr or none (default 'configsvr')")
	fs.StringVar(&cfg.FeatureCompatibilityVersion, "fcv", "", "feature compatibility version (default '6.0')")

	fs.StringVar(&cfg.Log.Level, "L", "", "log level: debug, info, warn, error, fatal (default 'info')")
	fs.StringVar(&cfg.Log.File.Filename, "log-file", "", "log file path")

	return cfg
}

const (
	defaultName        = "configsvr"
	defaultAddr        = "127.0.0.1:27019"
	defaultClusterRole = "configsvr"
	defaultReplSetName = "csrs"
	defaultFCV         = "6.0"

	defaultMaxChunkSize = typeutil.ByteSize(128 * units.MiB)
)

func adjustString(v *string, defValue string) {
	if len(*v) == 0 {
		*v = defValue
	}
}

func adjustByteSize(v *typeutil.ByteSize, defValue typeutil.ByteSize) {
	if *v == 0 {
		*v = defValue
	}
}

// Parse parses flag definitions from the argument list.
func (c *Config) Parse(arguments []string) error {
	// Parse first to get config file.
	err := c.FlagSet.Parse(arguments)
	if err != nil {
		return errors.WithStack(err)
	}

	// Load config file if specified.
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

// Validate checks the values Adjust cannot fix.
func (c *Config) Validate() error {
	if _, err := ParseClusterRole(c.ClusterRole); err != nil {
		return err
	}
	if _, err := ParseVersion(c.FeatureCompatibilityVersion); err != nil {
		return errors.Wrapf(err, "invalid feature-compatibility-version %q", c.FeatureCompatibilityVersion)
	}
	for name := range c.FeatureFlags {
		if _, err := ParseFeature(name); err != nil {
			return err
		}
	}
	if c.Balancer.ShardMigrationRate < 0 {
		return errors.Errorf("balancer.shard-migration-rate should not be negative, got %v", c.Balancer.ShardMigrationRate)
	}
	seen := make(map[string]struct{}, len(c.Shards))
	for _, s := range c.Shards {
		if err := ValidateShardID(s.ID); err != nil {
			return err
		}
		if _, ok := seen[s.ID]; ok {
			return errors.Errorf("duplicated shard %s", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Host == "" {
			return errors.Errorf("shard %s has no host", s.ID)
		}
	}
	return nil
}

// Utility to test if a configuration is defined.
type configMetaData struct {
	meta *toml.MetaData
	path []string
}

func newConfigMetadata(meta *toml.MetaData) *configMetaData {
	return &configMetaData{meta: meta}
}

func (m *configMetaData) IsDefined(key string) bool {
	if m.meta == nil {
		return false
	}
	keys := append([]string(nil), m.path...)
	keys = append(keys, key)
	return m.meta.IsDefined(keys...)
}

func (m *configMetaData) Child(path ...string) *configMetaData {
	newPath := append([]string(nil), m.path...)
	newPath = append(newPath, path...)
	return &configMetaData{
		meta: m.meta,
		path: newPath,
	}
}

func (m *configMetaData) CheckUndecoded() error {
	if m.meta == nil {
		return nil
	}
	undecoded := m.meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	errInfo := "Config contains undefined item: "
	for _, key := range undecoded {
		errInfo += key.String() + ", "
	}
	return errors.New(errInfo[:len(errInfo)-2])
}

// Adjust fills in defaults and validates the result.
func (c *Config) Adjust(meta *toml.MetaData) error {
	configMetaData := newConfigMetadata(meta)
	if err := configMetaData.CheckUndecoded(); err != nil {
		c.WarningMsgs = append(c.WarningMsgs, err.Error())
	}

	if c.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return err
		}
		adjustString(&c.Name, fmt.Sprintf("%s-%s", defaultName, hostname))
	}
	adjustString(&c.Addr, defaultAddr)
	adjustString(&c.ClusterRole, defaultClusterRole)
	adjustString(&c.ReplSetName, defaultReplSetName)
	adjustString(&c.FeatureCompatibilityVersion, defaultFCV)

	c.Balancer.adjust(configMetaData.Child("balancer"))

	return c.Validate()
}

// Clone returns a shallow copy of c.
func (c *Config) Clone() *Config {
	cfg := &Config{}
	*cfg = *c
	return cfg
}

func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "<nil>"
	}
	return string(data)
}

// configFromFile loads config from file.
func (c *Config) configFromFile(path string) (*toml.MetaData, error) {
	meta, err := toml.DecodeFile(path, c)
	return &meta, errors.WithStack(err)
}

// BalancerConfig is the balancer configuration.
type BalancerConfig struct {
	// MaxChunkSize is the size above which a chunk is jumbo and only
	// moves when forced.
	MaxChunkSize typeutil.ByteSize `toml:"max-chunk-size" json:"max-chunk-size"`
	// ShardMigrationRate limits the migrations per second a destination
	// shard accepts. 0 means unlimited.
	ShardMigrationRate float64 `toml:"shard-migration-rate" json:"shard-migration-rate"`
}

// Clone returns a copy of the balancer configuration.
func (c *BalancerConfig) Clone() *BalancerConfig {
	cfg := *c
	return &cfg
}

func (c *BalancerConfig) adjust(meta *configMetaData) {
	if !meta.IsDefined("max-chunk-size") {
		adjustByteSize(&c.MaxChunkSize, defaultMaxChunkSize)
	}
}

// ShardConfig seeds one shard.
type ShardConfig struct {
	ID   string `toml:"id" json:"id"`
	Host string `toml:"host" json:"host"`
}

// ClusterRole is the role a server plays in a sharded cluster.
type ClusterRole int

// Cluster roles.
const (
	RoleNone ClusterRole = iota
	RoleShardServer
	RoleConfigServer
)

func (r ClusterRole) String() string {
	switch r {
	case RoleShardServer:
		return "shardsvr"
	case RoleConfigServer:
		return "configsvr"
	}
	return "none"
}

// ParseClusterRole parses a role name as written in configuration files.
func ParseClusterRole(s string) (ClusterRole, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return RoleNone, nil
	case "shardsvr":
		return RoleShardServer, nil
	case "configsvr":
		return RoleConfigServer, nil
	}
	return RoleNone, errors.Errorf("unknown cluster role %q", s)
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
