// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "ROUND_PUBLISHER_CONFIG"

// Environment is the deployment type.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the complete round-publisher configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths   PathsConfig   `yaml:"paths"`
	Storage StorageConfig `yaml:"storage"`
	Chain   ChainConfig   `yaml:"chain"`
	Indexer IndexerConfig `yaml:"indexer"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the per-environment sections. Only non-zero fields
// are applied.
type Overrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Storage *StorageConfig `yaml:"storage,omitempty"`
	Chain   *ChainConfig   `yaml:"chain,omitempty"`
	Indexer *IndexerConfig `yaml:"indexer,omitempty"`
}

// PathsConfig locates on-disk state.
type PathsConfig struct {
	// Root is the base directory. ${ROOT} in the other paths expands
	// to it.
	Root string `yaml:"root"`

	// Store is the content store directory.
	Store string `yaml:"store"`

	// ResultLog receives one JSON line per status change. Empty
	// disables it.
	ResultLog string `yaml:"result_log"`

	// History is the SQLite attempt history. Empty disables it.
	History string `yaml:"history"`
}

// StorageConfig configures the content store.
type StorageConfig struct {
	// Compression is none, lz4, or zstd.
	Compression string `yaml:"compression"`
}

// ChainConfig configures the local development chain and its signer.
type ChainConfig struct {
	ChainID uint64 `yaml:"chain_id"`

	// Genesis is the head block before the first deployment.
	Genesis uint64 `yaml:"genesis"`

	// SignerSeed derives the development wallet.
	SignerSeed string `yaml:"signer_seed"`
}

// IndexerConfig configures how the pipeline waits for indexing.
type IndexerConfig struct {
	// Endpoint is a subgraph GraphQL URL. Empty follows the local
	// chain instead.
	Endpoint string `yaml:"endpoint"`

	PollInterval string `yaml:"poll_interval"`
	Timeout      string `yaml:"timeout"`
	MaxFailures  int    `yaml:"max_failures"`

	// Lag and Step shape the local indexer: how many blocks it starts
	// behind the head and how many it catches up per poll.
	Lag  uint64 `yaml:"lag"`
	Step uint64 `yaml:"step"`
}

// PollIntervalDuration parses PollInterval.
func (c IndexerConfig) PollIntervalDuration() (time.Duration, error) {
	return parseDuration("indexer.poll_interval", c.PollInterval)
}

// TimeoutDuration parses Timeout. "0" or "off" disables the timeout
// and is reported as a negative duration.
func (c IndexerConfig) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "off" || c.Timeout == "0" {
		return -1, nil
	}
	return parseDuration("indexer.timeout", c.Timeout)
}

func parseDuration(field, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", field, value)
	}
	return duration, nil
}

// Default returns the configuration used when no file is given and
// the base every file is merged onto.
func Default() *Config {
	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:      "${XDG_DATA_HOME:-${HOME}/.local/share}/round-publisher",
			Store:     "${ROOT}/store",
			ResultLog: "",
			History:   "${ROOT}/history.db",
		},
		Storage: StorageConfig{Compression: "zstd"},
		Chain: ChainConfig{
			ChainID:    31337,
			Genesis:    0,
			SignerSeed: "round-publisher development wallet",
		},
		Indexer: IndexerConfig{
			PollInterval: "2s",
			Timeout:      "5m",
			MaxFailures:  5,
			Lag:          2,
			Step:         1,
		},
	}
}

// Load loads the file named by ROUND_PUBLISHER_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads path over Default, applies the section for its
// environment, and expands path variables.
func LoadFile(path string) (*Config, error) {
	config := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	config.applyEnvironmentOverrides()
	config.expandVariables()
	return config, nil
}

// Resolve picks the config source for a command: flagPath if set, then
// ROUND_PUBLISHER_CONFIG, then Default with variables expanded.
func Resolve(flagPath string) (*Config, error) {
	if flagPath != "" {
		return LoadFile(flagPath)
	}
	if os.Getenv(EnvironmentVariable) != "" {
		return Load()
	}
	config := Default()
	config.expandVariables()
	return config, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		override(&c.Paths.Root, paths.Root)
		override(&c.Paths.Store, paths.Store)
		override(&c.Paths.ResultLog, paths.ResultLog)
		override(&c.Paths.History, paths.History)
	}
	if storage := overrides.Storage; storage != nil {
		override(&c.Storage.Compression, storage.Compression)
	}
	if chain := overrides.Chain; chain != nil {
		override(&c.Chain.ChainID, chain.ChainID)
		override(&c.Chain.Genesis, chain.Genesis)
		override(&c.Chain.SignerSeed, chain.SignerSeed)
	}
	if indexer := overrides.Indexer; indexer != nil {
		override(&c.Indexer.Endpoint, indexer.Endpoint)
		override(&c.Indexer.PollInterval, indexer.PollInterval)
		override(&c.Indexer.Timeout, indexer.Timeout)
		override(&c.Indexer.MaxFailures, indexer.MaxFailures)
		override(&c.Indexer.Lag, indexer.Lag)
		override(&c.Indexer.Step, indexer.Step)
	}
}

func override[T comparable](target *T, value T) {
	var zero T
	if value != zero {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["ROOT"] = c.Paths.Root

	c.Paths.Store = expandVars(c.Paths.Store, vars)
	c.Paths.ResultLog = expandVars(c.Paths.ResultLog, vars)
	c.Paths.History = expandVars(c.Paths.History, vars)
}

// varPattern matches a reference with no reference nested inside it.
var varPattern = regexp.MustCompile(`\$\{([^${}:]+)(?::-([^${}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, preferring vars over
// the process environment. A default may itself hold one ${VAR}.
func expandVars(s string, vars map[string]string) string {
	lookup := func(name string) string {
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		return os.Getenv(name)
	}
	// Two passes: the first resolves references nested in a default.
	for range 2 {
		s = expandInnermost(s, lookup)
	}
	return s
}

func expandInnermost(s string, lookup func(string) string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := lookup(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]Environment{Development, Staging, Production}, c.Environment) {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.Root == "" {
		errs = append(errs, errors.New("paths.root is required"))
	}
	if c.Paths.Store == "" {
		errs = append(errs, errors.New("paths.store is required"))
	}
	if !slices.Contains([]string{"none", "lz4", "zstd"}, c.Storage.Compression) {
		errs = append(errs, fmt.Errorf("storage.compression must be one of none, lz4, zstd; got %q", c.Storage.Compression))
	}
	if c.Chain.ChainID == 0 {
		errs = append(errs, errors.New("chain.chain_id is required"))
	}
	if c.Chain.SignerSeed == "" {
		errs = append(errs, errors.New("chain.signer_seed is required"))
	}
	if endpoint := c.Indexer.Endpoint; endpoint != "" &&
		!strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		errs = append(errs, fmt.Errorf("indexer.endpoint must be an http(s) URL, got %q", endpoint))
	}
	if _, err := c.Indexer.PollIntervalDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Indexer.TimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if c.Indexer.MaxFailures < 0 {
		errs = append(errs, errors.New("indexer.max_failures must not be negative"))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the configured directories.
func (c *Config) EnsurePaths() error {
	directories := []string{c.Paths.Root, c.Paths.Store}
	for _, file := range []string{c.Paths.ResultLog, c.Paths.History} {
		if file != "" {
			directories = append(directories, filepath.Dir(file))
		}
	}
	for _, directory := range directories {
		if directory == "" {
			continue
		}
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}
