// Package cmn provides common configuration and identifiers for obsxfer packages
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/dist"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// defaults
const (
	DefaultMaxPoolSize     = 10
	DefaultBaseTag         = 20000
	DefaultTagFactor       = 100
	DefaultMaxStringLength = 128
	DefaultReaderBaseTag   = 1
)

type (
	Config struct {
		IoPool    IoPoolConf    `json:"io_pool" yaml:"io_pool"`
		Transport TransportConf `json:"transport" yaml:"transport"`
		Obs       ObsConf       `json:"obs" yaml:"obs"`
		Log       LogConf       `json:"log" yaml:"log"`
	}

	IoPoolConf struct {
		// MaxPoolSize caps the number of ranks doing file I/O.
		MaxPoolSize int `json:"max_pool_size" yaml:"max_pool_size"`
		// WriteMultipleFiles: one output file per pool rank instead of one shared file.
		WriteMultipleFiles bool `json:"write_multiple_files" yaml:"write_multiple_files"`
		// PoolFile is the output path; with multiple files, the pool rank is appended.
		PoolFile string `json:"pool_file" yaml:"pool_file"`
	}

	TransportConf struct {
		BaseTag         int `json:"base_tag" yaml:"base_tag"`
		TagFactor       int `json:"tag_factor" yaml:"tag_factor"`
		MaxStringLength int `json:"max_string_length" yaml:"max_string_length"`
		ReaderBaseTag   int `json:"reader_base_tag" yaml:"reader_base_tag"`
	}

	ObsConf struct {
		// GroupingVars are MetaData variable names whose values, combined, form a record.
		GroupingVars []string         `json:"obsgrouping" yaml:"obsgrouping"`
		TimeWindow   *TimeWindowConf  `json:"time_window,omitempty" yaml:"time_window,omitempty"`
		Distribution DistributionConf `json:"distribution" yaml:"distribution"`
	}

	TimeWindowConf struct {
		Begin time.Time `json:"begin" yaml:"begin"`
		End   time.Time `json:"end" yaml:"end"`
	}

	DistributionConf struct {
		Name string         `json:"name" yaml:"name"`
		Halo *dist.HaloOpts `json:"halo,omitempty" yaml:"halo,omitempty"`
	}

	LogConf struct {
		Dir      string `json:"dir" yaml:"dir"`
		Level    int    `json:"level" yaml:"level"`
		ToStderr bool   `json:"to_stderr" yaml:"to_stderr"`
	}
)

func DefaultConfig() *Config {
	return &Config{
		IoPool: IoPoolConf{MaxPoolSize: DefaultMaxPoolSize},
		Transport: TransportConf{
			BaseTag:         DefaultBaseTag,
			TagFactor:       DefaultTagFactor,
			MaxStringLength: DefaultMaxStringLength,
			ReaderBaseTag:   DefaultReaderBaseTag,
		},
		Obs: ObsConf{Distribution: DistributionConf{Name: dist.RoundRobinName}},
		Log: LogConf{ToStderr: true},
	}
}

// LoadConfig reads YAML (.yaml, .yml) or JSON (anything else) on top of the
// defaults; fields absent from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, config)
	default:
		err = cos.JSON.Unmarshal(b, config)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %q", path)
	}
	return config, nil
}

// Validate checks the config for a world of the given size.
func (c *Config) Validate(worldSize int) error {
	if err := c.IoPool.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(worldSize); err != nil {
		return err
	}
	return c.Obs.Validate()
}

func (c *IoPoolConf) Validate() error {
	if c.MaxPoolSize < 1 {
		return errors.Errorf("invalid io_pool.max_pool_size %d (expecting >= 1)", c.MaxPoolSize)
	}
	return nil
}

func (c *TransportConf) Validate(worldSize int) error {
	if c.TagFactor <= worldSize {
		return errors.Errorf("invalid transport.tag_factor %d: must exceed the number of ranks (%d)", c.TagFactor, worldSize)
	}
	if c.MaxStringLength < 1 {
		return errors.Errorf("invalid transport.max_string_length %d", c.MaxStringLength)
	}
	if c.BaseTag < 0 || c.ReaderBaseTag < 0 {
		return errors.Errorf("invalid transport tags: base %d, reader base %d", c.BaseTag, c.ReaderBaseTag)
	}
	return nil
}

func (c *ObsConf) Validate() error {
	if w := c.TimeWindow; w != nil && !w.End.After(w.Begin) {
		return errors.Errorf("invalid obs.time_window: end %s must be after begin %s",
			w.End.Format(time.RFC3339), w.Begin.Format(time.RFC3339))
	}
	seen := make(map[string]struct{}, len(c.GroupingVars))
	for _, name := range c.GroupingVars {
		if name == "" {
			return errors.New("obs.obsgrouping: empty variable name")
		}
		if _, ok := seen[name]; ok {
			return errors.Errorf("obs.obsgrouping: duplicate variable %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
