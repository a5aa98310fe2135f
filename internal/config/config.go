/*
 * Copyright 2024 the urpc project
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads the optional YAML settings file. The listening
// port is not part of it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalid classifies validation failures.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type ServerConfig struct {
	NoDelay          bool   `yaml:"no_delay"`
	ReusePort        bool   `yaml:"reuse_port"` // off keeps a busy port a bind error
	KeepAliveSeconds int    `yaml:"keep_alive_seconds"`
	MaxBufferSize    int    `yaml:"max_buffer_size"`
	CallLogLevel     string `yaml:"call_log_level"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Server: ServerConfig{
			NoDelay:          true,
			KeepAliveSeconds: 15,
			MaxBufferSize:    4096,
			CallLogLevel:     "info",
		},
	}
}

// Load reads path over the defaults. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if "" == path {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if nil != err {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err = dec.Decode(&cfg); nil != err && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err = cfg.Validate(); nil != err {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

var levels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks enumerations and sizes.
func (c Config) Validate() error {
	if !levels[c.Log.Level] {
		return fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("%w: log rotation sizes must not be negative", ErrInvalid)
	}
	if c.Server.KeepAliveSeconds < 0 {
		return fmt.Errorf("%w: server.keep_alive_seconds %d", ErrInvalid, c.Server.KeepAliveSeconds)
	}
	if c.Server.MaxBufferSize < 0 {
		return fmt.Errorf("%w: server.max_buffer_size %d", ErrInvalid, c.Server.MaxBufferSize)
	}
	if !levels[c.Server.CallLogLevel] {
		return fmt.Errorf("%w: server.call_log_level %q", ErrInvalid, c.Server.CallLogLevel)
	}
	return nil
}
