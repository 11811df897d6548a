// Package config holds the kernel's process-wide, immutable-after-boot
// configuration, loaded from a YAML file with documented defaults for every
// optional field.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration object. It is constructed once at boot
// by the Kernel Facade and shared read-only with every component.
type Config struct {
	// RootDir is the virtual root all VFS operations are jailed to.
	RootDir string `yaml:"root_dir" validate:"required"`

	Git     GitConfig     `yaml:"git" validate:"required"`
	FS      FSConfig      `yaml:"fs"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Logging LoggingConfig `yaml:"logging"`
	Retry   RetryConfig   `yaml:"retry"`
	DB      *DBConfig     `yaml:"db,omitempty"`

	// AllowedImports whitelists stdlib packages the guest may import.
	AllowedImports []string `yaml:"allowed_imports"`
	// AllowedFetchUrls whitelists URL prefixes the tgp.fetch bridge member
	// may reach. Empty (the default) denies all network access.
	AllowedFetchUrls []string `yaml:"allowed_fetch_urls"`
}

// GitConfig describes the Git remote the kernel persists to.
type GitConfig struct {
	Provider string `yaml:"provider"`
	Repo     string `yaml:"repo" validate:"required"`
	Branch   string `yaml:"branch"`
	Auth     struct {
		Token string `yaml:"token"`
		User  string `yaml:"user"`
		Email string `yaml:"email"`
	} `yaml:"auth"`
	// WriteStrategy is "direct" (push straight to Branch) or "pr" (commit to
	// a detached working branch and emit a PRRequested outcome).
	WriteStrategy string `yaml:"write_strategy" validate:"omitempty,oneof=direct pr"`
	// DeadlineSeconds is loaded and defaulted to 30, but internal/gitstore
	// does not read it: network Git operations are bounded only by the
	// context the caller passes in.
	DeadlineSeconds int `yaml:"deadline_seconds"`
}

// FSConfig scopes the Capability Bridge's write-allow rules (§4.5), which
// are stricter than — and independent of — the VFS jail itself.
type FSConfig struct {
	AllowedDirs          []string `yaml:"allowed_dirs"`
	BlockUpwardTraversal bool     `yaml:"block_upward_traversal"`
}

// SandboxConfig bounds a single guest execution.
type SandboxConfig struct {
	MemoryLimitMiB int `yaml:"memory_limit_mib"`
	TimeoutMs      int `yaml:"timeout_ms"`
}

// LoggingConfig drives internal/logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	JSONFormat bool   `yaml:"json_format"`
}

// RetryConfig parameterizes the Git persist backoff loop (§4.2). The loop
// reads BaseMs, JitterMs and MaxAttempts; its exponential backoff always
// doubles the delay, so Factor is not read.
type RetryConfig struct {
	BaseMs      int `yaml:"base_ms"`
	Factor      int `yaml:"factor"`
	JitterMs    int `yaml:"jitter_ms"`
	MaxAttempts int `yaml:"max_attempts"`
}

// DBConfig names an optional host-injected capability backend (§9: "the
// source sometimes exposes a db_query bridge wired to a no-op backend").
// A nil *DBConfig means no database extension point is installed.
type DBConfig struct {
	Dialect string `yaml:"dialect" validate:"omitempty,oneof=sqlite"`
	DSN     string `yaml:"dsn"`
}

var validate = validator.New()

// Default returns a Config with every documented default applied, for the
// fields spec.md marks optional.
func Default(rootDir string) *Config {
	c := &Config{
		RootDir: rootDir,
		Git: GitConfig{
			Provider:        "github",
			Branch:          "main",
			WriteStrategy:   "direct",
			DeadlineSeconds: 30,
		},
		FS: FSConfig{
			AllowedDirs:          []string{"tools"},
			BlockUpwardTraversal: true,
		},
		Sandbox: SandboxConfig{
			MemoryLimitMiB: 128,
			TimeoutMs:      5000,
		},
		Logging: LoggingConfig{Level: "info"},
		Retry: RetryConfig{
			BaseMs:      200,
			Factor:      2,
			JitterMs:    25,
			MaxAttempts: 3,
		},
		AllowedImports: []string{
			"context", "strings", "strconv", "fmt", "math", "regexp",
			"encoding/json", "encoding/base64", "time", "sort",
			"bytes", "path", "path/filepath", "errors",
		},
	}
	return c
}

// Load reads a YAML config file at path, applies it over Default(rootDir),
// and validates the result. A missing file is not a read error: Default is
// validated as-is. Default leaves the required git.repo empty, so that
// validation fails and Load returns a nil Config with the validation error.
func Load(path, rootDir string) (*Config, error) {
	c := Default(rootDir)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := c.Validate(); err != nil {
				return nil, err
			}
			return c, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if c.RootDir == "" {
		c.RootDir = rootDir
	}
	applyZeroDefaults(c)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyZeroDefaults backfills fields the user's YAML left at their zero
// value, so a partial config file never silently disables a timeout or
// retry budget.
func applyZeroDefaults(c *Config) {
	d := Default(c.RootDir)
	if c.Git.Branch == "" {
		c.Git.Branch = d.Git.Branch
	}
	if c.Git.WriteStrategy == "" {
		c.Git.WriteStrategy = d.Git.WriteStrategy
	}
	if c.Git.DeadlineSeconds == 0 {
		c.Git.DeadlineSeconds = d.Git.DeadlineSeconds
	}
	if len(c.FS.AllowedDirs) == 0 {
		c.FS.AllowedDirs = d.FS.AllowedDirs
	}
	if c.Sandbox.MemoryLimitMiB == 0 {
		c.Sandbox.MemoryLimitMiB = d.Sandbox.MemoryLimitMiB
	}
	if c.Sandbox.TimeoutMs == 0 {
		c.Sandbox.TimeoutMs = d.Sandbox.TimeoutMs
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Retry.BaseMs == 0 {
		c.Retry.BaseMs = d.Retry.BaseMs
	}
	if c.Retry.Factor == 0 {
		c.Retry.Factor = d.Retry.Factor
	}
	if c.Retry.JitterMs == 0 {
		c.Retry.JitterMs = d.Retry.JitterMs
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if len(c.AllowedImports) == 0 {
		c.AllowedImports = d.AllowedImports
	}
}

// Validate runs struct-tag validation and a handful of cross-field checks
// that validator tags can't express, returning a ConfigInvalid-kind error
// on the first failure (§7's ConfigInvalid kind).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return &InvalidError{Reason: err.Error()}
	}
	if !filepath.IsAbs(c.RootDir) {
		return &InvalidError{Reason: fmt.Sprintf("root_dir must be absolute, got %q", c.RootDir)}
	}
	if c.DB != nil && c.DB.Dialect == "sqlite" && c.DB.DSN == "" {
		return &InvalidError{Reason: "db.dsn is required when db.dialect is set"}
	}
	return nil
}
