// Package config loads and validates the proxy's configuration (SPEC_FULL.md
// §2/§3): a TOML file on disk, overridable by command-line flags at the
// cmd/proxyd layer, validated with struct tags before the server starts so
// a bad config fails fast instead of misbehaving at request time.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is every tunable spec.md §6 lists, plus the ambient additions
// SPEC_FULL.md §3 adds (ring/listen paths, memcache wiring).
type Config struct {
	SwiftDir string `toml:"swift_dir" validate:"omitempty"`
	RingPath string `toml:"ring_path" validate:"required"`

	MemcacheServers               []string `toml:"memcache_servers"`
	MemcacheSerializationSupport  int      `toml:"memcache_serialization_support" validate:"oneof=0 1 2"`

	AllowAccountManagement bool `toml:"allow_account_management"`
	AccountAutocreate      bool `toml:"account_autocreate"`
	ObjectPostAsCopy       bool `toml:"object_post_as_copy"`
	AllowVersions          bool `toml:"allow_versions"`

	NodeTimeoutSeconds    float64 `toml:"node_timeout" validate:"gt=0"`
	ConnectTimeoutSeconds float64 `toml:"connect_timeout" validate:"gt=0"`
	ClientTimeoutSeconds  float64 `toml:"client_timeout" validate:"gt=0"`

	ErrorSuppressionLimit           int     `toml:"error_suppression_limit" validate:"gte=0"`
	ErrorSuppressionIntervalSeconds float64 `toml:"error_suppression_interval"`
	Abort507                        bool    `toml:"abort_on_507"`

	MaxContainersPerAccount int      `toml:"max_containers_per_account" validate:"gte=0"`
	MaxContainersWhitelist  []string `toml:"max_containers_whitelist"`
	DenyHostHeaders         []string `toml:"deny_host_headers"`
	AllowedHeaders          []string `toml:"allowed_headers"`

	RateLimitAfterSegment    int     `toml:"rate_limit_after_segment" validate:"gte=0"`
	RateLimitSegmentsPerSec  float64 `toml:"rate_limit_segments_per_sec" validate:"gte=0"`

	LogHandoffs bool `toml:"log_handoffs"`

	ListenAddr string `toml:"listen_addr" validate:"required"`

	MaxFileSize        int64 `toml:"max_file_size" validate:"gt=0"`
	MaxMetaNameLength  int   `toml:"max_meta_name_length" validate:"gt=0"`
	MaxMetaValueLength int   `toml:"max_meta_value_length" validate:"gt=0"`
	MaxMetaCount       int   `toml:"max_meta_count" validate:"gt=0"`
	MaxMetaOverallSize int   `toml:"max_meta_overall_size" validate:"gt=0"`
	ContainerListingLimit int `toml:"container_listing_limit" validate:"gt=0"`
}

// Default returns the configuration spec.md's own examples and defaults
// imply, before any file or flag override is applied.
func Default() Config {
	return Config{
		RingPath:                        "ring.yaml",
		MemcacheSerializationSupport:    2,
		NodeTimeoutSeconds:              10,
		ConnectTimeoutSeconds:           1,
		ClientTimeoutSeconds:            60,
		ErrorSuppressionLimit:           10,
		ErrorSuppressionIntervalSeconds: 60,
		Abort507:                        true,
		MaxContainersPerAccount:         0,
		RateLimitAfterSegment:           10,
		RateLimitSegmentsPerSec:         1,
		ListenAddr:                      ":8080",
		MaxFileSize:                     5 * 1024 * 1024 * 1024,
		MaxMetaNameLength:               128,
		MaxMetaValueLength:              256,
		MaxMetaCount:                    90,
		MaxMetaOverallSize:              4096,
		ContainerListingLimit:           10000,
	}
}

// Load reads a TOML config file on top of Default() and validates the
// result. A missing file is not an error — Default() alone, plus whatever
// the caller applies via flags, is a legal configuration.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, nil
			}
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate runs struct-tag validation over cfg, e.g. enforcing that
// timeouts are positive and enumerated knobs fall in their allowed set
// (SPEC_FULL.md §3).
func Validate(cfg Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

func (c Config) NodeTimeout() time.Duration {
	return time.Duration(c.NodeTimeoutSeconds * float64(time.Second))
}

func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds * float64(time.Second))
}

func (c Config) ClientTimeout() time.Duration {
	return time.Duration(c.ClientTimeoutSeconds * float64(time.Second))
}

func (c Config) ErrorSuppressionInterval() time.Duration {
	return time.Duration(c.ErrorSuppressionIntervalSeconds * float64(time.Second))
}

// ContainerWhitelisted reports whether account is exempt from
// max_containers_per_account (spec.md §4.6.2).
func (c Config) ContainerWhitelisted(account string) bool {
	for _, a := range c.MaxContainersWhitelist {
		if a == account {
			return true
		}
	}
	return false
}

// HostDenied reports whether host matches one of deny_host_headers
// (spec.md §4.9).
func (c Config) HostDenied(host string) bool {
	for _, h := range c.DenyHostHeaders {
		if h == host {
			return true
		}
	}
	return false
}
