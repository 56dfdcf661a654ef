package grantor

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oarkflow/date"
	"gopkg.in/yaml.v3"
)

// Config is the file-loadable description of a policy table plus engine and
// backend settings. Policies become immutable once the table is built.
type Config struct {
	Version  int            `json:"version" yaml:"version"`
	Policies []PolicyConfig `json:"policies" yaml:"policies"`
	Engine   EngineConfig   `json:"engine" yaml:"engine"`
	Backends BackendConfig  `json:"backends" yaml:"backends"`
}

// PolicyConfig wraps an AccessPolicy with an optional activation window.
// Timestamps accept any format the flexible date parser understands.
type PolicyConfig struct {
	AccessPolicy  `yaml:",inline"`
	EffectiveFrom string `json:"effective_from,omitempty" yaml:"effective_from,omitempty"`
	RetiredAfter  string `json:"retired_after,omitempty" yaml:"retired_after,omitempty"`
}

type EngineConfig struct {
	MaxTTLSeconds        int64 `json:"max_ttl_seconds" yaml:"max_ttl_seconds"`
	SweepIntervalSeconds int64 `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds"`
	CacheCapacity        int   `json:"cache_capacity" yaml:"cache_capacity"`
	DecisionCacheTTLMs   int64 `json:"decision_cache_ttl_ms" yaml:"decision_cache_ttl_ms"`
}

type BackendConfig struct {
	SigningSecret string `json:"signing_secret,omitempty" yaml:"signing_secret,omitempty"`
	TokenIssuer   string `json:"token_issuer,omitempty" yaml:"token_issuer,omitempty"`
	CloudRoleARN  string `json:"cloud_role_arn,omitempty" yaml:"cloud_role_arn,omitempty"`
	CloudRegion   string `json:"cloud_region,omitempty" yaml:"cloud_region,omitempty"`
	BrokerAddress string `json:"broker_address,omitempty" yaml:"broker_address,omitempty"`
	BrokerToken   string `json:"broker_token,omitempty" yaml:"broker_token,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
}

// ConfigLoader loads configuration from YAML or JSON.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return cfg, nil
}

// LoadFile dispatches on the file extension.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return l.LoadYAML(data)
	case strings.HasSuffix(path, ".json"):
		return l.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}
}

// BuildTable filters policies by their activation window at now and freezes
// the remainder into a PolicyTable in definition order.
func (c *Config) BuildTable(now time.Time) (*PolicyTable, error) {
	active := make([]AccessPolicy, 0, len(c.Policies))
	for i := range c.Policies {
		pc := &c.Policies[i]
		include, err := pc.activeAt(now)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", pc.Name, err)
		}
		if include {
			active = append(active, pc.AccessPolicy)
		}
	}
	return NewPolicyTable(active)
}

func (pc *PolicyConfig) activeAt(now time.Time) (bool, error) {
	if pc.EffectiveFrom != "" {
		from, err := date.Parse(pc.EffectiveFrom)
		if err != nil {
			return false, fmt.Errorf("bad effective_from %q: %w", pc.EffectiveFrom, err)
		}
		if now.Before(from) {
			return false, nil
		}
	}
	if pc.RetiredAfter != "" {
		until, err := date.Parse(pc.RetiredAfter)
		if err != nil {
			return false, fmt.Errorf("bad retired_after %q: %w", pc.RetiredAfter, err)
		}
		if now.After(until) {
			return false, nil
		}
	}
	return true, nil
}

// ServiceOptions derives the options the config can express without network
// construction: TTL caps, cache sizing, sweep cadence, and the local signer.
// Cloud, broker, and redis backends take live clients, so callers construct
// those and pass WithCloudCredentials/WithSecretsBroker/WithRateLimiter
// themselves.
func (c *Config) ServiceOptions() []ServiceOption {
	var opts []ServiceOption
	if c.Engine.MaxTTLSeconds > 0 {
		opts = append(opts, WithMaxTTL(time.Duration(c.Engine.MaxTTLSeconds)*time.Second))
	}
	if c.Engine.SweepIntervalSeconds > 0 {
		opts = append(opts, WithSweepInterval(time.Duration(c.Engine.SweepIntervalSeconds)*time.Second))
	}
	if c.Engine.CacheCapacity > 0 {
		opts = append(opts, WithCacheCapacity(c.Engine.CacheCapacity))
	}
	if c.Engine.DecisionCacheTTLMs > 0 {
		opts = append(opts, WithDecisionCacheTTL(time.Duration(c.Engine.DecisionCacheTTLMs)*time.Millisecond))
	}
	if c.Backends.SigningSecret != "" {
		opts = append(opts, WithTokenSigner(NewHMACSigner([]byte(c.Backends.SigningSecret), c.Backends.TokenIssuer)))
	}
	return opts
}

// Validate runs the same checks table construction would, without freezing a
// table. Used by the CLI.
func (c *Config) Validate() error {
	_, err := c.BuildTable(time.Now())
	return err
}
