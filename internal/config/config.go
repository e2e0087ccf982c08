// Package config loads broker settings from flags, ICE_BROKER_* environment
// variables and an optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ice-broker/internal/credential"
	"ice-broker/internal/domain"
	"ice-broker/internal/usecase"
)

const EnvPrefix = "ICE_BROKER"

// DefaultDiscoveryServers is used when none are configured.
var DefaultDiscoveryServers = []string{"stun:stun.l.google.com:19302"}

type Config struct {
	APIKey           string        `mapstructure:"api_key"`
	Endpoint         string        `mapstructure:"endpoint"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	DiscoveryServers []string      `mapstructure:"discovery_servers"`
	ListenAddr       string        `mapstructure:"listen_addr"`
	UnixSocket       string        `mapstructure:"unix_socket"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	Prewarm          bool          `mapstructure:"prewarm"`
	Pool             PoolConfig    `mapstructure:"pool"`
	BundlePolicy     string        `mapstructure:"bundle_policy"`
	RTCPMuxPolicy    string        `mapstructure:"rtcp_mux_policy"`
}

type PoolConfig struct {
	Discovery uint8 `mapstructure:"discovery"`
	Full      uint8 `mapstructure:"full"`
}

// SetDefaults registers every key; Unmarshal only sees keys viper knows
// about, so environment-only settings need an entry here too.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("endpoint", "")
	v.SetDefault("unix_socket", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("cache_ttl", credential.DefaultTTL)
	v.SetDefault("discovery_servers", DefaultDiscoveryServers)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("prewarm", true)
	v.SetDefault("pool.discovery", usecase.DefaultTuning.DiscoveryPoolSize)
	v.SetDefault("pool.full", usecase.DefaultTuning.FullPoolSize)
	v.SetDefault("bundle_policy", string(usecase.DefaultTuning.BundlePolicy))
	v.SetDefault("rtcp_mux_policy", string(usecase.DefaultTuning.MuxPolicy))
}

// Load merges defaults, the optional config file and the environment.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.Discovery()) == 0 {
		return fmt.Errorf("at least one discovery server is required")
	}
	switch domain.BundlePolicy(c.BundlePolicy) {
	case domain.BundlePolicyBalanced, domain.BundlePolicyMaxCompat, domain.BundlePolicyMaxBundle:
	default:
		return fmt.Errorf("unknown bundle_policy %q", c.BundlePolicy)
	}
	switch domain.MuxPolicy(c.RTCPMuxPolicy) {
	case domain.MuxPolicyNegotiate, domain.MuxPolicyRequire:
	default:
		return fmt.Errorf("unknown rtcp_mux_policy %q", c.RTCPMuxPolicy)
	}
	return nil
}

// Discovery turns the configured URIs into descriptors, one per entry.
func (c Config) Discovery() []domain.ServerDescriptor {
	var out []domain.ServerDescriptor
	for _, uri := range c.DiscoveryServers {
		if uri = strings.TrimSpace(uri); uri != "" {
			out = append(out, domain.NewServerDescriptor([]string{uri}, "", ""))
		}
	}
	return out
}

func (c Config) Tuning() usecase.Tuning {
	return usecase.Tuning{
		DiscoveryPoolSize: c.Pool.Discovery,
		FullPoolSize:      c.Pool.Full,
		BundlePolicy:      domain.BundlePolicy(c.BundlePolicy),
		MuxPolicy:         domain.MuxPolicy(c.RTCPMuxPolicy),
	}
}
