// Package config resolves swim-rs's runtime parameters from defaults,
// an optional YAML file, and command line flags, grounded on
// andydunstall-piko/server/gossip/config.go (the Validate/RegisterFlags
// struct shape) and andydunstall-piko/pkg/config/config.go (the YAML
// loader). Nothing in the core swim package reads flags, the
// environment, or a config file directly; cmd/swim-rs resolves a Config
// here and passes plain values into swim.Config.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	swim "github.com/Paulius0112/swim-rs"
)

// Config mirrors the tunable protocol constants, plus the two
// endpoints the CLI takes positionally. Durations are stored as
// time.Duration directly; yaml.v3 decodes duration strings like "500ms"
// into them without any custom UnmarshalYAML.
type Config struct {
	SelfAddr string `yaml:"self_addr"`
	SeedAddr string `yaml:"seed_addr"`

	TickInterval       time.Duration `yaml:"tick_interval"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`
	SuspectTimeout     time.Duration `yaml:"suspect_timeout"`
	IndirectProbeCount int           `yaml:"indirect_probe_count"`

	AdaptiveTimeout bool   `yaml:"adaptive_timeout"`
	Compress        bool   `yaml:"compress"`
	LogLevel        string `yaml:"log_level"`
	MetricsAddr     string `yaml:"metrics_addr"`
}

// Default returns the protocol's default constants, with no self/seed
// address set.
func Default() *Config {
	d := swim.DefaultConfig()
	return &Config{
		TickInterval:       d.TickInterval,
		ProbeTimeout:       d.ProbeTimeout,
		SuspectTimeout:     d.SuspectTimeout,
		IndirectProbeCount: d.IndirectProbeCount,
		LogLevel:           "info",
		MetricsAddr:        ":9090",
	}
}

// Validate checks that the resolved config is usable. SeedAddr is
// optional (a node may start alone and be joined later).
func (c *Config) Validate() error {
	if c.SelfAddr == "" {
		return fmt.Errorf("config: missing self address")
	}
	if _, err := swim.ParseEndpoint(c.SelfAddr); err != nil {
		return fmt.Errorf("config: invalid self address %q: %w", c.SelfAddr, err)
	}
	if c.SeedAddr != "" {
		if _, err := swim.ParseEndpoint(c.SeedAddr); err != nil {
			return fmt.Errorf("config: invalid seed address %q: %w", c.SeedAddr, err)
		}
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("config: tick interval must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("config: probe timeout must be positive")
	}
	if c.SuspectTimeout <= 0 {
		return fmt.Errorf("config: suspect timeout must be positive")
	}
	if c.IndirectProbeCount < 0 {
		return fmt.Errorf("config: indirect probe count must not be negative")
	}
	return nil
}

// RegisterFlags binds every field except the positional self and seed
// addresses to a flag, following
// andydunstall-piko's fs.StringVar convention.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&c.TickInterval, "tick-interval", c.TickInterval, "Interval between probe ticks.")
	fs.DurationVar(&c.ProbeTimeout, "probe-timeout", c.ProbeTimeout, "Time to wait for a direct or indirect probe Ack before escalating.")
	fs.DurationVar(&c.SuspectTimeout, "suspect-timeout", c.SuspectTimeout, "Time a member stays Suspect before being declared Dead.")
	fs.IntVar(&c.IndirectProbeCount, "indirect-probe-count", c.IndirectProbeCount, "Number of relays to fan an indirect probe out to.")
	fs.BoolVar(&c.AdaptiveTimeout, "adaptive-timeout", c.AdaptiveTimeout, "Bound a peer's probe timeout below by its observed mean+4*jitter RTT, never below the probe timeout.")
	fs.BoolVar(&c.Compress, "compress", c.Compress, "Compress datagrams with LZ4 before sending.")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn, or error.")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Address to serve /metrics on.")
}

// ToCore converts a resolved Config into the swim.Config the event loop
// needs, parsing the self and seed addresses.
func (c *Config) ToCore() (swim.Config, error) {
	self, err := swim.ParseEndpoint(c.SelfAddr)
	if err != nil {
		return swim.Config{}, fmt.Errorf("config: self address: %w", err)
	}

	var seed swim.Endpoint
	if c.SeedAddr != "" {
		seed, err = swim.ParseEndpoint(c.SeedAddr)
		if err != nil {
			return swim.Config{}, fmt.Errorf("config: seed address: %w", err)
		}
	}

	return swim.Config{
		Self:               self,
		Seed:               seed,
		TickInterval:       c.TickInterval,
		ProbeTimeout:       c.ProbeTimeout,
		SuspectTimeout:     c.SuspectTimeout,
		IndirectProbeCount: c.IndirectProbeCount,
		AdaptiveTimeout:    c.AdaptiveTimeout,
	}, nil
}

// Load reads a YAML file into conf, rejecting unknown fields, following
// andydunstall-piko/pkg/config/config.go.
func Load(path string, conf interface{}) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read file: %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)

	if err := dec.Decode(conf); err != nil {
		return fmt.Errorf("config: parse file: %s: %w", path, err)
	}

	return nil
}
