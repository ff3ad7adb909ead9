package ensemble

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/ensemble/fuzzy"
	"github.com/goccy/go-yaml"
)

const (
	SchedulerFixed    = "fixed"
	SchedulerAdaptive = "adaptive"
)

// ClusterConfig names a remote cluster and the seeds it is first contacted through.
// Seeds are "name@host:port" or "host:port".
type ClusterConfig struct {
	Name  string   `yaml:"name"`
	Seeds []string `yaml:"seeds"`
}

// Members parses the seeds
func (c ClusterConfig) Members() ([]cluster.Member, error) {
	members := make([]cluster.Member, 0, len(c.Seeds))
	for _, seed := range c.Seeds {
		m, err := cluster.ParseMember(seed)
		if err != nil {
			return nil, fmt.Errorf("cluster %s: %w", c.Name, err)
		}
		members = append(members, m)
	}
	return members, nil
}

// SchedulerConfig selects how often remote clusters are polled. Durations use the
// time.ParseDuration syntax.
type SchedulerConfig struct {
	// Kind is "fixed" or "adaptive"
	Kind string `yaml:"kind"`
	// Interval is the polling interval of the fixed scheduler
	Interval string `yaml:"interval"`
	// Baseline, Increment and Limit configure the adaptive scheduler
	Baseline  string `yaml:"baseline"`
	Increment string `yaml:"increment"`
	Limit     string `yaml:"limit"`
}

// Config lists the remote clusters of the ensemble
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Clusters  []ClusterConfig `yaml:"clusters"`
}

// DefaultConfig has no remote clusters and polls adaptively
func DefaultConfig() *Config {
	d := fuzzy.DefaultConfig()
	return &Config{Scheduler: SchedulerConfig{
		Kind:      SchedulerAdaptive,
		Interval:  "10s",
		Baseline:  d.Baseline.String(),
		Increment: d.Increment.String(),
		Limit:     d.Limit.String(),
	}}
}

// LoadConfig reads a YAML ensemble file. Missing scheduler settings keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ensemble file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML ensemble settings
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid ensemble file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the scheduler settings and that every cluster has a unique name
// and at least one parseable seed
func (c *Config) Validate() error {
	if _, err := c.Scheduler.FixedInterval(); err != nil {
		return err
	}
	if _, err := c.Scheduler.Fuzzy(); err != nil {
		return err
	}
	switch c.Scheduler.Kind {
	case SchedulerFixed, SchedulerAdaptive:
	default:
		return fmt.Errorf("unknown scheduler %q", c.Scheduler.Kind)
	}

	seen := make(map[string]bool, len(c.Clusters))
	for _, cl := range c.Clusters {
		if cl.Name == "" {
			return fmt.Errorf("remote cluster without name")
		}
		if seen[cl.Name] {
			return fmt.Errorf("remote cluster %s listed twice", cl.Name)
		}
		seen[cl.Name] = true
		if len(cl.Seeds) == 0 {
			return fmt.Errorf("remote cluster %s has no seeds", cl.Name)
		}
		if _, err := cl.Members(); err != nil {
			return err
		}
	}
	return nil
}

// FixedInterval returns the interval of the fixed scheduler
func (s SchedulerConfig) FixedInterval() (time.Duration, error) {
	d, err := time.ParseDuration(s.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid scheduler interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("scheduler interval must be positive")
	}
	return d, nil
}

// Fuzzy returns the settings of the adaptive scheduler
func (s SchedulerConfig) Fuzzy() (fuzzy.Config, error) {
	var cfg fuzzy.Config
	for _, f := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"baseline", s.Baseline, &cfg.Baseline},
		{"increment", s.Increment, &cfg.Increment},
		{"limit", s.Limit, &cfg.Limit},
	} {
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return fuzzy.Config{}, fmt.Errorf("invalid scheduler %s: %w", f.name, err)
		}
		*f.dst = d
	}
	return cfg, cfg.Validate()
}

// NewScheduler creates the configured scheduler
func (c *Config) NewScheduler() (Scheduler, error) {
	if c.Scheduler.Kind == SchedulerFixed {
		interval, err := c.Scheduler.FixedInterval()
		if err != nil {
			return nil, err
		}
		return NewFixedScheduler(interval), nil
	}
	fuzzyCfg, err := c.Scheduler.Fuzzy()
	if err != nil {
		return nil, err
	}
	return NewAdaptiveScheduler(fuzzyCfg)
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Ensemble")
	addField("Scheduler", c.Scheduler.Kind)
	if c.Scheduler.Kind == SchedulerFixed {
		addField("Interval", c.Scheduler.Interval)
	} else {
		addField("Interval Band", fmt.Sprintf("%s .. %s (step %s)", c.Scheduler.Baseline, c.Scheduler.Limit, c.Scheduler.Increment))
	}
	for _, cl := range c.Clusters {
		addField("Cluster "+cl.Name, strings.Join(cl.Seeds, ", "))
	}
	return sb.String()
}
