package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/aevon-lab/updateby/internal/core/spec"
)

// Forward-incomplete policies for windows whose forward ticks reach past
// the group's last row.
const (
	ForwardPartial = "partial"
	ForwardPending = "pending"
)

// Config represents the top-level engine config plus resolved plans.
type Config struct {
	Engine EngineConfig `koanf:"engine"`
	Plans  PlansConfig  `koanf:"plans"`
	Log    LogConfig    `koanf:"log"`

	// PlanLoading is populated by Load after parsing plan files.
	PlanLoading PlanLoadingConfig `koanf:"-"`
}

type EngineConfig struct {
	Workers           int    `koanf:"workers"`
	ParallelThreshold int    `koanf:"parallel_threshold"` // touched groups below this run inline
	BTreeDegree       int    `koanf:"btree_degree"`
	ForwardIncomplete string `koanf:"forward_incomplete"` // partial | pending
	FormulaCacheSize  int    `koanf:"formula_cache_size"`
}

type PlansConfig struct {
	Dir     string `koanf:"dir"`
	Require bool   `koanf:"require"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug | info | warn | error
	Format string `koanf:"format"` // text | json
}

type PlanLoadingConfig struct {
	Dir   string
	Plans []spec.Plan
}

func (c *Config) Validate() error {
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be > 0")
	}
	if c.Engine.ParallelThreshold < 0 {
		return fmt.Errorf("engine.parallel_threshold must be >= 0")
	}
	if c.Engine.BTreeDegree < 2 {
		return fmt.Errorf("invalid engine.btree_degree %d (must be >= 2)", c.Engine.BTreeDegree)
	}
	if c.Engine.ForwardIncomplete != ForwardPartial && c.Engine.ForwardIncomplete != ForwardPending {
		return fmt.Errorf("invalid engine.forward_incomplete %q (must be partial or pending)", c.Engine.ForwardIncomplete)
	}
	if c.Engine.FormulaCacheSize <= 0 {
		return fmt.Errorf("engine.formula_cache_size must be > 0")
	}

	if c.Plans.Require && strings.TrimSpace(c.Plans.Dir) == "" {
		return fmt.Errorf("plans.dir is required")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log.format %q (must be text or json)", c.Log.Format)
	}
	return nil
}

// Load parses config from file + env, validates it, then loads and validates plans.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"engine.workers":            4,
		"engine.parallel_threshold": 8,
		"engine.btree_degree":       32,
		"engine.forward_incomplete": ForwardPartial,
		"engine.formula_cache_size": 256,
		"plans.dir":                 "./config/plans",
		"plans.require":             false,
		"log.level":                 "info",
		"log.format":                "text",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("UPDATEBY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "UPDATEBY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := spec.NewFileSystemPlanRepository(cfg.Plans.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load plans: %w", err)
	}
	plans, err := repo.List(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	if cfg.Plans.Require && len(plans) == 0 {
		return nil, fmt.Errorf("no plans found in %q", cfg.Plans.Dir)
	}

	cfg.PlanLoading = PlanLoadingConfig{
		Dir:   cfg.Plans.Dir,
		Plans: plans,
	}

	return &cfg, nil
}
