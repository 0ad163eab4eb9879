package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const rollingPlan = `
name: "prices"
group_by: ["Sym"]
operations:
  - op: rolling_sum
    columns: ["SumX=X"]
    window: {rev_ticks: 3}
  - op: ema
    columns: ["EmaX=X"]
    decay: {decay_ticks: 2}
`

func writePlanDir(t *testing.T, root string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, "plans")
	requireNoError(t, os.MkdirAll(dir, 0o755))
	for name, body := range files {
		requireNoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestLoad_ValidConfigAndPlans(t *testing.T) {
	root := t.TempDir()
	plansDir := writePlanDir(t, root, map[string]string{"prices.yaml": rollingPlan})

	cfgPath := filepath.Join(root, "updateby.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
engine:
  workers: 2
  parallel_threshold: 4
  btree_degree: 16
  forward_incomplete: "pending"
plans:
  dir: "%s"
  require: true
log:
  level: "debug"
  format: "json"
`, plansDir)), 0o644))

	cfg, err := Load(cfgPath)
	requireNoError(t, err)
	if len(cfg.PlanLoading.Plans) != 1 {
		t.Fatalf("expected 1 loaded plan, got %d", len(cfg.PlanLoading.Plans))
	}
	if cfg.PlanLoading.Plans[0].Fingerprint == "" {
		t.Fatal("expected plan fingerprint to be set")
	}
	if cfg.Engine.Workers != 2 || cfg.Engine.BTreeDegree != 16 {
		t.Fatalf("unexpected engine config %+v", cfg.Engine)
	}
	if cfg.Engine.ForwardIncomplete != ForwardPending {
		t.Fatalf("expected pending forward windows, got %q", cfg.Engine.ForwardIncomplete)
	}
	if cfg.Engine.FormulaCacheSize != 256 {
		t.Fatalf("expected default formula cache size, got %d", cfg.Engine.FormulaCacheSize)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	requireNoError(t, err)
	if cfg.Engine.Workers != 4 || cfg.Engine.ForwardIncomplete != ForwardPartial {
		t.Fatalf("unexpected defaults %+v", cfg.Engine)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log defaults %+v", cfg.Log)
	}
	if len(cfg.PlanLoading.Plans) != 0 {
		t.Fatalf("expected no plans, got %d", len(cfg.PlanLoading.Plans))
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	plansDir := writePlanDir(t, root, nil)

	cfgPath := filepath.Join(root, "updateby.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
engine:
  workers: 2
plans:
  dir: "%s"
`, plansDir)), 0o644))

	t.Setenv("UPDATEBY_ENGINE__WORKERS", "9")
	t.Setenv("UPDATEBY_LOG__LEVEL", "warn")

	cfg, err := Load(cfgPath)
	requireNoError(t, err)
	if cfg.Engine.Workers != 9 {
		t.Fatalf("expected env to override workers, got %d", cfg.Engine.Workers)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("expected env to override log level, got %q", cfg.Log.Level)
	}
}

func TestLoad_RequiredPlansMissingFailsStartup(t *testing.T) {
	root := t.TempDir()
	plansDir := writePlanDir(t, root, nil)

	cfgPath := filepath.Join(root, "updateby.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
plans:
  dir: "%s"
  require: true
`, plansDir)), 0o644))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "no plans found") {
		t.Fatalf("expected no plans error, got %v", err)
	}
}

func TestLoad_InvalidPlanFileFailsStartup(t *testing.T) {
	root := t.TempDir()
	plansDir := writePlanDir(t, root, map[string]string{"bad.yaml": `
name: "bad_plan"
operations:
  - op: rolling_median
    columns: ["X"]
    window: {rev_ticks: 3}
`})

	cfgPath := filepath.Join(root, "updateby.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
plans:
  dir: "%s"
`, plansDir)), 0o644))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "failed to load plans") {
		t.Fatalf("expected plan load error, got %v", err)
	}
}

func TestLoad_InvalidEngineSettingsFailStartup(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"workers", "engine:\n  workers: 0\n", "engine.workers"},
		{"degree", "engine:\n  btree_degree: 1\n", "invalid engine.btree_degree"},
		{"forward", "engine:\n  forward_incomplete: \"wait\"\n", "invalid engine.forward_incomplete"},
		{"log level", "log:\n  level: \"trace\"\n", "invalid log.level"},
		{"log format", "log:\n  format: \"xml\"\n", "invalid log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			cfgPath := filepath.Join(root, "updateby.yaml")
			requireNoError(t, os.WriteFile(cfgPath, []byte(tt.yaml), 0o644))

			_, err := Load(cfgPath)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q error, got %v", tt.want, err)
			}
		})
	}
}

func requireNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
