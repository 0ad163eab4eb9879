package spec

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Plan is a named set of update-by operations sharing one grouping.
// Plans are loaded at startup from YAML files and fingerprinted so a
// changed file can be told apart from a reloaded one.
type Plan struct {
	Name        string       `yaml:"name"`
	GroupBy     []string     `yaml:"group_by"`
	Operations  []Definition `yaml:"operations"`
	Fingerprint string       `yaml:"-"` // SHA-256 of the raw YAML file; computed at load time
}

// Specs builds every operation of the plan. All invalid operations are
// reported together.
func (p Plan) Specs() ([]Spec, error) {
	var (
		out  []Spec
		errs error
	)
	for i, d := range p.Operations {
		s, err := d.Spec()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("plan %q operation %d (%s): %w", p.Name, i, d.Op, err))
			continue
		}
		out = append(out, s)
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}

// PlanRepository defines the interface for loading plans.
type PlanRepository interface {
	// Get returns the plan with the given name, or an error if not found.
	Get(ctx context.Context, name string) (*Plan, error)

	// List returns all loaded plans sorted by name.
	List(ctx context.Context) ([]Plan, error)
}

// FileSystemPlanRepository loads plans from *.yaml files in a directory.
// Each file contains exactly one plan at the top level. Plans are loaded once
// at startup and cached in memory.
type FileSystemPlanRepository struct {
	dir   string
	plans map[string]Plan // keyed by Name
}

// NewFileSystemPlanRepository creates a new repository and eagerly loads all
// plans from dir. Returns an error if any plan file is malformed or any of its
// operations is invalid.
func NewFileSystemPlanRepository(dir string) (*FileSystemPlanRepository, error) {
	repo := &FileSystemPlanRepository{
		dir:   dir,
		plans: make(map[string]Plan),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemPlanRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // no plan directory means zero plans
	}
	if err != nil {
		return fmt.Errorf("plan dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("plan path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading plan dir: %w", err)
	}

	var errs error
	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading plan file %s: %w", path, err)
		}

		var p Plan
		if err := yaml.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("parsing plan file %s: %w", path, err)
		}
		if p.Name == "" {
			continue // skip empty / comment-only files
		}
		if len(p.Operations) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("plan %q (%s): no operations", p.Name, path))
			continue
		}
		if _, err := p.Specs(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if _, exists := r.plans[p.Name]; exists {
			errs = multierr.Append(errs, fmt.Errorf("plan %q: duplicate plan name (check multiple YAML files)", p.Name))
			continue
		}

		p.Fingerprint = fmt.Sprintf("%x", sha256.Sum256(data))
		r.plans[p.Name] = p
	}
	return errs
}

// Get returns the plan with the given name, or an error if not found.
func (r *FileSystemPlanRepository) Get(_ context.Context, name string) (*Plan, error) {
	p, ok := r.plans[name]
	if !ok {
		return nil, fmt.Errorf("plan %q not found", name)
	}
	return &p, nil
}

// List returns all loaded plans sorted by name.
func (r *FileSystemPlanRepository) List(_ context.Context) ([]Plan, error) {
	out := make([]Plan, 0, len(r.plans))
	for _, p := range r.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// LoadPlanFile reads a single plan file outside any repository.
func LoadPlanFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file %s: %w", path, err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan file %s: %w", path, err)
	}
	if _, err := p.Specs(); err != nil {
		return nil, err
	}
	p.Fingerprint = fmt.Sprintf("%x", sha256.Sum256(data))
	return &p, nil
}
