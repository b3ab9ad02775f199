package agents

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zjregee/deepthread/internal/models"
)

const (
	defaultMaxConcurrentAgents = 3
	defaultMaxIterations       = 8

	// handoffToolName is never allowed in a sub-agent's tool list.
	handoffToolName = "delegate_task"
)

//go:embed assets/agents.yaml
var defaultProfiles []byte

type profileFile struct {
	Agents []*models.SubAgentProfile `yaml:"agents"`
}

// Registry holds the sub-agent profiles and bounds how many sub-agents run at
// once across the process.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*models.SubAgentProfile
	slots    chan struct{}
}

func NewRegistry(profiles []*models.SubAgentProfile, maxConcurrent int) (*Registry, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentAgents
	}

	r := &Registry{
		profiles: make(map[string]*models.SubAgentProfile, len(profiles)),
		slots:    make(chan struct{}, maxConcurrent),
	}
	for _, p := range profiles {
		if err := r.register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadRegistry starts from the embedded profiles and applies the profiles in
// overridePath, if that file exists. A profile in the file replaces the
// built-in profile of the same name.
func LoadRegistry(overridePath string, maxConcurrent int) (*Registry, error) {
	profiles, err := ParseProfiles(defaultProfiles)
	if err != nil {
		return nil, fmt.Errorf("failed to parse built-in agents: %w", err)
	}

	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read agents file: %w", err)
		default:
			overrides, err := ParseProfiles(data)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", overridePath, err)
			}
			profiles = merge(profiles, overrides)
		}
	}

	return NewRegistry(profiles, maxConcurrent)
}

func ParseProfiles(data []byte) ([]*models.SubAgentProfile, error) {
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return file.Agents, nil
}

func merge(base, overrides []*models.SubAgentProfile) []*models.SubAgentProfile {
	byName := make(map[string]int, len(base))
	out := append([]*models.SubAgentProfile(nil), base...)
	for i, p := range out {
		byName[normalizeName(p.Name)] = i
	}
	for _, p := range overrides {
		if i, ok := byName[normalizeName(p.Name)]; ok {
			out[i] = p
			continue
		}
		byName[normalizeName(p.Name)] = len(out)
		out = append(out, p)
	}
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) register(p *models.SubAgentProfile) error {
	if p == nil {
		return fmt.Errorf("agent profile cannot be nil")
	}

	p.Name = normalizeName(p.Name)
	if p.Name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("agent %s has no prompt", p.Name)
	}
	if len(p.Tools) == 0 {
		return fmt.Errorf("agent %s has no tools", p.Name)
	}
	for _, t := range p.Tools {
		if t == handoffToolName {
			return fmt.Errorf("agent %s may not use %s", p.Name, handoffToolName)
		}
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = defaultMaxIterations
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[p.Name]; exists {
		return fmt.Errorf("agent %s already registered", p.Name)
	}
	r.profiles[p.Name] = p
	return nil
}

func (r *Registry) Get(name string) (*models.SubAgentProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.profiles[normalizeName(name)]
	if !exists {
		return nil, fmt.Errorf("%w: unknown agent %q (known agents: %s)", models.ErrInvalidArguments, name, strings.Join(r.namesLocked(), ", "))
	}
	return p, nil
}

// Profiles returns every profile sorted by name.
func (r *Registry) Profiles() []*models.SubAgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.SubAgentProfile, 0, len(r.profiles))
	for _, name := range r.namesLocked() {
		out = append(out, r.profiles[name])
	}
	return out
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Acquire blocks until a sub-agent slot is free or ctx is done. The returned
// release must be called exactly once.
func (r *Registry) Acquire(ctx context.Context) (func(), error) {
	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled while waiting for agent slot: %w", ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-r.slots })
	}, nil
}
