package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/734ai/neuroforge/internal/types"
)

// Registry maps capabilities to plugins. Registration happens during
// startup; Freeze seals the registry before task execution begins so
// capability resolution never races with registration.
type Registry struct {
	mu           sync.RWMutex
	byName       map[string]Plugin
	byCapability map[string]Plugin
	frozen       bool
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:       make(map[string]Plugin),
		byCapability: make(map[string]Plugin),
	}
}

// Register adds a plugin. Names and capabilities are case-insensitive
// and must be unique across the registry; a capability can have exactly
// one provider so resolution is deterministic.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return types.NewError(types.VALIDATION_FAILED, "plugin cannot be nil")
	}
	name := strings.ToLower(strings.TrimSpace(p.Name()))
	if name == "" {
		return types.NewError(types.VALIDATION_FAILED, "plugin name cannot be empty")
	}
	caps := p.Capabilities()
	if len(caps) == 0 {
		return types.NewError(types.VALIDATION_FAILED,
			fmt.Sprintf("plugin %s declares no capabilities", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return types.NewError(types.VALIDATION_FAILED, "registry is frozen")
	}
	if _, exists := r.byName[name]; exists {
		return types.NewError(types.VALIDATION_FAILED,
			fmt.Sprintf("plugin %s already registered", name))
	}

	normalized := make([]string, 0, len(caps))
	for _, c := range caps {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			return types.NewError(types.VALIDATION_FAILED,
				fmt.Sprintf("plugin %s declares an empty capability", name))
		}
		if owner, exists := r.byCapability[c]; exists {
			return types.NewError(types.VALIDATION_FAILED,
				fmt.Sprintf("capability %s already provided by plugin %s", c, owner.Name()))
		}
		normalized = append(normalized, c)
	}

	r.byName[name] = p
	for _, c := range normalized {
		r.byCapability[c] = p
	}
	return nil
}

// Freeze seals the registry against further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// ForCapability resolves the plugin serving a capability.
func (r *Registry) ForCapability(capability string) (Plugin, error) {
	capability = strings.ToLower(strings.TrimSpace(capability))

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byCapability[capability]
	if !ok {
		return nil, types.NewError(types.UNKNOWN_CAPABILITY,
			fmt.Sprintf("no plugin provides capability %q", capability))
	}
	return p, nil
}

// ByName resolves a plugin by its registered name.
func (r *Registry) ByName(name string) (Plugin, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byName[name]
	if !ok {
		return nil, types.NewError(types.UNKNOWN_CAPABILITY,
			fmt.Sprintf("no plugin named %q", name))
	}
	return p, nil
}

// List returns descriptors for all registered plugins, sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.byName))
	for name, p := range r.byName {
		caps := make([]string, len(p.Capabilities()))
		for i, c := range p.Capabilities() {
			caps[i] = strings.ToLower(strings.TrimSpace(c))
		}
		sort.Strings(caps)
		descriptors = append(descriptors, Descriptor{Name: name, Capabilities: caps})
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})
	return descriptors
}

// Capabilities returns every registered capability, sorted.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make([]string, 0, len(r.byCapability))
	for c := range r.byCapability {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return caps
}
