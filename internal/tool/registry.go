package tool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/forgeline/forgeline/pkg/models"
)

// ErrAlreadyRegistered is returned by Register when a tool of that name
// exists and replacement was not requested.
var ErrAlreadyRegistered = errors.New("tool already registered")

// ErrToolNotFound is returned for lookups and unregistrations of unknown tools.
var ErrToolNotFound = errors.New("tool not found")

// Registry is the in-memory directory of tools. Registration normally
// happens during setup; lookups are safe for concurrent readers during
// execution.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under its definition's name. With allowReplace
// false, registering an existing name fails with ErrAlreadyRegistered;
// replacement is always an explicit re-register, never a silent overwrite.
func (r *Registry) Register(t Tool, allowReplace bool) error {
	name := t.Definition().Name
	if name == "" {
		return errors.New("tool definition has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists && !allowReplace {
		return fmt.Errorf("%q: %w", name, ErrAlreadyRegistered)
	}
	r.tools[name] = t
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("%q: %w", name, ErrToolNotFound)
	}
	delete(r.tools, name)
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrToolNotFound)
	}
	return t, nil
}

// List returns the definitions of registered tools, sorted by name.
// Only definitions cross this boundary — never executable instances — so
// external inspection stays safe. With categories given, only tools in
// those categories are returned.
func (r *Registry) List(categories ...models.ToolCategory) []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]models.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		def := t.Definition()
		if len(categories) > 0 && !containsCategory(categories, def.Category) {
			continue
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func containsCategory(cats []models.ToolCategory, c models.ToolCategory) bool {
	for _, cat := range cats {
		if cat == c {
			return true
		}
	}
	return false
}

// ── Default registry ────────────────────────────────────────

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the lazily-initialized process-wide registry. It exists
// as a convenience for top-level wiring code; library code should take a
// *Registry explicitly so tests and embedders can inject their own.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}
