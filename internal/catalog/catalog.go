package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/weftworks/weft/pkg/api"
)

type (
	// Catalog is the engine's read-only view of node definitions
	Catalog interface {
		Definition(t api.NodeType) (*api.Definition, bool)
	}

	// Registry is an in-memory definition catalog. The engine reads it;
	// the API server registers into it
	Registry struct {
		mu   sync.RWMutex
		defs map[api.NodeType]*api.Definition
	}
)

var (
	ErrTypeEmpty = errors.New("definition type must not be empty")
	ErrReadFile  = errors.New("failed to read definitions file")
	ErrParseFile = errors.New("failed to parse definitions file")
)

var _ Catalog = (*Registry)(nil)

// NewRegistry creates a definition registry pre-seeded with the built-in
// node types
func NewRegistry() *Registry {
	r := &Registry{
		defs: map[api.NodeType]*api.Definition{},
	}
	for _, def := range Builtins() {
		r.defs[def.Type] = def
	}
	return r
}

// Definition returns the definition for a node type
func (r *Registry) Definition(t api.NodeType) (*api.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[t]
	return def, ok
}

// Register adds or replaces a definition
func (r *Registry) Register(def *api.Definition) error {
	if def.Type == "" {
		return ErrTypeEmpty
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Type] = def
	return nil
}

// Definitions returns all registered definitions sorted by type
func (r *Registry) Definitions() []*api.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]*api.Definition, 0, len(r.defs))
	for _, def := range r.defs {
		res = append(res, def)
	}
	slices.SortFunc(res, func(a, b *api.Definition) int {
		switch {
		case a.Type < b.Type:
			return -1
		case a.Type > b.Type:
			return 1
		}
		return 0
	})
	return res
}

// LoadFile registers definitions from a JSON file containing an array of
// definitions
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReadFile, err)
	}

	var defs []*api.Definition
	if err := json.Unmarshal(data, &defs); err != nil {
		return fmt.Errorf("%w: %w", ErrParseFile, err)
	}

	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}
