package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goplugin "plugin"
	"strings"
	"sync"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

// ErrModuleNotFound is returned by a Resolver that does not know a module
var ErrModuleNotFound = errors.New("module not found")

// Resolver turns a parsed reference into the value it points at
type Resolver interface {
	Resolve(ref Reference) (any, error)
}

// SymbolTable resolves references against values provided in-process.
// The zero value is ready to use.
type SymbolTable struct {
	mu      sync.RWMutex
	modules map[string]map[string]any
}

// NewSymbolTable creates an empty table
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{}
}

// Provide makes v resolvable as module:attribute
func (t *SymbolTable) Provide(module, attribute string, v any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.modules == nil {
		t.modules = make(map[string]map[string]any)
	}
	if t.modules[module] == nil {
		t.modules[module] = make(map[string]any)
	}
	t.modules[module][attribute] = v
}

// Resolve implements Resolver
func (t *SymbolTable) Resolve(ref Reference) (any, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	attrs, ok := t.modules[ref.Module]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, ref.Module)
	}
	v, ok := attrs[ref.Attribute]
	if !ok {
		return nil, fmt.Errorf("module %s has no attribute %s", ref.Module, ref.Attribute)
	}
	return v, nil
}

var defaultSymbols = NewSymbolTable()

// DefaultSymbols returns the process-wide table written by Provide
func DefaultSymbols() *SymbolTable {
	return defaultSymbols
}

// Provide adds v to the default symbol table
func Provide(module, attribute string, v any) {
	defaultSymbols.Provide(module, attribute, v)
}

// GoPluginResolver loads Go plugins (.so files) with the standard plugin package.
// Relative module paths are looked up in Dirs in order.
type GoPluginResolver struct {
	Dirs []string
}

// Resolve implements Resolver. Modules without a .so suffix are not ours.
func (g GoPluginResolver) Resolve(ref Reference) (any, error) {
	if !strings.HasSuffix(ref.Module, ".so") {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, ref.Module)
	}

	path, err := g.locate(ref.Module)
	if err != nil {
		return nil, err
	}

	so, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin %s: %w", path, err)
	}
	symbol, err := so.Lookup(ref.Attribute)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", path, err)
	}
	return symbol, nil
}

func (g GoPluginResolver) locate(module string) (string, error) {
	if filepath.IsAbs(module) {
		return module, nil
	}
	for _, dir := range g.Dirs {
		candidate := filepath.Join(dir, module)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("plugin file %s not found in %v", module, g.Dirs)
}

// ChainResolver asks each resolver in turn; the first one that knows the module answers
type ChainResolver []Resolver

// Resolve implements Resolver
func (c ChainResolver) Resolve(ref Reference) (any, error) {
	for _, r := range c {
		v, err := r.Resolve(ref)
		if errors.Is(err, ErrModuleNotFound) {
			continue
		}
		return v, err
	}
	return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, ref.Module)
}

// AsClass performs the checked downcast from a resolved symbol to a provider class.
func AsClass(symbol any) (plugins.Class, error) {
	switch v := symbol.(type) {
	case plugins.Class:
		return v, nil
	case *plugins.Class:
		if v == nil || *v == nil {
			return nil, errors.New("symbol is a nil provider class")
		}
		return *v, nil
	case func() plugins.Class:
		c := v()
		if c == nil {
			return nil, errors.New("class constructor returned nil")
		}
		return c, nil
	case func() (plugins.Class, error):
		c, err := v()
		if err != nil {
			return nil, fmt.Errorf("class constructor failed: %w", err)
		}
		if c == nil {
			return nil, errors.New("class constructor returned nil")
		}
		return c, nil
	default:
		return nil, fmt.Errorf("symbol of type %T does not implement plugins.Class", symbol)
	}
}
