package plugins

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrRegistryStarted is returned by a second StartAll on the same registry
	ErrRegistryStarted = errors.New("registry already started")
	// ErrRegistryClosed is returned once ShutdownAll has run
	ErrRegistryClosed = errors.New("registry is shut down")
)

// DiscoveryResolutionError wraps a failure to resolve a declaration's loader reference
type DiscoveryResolutionError struct {
	Declaration Declaration
	Err         error
}

func (e *DiscoveryResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %s (%s): %v", e.Declaration.Ref(), e.Declaration.Reference, e.Err)
}

func (e *DiscoveryResolutionError) Unwrap() error { return e.Err }

// VersionIncompatibilityError reports a host API version mismatch
type VersionIncompatibilityError struct {
	Ref           Ref
	PluginVersion string
	HostVersion   string
	Reason        string
}

func (e *VersionIncompatibilityError) Error() string {
	return fmt.Sprintf("plugin %s is incompatible with host: %s", e.Ref, e.Reason)
}

// FieldError is a single config validation failure
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	if f.Path == "" {
		return f.Message
	}
	return f.Path + ": " + f.Message
}

// ConfigValidationError carries every field-level failure for one provider
type ConfigValidationError struct {
	Ref    Ref
	Errors []FieldError
}

func (e *ConfigValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, f := range e.Errors {
		parts = append(parts, f.String())
	}
	prefix := "invalid configuration"
	if e.Ref.Name != "" {
		prefix = fmt.Sprintf("invalid configuration for %s", e.Ref)
	}
	return prefix + ": " + strings.Join(parts, "; ")
}

// Fields returns the failing field paths
func (e *ConfigValidationError) Fields() []string {
	out := make([]string, 0, len(e.Errors))
	for _, f := range e.Errors {
		out = append(out, f.Path)
	}
	return out
}

// DuplicateRegistrationError is returned when (category, name) is already taken
type DuplicateRegistrationError struct {
	Ref Ref
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("plugin %q already registered in category %s", e.Ref.Name, e.Ref.Category)
}

// MissingDependencyError reports a dependency that was never discovered
type MissingDependencyError struct {
	Ref     Ref
	Missing Ref
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("plugin %s depends on %s which was not discovered", e.Ref, e.Missing)
}

// CyclicDependencyError lists every dependency cycle found
type CyclicDependencyError struct {
	Cycles [][]Ref
}

func (e *CyclicDependencyError) Error() string {
	parts := make([]string, 0, len(e.Cycles))
	for _, cycle := range e.Cycles {
		names := make([]string, 0, len(cycle)+1)
		for _, r := range cycle {
			names = append(names, r.String())
		}
		if len(cycle) > 0 {
			names = append(names, cycle[0].String())
		}
		parts = append(parts, strings.Join(names, " -> "))
	}
	return "cyclic plugin dependencies: " + strings.Join(parts, "; ")
}

// Members returns every ref participating in any cycle
func (e *CyclicDependencyError) Members() []Ref {
	var out []Ref
	for _, c := range e.Cycles {
		out = append(out, c...)
	}
	return out
}

// DependencyFailedError marks a provider skipped because a dependency failed
type DependencyFailedError struct {
	Ref        Ref
	Dependency Ref
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("plugin %s not started: dependency %s failed", e.Ref, e.Dependency)
}

// LifecycleTimeoutError reports a hook that did not return before its deadline
type LifecycleTimeoutError struct {
	Ref     Ref
	Stage   Stage
	Timeout time.Duration
}

func (e *LifecycleTimeoutError) Error() string {
	return fmt.Sprintf("plugin %s %s did not complete within %s", e.Ref, e.Stage, e.Timeout)
}

// PluginNotFoundError is returned by lookups that miss
type PluginNotFoundError struct {
	Ref   Ref
	State LifecycleState // empty when never registered
	Err   error          // set to ErrRegistryClosed once the registry has shut down
}

func (e *PluginNotFoundError) Error() string {
	if e.State == "" {
		return fmt.Sprintf("plugin not found: %s", e.Ref)
	}
	return fmt.Sprintf("plugin not available: %s is %s", e.Ref, e.State)
}

func (e *PluginNotFoundError) Unwrap() error { return e.Err }
