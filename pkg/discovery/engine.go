package discovery

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/pluginhost/pkg/observability"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

// Resolved is a declaration whose reference produced a provider class
type Resolved struct {
	Declaration plugins.Declaration
	Class       plugins.Class
}

// Failed is a declaration that could not be resolved
type Failed struct {
	Declaration plugins.Declaration
	Err         error
}

// Report is the outcome of one discovery pass
type Report struct {
	Resolved []Resolved
	Failed   []Failed
}

// Counts returns resolved and failed totals for a category
func (r *Report) Counts(c plugins.Category) (resolved, failed int) {
	for _, res := range r.Resolved {
		if res.Declaration.Category == c {
			resolved++
		}
	}
	for _, f := range r.Failed {
		if f.Declaration.Category == c {
			failed++
		}
	}
	return resolved, failed
}

// Engine enumerates declarations and resolves them to provider classes.
// It never instantiates providers and holds no state between passes.
type Engine struct {
	index    Index
	resolver Resolver
	log      *logrus.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithIndex replaces the index set. Multiple indexes are consulted in order.
func WithIndex(indexes ...Index) Option {
	return func(e *Engine) {
		if len(indexes) == 1 {
			e.index = indexes[0]
			return
		}
		e.index = MultiIndex(indexes)
	}
}

// WithResolver replaces the reference resolver
func WithResolver(r Resolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// NewEngine creates an engine reading the builtin index and resolving
// against the default symbol table, unless overridden by opts.
func NewEngine(log *logrus.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logrus.New()
	}
	e := &Engine{
		index:    Builtin(),
		resolver: ChainResolver{DefaultSymbols(), GoPluginResolver{}},
		log:      log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DiscoverAll scans every category's namespace. Resolution failures are
// collected in the report; nothing a provider does can make this return early.
func (e *Engine) DiscoverAll(ctx context.Context, categories []plugins.Category) *Report {
	report := &Report{}
	log := e.log.WithContext(ctx)

	for _, category := range categories {
		namespace := category.Namespace()
		entries, err := e.index.Entries(namespace)
		if err != nil {
			log.WithFields(logrus.Fields{
				"category":  category,
				"namespace": namespace,
				"error":     err,
			}).Warn("Discovery index reported an error; continuing with partial results")
		}

		resolved, failed := 0, 0
		for _, entry := range entries {
			decl := plugins.Declaration{
				Category:  category,
				Name:      entry.Name,
				Reference: entry.Reference,
				Source:    entry.Source,
			}

			class, err := e.resolve(decl)
			if err != nil {
				failed++
				report.Failed = append(report.Failed, Failed{Declaration: decl, Err: err})
				log.WithFields(logrus.Fields{
					"category":  category,
					"name":      decl.Name,
					"stage":     plugins.StageDiscovery,
					"outcome":   "failed",
					"reference": decl.Reference,
					"error":     err,
				}).Warn("Failed to resolve plugin declaration")
				continue
			}

			resolved++
			report.Resolved = append(report.Resolved, Resolved{Declaration: decl, Class: class})
		}

		log.WithFields(logrus.Fields{
			"category":  category,
			"namespace": namespace,
			"resolved":  resolved,
			"failed":    failed,
		}).Info("Discovery complete for category")
	}

	return report
}

// resolve never panics; provider code run during resolution is recovered
func (e *Engine) resolve(decl plugins.Declaration) (class plugins.Class, err error) {
	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			e.log.WithField("stack", string(debug.Stack())).Debugf("Recovered panic resolving %s", decl.Ref())
			class = nil
			err = &plugins.DiscoveryResolutionError{Declaration: decl, Err: fmt.Errorf("resolution aborted: %w", perr)}
		}
	}()

	ref, err := ParseReference(decl.Reference)
	if err != nil {
		return nil, &plugins.DiscoveryResolutionError{Declaration: decl, Err: err}
	}

	symbol, err := e.resolver.Resolve(ref)
	if err != nil {
		return nil, &plugins.DiscoveryResolutionError{Declaration: decl, Err: err}
	}

	class, err = AsClass(symbol)
	if err != nil {
		return nil, &plugins.DiscoveryResolutionError{Declaration: decl, Err: err}
	}

	// touch the metadata so a class that cannot describe itself fails here
	_ = class.Metadata()
	return class, nil
}
