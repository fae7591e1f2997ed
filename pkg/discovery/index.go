package discovery

import (
	"fmt"
	"sort"
	"sync"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

// Entry is one raw declaration under a namespace key
type Entry struct {
	Name      string
	Reference string
	Source    string
}

// Index is a read-only source of declarations keyed by namespace
type Index interface {
	Entries(namespace string) ([]Entry, error)
}

// StaticIndex is an in-memory index. The zero value is ready to use.
type StaticIndex struct {
	source  string
	mu      sync.RWMutex
	entries map[string]map[string]Entry
}

// NewStaticIndex creates an empty index whose entries report source
func NewStaticIndex(source string) *StaticIndex {
	return &StaticIndex{source: source}
}

// Add declares name under namespace. Declaring the same name twice replaces the reference.
func (s *StaticIndex) Add(namespace, name, reference string) {
	s.AddEntry(namespace, Entry{Name: name, Reference: reference, Source: s.source})
}

// AddEntry is Add with an explicit source
func (s *StaticIndex) AddEntry(namespace string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries == nil {
		s.entries = make(map[string]map[string]Entry)
	}
	if s.entries[namespace] == nil {
		s.entries[namespace] = make(map[string]Entry)
	}
	s.entries[namespace][e.Name] = e
}

// Has reports whether name is declared under namespace
func (s *StaticIndex) Has(namespace, name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[namespace][name]
	return ok
}

// Entries returns the declarations under namespace sorted by name
func (s *StaticIndex) Entries(namespace string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.entries[namespace]
	out := make([]Entry, 0, len(ns))
	for _, e := range ns {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// MultiIndex concatenates the entries of several indexes in order
type MultiIndex []Index

// Entries implements Index. An index that fails does not hide the others;
// the first error is returned alongside whatever was collected.
func (m MultiIndex) Entries(namespace string) ([]Entry, error) {
	var (
		out      []Entry
		firstErr error
	)
	for _, idx := range m {
		entries, err := idx.Entries(namespace)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		out = append(out, entries...)
	}
	return out, firstErr
}

var builtin = NewStaticIndex("builtin")

// Builtin returns the process-wide index written by Publish
func Builtin() Index {
	return builtin
}

// Publish advertises a provider in the builtin index. It is meant to be
// called from a provider package's init, much like database/sql drivers.
// Publishing the same name twice under one namespace panics.
func Publish(namespace, name, reference string) {
	if builtin.Has(namespace, name) {
		panic(fmt.Sprintf("discovery: Publish called twice for %s %q", namespace, name))
	}
	builtin.Add(namespace, name, reference)
}

// Register publishes class under category/name and provides it in the
// default symbol table under module:attribute.
func Register(category plugins.Category, name, module, attribute string, class plugins.Class) {
	Provide(module, attribute, class)
	Publish(category.Namespace(), name, Reference{Module: module, Attribute: attribute}.String())
}
