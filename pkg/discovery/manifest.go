package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

// ManifestFile is the file ManifestIndex looks for in each plugin directory
const ManifestFile = "plugin.yaml"

// Manifest is a provider package's on-disk metadata
type Manifest struct {
	Name        string                       `yaml:"name"`
	Version     string                       `yaml:"version"`
	Description string                       `yaml:"description"`
	Author      string                       `yaml:"author"`
	Homepage    string                       `yaml:"homepage"`
	EntryPoints map[string]map[string]string `yaml:"entry_points"` // namespace -> name -> reference
}

// LoadManifest loads and parses a manifest from a file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	return &manifest, nil
}

// LoadManifestFromDir loads the plugin.yaml in dir
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestFile))
}

// ValidateManifest performs basic validation on a manifest
func ValidateManifest(manifest *Manifest) []plugins.FieldError {
	var errs []plugins.FieldError

	if manifest.Name == "" {
		errs = append(errs, plugins.FieldError{Path: "name", Message: "package name is required"})
	}

	if manifest.Version == "" {
		errs = append(errs, plugins.FieldError{Path: "version", Message: "version is required"})
	} else if _, err := semver.NewVersion(manifest.Version); err != nil {
		errs = append(errs, plugins.FieldError{
			Path:    "version",
			Message: fmt.Sprintf("invalid semver format: %s", manifest.Version),
		})
	}

	if len(manifest.EntryPoints) == 0 {
		errs = append(errs, plugins.FieldError{Path: "entry_points", Message: "at least one entry point is required"})
	}

	for ns := range manifest.EntryPoints {
		if !strings.HasPrefix(ns, plugins.NamespacePrefix) {
			errs = append(errs, plugins.FieldError{
				Path:    "entry_points." + ns,
				Message: fmt.Sprintf("namespace must start with %q", plugins.NamespacePrefix),
			})
			continue
		}
		if _, err := plugins.ParseCategory(ns); err != nil {
			errs = append(errs, plugins.FieldError{
				Path:    "entry_points." + ns,
				Message: "unknown namespace",
			})
		}
	}

	sort.Slice(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
	return errs
}

// ManifestIndex reads declarations from plugin.yaml files. Each directory is
// scanned for a manifest of its own and one per immediate subdirectory.
// Relative module paths ("./x.so") are resolved against the manifest's directory.
type ManifestIndex struct {
	dirs []string
	log  *logrus.Logger

	once  sync.Once
	index *StaticIndex
	err   error
}

// NewManifestIndex creates an index over dirs. Scanning happens on first use.
func NewManifestIndex(dirs []string, log *logrus.Logger) *ManifestIndex {
	if log == nil {
		log = logrus.New()
	}
	return &ManifestIndex{dirs: dirs, log: log}
}

// Entries implements Index
func (m *ManifestIndex) Entries(namespace string) ([]Entry, error) {
	m.once.Do(m.scan)
	entries, _ := m.index.Entries(namespace)
	return entries, m.err
}

func (m *ManifestIndex) scan() {
	m.index = NewStaticIndex("manifest")

	for _, dir := range m.dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			m.log.Debugf("Manifest directory does not exist: %s", dir)
			continue
		}

		m.loadDir(dir)

		entries, err := os.ReadDir(dir)
		if err != nil {
			m.log.Warnf("Failed to read manifest directory %s: %v", dir, err)
			if m.err == nil {
				m.err = fmt.Errorf("failed to read manifest directory %s: %w", dir, err)
			}
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() {
				m.loadDir(filepath.Join(dir, entry.Name()))
			}
		}
	}
}

func (m *ManifestIndex) loadDir(dir string) {
	path := filepath.Join(dir, ManifestFile)
	if _, err := os.Stat(path); err != nil {
		return
	}

	manifest, err := LoadManifest(path)
	if err != nil {
		m.log.Warnf("Failed to load manifest %s: %v", path, err)
		return
	}

	if errs := ValidateManifest(manifest); len(errs) > 0 {
		m.log.Warnf("Skipping invalid manifest %s: %v", path, errs)
		return
	}

	source := "manifest:" + path
	for ns, decls := range manifest.EntryPoints {
		for name, reference := range decls {
			if m.index.Has(ns, name) {
				m.log.Warnf("Manifest %s redeclares %s %q; keeping the first declaration", path, ns, name)
				continue
			}
			m.index.AddEntry(ns, Entry{Name: name, Reference: absolutize(dir, reference), Source: source})
		}
	}
	m.log.WithFields(logrus.Fields{
		"manifest": path,
		"package":  manifest.Name,
		"version":  manifest.Version,
	}).Debug("Loaded plugin manifest")
}

func absolutize(dir, reference string) string {
	if strings.HasPrefix(reference, "./") || strings.HasPrefix(reference, "../") {
		return filepath.Join(dir, reference)
	}
	return reference
}
