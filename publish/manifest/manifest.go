package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
)

// Descriptor file names, in lookup order.
const (
	JSONFile = "plugin.json"
	YAMLFile = "plugin.yaml"
	YMLFile  = "plugin.yml"
)

var (
	// ErrNotFound is returned when no descriptor exists.
	ErrNotFound = errors.New("plugin manifest not found")

	// ErrInvalidName is returned for plugin names that are
	// not a single safe path segment.
	ErrInvalidName = errors.New("invalid plugin name")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Manifest is the plugin descriptor.
type Manifest struct {
	Name        string `json:"name"        yaml:"name"`
	PluginName  string `json:"pluginName"  yaml:"pluginName"`
	Description string `json:"description" yaml:"description"`
	Author      string `json:"author"      yaml:"author"`
	Version     string `json:"version"     yaml:"version"`

	// Path is the file the manifest was read from.
	Path string `json:"-" yaml:"-"`
}

// ID returns the plugin name used for the replay branch
// and subtree, falling back to Name.
func (m *Manifest) ID() string {
	if m.PluginName != "" {
		return m.PluginName
	}

	return m.Name
}

// Vars returns the manifest fields as template variables.
func (m *Manifest) Vars() map[string]string {
	return map[string]string{
		"plugin":      m.ID(),
		"name":        m.Name,
		"version":     m.Version,
		"description": m.Description,
		"author":      m.Author,
	}
}

// Load reads plugin.json, plugin.yaml or plugin.yml from
// dir, in that order, and validates the plugin name.
func Load(dir string) (*Manifest, error) {
	const errCtx = "loading manifest"

	for _, name := range []string{JSONFile, YAMLFile, YMLFile} {
		path := filepath.Join(dir, name)

		data, err := os.ReadFile(path) //nolint:gosec
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		var m Manifest

		if name == JSONFile {
			err = json.Unmarshal(data, &m)
		} else {
			err = yaml.Unmarshal(data, &m)
		}

		if err != nil {
			return nil, fmt.Errorf("%s: parse %s: %w", errCtx, path, err)
		}

		m.Path = path

		if err := ValidateName(m.ID()); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", errCtx, path, err)
		}

		return &m, nil
	}

	return nil, fmt.Errorf("%s: %s: %w", errCtx, dir, ErrNotFound)
}

// ValidateName checks that name can be used both as a
// directory under plugins/ and as a branch suffix.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case !namePattern.MatchString(name),
		strings.Contains(name, ".."),
		strings.HasSuffix(name, ".lock"),
		strings.HasSuffix(name, "."):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return nil
}
