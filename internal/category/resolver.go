// Package category resolves download target directories from a YAML
// category definition file.
package category

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/telegrab/telegrab/internal/models"
)

// Category maps a user-defined grouping to a target directory.
type Category struct {
	Name     string `yaml:"name"`
	SavePath string `yaml:"save_path"`
}

// fileConfig is the on-disk shape of the categories file.
type fileConfig struct {
	Categories []Category `yaml:"categories"`
}

// Resolver implements the directory/category contract: the default
// incoming and temp directories plus category-specific save paths.
type Resolver struct {
	incomingDir string
	tempDir     string
	paths       map[string]string
}

// NewResolver creates a resolver without any categories.
func NewResolver(incomingDir, tempDir string) *Resolver {
	return &Resolver{
		incomingDir: incomingDir,
		tempDir:     tempDir,
		paths:       make(map[string]string),
	}
}

// Load reads the categories file. An empty path yields a resolver with no
// categories, which routes everything to the incoming directory.
func Load(path, incomingDir, tempDir string) (*Resolver, error) {
	r := NewResolver(incomingDir, tempDir)
	if path == "" {
		return r, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read categories file: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse categories file: %w", err)
	}

	for _, c := range cfg.Categories {
		if c.Name == "" || c.SavePath == "" {
			return nil, fmt.Errorf("category %q: name and save_path are required", c.Name)
		}
		r.paths[c.Name] = c.SavePath
	}
	return r, nil
}

// Directories returns the default incoming directory and the temp root.
func (r *Resolver) Directories() (string, string) {
	return r.incomingDir, r.tempDir
}

// ResolveCategoryPath returns the save path for the record's category,
// or "" when the record has none or the category is unknown.
func (r *Resolver) ResolveCategoryPath(rec *models.DownloadRecord) string {
	if rec == nil || rec.CategoryName == "" {
		return ""
	}
	return r.paths[rec.CategoryName]
}

// Names returns the defined category names.
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.paths))
	for n := range r.paths {
		names = append(names, n)
	}
	return names
}
