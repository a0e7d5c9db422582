package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Categories maps job category names to native specification fragments.
// Default applies to jobs that name no category.
type Categories struct {
	Default    string            `yaml:"default"`
	Categories map[string]string `yaml:"categories"`
}

// LoadCategories reads a categories file. An empty path yields no categories.
func LoadCategories(path string) (*Categories, error) {
	if path == "" {
		return &Categories{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read categories file: %w", err)
	}
	return ParseCategories(data)
}

// ParseCategories decodes categories YAML, rejecting unknown keys.
func ParseCategories(data []byte) (*Categories, error) {
	c := &Categories{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse categories: %w", err)
	}
	for name := range c.Categories {
		if name == "" {
			return nil, fmt.Errorf("parse categories: empty category name")
		}
	}
	return c, nil
}

// Configured reports whether any named category exists.
func (c *Categories) Configured() bool {
	return c != nil && len(c.Categories) > 0
}

// Lookup returns the native specification for a category. The empty name
// resolves to the default.
func (c *Categories) Lookup(name string) (string, bool) {
	if c == nil {
		return "", name == ""
	}
	if name == "" {
		return c.Default, true
	}
	spec, ok := c.Categories[name]
	return spec, ok
}

// Names returns the configured category names in sorted order.
func (c *Categories) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Categories))
	for name := range c.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
