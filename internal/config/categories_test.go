package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseCategories(t *testing.T) {
	t.Parallel()
	data := []byte(`
default: "--partition=batch"
categories:
  gpu: "--gres=gpu:1 --partition=gpu"
  short: "--qos=short"
`)
	c, err := ParseCategories(data)
	if err != nil {
		t.Fatalf("ParseCategories failed: %v", err)
	}

	if spec, ok := c.Lookup(""); !ok || spec != "--partition=batch" {
		t.Errorf("default lookup = %q, %v", spec, ok)
	}
	if spec, ok := c.Lookup("gpu"); !ok || spec != "--gres=gpu:1 --partition=gpu" {
		t.Errorf("gpu lookup = %q, %v", spec, ok)
	}
	if _, ok := c.Lookup("bigmem"); ok {
		t.Error("bigmem is not configured")
	}
	if names := c.Names(); len(names) != 2 || names[0] != "gpu" || names[1] != "short" {
		t.Errorf("unexpected names %v", names)
	}
	if !c.Configured() {
		t.Error("expected categories to be configured")
	}
}

func TestParseCategories_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data string
	}{
		{"unknown key", "defaults: x\n"},
		{"wrong type", "categories: [a, b]\n"},
		{"empty name", "categories:\n  \"\": x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseCategories([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadCategories(t *testing.T) {
	t.Parallel()

	empty, err := LoadCategories("")
	if err != nil {
		t.Fatalf("empty path: %v", err)
	}
	if empty.Configured() {
		t.Error("no file means no categories")
	}
	if spec, ok := empty.Lookup(""); !ok || spec != "" {
		t.Errorf("default of empty categories = %q, %v", spec, ok)
	}

	path := filepath.Join(t.TempDir(), "categories.yaml")
	if err := os.WriteFile(path, []byte("categories:\n  gpu: \"--gres=gpu:1\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadCategories(path)
	if err != nil {
		t.Fatalf("LoadCategories failed: %v", err)
	}
	if spec, _ := c.Lookup("gpu"); spec != "--gres=gpu:1" {
		t.Errorf("unexpected gpu spec %q", spec)
	}

	if _, err := LoadCategories(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	var nilCats *Categories
	if _, ok := nilCats.Lookup("gpu"); ok {
		t.Error("nil categories resolve nothing but the default")
	}
}

func TestParseCategories_EmptyDocument(t *testing.T) {
	t.Parallel()
	c, err := ParseCategories(nil)
	if err != nil {
		t.Fatalf("empty document: %v", err)
	}
	if c.Configured() {
		t.Error("empty document has no categories")
	}
}
