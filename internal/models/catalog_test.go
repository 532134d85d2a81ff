package models

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestCatalog(t *testing.T) {
	c := NewCatalog("/var/lib/scribe/models")

	t.Run("resolves_paths_against_the_directory", func(t *testing.T) {
		d, ok := c.Get("base")
		if !ok {
			t.Fatal("base missing from catalog")
		}
		if want := filepath.Join("/var/lib/scribe/models", "ggml-base.bin"); d.FilePath != want {
			t.Errorf("file path = %q, want %q", d.FilePath, want)
		}
		if !strings.HasSuffix(d.URL, "/ggml-base.bin") {
			t.Errorf("url = %q, want it to end in the file name", d.URL)
		}
	})

	t.Run("list_keeps_a_fixed_order", func(t *testing.T) {
		var names []string
		for _, d := range c.List() {
			names = append(names, d.Name)
		}
		want := []string{"tiny", "base", "small", "medium", "large-v3-turbo"}
		if len(names) != len(want) {
			t.Fatalf("catalog size = %d, want %d", len(names), len(want))
		}
		for i := range want {
			if names[i] != want[i] {
				t.Errorf("position %d = %q, want %q", i, names[i], want[i])
			}
		}
	})

	t.Run("default_model_exists", func(t *testing.T) {
		if _, ok := c.Get(DefaultModel); !ok {
			t.Errorf("default model %q not in catalog", DefaultModel)
		}
	})

	t.Run("every_entry_declares_its_size", func(t *testing.T) {
		for _, d := range c.List() {
			if d.SizeBytes <= 0 {
				t.Errorf("model %s has no expected size", d.Name)
			}
		}
	})
}
