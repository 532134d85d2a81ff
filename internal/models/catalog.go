// Package models governs which speech models exist, whether their
// files are on disk, and which one is loaded into the engine. All
// status transitions for a model go through the Manager.
package models

import "path/filepath"

// AccuracyTier ranks a model's transcription quality.
type AccuracyTier string

const (
	AccuracyHigh   AccuracyTier = "high"
	AccuracyGood   AccuracyTier = "good"
	AccuracyDecent AccuracyTier = "decent"
)

// SpeedTier ranks a model's inference latency.
type SpeedTier string

const (
	SpeedSlow   SpeedTier = "slow"
	SpeedMedium SpeedTier = "medium"
	SpeedFast   SpeedTier = "fast"
)

// Descriptor is one catalog entry. Static apart from FilePath, which
// is resolved against the configured models directory.
type Descriptor struct {
	Name      string       `json:"name"`
	FileName  string       `json:"file_name"`
	URL       string       `json:"url"`
	FilePath  string       `json:"file_path"`
	SizeBytes int64        `json:"size_bytes"`
	Accuracy  AccuracyTier `json:"accuracy_tier"`
	Speed     SpeedTier    `json:"speed_tier"`
}

const hfBase = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// builtin is the fixed whisper family this engine knows how to serve.
var builtin = []Descriptor{
	{
		Name:      "tiny",
		FileName:  "ggml-tiny.bin",
		SizeBytes: 77691713,
		Accuracy:  AccuracyDecent,
		Speed:     SpeedFast,
	},
	{
		Name:      "base",
		FileName:  "ggml-base.bin",
		SizeBytes: 147951465,
		Accuracy:  AccuracyGood,
		Speed:     SpeedFast,
	},
	{
		Name:      "small",
		FileName:  "ggml-small.bin",
		SizeBytes: 487601967,
		Accuracy:  AccuracyGood,
		Speed:     SpeedMedium,
	},
	{
		Name:      "medium",
		FileName:  "ggml-medium.bin",
		SizeBytes: 1533763059,
		Accuracy:  AccuracyHigh,
		Speed:     SpeedSlow,
	},
	{
		Name:      "large-v3-turbo",
		FileName:  "ggml-large-v3-turbo.bin",
		SizeBytes: 1624555275,
		Accuracy:  AccuracyHigh,
		Speed:     SpeedMedium,
	},
}

// DefaultModel is activated at startup when its file is present.
const DefaultModel = "base"

// Catalog is the fixed model set with paths resolved to one directory.
type Catalog struct {
	dir    string
	byName map[string]Descriptor
	order  []string
}

// NewCatalog resolves the built-in catalog against dir.
func NewCatalog(dir string) *Catalog {
	c := &Catalog{dir: dir, byName: make(map[string]Descriptor, len(builtin))}
	for _, d := range builtin {
		d.URL = hfBase + d.FileName
		d.FilePath = filepath.Join(dir, d.FileName)
		c.byName[d.Name] = d
		c.order = append(c.order, d.Name)
	}
	return c
}

// Dir returns the models directory.
func (c *Catalog) Dir() string { return c.dir }

// Get looks up a model by name.
func (c *Catalog) Get(name string) (Descriptor, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// List returns the catalog in its fixed order.
func (c *Catalog) List() []Descriptor {
	out := make([]Descriptor, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.byName[name])
	}
	return out
}
