// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report writes a batch manifest: one entry per accepted file with
// its outcome, so failures reach the caller instead of only the log.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/heicjpg/pkg/types"
)

// Entry is the manifest record for one source file.
type Entry struct {
	Index  int                    `json:"index" yaml:"index"`
	Source string                 `json:"source" yaml:"source"`
	Status types.ConversionStatus `json:"status" yaml:"status"`

	// Output is the download name; set only for converted files.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
	Size   int64  `json:"size,omitempty" yaml:"size,omitempty"`
	Width  int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height int    `json:"height,omitempty" yaml:"height,omitempty"`
	Digest string `json:"blake3,omitempty" yaml:"blake3,omitempty"`

	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Summary counts outcomes.
type Summary struct {
	Total     int `json:"total" yaml:"total"`
	Converted int `json:"converted" yaml:"converted"`
	Failed    int `json:"failed" yaml:"failed"`
}

// Manifest describes one batch.
type Manifest struct {
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
	Summary     Summary   `json:"summary" yaml:"summary"`
	Files       []Entry   `json:"files" yaml:"files"`
}

// New builds a manifest from per-file results. Converted files are numbered
// in the order they are displayed, matching the gallery's download names.
func New(results []types.FileResult) Manifest {
	m := Manifest{
		GeneratedAt: time.Now().UTC(),
		Files:       make([]Entry, 0, len(results)),
	}

	n := 0
	for _, r := range results {
		e := Entry{Index: r.Index, Source: r.Source, Status: r.Status}
		if r.OK() {
			n++
			e.Output = types.ImageName(n)
			e.Size = r.Image.Size
			e.Width = r.Image.Width
			e.Height = r.Image.Height
			e.Digest = r.Image.Digest
			m.Summary.Converted++
		} else {
			e.Status = types.ConversionFailed
			if r.Err != nil {
				e.Error = r.Err.Error()
			}
			m.Summary.Failed++
		}
		m.Files = append(m.Files, e)
	}
	m.Summary.Total = len(results)
	return m
}

// Marshal encodes the manifest in format.
func (m Manifest) Marshal(format types.ManifestFormat) ([]byte, error) {
	switch format {
	case types.ManifestYAML, "":
		data, err := yaml.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshaling YAML: %w", err)
		}
		return data, nil
	case types.ManifestJSON:
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling JSON: %w", err)
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unsupported manifest format %q: use yaml or json", format)
	}
}

// WriteFile atomically writes the manifest to path.
func (m Manifest) WriteFile(path string, format types.ManifestFormat) error {
	data, err := m.Marshal(format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	return nil
}
