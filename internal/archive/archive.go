// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package archive packages displayed images into a single ZIP for one-shot
// download. Entries are named converted-image-<n>.jpg in display order.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"github.com/pdiddy/heicjpg/internal/gallery"
	"github.com/pdiddy/heicjpg/pkg/types"
)

// Fetcher dereferences a gallery item to its JPEG bytes.
type Fetcher interface {
	Fetch(ctx context.Context, item gallery.Item) ([]byte, error)
}

// Build writes a ZIP of items to w and returns the number of entries. A
// failure to fetch any item aborts the build with an error naming the
// entry; whatever was written to w must then be discarded.
func Build(ctx context.Context, w io.Writer, src Fetcher, items []gallery.Item) (int, error) {
	zw := zip.NewWriter(w)
	now := time.Now()

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		name := types.ImageName(i + 1)

		data, err := src.Fetch(ctx, item)
		if err != nil {
			return i, fmt.Errorf("fetching %s: %w", name, err)
		}

		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: now,
		})
		if err != nil {
			return i, fmt.Errorf("adding %s: %w", name, err)
		}
		if _, err := fw.Write(data); err != nil {
			return i, fmt.Errorf("writing %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return len(items), fmt.Errorf("finalizing archive: %w", err)
	}
	return len(items), nil
}

// BuildBytes builds the archive in memory, so a failed build never leaves
// a partial archive behind.
func BuildBytes(ctx context.Context, src Fetcher, items []gallery.Item) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := Build(ctx, &buf, src, items); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile builds the archive and atomically writes it to dir/converted-images.zip.
// It returns the archive path.
func WriteFile(ctx context.Context, dir string, src Fetcher, items []gallery.Item) (string, error) {
	data, err := BuildBytes(ctx, src, items)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, types.ArchiveName)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
