// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package gallery owns the converted images on display. It hands out
// numbered items for download, renders thumbnails, and releases every
// handle it holds when its contents are replaced or cleared.
package gallery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/pdiddy/heicjpg/internal/handle"
	"github.com/pdiddy/heicjpg/pkg/types"
)

const (
	defaultThumbWidth = 300
	thumbQuality      = 85
)

// ErrNoItem is returned for an item number outside 1..Len().
var ErrNoItem = errors.New("no such gallery item")

// Item is one displayed image.
type Item struct {
	// Number is the 1-based position in display order.
	Number int `json:"number" yaml:"number"`

	// Name is the download file name, converted-image-<Number>.jpg.
	Name string `json:"name" yaml:"name"`

	Image types.ConvertedImage `json:"image" yaml:"image"`
}

// Gallery holds the displayed images and the store behind their handles.
type Gallery struct {
	store      handle.Store
	logger     *zap.Logger
	thumbWidth int

	mu     sync.RWMutex
	images []types.ConvertedImage
	thumbs map[string][]byte
}

// New returns an empty gallery over store.
func New(store handle.Store, logger *zap.Logger, cfg types.GalleryConfig) *Gallery {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := cfg.ThumbnailWidth
	if w <= 0 {
		w = defaultThumbWidth
	}
	return &Gallery{
		store:      store,
		logger:     logger,
		thumbWidth: w,
		thumbs:     make(map[string][]byte),
	}
}

// Replace displays images in place of the current set, releasing the
// handles of the previous set.
func (g *Gallery) Replace(ctx context.Context, images []types.ConvertedImage) error {
	g.mu.Lock()
	old := g.images
	g.images = append([]types.ConvertedImage(nil), images...)
	g.thumbs = make(map[string][]byte)
	g.mu.Unlock()

	return g.release(ctx, old)
}

// Clear empties the gallery and releases every handle it held.
func (g *Gallery) Clear(ctx context.Context) error {
	return g.Replace(ctx, nil)
}

func (g *Gallery) release(ctx context.Context, images []types.ConvertedImage) error {
	var errs []error
	for _, img := range images {
		if err := g.store.Release(ctx, handle.Handle(img.Handle)); err != nil && !errors.Is(err, handle.ErrNotFound) {
			errs = append(errs, fmt.Errorf("releasing %s: %w", img.Handle, err))
		}
	}
	if len(images) > 0 {
		g.logger.Debug("Released handles", zap.Int("count", len(images)))
	}
	return errors.Join(errs...)
}

// Len returns the number of displayed images.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.images)
}

// Empty reports whether nothing is displayed.
func (g *Gallery) Empty() bool {
	return g.Len() == 0
}

// Items returns the displayed images, numbered from 1 in display order.
func (g *Gallery) Items() []Item {
	g.mu.RLock()
	defer g.mu.RUnlock()
	items := make([]Item, len(g.images))
	for i, img := range g.images {
		items[i] = Item{Number: i + 1, Name: types.ImageName(i + 1), Image: img}
	}
	return items
}

// Item returns item n (1-based).
func (g *Gallery) Item(n int) (Item, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n < 1 || n > len(g.images) {
		return Item{}, fmt.Errorf("%w: %d", ErrNoItem, n)
	}
	return Item{Number: n, Name: types.ImageName(n), Image: g.images[n-1]}, nil
}

// Open returns the JPEG bytes of item n.
func (g *Gallery) Open(ctx context.Context, n int) ([]byte, Item, error) {
	item, err := g.Item(n)
	if err != nil {
		return nil, Item{}, err
	}
	data, err := g.store.Open(ctx, handle.Handle(item.Image.Handle))
	if err != nil {
		return nil, Item{}, fmt.Errorf("opening %s: %w", item.Name, err)
	}
	return data, item, nil
}

// Fetch returns the bytes behind an item's handle. It lets the archive
// builder read items without knowing about the store.
func (g *Gallery) Fetch(ctx context.Context, item Item) ([]byte, error) {
	return g.store.Open(ctx, handle.Handle(item.Image.Handle))
}

// Save writes item n to w.
func (g *Gallery) Save(ctx context.Context, n int, w io.Writer) error {
	data, _, err := g.Open(ctx, n)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// SaveAll writes every item to dir/converted-image-<n>.jpg, replacing
// existing files atomically. It returns the written paths.
func (g *Gallery) SaveAll(ctx context.Context, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	items := g.Items()
	paths := make([]string, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		data, err := g.Fetch(ctx, item)
		if err != nil {
			return paths, fmt.Errorf("opening %s: %w", item.Name, err)
		}
		path := filepath.Join(dir, item.Name)
		if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
			return paths, fmt.Errorf("writing %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Thumbnail returns a JPEG preview of item n scaled to the configured
// width. Images narrower than that width are returned as stored.
func (g *Gallery) Thumbnail(ctx context.Context, n int) ([]byte, error) {
	item, err := g.Item(n)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	cached, ok := g.thumbs[item.Image.Handle]
	g.mu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := g.Fetch(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", item.Name, err)
	}
	thumb, err := scale(data, g.thumbWidth)
	if err != nil {
		return nil, fmt.Errorf("thumbnail for %s: %w", item.Name, err)
	}

	g.mu.Lock()
	// The set may have been replaced while scaling.
	if g.thumbs != nil && g.holds(item.Image.Handle) {
		g.thumbs[item.Image.Handle] = thumb
	}
	g.mu.Unlock()
	return thumb, nil
}

// holds reports whether h is displayed. Callers hold g.mu.
func (g *Gallery) holds(h string) bool {
	for _, img := range g.images {
		if img.Handle == h {
			return true
		}
	}
	return false
}

func scale(data []byte, width int) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	if b.Dx() <= width {
		return data, nil
	}

	height := int(float64(b.Dy()) * float64(width) / float64(b.Dx()))
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: thumbQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
