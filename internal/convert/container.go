// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"strconv"

	"github.com/pdiddy/heicjpg/internal/container"
)

// ContainerConverter converts by piping the HEIC bytes through a filter
// container image that writes JPEG to stdout. It depends on a
// container.Runtime (docker or podman) injected at construction time.
type ContainerConverter struct {
	runtime      container.Runtime
	image        string
	quality      int
	maxDimension int
}

// NewContainerConverter creates a converter that runs image on rt. It
// verifies that the image exists locally before returning.
func NewContainerConverter(ctx context.Context, rt container.Runtime, image string, quality, maxDimension int) (*ContainerConverter, error) {
	if err := rt.ImageExists(ctx, image); err != nil {
		return nil, fmt.Errorf("conversion image not available in %s: %w", rt.Name(), err)
	}
	return &ContainerConverter{
		runtime:      rt,
		image:        image,
		quality:      quality,
		maxDimension: maxDimension,
	}, nil
}

// Convert pipes r through the container and validates that the result is a
// decodable JPEG.
func (c *ContainerConverter) Convert(ctx context.Context, r io.Reader) (Output, error) {
	var out bytes.Buffer
	args := []string{"--quality", strconv.Itoa(quality(c.quality))}
	if err := c.runtime.Filter(ctx, c.image, args, r, &out); err != nil {
		return Output{}, fmt.Errorf("converting with %s: %w", c.image, err)
	}
	if out.Len() == 0 {
		return Output{}, fmt.Errorf("%s: %w", c.image, ErrEmptyOutput)
	}

	if c.maxDimension > 0 {
		img, err := jpeg.Decode(bytes.NewReader(out.Bytes()))
		if err != nil {
			return Output{}, fmt.Errorf("decoding %s output: %w", c.image, err)
		}
		img = fit(img, c.maxDimension)
		jpg, err := encode(img, c.quality)
		if err != nil {
			return Output{}, err
		}
		b := img.Bounds()
		return Output{Data: jpg, Width: b.Dx(), Height: b.Dy()}, nil
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Bytes()))
	if err != nil {
		return Output{}, fmt.Errorf("reading %s output: %w", c.image, err)
	}
	if format != "jpeg" {
		return Output{}, fmt.Errorf("%s produced %s, want jpeg", c.image, format)
	}
	return Output{Data: out.Bytes(), Width: cfg.Width, Height: cfg.Height}, nil
}
