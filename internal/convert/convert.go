// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert turns HEIC images into JPEG with pluggable backends.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"golang.org/x/image/draw"

	"github.com/pdiddy/heicjpg/internal/container"
	"github.com/pdiddy/heicjpg/pkg/types"
)

const defaultQuality = 92

var (
	// ErrUnknownBackend is returned by New for an unrecognized backend name.
	ErrUnknownBackend = errors.New("unknown conversion backend")

	// ErrEmptyOutput is returned when a backend produced no bytes.
	ErrEmptyOutput = errors.New("converter produced empty output")
)

// Output is a converted JPEG image.
type Output struct {
	Data   []byte
	Width  int
	Height int
}

// Converter transforms one HEIC image into JPEG. Different backends
// (in-process decoder, container) implement this interface.
type Converter interface {
	// Convert reads a HEIC image from r and returns it JPEG-encoded.
	Convert(ctx context.Context, r io.Reader) (Output, error)
}

// ConverterFunc adapts a function to the Converter interface.
type ConverterFunc func(ctx context.Context, r io.Reader) (Output, error)

// Convert calls f(ctx, r).
func (f ConverterFunc) Convert(ctx context.Context, r io.Reader) (Output, error) {
	return f(ctx, r)
}

// New builds the converter selected by cfg.Backend. The container backend
// detects a runtime and checks that cfg.Image exists locally.
func New(ctx context.Context, cfg types.ConversionConfig) (Converter, error) {
	switch cfg.Backend {
	case types.BackendNative, "":
		return NewNativeConverter(cfg.Quality, cfg.MaxDimension), nil
	case types.BackendContainer:
		rt, err := container.DetectRuntime(ctx)
		if err != nil {
			return nil, err
		}
		return NewContainerConverter(ctx, rt, cfg.Image, cfg.Quality, cfg.MaxDimension)
	default:
		return nil, fmt.Errorf("%w: %q (use %s or %s)", ErrUnknownBackend, cfg.Backend,
			types.BackendNative, types.BackendContainer)
	}
}

func quality(q int) int {
	if q < 1 || q > 100 {
		return defaultQuality
	}
	return q
}

// fit scales img down so its longer side is at most max pixels. A zero max,
// or an image already within bounds, is returned unchanged.
func fit(img image.Image, max int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if max <= 0 || (w <= max && h <= max) {
		return img
	}

	nw, nh := max, max
	if w >= h {
		nh = int(float64(h) * float64(max) / float64(w))
	} else {
		nw = int(float64(w) * float64(max) / float64(h))
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func encode(img image.Image, q int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality(q)}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// exifHeader prefixes the EXIF payload inside a JPEG APP1 segment.
var exifHeader = []byte("Exif\x00\x00")

// withExif inserts exif as an APP1 segment right after the JPEG SOI marker.
// Payloads that do not fit one segment are dropped.
func withExif(jpg, exif []byte) []byte {
	if len(exif) == 0 || len(jpg) < 2 || jpg[0] != 0xff || jpg[1] != 0xd8 {
		return jpg
	}
	if !bytes.HasPrefix(exif, exifHeader) {
		exif = append(append([]byte{}, exifHeader...), exif...)
	}
	segLen := len(exif) + 2
	if segLen > 0xffff {
		return jpg
	}

	out := make([]byte, 0, len(jpg)+segLen+2)
	out = append(out, 0xff, 0xd8, 0xff, 0xe1, byte(segLen>>8), byte(segLen))
	out = append(out, exif...)
	out = append(out, jpg[2:]...)
	return out
}
