// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/jdeng/goheif"
)

// Without SafeEncoding, single-image HEICs decode into pixel buffers owned by
// libde265 that are freed before Decode returns. It is a package global, so
// it is set once here rather than per call.
func init() {
	goheif.SafeEncoding = true
}

// NativeConverter decodes HEIC in-process and re-encodes it as JPEG,
// carrying over the EXIF block when the source has one.
type NativeConverter struct {
	quality      int
	maxDimension int
}

// NewNativeConverter returns a converter encoding at the given JPEG quality.
// maxDimension bounds the longer side; zero keeps the source size.
func NewNativeConverter(quality, maxDimension int) *NativeConverter {
	return &NativeConverter{quality: quality, maxDimension: maxDimension}
}

// Convert decodes the HEIC image read from r.
func (n *NativeConverter) Convert(ctx context.Context, r io.Reader) (Output, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Output{}, fmt.Errorf("reading HEIC: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	img, err := goheif.Decode(bytes.NewReader(data))
	if err != nil {
		return Output{}, fmt.Errorf("decoding HEIC: %w", err)
	}
	img = fit(img, n.maxDimension)

	jpg, err := encode(img, n.quality)
	if err != nil {
		return Output{}, err
	}

	// Missing EXIF is normal for screenshots and edited exports.
	if exif, err := goheif.ExtractExif(bytes.NewReader(data)); err == nil {
		jpg = withExif(jpg, exif)
	}

	b := img.Bounds()
	return Output{Data: jpg, Width: b.Dx(), Height: b.Dy()}, nil
}
