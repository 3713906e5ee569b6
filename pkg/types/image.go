// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the heicjpg pipeline:
// source files handed to the selector, converted images held by the gallery,
// and per-file batch results.
package types

import (
	"fmt"
	"io"
	"time"
)

// MediaTypeHEIC is the declared media type accepted by default.
const MediaTypeHEIC = "image/heic"

// MediaTypeHEIF is the declared media type of HEIF files sharing the container.
const MediaTypeHEIF = "image/heif"

// MediaTypeJPEG is the media type of every converted image.
const MediaTypeJPEG = "image/jpeg"

// ArchiveName is the file name offered for the bulk download.
const ArchiveName = "converted-images.zip"

// ImageName returns the download name of the n-th displayed image (1-based).
func ImageName(n int) string {
	return fmt.Sprintf("converted-image-%d.jpg", n)
}

// SourceFile is a user-provided file with a declared media type. It exists
// only for the duration of one conversion pass.
type SourceFile struct {
	// Name is the user-visible file name (base name for disk files).
	Name string `json:"name" yaml:"name"`

	// MediaType is the declared type, taken from the extension or the upload
	// Content-Type. It is never sniffed from content.
	MediaType string `json:"media_type" yaml:"media_type"`

	// Size is the size in bytes, or -1 when unknown.
	Size int64 `json:"size" yaml:"size"`

	// Open returns a fresh reader over the file contents.
	Open func() (io.ReadCloser, error) `json:"-" yaml:"-"`
}

// ConversionStatus indicates the outcome of converting one source file.
type ConversionStatus string

const (
	ConversionDone   ConversionStatus = "converted"
	ConversionFailed ConversionStatus = "failed"
)

// ConvertedImage is a JPEG held behind an opaque handle.
type ConvertedImage struct {
	// Handle dereferences to the JPEG bytes through a handle store.
	Handle string `json:"handle" yaml:"handle"`

	// Source is the name of the file this image was converted from.
	Source string `json:"source" yaml:"source"`

	// Size is the JPEG size in bytes.
	Size int64 `json:"size" yaml:"size"`

	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`

	// Digest is the hex BLAKE3-256 digest of the JPEG bytes.
	Digest string `json:"digest" yaml:"digest"`

	ConvertedAt time.Time `json:"converted_at" yaml:"converted_at"`
}

// FileResult records what happened to one accepted source file.
type FileResult struct {
	// Index is the position of the file among the accepted files (0-based).
	Index int `json:"index" yaml:"index"`

	Source string           `json:"source" yaml:"source"`
	Status ConversionStatus `json:"status" yaml:"status"`

	// Err is set when Status is ConversionFailed.
	Err error `json:"-" yaml:"-"`

	// Image is set when Status is ConversionDone.
	Image *ConvertedImage `json:"image,omitempty" yaml:"image,omitempty"`
}

// OK reports whether the file converted successfully.
func (r FileResult) OK() bool {
	return r.Status == ConversionDone && r.Image != nil
}
