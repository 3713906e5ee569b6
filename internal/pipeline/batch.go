// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import "github.com/pdiddy/heicjpg/pkg/types"

// Batch holds the outcome of one pipeline run.
type Batch struct {
	// Results has one entry per accepted file, in input order.
	Results []types.FileResult
}

// Images returns the successfully converted images in input order.
// Failures leave no placeholder.
func (b Batch) Images() []types.ConvertedImage {
	images := make([]types.ConvertedImage, 0, len(b.Results))
	for _, r := range b.Results {
		if r.OK() {
			images = append(images, *r.Image)
		}
	}
	return images
}

// Converted returns the number of files converted.
func (b Batch) Converted() int {
	n := 0
	for _, r := range b.Results {
		if r.OK() {
			n++
		}
	}
	return n
}

// Failed returns the number of files that did not convert.
func (b Batch) Failed() int {
	return b.Total() - b.Converted()
}

// Total returns the number of files attempted.
func (b Batch) Total() int {
	return len(b.Results)
}

// HasFailures reports whether any file failed.
func (b Batch) HasFailures() bool {
	return b.Failed() > 0
}
