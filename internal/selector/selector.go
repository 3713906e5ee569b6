// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package selector turns user-chosen files into SourceFiles and keeps only
// those declaring the accepted media type. The declared type comes from the
// file extension or the upload's Content-Type; contents are never sniffed,
// so a mislabeled file passes here and fails in the converter.
package selector

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdiddy/heicjpg/pkg/types"
)

// extensionTypes covers image types that mime.TypeByExtension does not know
// on most systems.
var extensionTypes = map[string]string{
	".heic": types.MediaTypeHEIC,
	".heif": types.MediaTypeHEIF,
}

// TypeByName returns the media type declared by a file name's extension,
// or "" when unknown.
func TypeByName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	t := mime.TypeByExtension(ext)
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return t
}

// Select returns the files whose declared media type equals acceptType
// exactly, in their original order. Other files are dropped silently.
func Select(files []types.SourceFile, acceptType string) []types.SourceFile {
	accepted := make([]types.SourceFile, 0, len(files))
	for _, f := range files {
		if f.MediaType == acceptType {
			accepted = append(accepted, f)
		}
	}
	return accepted
}

// FromPaths builds SourceFiles from paths on disk. A directory contributes
// its regular files (not recursively) in lexical order.
func FromPaths(paths []string) ([]types.SourceFile, error) {
	var files []types.SourceFile
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, fromDisk(p, info.Size()))
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("reading directory %s: %w", p, err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			fi, err := e.Info()
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
			}
			files = append(files, fromDisk(filepath.Join(p, e.Name()), fi.Size()))
		}
	}
	return files, nil
}

func fromDisk(path string, size int64) types.SourceFile {
	return types.SourceFile{
		Name:      filepath.Base(path),
		MediaType: TypeByName(path),
		Size:      size,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// FromMultipart builds SourceFiles from uploaded form parts. Browsers often
// send no type, or application/octet-stream, for HEIC; those parts fall
// back to the extension.
func FromMultipart(headers []*multipart.FileHeader) []types.SourceFile {
	files := make([]types.SourceFile, 0, len(headers))
	for _, fh := range headers {
		fh := fh
		declared := fh.Header.Get("Content-Type")
		if i := strings.IndexByte(declared, ';'); i >= 0 {
			declared = declared[:i]
		}
		declared = strings.TrimSpace(declared)
		if declared == "" || declared == "application/octet-stream" {
			declared = TypeByName(fh.Filename)
		}
		files = append(files, types.SourceFile{
			Name:      filepath.Base(fh.Filename),
			MediaType: declared,
			Size:      fh.Size,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}
	return files
}
