// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gallery

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
)

//go:embed templates/page.html
var templates embed.FS

var pageTmpl = template.Must(template.ParseFS(templates, "templates/page.html"))

// View is everything the page shows.
type View struct {
	// Loading shows the indicator instead of the gallery.
	Loading bool

	// Accept is the file picker's extension filter, e.g. ".heic".
	Accept string

	Items []Item

	// Failed names the files from the last batch that did not convert.
	Failed []string
}

// Render writes the page for v. An empty item list renders no gallery,
// whether nothing was selected or everything failed.
func Render(w io.Writer, v View) error {
	if err := pageTmpl.Execute(w, v); err != nil {
		return fmt.Errorf("rendering page: %w", err)
	}
	return nil
}

// WriteList prints items as a table, one line per image.
func WriteList(w io.Writer, items []Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No converted images.")
		return
	}

	fmt.Fprintf(w, "%-4s  %-26s  %-30s  %-11s  %s\n", "#", "File", "Source", "Size", "Bytes")
	fmt.Fprintln(w, strings.Repeat("-", 84))
	for _, it := range items {
		src := it.Image.Source
		if len(src) > 30 {
			src = src[:27] + "..."
		}
		dims := fmt.Sprintf("%dx%d", it.Image.Width, it.Image.Height)
		fmt.Fprintf(w, "%-4d  %-26s  %-30s  %-11s  %d\n", it.Number, it.Name, src, dims, it.Image.Size)
	}
	fmt.Fprintf(w, "\n%d images\n", len(items))
}
