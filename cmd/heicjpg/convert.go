// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/heicjpg/internal/archive"
	"github.com/pdiddy/heicjpg/internal/convert"
	"github.com/pdiddy/heicjpg/internal/gallery"
	"github.com/pdiddy/heicjpg/internal/handle"
	"github.com/pdiddy/heicjpg/internal/pipeline"
	"github.com/pdiddy/heicjpg/internal/report"
	"github.com/pdiddy/heicjpg/internal/selector"
	"github.com/pdiddy/heicjpg/pkg/types"
)

// newConverter builds the converter for a run. Tests replace it.
var newConverter = convert.New

// conversionFlags maps config keys to the flags shared by convert and serve.
var conversionFlags = map[string]string{
	"selector.accept_type":     "accept-type",
	"conversion.backend":       "backend",
	"conversion.quality":       "quality",
	"conversion.max_dimension": "max-dimension",
	"conversion.image":         "image",
	"conversion.workers":       "workers",
	"store.backend":            "store",
	"gallery.thumbnail_width":  "thumbnail-width",
}

var convertCmd = &cobra.Command{
	Use:   "convert [files or dirs...]",
	Short: "Convert HEIC files to JPEG",
	Long: `Convert selects the files whose type is image/heic (directories are
expanded one level), converts them in order, and writes
converted-image-1.jpg .. converted-image-K.jpg to the output directory.
Files that fail to convert are reported and skipped; numbering has no gaps.
With --zip the same images are bundled into converted-images.zip.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

func addConversionFlags(flags *pflag.FlagSet) {
	d := types.Defaults()
	flags.String("accept-type", d.Selector.AcceptType, "media type a file must have to be converted")
	flags.String("backend", string(d.Conversion.Backend), "conversion backend: native or container")
	flags.Int("quality", d.Conversion.Quality, "JPEG quality, 1-100")
	flags.Int("max-dimension", d.Conversion.MaxDimension, "cap the longer side in pixels (0 keeps original size)")
	flags.String("image", d.Conversion.Image, "container image for the container backend")
	flags.Int("workers", d.Conversion.Workers, "files converted at once (1 converts in sequence)")
	flags.String("store", string(d.Store.Backend), "where converted images are held: memory or sqlite")
	flags.Int("thumbnail-width", d.Gallery.ThumbnailWidth, "gallery preview width in pixels")
}

func init() {
	addConversionFlags(convertCmd.Flags())
	d := types.Defaults()
	convertCmd.Flags().StringP("out-dir", "o", d.Output.Dir, "directory for converted images and the archive")
	convertCmd.Flags().Bool("zip", d.Output.Zip, "also write "+types.ArchiveName)
	convertCmd.Flags().Bool("no-images", false, "write only the archive, not the individual JPEGs")
	convertCmd.Flags().String("manifest", "", "write a batch manifest to this path")
	convertCmd.Flags().String("manifest-format", string(d.Output.ManifestFormat), "manifest format: yaml or json")
	convertCmd.Flags().Bool("strict", false, "exit non-zero when any file fails to convert")

	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	keys := map[string]string{
		"output.dir":             "out-dir",
		"output.zip":             "zip",
		"output.manifest":        "manifest",
		"output.manifest_format": "manifest-format",
	}
	for k, f := range conversionFlags {
		keys[k] = f
	}
	if err := bindFlags(v, cmd.Flags(), keys); err != nil {
		return err
	}
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	if noImages, _ := cmd.Flags().GetBool("no-images"); noImages {
		cfg.Output.Images = false
		cfg.Output.Zip = true
	}
	strict, _ := cmd.Flags().GetBool("strict")

	return convertPaths(cmd.Context(), cfg, args, strict, os.Stdout)
}

// convertPaths runs one batch over paths and writes its outputs.
func convertPaths(ctx context.Context, cfg types.Config, paths []string, strict bool, w io.Writer) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	files, err := selector.FromPaths(paths)
	if err != nil {
		return err
	}
	accepted := selector.Select(files, cfg.Selector.AcceptType)
	fmt.Fprintf(w, "Selected %d of %d files (%s)\n", len(accepted), len(files), cfg.Selector.AcceptType)

	// An empty batch completes without probing the backend.
	var conv convert.Converter
	if len(accepted) > 0 {
		conv, err = newConverter(ctx, cfg.Conversion)
		if err != nil {
			return fmt.Errorf("creating converter: %w", err)
		}
	}

	store, err := handle.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening image store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("Closing image store failed", zap.Error(cerr))
		}
	}()

	p := pipeline.New(conv, store, logger,
		pipeline.WithProgress(w),
		pipeline.WithWorkers(cfg.Conversion.Workers),
	)
	batch, runErr := p.Run(ctx, accepted)

	// Outputs are written for whatever converted, even after cancellation.
	outCtx := context.WithoutCancel(ctx)
	g := gallery.New(store, logger, cfg.Gallery)
	if err := g.Replace(outCtx, batch.Images()); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, g.Clear(outCtx))
	}()

	if err := writeOutputs(outCtx, cfg.Output, g, w); err != nil {
		return err
	}
	if cfg.Output.Manifest != "" {
		if err := report.New(batch.Results).WriteFile(cfg.Output.Manifest, cfg.Output.ManifestFormat); err != nil {
			return err
		}
		fmt.Fprintf(w, "Wrote manifest %s\n", cfg.Output.Manifest)
	}

	fmt.Fprintln(w)
	gallery.WriteList(w, g.Items())

	if runErr != nil {
		return runErr
	}
	if strict && batch.HasFailures() {
		return fmt.Errorf("%d of %d file(s) failed conversion", batch.Failed(), batch.Total())
	}
	return nil
}

func writeOutputs(ctx context.Context, out types.OutputConfig, g *gallery.Gallery, w io.Writer) error {
	if g.Empty() {
		return nil
	}
	if out.Images {
		paths, err := g.SaveAll(ctx, out.Dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Wrote %d images to %s\n", len(paths), out.Dir)
	}
	if out.Zip {
		path, err := archive.WriteFile(ctx, out.Dir, g, g.Items())
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Wrote archive %s\n", path)
	}
	return nil
}
