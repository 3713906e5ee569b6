// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/heicjpg/internal/gallery"
	"github.com/pdiddy/heicjpg/internal/handle"
	"github.com/pdiddy/heicjpg/internal/pipeline"
	"github.com/pdiddy/heicjpg/internal/web"
	"github.com/pdiddy/heicjpg/pkg/types"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the upload page on localhost",
	Long: `Serve starts a local page with a file picker restricted to .heic files.
Uploaded files are converted in order, shown as a gallery with per-image
downloads, and can be fetched together as converted-images.zip. Each upload
replaces the previous gallery.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	addConversionFlags(serveCmd.Flags())
	d := types.Defaults()
	serveCmd.Flags().String("addr", d.Serve.Addr, "listen address")
	serveCmd.Flags().Int64("max-upload-bytes", d.Serve.MaxUploadBytes, "largest accepted upload")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	keys := map[string]string{
		"serve.addr":             "addr",
		"serve.max_upload_bytes": "max-upload-bytes",
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Serve.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Serve.Addr, err)
	}
	return serve(ctx, cfg, ln)
}

// serve runs the page on ln until ctx is cancelled, then drains the
// running batch and releases every stored image.
func serve(ctx context.Context, cfg types.Config, ln net.Listener) (err error) {
	conv, err := newConverter(ctx, cfg.Conversion)
	if err != nil {
		ln.Close()
		return fmt.Errorf("creating converter: %w", err)
	}
	store, err := handle.New(cfg.Store)
	if err != nil {
		ln.Close()
		return fmt.Errorf("opening image store: %w", err)
	}
	defer func() {
		err = errors.Join(err, store.Close())
	}()

	p := pipeline.New(conv, store, logger, pipeline.WithWorkers(cfg.Conversion.Workers))
	g := gallery.New(store, logger, cfg.Gallery)
	s := web.NewServer(ctx, cfg, p, g, logger)

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	logger.Info("Serving", zap.String("url", "http://"+ln.Addr().String()))

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown did not complete", zap.Error(err))
	}
	s.Wait()
	return g.Clear(context.Background())
}
