// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package web serves the single-page converter: an upload form, a loading
// indicator while a batch runs, and the gallery with per-image and ZIP
// downloads. It is meant to listen on localhost for one user.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/heicjpg/internal/archive"
	"github.com/pdiddy/heicjpg/internal/gallery"
	"github.com/pdiddy/heicjpg/internal/pipeline"
	"github.com/pdiddy/heicjpg/internal/selector"
	"github.com/pdiddy/heicjpg/pkg/types"
)

// formMemory is how much of a multipart upload is held in memory before
// parts spill to temporary files.
const formMemory = 32 << 20

// Server is the page's HTTP handler.
type Server struct {
	ctx      context.Context
	cfg      types.Config
	pipeline *pipeline.Pipeline
	gallery  *gallery.Gallery
	logger   *zap.Logger
	mux      *http.ServeMux

	busy atomic.Bool
	wg   sync.WaitGroup

	mu     sync.RWMutex
	failed []string
}

// NewServer returns the handler. Batches started by uploads run in the
// background under ctx, so cancelling ctx aborts them.
func NewServer(ctx context.Context, cfg types.Config, p *pipeline.Pipeline, g *gallery.Gallery, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ctx:      ctx,
		cfg:      cfg,
		pipeline: p,
		gallery:  g,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /convert", s.handleConvert)
	s.mux.HandleFunc("POST /reset", s.handleReset)
	s.mux.HandleFunc("GET /images/{n}", s.handleImage)
	s.mux.HandleFunc("GET /thumbnails/{n}", s.handleThumbnail)
	s.mux.HandleFunc("GET /download.zip", s.handleArchive)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Wait blocks until no batch is running.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	failed := append([]string(nil), s.failed...)
	s.mu.RUnlock()

	view := gallery.View{
		Loading: s.busy.Load(),
		Accept:  acceptExtension(s.cfg.Selector.AcceptType),
		Items:   s.gallery.Items(),
		Failed:  failed,
	}

	var buf bytes.Buffer
	if err := gallery.Render(&buf, view); err != nil {
		s.logger.Error("Rendering page failed", zap.Error(err))
		http.Error(w, "rendering page failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if !s.busy.CompareAndSwap(false, true) {
		http.Error(w, "a conversion is already running", http.StatusConflict)
		return
	}
	started := false
	defer func() {
		if !started {
			s.busy.Store(false)
		}
	}()

	if s.cfg.Serve.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Serve.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["files"]
	accepted := selector.Select(selector.FromMultipart(headers), s.cfg.Selector.AcceptType)

	// Upload parts are deleted when this handler returns; the batch runs
	// after that, so it gets in-memory copies.
	files, err := buffer(accepted)
	if err != nil {
		http.Error(w, "reading upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.logger.Info("Upload received",
		zap.Int("selected", len(headers)),
		zap.Int("accepted", len(files)),
	)

	started = true
	s.wg.Add(1)
	go s.runBatch(files)

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) runBatch(files []types.SourceFile) {
	defer s.wg.Done()
	defer s.busy.Store(false)

	batch, err := s.pipeline.Run(s.ctx, files)
	if err != nil {
		s.logger.Warn("Batch did not complete", zap.Error(err))
	}

	var failed []string
	for _, r := range batch.Results {
		if !r.OK() {
			failed = append(failed, r.Source)
		}
	}

	if err := s.gallery.Replace(context.WithoutCancel(s.ctx), batch.Images()); err != nil {
		s.logger.Error("Releasing previous images failed", zap.Error(err))
	}
	s.mu.Lock()
	s.failed = failed
	s.mu.Unlock()
}

func buffer(files []types.SourceFile) ([]types.SourceFile, error) {
	out := make([]types.SourceFile, 0, len(files))
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.Name, err)
		}
		f.Size = int64(len(data))
		f.Open = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.busy.CompareAndSwap(false, true) {
		http.Error(w, "a conversion is running", http.StatusConflict)
		return
	}
	defer s.busy.Store(false)

	if err := s.gallery.Clear(r.Context()); err != nil {
		s.logger.Error("Clearing gallery failed", zap.Error(err))
	}
	s.mu.Lock()
	s.failed = nil
	s.mu.Unlock()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func itemNumber(r *http.Request) (int, bool) {
	n, err := strconv.Atoi(r.PathValue("n"))
	return n, err == nil
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	n, ok := itemNumber(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	data, item, err := s.gallery.Open(r.Context(), n)
	if err != nil {
		s.notFoundOrError(w, r, err)
		return
	}

	disposition := "inline"
	if r.URL.Query().Get("download") != "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", types.MediaTypeJPEG)
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, item.Name))
	if item.Image.Digest != "" {
		w.Header().Set("ETag", strconv.Quote(item.Image.Digest))
	}
	http.ServeContent(w, r, item.Name, item.Image.ConvertedAt, bytes.NewReader(data))
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	n, ok := itemNumber(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	thumb, err := s.gallery.Thumbnail(r.Context(), n)
	if err != nil {
		s.notFoundOrError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", types.MediaTypeJPEG)
	w.Header().Set("Cache-Control", "private, max-age=60")
	_, _ = w.Write(thumb)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	items := s.gallery.Items()
	data, err := archive.BuildBytes(r.Context(), s.gallery, items)
	if err != nil {
		s.logger.Error("Building archive failed", zap.Int("items", len(items)), zap.Error(err))
		http.Error(w, "building archive failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", types.ArchiveName))
	http.ServeContent(w, r, types.ArchiveName, time.Time{}, bytes.NewReader(data))
}

// Status is the JSON body of GET /status.
type Status struct {
	State  pipeline.State `json:"state"`
	Count  int            `json:"count"`
	Failed []string       `json:"failed"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	st := Status{
		State:  s.pipeline.State(),
		Count:  s.gallery.Len(),
		Failed: append([]string{}, s.failed...),
	}
	s.mu.RUnlock()
	if s.busy.Load() {
		st.State = pipeline.StateLoading
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(st)
}

func (s *Server) notFoundOrError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, gallery.ErrNoItem) {
		http.NotFound(w, r)
		return
	}
	s.logger.Error("Serving image failed", zap.String("path", r.URL.Path), zap.Error(err))
	http.Error(w, "image unavailable", http.StatusInternalServerError)
}

// acceptExtension maps the accepted media type to the picker's filter.
func acceptExtension(mediaType string) string {
	switch mediaType {
	case types.MediaTypeHEIF:
		return ".heif"
	case types.MediaTypeHEIC, "":
		return ".heic"
	default:
		return mediaType
	}
}
