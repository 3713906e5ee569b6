// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package web

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pdiddy/heicjpg/internal/convert"
	"github.com/pdiddy/heicjpg/internal/gallery"
	"github.com/pdiddy/heicjpg/internal/handle"
	"github.com/pdiddy/heicjpg/internal/pipeline"
	"github.com/pdiddy/heicjpg/pkg/types"
)

type upload struct {
	filename, ctype, content string
}

func multipartBody(t *testing.T, uploads ...upload) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, u := range uploads {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+u.filename+`"`)
		h.Set("Content-Type", u.ctype)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write([]byte(u.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

// jpegConverter renders a small JPEG for any input except "bad".
func jpegConverter(t *testing.T) convert.Converter {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for x := 0; x < 400; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	jpg := buf.Bytes()

	return convert.ConverterFunc(func(_ context.Context, r io.Reader) (convert.Output, error) {
		data, err := io.ReadAll(r)
		if err != nil {
			return convert.Output{}, err
		}
		if string(data) == "bad" {
			return convert.Output{}, errors.New("decoding HEIC: no ftyp box")
		}
		return convert.Output{Data: jpg, Width: 400, Height: 200}, nil
	})
}

type harness struct {
	srv   *Server
	store handle.Store
	logs  *observer.ObservedLogs
}

func newHarness(t *testing.T, conv convert.Converter) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	cfg := types.Defaults()
	cfg.Gallery.ThumbnailWidth = 100

	store := handle.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	p := pipeline.New(conv, store, logger)
	g := gallery.New(store, logger, cfg.Gallery)
	return &harness{srv: NewServer(context.Background(), cfg, p, g, logger), store: store, logs: logs}
}

func (h *harness) do(t *testing.T, method, target string, body io.Reader, ctype string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	return rec
}

func (h *harness) convert(t *testing.T, uploads ...upload) {
	t.Helper()
	body, ctype := multipartBody(t, uploads...)
	rec := h.do(t, http.MethodPost, "/convert", body, ctype)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	h.srv.Wait()
}

func TestIndex_Empty(t *testing.T) {
	h := newHarness(t, jpegConverter(t))
	rec := h.do(t, http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `accept=".heic"`)
	assert.NotContains(t, rec.Body.String(), "Converted Images:")
}

func TestConvert_FiltersAndDisplays(t *testing.T) {
	h := newHarness(t, jpegConverter(t))
	h.convert(t,
		upload{"IMG_1.heic", "image/heic", "one"},
		upload{"cat.png", "image/png", "png"},
		upload{"broken.heic", "image/heic", "bad"},
		upload{"IMG_2.heic", "application/octet-stream", "two"},
	)

	page := h.do(t, http.MethodGet, "/", nil, "").Body.String()
	assert.Contains(t, page, "Converted Images:")
	assert.Contains(t, page, `download="converted-image-1.jpg"`)
	assert.Contains(t, page, `download="converted-image-2.jpg"`)
	assert.NotContains(t, page, "converted-image-3.jpg")
	assert.Contains(t, page, "Could not convert: broken.heic")
	assert.NotContains(t, page, "cat.png", "type mismatches are not reported")

	assert.Equal(t, 1, h.logs.FilterMessage("Conversion failed").Len())
	assert.Equal(t, 2, h.store.Len())

	var st Status
	require.NoError(t, json.Unmarshal(h.do(t, http.MethodGet, "/status", nil, "").Body.Bytes(), &st))
	assert.Equal(t, pipeline.StateDisplaying, st.State)
	assert.Equal(t, 2, st.Count)
	assert.Equal(t, []string{"broken.heic"}, st.Failed)
}

func TestConvert_NoValidFiles(t *testing.T) {
	h := newHarness(t, jpegConverter(t))
	h.convert(t, upload{"a.jpg", "image/jpeg", "x"})

	page := h.do(t, http.MethodGet, "/", nil, "").Body.String()
	assert.NotContains(t, page, "Converted Images:")
	assert.NotContains(t, page, `role="status"`)
}

func TestConvert_ReplacesPreviousBatch(t *testing.T) {
	h := newHarness(t, jpegConverter(t))
	h.convert(t, upload{"a.heic", "image/heic", "a"}, upload{"b.heic", "image/heic", "b"})
	require.Equal(t, 2, h.store.Len())

	h.convert(t, upload{"c.heic", "image/heic", "c"})
	assert.Equal(t, 1, h.store.Len(), "old handles released")
}

func TestConvert_BusyConflict(t *testing.T) {
	h := newHarness(t, jpegConverter(t))
	h.srv.busy.Store(true)
	defer h.srv.busy.Store(false)

	body, ctype := multipartBody(t, upload{"a.heic", "image/heic", "a"})
	rec := h.do(t, http.MethodPost, "/convert", body, ctype)
	assert.Equal(t, http.StatusConflict, rec.Code)

	page := h.do(t, http.MethodGet, "/", nil, "").Body.String()
	assert.Contains(t, page, `role="status"`, "loading indicator while busy")

	rec = h.do(t, http.MethodPost, "/reset", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConvert_NotMultipart(t *testing.T) {
	h := newHarness(t, jpegConverter(t))
	rec := h.do(t, http.MethodPost, "/convert", strings.NewReader("x"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, h.srv.busy.Load(), "busy flag released on rejected upload")
}

func TestImage(t *testing.T) {
	h := newHarness(t, jpegConverter(t))
	h.convert(t, upload{"a.heic", "image/heic", "a"})

	rec := h.do(t, http.MethodGet, "/images/1?download=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="converted-image-1.jpg"`, rec.Header().Get("Content-Disposition"))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec = h.do(t, http.MethodGet, "/images/1", nil, "")
	assert.Equal(t, `inline; filename="converted-image-1.jpg"`, rec.Header().Get("Content-Disposition"))

	req := httptest.NewRequest(http.MethodGet, "/images/1", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	for _, target := range []string{"/images/2", "/images/0", "/images/abc", "/thumbnails/9"} {
		assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, target, nil, "").Code, target)
	}
}

func TestThumbnail(t *testing.T) {
	h := newHarness(t, jpegConverter(t))
	h.convert(t, upload{"a.heic", "image/heic", "a"})

	rec := h.do(t, http.MethodGet, "/thumbnails/1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	cfg, err := jpeg.DecodeConfig(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestDownloadArchive(t *testing.T) {
	h := newHarness(t, jpegConverter(t))
	h.convert(t,
		upload{"a.heic", "image/heic", "a"},
		upload{"bad.heic", "image/heic", "bad"},
		upload{"b.heic", "image/heic", "b"},
		upload{"c.heic", "image/heic", "c"},
	)

	rec := h.do(t, http.MethodGet, "/download.zip", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="converted-images.zip"`, rec.Header().Get("Content-Disposition"))

	data := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"converted-image-1.jpg", "converted-image-2.jpg", "converted-image-3.jpg"}, names)
}

func TestDownloadArchive_FetchFailure(t *testing.T) {
	h := newHarness(t, jpegConverter(t))
	h.convert(t, upload{"a.heic", "image/heic", "a"})
	require.NoError(t, h.store.Close())

	rec := h.do(t, http.MethodGet, "/download.zip", nil, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, h.logs.FilterMessage("Building archive failed").Len())
}

func TestReset(t *testing.T) {
	h := newHarness(t, jpegConverter(t))
	h.convert(t, upload{"a.heic", "image/heic", "a"}, upload{"x.heic", "image/heic", "bad"})

	rec := h.do(t, http.MethodPost, "/reset", nil, "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, 0, h.store.Len())

	page := h.do(t, http.MethodGet, "/", nil, "").Body.String()
	assert.NotContains(t, page, "Converted Images:")
	assert.NotContains(t, page, "Could not convert")
}

func TestReset_HoldsBusyFlag(t *testing.T) {
	store := handle.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	var s *Server
	var busyDuringClear bool
	hook := releaseFunc(func(ctx context.Context, h handle.Handle) error {
		busyDuringClear = s.busy.Load()
		return store.Release(ctx, h)
	})

	cfg := types.Defaults()
	p := pipeline.New(jpegConverter(t), store, nil)
	g := gallery.New(gate{Store: store, release: hook}, nil, cfg.Gallery)
	s = NewServer(context.Background(), cfg, p, g, nil)

	h := &harness{srv: s, store: store}
	h.convert(t, upload{"a.heic", "image/heic", "a"})
	require.Equal(t, 1, store.Len())

	rec := h.do(t, http.MethodPost, "/reset", nil, "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, busyDuringClear, "uploads are locked out while the gallery is cleared")
	assert.False(t, s.busy.Load(), "flag released after reset")
	assert.Equal(t, 0, store.Len())

	body, ctype := multipartBody(t, upload{"b.heic", "image/heic", "b"})
	assert.Equal(t, http.StatusSeeOther, h.do(t, http.MethodPost, "/convert", body, ctype).Code)
	s.Wait()
}

type releaseFunc func(ctx context.Context, h handle.Handle) error

// gate is a store whose Release runs a hook.
type gate struct {
	handle.Store
	release releaseFunc
}

func (g gate) Release(ctx context.Context, h handle.Handle) error {
	return g.release(ctx, h)
}

func TestUploadTooLarge(t *testing.T) {
	h := newHarness(t, jpegConverter(t))
	h.srv.cfg.Serve.MaxUploadBytes = 512

	body, ctype := multipartBody(t, upload{"a.heic", "image/heic", strings.Repeat("x", 4096)})
	rec := h.do(t, http.MethodPost, "/convert", body, ctype)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestAcceptExtension(t *testing.T) {
	assert.Equal(t, ".heic", acceptExtension(types.MediaTypeHEIC))
	assert.Equal(t, ".heif", acceptExtension(types.MediaTypeHEIF))
	assert.Equal(t, ".heic", acceptExtension(""))
	assert.Equal(t, "image/avif", acceptExtension("image/avif"))
}
