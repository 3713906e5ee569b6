// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pdiddy/heicjpg/internal/convert"
	"github.com/pdiddy/heicjpg/internal/handle"
	"github.com/pdiddy/heicjpg/pkg/types"
)

// selectiveConverter returns "jpeg:<content>" unless the content is listed
// in fail.
type selectiveConverter struct {
	fail  map[string]error
	delay map[string]time.Duration
}

func (s *selectiveConverter) Convert(ctx context.Context, r io.Reader) (convert.Output, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return convert.Output{}, err
	}
	content := string(data)
	if d, ok := s.delay[content]; ok {
		time.Sleep(d)
	}
	if err, ok := s.fail[content]; ok {
		return convert.Output{}, err
	}
	return convert.Output{Data: []byte("jpeg:" + content), Width: 4, Height: 3}, nil
}

func memFile(name, content string) types.SourceFile {
	return types.SourceFile{
		Name:      name,
		MediaType: types.MediaTypeHEIC,
		Size:      int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	return zap.New(core), logs
}

func TestRun_AllSucceed(t *testing.T) {
	store := handle.NewMemoryStore()
	logger, logs := observed()
	p := New(&selectiveConverter{}, store, logger)

	files := []types.SourceFile{memFile("a.heic", "a"), memFile("b.heic", "b"), memFile("c.heic", "c")}
	batch, err := p.Run(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, 3, batch.Converted())
	assert.Equal(t, 0, batch.Failed())
	assert.False(t, batch.HasFailures())
	require.Len(t, batch.Images(), len(files), "every accepted file is displayed")
	assert.Equal(t, 3, store.Len())
	assert.Zero(t, logs.FilterMessage("Conversion failed").Len())

	for i, img := range batch.Images() {
		assert.Equal(t, files[i].Name, img.Source)
		data, err := store.Open(context.Background(), handle.Handle(img.Handle))
		require.NoError(t, err)
		assert.Equal(t, "jpeg:"+string(rune('a'+i)), string(data))
		assert.Equal(t, int64(len(data)), img.Size)
		assert.Len(t, img.Digest, 64)
		assert.Equal(t, 4, img.Width)
	}
}

func TestRun_OneFailureAmongValid(t *testing.T) {
	store := handle.NewMemoryStore()
	logger, logs := observed()
	var progress bytes.Buffer
	conv := &selectiveConverter{fail: map[string]error{"bad": errors.New("not a HEIF container")}}
	p := New(conv, store, logger, WithProgress(&progress))

	files := []types.SourceFile{
		memFile("1.heic", "one"),
		memFile("broken.heic", "bad"),
		memFile("2.heic", "two"),
		memFile("3.heic", "three"),
	}
	batch, err := p.Run(context.Background(), files)
	require.NoError(t, err)

	images := batch.Images()
	require.Len(t, images, 3)
	assert.Equal(t, []string{"1.heic", "2.heic", "3.heic"},
		[]string{images[0].Source, images[1].Source, images[2].Source},
		"successes keep input order without placeholders")

	failures := logs.FilterMessage("Conversion failed")
	require.Equal(t, 1, failures.Len(), "exactly one diagnostic entry")
	entry := failures.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, "broken.heic", entry.ContextMap()["file"])

	require.Len(t, batch.Results, 4)
	assert.Equal(t, types.ConversionFailed, batch.Results[1].Status)
	assert.EqualError(t, batch.Results[1].Err, "not a HEIF container")
	assert.Nil(t, batch.Results[1].Image)

	out := progress.String()
	assert.Contains(t, out, "failed:  broken.heic (not a HEIF container)")
	assert.Contains(t, out, "converted: 3.heic")
	assert.Contains(t, out, "Batch summary: 3 converted, 1 failed (total: 4)")
}

func TestRun_EmptyBatch(t *testing.T) {
	var states []State
	p := New(&selectiveConverter{}, handle.NewMemoryStore(), nil,
		WithOnState(func(s State) { states = append(states, s) }))
	assert.Equal(t, StateIdle, p.State())

	batch, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, batch.Images())
	assert.Equal(t, 0, batch.Total())
	assert.Equal(t, []State{StateLoading, StateDisplaying}, states)
	assert.Equal(t, StateDisplaying, p.State())
}

func TestRun_LoadingCoversWholeBatch(t *testing.T) {
	var p *Pipeline
	var seen []State
	conv := convert.ConverterFunc(func(ctx context.Context, r io.Reader) (convert.Output, error) {
		seen = append(seen, p.State())
		return convert.Output{Data: []byte("jpeg")}, nil
	})
	p = New(conv, handle.NewMemoryStore(), nil)

	_, err := p.Run(context.Background(), []types.SourceFile{memFile("a.heic", "a"), memFile("b.heic", "b")})
	require.NoError(t, err)
	assert.Equal(t, []State{StateLoading, StateLoading}, seen)
	assert.Equal(t, StateDisplaying, p.State())
}

func TestRun_SequentialByDefault(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0
	conv := convert.ConverterFunc(func(ctx context.Context, r io.Reader) (convert.Output, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return convert.Output{Data: []byte("jpeg")}, nil
	})

	files := make([]types.SourceFile, 6)
	for i := range files {
		files[i] = memFile("f.heic", "x")
	}

	_, err := New(conv, handle.NewMemoryStore(), nil).Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 1, peak)
}

func TestRun_WorkersKeepOrder(t *testing.T) {
	conv := &selectiveConverter{delay: map[string]time.Duration{
		"slow":   20 * time.Millisecond,
		"medium": 10 * time.Millisecond,
	}}
	p := New(conv, handle.NewMemoryStore(), nil, WithWorkers(3))

	files := []types.SourceFile{memFile("1.heic", "slow"), memFile("2.heic", "medium"), memFile("3.heic", "fast")}
	batch, err := p.Run(context.Background(), files)
	require.NoError(t, err)

	images := batch.Images()
	require.Len(t, images, 3)
	for i, img := range images {
		assert.Equal(t, files[i].Name, img.Source)
		assert.Equal(t, i, batch.Results[i].Index)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, logs := observed()
	conv := convert.ConverterFunc(func(_ context.Context, r io.Reader) (convert.Output, error) {
		cancel()
		return convert.Output{Data: []byte("jpeg")}, nil
	})
	p := New(conv, handle.NewMemoryStore(), logger)

	files := []types.SourceFile{memFile("a.heic", "a"), memFile("b.heic", "b"), memFile("c.heic", "c")}
	batch, err := p.Run(ctx, files)
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, batch.Results, 3, "every accepted file has a result")
	assert.Equal(t, 1, batch.Converted())
	assert.ErrorIs(t, batch.Results[2].Err, context.Canceled)
	assert.Zero(t, logs.FilterMessage("Conversion failed").Len(), "cancellation is not a conversion failure")
	assert.Equal(t, 1, logs.FilterMessage("Batch cancelled").Len())
	assert.Equal(t, StateDisplaying, p.State())
}

func TestRun_OpenAndStoreFailures(t *testing.T) {
	store := handle.NewMemoryStore()
	require.NoError(t, store.Close())

	logger, logs := observed()
	p := New(&selectiveConverter{}, store, logger)

	unreadable := types.SourceFile{
		Name:      "gone.heic",
		MediaType: types.MediaTypeHEIC,
		Open:      func() (io.ReadCloser, error) { return nil, errors.New("permission denied") },
	}
	batch, err := p.Run(context.Background(), []types.SourceFile{unreadable, memFile("ok.heic", "ok")})
	require.NoError(t, err)

	assert.Equal(t, 2, batch.Failed())
	assert.Contains(t, batch.Results[0].Err.Error(), "opening gone.heic")
	assert.ErrorIs(t, batch.Results[1].Err, handle.ErrClosed)
	assert.Equal(t, 2, logs.FilterMessage("Conversion failed").Len())
}

func TestRun_EmptyConverterOutput(t *testing.T) {
	conv := convert.ConverterFunc(func(context.Context, io.Reader) (convert.Output, error) {
		return convert.Output{}, nil
	})
	batch, err := New(conv, handle.NewMemoryStore(), nil).Run(context.Background(), []types.SourceFile{memFile("a.heic", "a")})
	require.NoError(t, err)
	assert.ErrorIs(t, batch.Results[0].Err, convert.ErrEmptyOutput)
}

func TestDisplayedNeverExceedsAccepted(t *testing.T) {
	conv := &selectiveConverter{fail: map[string]error{"x": errors.New("bad")}}
	inputs := [][]string{
		{},
		{"x"},
		{"a", "x", "b"},
		{"x", "x", "x"},
		{"a", "b", "c", "d"},
	}
	for _, in := range inputs {
		files := make([]types.SourceFile, len(in))
		for i, c := range in {
			files[i] = memFile(c+".heic", c)
		}
		batch, err := New(conv, handle.NewMemoryStore(), nil).Run(context.Background(), files)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(batch.Images()), len(files))
		assert.Equal(t, len(files), batch.Total())
	}
}
