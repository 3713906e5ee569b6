// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs a batch of accepted source files through a
// converter and keeps each JPEG behind a handle. A failed file is logged
// once, recorded as a failed result, and skipped; the batch goes on.
package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"github.com/pdiddy/heicjpg/internal/convert"
	"github.com/pdiddy/heicjpg/internal/handle"
	"github.com/pdiddy/heicjpg/pkg/types"
)

// State is the page-level batch state.
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateDisplaying State = "displaying"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers converts up to n files at once. Results keep input order.
// Values below 2 keep the batch strictly sequential.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 1 {
			p.workers = n
		}
	}
}

// WithOnState registers a callback invoked on every state transition.
func WithOnState(fn func(State)) Option {
	return func(p *Pipeline) { p.onState = fn }
}

// WithProgress writes one status line per file, plus a summary, to w.
func WithProgress(w io.Writer) Option {
	return func(p *Pipeline) { p.progress = w }
}

// Pipeline converts batches of source files.
type Pipeline struct {
	conv     convert.Converter
	store    handle.Store
	logger   *zap.Logger
	workers  int
	onState  func(State)
	progress io.Writer

	mu    sync.Mutex // guards state and progress writes
	state State
}

// New returns a pipeline that converts with conv and keeps output in store.
func New(conv convert.Converter, store handle.Store, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		conv:     conv,
		store:    store,
		logger:   logger,
		workers:  1,
		progress: io.Discard,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current batch state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	cb := p.onState
	p.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

func (p *Pipeline) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.progress, format, args...)
}

// Run converts files, which the caller has already filtered by the
// selector. Every file gets exactly one result, in input order. If ctx is
// cancelled, files not yet started are recorded as failed with the context
// error and Run returns that error along with the partial batch.
func (p *Pipeline) Run(ctx context.Context, files []types.SourceFile) (Batch, error) {
	p.setState(StateLoading)
	defer p.setState(StateDisplaying)

	start := time.Now()
	results := make([]types.FileResult, len(files))

	if p.workers <= 1 {
		for i, f := range files {
			results[i] = p.convertOne(ctx, i, f)
		}
	} else {
		wp := pool.New().WithMaxGoroutines(p.workers)
		for i, f := range files {
			wp.Go(func() {
				results[i] = p.convertOne(ctx, i, f)
			})
		}
		wp.Wait()
	}

	batch := Batch{Results: results}
	p.printf("\nBatch summary: %d converted, %d failed (total: %d)\n",
		batch.Converted(), batch.Failed(), batch.Total())
	p.logger.Info("Batch finished",
		zap.Int("converted", batch.Converted()),
		zap.Int("failed", batch.Failed()),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err := ctx.Err(); err != nil {
		p.logger.Warn("Batch cancelled", zap.Error(err))
		return batch, err
	}
	return batch, nil
}

func (p *Pipeline) convertOne(ctx context.Context, i int, f types.SourceFile) types.FileResult {
	res := types.FileResult{Index: i, Source: f.Name, Status: types.ConversionFailed}

	// Files never started after cancellation are not conversion failures
	// and produce no diagnostic entry.
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	img, err := p.convert(ctx, f)
	if err != nil {
		res.Err = err
		if ctx.Err() == nil {
			p.logger.Error("Conversion failed",
				zap.String("file", f.Name),
				zap.Int("index", i),
				zap.Error(err),
			)
		}
		p.printf("failed:  %s (%v)\n", f.Name, err)
		return res
	}

	res.Status = types.ConversionDone
	res.Image = img
	p.printf("converted: %s\n", f.Name)
	return res
}

func (p *Pipeline) convert(ctx context.Context, f types.SourceFile) (*types.ConvertedImage, error) {
	if f.Open == nil {
		return nil, fmt.Errorf("opening %s: no content", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := p.conv.Convert(ctx, rc)
	if err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, convert.ErrEmptyOutput
	}

	h, err := p.store.Put(ctx, out.Data)
	if err != nil {
		return nil, fmt.Errorf("storing %s: %w", f.Name, err)
	}

	sum := blake3.Sum256(out.Data)
	return &types.ConvertedImage{
		Handle:      string(h),
		Source:      f.Name,
		Size:        int64(len(out.Data)),
		Width:       out.Width,
		Height:      out.Height,
		Digest:      hex.EncodeToString(sum[:]),
		ConvertedAt: time.Now().UTC(),
	}, nil
}
