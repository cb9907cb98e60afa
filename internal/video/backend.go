package video

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
	"github.com/matjam/waypaper/internal/surface"
	"github.com/matjam/waypaper/internal/types"
	"github.com/matjam/waypaper/internal/wallpaper"
)

// ErrStopTimeout is returned by Stop when playback did not wind down within
// the grace period. The decoder has been closed regardless.
var ErrStopTimeout = errors.New("playback did not stop within the grace period")

// Options configure the video backend factory.
type Options struct {
	Clock      clockwork.Clock
	NewDecoder NewDecoderFunc
}

// NewFactory returns the wallpaper.Factory for video wallpapers.
func NewFactory(opts Options) wallpaper.Factory {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.NewDecoder == nil {
		opts.NewDecoder = NewGstDecoder
	}
	return func(d wallpaper.Descriptor, so wallpaper.SessionOptions) (wallpaper.Backend, error) {
		return NewBackend(d, so, opts), nil
	}
}

// Backend decodes on one goroutine and presents on another, paced by a
// ticker at the target frame rate. The two meet in a single-slot mailbox.
type Backend struct {
	desc       wallpaper.Descriptor
	opts       wallpaper.SessionOptions
	clock      clockwork.Clock
	newDecoder NewDecoderFunc

	target  surface.Target
	decoder Decoder
	info    Info
	latest  mailbox

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once

	mu        sync.Mutex
	state     wallpaper.State
	err       error
	started   bool
	startedAt time.Time
	fps       float64

	decoded   atomic.Uint64
	dropped   atomic.Uint64
	presented atomic.Uint64
	repeated  atomic.Uint64
	loops     atomic.Uint64
}

func NewBackend(d wallpaper.Descriptor, so wallpaper.SessionOptions, opts Options) *Backend {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.NewDecoder == nil {
		opts.NewDecoder = NewGstDecoder
	}
	if so.TargetFPS <= 0 {
		so.TargetFPS = 30
	}
	return &Backend{
		desc:       d,
		opts:       so,
		clock:      opts.Clock,
		newDecoder: opts.NewDecoder,
		state:      wallpaper.StateStarting,
		done:       make(chan struct{}),
	}
}

func (b *Backend) Bind(t surface.Target) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return wallpaper.Errorf(wallpaper.KindInternal, "bind after start")
	}
	b.target = t
	return nil
}

func (b *Backend) fit(srcW, srcH int) (int, int) {
	nw, nh := b.target.Size().Native()
	return ScaleTarget(srcW, srcH, b.opts.MaxResolution, nw, nh)
}

func (b *Backend) openDecoder(ctx context.Context, hardware bool) (Decoder, Info, error) {
	dec := b.newDecoder(DecoderOptions{Path: b.desc.File, Hardware: hardware, Fit: b.fit})
	info, err := dec.Open(ctx)
	if err != nil {
		dec.Close()
		return nil, Info{}, err
	}
	return dec, info, nil
}

func (b *Backend) open(ctx context.Context) (Decoder, Info, error) {
	switch b.opts.DecodeMode {
	case types.DecodeSoftware:
		return b.openDecoder(ctx, false)
	case types.DecodeVAAPI:
		return b.openDecoder(ctx, true)
	}

	dec, info, err := b.openDecoder(ctx, true)
	if err == nil {
		return dec, info, nil
	}
	if ctx.Err() != nil {
		return nil, Info{}, err
	}
	switch wallpaper.KindOf(err) {
	case wallpaper.KindFileNotFound:
		return nil, Info{}, err
	}
	log.Warnf("%s: hardware decode unavailable, falling back to software: %v", b.opts.Output.Name, err)
	return b.openDecoder(ctx, false)
}

// Start opens the decoder and begins playback. Playback outlives ctx, which
// only bounds the open.
func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return wallpaper.Errorf(wallpaper.KindInternal, "backend already started")
	}
	if b.target == nil {
		b.mu.Unlock()
		return wallpaper.Errorf(wallpaper.KindInternal, "backend has no target")
	}
	b.started = true
	b.mu.Unlock()

	if err := b.desc.CheckSource(); err != nil {
		b.finish(err)
		b.closeDone()
		return err
	}

	dec, info, err := b.open(ctx)
	if err != nil {
		b.finish(err)
		b.closeDone()
		return err
	}
	b.decoder = dec

	playCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	b.mu.Lock()
	b.info = info
	b.state = wallpaper.StatePlaying
	b.startedAt = b.clock.Now()
	b.mu.Unlock()

	log.Infof("%s: playing %s (%s, %dx%d -> %dx%d @ %d fps)", b.opts.Output.Name, b.desc.File, info.Decoder,
		info.SourceWidth, info.SourceHeight, info.Width, info.Height, b.opts.TargetFPS)

	b.wg.Add(2)
	go b.decode(playCtx)
	go b.present(playCtx)
	go func() {
		b.wg.Wait()
		b.closeDecoder()
		b.finish(nil)
		b.closeDone()
	}()
	return nil
}

func (b *Backend) closeDone() {
	b.doneOnce.Do(func() { close(b.done) })
}

func (b *Backend) closeDecoder() {
	b.closeOnce.Do(func() {
		if b.decoder != nil {
			b.decoder.Close()
		}
	})
}

// finish records the terminal state; the first error wins.
func (b *Backend) finish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil && b.err == nil {
		b.err = err
	}
	if b.err != nil {
		b.state = wallpaper.StateFailed
	} else {
		b.state = wallpaper.StateStopped
	}
}

func (b *Backend) fail(err error) {
	if wallpaper.KindOf(err) == wallpaper.KindInternal {
		err = wallpaper.Wrap(wallpaper.KindDecodeError, err, "decode %s", b.desc.File)
	}
	log.Errorf("%s: %v", b.opts.Output.Name, err)
	b.finish(err)
	b.cancel()
}

func (b *Backend) decode(ctx context.Context) {
	defer b.wg.Done()

	var seq uint64
	sinceRewind := 0
	for {
		f, err := b.decoder.Next(ctx)
		switch {
		case err == nil:
			seq++
			sinceRewind++
			f.Seq = seq
			b.decoded.Add(1)
			if b.latest.put(f) {
				b.dropped.Add(1)
			}
		case ctx.Err() != nil:
			return
		case errors.Is(err, io.EOF):
			if sinceRewind == 0 {
				b.fail(wallpaper.Errorf(wallpaper.KindDecodeError, "%s: stream has no frames", b.desc.File))
				return
			}
			if err := b.decoder.Rewind(); err != nil {
				b.fail(err)
				return
			}
			sinceRewind = 0
			b.loops.Add(1)
			log.Debugf("%s: loop %d", b.opts.Output.Name, b.loops.Load())
		default:
			b.fail(err)
			return
		}
	}
}

// present runs the presentation clock. A tick with no new frame repeats the
// previous one; ticks before the first frame present nothing.
func (b *Backend) present(ctx context.Context) {
	defer b.wg.Done()

	interval := time.Second / time.Duration(b.opts.TargetFPS)
	ticker := b.clock.NewTicker(interval)
	defer ticker.Stop()

	var last *surface.Frame
	windowStart := b.clock.Now()
	var windowFrames int

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		if f := b.latest.take(); f != nil {
			last = f
			b.target.Present(f)
			b.presented.Add(1)
			windowFrames++
		} else if last != nil {
			b.target.Present(last)
			b.repeated.Add(1)
		}

		if elapsed := b.clock.Since(windowStart); elapsed >= time.Second {
			b.mu.Lock()
			b.fps = float64(windowFrames) / elapsed.Seconds()
			b.mu.Unlock()
			windowStart = b.clock.Now()
			windowFrames = 0
		}
	}
}

// Stop ends playback. If the goroutines do not finish before ctx expires the
// decoder is closed anyway and ErrStopTimeout is returned.
func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		b.finish(nil)
		b.closeDone()
		return nil
	}

	if b.cancel != nil {
		b.cancel()
	}

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		log.Warnf("%s: playback did not stop in time, releasing decoder", b.opts.Output.Name)
		b.closeDecoder()
		return ErrStopTimeout
	}
}

func (b *Backend) Done() <-chan struct{} { return b.done }

func (b *Backend) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Backend) Stats() wallpaper.Stats {
	b.mu.Lock()
	st := wallpaper.Stats{
		State:        b.state,
		Decoder:      b.info.Decoder,
		SourceWidth:  b.info.SourceWidth,
		SourceHeight: b.info.SourceHeight,
		OutputWidth:  b.info.Width,
		OutputHeight: b.info.Height,
		TargetFPS:    b.opts.TargetFPS,
		FPS:          b.fps,
		StartedAt:    b.startedAt,
	}
	b.mu.Unlock()

	st.Decoded = b.decoded.Load()
	st.Dropped = b.dropped.Load()
	st.Presented = b.presented.Load()
	st.Repeated = b.repeated.Load()
	st.Loops = b.loops.Load()
	return st
}
