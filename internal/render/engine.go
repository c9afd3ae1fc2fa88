package render

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// provisionalHeight is the first-pass viewport height in auto-height mode.
// It is kept minimal so the root element's client height (which tracks the
// viewport) never dominates the measured content height.
const provisionalHeight = 1

// Engine turns markup into images, one fresh browser session per call
type Engine struct {
	launcher Launcher
	sessions *semaphore.Weighted
	logger   zerolog.Logger
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithMaxSessions bounds the number of concurrently live sessions.
func WithMaxSessions(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.sessions = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine over launcher
func NewEngine(launcher Launcher, opts ...EngineOption) *Engine {
	e := &Engine{
		launcher: launcher,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Render loads req.Markup into a new session and captures it.
// In auto-height mode the page is measured after loading and the viewport
// is resized to the content before capture.
func (e *Engine) Render(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	opts, err := req.Options.Normalize()
	if err != nil {
		return nil, err
	}

	if e.sessions != nil {
		if err := e.sessions.Acquire(ctx, 1); err != nil {
			return nil, fail(StageLaunch, fmt.Errorf("wait for session slot: %w", err))
		}
		defer e.sessions.Release(1)
	}

	start := time.Now()
	log := e.logger.With().
		Int("width", opts.Width).
		Int("height", opts.Height).
		Float64("scale", opts.Scale).
		Str("format", string(opts.Format)).
		Bool("auto_height", opts.AutoHeight()).
		Logger()
	log.Debug().Int("markup_bytes", len(req.Markup)).Msg("render started")

	session, err := e.launcher.Launch(ctx)
	if err != nil {
		return nil, fail(StageLaunch, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("session teardown failed")
		}
	}()

	data, err := e.capture(ctx, session, req.Markup, opts, log)
	if err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("render failed")
		return nil, err
	}

	log.Info().Int("bytes", len(data)).Dur("duration", time.Since(start)).Msg("render finished")
	return &Result{Data: data, ContentType: opts.Format.ContentType()}, nil
}

func (e *Engine) capture(ctx context.Context, s Session, markup string, opts Options, log zerolog.Logger) ([]byte, error) {
	vp := Viewport{Width: opts.Width, Height: opts.Height, Scale: opts.Scale}
	if opts.AutoHeight() {
		vp.Height = provisionalHeight
	}

	if err := s.SetViewport(ctx, vp); err != nil {
		return nil, fail(StageViewport, err)
	}
	if err := s.Load(ctx, markup); err != nil {
		return nil, fail(StageLoad, err)
	}

	if opts.AutoHeight() {
		height, err := s.ContentHeight(ctx)
		if err != nil {
			return nil, fail(StageMeasure, err)
		}
		if height < 1 {
			height = 1
		}
		log.Debug().Int("content_height", height).Msg("measured content")

		vp.Height = height
		if err := s.SetViewport(ctx, vp); err != nil {
			return nil, fail(StageViewport, err)
		}
	}

	data, err := s.Capture(ctx, CaptureParams{
		Format:   opts.Format,
		Quality:  opts.Quality,
		FullPage: opts.IsFullPage(),
	})
	if err != nil {
		return nil, fail(StageCapture, err)
	}
	return data, nil
}
