package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/czhmisaka/Html2Img/internal/cache"
	"github.com/czhmisaka/Html2Img/internal/model"
	"github.com/czhmisaka/Html2Img/internal/render"
	"github.com/czhmisaka/Html2Img/internal/sanitize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Renderer produces an image for a request
type Renderer interface {
	Render(ctx context.Context, req render.Request) (*render.Result, error)
}

// Request is a render request with an optional sanitizing pre-pass
type Request struct {
	Markup   string
	Options  render.Options
	Sanitize *sanitize.Options
}

// CachedResult is the outcome of a cache-through render
type CachedResult struct {
	Key    string
	Hit    bool // served from the cache
	Shared bool // joined another caller's in-flight render
	Result *render.Result
}

// Pipeline composes sanitizing, rendering and caching
type Pipeline struct {
	renderer Renderer
	store    cache.Store
	flights  *singleflight.Group
	timeout  time.Duration
	logger   zerolog.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithStore enables cache-through rendering against store.
func WithStore(store cache.Store) Option {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithSingleFlight makes concurrent misses on one key share a single render.
func WithSingleFlight(enabled bool) Option {
	return func(p *Pipeline) {
		if enabled {
			p.flights = &singleflight.Group{}
		} else {
			p.flights = nil
		}
	}
}

// WithTimeout bounds each render; 0 leaves the caller's context alone.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.timeout = d
	}
}

// WithLogger sets the pipeline logger
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// NewPipeline creates a new pipeline around renderer
func NewPipeline(renderer Renderer, opts ...Option) *Pipeline {
	p := &Pipeline{
		renderer: renderer,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CacheEnabled reports whether a store is configured
func (p *Pipeline) CacheEnabled() bool {
	return p.store != nil
}

// Sanitize runs the sanitizer on markup
func (p *Pipeline) Sanitize(markup string, opts sanitize.Options) (string, error) {
	if markup == "" {
		return "", model.Invalid("html", "must not be empty")
	}
	return sanitize.Sanitize(markup, opts)
}

// Render renders req without touching the cache
func (p *Pipeline) Render(ctx context.Context, req Request) (*render.Result, error) {
	rreq, err := p.prepare(req)
	if err != nil {
		return nil, err
	}
	return p.render(ctx, rreq)
}

// RenderCached returns the cached image for req, rendering and storing it
// on a miss. Without a store it renders and reports the would-be key.
func (p *Pipeline) RenderCached(ctx context.Context, req Request) (*CachedResult, error) {
	rreq, err := p.prepare(req)
	if err != nil {
		return nil, err
	}

	key, err := cache.DeriveKey(rreq.Markup, rreq.Options)
	if err != nil {
		return nil, model.Invalid("options", err.Error())
	}
	log := p.logger.With().Str("key", key).Logger()

	if p.store == nil {
		res, err := p.render(ctx, rreq)
		if err != nil {
			return nil, err
		}
		return &CachedResult{Key: key, Result: res}, nil
	}

	data, err := p.store.Get(key)
	switch {
	case err == nil:
		log.Debug().Msg("cache hit")
		return &CachedResult{
			Key:    key,
			Hit:    true,
			Result: &render.Result{Data: data, ContentType: rreq.Options.Format.ContentType()},
		}, nil
	case !errors.Is(err, model.ErrNotFound):
		return nil, fmt.Errorf("read cache: %w", err)
	}
	log.Debug().Msg("cache miss")

	if p.flights == nil {
		res, err := p.renderAndStore(ctx, key, rreq)
		if err != nil {
			return nil, err
		}
		return &CachedResult{Key: key, Result: res}, nil
	}

	// The flight outlives any single caller; each caller waits on its own ctx.
	flight := context.WithoutCancel(ctx)
	ch := p.flights.DoChan(key, func() (any, error) {
		return p.renderAndStore(flight, key, rreq)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			log.Debug().Msg("joined in-flight render")
		}
		return &CachedResult{Key: key, Shared: r.Shared, Result: r.Val.(*render.Result)}, nil
	}
}

// Lookup returns a cached image by key. Entry files carry no format, so the
// content type is sniffed from the bytes.
func (p *Pipeline) Lookup(key string) (*render.Result, error) {
	if p.store == nil {
		return nil, fmt.Errorf("cache disabled: %w", model.ErrNotFound)
	}
	data, err := p.store.Get(key)
	if err != nil {
		return nil, err
	}
	return &render.Result{Data: data, ContentType: http.DetectContentType(data)}, nil
}

// prepare validates, sanitizes and normalizes a request.
func (p *Pipeline) prepare(req Request) (render.Request, error) {
	rreq := render.Request{Markup: req.Markup, Options: req.Options}
	if err := rreq.Validate(); err != nil {
		return render.Request{}, err
	}

	if req.Sanitize != nil {
		clean, err := sanitize.Sanitize(req.Markup, *req.Sanitize)
		if err != nil {
			return render.Request{}, err
		}
		rreq.Markup = clean
	}

	opts, err := req.Options.Normalize()
	if err != nil {
		return render.Request{}, err
	}
	rreq.Options = opts
	return rreq, nil
}

func (p *Pipeline) render(ctx context.Context, req render.Request) (*render.Result, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.renderer.Render(ctx, req)
}

func (p *Pipeline) renderAndStore(ctx context.Context, key string, req render.Request) (*render.Result, error) {
	res, err := p.render(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := p.store.Put(key, res.Data); err != nil {
		return nil, fmt.Errorf("store %s: %w", key, err)
	}
	return res, nil
}
