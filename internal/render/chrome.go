package render

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// contentHeightJS measures the document the way layout engines disagree
// about it: overflowing and fixed-height content report different metrics.
const contentHeightJS = `Math.max(
	document.body ? document.body.scrollHeight : 0,
	document.body ? document.body.offsetHeight : 0,
	document.documentElement.clientHeight,
	document.documentElement.scrollHeight,
	document.documentElement.offsetHeight
)`

// ChromeConfig configures headless Chrome sessions
type ChromeConfig struct {
	ExecPath        string
	Headless        bool
	NoSandbox       bool
	Proxy           ProxySettings
	IdleConnections int
	IdleWindow      time.Duration
}

// DefaultChromeConfig mirrors model.DefaultConfig's browser and render sections.
func DefaultChromeConfig() ChromeConfig {
	return ChromeConfig{
		Headless:        true,
		NoSandbox:       true,
		IdleConnections: 2,
		IdleWindow:      500 * time.Millisecond,
	}
}

// ChromeLauncher starts a dedicated Chrome process per session
type ChromeLauncher struct {
	cfg    ChromeConfig
	logger zerolog.Logger
}

// NewChromeLauncher creates a launcher
func NewChromeLauncher(cfg ChromeConfig, logger zerolog.Logger) *ChromeLauncher {
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = 500 * time.Millisecond
	}
	return &ChromeLauncher{cfg: cfg, logger: logger}
}

func (l *ChromeLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("hide-scrollbars", true),
	)
	if l.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox, chromedp.Flag("disable-setuid-sandbox", true))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}

	server, bypass := proxyFlags(l.cfg.Proxy)
	if server != "" {
		opts = append(opts, chromedp.ProxyServer(server))
	}
	if bypass != "" {
		opts = append(opts, chromedp.Flag("proxy-bypass-list", bypass))
	}
	return opts
}

// Launch starts Chrome, opens one tab and enables network tracking.
func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		ctx:         tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		idle:        newIdleTracker(l.cfg.IdleConnections, l.cfg.IdleWindow),
	}

	chromedp.ListenTarget(tabCtx, s.onEvent)

	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		if cerr := s.Close(); cerr != nil {
			l.logger.Warn().Err(cerr).Msg("teardown after failed launch")
		}
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return s, nil
}

type chromeSession struct {
	ctx         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	idle        *idleTracker
}

func (s *chromeSession) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		s.idle.started(string(e.RequestID))
	case *network.EventLoadingFinished:
		s.idle.finished(string(e.RequestID))
	case *network.EventLoadingFailed:
		s.idle.finished(string(e.RequestID))
	}
}

// run executes actions on the tab, aborting when either the tab or ctx ends.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	stop := context.AfterFunc(ctx, s.tabCancel)
	defer stop()
	return chromedp.Run(s.ctx, actions...)
}

func (s *chromeSession) SetViewport(ctx context.Context, vp Viewport) error {
	return s.run(ctx, emulation.SetDeviceMetricsOverride(int64(vp.Width), int64(vp.Height), vp.Scale, false))
}

func (s *chromeSession) Load(ctx context.Context, markup string) error {
	err := s.run(ctx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("frame tree: %w", err)
			}
			return page.SetDocumentContent(tree.Frame.ID, markup).Do(ctx)
		}),
	)
	if err != nil {
		return err
	}
	return s.idle.wait(ctx)
}

func (s *chromeSession) ContentHeight(ctx context.Context) (int, error) {
	var height float64
	if err := s.run(ctx, chromedp.Evaluate(contentHeightJS, &height)); err != nil {
		return 0, err
	}
	return int(math.Ceil(height)), nil
}

func (s *chromeSession) Capture(ctx context.Context, params CaptureParams) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		capture := page.CaptureScreenshot().WithFromSurface(true)
		if params.Format == FormatJPEG {
			capture = capture.WithFormat(page.CaptureScreenshotFormatJpeg).WithQuality(int64(params.Quality))
		} else {
			capture = capture.WithFormat(page.CaptureScreenshotFormatPng)
		}

		if params.FullPage {
			_, _, _, _, _, contentSize, err := page.GetLayoutMetrics().Do(ctx)
			if err != nil {
				return fmt.Errorf("layout metrics: %w", err)
			}
			capture = capture.WithCaptureBeyondViewport(true).WithClip(&page.Viewport{
				X:      0,
				Y:      0,
				Width:  contentSize.Width,
				Height: contentSize.Height,
				Scale:  1,
			})
		}

		var err error
		buf, err = capture.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Close shuts the browser down. The process is always reaped, even when
// the graceful close fails.
func (s *chromeSession) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.tabCancel()
	s.allocCancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
