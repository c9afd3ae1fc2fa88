package render

import (
	"context"
	"fmt"

	"github.com/czhmisaka/Html2Img/internal/model"
)

// Viewport is the emulated window size in CSS pixels
type Viewport struct {
	Width  int
	Height int
	Scale  float64
}

// CaptureParams selects the encoding of a capture.
type CaptureParams struct {
	Format   Format
	Quality  int // jpeg only
	FullPage bool
}

// Session is one isolated browser instance with a single page.
// Sessions are created per render and never reused.
type Session interface {
	SetViewport(ctx context.Context, vp Viewport) error
	// Load replaces the page document with markup and returns once the
	// network has gone quiet.
	Load(ctx context.Context, markup string) error
	// ContentHeight returns the rendered document height in CSS pixels.
	ContentHeight(ctx context.Context) (int, error)
	Capture(ctx context.Context, params CaptureParams) ([]byte, error)
	Close() error
}

// Launcher starts sessions
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Render stages, reported in Failure.Stage.
const (
	StageLaunch   = "launch"
	StageViewport = "viewport"
	StageLoad     = "load"
	StageMeasure  = "measure"
	StageCapture  = "capture"
)

// Failure wraps an error raised while driving a session
type Failure struct {
	Stage string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("render failure (%s): %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches model.ErrRenderFailure.
func (f *Failure) Is(target error) bool {
	return target == model.ErrRenderFailure
}

func fail(stage string, err error) error {
	return &Failure{Stage: stage, Err: err}
}
