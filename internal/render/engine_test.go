package render

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/czhmisaka/Html2Img/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession records every call made by the engine
type fakeSession struct {
	mu        sync.Mutex
	viewports []Viewport
	loaded    []string
	captures  []CaptureParams
	closed    int

	height     int
	viewportFn func(call int) error
	loadErr    error
	measureErr error
	captureErr error
	closeErr   error
	image      []byte
	loadDelay  time.Duration
}

func (s *fakeSession) SetViewport(ctx context.Context, vp Viewport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewports = append(s.viewports, vp)
	if s.viewportFn != nil {
		return s.viewportFn(len(s.viewports))
	}
	return nil
}

func (s *fakeSession) Load(ctx context.Context, markup string) error {
	if s.loadDelay > 0 {
		time.Sleep(s.loadDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = append(s.loaded, markup)
	return s.loadErr
}

func (s *fakeSession) ContentHeight(ctx context.Context) (int, error) {
	return s.height, s.measureErr
}

func (s *fakeSession) Capture(ctx context.Context, params CaptureParams) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures = append(s.captures, params)
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	if s.image != nil {
		return s.image, nil
	}
	return []byte("image-bytes"), nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.closeErr
}

// fakeLauncher hands out sessions built by newSession
type fakeLauncher struct {
	newSession func() *fakeSession
	launchErr  error

	mu       sync.Mutex
	sessions []*fakeSession
	live     atomic.Int32
	maxLive  atomic.Int32
}

func (l *fakeLauncher) Launch(ctx context.Context) (Session, error) {
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	s := &fakeSession{height: 500}
	if l.newSession != nil {
		s = l.newSession()
	}
	l.mu.Lock()
	l.sessions = append(l.sessions, s)
	l.mu.Unlock()

	n := l.live.Add(1)
	for {
		max := l.maxLive.Load()
		if n <= max || l.maxLive.CompareAndSwap(max, n) {
			break
		}
	}
	return &trackedSession{fakeSession: s, launcher: l}, nil
}

type trackedSession struct {
	*fakeSession
	launcher *fakeLauncher
}

func (s *trackedSession) Close() error {
	s.launcher.live.Add(-1)
	return s.fakeSession.Close()
}

func (l *fakeLauncher) only(t *testing.T) *fakeSession {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.sessions, 1)
	return l.sessions[0]
}

func TestEngine_AutoHeightTwoPass(t *testing.T) {
	launcher := &fakeLauncher{}
	engine := NewEngine(launcher)

	res, err := engine.Render(context.Background(), Request{
		Markup:  `<div style="height:500px"></div>`,
		Options: Options{Width: 1000, Scale: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", res.ContentType)
	assert.Equal(t, []byte("image-bytes"), res.Data)

	s := launcher.only(t)
	assert.Equal(t, []Viewport{
		{Width: 1000, Height: provisionalHeight, Scale: 2},
		{Width: 1000, Height: 500, Scale: 2},
	}, s.viewports, "both passes share one canonical width")
	assert.Equal(t, []string{`<div style="height:500px"></div>`}, s.loaded)
	assert.Equal(t, []CaptureParams{{Format: FormatPNG, FullPage: true}}, s.captures)
	assert.Equal(t, 1, s.closed)
}

func TestEngine_AutoHeightDefaultWidth(t *testing.T) {
	launcher := &fakeLauncher{}
	engine := NewEngine(launcher)

	_, err := engine.Render(context.Background(), Request{Markup: "<p>x</p>"})
	require.NoError(t, err)

	s := launcher.only(t)
	require.Len(t, s.viewports, 2)
	assert.Equal(t, DefaultAutoHeightWidth, s.viewports[0].Width)
	assert.Equal(t, DefaultAutoHeightWidth, s.viewports[1].Width)
}

func TestEngine_ZeroHeightClampedToOne(t *testing.T) {
	launcher := &fakeLauncher{newSession: func() *fakeSession { return &fakeSession{height: 0} }}
	engine := NewEngine(launcher)

	_, err := engine.Render(context.Background(), Request{Markup: "<p></p>"})
	require.NoError(t, err)
	assert.Equal(t, 1, launcher.only(t).viewports[1].Height)
}

func TestEngine_FixedHeightSinglePass(t *testing.T) {
	launcher := &fakeLauncher{}
	engine := NewEngine(launcher)

	_, err := engine.Render(context.Background(), Request{
		Markup:  "<p>x</p>",
		Options: Options{Height: 600, FullPage: Bool(false), Format: FormatJPEG, Quality: 55},
	})
	require.NoError(t, err)

	s := launcher.only(t)
	assert.Equal(t, []Viewport{{Width: DefaultWidth, Height: 600, Scale: 1}}, s.viewports)
	assert.Equal(t, []CaptureParams{{Format: FormatJPEG, Quality: 55, FullPage: false}}, s.captures)
}

func TestEngine_FullPageWithFixedHeightSkipsMeasure(t *testing.T) {
	launcher := &fakeLauncher{newSession: func() *fakeSession {
		return &fakeSession{measureErr: errors.New("must not be called")}
	}}
	engine := NewEngine(launcher)

	_, err := engine.Render(context.Background(), Request{
		Markup:  "<p>x</p>",
		Options: Options{Height: 300},
	})
	require.NoError(t, err)

	s := launcher.only(t)
	assert.Len(t, s.viewports, 1)
	assert.True(t, s.captures[0].FullPage)
}

func TestEngine_ContentTypeFollowsFormat(t *testing.T) {
	engine := NewEngine(&fakeLauncher{})

	res, err := engine.Render(context.Background(), Request{Markup: "x", Options: Options{Format: "jpg"}})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", res.ContentType)
}

func TestEngine_ValidationErrorsNeverLaunch(t *testing.T) {
	launcher := &fakeLauncher{}
	engine := NewEngine(launcher)

	_, err := engine.Render(context.Background(), Request{Markup: "   "})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = engine.Render(context.Background(), Request{Markup: "x", Options: Options{Format: "gif"}})
	assert.ErrorIs(t, err, model.ErrValidation)

	assert.Empty(t, launcher.sessions)
}

func TestEngine_LaunchFailure(t *testing.T) {
	engine := NewEngine(&fakeLauncher{launchErr: errors.New("no chrome")})

	_, err := engine.Render(context.Background(), Request{Markup: "x"})
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StageLaunch, failure.Stage)
	assert.ErrorIs(t, err, model.ErrRenderFailure)
	assert.Equal(t, model.KindRender, model.KindOf(err))
}

func TestEngine_FailuresAlwaysTearDown(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		session func() *fakeSession
		stage   string
	}{
		{"first viewport", func() *fakeSession {
			return &fakeSession{viewportFn: func(int) error { return boom }}
		}, StageViewport},
		{"second viewport", func() *fakeSession {
			return &fakeSession{height: 10, viewportFn: func(call int) error {
				if call == 2 {
					return boom
				}
				return nil
			}}
		}, StageViewport},
		{"load", func() *fakeSession { return &fakeSession{loadErr: boom} }, StageLoad},
		{"measure", func() *fakeSession { return &fakeSession{measureErr: boom} }, StageMeasure},
		{"capture", func() *fakeSession { return &fakeSession{height: 10, captureErr: boom} }, StageCapture},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			launcher := &fakeLauncher{newSession: tt.session}
			engine := NewEngine(launcher)

			_, err := engine.Render(context.Background(), Request{Markup: "x"})
			require.Error(t, err)

			var failure *Failure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, tt.stage, failure.Stage)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, 1, launcher.only(t).closed)
		})
	}
}

func TestEngine_TeardownErrorDoesNotMask(t *testing.T) {
	captureErr := errors.New("capture exploded")
	launcher := &fakeLauncher{newSession: func() *fakeSession {
		return &fakeSession{height: 10, captureErr: captureErr, closeErr: errors.New("close exploded")}
	}}
	engine := NewEngine(launcher)

	_, err := engine.Render(context.Background(), Request{Markup: "x"})
	assert.ErrorIs(t, err, captureErr)
	assert.NotContains(t, err.Error(), "close exploded")
}

func TestEngine_TeardownErrorAfterSuccessIsSwallowed(t *testing.T) {
	launcher := &fakeLauncher{newSession: func() *fakeSession {
		return &fakeSession{height: 10, closeErr: errors.New("close exploded")}
	}}
	engine := NewEngine(launcher)

	res, err := engine.Render(context.Background(), Request{Markup: "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Data)
}

func TestEngine_NewSessionPerCall(t *testing.T) {
	launcher := &fakeLauncher{}
	engine := NewEngine(launcher)

	for i := 0; i < 3; i++ {
		_, err := engine.Render(context.Background(), Request{Markup: "x"})
		require.NoError(t, err)
	}

	assert.Len(t, launcher.sessions, 3)
	for _, s := range launcher.sessions {
		assert.Equal(t, 1, s.closed)
	}
}

func TestEngine_MaxSessions(t *testing.T) {
	launcher := &fakeLauncher{newSession: func() *fakeSession {
		return &fakeSession{height: 10, loadDelay: 20 * time.Millisecond}
	}}
	engine := NewEngine(launcher, WithMaxSessions(2))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Render(context.Background(), Request{Markup: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, launcher.maxLive.Load(), int32(2))
	assert.Len(t, launcher.sessions, 8)
}

func TestEngine_MaxSessionsHonorsContext(t *testing.T) {
	launcher := &fakeLauncher{}
	engine := NewEngine(launcher, WithMaxSessions(1))

	// Hold the only slot.
	require.True(t, engine.sessions.TryAcquire(1))
	defer engine.sessions.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := engine.Render(ctx, Request{Markup: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, model.ErrRenderFailure)
	assert.Empty(t, launcher.sessions)
}
