package studio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrCompositorNotRunning is returned by consumers that need a live
// composited output (recording, streaming) when the compositor loop
// has not been started.
var ErrCompositorNotRunning = errors.New("compositor not running")

// Border thickness for framed insets.
const insetBorderPx = 4

// CompositorConfig configures the frame compositor.
type CompositorConfig struct {
	Width      int      // Canvas width (default: 1280)
	Height     int      // Canvas height (default: 720)
	FPS        int      // Output frame rate (default: 30)
	Background YUVColor // Placeholder and clear color
	Logger     *zap.Logger
}

// DefaultCompositorConfig returns a 720p30 configuration.
func DefaultCompositorConfig() CompositorConfig {
	return CompositorConfig{
		Width:      1280,
		Height:     720,
		FPS:        30,
		Background: ColorDarkSlate,
	}
}

// CompositorStats is a point-in-time snapshot of render loop activity.
type CompositorStats struct {
	FramesComposited uint64 // Ticks that produced an output frame
	SlotErrors       uint64 // Per-slot draw failures (absorbed)
	LayoutRecomputes uint64 // Placement cache rebuilds
	BusPublished     uint64
	BusDropped       uint64
}

// FrameCompositor renders bound sources into one output frame per tick
// under the current layout mode.
//
// Sources deliver frames through their push callback; the compositor
// caches the most recent frame per role and draws from the cache, so a
// slow or silent source degrades to its placeholder without blocking
// the tick. The compositor never starts or stops sources.
//
// Output resolution is constant for the compositor's life regardless
// of which sources are present, absent, or failing.
type FrameCompositor struct {
	config CompositorConfig
	logger *zap.Logger

	canvas  *Canvas
	overlay *BrandingOverlay
	bus     *FrameBus

	// Bindings, mode, and the placement cache.
	mu          sync.RWMutex
	mode        LayoutMode
	sources     map[SourceRole]VideoSource
	placements  []Placement
	layoutDirty bool

	// Last delivered frame per role, written by source callbacks.
	framesMu   sync.Mutex
	lastFrames map[SourceRole]*VideoFrame

	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	doneCh    chan struct{}
	startTime time.Time

	frameCh   chan *VideoFrame
	frameChMu sync.RWMutex

	framesComposited atomic.Uint64
	slotErrors       atomic.Uint64
	layoutRecomputes atomic.Uint64
}

// NewFrameCompositor creates a compositor with an empty source set and
// LayoutFullCam.
func NewFrameCompositor(config CompositorConfig) (*FrameCompositor, error) {
	if config.Width <= 0 {
		config.Width = 1280
	}
	if config.Height <= 0 {
		config.Height = 720
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}
	if config.Background == (YUVColor{}) {
		config.Background = ColorDarkSlate
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	config.Width = (config.Width + 1) &^ 1
	config.Height = (config.Height + 1) &^ 1

	return &FrameCompositor{
		config:      config,
		logger:      config.Logger,
		canvas:      NewCanvas(config.Width, config.Height),
		overlay:     NewBrandingOverlay(),
		bus:         NewFrameBus(),
		mode:        LayoutFullCam,
		sources:     make(map[SourceRole]VideoSource),
		lastFrames:  make(map[SourceRole]*VideoFrame),
		layoutDirty: true,
		frameCh:     make(chan *VideoFrame, 3),
	}, nil
}

// BindSource binds a source to a role, replacing any previous binding.
// The source must already be producing frames; the compositor only
// registers its push callback.
func (c *FrameCompositor) BindSource(role SourceRole, src VideoSource) error {
	switch role {
	case RoleCamera, RoleScreen, RoleBackground:
	default:
		return fmt.Errorf("compositor: role %v is not bindable", role)
	}
	if src == nil {
		return fmt.Errorf("compositor: nil source for role %v", role)
	}

	c.mu.Lock()
	if old, ok := c.sources[role]; ok {
		old.SetCallback(nil)
	}
	c.sources[role] = src
	c.layoutDirty = true
	c.mu.Unlock()

	src.SetCallback(func(frame *VideoFrame) {
		c.framesMu.Lock()
		c.lastFrames[role] = frame
		c.framesMu.Unlock()
	})

	c.logger.Info("source bound",
		zap.String("role", role.String()),
		zap.String("kind", src.Config().Kind.String()))
	return nil
}

// UnbindSource removes a role's binding. Unknown roles are ignored.
func (c *FrameCompositor) UnbindSource(role SourceRole) {
	c.mu.Lock()
	if src, ok := c.sources[role]; ok {
		src.SetCallback(nil)
		delete(c.sources, role)
		c.layoutDirty = true
	}
	c.mu.Unlock()

	c.framesMu.Lock()
	delete(c.lastFrames, role)
	c.framesMu.Unlock()

	c.logger.Info("source unbound", zap.String("role", role.String()))
}

// SetLayoutMode switches the layout; takes effect on the next tick.
func (c *FrameCompositor) SetLayoutMode(mode LayoutMode) {
	c.mu.Lock()
	if c.mode != mode {
		c.mode = mode
		c.layoutDirty = true
	}
	c.mu.Unlock()
	c.logger.Info("layout mode set", zap.String("mode", mode.String()))
}

// LayoutMode returns the current layout mode.
func (c *FrameCompositor) LayoutMode() LayoutMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SourceSet reports which roles currently have a source bound.
func (c *FrameCompositor) SourceSet() SourceSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sourceSetLocked()
}

func (c *FrameCompositor) sourceSetLocked() SourceSet {
	return SourceSet{
		Camera:     c.sources[RoleCamera] != nil,
		Screen:     c.sources[RoleScreen] != nil,
		Background: c.sources[RoleBackground] != nil,
	}
}

// Overlay returns the branding overlay.
func (c *FrameCompositor) Overlay() *BrandingOverlay { return c.overlay }

// Output returns the composited frame bus.
func (c *FrameCompositor) Output() *FrameBus { return c.bus }

// Running reports whether the render loop is active.
func (c *FrameCompositor) Running() bool { return c.running.Load() }

// Config returns the compositor's output as a SourceConfig.
func (c *FrameCompositor) Config() SourceConfig {
	return SourceConfig{
		Width:  c.config.Width,
		Height: c.config.Height,
		FPS:    c.config.FPS,
	}
}

// Placements returns the current placement plan, recomputing it if the
// mode or source set changed since the last tick.
func (c *FrameCompositor) Placements() []Placement {
	placements := c.currentPlacements()
	out := make([]Placement, len(placements))
	copy(out, placements)
	return out
}

// Stats returns a snapshot of loop and bus counters.
func (c *FrameCompositor) Stats() CompositorStats {
	bus := c.bus.Stats()
	return CompositorStats{
		FramesComposited: c.framesComposited.Load(),
		SlotErrors:       c.slotErrors.Load(),
		LayoutRecomputes: c.layoutRecomputes.Load(),
		BusPublished:     bus.Published,
		BusDropped:       bus.Dropped,
	}
}

// Start begins the render loop. Idempotent while running.
func (c *FrameCompositor) Start(ctx context.Context) error {
	if c.running.Load() {
		return nil
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.doneCh = make(chan struct{})
	c.running.Store(true)
	c.startTime = time.Now()

	go c.renderLoop()

	c.logger.Info("compositor started",
		zap.Int("width", c.config.Width),
		zap.Int("height", c.config.Height),
		zap.Int("fps", c.config.FPS))
	return nil
}

// Stop halts the render loop and waits for it to exit. Sources stay
// untouched.
func (c *FrameCompositor) Stop() error {
	if !c.running.Load() {
		return nil
	}

	c.running.Store(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.doneCh != nil {
		<-c.doneCh
	}

	c.logger.Info("compositor stopped")
	return nil
}

// Close stops the loop and closes the bus and pull channel.
func (c *FrameCompositor) Close() error {
	c.Stop()
	c.bus.Close()

	c.frameChMu.Lock()
	if c.frameCh != nil {
		close(c.frameCh)
		c.frameCh = nil
	}
	c.frameChMu.Unlock()
	return nil
}

// ReadFrame returns the next composited frame (blocking). Intended for
// previews; the recorder and live pipelines subscribe to Output.
func (c *FrameCompositor) ReadFrame(ctx context.Context) (*VideoFrame, error) {
	c.frameChMu.RLock()
	ch := c.frameCh
	c.frameChMu.RUnlock()
	if ch == nil {
		return nil, ErrCompositorNotRunning
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-ch:
		if !ok {
			return nil, ErrCompositorNotRunning
		}
		return frame, nil
	}
}

func (c *FrameCompositor) renderLoop() {
	defer close(c.doneCh)

	frameDuration := time.Second / time.Duration(c.config.FPS)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for c.running.Load() {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.renderTick(time.Since(c.startTime).Nanoseconds(), frameDuration.Nanoseconds())
		}
	}
}

// renderTick paints one output frame and publishes it. Slot failures
// are absorbed: the slot keeps its placeholder fill for this tick and
// the loop carries on.
func (c *FrameCompositor) renderTick(ts, dur int64) {
	placements := c.currentPlacements()

	c.canvas.Fill(c.config.Background)
	for _, p := range placements {
		if err := c.drawSlot(p); err != nil {
			c.slotErrors.Add(1)
			c.logger.Debug("slot draw failed",
				zap.String("role", p.Role.String()),
				zap.Error(err))
		}
	}
	c.overlay.Apply(c.canvas, ts)

	out := c.canvas.Frame().Clone()
	out.Timestamp = ts
	out.Duration = dur

	c.bus.Publish(out)

	c.frameChMu.RLock()
	if c.frameCh != nil {
		select {
		case c.frameCh <- out:
		default:
			// Preview reader is behind; drop.
		}
	}
	c.frameChMu.RUnlock()

	c.framesComposited.Add(1)
}

func (c *FrameCompositor) drawSlot(p Placement) error {
	if p.Fill || p.Role == RoleNone {
		c.canvas.FillRect(p.Rect, c.config.Background)
		return nil
	}

	c.framesMu.Lock()
	frame := c.lastFrames[p.Role]
	c.framesMu.Unlock()

	var err error
	if frame == nil {
		// Bound source hasn't delivered yet: placeholder fill.
		c.canvas.FillRect(p.Rect, c.config.Background)
	} else if err = c.canvas.DrawFrame(frame, p.Rect); err != nil {
		c.canvas.FillRect(p.Rect, c.config.Background)
	}

	if p.Framed {
		c.canvas.StrokeRect(p.Rect, ColorWhite, insetBorderPx)
	}
	return err
}

func (c *FrameCompositor) currentPlacements() []Placement {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.layoutDirty {
		c.placements = ComputeLayout(c.mode, c.canvas.Width(), c.canvas.Height(), c.sourceSetLocked())
		c.layoutDirty = false
		c.layoutRecomputes.Add(1)
	}
	return c.placements
}
