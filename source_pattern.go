package studio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// PatternType defines the synthetic pattern a PatternSource paints.
type PatternType int

const (
	PatternColorBars PatternType = iota // SMPTE color bars
	PatternGradient                     // Horizontal luma gradient
	PatternSolid                        // Solid color
	PatternNoise                        // Random noise (animated)
	PatternMovingBox                    // Orbiting box (animated)
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "ColorBars"
	case PatternGradient:
		return "Gradient"
	case PatternSolid:
		return "Solid"
	case PatternNoise:
		return "Noise"
	case PatternMovingBox:
		return "MovingBox"
	default:
		return "Unknown"
	}
}

// PatternSourceConfig configures a synthetic video source. Pattern
// sources stand in for camera or screen capture in demos and tests;
// Kind sets what the source reports so it can be bound to any role.
type PatternSourceConfig struct {
	Kind    SourceKind
	Width   int
	Height  int
	FPS     int
	Pattern PatternType

	// For PatternSolid.
	SolidR, SolidG, SolidB uint8
}

// DefaultPatternSourceConfig returns a 720p30 color bars configuration.
func DefaultPatternSourceConfig() PatternSourceConfig {
	return PatternSourceConfig{
		Kind:    SourceKindPattern,
		Width:   1280,
		Height:  720,
		FPS:     30,
		Pattern: PatternColorBars,
	}
}

// PatternSource generates synthetic video frames.
//
// Static patterns are painted once and emitted as shared read-only
// planes; animated patterns allocate a fresh frame per tick so frames
// already delivered downstream are never mutated.
type PatternSource struct {
	config PatternSourceConfig

	static *VideoFrame

	frameDuration time.Duration
	frameCount    uint64
	startTime     time.Time

	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	frameCh  chan *VideoFrame
	doneCh   chan struct{}
	callback VideoFrameCallback

	rngState uint64

	mu sync.RWMutex
}

// NewPatternSource creates a synthetic video source.
func NewPatternSource(config PatternSourceConfig) *PatternSource {
	if config.Width <= 0 {
		config.Width = 1280
	}
	if config.Height <= 0 {
		config.Height = 720
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}
	config.Width &^= 1
	config.Height &^= 1

	s := &PatternSource{
		config:        config,
		frameDuration: time.Second / time.Duration(config.FPS),
		frameCh:       make(chan *VideoFrame, 2),
		rngState:      uint64(time.Now().UnixNano()),
	}

	if !s.animated() {
		s.static = NewI420Frame(config.Width, config.Height)
		s.paint(s.static, 0)
	}
	return s
}

func (s *PatternSource) animated() bool {
	return s.config.Pattern == PatternNoise || s.config.Pattern == PatternMovingBox
}

// Start begins generating frames.
func (s *PatternSource) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("pattern source already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.doneCh = make(chan struct{})
	s.running.Store(true)
	s.startTime = time.Now()
	s.frameCount = 0

	go s.generateLoop()
	return nil
}

// Stop stops generating frames and waits for the goroutine to exit.
func (s *PatternSource) Stop() error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)
	if s.cancel != nil {
		s.cancel()
	}
	if s.doneCh != nil {
		<-s.doneCh
	}
	return nil
}

// Close stops the source and releases the pull channel.
func (s *PatternSource) Close() error {
	s.Stop()
	s.mu.Lock()
	if s.frameCh != nil {
		close(s.frameCh)
		s.frameCh = nil
	}
	s.mu.Unlock()
	return nil
}

// ReadFrame returns the next frame (blocking).
func (s *PatternSource) ReadFrame(ctx context.Context) (*VideoFrame, error) {
	s.mu.RLock()
	ch := s.frameCh
	s.mu.RUnlock()
	if ch == nil {
		return nil, fmt.Errorf("pattern source closed")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("pattern source closed")
		}
		return frame, nil
	}
}

// SetCallback switches the source to push mode.
func (s *PatternSource) SetCallback(cb VideoFrameCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// Config returns the source's output configuration.
func (s *PatternSource) Config() SourceConfig {
	return SourceConfig{
		Kind:   s.config.Kind,
		Width:  s.config.Width,
		Height: s.config.Height,
		FPS:    s.config.FPS,
	}
}

func (s *PatternSource) generateLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.frameCount++

			var frame *VideoFrame
			if s.animated() {
				frame = NewI420Frame(s.config.Width, s.config.Height)
				s.paint(frame, s.frameCount)
			} else {
				// Share the static planes, fresh timing per emission.
				f := *s.static
				frame = &f
			}
			frame.Timestamp = time.Since(s.startTime).Nanoseconds()
			frame.Duration = s.frameDuration.Nanoseconds()

			s.mu.RLock()
			cb := s.callback
			ch := s.frameCh
			s.mu.RUnlock()

			if cb != nil {
				cb(frame)
				continue
			}
			select {
			case <-s.ctx.Done():
				return
			case ch <- frame:
			default:
				// Drop frame if the consumer is behind.
			}
		}
	}
}

func (s *PatternSource) paint(frame *VideoFrame, frameNum uint64) {
	switch s.config.Pattern {
	case PatternColorBars:
		s.paintColorBars(frame)
	case PatternGradient:
		s.paintGradient(frame)
	case PatternSolid:
		s.paintSolid(frame, s.config.SolidR, s.config.SolidG, s.config.SolidB)
	case PatternNoise:
		s.paintNoise(frame)
	case PatternMovingBox:
		s.paintMovingBox(frame, frameNum)
	default:
		s.paintColorBars(frame)
	}
}

// SMPTE color bars (simplified 8-bar pattern).
var colorBarsRGB = [][3]uint8{
	{192, 192, 192}, // White (75%)
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
	{16, 16, 16},    // Black
}

func (s *PatternSource) paintColorBars(frame *VideoFrame) {
	w, h := frame.Width, frame.Height
	barWidth := w / 8
	yPlane, uPlane, vPlane := frame.Data[0], frame.Data[1], frame.Data[2]

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			barIdx := x / barWidth
			if barIdx >= 8 {
				barIdx = 7
			}

			rgb := colorBarsRGB[barIdx]
			yVal, u, v := rgbToYUV(rgb[0], rgb[1], rgb[2])

			yPlane[y*w+x] = yVal
			if x%2 == 0 && y%2 == 0 {
				uvIdx := (y/2)*(w/2) + (x / 2)
				uPlane[uvIdx] = u
				vPlane[uvIdx] = v
			}
		}
	}
}

func (s *PatternSource) paintGradient(frame *VideoFrame) {
	w, h := frame.Width, frame.Height
	yPlane := frame.Data[0]

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			yPlane[y*w+x] = uint8(16 + (x*219)/w)
		}
	}
	fillPlane(frame.Data[1], 128)
	fillPlane(frame.Data[2], 128)
}

func (s *PatternSource) paintSolid(frame *VideoFrame, r, g, b uint8) {
	yVal, u, v := rgbToYUV(r, g, b)
	fillPlane(frame.Data[0], yVal)
	fillPlane(frame.Data[1], u)
	fillPlane(frame.Data[2], v)
}

func (s *PatternSource) paintNoise(frame *VideoFrame) {
	// xorshift64 for fast grayscale noise.
	yPlane := frame.Data[0]
	for i := range yPlane {
		s.rngState ^= s.rngState << 13
		s.rngState ^= s.rngState >> 7
		s.rngState ^= s.rngState << 17
		yPlane[i] = uint8(s.rngState)
	}
	fillPlane(frame.Data[1], 128)
	fillPlane(frame.Data[2], 128)
}

func (s *PatternSource) paintMovingBox(frame *VideoFrame, frameNum uint64) {
	w, h := frame.Width, frame.Height
	yPlane := frame.Data[0]

	fillPlane(yPlane, 16)
	fillPlane(frame.Data[1], 128)
	fillPlane(frame.Data[2], 128)

	boxSize := 100
	radius := float64(minInt(w, h)) / 4

	angle := float64(frameNum) * 0.05
	boxX := w/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := h/2 + int(radius*math.Sin(angle)) - boxSize/2

	for y := boxY; y < boxY+boxSize && y < h; y++ {
		if y < 0 {
			continue
		}
		for x := boxX; x < boxX+boxSize && x < w; x++ {
			if x < 0 {
				continue
			}
			yPlane[y*w+x] = 235
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func init() {
	RegisterVideoSource(SourceKindPattern, func(config interface{}) (VideoSource, error) {
		cfg, ok := config.(*PatternSourceConfig)
		if !ok {
			defaultCfg := DefaultPatternSourceConfig()
			cfg = &defaultCfg
		}
		return NewPatternSource(*cfg), nil
	})
}
