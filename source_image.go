package studio

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"
	"sync/atomic"
	"time"

	xdraw "golang.org/x/image/draw"
)

// ImageSourceConfig configures a still-image video source.
type ImageSourceConfig struct {
	Kind   SourceKind // SourceKindImage or SourceKindBackground
	Path   string     // PNG or JPEG file, used by NewImageSource
	Width  int        // Output width (default: decoded width)
	Height int        // Output height (default: decoded height)
	FPS    int        // Emission rate (default: 30)
}

// ImageSource emits one decoded still image as a steady frame stream
// so image and background assets bind anywhere a live source can.
type ImageSource struct {
	config ImageSourceConfig
	frame  *VideoFrame

	frameDuration time.Duration
	startTime     time.Time

	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	frameCh  chan *VideoFrame
	doneCh   chan struct{}
	callback VideoFrameCallback

	mu sync.RWMutex
}

// NewImageSource decodes the configured file into an I420 frame.
func NewImageSource(config ImageSourceConfig) (*ImageSource, error) {
	f, err := os.Open(config.Path)
	if err != nil {
		return nil, fmt.Errorf("image source: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("image source: decode %s: %w", config.Path, err)
	}
	return NewImageSourceFromImage(img, config), nil
}

// NewImageSourceFromImage builds a source from an already decoded image.
func NewImageSourceFromImage(img image.Image, config ImageSourceConfig) *ImageSource {
	bounds := img.Bounds()
	if config.Width <= 0 {
		config.Width = bounds.Dx()
	}
	if config.Height <= 0 {
		config.Height = bounds.Dy()
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}
	config.Width &^= 1
	config.Height &^= 1
	if config.Width < 2 {
		config.Width = 2
	}
	if config.Height < 2 {
		config.Height = 2
	}

	rgba := image.NewRGBA(image.Rect(0, 0, config.Width, config.Height))
	xdraw.ApproxBiLinear.Scale(rgba, rgba.Bounds(), img, bounds, xdraw.Src, nil)

	return &ImageSource{
		config:        config,
		frame:         rgbaToI420(rgba),
		frameDuration: time.Second / time.Duration(config.FPS),
		frameCh:       make(chan *VideoFrame, 2),
	}
}

// Start begins emitting the frame at the configured rate.
func (s *ImageSource) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("image source already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.doneCh = make(chan struct{})
	s.running.Store(true)
	s.startTime = time.Now()

	go s.emitLoop()
	return nil
}

// Stop stops emitting frames and waits for the goroutine to exit.
func (s *ImageSource) Stop() error {
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
func (s *ImageSource) Close() error {
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
func (s *ImageSource) ReadFrame(ctx context.Context) (*VideoFrame, error) {
	s.mu.RLock()
	ch := s.frameCh
	s.mu.RUnlock()
	if ch == nil {
		return nil, fmt.Errorf("image source closed")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("image source closed")
		}
		return frame, nil
	}
}

// SetCallback switches the source to push mode.
func (s *ImageSource) SetCallback(cb VideoFrameCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// Config returns the source's output configuration.
func (s *ImageSource) Config() SourceConfig {
	return SourceConfig{
		Kind:   s.config.Kind,
		Width:  s.config.Width,
		Height: s.config.Height,
		FPS:    s.config.FPS,
	}
}

func (s *ImageSource) emitLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			// Share the decoded planes, fresh timing per emission.
			f := *s.frame
			frame := &f
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

// rgbaToI420 converts a packed RGBA image to planar I420 (BT.601),
// sampling chroma at the top-left pixel of each 2x2 block.
func rgbaToI420(rgba *image.RGBA) *VideoFrame {
	w := rgba.Bounds().Dx() &^ 1
	h := rgba.Bounds().Dy() &^ 1
	frame := NewI420Frame(w, h)
	yPlane, uPlane, vPlane := frame.Data[0], frame.Data[1], frame.Data[2]

	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < w; x++ {
			off := x * 4
			yVal, u, v := rgbToYUV(row[off], row[off+1], row[off+2])

			yPlane[y*w+x] = yVal
			if x%2 == 0 && y%2 == 0 {
				uvIdx := (y/2)*(w/2) + (x / 2)
				uPlane[uvIdx] = u
				vPlane[uvIdx] = v
			}
		}
	}
	return frame
}

func init() {
	factory := func(config interface{}) (VideoSource, error) {
		cfg, ok := config.(*ImageSourceConfig)
		if !ok {
			return nil, fmt.Errorf("image source: config must be *ImageSourceConfig")
		}
		return NewImageSource(*cfg)
	}
	RegisterVideoSource(SourceKindImage, factory)
	RegisterVideoSource(SourceKindBackground, factory)
}
