package studio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrNotSupported is returned when an operation is not supported by the
// underlying source or provider.
var ErrNotSupported = errors.New("operation not supported")

// SourceKind classifies a media source.
type SourceKind int

const (
	SourceKindCamera     SourceKind = iota // Live camera capture
	SourceKindScreen                       // Screen/window capture
	SourceKindImage                        // Still image asset
	SourceKindVideo                        // Video clip asset
	SourceKindBackground                   // Background asset (image or video)
	SourceKindPattern                      // Synthetic video pattern
	SourceKindTone                         // Synthetic audio tone
)

func (k SourceKind) String() string {
	switch k {
	case SourceKindCamera:
		return "Camera"
	case SourceKindScreen:
		return "Screen"
	case SourceKindImage:
		return "Image"
	case SourceKindVideo:
		return "Video"
	case SourceKindBackground:
		return "Background"
	case SourceKindPattern:
		return "Pattern"
	case SourceKindTone:
		return "Tone"
	default:
		return "Unknown"
	}
}

// VideoFrameCallback receives video frames in push mode.
type VideoFrameCallback func(frame *VideoFrame)

// AudioSamplesCallback receives audio samples in push mode.
type AudioSamplesCallback func(samples *AudioSamples)

// SourceConfig describes a video source's output.
type SourceConfig struct {
	Kind   SourceKind
	Width  int
	Height int
	FPS    int
}

// VideoSource produces raw video frames.
//
// Sources support two delivery modes: pull via ReadFrame, or push via
// SetCallback. When a callback is set, the pull channel is bypassed.
// The engine never starts or stops device capture on behalf of the
// caller; it only consumes frames from sources handed to it.
type VideoSource interface {
	io.Closer

	// Start begins producing frames.
	Start(ctx context.Context) error

	// Stop stops producing frames. Safe to call when not started.
	Stop() error

	// ReadFrame returns the next frame (blocking).
	ReadFrame(ctx context.Context) (*VideoFrame, error)

	// SetCallback switches the source to push mode.
	SetCallback(cb VideoFrameCallback)

	// Config returns the source's output configuration.
	Config() SourceConfig
}

// AudioSource produces raw audio samples.
type AudioSource interface {
	io.Closer

	// Start begins producing samples.
	Start(ctx context.Context) error

	// Stop stops producing samples. Safe to call when not started.
	Stop() error

	// ReadSamples returns the next samples (blocking).
	ReadSamples(ctx context.Context) (*AudioSamples, error)

	// SetCallback switches the source to push mode.
	SetCallback(cb AudioSamplesCallback)

	// SampleRate returns the sample rate in Hz.
	SampleRate() int

	// Channels returns the channel count.
	Channels() int
}

// VideoSourceFactory creates a video source from a kind-specific config.
type VideoSourceFactory func(config interface{}) (VideoSource, error)

// AudioSourceFactory creates an audio source from a kind-specific config.
type AudioSourceFactory func(config interface{}) (AudioSource, error)

type sourceRegistry struct {
	video map[SourceKind]VideoSourceFactory
	audio map[SourceKind]AudioSourceFactory
	mu    sync.RWMutex
}

var globalSourceRegistry = &sourceRegistry{
	video: make(map[SourceKind]VideoSourceFactory),
	audio: make(map[SourceKind]AudioSourceFactory),
}

// RegisterVideoSource registers a video source factory for a kind.
func RegisterVideoSource(kind SourceKind, factory VideoSourceFactory) {
	globalSourceRegistry.mu.Lock()
	defer globalSourceRegistry.mu.Unlock()
	globalSourceRegistry.video[kind] = factory
}

// RegisterAudioSource registers an audio source factory for a kind.
func RegisterAudioSource(kind SourceKind, factory AudioSourceFactory) {
	globalSourceRegistry.mu.Lock()
	defer globalSourceRegistry.mu.Unlock()
	globalSourceRegistry.audio[kind] = factory
}

// CreateVideoSource creates a video source of the given kind.
func CreateVideoSource(kind SourceKind, config interface{}) (VideoSource, error) {
	globalSourceRegistry.mu.RLock()
	factory, ok := globalSourceRegistry.video[kind]
	globalSourceRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("video source not available: %v", kind)
	}
	return factory(config)
}

// CreateAudioSource creates an audio source of the given kind.
func CreateAudioSource(kind SourceKind, config interface{}) (AudioSource, error) {
	globalSourceRegistry.mu.RLock()
	factory, ok := globalSourceRegistry.audio[kind]
	globalSourceRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("audio source not available: %v", kind)
	}
	return factory(config)
}

// IsVideoSourceAvailable reports whether a factory is registered.
func IsVideoSourceAvailable(kind SourceKind) bool {
	globalSourceRegistry.mu.RLock()
	defer globalSourceRegistry.mu.RUnlock()
	_, ok := globalSourceRegistry.video[kind]
	return ok
}

// IsAudioSourceAvailable reports whether a factory is registered.
func IsAudioSourceAvailable(kind SourceKind) bool {
	globalSourceRegistry.mu.RLock()
	defer globalSourceRegistry.mu.RUnlock()
	_, ok := globalSourceRegistry.audio[kind]
	return ok
}
