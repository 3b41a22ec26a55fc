package studio

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Encoder errors.
var (
	ErrBufferTooSmall    = errors.New("buffer too small")
	ErrCodecNotSupported = errors.New("codec not supported")
)

// VideoEncoderConfig configures a video encoder.
type VideoEncoderConfig struct {
	Codec VideoCodec

	Width      int // Frame width
	Height     int // Frame height
	FPS        int // Target framerate
	BitrateBps int // Target bitrate in bits per second

	MaxBitrateBps int   // Maximum bitrate (0 = no limit)
	Threads       int   // Encoder threads (0 = auto)
	Quality       int   // Quality level (codec-specific)
	PayloadType   uint8 // RTP payload type
}

// DefaultVideoEncoderConfig returns a 1.5 Mbps 30fps configuration.
func DefaultVideoEncoderConfig(codec VideoCodec, width, height int) VideoEncoderConfig {
	return VideoEncoderConfig{
		Codec:       codec,
		Width:       width,
		Height:      height,
		FPS:         30,
		BitrateBps:  1500000,
		Quality:     32,
		PayloadType: codec.DefaultPayloadType(),
	}
}

// EncoderStats provides video encoding metrics.
type EncoderStats struct {
	FramesEncoded    uint64
	KeyframesEncoded uint64
	BytesEncoded     uint64
	DroppedFrames    uint64
}

// EncodeResult contains the result of an EncodeInto operation.
type EncodeResult struct {
	N         int       // Bytes written
	FrameType FrameType // Key or Delta
	PTS       int64     // Presentation timestamp
	DTS       int64     // Decode timestamp
}

// VideoEncoder encodes raw video frames to a compressed bitstream.
// Implementations are registered per codec; the engine ships the seam
// and resolves encoders at session start.
type VideoEncoder interface {
	io.Closer

	// Encode encodes a video frame. Returns nil if the encoder is
	// buffering and no output is ready. The returned data is valid
	// until the next Encode call.
	Encode(frame *VideoFrame) (*EncodedFrame, error)

	// EncodeInto encodes directly into the provided buffer. Returns
	// ErrBufferTooSmall if buf is insufficient (use MaxEncodedSize).
	EncodeInto(frame *VideoFrame, buf []byte) (EncodeResult, error)

	// MaxEncodedSize returns the maximum possible encoded size.
	MaxEncodedSize() int

	// RequestKeyframe forces the next frame to be a keyframe.
	RequestKeyframe()

	// SetBitrate updates the target bitrate dynamically.
	SetBitrate(bitrateBps int) error

	// Config returns the encoder configuration.
	Config() VideoEncoderConfig

	// Codec returns the codec type.
	Codec() VideoCodec

	// Stats returns encoding statistics.
	Stats() EncoderStats
}

// AudioEncoderConfig configures an audio encoder.
type AudioEncoderConfig struct {
	Codec AudioCodec

	SampleRate  int   // Sample rate (e.g., 48000)
	Channels    int   // Number of channels (1 or 2)
	BitrateBps  int   // Target bitrate in bps
	FrameSizeMs int   // Frame size in milliseconds
	PayloadType uint8 // RTP payload type

	// Opus options.
	DTX        bool // Discontinuous transmission
	FEC        bool // Forward error correction
	Complexity int  // 0-10
}

// DefaultAudioEncoderConfig returns a stereo 64 kbps 20ms configuration.
func DefaultAudioEncoderConfig(codec AudioCodec) AudioEncoderConfig {
	return AudioEncoderConfig{
		Codec:       codec,
		SampleRate:  48000,
		Channels:    2,
		BitrateBps:  64000,
		FrameSizeMs: 20,
		PayloadType: codec.DefaultPayloadType(),
		DTX:         true,
		FEC:         true,
		Complexity:  10,
	}
}

// AudioEncoderStats provides audio encoding metrics.
type AudioEncoderStats struct {
	FramesEncoded  uint64
	BytesEncoded   uint64
	SamplesEncoded uint64
}

// AudioEncoder encodes raw audio samples to a compressed bitstream.
type AudioEncoder interface {
	io.Closer
	Encode(samples *AudioSamples) (*EncodedAudio, error)
	Config() AudioEncoderConfig
	Codec() AudioCodec
	Stats() AudioEncoderStats
}

// --- Registry ---

// VideoEncoderFactory creates a video encoder for a codec.
type VideoEncoderFactory func(VideoEncoderConfig) (VideoEncoder, error)

// AudioEncoderFactory creates an audio encoder for a codec.
type AudioEncoderFactory func(AudioEncoderConfig) (AudioEncoder, error)

type encoderRegistry struct {
	mu    sync.RWMutex
	video map[VideoCodec]VideoEncoderFactory
	audio map[AudioCodec]AudioEncoderFactory
}

var globalEncoderRegistry = &encoderRegistry{
	video: make(map[VideoCodec]VideoEncoderFactory),
	audio: make(map[AudioCodec]AudioEncoderFactory),
}

// RegisterVideoEncoder registers a factory for a codec, replacing any
// previous registration.
func RegisterVideoEncoder(codec VideoCodec, factory VideoEncoderFactory) {
	globalEncoderRegistry.mu.Lock()
	defer globalEncoderRegistry.mu.Unlock()
	globalEncoderRegistry.video[codec] = factory
}

// RegisterAudioEncoder registers a factory for a codec, replacing any
// previous registration.
func RegisterAudioEncoder(codec AudioCodec, factory AudioEncoderFactory) {
	globalEncoderRegistry.mu.Lock()
	defer globalEncoderRegistry.mu.Unlock()
	globalEncoderRegistry.audio[codec] = factory
}

// NewVideoEncoder creates a video encoder, or ErrCodecNotSupported if
// no factory is registered for the codec.
func NewVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	globalEncoderRegistry.mu.RLock()
	factory, ok := globalEncoderRegistry.video[config.Codec]
	globalEncoderRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: no video encoder for %s", ErrCodecNotSupported, config.Codec)
	}
	return factory(config)
}

// NewAudioEncoder creates an audio encoder, or ErrCodecNotSupported if
// no factory is registered for the codec.
func NewAudioEncoder(config AudioEncoderConfig) (AudioEncoder, error) {
	globalEncoderRegistry.mu.RLock()
	factory, ok := globalEncoderRegistry.audio[config.Codec]
	globalEncoderRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: no audio encoder for %s", ErrCodecNotSupported, config.Codec)
	}
	return factory(config)
}

// IsVideoCodecSupported reports whether an encoder factory is
// registered for the codec.
func IsVideoCodecSupported(codec VideoCodec) bool {
	globalEncoderRegistry.mu.RLock()
	defer globalEncoderRegistry.mu.RUnlock()
	_, ok := globalEncoderRegistry.video[codec]
	return ok
}

// IsAudioCodecSupported reports whether an encoder factory is
// registered for the codec.
func IsAudioCodecSupported(codec AudioCodec) bool {
	globalEncoderRegistry.mu.RLock()
	defer globalEncoderRegistry.mu.RUnlock()
	_, ok := globalEncoderRegistry.audio[codec]
	return ok
}
