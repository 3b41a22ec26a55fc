package studio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// ErrRecordingActive is returned by Start while another recording is in
// progress.
var ErrRecordingActive = errors.New("recording already active")

// AudioInput is one audio source registered with the engine, with its
// gain stage settings.
type AudioInput struct {
	ID     string
	Source AudioSource
	Gain   float64
	Muted  bool
}

// RecordingEventType identifies a recording lifecycle event.
type RecordingEventType int

const (
	RecordingStarted        RecordingEventType = iota // Recording began
	RecordingChunkDelivered                           // One chunk reached the sink
	RecordingStopped                                  // Recording finalized
)

func (t RecordingEventType) String() string {
	switch t {
	case RecordingStarted:
		return "started"
	case RecordingChunkDelivered:
		return "chunk-delivered"
	case RecordingStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RecordingEvent reports recording lifecycle progress.
type RecordingEvent struct {
	Type        RecordingEventType
	RecordingID string
	Chunk       *Chunk    // Set for RecordingChunkDelivered
	Artifact    *Artifact // Set for RecordingStopped
}

// RecordingOptions configures one recording.
type RecordingOptions struct {
	VideoCodec    VideoCodec
	AudioCodec    AudioCodec
	Container     ContainerFormat
	VideoBitrate  int           // Target video bitrate in bps
	AudioBitrate  int           // Target audio bitrate in bps
	ChunkInterval time.Duration // Sink delivery cadence, default DefaultChunkInterval
	Sink          OutputSink    // Destination, default an in-memory BufferSink
}

// DefaultRecordingOptions returns VP9+Opus into WebM with ≈1s chunks.
func DefaultRecordingOptions() RecordingOptions {
	return RecordingOptions{
		VideoCodec:    VideoCodecVP9,
		AudioCodec:    AudioCodecOpus,
		Container:     ContainerWebM,
		VideoBitrate:  2_500_000,
		AudioBitrate:  128_000,
		ChunkInterval: DefaultChunkInterval,
	}
}

// RecorderStats is a snapshot of recorder counters.
type RecorderStats struct {
	Active          bool
	RecordingID     string
	ChunksDelivered uint64
	ChunkFailures   uint64
	FramesDropped   uint64
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Compositor supplies the video feed. Must be running when a
	// recording starts.
	Compositor *FrameCompositor

	// AudioInputs returns the engine's current audio inputs. Each
	// recording builds a fresh mix graph from this snapshot.
	AudioInputs func() []AudioInput

	Logger *zap.Logger
}

// Recorder runs the local recording pipeline: compositor frames to a
// video encoder, a fresh audio mix graph to an audio encoder, both
// muxed into chunked WebM and delivered to an OutputSink. At most one
// recording is active at a time.
type Recorder struct {
	compositor  *FrameCompositor
	audioInputs func() []AudioInput
	logger      *zap.Logger

	mu      sync.Mutex
	active  *activeRecording
	onEvent func(RecordingEvent)

	chunksDelivered atomic.Uint64
	chunkFailures   atomic.Uint64
	framesDropped   atomic.Uint64
}

type activeRecording struct {
	id        string
	startedAt time.Time
	opts      RecordingOptions

	cancel context.CancelFunc
	done   chan struct{}

	sink     OutputSink
	writer   *WebMWriter
	graph    *AudioMixGraph
	videoEnc VideoEncoder
	audioEnc AudioEncoder

	frames  <-chan *VideoFrame
	busName string

	baseNs       int64 // First video frame timestamp, -1 until seen
	audioSamples int64 // Mixed samples muxed so far, drives the audio clock
}

// NewRecorder creates a recorder bound to a compositor.
func NewRecorder(config RecorderConfig) *Recorder {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		compositor:  config.Compositor,
		audioInputs: config.AudioInputs,
		logger:      logger,
	}
}

// OnEvent sets the recording lifecycle event callback.
func (r *Recorder) OnEvent(cb func(RecordingEvent)) {
	r.mu.Lock()
	r.onEvent = cb
	r.mu.Unlock()
}

func (r *Recorder) emit(ev RecordingEvent) {
	r.mu.Lock()
	cb := r.onEvent
	r.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// Active reports whether a recording is in progress.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// RecordingID returns the active recording's ID, empty when idle.
func (r *Recorder) RecordingID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return ""
	}
	return r.active.id
}

// Node returns the active recording's gain node for an input id, or
// nil when idle or unknown. Gain and mute changes through the node
// apply to the recording in place.
func (r *Recorder) Node(id string) *GainNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	return r.active.graph.Node(id)
}

// Stats returns a snapshot of recorder counters.
func (r *Recorder) Stats() RecorderStats {
	r.mu.Lock()
	active := r.active != nil
	id := ""
	if r.active != nil {
		id = r.active.id
	}
	r.mu.Unlock()

	return RecorderStats{
		Active:          active,
		RecordingID:     id,
		ChunksDelivered: r.chunksDelivered.Load(),
		ChunkFailures:   r.chunkFailures.Load(),
		FramesDropped:   r.framesDropped.Load(),
	}
}

// Start begins a recording. All preconditions are checked before any
// state mutates: the compositor must be running, no other recording
// may be active, and the codec/container pair must be supported.
func (r *Recorder) Start(ctx context.Context, opts RecordingOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return ErrRecordingActive
	}
	if r.compositor == nil || !r.compositor.Running() {
		return ErrCompositorNotRunning
	}

	if opts.VideoBitrate <= 0 {
		opts.VideoBitrate = 2_500_000
	}
	if opts.AudioBitrate <= 0 {
		opts.AudioBitrate = 128_000
	}
	if opts.ChunkInterval <= 0 {
		opts.ChunkInterval = DefaultChunkInterval
	}

	if opts.Container != ContainerWebM {
		return fmt.Errorf("%w: container %s", ErrCodecNotSupported, opts.Container)
	}
	if !IsVideoCodecSupported(opts.VideoCodec) {
		return fmt.Errorf("%w: no video encoder for %s", ErrCodecNotSupported, opts.VideoCodec)
	}
	if !IsAudioCodecSupported(opts.AudioCodec) {
		return fmt.Errorf("%w: no audio encoder for %s", ErrCodecNotSupported, opts.AudioCodec)
	}

	comp := r.compositor.Config()

	videoEnc, err := NewVideoEncoder(VideoEncoderConfig{
		Codec:      opts.VideoCodec,
		Width:      comp.Width,
		Height:     comp.Height,
		FPS:        comp.FPS,
		BitrateBps: opts.VideoBitrate,
	})
	if err != nil {
		return err
	}

	audioEnc, err := NewAudioEncoder(AudioEncoderConfig{
		Codec:      opts.AudioCodec,
		SampleRate: 48000,
		Channels:   2,
		BitrateBps: opts.AudioBitrate,
	})
	if err != nil {
		videoEnc.Close()
		return err
	}

	rec := &activeRecording{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		opts:      opts,
		done:      make(chan struct{}),
		videoEnc:  videoEnc,
		audioEnc:  audioEnc,
		baseNs:    -1,
	}

	rec.sink = opts.Sink
	if rec.sink == nil {
		rec.sink = NewBufferSink()
	}

	writer, err := NewWebMWriter(WebMWriterConfig{
		VideoCodec:    opts.VideoCodec,
		AudioCodec:    opts.AudioCodec,
		Width:         comp.Width,
		Height:        comp.Height,
		FPS:           comp.FPS,
		SampleRate:    48000,
		Channels:      2,
		ChunkInterval: opts.ChunkInterval,
		OnChunk: func(c *Chunk) {
			r.chunksDelivered.Add(1)
			r.emit(RecordingEvent{Type: RecordingChunkDelivered, RecordingID: rec.id, Chunk: c})
		},
		OnError: func(err error) {
			r.chunkFailures.Add(1)
			r.logger.Warn("recording chunk delivery failed",
				zap.String("recording_id", rec.id),
				zap.Error(err))
		},
	}, rec.sink)
	if err != nil {
		videoEnc.Close()
		audioEnc.Close()
		return err
	}
	rec.writer = writer

	rec.busName = "recorder-" + rec.id[:8]
	frames, err := r.compositor.Output().Subscribe(rec.busName, 8)
	if err != nil {
		writer.Close()
		videoEnc.Close()
		audioEnc.Close()
		return fmt.Errorf("subscribe compositor output: %w", err)
	}
	rec.frames = frames

	recCtx, cancel := context.WithCancel(context.Background())
	rec.cancel = cancel

	rec.graph = NewAudioMixGraph(AudioMixConfig{
		SampleRate: 48000,
		Channels:   2,
		Logger:     r.logger,
	})
	var inputs []AudioInput
	if r.audioInputs != nil {
		inputs = r.audioInputs()
	}
	for _, in := range inputs {
		node, err := rec.graph.AddSource(in.ID, in.Source, in.Gain)
		if err != nil {
			r.logger.Warn("recording skipped audio input",
				zap.String("input_id", in.ID),
				zap.Error(err))
			continue
		}
		if node != nil && in.Muted {
			node.SetMuted(true)
		}
	}
	rec.graph.SetCallback(func(s *AudioSamples) { r.muxAudio(rec, s) })
	if err := rec.graph.Start(recCtx); err != nil {
		cancel()
		r.compositor.Output().Unsubscribe(rec.busName)
		writer.Close()
		videoEnc.Close()
		audioEnc.Close()
		return fmt.Errorf("start recording mix graph: %w", err)
	}

	// First frame of the artifact must be a sync point.
	videoEnc.RequestKeyframe()

	r.active = rec
	go r.drainVideo(recCtx, rec)

	r.logger.Info("recording started",
		zap.String("recording_id", rec.id),
		zap.String("video_codec", rec.opts.VideoCodec.String()),
		zap.String("audio_codec", rec.opts.AudioCodec.String()))
	go r.emit(RecordingEvent{Type: RecordingStarted, RecordingID: rec.id})
	return nil
}

// drainVideo encodes and muxes composited frames until the recording
// stops. Per-frame failures are absorbed.
func (r *Recorder) drainVideo(ctx context.Context, rec *activeRecording) {
	defer close(rec.done)

	buf := make([]byte, rec.videoEnc.MaxEncodedSize())

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-rec.frames:
			if !ok {
				return
			}
			if frame == nil {
				continue
			}

			if rec.baseNs < 0 {
				rec.baseNs = frame.Timestamp
			}
			tsMs := (frame.Timestamp - rec.baseNs) / int64(time.Millisecond)

			result, err := rec.videoEnc.EncodeInto(frame, buf)
			if err != nil {
				r.framesDropped.Add(1)
				r.logger.Debug("recording video encode failed", zap.Error(err))
				continue
			}
			if result.N == 0 {
				continue
			}

			keyframe := result.FrameType == FrameTypeKey
			if err := rec.writer.WriteVideo(keyframe, tsMs, buf[:result.N]); err != nil {
				r.framesDropped.Add(1)
				r.logger.Debug("recording video mux failed", zap.Error(err))
			}
		}
	}
}

// muxAudio runs on the mix-loop goroutine. The audio clock advances by
// sample count so gaps in wall time never desync the artifact.
func (r *Recorder) muxAudio(rec *activeRecording, samples *AudioSamples) {
	tsMs := rec.audioSamples * 1000 / int64(48000)
	rec.audioSamples += int64(samples.SampleCount)

	encoded, err := rec.audioEnc.Encode(samples)
	if err != nil {
		r.logger.Debug("recording audio encode failed", zap.Error(err))
		return
	}
	if encoded == nil || len(encoded.Data) == 0 {
		return
	}

	if err := rec.writer.WriteAudio(tsMs, encoded.Data); err != nil {
		r.logger.Debug("recording audio mux failed", zap.Error(err))
	}
}

// Stop finalizes the active recording into exactly one artifact named
// recording-<timestamp>.webm. Stopping an idle recorder is a no-op
// returning (nil, nil).
func (r *Recorder) Stop() (*Artifact, error) {
	r.mu.Lock()
	rec := r.active
	r.active = nil
	r.mu.Unlock()

	if rec == nil {
		return nil, nil
	}

	rec.cancel()
	<-rec.done

	r.compositor.Output().Unsubscribe(rec.busName)

	var result *multierror.Error
	if err := rec.graph.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := rec.writer.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := rec.videoEnc.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := rec.audioEnc.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	name := fmt.Sprintf("recording-%s%s",
		rec.startedAt.UTC().Format(time.RFC3339),
		rec.opts.Container.Extension())

	artifact, err := rec.sink.Finalize(name)
	if err != nil {
		result = multierror.Append(result, err)
	}
	if artifact != nil {
		artifact.Duration = rec.writer.Duration()
	}

	r.logger.Info("recording stopped",
		zap.String("recording_id", rec.id),
		zap.String("artifact", name),
		zap.Uint64("chunks", r.chunksDelivered.Load()))
	r.emit(RecordingEvent{Type: RecordingStopped, RecordingID: rec.id, Artifact: artifact})

	return artifact, result.ErrorOrNil()
}
