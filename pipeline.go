package studio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// PipelineState represents the state of an encode pipeline.
type PipelineState int

const (
	PipelineStateIdle    PipelineState = iota // Not started
	PipelineStateRunning                      // Processing media
	PipelineStateStopped                      // Stopped
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStateIdle:
		return "idle"
	case PipelineStateRunning:
		return "running"
	case PipelineStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// videoRTPTimestamp converts a capture timestamp in nanoseconds to the
// 90kHz RTP clock.
func videoRTPTimestamp(ns int64) uint32 {
	return uint32(ns / int64(time.Millisecond) * 90)
}

// VideoPipelineStats provides video pipeline statistics.
type VideoPipelineStats struct {
	FramesCaptured  uint64
	FramesEncoded   uint64
	FramesDropped   uint64
	PacketsSent     uint64
	BytesSent       uint64
	KeyframesSent   uint64
	EncodeTimeUs    uint64
	PacketizeTimeUs uint64
	Errors          uint64
}

// VideoPipelineConfig configures a video encode pipeline.
type VideoPipelineConfig struct {
	Frames     <-chan *VideoFrame // Composited frame feed (e.g. a FrameBus subscription)
	Source     VideoSource        // Alternative: pull frames from a source
	Encoder    VideoEncoder       // Encoder
	Packetizer RTPPacketizer      // RTP packetizer
	Writer     RTPWriter          // Output writer
	OnError    func(error)        // Error callback
}

// VideoEncodePipeline handles: frames -> Encoder -> Packetizer -> RTPWriter.
type VideoEncodePipeline struct {
	frames     <-chan *VideoFrame
	source     VideoSource
	encoder    VideoEncoder
	encodeBuf  []byte
	packetizer RTPPacketizer
	writer     RTPWriter

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats   VideoPipelineStats
	statsMu sync.Mutex

	keyframeRequested atomic.Bool
	onError           func(error)
	mu                sync.Mutex
}

// NewVideoEncodePipeline creates a new video encoding pipeline.
func NewVideoEncodePipeline(config VideoPipelineConfig) (*VideoEncodePipeline, error) {
	if config.Frames == nil && config.Source == nil {
		return nil, fmt.Errorf("either frames or source must be provided")
	}
	if config.Encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if config.Packetizer == nil {
		return nil, fmt.Errorf("packetizer is required")
	}
	if config.Writer == nil {
		return nil, fmt.Errorf("writer is required")
	}

	p := &VideoEncodePipeline{
		frames:     config.Frames,
		source:     config.Source,
		encoder:    config.Encoder,
		encodeBuf:  make([]byte, config.Encoder.MaxEncodedSize()),
		packetizer: config.Packetizer,
		writer:     config.Writer,
		onError:    config.OnError,
	}
	p.state.Store(int32(PipelineStateIdle))
	return p, nil
}

// Start starts the pipeline.
func (p *VideoEncodePipeline) Start() error {
	if PipelineState(p.state.Load()) == PipelineStateRunning {
		return fmt.Errorf("pipeline already running")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.state.Store(int32(PipelineStateRunning))

	p.wg.Add(1)
	go p.processLoop()
	return nil
}

// Stop stops the pipeline.
func (p *VideoEncodePipeline) Stop() error {
	if PipelineState(p.state.Load()) != PipelineStateRunning {
		return nil
	}

	p.state.Store(int32(PipelineStateStopped))
	p.cancel()
	p.wg.Wait()
	return nil
}

// Close stops the pipeline and closes its encoder.
func (p *VideoEncodePipeline) Close() error {
	p.Stop()
	return p.encoder.Close()
}

// RequestKeyframe requests a keyframe from the encoder before the next
// frame.
func (p *VideoEncodePipeline) RequestKeyframe() {
	p.keyframeRequested.Store(true)
}

// State returns the current pipeline state.
func (p *VideoEncodePipeline) State() PipelineState {
	return PipelineState(p.state.Load())
}

// Stats returns pipeline statistics.
func (p *VideoEncodePipeline) Stats() VideoPipelineStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *VideoEncodePipeline) processLoop() {
	defer p.wg.Done()

	for {
		var frame *VideoFrame

		if p.frames != nil {
			select {
			case <-p.ctx.Done():
				return
			case f, ok := <-p.frames:
				if !ok {
					p.state.Store(int32(PipelineStateStopped))
					return
				}
				frame = f
			}
		} else {
			f, err := p.source.ReadFrame(p.ctx)
			if err != nil {
				if p.ctx.Err() != nil {
					return
				}
				p.handleError(err)
				continue
			}
			frame = f
		}

		if frame == nil {
			continue
		}
		p.encodeAndSend(frame)
	}
}

func (p *VideoEncodePipeline) encodeAndSend(frame *VideoFrame) {
	p.statsMu.Lock()
	p.stats.FramesCaptured++
	p.statsMu.Unlock()

	if p.keyframeRequested.Swap(false) {
		p.encoder.RequestKeyframe()
	}

	encodeStart := time.Now()
	result, err := p.encoder.EncodeInto(frame, p.encodeBuf)
	encodeTime := time.Since(encodeStart)

	if err != nil {
		p.handleError(err)
		p.statsMu.Lock()
		p.stats.FramesDropped++
		p.statsMu.Unlock()
		return
	}

	if result.N == 0 {
		return // Encoder buffering
	}

	encoded := &EncodedFrame{
		Data:      make([]byte, result.N),
		FrameType: result.FrameType,
		Timestamp: videoRTPTimestamp(frame.Timestamp),
	}
	copy(encoded.Data, p.encodeBuf[:result.N])

	p.statsMu.Lock()
	p.stats.FramesEncoded++
	p.stats.EncodeTimeUs += uint64(encodeTime.Microseconds())
	if encoded.IsKeyframe() {
		p.stats.KeyframesSent++
	}
	p.statsMu.Unlock()

	packetizeStart := time.Now()
	packets, err := p.packetizer.Packetize(encoded)
	packetizeTime := time.Since(packetizeStart)

	if err != nil {
		p.handleError(err)
		return
	}

	p.statsMu.Lock()
	p.stats.PacketizeTimeUs += uint64(packetizeTime.Microseconds())
	p.statsMu.Unlock()

	for _, pkt := range packets {
		if err := p.writer.WriteRTP(pkt); err != nil {
			p.handleError(err)
			continue
		}

		p.statsMu.Lock()
		p.stats.PacketsSent++
		p.stats.BytesSent += uint64(len(pkt.Payload))
		p.statsMu.Unlock()
	}
}

func (p *VideoEncodePipeline) handleError(err error) {
	p.statsMu.Lock()
	p.stats.Errors++
	p.statsMu.Unlock()

	p.mu.Lock()
	cb := p.onError
	p.mu.Unlock()

	if cb != nil {
		go cb(err)
	}
}

// AudioPipelineStats provides audio pipeline statistics.
type AudioPipelineStats struct {
	SamplesCaptured uint64
	FramesEncoded   uint64
	PacketsSent     uint64
	BytesSent       uint64
	EncodeTimeUs    uint64
	Errors          uint64
}

// AudioPipelineConfig configures an audio encode pipeline.
type AudioPipelineConfig struct {
	Source     AudioSource   // Sample source (typically an AudioMixGraph)
	Encoder    AudioEncoder  // Encoder
	Packetizer RTPPacketizer // RTP packetizer
	Writer     RTPWriter     // Output writer
	OnError    func(error)   // Error callback
}

// AudioEncodePipeline handles: AudioSource -> Encoder -> Packetizer -> RTPWriter.
// The RTP timestamp advances by the sample count of each quantum, per
// the RTP audio clock rules.
type AudioEncodePipeline struct {
	source     AudioSource
	encoder    AudioEncoder
	packetizer RTPPacketizer
	writer     RTPWriter

	state        atomic.Int32
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	rtpTimestamp uint32

	stats   AudioPipelineStats
	statsMu sync.Mutex

	onError func(error)
	mu      sync.Mutex
}

// NewAudioEncodePipeline creates a new audio encoding pipeline.
func NewAudioEncodePipeline(config AudioPipelineConfig) (*AudioEncodePipeline, error) {
	if config.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if config.Encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if config.Packetizer == nil {
		return nil, fmt.Errorf("packetizer is required")
	}
	if config.Writer == nil {
		return nil, fmt.Errorf("writer is required")
	}

	p := &AudioEncodePipeline{
		source:     config.Source,
		encoder:    config.Encoder,
		packetizer: config.Packetizer,
		writer:     config.Writer,
		onError:    config.OnError,
	}
	p.state.Store(int32(PipelineStateIdle))
	return p, nil
}

// Start starts the pipeline.
func (p *AudioEncodePipeline) Start() error {
	if PipelineState(p.state.Load()) == PipelineStateRunning {
		return fmt.Errorf("pipeline already running")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.state.Store(int32(PipelineStateRunning))

	p.wg.Add(1)
	go p.processLoop()
	return nil
}

// Stop stops the pipeline.
func (p *AudioEncodePipeline) Stop() error {
	if PipelineState(p.state.Load()) != PipelineStateRunning {
		return nil
	}

	p.state.Store(int32(PipelineStateStopped))
	p.cancel()
	p.wg.Wait()
	return nil
}

// Close stops the pipeline and closes its encoder.
func (p *AudioEncodePipeline) Close() error {
	p.Stop()
	return p.encoder.Close()
}

// State returns the current pipeline state.
func (p *AudioEncodePipeline) State() PipelineState {
	return PipelineState(p.state.Load())
}

// Stats returns pipeline statistics.
func (p *AudioEncodePipeline) Stats() AudioPipelineStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *AudioEncodePipeline) processLoop() {
	defer p.wg.Done()

	for {
		samples, err := p.source.ReadSamples(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil || errors.Is(err, ErrGraphClosed) {
				return
			}
			p.handleError(err)
			continue
		}

		if samples == nil {
			continue
		}
		p.encodeAndSend(samples)
	}
}

func (p *AudioEncodePipeline) encodeAndSend(samples *AudioSamples) {
	p.statsMu.Lock()
	p.stats.SamplesCaptured += uint64(samples.SampleCount)
	p.statsMu.Unlock()

	encodeStart := time.Now()
	encoded, err := p.encoder.Encode(samples)
	encodeTime := time.Since(encodeStart)

	if err != nil {
		p.handleError(err)
		return
	}

	// Advance the RTP clock even for DTX quanta the encoder suppressed.
	ts := p.rtpTimestamp
	p.rtpTimestamp += uint32(samples.SampleCount)

	if encoded == nil || len(encoded.Data) == 0 {
		return
	}

	p.statsMu.Lock()
	p.stats.FramesEncoded++
	p.stats.EncodeTimeUs += uint64(encodeTime.Microseconds())
	p.statsMu.Unlock()

	packets, err := p.packetizer.Packetize(&EncodedFrame{
		Data:      encoded.Data,
		FrameType: FrameTypeKey,
		Timestamp: ts,
		Duration:  uint32(samples.SampleCount),
	})
	if err != nil {
		p.handleError(err)
		return
	}

	for _, pkt := range packets {
		if err := p.writer.WriteRTP(pkt); err != nil {
			p.handleError(err)
			continue
		}

		p.statsMu.Lock()
		p.stats.PacketsSent++
		p.stats.BytesSent += uint64(len(pkt.Payload))
		p.statsMu.Unlock()
	}
}

func (p *AudioEncodePipeline) handleError(err error) {
	p.statsMu.Lock()
	p.stats.Errors++
	p.statsMu.Unlock()

	p.mu.Lock()
	cb := p.onError
	p.mu.Unlock()

	if cb != nil {
		go cb(err)
	}
}
