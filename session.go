package studio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// ErrNoDestinations is returned by StartStreaming when no enabled
// destination exists.
var ErrNoDestinations = errors.New("no enabled destinations")

// destinationTeardownTimeout bounds connection teardown on stop.
const destinationTeardownTimeout = 5 * time.Second

// Destination is one publishing target.
type Destination struct {
	ID       string // Unique per session, assigned when empty
	Platform string // e.g. "youtube", "twitch", "custom"
	URL      string // Ingest endpoint
	Enabled  bool
}

// DestinationState is the connection state of one destination.
type DestinationState int

const (
	DestinationOffline    DestinationState = iota // Not connected
	DestinationConnecting                         // Handshake in flight
	DestinationLive                               // Publishing
)

func (s DestinationState) String() string {
	switch s {
	case DestinationOffline:
		return "offline"
	case DestinationConnecting:
		return "connecting"
	case DestinationLive:
		return "live"
	default:
		return "unknown"
	}
}

// DestinationStatus is a destination state-change event.
type DestinationStatus struct {
	ID    string
	State DestinationState
	Err   error // Set when a handshake failed
}

// SessionStats is a snapshot of session state for observability.
type SessionStats struct {
	SessionID              string
	Streaming              bool
	Generation             uint64
	DestinationsTotal      int
	DestinationsEnabled    int
	DestinationsConnecting int
	DestinationsLive       int
	RecordingActive        bool
}

// SessionConfig configures a SessionController.
type SessionConfig struct {
	// Compositor supplies the program video. Required.
	Compositor *FrameCompositor

	// Connector performs destination handshakes. Defaults to a
	// WHIPConnector publishing the session's output stream.
	Connector Connector

	// Codecs for the live output path and recording defaults.
	VideoCodec VideoCodec
	AudioCodec AudioCodec

	// BearerToken and ICEServers configure the default WHIP
	// connector. Ignored when Connector is set.
	BearerToken string
	ICEServers  []webrtc.ICEServer

	Logger *zap.Logger
}

// SessionController coordinates the engine: it owns destination and
// recording lifecycles and exposes the program output. The compositor
// itself belongs to the caller.
type SessionController struct {
	id         string
	compositor *FrameCompositor
	connector  Connector
	recorder   *Recorder
	logger     *zap.Logger
	videoCodec VideoCodec
	audioCodec AudioCodec

	stream     *MediaStream
	videoTrack *LocalTrack
	audioTrack *LocalTrack

	mu            sync.Mutex
	destinations  []Destination
	destStates    map[string]DestinationState
	audioInputs   []AudioInput
	streaming     bool
	generation    uint64
	sessionCancel context.CancelFunc
	conns         map[string]*ConnectResult
	liveGraph     *AudioMixGraph
	videoPipe     *VideoEncodePipeline
	audioPipe     *AudioEncodePipeline
	busName       string
	closed        bool

	onStatus func(DestinationStatus)
}

// NewSessionController creates a session around a compositor.
func NewSessionController(config SessionConfig) (*SessionController, error) {
	if config.Compositor == nil {
		return nil, fmt.Errorf("session: compositor is required")
	}
	if config.VideoCodec == 0 {
		config.VideoCodec = VideoCodecVP9
	}
	if config.AudioCodec == 0 {
		config.AudioCodec = AudioCodecOpus
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &SessionController{
		id:         uuid.NewString(),
		compositor: config.Compositor,
		logger:     logger,
		videoCodec: config.VideoCodec,
		audioCodec: config.AudioCodec,
		destStates: make(map[string]DestinationState),
	}

	s.stream = NewMediaStream("studio-" + s.id[:8])
	s.videoTrack = NewLocalTrack(videoCapability(config.VideoCodec), "studio-video", s.stream.ID())
	s.audioTrack = NewLocalTrack(audioCapability(config.AudioCodec), "studio-audio", s.stream.ID())
	s.stream.AddTrack(s.videoTrack)
	s.stream.AddTrack(s.audioTrack)

	if config.Connector != nil {
		s.connector = config.Connector
	} else {
		whip, err := NewWHIPConnector(WHIPConnectorConfig{
			Stream:      s.stream,
			BearerToken: config.BearerToken,
			ICEServers:  config.ICEServers,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		s.connector = whip
	}

	s.recorder = NewRecorder(RecorderConfig{
		Compositor:  config.Compositor,
		AudioInputs: s.snapshotAudioInputs,
		Logger:      logger,
	})

	return s, nil
}

// ID returns the session identifier.
func (s *SessionController) ID() string { return s.id }

// Compositor returns the compositor the session consumes.
func (s *SessionController) Compositor() *FrameCompositor { return s.compositor }

// Output returns the composited frame bus.
func (s *SessionController) Output() *FrameBus { return s.compositor.Output() }

// OutputStream returns the program output as a media stream: one
// composited video track and one mixed audio track.
func (s *SessionController) OutputStream() *MediaStream { return s.stream }

// OnDestinationStatus sets the destination state-change callback.
func (s *SessionController) OnDestinationStatus(cb func(DestinationStatus)) {
	s.mu.Lock()
	s.onStatus = cb
	s.mu.Unlock()
}

// OnRecordingEvent sets the recording lifecycle callback.
func (s *SessionController) OnRecordingEvent(cb func(RecordingEvent)) {
	s.recorder.OnEvent(cb)
}

// AddDestination registers a publishing target. An empty ID is
// assigned. Destinations cannot change while streaming.
func (s *SessionController) AddDestination(dest Destination) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming {
		return "", fmt.Errorf("cannot modify destinations while streaming")
	}
	if dest.ID == "" {
		dest.ID = uuid.NewString()
	}
	for _, d := range s.destinations {
		if d.ID == dest.ID {
			return "", fmt.Errorf("destination %q already registered", dest.ID)
		}
	}

	s.destinations = append(s.destinations, dest)
	s.destStates[dest.ID] = DestinationOffline
	return dest.ID, nil
}

// RemoveDestination removes a publishing target.
func (s *SessionController) RemoveDestination(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming {
		return fmt.Errorf("cannot modify destinations while streaming")
	}
	for i, d := range s.destinations {
		if d.ID == id {
			s.destinations = append(s.destinations[:i], s.destinations[i+1:]...)
			delete(s.destStates, id)
			return nil
		}
	}
	return fmt.Errorf("destination %q not found", id)
}

// SetDestinationEnabled toggles a destination for the next session.
func (s *SessionController) SetDestinationEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming {
		return fmt.Errorf("cannot modify destinations while streaming")
	}
	for i, d := range s.destinations {
		if d.ID == id {
			s.destinations[i].Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("destination %q not found", id)
}

// Destinations returns a snapshot of the destination list.
func (s *SessionController) Destinations() []Destination {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Destination, len(s.destinations))
	copy(out, s.destinations)
	return out
}

// DestinationStates returns a snapshot of per-destination states.
func (s *SessionController) DestinationStates() map[string]DestinationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]DestinationState, len(s.destStates))
	for id, st := range s.destStates {
		out[id] = st
	}
	return out
}

// AddAudioInput registers an audio source with its gain stage. Takes
// effect on the next streaming session or recording; a live mix graph
// is not retrofitted.
func (s *SessionController) AddAudioInput(id string, src AudioSource, gain float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range s.audioInputs {
		if in.ID == id {
			return fmt.Errorf("audio input %q already registered", id)
		}
	}
	s.audioInputs = append(s.audioInputs, AudioInput{ID: id, Source: src, Gain: gain})
	return nil
}

// RemoveAudioInput unregisters an audio source.
func (s *SessionController) RemoveAudioInput(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, in := range s.audioInputs {
		if in.ID == id {
			s.audioInputs = append(s.audioInputs[:i], s.audioInputs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("audio input %q not found", id)
}

// SetAudioGain adjusts a gain stage, applying immediately to the live
// mix graph and the active recording's graph when either is running.
// The recorder node is touched outside s.mu: Recorder.Start snapshots
// the inputs under its own lock.
func (s *SessionController) SetAudioGain(id string, gain float64) error {
	s.mu.Lock()
	found := false
	for i, in := range s.audioInputs {
		if in.ID == id {
			s.audioInputs[i].Gain = gain
			if s.liveGraph != nil {
				if node := s.liveGraph.Node(id); node != nil {
					node.SetGain(gain)
				}
			}
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("audio input %q not found", id)
	}
	if node := s.recorder.Node(id); node != nil {
		node.SetGain(gain)
	}
	return nil
}

// SetAudioMuted mutes or unmutes a gain stage, applying immediately to
// the live mix graph and the active recording's graph when either is
// running.
func (s *SessionController) SetAudioMuted(id string, muted bool) error {
	s.mu.Lock()
	found := false
	for i, in := range s.audioInputs {
		if in.ID == id {
			s.audioInputs[i].Muted = muted
			if s.liveGraph != nil {
				if node := s.liveGraph.Node(id); node != nil {
					node.SetMuted(muted)
				}
			}
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("audio input %q not found", id)
	}
	if node := s.recorder.Node(id); node != nil {
		node.SetMuted(muted)
	}
	return nil
}

// ApplyCapture reacts to a device acquisition outcome. A granted
// result binds its video source to the role and registers its audio
// source, when present, under the role name at unity gain. A missing
// device leaves the role unbound and the compositor keeps rendering
// its placeholder; denied and busy outcomes surface to the caller.
func (s *SessionController) ApplyCapture(role SourceRole, result CaptureResult) error {
	switch result.Outcome {
	case CaptureGranted:
	case CaptureDeviceNotFound:
		s.logger.Info("capture device missing, role stays unbound",
			zap.Stringer("role", role),
			zap.Error(result.Err))
		return nil
	default:
		if result.Err != nil {
			return fmt.Errorf("capture %s: %w", role, result.Err)
		}
		return fmt.Errorf("capture %s: %s", role, result.Outcome)
	}

	if result.Video != nil {
		if err := s.compositor.BindSource(role, result.Video); err != nil {
			return fmt.Errorf("bind %s capture: %w", role, err)
		}
	}
	if result.Audio != nil {
		if err := s.AddAudioInput(role.String(), result.Audio, 1.0); err != nil {
			return err
		}
	}
	return nil
}

func (s *SessionController) snapshotAudioInputs() []AudioInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AudioInput, len(s.audioInputs))
	copy(out, s.audioInputs)
	return out
}

// Streaming reports whether a streaming session is active.
func (s *SessionController) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Stats returns a snapshot of session state.
func (s *SessionController) Stats() SessionStats {
	s.mu.Lock()
	stats := SessionStats{
		SessionID:         s.id,
		Streaming:         s.streaming,
		Generation:        s.generation,
		DestinationsTotal: len(s.destinations),
	}
	for _, d := range s.destinations {
		if d.Enabled {
			stats.DestinationsEnabled++
		}
	}
	for _, st := range s.destStates {
		switch st {
		case DestinationConnecting:
			stats.DestinationsConnecting++
		case DestinationLive:
			stats.DestinationsLive++
		}
	}
	s.mu.Unlock()

	stats.RecordingActive = s.recorder.Active()
	return stats
}

// StartStreaming connects every enabled destination and starts the
// live encode pipelines. Preconditions are checked before any state
// mutates; a failed precondition leaves the session untouched.
func (s *SessionController) StartStreaming(ctx context.Context) error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session closed")
	}
	if s.streaming {
		s.mu.Unlock()
		return fmt.Errorf("session already streaming")
	}

	var enabled []Destination
	for _, d := range s.destinations {
		if d.Enabled {
			enabled = append(enabled, d)
		}
	}
	if len(enabled) == 0 {
		s.mu.Unlock()
		return ErrNoDestinations
	}
	if s.compositor == nil || !s.compositor.Running() {
		s.mu.Unlock()
		return ErrCompositorNotRunning
	}
	if !IsVideoCodecSupported(s.videoCodec) {
		s.mu.Unlock()
		return fmt.Errorf("%w: no video encoder for %s", ErrCodecNotSupported, s.videoCodec)
	}
	if !IsAudioCodecSupported(s.audioCodec) {
		s.mu.Unlock()
		return fmt.Errorf("%w: no audio encoder for %s", ErrCodecNotSupported, s.audioCodec)
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	if err := s.startLiveLocked(sessionCtx); err != nil {
		cancel()
		s.mu.Unlock()
		return err
	}

	s.streaming = true
	s.generation++
	s.sessionCancel = cancel
	s.conns = make(map[string]*ConnectResult)
	gen := s.generation

	for _, d := range enabled {
		s.destStates[d.ID] = DestinationConnecting
	}
	s.mu.Unlock()

	s.logger.Info("streaming started",
		zap.String("session_id", s.id),
		zap.Int("destinations", len(enabled)))

	for _, d := range enabled {
		dest := d
		go s.connectDestination(sessionCtx, gen, dest)
	}
	return nil
}

// startLiveLocked builds the live mix graph and encode pipelines.
// Called with s.mu held; unwinds fully on failure.
func (s *SessionController) startLiveLocked(ctx context.Context) error {
	graph := NewAudioMixGraph(AudioMixConfig{
		SampleRate: 48000,
		Channels:   2,
		Logger:     s.logger,
	})
	for _, in := range s.audioInputs {
		node, err := graph.AddSource(in.ID, in.Source, in.Gain)
		if err != nil {
			s.logger.Warn("live mix skipped audio input",
				zap.String("input_id", in.ID),
				zap.Error(err))
			continue
		}
		if node != nil && in.Muted {
			node.SetMuted(true)
		}
	}

	comp := s.compositor.Config()
	videoEnc, err := NewVideoEncoder(VideoEncoderConfig{
		Codec:  s.videoCodec,
		Width:  comp.Width,
		Height: comp.Height,
		FPS:    comp.FPS,
	})
	if err != nil {
		graph.Stop()
		return err
	}
	audioEnc, err := NewAudioEncoder(AudioEncoderConfig{
		Codec:      s.audioCodec,
		SampleRate: 48000,
		Channels:   2,
	})
	if err != nil {
		videoEnc.Close()
		graph.Stop()
		return err
	}

	busName := "live-" + s.id[:8]
	frames, err := s.compositor.Output().Subscribe(busName, 4)
	if err != nil {
		audioEnc.Close()
		videoEnc.Close()
		graph.Stop()
		return fmt.Errorf("subscribe compositor output: %w", err)
	}

	unwind := func() {
		s.compositor.Output().Unsubscribe(busName)
		audioEnc.Close()
		videoEnc.Close()
		graph.Stop()
	}

	videoPkt, err := CreateVideoPacketizer(s.videoCodec, newSSRC(), s.videoCodec.DefaultPayloadType(), DefaultMTU)
	if err != nil {
		unwind()
		return err
	}
	audioPkt, err := CreateAudioPacketizer(s.audioCodec, newSSRC(), s.audioCodec.DefaultPayloadType(), DefaultMTU)
	if err != nil {
		unwind()
		return err
	}

	onPipeErr := func(err error) {
		s.logger.Debug("live pipeline error", zap.Error(err))
	}

	videoPipe, err := NewVideoEncodePipeline(VideoPipelineConfig{
		Frames:     frames,
		Encoder:    videoEnc,
		Packetizer: videoPkt,
		Writer:     s.videoTrack,
		OnError:    onPipeErr,
	})
	if err != nil {
		unwind()
		return err
	}
	audioPipe, err := NewAudioEncodePipeline(AudioPipelineConfig{
		Source:     graph,
		Encoder:    audioEnc,
		Packetizer: audioPkt,
		Writer:     s.audioTrack,
		OnError:    onPipeErr,
	})
	if err != nil {
		unwind()
		return err
	}

	if err := graph.Start(ctx); err != nil {
		unwind()
		return fmt.Errorf("start live mix graph: %w", err)
	}
	if err := videoPipe.Start(); err != nil {
		unwind()
		return fmt.Errorf("start video pipeline: %w", err)
	}
	if err := audioPipe.Start(); err != nil {
		videoPipe.Stop()
		unwind()
		return fmt.Errorf("start audio pipeline: %w", err)
	}

	s.liveGraph = graph
	s.videoPipe = videoPipe
	s.audioPipe = audioPipe
	s.busName = busName
	return nil
}

// connectDestination runs one handshake. A result arriving after the
// session generation moved on is discarded without a live transition.
func (s *SessionController) connectDestination(ctx context.Context, gen uint64, dest Destination) {
	s.emitStatus(DestinationStatus{ID: dest.ID, State: DestinationConnecting})

	result, err := s.connector.Connect(ctx, dest)

	s.mu.Lock()
	stale := s.generation != gen || !s.streaming
	if stale {
		s.mu.Unlock()
		if result != nil {
			teardownCtx, cancel := context.WithTimeout(context.Background(), destinationTeardownTimeout)
			defer cancel()
			result.Close(teardownCtx)
		}
		return
	}

	if err != nil {
		s.destStates[dest.ID] = DestinationOffline
		s.mu.Unlock()
		s.logger.Warn("destination handshake failed",
			zap.String("destination_id", dest.ID),
			zap.String("platform", dest.Platform),
			zap.Error(err))
		s.emitStatus(DestinationStatus{ID: dest.ID, State: DestinationOffline, Err: err})
		return
	}

	s.conns[dest.ID] = result
	s.destStates[dest.ID] = DestinationLive
	s.mu.Unlock()

	s.logger.Info("destination live",
		zap.String("destination_id", dest.ID),
		zap.String("platform", dest.Platform))
	s.emitStatus(DestinationStatus{ID: dest.ID, State: DestinationLive})
}

// StopStreaming ends the streaming session. Every destination returns
// to offline immediately; a handshake completing afterwards observes
// the stale generation and is discarded. Stopping an idle session is a
// no-op.
func (s *SessionController) StopStreaming() error {
	s.mu.Lock()
	if !s.streaming {
		s.mu.Unlock()
		return nil
	}

	s.streaming = false
	s.generation++
	cancel := s.sessionCancel
	s.sessionCancel = nil
	conns := s.conns
	s.conns = nil
	graph := s.liveGraph
	s.liveGraph = nil
	videoPipe := s.videoPipe
	audioPipe := s.audioPipe
	s.videoPipe = nil
	s.audioPipe = nil
	busName := s.busName
	s.busName = ""

	var wentOffline []string
	for id, st := range s.destStates {
		if st != DestinationOffline {
			s.destStates[id] = DestinationOffline
			wentOffline = append(wentOffline, id)
		}
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var result *multierror.Error
	if videoPipe != nil {
		if err := videoPipe.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if audioPipe != nil {
		if err := audioPipe.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if graph != nil {
		if err := graph.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if busName != "" {
		s.compositor.Output().Unsubscribe(busName)
	}

	teardownCtx, cancelTeardown := context.WithTimeout(context.Background(), destinationTeardownTimeout)
	defer cancelTeardown()
	for id, conn := range conns {
		if err := conn.Close(teardownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("destination %s teardown: %w", id, err))
		}
	}

	sort.Strings(wentOffline)
	for _, id := range wentOffline {
		s.emitStatus(DestinationStatus{ID: id, State: DestinationOffline})
	}

	s.logger.Info("streaming stopped", zap.String("session_id", s.id))
	return result.ErrorOrNil()
}

// StartRecording begins a local recording. See Recorder.Start for the
// precondition contract.
func (s *SessionController) StartRecording(ctx context.Context, opts RecordingOptions) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("session closed")
	}
	return s.recorder.Start(ctx, opts)
}

// StopRecording finalizes the active recording. Without an active
// recording it returns (nil, nil).
func (s *SessionController) StopRecording() (*Artifact, error) {
	return s.recorder.Stop()
}

// Recording reports whether a recording is active.
func (s *SessionController) Recording() bool {
	return s.recorder.Active()
}

// RecorderStats returns a snapshot of recorder counters.
func (s *SessionController) RecorderStats() RecorderStats {
	return s.recorder.Stats()
}

// Close stops streaming and recording and ends the output tracks.
// Teardown failures are aggregated.
func (s *SessionController) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var result *multierror.Error
	if err := s.StopStreaming(); err != nil {
		result = multierror.Append(result, err)
	}
	if artifact, err := s.recorder.Stop(); err != nil {
		result = multierror.Append(result, err)
	} else if artifact != nil {
		s.logger.Info("recording finalized on close", zap.String("artifact", artifact.Name))
	}
	if err := s.stream.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (s *SessionController) emitStatus(st DestinationStatus) {
	s.mu.Lock()
	cb := s.onStatus
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// newSSRC derives a random RTP SSRC.
func newSSRC() uint32 {
	u := uuid.New()
	return binary.BigEndian.Uint32(u[0:4])
}

func videoCapability(codec VideoCodec) webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:  codec.MimeType(),
		ClockRate: codec.ClockRate(),
	}
}

func audioCapability(codec AudioCodec) webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    codec.MimeType(),
		ClockRate:   codec.ClockRate(),
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
}
