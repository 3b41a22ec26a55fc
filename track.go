package studio

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Re-export pion's RTPCodecType for convenience.
type RTPCodecType = webrtc.RTPCodecType

const (
	RTPCodecTypeUnknown = webrtc.RTPCodecTypeUnknown
	RTPCodecTypeAudio   = webrtc.RTPCodecTypeAudio
	RTPCodecTypeVideo   = webrtc.RTPCodecTypeVideo
)

// TrackState represents the state of a track.
type TrackState int

const (
	TrackStateLive  TrackState = iota // Track is active and producing media
	TrackStateEnded                   // Track has ended
	TrackStateMuted                   // Track is muted (active but not producing)
)

func (s TrackState) String() string {
	switch s {
	case TrackStateLive:
		return "live"
	case TrackStateEnded:
		return "ended"
	case TrackStateMuted:
		return "muted"
	default:
		return "unknown"
	}
}

// MediaStreamTrack is the common surface of program output tracks.
type MediaStreamTrack interface {
	// ID returns the unique identifier for this track.
	ID() string

	// Kind returns the track kind (audio or video) - compatible with pion.
	Kind() RTPCodecType

	// Label returns a human-readable label for the track.
	Label() string

	// State returns the current track state.
	State() TrackState

	// Muted returns whether the track is muted.
	Muted() bool

	// SetMuted sets the muted state.
	SetMuted(muted bool)

	// Enabled returns whether the track is enabled.
	Enabled() bool

	// SetEnabled sets the enabled state.
	SetEnabled(enabled bool)

	// OnEnded sets a callback for when the track ends.
	OnEnded(callback func())

	// Close ends the track.
	Close() error
}

// BaseTrack provides common functionality for tracks.
type BaseTrack struct {
	id       string
	streamID string
	label    string
	kind     RTPCodecType
	state    atomic.Int32
	muted    atomic.Bool
	enabled  atomic.Bool
	endedCb  func()
	mu       sync.RWMutex
}

// NewBaseTrack creates a new base track.
func NewBaseTrack(id, streamID, label string, kind RTPCodecType) *BaseTrack {
	t := &BaseTrack{
		id:       id,
		streamID: streamID,
		label:    label,
		kind:     kind,
	}
	t.state.Store(int32(TrackStateLive))
	t.enabled.Store(true)
	return t
}

func (t *BaseTrack) ID() string         { return t.id }
func (t *BaseTrack) StreamID() string   { return t.streamID }
func (t *BaseTrack) Kind() RTPCodecType { return t.kind }
func (t *BaseTrack) Label() string      { return t.label }

func (t *BaseTrack) State() TrackState {
	return TrackState(t.state.Load())
}

func (t *BaseTrack) SetState(state TrackState) {
	old := TrackState(t.state.Swap(int32(state)))
	if state == TrackStateEnded && old != TrackStateEnded {
		t.mu.RLock()
		cb := t.endedCb
		t.mu.RUnlock()
		if cb != nil {
			go cb()
		}
	}
}

func (t *BaseTrack) Muted() bool       { return t.muted.Load() }
func (t *BaseTrack) SetMuted(m bool)   { t.muted.Store(m) }
func (t *BaseTrack) Enabled() bool     { return t.enabled.Load() }
func (t *BaseTrack) SetEnabled(e bool) { t.enabled.Store(e) }

func (t *BaseTrack) OnEnded(callback func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endedCb = callback
}

// LocalTrack implements pion's webrtc.TrackLocal interface. The encode
// pipelines write RTP packets into it; every bound peer connection
// receives them.
type LocalTrack struct {
	*BaseTrack
	codec    webrtc.RTPCodecCapability
	bindMu   sync.RWMutex
	bindings []webrtc.TrackLocalContext
}

// NewLocalTrack creates a new LocalTrack that implements webrtc.TrackLocal.
func NewLocalTrack(codec webrtc.RTPCodecCapability, id, streamID string) *LocalTrack {
	kind := RTPCodecTypeVideo
	if strings.HasPrefix(codec.MimeType, "audio") {
		kind = RTPCodecTypeAudio
	}
	return &LocalTrack{
		BaseTrack: NewBaseTrack(id, streamID, id, kind),
		codec:     codec,
	}
}

// Codec returns the codec capability.
func (t *LocalTrack) Codec() webrtc.RTPCodecCapability {
	return t.codec
}

// RID implements webrtc.TrackLocal. Simulcast is not used, so the RID
// is always empty.
func (t *LocalTrack) RID() string { return "" }

// Bind implements webrtc.TrackLocal.
func (t *LocalTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	t.bindMu.Lock()
	defer t.bindMu.Unlock()

	t.bindings = append(t.bindings, ctx)

	// Find matching codec from negotiated parameters.
	params := ctx.CodecParameters()
	for _, p := range params {
		if p.MimeType == t.codec.MimeType {
			return p, nil
		}
	}

	// Fallback: return our codec with default payload type.
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: t.codec,
	}, nil
}

// Unbind implements webrtc.TrackLocal.
func (t *LocalTrack) Unbind(ctx webrtc.TrackLocalContext) error {
	t.bindMu.Lock()
	defer t.bindMu.Unlock()

	for i, b := range t.bindings {
		if b.ID() == ctx.ID() {
			t.bindings = append(t.bindings[:i], t.bindings[i+1:]...)
			break
		}
	}
	return nil
}

// BindingCount returns the number of bound peer connections.
func (t *LocalTrack) BindingCount() int {
	t.bindMu.RLock()
	defer t.bindMu.RUnlock()
	return len(t.bindings)
}

// WriteRTP writes an RTP packet to all bound contexts. Muted and
// disabled tracks drop packets silently.
func (t *LocalTrack) WriteRTP(p *rtp.Packet) error {
	if t.Muted() || !t.Enabled() {
		return nil
	}

	t.bindMu.RLock()
	defer t.bindMu.RUnlock()

	for _, b := range t.bindings {
		if _, err := b.WriteStream().WriteRTP(&p.Header, p.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Write writes raw RTP bytes to all bound contexts.
func (t *LocalTrack) Write(b []byte) (int, error) {
	var p rtp.Packet
	if err := p.Unmarshal(b); err != nil {
		return 0, err
	}
	return len(b), t.WriteRTP(&p)
}

// Close implements io.Closer.
func (t *LocalTrack) Close() error {
	t.SetState(TrackStateEnded)
	return nil
}

// Verify LocalTrack satisfies both the pion and studio write surfaces.
var (
	_ webrtc.TrackLocal = (*LocalTrack)(nil)
	_ RTPWriter         = (*LocalTrack)(nil)
	_ MediaStreamTrack  = (*LocalTrack)(nil)
)

// MediaStream is a collection of tracks, modeled on the browser's
// MediaStream. The session exposes its program output as one.
type MediaStream struct {
	id     string
	tracks []MediaStreamTrack
	mu     sync.RWMutex
}

// NewMediaStream creates a new media stream.
func NewMediaStream(id string) *MediaStream {
	return &MediaStream{id: id}
}

func (s *MediaStream) ID() string { return s.id }

// Active returns whether any track in the stream is live.
func (s *MediaStream) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.State() == TrackStateLive {
			return true
		}
	}
	return false
}

// AddTrack adds a track to the stream.
func (s *MediaStream) AddTrack(track MediaStreamTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, track)
	s.mu.Unlock()
}

// RemoveTrack removes a track from the stream.
func (s *MediaStream) RemoveTrack(track MediaStreamTrack) {
	s.mu.Lock()
	for i, t := range s.tracks {
		if t.ID() == track.ID() {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// GetTracks returns all tracks in the stream.
func (s *MediaStream) GetTracks() []MediaStreamTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]MediaStreamTrack, len(s.tracks))
	copy(result, s.tracks)
	return result
}

// GetVideoTracks returns all video tracks.
func (s *MediaStream) GetVideoTracks() []MediaStreamTrack {
	return s.tracksByKind(RTPCodecTypeVideo)
}

// GetAudioTracks returns all audio tracks.
func (s *MediaStream) GetAudioTracks() []MediaStreamTrack {
	return s.tracksByKind(RTPCodecTypeAudio)
}

func (s *MediaStream) tracksByKind(kind RTPCodecType) []MediaStreamTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []MediaStreamTrack
	for _, t := range s.tracks {
		if t.Kind() == kind {
			result = append(result, t)
		}
	}
	return result
}

// GetTrackByID returns a track by its ID, nil if absent.
func (s *MediaStream) GetTrackByID(id string) MediaStreamTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.ID() == id {
			return t
		}
	}
	return nil
}

// Close ends all tracks in the stream.
func (s *MediaStream) Close() error {
	s.mu.Lock()
	tracks := s.tracks
	s.tracks = nil
	s.mu.Unlock()

	var lastErr error
	for _, t := range tracks {
		if err := t.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
