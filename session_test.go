package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// statusLog records destination status callbacks for later inspection.
type statusLog struct {
	mu     sync.Mutex
	events []DestinationStatus
}

func (l *statusLog) record(st DestinationStatus) {
	l.mu.Lock()
	l.events = append(l.events, st)
	l.mu.Unlock()
}

func (l *statusLog) all() []DestinationStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]DestinationStatus, len(l.events))
	copy(out, l.events)
	return out
}

func (l *statusLog) has(id string, state DestinationState) bool {
	for _, ev := range l.all() {
		if ev.ID == id && ev.State == state {
			return true
		}
	}
	return false
}

func (l *statusLog) idsWithState(state DestinationState) []string {
	var ids []string
	for _, ev := range l.all() {
		if ev.State == state {
			ids = append(ids, ev.ID)
		}
	}
	return ids
}

// countingConnector succeeds immediately and counts Close invocations
// per destination.
type countingConnector struct {
	mu     sync.Mutex
	closes map[string]int
}

func newCountingConnector() *countingConnector {
	return &countingConnector{closes: make(map[string]int)}
}

func (c *countingConnector) Connect(ctx context.Context, dest Destination) (*ConnectResult, error) {
	return &ConnectResult{
		Resource: "https://ingest.example/" + dest.ID,
		Close: func(context.Context) error {
			c.mu.Lock()
			c.closes[dest.ID]++
			c.mu.Unlock()
			return nil
		},
	}, nil
}

func (c *countingConnector) closeCount(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes[id]
}

func newTestSession(t *testing.T, comp *FrameCompositor, connector Connector) *SessionController {
	t.Helper()

	session, err := NewSessionController(SessionConfig{Compositor: comp, Connector: connector})
	if err != nil {
		t.Fatalf("NewSessionController failed: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestNewSessionController(t *testing.T) {
	t.Run("requires compositor", func(t *testing.T) {
		if _, err := NewSessionController(SessionConfig{}); err == nil {
			t.Fatal("NewSessionController accepted a nil compositor")
		}
	})

	comp, err := NewFrameCompositor(CompositorConfig{Width: 128, Height: 72, FPS: 30})
	if err != nil {
		t.Fatalf("NewFrameCompositor failed: %v", err)
	}

	t.Run("defaults", func(t *testing.T) {
		session := newTestSession(t, comp, newCountingConnector())

		if session.ID() == "" {
			t.Error("session ID is empty")
		}
		if session.videoCodec != VideoCodecVP9 {
			t.Errorf("video codec = %s, want %s", session.videoCodec, VideoCodecVP9)
		}
		if session.audioCodec != AudioCodecOpus {
			t.Errorf("audio codec = %s, want %s", session.audioCodec, AudioCodecOpus)
		}
		if session.Compositor() != comp {
			t.Error("Compositor() returned a different compositor")
		}
		if session.Output() != comp.Output() {
			t.Error("Output() is not the compositor's frame bus")
		}

		stream := session.OutputStream()
		if want := "studio-" + session.ID()[:8]; stream.ID() != want {
			t.Errorf("stream ID = %q, want %q", stream.ID(), want)
		}
		if got := len(stream.GetTracks()); got != 2 {
			t.Fatalf("stream has %d tracks, want 2", got)
		}
		video := stream.GetVideoTracks()
		if len(video) != 1 || video[0].ID() != "studio-video" {
			t.Errorf("video tracks = %v, want one studio-video track", video)
		}
		audio := stream.GetAudioTracks()
		if len(audio) != 1 || audio[0].ID() != "studio-audio" {
			t.Errorf("audio tracks = %v, want one studio-audio track", audio)
		}
	})

	t.Run("default connector is WHIP", func(t *testing.T) {
		session, err := NewSessionController(SessionConfig{Compositor: comp})
		if err != nil {
			t.Fatalf("NewSessionController failed: %v", err)
		}
		defer session.Close()
		if _, ok := session.connector.(*WHIPConnector); !ok {
			t.Errorf("connector = %T, want *WHIPConnector", session.connector)
		}
	})
}

func TestSessionController_Destinations(t *testing.T) {
	comp, err := NewFrameCompositor(CompositorConfig{Width: 128, Height: 72, FPS: 30})
	if err != nil {
		t.Fatalf("NewFrameCompositor failed: %v", err)
	}
	session := newTestSession(t, comp, newCountingConnector())

	id, err := session.AddDestination(Destination{
		Platform: "youtube",
		URL:      "https://a.rtmp.youtube.com/live2",
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("AddDestination failed: %v", err)
	}
	if id == "" {
		t.Error("AddDestination did not assign an ID")
	}

	if _, err := session.AddDestination(Destination{ID: "twitch-main", Platform: "twitch", URL: "rtmp://live.twitch.tv/app"}); err != nil {
		t.Fatalf("AddDestination failed: %v", err)
	}
	if _, err := session.AddDestination(Destination{ID: "twitch-main"}); err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Errorf("duplicate AddDestination error = %v, want already registered", err)
	}

	if got := len(session.Destinations()); got != 2 {
		t.Fatalf("Destinations() has %d entries, want 2", got)
	}
	states := session.DestinationStates()
	if states[id] != DestinationOffline || states["twitch-main"] != DestinationOffline {
		t.Errorf("initial states = %v, want all offline", states)
	}

	if err := session.SetDestinationEnabled("twitch-main", true); err != nil {
		t.Fatalf("SetDestinationEnabled failed: %v", err)
	}
	for _, d := range session.Destinations() {
		if d.ID == "twitch-main" && !d.Enabled {
			t.Error("SetDestinationEnabled did not stick")
		}
	}
	if err := session.SetDestinationEnabled("ghost", true); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("SetDestinationEnabled(ghost) error = %v, want not found", err)
	}

	if err := session.RemoveDestination("twitch-main"); err != nil {
		t.Fatalf("RemoveDestination failed: %v", err)
	}
	if err := session.RemoveDestination("twitch-main"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("second RemoveDestination error = %v, want not found", err)
	}
	if got := len(session.Destinations()); got != 1 {
		t.Errorf("Destinations() has %d entries after removal, want 1", got)
	}
	if _, ok := session.DestinationStates()["twitch-main"]; ok {
		t.Error("destination state survived removal")
	}
}

func TestSessionController_StartStreamingPreconditions(t *testing.T) {
	registerTestCodecs()
	ctx := context.Background()

	t.Run("no enabled destinations", func(t *testing.T) {
		comp, err := NewFrameCompositor(CompositorConfig{Width: 128, Height: 72, FPS: 30})
		if err != nil {
			t.Fatalf("NewFrameCompositor failed: %v", err)
		}
		session := newTestSession(t, comp, newCountingConnector())

		if err := session.StartStreaming(ctx); !errors.Is(err, ErrNoDestinations) {
			t.Errorf("StartStreaming error = %v, want ErrNoDestinations", err)
		}

		// A disabled destination does not count, and the check precedes
		// the compositor check: the compositor here was never started.
		if _, err := session.AddDestination(Destination{ID: "off", URL: "https://ingest.example/off"}); err != nil {
			t.Fatalf("AddDestination failed: %v", err)
		}
		if err := session.StartStreaming(ctx); !errors.Is(err, ErrNoDestinations) {
			t.Errorf("StartStreaming error = %v, want ErrNoDestinations", err)
		}
	})

	t.Run("compositor not running", func(t *testing.T) {
		comp, err := NewFrameCompositor(CompositorConfig{Width: 128, Height: 72, FPS: 30})
		if err != nil {
			t.Fatalf("NewFrameCompositor failed: %v", err)
		}
		session := newTestSession(t, comp, newCountingConnector())
		if _, err := session.AddDestination(Destination{ID: "d", URL: "https://ingest.example/d", Enabled: true}); err != nil {
			t.Fatalf("AddDestination failed: %v", err)
		}

		if err := session.StartStreaming(ctx); !errors.Is(err, ErrCompositorNotRunning) {
			t.Errorf("StartStreaming error = %v, want ErrCompositorNotRunning", err)
		}
	})

	t.Run("unsupported video codec", func(t *testing.T) {
		comp := newRunningCompositor(t, 30)
		session, err := NewSessionController(SessionConfig{
			Compositor: comp,
			Connector:  newCountingConnector(),
			VideoCodec: VideoCodecH264,
		})
		if err != nil {
			t.Fatalf("NewSessionController failed: %v", err)
		}
		defer session.Close()
		if _, err := session.AddDestination(Destination{ID: "d", URL: "https://ingest.example/d", Enabled: true}); err != nil {
			t.Fatalf("AddDestination failed: %v", err)
		}

		if err := session.StartStreaming(ctx); !errors.Is(err, ErrCodecNotSupported) {
			t.Errorf("StartStreaming error = %v, want ErrCodecNotSupported", err)
		}
		if session.Streaming() {
			t.Error("failed start left the session streaming")
		}
	})

	t.Run("unsupported audio codec", func(t *testing.T) {
		comp := newRunningCompositor(t, 30)
		session, err := NewSessionController(SessionConfig{
			Compositor: comp,
			Connector:  newCountingConnector(),
			AudioCodec: AudioCodecPCM,
		})
		if err != nil {
			t.Fatalf("NewSessionController failed: %v", err)
		}
		defer session.Close()
		if _, err := session.AddDestination(Destination{ID: "d", URL: "https://ingest.example/d", Enabled: true}); err != nil {
			t.Fatalf("AddDestination failed: %v", err)
		}

		if err := session.StartStreaming(ctx); !errors.Is(err, ErrCodecNotSupported) {
			t.Errorf("StartStreaming error = %v, want ErrCodecNotSupported", err)
		}
	})

	t.Run("closed session", func(t *testing.T) {
		comp, err := NewFrameCompositor(CompositorConfig{Width: 128, Height: 72, FPS: 30})
		if err != nil {
			t.Fatalf("NewFrameCompositor failed: %v", err)
		}
		session := newTestSession(t, comp, newCountingConnector())
		if err := session.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		if err := session.StartStreaming(ctx); err == nil || !strings.Contains(err.Error(), "session closed") {
			t.Errorf("StartStreaming error = %v, want session closed", err)
		}
	})
}

func TestSessionController_StreamLifecycle(t *testing.T) {
	registerTestCodecs()
	comp := newRunningCompositor(t, 30)
	connector := newCountingConnector()
	session := newTestSession(t, comp, connector)

	log := &statusLog{}
	session.OnDestinationStatus(log.record)

	for _, id := range []string{"dest-a", "dest-b"} {
		if _, err := session.AddDestination(Destination{
			ID:       id,
			Platform: "custom",
			URL:      "https://ingest.example/" + id,
			Enabled:  true,
		}); err != nil {
			t.Fatalf("AddDestination(%s) failed: %v", id, err)
		}
	}

	if err := session.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming failed: %v", err)
	}
	if !session.Streaming() {
		t.Error("Streaming() = false after StartStreaming")
	}
	if err := session.StartStreaming(context.Background()); err == nil || !strings.Contains(err.Error(), "already streaming") {
		t.Errorf("second StartStreaming error = %v, want already streaming", err)
	}

	waitFor(t, "both destinations live", func() bool {
		return log.has("dest-a", DestinationLive) && log.has("dest-b", DestinationLive)
	})

	states := session.DestinationStates()
	for _, id := range []string{"dest-a", "dest-b"} {
		if states[id] != DestinationLive {
			t.Errorf("state[%s] = %s, want live", id, states[id])
		}
		if !log.has(id, DestinationConnecting) {
			t.Errorf("no connecting event recorded for %s", id)
		}
	}

	stats := session.Stats()
	if !stats.Streaming || stats.Generation != 1 {
		t.Errorf("stats = %+v, want streaming at generation 1", stats)
	}
	if stats.DestinationsTotal != 2 || stats.DestinationsEnabled != 2 || stats.DestinationsLive != 2 {
		t.Errorf("destination counts = %d total / %d enabled / %d live, want 2/2/2",
			stats.DestinationsTotal, stats.DestinationsEnabled, stats.DestinationsLive)
	}

	// The destination list is frozen mid-session.
	if _, err := session.AddDestination(Destination{ID: "late"}); err == nil {
		t.Error("AddDestination succeeded while streaming")
	}
	if err := session.RemoveDestination("dest-a"); err == nil {
		t.Error("RemoveDestination succeeded while streaming")
	}
	if err := session.SetDestinationEnabled("dest-a", false); err == nil {
		t.Error("SetDestinationEnabled succeeded while streaming")
	}

	if err := session.StopStreaming(); err != nil {
		t.Fatalf("StopStreaming failed: %v", err)
	}
	if session.Streaming() {
		t.Error("Streaming() = true after StopStreaming")
	}
	for id, st := range session.DestinationStates() {
		if st != DestinationOffline {
			t.Errorf("state[%s] = %s after stop, want offline", id, st)
		}
	}
	for _, id := range []string{"dest-a", "dest-b"} {
		if got := connector.closeCount(id); got != 1 {
			t.Errorf("close count for %s = %d, want 1", id, got)
		}
	}
	offline := log.idsWithState(DestinationOffline)
	if len(offline) != 2 || offline[0] != "dest-a" || offline[1] != "dest-b" {
		t.Errorf("offline events = %v, want [dest-a dest-b]", offline)
	}

	if err := session.StopStreaming(); err != nil {
		t.Errorf("idle StopStreaming error = %v", err)
	}

	// The session can stream again after a stop.
	if err := session.StartStreaming(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if got := session.Stats().Generation; got != 3 {
		t.Errorf("generation after restart = %d, want 3", got)
	}
	if err := session.StopStreaming(); err != nil {
		t.Fatalf("StopStreaming after restart failed: %v", err)
	}
}

func TestSessionController_DestinationsConnectIndependently(t *testing.T) {
	registerTestCodecs()
	comp := newRunningCompositor(t, 30)

	handshakeErr := errors.New("ingest rejected the stream key")
	connector := newCountingConnector()
	flaky := ConnectorFunc(func(ctx context.Context, dest Destination) (*ConnectResult, error) {
		if dest.ID == "flaky" {
			return nil, handshakeErr
		}
		return connector.Connect(ctx, dest)
	})
	session := newTestSession(t, comp, flaky)

	log := &statusLog{}
	session.OnDestinationStatus(log.record)

	for _, id := range []string{"steady", "flaky"} {
		if _, err := session.AddDestination(Destination{ID: id, URL: "https://ingest.example/" + id, Enabled: true}); err != nil {
			t.Fatalf("AddDestination(%s) failed: %v", id, err)
		}
	}

	if err := session.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming failed: %v", err)
	}

	waitFor(t, "steady live and flaky offline", func() bool {
		return log.has("steady", DestinationLive) && log.has("flaky", DestinationOffline)
	})

	if !session.Streaming() {
		t.Error("one failed handshake ended the session")
	}
	states := session.DestinationStates()
	if states["steady"] != DestinationLive {
		t.Errorf("state[steady] = %s, want live", states["steady"])
	}
	if states["flaky"] != DestinationOffline {
		t.Errorf("state[flaky] = %s, want offline", states["flaky"])
	}
	if got := session.Stats().DestinationsLive; got != 1 {
		t.Errorf("DestinationsLive = %d, want 1", got)
	}

	var flakyErr error
	for _, ev := range log.all() {
		if ev.ID == "flaky" && ev.State == DestinationOffline {
			flakyErr = ev.Err
		}
	}
	if !errors.Is(flakyErr, handshakeErr) {
		t.Errorf("flaky offline Err = %v, want %v", flakyErr, handshakeErr)
	}

	if err := session.StopStreaming(); err != nil {
		t.Fatalf("StopStreaming failed: %v", err)
	}
	if got := connector.closeCount("steady"); got != 1 {
		t.Errorf("close count for steady = %d, want 1", got)
	}
	if got := connector.closeCount("flaky"); got != 0 {
		t.Errorf("close count for flaky = %d, want 0", got)
	}
	offline := log.idsWithState(DestinationOffline)
	if len(offline) != 2 || offline[0] != "flaky" || offline[1] != "steady" {
		t.Errorf("offline events = %v, want [flaky steady]", offline)
	}
}

func TestSessionController_StaleHandshakeDiscarded(t *testing.T) {
	registerTestCodecs()
	comp := newRunningCompositor(t, 30)

	release := make(chan struct{})
	var mu sync.Mutex
	staleCloses := 0
	connector := ConnectorFunc(func(ctx context.Context, dest Destination) (*ConnectResult, error) {
		<-release
		return &ConnectResult{
			Close: func(context.Context) error {
				mu.Lock()
				staleCloses++
				mu.Unlock()
				return nil
			},
		}, nil
	})
	session := newTestSession(t, comp, connector)

	log := &statusLog{}
	session.OnDestinationStatus(log.record)

	if _, err := session.AddDestination(Destination{ID: "slow", URL: "https://ingest.example/slow", Enabled: true}); err != nil {
		t.Fatalf("AddDestination failed: %v", err)
	}
	if err := session.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming failed: %v", err)
	}
	if got := session.DestinationStates()["slow"]; got != DestinationConnecting {
		t.Errorf("state = %s during handshake, want connecting", got)
	}

	if err := session.StopStreaming(); err != nil {
		t.Fatalf("StopStreaming failed: %v", err)
	}
	close(release)

	// The handshake completes against a stale generation: its
	// connection is torn down and no live transition surfaces.
	waitFor(t, "stale connection torn down", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return staleCloses == 1
	})

	if log.has("slow", DestinationLive) {
		t.Error("stale handshake produced a live transition")
	}
	if got := session.DestinationStates()["slow"]; got != DestinationOffline {
		t.Errorf("state = %s after stop, want offline", got)
	}
}

func TestSessionController_AudioInputs(t *testing.T) {
	registerTestCodecs()
	comp := newRunningCompositor(t, 30)
	session := newTestSession(t, comp, newCountingConnector())

	if err := session.AddAudioInput("mic", newFakeAudioSource(), 1.0); err != nil {
		t.Fatalf("AddAudioInput failed: %v", err)
	}
	if err := session.AddAudioInput("mic", newFakeAudioSource(), 1.0); err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Errorf("duplicate AddAudioInput error = %v, want already registered", err)
	}

	for _, tc := range []struct {
		op  string
		err error
	}{
		{"SetAudioGain", session.SetAudioGain("ghost", 0.5)},
		{"SetAudioMuted", session.SetAudioMuted("ghost", true)},
		{"RemoveAudioInput", session.RemoveAudioInput("ghost")},
	} {
		if tc.err == nil || !strings.Contains(tc.err.Error(), "not found") {
			t.Errorf("%s(ghost) error = %v, want not found", tc.op, tc.err)
		}
	}

	// Gain and mute changes reach a live mix graph in place.
	if _, err := session.AddDestination(Destination{ID: "d", URL: "https://ingest.example/d", Enabled: true}); err != nil {
		t.Fatalf("AddDestination failed: %v", err)
	}
	if err := session.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming failed: %v", err)
	}
	node := session.liveGraph.Node("mic")
	if node == nil {
		t.Fatal("live mix graph has no node for the registered input")
	}
	if err := session.SetAudioGain("mic", 0.25); err != nil {
		t.Fatalf("SetAudioGain failed: %v", err)
	}
	if got := node.Gain(); got != 0.25 {
		t.Errorf("live gain = %v, want 0.25", got)
	}
	if err := session.SetAudioMuted("mic", true); err != nil {
		t.Fatalf("SetAudioMuted failed: %v", err)
	}
	if !node.Muted() {
		t.Error("live node not muted after SetAudioMuted")
	}

	// Inputs added mid-session only join the next graph.
	if err := session.AddAudioInput("late", newFakeAudioSource(), 1.0); err != nil {
		t.Fatalf("AddAudioInput while streaming failed: %v", err)
	}
	if session.liveGraph.Node("late") != nil {
		t.Error("live mix graph retrofitted a mid-session input")
	}

	if err := session.StopStreaming(); err != nil {
		t.Fatalf("StopStreaming failed: %v", err)
	}
}

func TestSessionController_ApplyCapture(t *testing.T) {
	comp, err := NewFrameCompositor(CompositorConfig{Width: 128, Height: 72, FPS: 30})
	if err != nil {
		t.Fatalf("NewFrameCompositor failed: %v", err)
	}
	defer comp.Close()
	session := newTestSession(t, comp, newCountingConnector())

	t.Run("granted binds video and audio", func(t *testing.T) {
		result := CaptureResult{
			Outcome: CaptureGranted,
			Video:   newFakeVideoSource(SourceKindCamera),
			Audio:   newFakeAudioSource(),
		}
		if err := session.ApplyCapture(RoleCamera, result); err != nil {
			t.Fatalf("ApplyCapture failed: %v", err)
		}
		if !comp.SourceSet().Camera {
			t.Error("camera role not bound after granted capture")
		}
		// The audio source occupies the role-named input slot.
		if err := session.AddAudioInput("Camera", newFakeAudioSource(), 1.0); err == nil {
			t.Error("role-named audio input still free after granted capture")
		}
	})

	t.Run("device not found degrades silently", func(t *testing.T) {
		result := CaptureResult{Outcome: CaptureDeviceNotFound, Err: ErrDeviceNotFound}
		if err := session.ApplyCapture(RoleScreen, result); err != nil {
			t.Errorf("ApplyCapture = %v, want nil for a missing device", err)
		}
		if comp.SourceSet().Screen {
			t.Error("screen role bound without a source")
		}
	})

	t.Run("denied surfaces", func(t *testing.T) {
		cause := fmt.Errorf("open camera: %w", ErrPermissionDenied)
		err := session.ApplyCapture(RoleScreen, CaptureResult{Outcome: CaptureDenied, Err: cause})
		if !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("ApplyCapture = %v, want ErrPermissionDenied", err)
		}
	})

	t.Run("busy surfaces", func(t *testing.T) {
		err := session.ApplyCapture(RoleScreen, CaptureResult{Outcome: CaptureDeviceBusy, Err: ErrDeviceBusy})
		if !errors.Is(err, ErrDeviceBusy) {
			t.Errorf("ApplyCapture = %v, want ErrDeviceBusy", err)
		}
	})
}

func TestSessionController_RecordingDelegation(t *testing.T) {
	registerTestCodecs()
	comp := newRunningCompositor(t, 30)
	session := newTestSession(t, comp, newCountingConnector())

	if err := session.AddAudioInput("tone", newFakeAudioSource(), 1.0); err != nil {
		t.Fatalf("AddAudioInput failed: %v", err)
	}

	opts := DefaultRecordingOptions()
	opts.ChunkInterval = 25 * time.Millisecond
	if err := session.StartRecording(context.Background(), opts); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if !session.Recording() {
		t.Error("Recording() = false after StartRecording")
	}
	if !session.Stats().RecordingActive {
		t.Error("Stats().RecordingActive = false during recording")
	}
	if got := session.RecorderStats(); !got.Active || got.RecordingID == "" {
		t.Errorf("RecorderStats() = %+v, want active with an ID", got)
	}

	// Gain and mute changes land on the recording's mix graph in place.
	node := session.recorder.Node("tone")
	if node == nil {
		t.Fatal("recording mix graph has no node for the registered input")
	}
	if err := session.SetAudioGain("tone", 0.5); err != nil {
		t.Fatalf("SetAudioGain failed: %v", err)
	}
	if got := node.Gain(); got != 0.5 {
		t.Errorf("recording gain = %v, want 0.5", got)
	}
	if session.recorder.Node("tone") != node {
		t.Error("gain change replaced the recording's gain node")
	}

	waitFor(t, "first recording chunk", func() bool {
		return session.RecorderStats().ChunksDelivered > 0
	})

	artifact, err := session.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	if artifact == nil || artifact.Size == 0 {
		t.Fatalf("artifact = %+v, want non-empty", artifact)
	}
	if session.Recording() {
		t.Error("Recording() = true after StopRecording")
	}
	if again, err := session.StopRecording(); again != nil || err != nil {
		t.Errorf("idle StopRecording = (%v, %v), want (nil, nil)", again, err)
	}
}

func TestSessionController_Close(t *testing.T) {
	registerTestCodecs()
	comp := newRunningCompositor(t, 30)
	connector := newCountingConnector()

	session, err := NewSessionController(SessionConfig{Compositor: comp, Connector: connector})
	if err != nil {
		t.Fatalf("NewSessionController failed: %v", err)
	}

	log := &statusLog{}
	session.OnDestinationStatus(log.record)

	if _, err := session.AddDestination(Destination{ID: "d", URL: "https://ingest.example/d", Enabled: true}); err != nil {
		t.Fatalf("AddDestination failed: %v", err)
	}
	if err := session.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming failed: %v", err)
	}
	waitFor(t, "destination live", func() bool { return log.has("d", DestinationLive) })

	if err := session.StartRecording(context.Background(), DefaultRecordingOptions()); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	videoTrack := session.OutputStream().GetVideoTracks()[0]

	if err := session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if session.Streaming() {
		t.Error("Streaming() = true after Close")
	}
	if session.Recording() {
		t.Error("Recording() = true after Close")
	}
	if got := connector.closeCount("d"); got != 1 {
		t.Errorf("destination close count = %d, want 1", got)
	}
	if got := videoTrack.State(); got != TrackStateEnded {
		t.Errorf("video track state = %s after Close, want ended", got)
	}
	if session.OutputStream().Active() {
		t.Error("output stream still active after Close")
	}

	if err := session.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}
	if err := session.StartStreaming(context.Background()); err == nil || !strings.Contains(err.Error(), "session closed") {
		t.Errorf("StartStreaming after Close error = %v, want session closed", err)
	}
	if err := session.StartRecording(context.Background(), DefaultRecordingOptions()); err == nil || !strings.Contains(err.Error(), "session closed") {
		t.Errorf("StartRecording after Close error = %v, want session closed", err)
	}
}

func TestDestinationState_String(t *testing.T) {
	cases := []struct {
		state DestinationState
		want  string
	}{
		{DestinationOffline, "offline"},
		{DestinationConnecting, "connecting"},
		{DestinationLive, "live"},
		{DestinationState(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("DestinationState(%d).String() = %q, want %q", int(tc.state), got, tc.want)
		}
	}
}
