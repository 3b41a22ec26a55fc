// Package studio implements a real-time compositing and session engine
// for live production: it renders heterogeneous video sources into a
// single canvas under a selectable layout, mixes independently-gained
// audio sources, and drives the lifecycle of streaming destinations and
// local recordings.
//
// Key pieces include:
//   - LayoutEngine: pure placement policy (ComputeLayout, DeriveLayoutSuggestion)
//   - FrameCompositor: render loop, branding overlay, fan-out frame bus
//   - AudioMixGraph: per-session source -> gain -> mix routing
//   - SessionController: destination state machine + recording lifecycle
//   - Recorder/WebMWriter/OutputSink: chunked WebM (VP9/Opus) artifacts
//   - LocalTrack and encode pipelines: composited output as WebRTC tracks over RTP
//
// # Architecture
//
//	Video sources -> FrameCompositor -> FrameBus -> preview / Recorder / live pipelines
//	Audio sources -> AudioMixGraph -> Recorder / live pipelines
//	SessionController -> Connector (per destination), Recorder (at most one)
//
// # Codecs
//
// Recorded artifacts are WebM with VP9 video and Opus audio. Encoder
// implementations are pluggable through the registry in encoder.go;
// availability is checked synchronously when a session starts. Device
// capture is likewise external: callers bind already-acquired sources
// and the engine only classifies acquisition outcomes (see capture.go).
package studio
