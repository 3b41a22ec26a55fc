package studio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrGraphClosed is returned when starting or mutating a graph that
// has been stopped. Graphs are single-use; a new session builds a
// fresh one.
var ErrGraphClosed = errors.New("audio mix graph closed")

// AudioMixConfig configures an AudioMixGraph.
type AudioMixConfig struct {
	SampleRate int // Sample rate (default: 48000)
	Channels   int // Channel count (default: 2)
	FrameSize  int // Samples per quantum (default: 960 = 20ms at 48kHz)
	Logger     *zap.Logger
}

// DefaultAudioMixConfig returns a stereo 48kHz 20ms-quantum config.
func DefaultAudioMixConfig() AudioMixConfig {
	return AudioMixConfig{
		SampleRate: 48000,
		Channels:   2,
		FrameSize:  960,
	}
}

// GainNode is one source's gain stage. Gain and mute changes apply
// atomically in place; node identity is stable for the life of its
// graph.
type GainNode struct {
	id     string
	source AudioSource

	gainBits atomic.Uint64
	muted    atomic.Bool

	mu      sync.Mutex
	pending *AudioSamples
}

// ID returns the node's source identifier.
func (n *GainNode) ID() string { return n.id }

// SetGain sets the gain, clamped to [0, 1].
func (n *GainNode) SetGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	if gain > 1 {
		gain = 1
	}
	n.gainBits.Store(math.Float64bits(gain))
}

// Gain returns the current gain.
func (n *GainNode) Gain() float64 {
	return math.Float64frombits(n.gainBits.Load())
}

// SetMuted mutes or unmutes the node.
func (n *GainNode) SetMuted(muted bool) { n.muted.Store(muted) }

// Muted reports whether the node is muted.
func (n *GainNode) Muted() bool { return n.muted.Load() }

func (n *GainNode) push(samples *AudioSamples) {
	n.mu.Lock()
	n.pending = samples
	n.mu.Unlock()
}

func (n *GainNode) take() *AudioSamples {
	n.mu.Lock()
	s := n.pending
	n.pending = nil
	n.mu.Unlock()
	return s
}

// Graph lifecycle states.
const (
	graphCreated int32 = iota
	graphRunning
	graphClosed
)

// AudioMixGraph routes sources through independent gain stages into a
// single mixed S16 output. One mix loop per graph, one graph per
// session. The graph implements AudioSource so encoders and recorders
// consume it like any other source.
//
// Each 20ms quantum the loop takes the pending samples from every
// node, scales them by node gain, sums with saturation clamping, and
// emits one mixed AudioSamples. Sources that delivered nothing this
// quantum contribute silence.
type AudioMixGraph struct {
	config AudioMixConfig
	logger *zap.Logger

	nodesMu sync.RWMutex
	nodes   map[string]*GainNode

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}

	outCh    chan *AudioSamples
	outChMu  sync.RWMutex
	callback AudioSamplesCallback
	cbMu     sync.RWMutex

	quantaMixed atomic.Uint64
}

var _ AudioSource = (*AudioMixGraph)(nil)

// NewAudioMixGraph creates an empty graph.
func NewAudioMixGraph(config AudioMixConfig) *AudioMixGraph {
	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	}
	if config.Channels <= 0 {
		config.Channels = 2
	}
	if config.FrameSize <= 0 {
		config.FrameSize = 960
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &AudioMixGraph{
		config: config,
		logger: config.Logger,
		nodes:  make(map[string]*GainNode),
		outCh:  make(chan *AudioSamples, 2),
	}
}

// AddSource adds a source behind a new gain stage and returns its
// node. A nil source has no audio capability and is silently omitted:
// AddSource returns (nil, nil) and the mix is unaffected.
func (g *AudioMixGraph) AddSource(id string, src AudioSource, gain float64) (*GainNode, error) {
	if src == nil {
		return nil, nil
	}
	if g.state.Load() == graphClosed {
		return nil, ErrGraphClosed
	}

	node := &GainNode{id: id, source: src}
	node.SetGain(gain)

	g.nodesMu.Lock()
	if _, ok := g.nodes[id]; ok {
		g.nodesMu.Unlock()
		return nil, fmt.Errorf("mix graph: source %q already added", id)
	}
	g.nodes[id] = node
	g.nodesMu.Unlock()

	src.SetCallback(node.push)

	g.logger.Debug("mix source added", zap.String("id", id), zap.Float64("gain", gain))
	return node, nil
}

// Node returns the gain node for a source id, or nil.
func (g *AudioMixGraph) Node(id string) *GainNode {
	g.nodesMu.RLock()
	defer g.nodesMu.RUnlock()
	return g.nodes[id]
}

// Start spawns the mix loop. A stopped graph cannot be restarted.
func (g *AudioMixGraph) Start(ctx context.Context) error {
	switch g.state.Load() {
	case graphClosed:
		return ErrGraphClosed
	case graphRunning:
		return fmt.Errorf("mix graph already running")
	}

	g.ctx, g.cancel = context.WithCancel(ctx)
	g.doneCh = make(chan struct{})
	g.state.Store(graphRunning)

	go g.mixLoop()

	g.logger.Info("mix graph started",
		zap.Int("sample_rate", g.config.SampleRate),
		zap.Int("channels", g.config.Channels))
	return nil
}

// Stop tears every node down and closes the output. Idempotent; the
// graph is unusable afterwards.
func (g *AudioMixGraph) Stop() error {
	prev := g.state.Swap(graphClosed)
	if prev == graphClosed {
		return nil
	}

	if prev == graphRunning {
		g.cancel()
		<-g.doneCh
	}

	g.nodesMu.Lock()
	for id, node := range g.nodes {
		node.source.SetCallback(nil)
		node.take()
		delete(g.nodes, id)
	}
	g.nodesMu.Unlock()

	g.outChMu.Lock()
	if g.outCh != nil {
		close(g.outCh)
		g.outCh = nil
	}
	g.outChMu.Unlock()

	g.logger.Info("mix graph stopped", zap.Uint64("quanta", g.quantaMixed.Load()))
	return nil
}

// Close implements io.Closer.
func (g *AudioMixGraph) Close() error { return g.Stop() }

// ReadSamples returns the next mixed quantum (blocking).
func (g *AudioMixGraph) ReadSamples(ctx context.Context) (*AudioSamples, error) {
	g.outChMu.RLock()
	ch := g.outCh
	g.outChMu.RUnlock()
	if ch == nil {
		return nil, ErrGraphClosed
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case samples, ok := <-ch:
		if !ok {
			return nil, ErrGraphClosed
		}
		return samples, nil
	}
}

// SetCallback switches mixed output to push mode.
func (g *AudioMixGraph) SetCallback(cb AudioSamplesCallback) {
	g.cbMu.Lock()
	g.callback = cb
	g.cbMu.Unlock()
}

// SampleRate returns the mix sample rate in Hz.
func (g *AudioMixGraph) SampleRate() int { return g.config.SampleRate }

// Channels returns the mix channel count.
func (g *AudioMixGraph) Channels() int { return g.config.Channels }

// QuantaMixed returns the number of quanta emitted.
func (g *AudioMixGraph) QuantaMixed() uint64 { return g.quantaMixed.Load() }

func (g *AudioMixGraph) mixLoop() {
	defer close(g.doneCh)

	quantum := time.Duration(float64(g.config.FrameSize) / float64(g.config.SampleRate) * float64(time.Second))
	ticker := time.NewTicker(quantum)
	defer ticker.Stop()

	startTime := time.Now()
	acc := make([]int32, g.config.FrameSize*g.config.Channels)

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			g.mixQuantum(acc, time.Since(startTime).Nanoseconds())
		}
	}
}

func (g *AudioMixGraph) mixQuantum(acc []int32, ts int64) {
	for i := range acc {
		acc[i] = 0
	}

	g.nodesMu.RLock()
	nodes := make([]*GainNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, node)
	}
	g.nodesMu.RUnlock()

	for _, node := range nodes {
		samples := node.take()
		if samples == nil || node.Muted() {
			continue
		}
		gain := node.Gain()
		if gain == 0 {
			continue
		}
		g.accumulate(acc, samples, gain)
	}

	out := make([]byte, len(acc)*2)
	for i, v := range acc {
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}

	mixed := &AudioSamples{
		Data:        out,
		SampleRate:  g.config.SampleRate,
		Channels:    g.config.Channels,
		SampleCount: g.config.FrameSize,
		Format:      AudioFormatS16,
		Timestamp:   ts,
	}

	g.cbMu.RLock()
	cb := g.callback
	g.cbMu.RUnlock()

	if cb != nil {
		cb(mixed)
	} else {
		g.outChMu.RLock()
		if g.outCh != nil {
			select {
			case g.outCh <- mixed:
			default:
				// Consumer is behind; drop.
			}
		}
		g.outChMu.RUnlock()
	}

	g.quantaMixed.Add(1)
}

// accumulate adds gain-scaled samples into the accumulator. Mono
// sources feed every output channel; mismatched rates or formats are
// skipped rather than resampled.
func (g *AudioMixGraph) accumulate(acc []int32, samples *AudioSamples, gain float64) {
	if samples.Format != AudioFormatS16 || samples.SampleRate != g.config.SampleRate {
		return
	}

	frames := samples.SampleCount
	if frames > g.config.FrameSize {
		frames = g.config.FrameSize
	}
	srcCh := samples.Channels
	if srcCh <= 0 {
		return
	}

	for i := 0; i < frames; i++ {
		for c := 0; c < g.config.Channels; c++ {
			sc := c
			if sc >= srcCh {
				sc = srcCh - 1
			}
			off := (i*srcCh + sc) * 2
			if off+1 >= len(samples.Data) {
				return
			}
			s := int16(uint16(samples.Data[off]) | uint16(samples.Data[off+1])<<8)
			acc[i*g.config.Channels+c] += int32(float64(s) * gain)
		}
	}
}
