package studio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ToneType defines the waveform a ToneSource produces.
type ToneType int

const (
	ToneSilence ToneType = iota // Silence
	ToneSine                    // Sine wave
	ToneSquare                  // Square wave
	ToneNoise                   // White noise
	ToneSweep                   // Logarithmic frequency sweep
)

func (t ToneType) String() string {
	switch t {
	case ToneSilence:
		return "Silence"
	case ToneSine:
		return "Sine"
	case ToneSquare:
		return "Square"
	case ToneNoise:
		return "Noise"
	case ToneSweep:
		return "Sweep"
	default:
		return "Unknown"
	}
}

// ToneSourceConfig configures a synthetic audio source. Tone sources
// stand in for microphone capture in demos and tests.
type ToneSourceConfig struct {
	SampleRate int      // Sample rate (default: 48000)
	Channels   int      // Channel count (default: 2)
	FrameSize  int      // Samples per quantum (default: 960 = 20ms at 48kHz)
	Tone       ToneType // Waveform
	Frequency  float64  // Tone frequency in Hz (default: 440)
	Amplitude  float64  // Amplitude 0.0-1.0 (default: 0.5)

	// For ToneSweep.
	SweepStartHz  float64
	SweepEndHz    float64
	SweepDuration time.Duration
}

// DefaultToneSourceConfig returns a stereo 48kHz A4 sine configuration.
func DefaultToneSourceConfig() ToneSourceConfig {
	return ToneSourceConfig{
		SampleRate:    48000,
		Channels:      2,
		FrameSize:     960,
		Tone:          ToneSine,
		Frequency:     440.0,
		Amplitude:     0.5,
		SweepStartHz:  200,
		SweepEndHz:    2000,
		SweepDuration: 2 * time.Second,
	}
}

// ToneSource generates synthetic S16LE audio samples. Each quantum is
// written into a fresh buffer so samples already handed downstream are
// never mutated.
type ToneSource struct {
	config ToneSourceConfig

	phase       float64
	sweepPhase  float64
	sampleCount uint64

	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	samplesCh chan *AudioSamples
	doneCh    chan struct{}
	callback  AudioSamplesCallback

	rngState uint64

	mu sync.RWMutex
}

// NewToneSource creates a synthetic audio source.
func NewToneSource(config ToneSourceConfig) *ToneSource {
	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	}
	if config.Channels <= 0 {
		config.Channels = 2
	}
	if config.FrameSize <= 0 {
		config.FrameSize = 960
	}
	if config.Frequency <= 0 {
		config.Frequency = 440.0
	}
	if config.Amplitude <= 0 {
		config.Amplitude = 0.5
	}
	if config.Amplitude > 1.0 {
		config.Amplitude = 1.0
	}

	return &ToneSource{
		config:    config,
		samplesCh: make(chan *AudioSamples, 2),
		rngState:  uint64(time.Now().UnixNano()),
	}
}

// Start begins generating samples.
func (s *ToneSource) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("tone source already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.doneCh = make(chan struct{})
	s.running.Store(true)
	s.sampleCount = 0
	s.phase = 0
	s.sweepPhase = 0

	go s.generateLoop()
	return nil
}

// Stop stops generating samples and waits for the goroutine to exit.
func (s *ToneSource) Stop() error {
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
func (s *ToneSource) Close() error {
	s.Stop()
	s.mu.Lock()
	if s.samplesCh != nil {
		close(s.samplesCh)
		s.samplesCh = nil
	}
	s.mu.Unlock()
	return nil
}

// ReadSamples returns the next samples (blocking).
func (s *ToneSource) ReadSamples(ctx context.Context) (*AudioSamples, error) {
	s.mu.RLock()
	ch := s.samplesCh
	s.mu.RUnlock()
	if ch == nil {
		return nil, fmt.Errorf("tone source closed")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case samples, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("tone source closed")
		}
		return samples, nil
	}
}

// SetCallback switches the source to push mode.
func (s *ToneSource) SetCallback(cb AudioSamplesCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// SampleRate returns the sample rate in Hz.
func (s *ToneSource) SampleRate() int { return s.config.SampleRate }

// Channels returns the channel count.
func (s *ToneSource) Channels() int { return s.config.Channels }

func (s *ToneSource) generateLoop() {
	defer close(s.doneCh)

	quantum := time.Duration(float64(s.config.FrameSize) / float64(s.config.SampleRate) * float64(time.Second))
	ticker := time.NewTicker(quantum)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			data := make([]byte, s.config.FrameSize*s.config.Channels*2)
			s.fill(data)

			samples := &AudioSamples{
				Data:        data,
				SampleRate:  s.config.SampleRate,
				Channels:    s.config.Channels,
				SampleCount: s.config.FrameSize,
				Format:      AudioFormatS16,
				Timestamp:   time.Since(startTime).Nanoseconds(),
			}

			s.mu.RLock()
			cb := s.callback
			ch := s.samplesCh
			s.mu.RUnlock()

			if cb != nil {
				cb(samples)
			} else {
				select {
				case ch <- samples:
				default:
					// Drop if the consumer is behind.
				}
			}

			s.sampleCount += uint64(s.config.FrameSize)
		}
	}
}

func (s *ToneSource) fill(data []byte) {
	switch s.config.Tone {
	case ToneSilence:
		// Zeroed allocation is already silence.
	case ToneSine:
		s.fillSine(data)
	case ToneSquare:
		s.fillSquare(data)
	case ToneNoise:
		s.fillNoise(data)
	case ToneSweep:
		s.fillSweep(data)
	}
}

func (s *ToneSource) fillSine(data []byte) {
	phaseIncrement := 2.0 * math.Pi * s.config.Frequency / float64(s.config.SampleRate)
	amplitude := s.config.Amplitude * 32767.0

	idx := 0
	for i := 0; i < s.config.FrameSize; i++ {
		sample := int16(amplitude * math.Sin(s.phase))
		s.phase += phaseIncrement
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
		idx = writeSampleLE(data, idx, sample, s.config.Channels)
	}
}

func (s *ToneSource) fillSquare(data []byte) {
	phaseIncrement := 2.0 * math.Pi * s.config.Frequency / float64(s.config.SampleRate)
	amplitude := int16(s.config.Amplitude * 32767.0)

	idx := 0
	for i := 0; i < s.config.FrameSize; i++ {
		sample := amplitude
		if math.Sin(s.phase) < 0 {
			sample = -amplitude
		}
		s.phase += phaseIncrement
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
		idx = writeSampleLE(data, idx, sample, s.config.Channels)
	}
}

func (s *ToneSource) fillNoise(data []byte) {
	amplitude := s.config.Amplitude * 32767.0

	idx := 0
	for i := 0; i < s.config.FrameSize; i++ {
		s.rngState ^= s.rngState << 13
		s.rngState ^= s.rngState >> 7
		s.rngState ^= s.rngState << 17

		normalized := (float64(s.rngState)/float64(^uint64(0)))*2.0 - 1.0
		sample := int16(amplitude * normalized)
		idx = writeSampleLE(data, idx, sample, s.config.Channels)
	}
}

func (s *ToneSource) fillSweep(data []byte) {
	sweepSamples := float64(s.config.SampleRate) * s.config.SweepDuration.Seconds()
	progress := math.Mod(float64(s.sampleCount), sweepSamples) / sweepSamples

	logStart := math.Log(s.config.SweepStartHz)
	logEnd := math.Log(s.config.SweepEndHz)
	currentFreq := math.Exp(logStart + progress*(logEnd-logStart))

	phaseIncrement := 2.0 * math.Pi * currentFreq / float64(s.config.SampleRate)
	amplitude := s.config.Amplitude * 32767.0

	idx := 0
	for i := 0; i < s.config.FrameSize; i++ {
		sample := int16(amplitude * math.Sin(s.sweepPhase))
		s.sweepPhase += phaseIncrement
		if s.sweepPhase > 2*math.Pi {
			s.sweepPhase -= 2 * math.Pi
		}
		idx = writeSampleLE(data, idx, sample, s.config.Channels)
	}
}

// writeSampleLE writes one sample to every channel as little-endian S16.
func writeSampleLE(data []byte, idx int, sample int16, channels int) int {
	for c := 0; c < channels; c++ {
		data[idx] = byte(sample)
		data[idx+1] = byte(sample >> 8)
		idx += 2
	}
	return idx
}

func init() {
	RegisterAudioSource(SourceKindTone, func(config interface{}) (AudioSource, error) {
		cfg, ok := config.(*ToneSourceConfig)
		if !ok {
			defaultCfg := DefaultToneSourceConfig()
			cfg = &defaultCfg
		}
		return NewToneSource(*cfg), nil
	})
}
