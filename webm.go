package studio

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"github.com/hashicorp/go-multierror"
)

// DefaultChunkInterval is the target recording chunk cadence.
const DefaultChunkInterval = time.Second

// chunkWriter is an io.WriteCloser that slices the muxed byte stream
// into sink chunks on the chunk interval. Concatenating the chunks in
// order reproduces the full stream. Delivery failures are reported and
// absorbed; the stream keeps going.
type chunkWriter struct {
	sink     OutputSink
	interval time.Duration
	onChunk  func(*Chunk)
	onError  func(error)

	mu        sync.Mutex
	buf       bytes.Buffer
	seq       int
	lastFlush time.Time
	mediaMs   int64
	startMs   int64
	closed    bool
}

func newChunkWriter(sink OutputSink, interval time.Duration, onChunk func(*Chunk), onError func(error)) *chunkWriter {
	if interval <= 0 {
		interval = DefaultChunkInterval
	}
	return &chunkWriter{
		sink:      sink,
		interval:  interval,
		onChunk:   onChunk,
		onError:   onError,
		lastFlush: time.Now(),
		startMs:   -1,
	}
}

// setMediaTime records the media timestamp of the blocks about to be
// written.
func (w *chunkWriter) setMediaTime(ms int64) {
	w.mu.Lock()
	w.mediaMs = ms
	w.mu.Unlock()
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, fmt.Errorf("chunk writer closed")
	}

	if w.startMs < 0 {
		w.startMs = w.mediaMs
	}
	w.buf.Write(p)

	var chunk *Chunk
	if time.Since(w.lastFlush) >= w.interval {
		chunk = w.takeChunkLocked()
	}
	w.mu.Unlock()

	if chunk != nil {
		w.deliver(chunk)
	}
	return len(p), nil
}

func (w *chunkWriter) takeChunkLocked() *Chunk {
	w.lastFlush = time.Now()
	if w.buf.Len() == 0 {
		return nil
	}

	data := make([]byte, w.buf.Len())
	copy(data, w.buf.Bytes())
	w.buf.Reset()

	c := &Chunk{Seq: w.seq, Data: data, Timestamp: w.startMs}
	w.seq++
	w.startMs = -1
	return c
}

// deliver runs without the lock so sink and callback code cannot stall
// the mux.
func (w *chunkWriter) deliver(chunk *Chunk) {
	if err := w.sink.WriteChunk(chunk); err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	if w.onChunk != nil {
		w.onChunk(chunk)
	}
}

// Close flushes the tail chunk.
func (w *chunkWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	chunk := w.takeChunkLocked()
	w.mu.Unlock()

	if chunk != nil {
		w.deliver(chunk)
	}
	return nil
}

// WebMWriterConfig configures the WebM muxer.
type WebMWriterConfig struct {
	VideoCodec VideoCodec
	AudioCodec AudioCodec
	Width      int
	Height     int
	FPS        int
	SampleRate int
	Channels   int

	ChunkInterval time.Duration // Sink flush cadence, default DefaultChunkInterval
	OnChunk       func(*Chunk)  // Called after each delivered chunk
	OnError       func(error)   // Called on absorbed chunk delivery failures
}

// WebMWriter muxes encoded video and Opus audio into a chunked WebM
// stream. Block timestamps are milliseconds from the start of the
// recording and must not decrease per track.
type WebMWriter struct {
	cw     *chunkWriter
	video  webm.BlockWriteCloser
	audio  webm.BlockWriteCloser
	mu     sync.Mutex
	lastMs int64
	closed bool
}

// NewWebMWriter creates a WebM muxer streaming into sink. Codecs
// without a WebM mapping are rejected with ErrCodecNotSupported.
func NewWebMWriter(config WebMWriterConfig, sink OutputSink) (*WebMWriter, error) {
	videoID := config.VideoCodec.WebMCodecID()
	if videoID == "" {
		return nil, fmt.Errorf("%w: %s cannot be muxed into WebM", ErrCodecNotSupported, config.VideoCodec)
	}
	audioID := config.AudioCodec.WebMCodecID()
	if audioID == "" {
		return nil, fmt.Errorf("%w: %s cannot be muxed into WebM", ErrCodecNotSupported, config.AudioCodec)
	}

	if config.FPS <= 0 {
		config.FPS = 30
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	}
	if config.Channels <= 0 {
		config.Channels = 2
	}

	cw := newChunkWriter(sink, config.ChunkInterval, config.OnChunk, config.OnError)

	writers, err := webm.NewSimpleBlockWriter(cw, []webm.TrackEntry{
		{
			Name:            "Video",
			TrackNumber:     1,
			TrackUID:        1,
			CodecID:         videoID,
			TrackType:       1,
			DefaultDuration: uint64(time.Second.Nanoseconds() / int64(config.FPS)),
			Video: &webm.Video{
				PixelWidth:  uint64(config.Width),
				PixelHeight: uint64(config.Height),
			},
		},
		{
			Name:            "Audio",
			TrackNumber:     2,
			TrackUID:        2,
			CodecID:         audioID,
			TrackType:       2,
			DefaultDuration: 20_000_000,
			SeekPreRoll:     80_000_000,
			Audio: &webm.Audio{
				SamplingFrequency: float64(config.SampleRate),
				Channels:          uint64(config.Channels),
			},
		},
	})
	if err != nil {
		cw.Close()
		return nil, fmt.Errorf("webm writer: %w", err)
	}

	return &WebMWriter{cw: cw, video: writers[0], audio: writers[1]}, nil
}

// WriteVideo muxes one encoded video frame at the given media time.
func (w *WebMWriter) WriteVideo(keyframe bool, tsMs int64, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("webm writer closed")
	}
	if tsMs > w.lastMs {
		w.lastMs = tsMs
	}

	w.cw.setMediaTime(tsMs)
	if _, err := w.video.Write(keyframe, tsMs, data); err != nil {
		return fmt.Errorf("webm video block: %w", err)
	}
	return nil
}

// WriteAudio muxes one encoded audio quantum at the given media time.
// Opus quanta are all sync points.
func (w *WebMWriter) WriteAudio(tsMs int64, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("webm writer closed")
	}
	if tsMs > w.lastMs {
		w.lastMs = tsMs
	}

	w.cw.setMediaTime(tsMs)
	if _, err := w.audio.Write(true, tsMs, data); err != nil {
		return fmt.Errorf("webm audio block: %w", err)
	}
	return nil
}

// Duration returns the media duration seen so far.
func (w *WebMWriter) Duration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Duration(w.lastMs) * time.Millisecond
}

// Close finalizes the mux and flushes the tail chunk. Closing the last
// block writer closes the underlying chunk writer.
func (w *WebMWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var result *multierror.Error
	if err := w.video.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.audio.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
