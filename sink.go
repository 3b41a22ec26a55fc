package studio

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Chunk is one muxed slice of an in-progress recording. Chunks arrive
// in order from the recorder goroutine.
type Chunk struct {
	Seq       int    // Sequence number, starting at 0
	Data      []byte // Muxed container bytes
	Timestamp int64  // Media time at the start of the chunk, in ms
}

// Artifact describes a finalized recording.
type Artifact struct {
	Name      string        // Artifact name, e.g. recording-2026-01-02T15:04:05Z.webm
	Path      string        // Local path for file-backed sinks, empty otherwise
	Size      int64         // Total bytes
	Duration  time.Duration // Media duration
	Chunks    int           // Chunks delivered
	CreatedAt time.Time
}

// OutputSink receives muxed recording chunks and seals them into one
// artifact. Network relays implement this outside the engine.
type OutputSink interface {
	// WriteChunk delivers one muxed chunk.
	WriteChunk(chunk *Chunk) error

	// Finalize flushes buffered data and seals the artifact under the
	// given name. Called at most once; the sink is unusable after.
	Finalize(name string) (*Artifact, error)
}

// BufferSink accumulates the recording in memory.
type BufferSink struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	chunks    int
	finalized bool
}

// NewBufferSink creates an in-memory sink.
func NewBufferSink() *BufferSink {
	return &BufferSink{}
}

// WriteChunk appends the chunk to the in-memory buffer.
func (s *BufferSink) WriteChunk(chunk *Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return fmt.Errorf("buffer sink already finalized")
	}
	s.buf.Write(chunk.Data)
	s.chunks++
	return nil
}

// Finalize seals the buffer.
func (s *BufferSink) Finalize(name string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil, fmt.Errorf("buffer sink already finalized")
	}
	s.finalized = true

	return &Artifact{
		Name:      name,
		Size:      int64(s.buf.Len()),
		Chunks:    s.chunks,
		CreatedAt: time.Now(),
	}, nil
}

// Bytes returns the accumulated artifact bytes.
func (s *BufferSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Bytes()
}

// FileSink writes the recording to a local file. Chunks stream into a
// temporary file which is renamed to the artifact name on Finalize.
type FileSink struct {
	dir       string
	mu        sync.Mutex
	file      *os.File
	size      int64
	chunks    int
	finalized bool
}

// NewFileSink creates a sink writing into dir. The directory must
// exist.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// WriteChunk appends the chunk to the backing file, creating it on the
// first write.
func (s *FileSink) WriteChunk(chunk *Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return fmt.Errorf("file sink already finalized")
	}

	if s.file == nil {
		f, err := os.CreateTemp(s.dir, "recording-*.partial")
		if err != nil {
			return fmt.Errorf("create recording file: %w", err)
		}
		s.file = f
	}

	n, err := s.file.Write(chunk.Data)
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("write recording chunk: %w", err)
	}
	s.chunks++
	return nil
}

// Finalize syncs and renames the backing file to the artifact name.
func (s *FileSink) Finalize(name string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil, fmt.Errorf("file sink already finalized")
	}
	s.finalized = true

	path := filepath.Join(s.dir, name)

	if s.file == nil {
		// No chunks arrived; produce an empty artifact file.
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return nil, fmt.Errorf("finalize recording: %w", err)
		}
	} else {
		tmp := s.file.Name()
		if err := s.file.Sync(); err != nil {
			s.file.Close()
			return nil, fmt.Errorf("sync recording: %w", err)
		}
		if err := s.file.Close(); err != nil {
			return nil, fmt.Errorf("close recording: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return nil, fmt.Errorf("finalize recording: %w", err)
		}
	}

	return &Artifact{
		Name:      name,
		Path:      path,
		Size:      s.size,
		Chunks:    s.chunks,
		CreatedAt: time.Now(),
	}, nil
}

var (
	_ OutputSink = (*BufferSink)(nil)
	_ OutputSink = (*FileSink)(nil)
)
