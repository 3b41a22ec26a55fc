package studio

import (
	"testing"
)

func TestNewI420Frame(t *testing.T) {
	frame := NewI420Frame(640, 480)

	if frame.Width != 640 || frame.Height != 480 {
		t.Errorf("Frame dimensions = %dx%d, want 640x480", frame.Width, frame.Height)
	}
	if frame.Format != PixelFormatI420 {
		t.Errorf("Format = %v, want I420", frame.Format)
	}
	if len(frame.Data) != 3 {
		t.Fatalf("Plane count = %d, want 3", len(frame.Data))
	}

	ySize := 640 * 480
	uvSize := 320 * 240
	if len(frame.Data[0]) != ySize {
		t.Errorf("Y plane size = %d, want %d", len(frame.Data[0]), ySize)
	}
	if len(frame.Data[1]) != uvSize || len(frame.Data[2]) != uvSize {
		t.Errorf("UV plane sizes = %d, %d, want %d", len(frame.Data[1]), len(frame.Data[2]), uvSize)
	}

	if frame.Stride[0] != 640 || frame.Stride[1] != 320 || frame.Stride[2] != 320 {
		t.Errorf("Strides = %v, want [640 320 320]", frame.Stride)
	}
}

func TestI420Size(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		want          int
	}{
		{"720p", 1280, 720, 1280*720 + 2*640*360},
		{"VGA", 640, 480, 640*480 + 2*320*240},
		{"tiny", 2, 2, 4 + 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := I420Size(tt.width, tt.height); got != tt.want {
				t.Errorf("I420Size(%d, %d) = %d, want %d", tt.width, tt.height, got, tt.want)
			}
		})
	}
}

func TestVideoFrame_Clone(t *testing.T) {
	frame := NewI420Frame(320, 240)
	frame.Timestamp = 12345
	frame.Duration = 33333
	frame.Data[0][0] = 200

	clone := frame.Clone()

	if clone.Width != frame.Width || clone.Height != frame.Height {
		t.Errorf("Clone dimensions = %dx%d, want %dx%d",
			clone.Width, clone.Height, frame.Width, frame.Height)
	}
	if clone.Timestamp != 12345 || clone.Duration != 33333 {
		t.Errorf("Clone timing = %d/%d, want 12345/33333", clone.Timestamp, clone.Duration)
	}
	if clone.Data[0][0] != 200 {
		t.Errorf("Clone Y[0] = %d, want 200", clone.Data[0][0])
	}

	// Mutating the original must not affect the clone.
	frame.Data[0][0] = 50
	if clone.Data[0][0] != 200 {
		t.Error("Clone shares plane memory with original")
	}
}

func TestAudioSamples_Clone(t *testing.T) {
	samples := &AudioSamples{
		Data:        []byte{1, 2, 3, 4},
		SampleRate:  48000,
		Channels:    2,
		SampleCount: 1,
		Format:      AudioFormatS16,
		Timestamp:   999,
	}

	clone := samples.Clone()

	if clone.SampleRate != 48000 || clone.Channels != 2 || clone.SampleCount != 1 {
		t.Errorf("Clone properties = %d/%d/%d, want 48000/2/1",
			clone.SampleRate, clone.Channels, clone.SampleCount)
	}

	samples.Data[0] = 99
	if clone.Data[0] != 1 {
		t.Error("Clone shares sample memory with original")
	}
}

func TestEncodedFrame_IsKeyframe(t *testing.T) {
	tests := []struct {
		frameType FrameType
		want      bool
	}{
		{FrameTypeKey, true},
		{FrameTypeDelta, false},
		{FrameTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.frameType.String(), func(t *testing.T) {
			frame := &EncodedFrame{FrameType: tt.frameType}
			if got := frame.IsKeyframe(); got != tt.want {
				t.Errorf("IsKeyframe() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncodedFrame_Clone(t *testing.T) {
	frame := &EncodedFrame{
		Data:      []byte{0xde, 0xad},
		FrameType: FrameTypeKey,
		Timestamp: 90000,
		Duration:  3000,
	}

	clone := frame.Clone()
	frame.Data[0] = 0

	if clone.Data[0] != 0xde {
		t.Error("Clone shares data with original")
	}
	if clone.Timestamp != 90000 || clone.Duration != 3000 {
		t.Errorf("Clone timing = %d/%d, want 90000/3000", clone.Timestamp, clone.Duration)
	}
}

func TestEncodedAudio_Clone(t *testing.T) {
	audio := &EncodedAudio{
		Data:      []byte{0xbe, 0xef},
		Timestamp: 48000,
		Duration:  960,
	}

	clone := audio.Clone()
	audio.Data[1] = 0

	if clone.Data[1] != 0xef {
		t.Error("Clone shares data with original")
	}
}

func TestPixelFormat_String(t *testing.T) {
	tests := []struct {
		format PixelFormat
		want   string
	}{
		{PixelFormatI420, "I420"},
		{PixelFormatRGBA32, "RGBA32"},
		{PixelFormat(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.format.String(); got != tt.want {
				t.Errorf("PixelFormat.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPixelFormat_PlaneCount(t *testing.T) {
	if got := PixelFormatI420.PlaneCount(); got != 3 {
		t.Errorf("I420 plane count = %d, want 3", got)
	}
	if got := PixelFormatRGBA32.PlaneCount(); got != 1 {
		t.Errorf("RGBA32 plane count = %d, want 1", got)
	}
}

func TestAudioFormat_BytesPerSample(t *testing.T) {
	if got := AudioFormatS16.BytesPerSample(); got != 2 {
		t.Errorf("S16 bytes per sample = %d, want 2", got)
	}
	if got := AudioFormatF32.BytesPerSample(); got != 4 {
		t.Errorf("F32 bytes per sample = %d, want 4", got)
	}
}

func TestFrameType_String(t *testing.T) {
	tests := []struct {
		frameType FrameType
		want      string
	}{
		{FrameTypeKey, "Key"},
		{FrameTypeDelta, "Delta"},
		{FrameTypeUnknown, "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.frameType.String(); got != tt.want {
				t.Errorf("FrameType.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func BenchmarkVideoFrame_Clone(b *testing.B) {
	frame := NewI420Frame(1280, 720)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = frame.Clone()
	}
}
