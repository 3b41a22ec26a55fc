package studio

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// fakeDeviceProvider returns canned devices/sources or a fixed error.
type fakeDeviceProvider struct {
	devices []DeviceInfo
	err     error
}

func (p *fakeDeviceProvider) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	return p.devices, p.err
}

func (p *fakeDeviceProvider) OpenVideoDevice(ctx context.Context, deviceID string, cfg SourceConfig) (VideoSource, error) {
	if p.err != nil {
		return nil, p.err
	}
	return newFakeVideoSource(SourceKindCamera), nil
}

func (p *fakeDeviceProvider) OpenAudioDevice(ctx context.Context, deviceID string) (AudioSource, error) {
	if p.err != nil {
		return nil, p.err
	}
	return newFakeAudioSource(), nil
}

// swapProvider installs a provider for the test and restores the
// previous one afterwards.
func swapProvider(t *testing.T, provider DeviceProvider) {
	t.Helper()
	prev := CurrentDeviceProvider()
	RegisterDeviceProvider(provider)
	t.Cleanup(func() { RegisterDeviceProvider(prev) })
}

func TestClassifyCaptureError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want CaptureOutcome
	}{
		{"nil error", nil, CaptureGranted},
		{"permission sentinel", ErrPermissionDenied, CaptureDenied},
		{"wrapped permission sentinel", fmt.Errorf("open camera: %w", ErrPermissionDenied), CaptureDenied},
		{"not found sentinel", ErrDeviceNotFound, CaptureDeviceNotFound},
		{"busy sentinel", fmt.Errorf("open mic: %w", ErrDeviceBusy), CaptureDeviceBusy},
		{"denied message", errors.New("Permission denied by user"), CaptureDenied},
		{"notallowed message", errors.New("NotAllowedError: request rejected"), CaptureDenied},
		{"busy message", errors.New("device is busy"), CaptureDeviceBusy},
		{"in use message", errors.New("camera already in use"), CaptureDeviceBusy},
		{"unrecognized", errors.New("something exploded"), CaptureDeviceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyCaptureError(tt.err); got != tt.want {
				t.Errorf("ClassifyCaptureError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCaptureOutcome_String(t *testing.T) {
	tests := []struct {
		outcome CaptureOutcome
		want    string
	}{
		{CaptureGranted, "granted"},
		{CaptureDenied, "denied"},
		{CaptureDeviceNotFound, "device-not-found"},
		{CaptureDeviceBusy, "device-busy"},
		{CaptureOutcome(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.want {
			t.Errorf("CaptureOutcome(%d).String() = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}

func TestDeviceKind_String(t *testing.T) {
	tests := []struct {
		kind DeviceKind
		want string
	}{
		{DeviceKindCamera, "camera"},
		{DeviceKindMicrophone, "microphone"},
		{DeviceKindDisplay, "display"},
		{DeviceKind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("DeviceKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestAcquireVideo(t *testing.T) {
	ctx := context.Background()

	t.Run("no provider", func(t *testing.T) {
		swapProvider(t, nil)

		result := AcquireVideo(ctx, "cam0", SourceConfig{})
		if result.Outcome != CaptureDeviceNotFound {
			t.Errorf("Outcome = %v, want device-not-found", result.Outcome)
		}
		if !errors.Is(result.Err, ErrNotSupported) {
			t.Errorf("Err = %v, want ErrNotSupported", result.Err)
		}
	})

	t.Run("granted", func(t *testing.T) {
		swapProvider(t, &fakeDeviceProvider{})

		result := AcquireVideo(ctx, "cam0", SourceConfig{Width: 640, Height: 360})
		if result.Outcome != CaptureGranted {
			t.Fatalf("Outcome = %v, want granted (err: %v)", result.Outcome, result.Err)
		}
		if result.Video == nil {
			t.Error("Granted result should carry a video source")
		}
	})

	t.Run("denied", func(t *testing.T) {
		swapProvider(t, &fakeDeviceProvider{err: fmt.Errorf("cam0: %w", ErrPermissionDenied)})

		result := AcquireVideo(ctx, "cam0", SourceConfig{})
		if result.Outcome != CaptureDenied {
			t.Errorf("Outcome = %v, want denied", result.Outcome)
		}
		if result.Video != nil {
			t.Error("Denied result should not carry a source")
		}
		if result.Err == nil {
			t.Error("Denied result should carry the error")
		}
	})
}

func TestAcquireAudio(t *testing.T) {
	ctx := context.Background()

	t.Run("no provider", func(t *testing.T) {
		swapProvider(t, nil)

		result := AcquireAudio(ctx, "mic0")
		if result.Outcome != CaptureDeviceNotFound {
			t.Errorf("Outcome = %v, want device-not-found", result.Outcome)
		}
		if !errors.Is(result.Err, ErrNotSupported) {
			t.Errorf("Err = %v, want ErrNotSupported", result.Err)
		}
	})

	t.Run("granted", func(t *testing.T) {
		swapProvider(t, &fakeDeviceProvider{})

		result := AcquireAudio(ctx, "mic0")
		if result.Outcome != CaptureGranted {
			t.Fatalf("Outcome = %v, want granted (err: %v)", result.Outcome, result.Err)
		}
		if result.Audio == nil {
			t.Error("Granted result should carry an audio source")
		}
	})

	t.Run("busy", func(t *testing.T) {
		swapProvider(t, &fakeDeviceProvider{err: ErrDeviceBusy})

		result := AcquireAudio(ctx, "mic0")
		if result.Outcome != CaptureDeviceBusy {
			t.Errorf("Outcome = %v, want device-busy", result.Outcome)
		}
	})
}

func TestRegisterDeviceProvider(t *testing.T) {
	provider := &fakeDeviceProvider{
		devices: []DeviceInfo{{DeviceID: "cam0", Kind: DeviceKindCamera, Label: "Front Camera"}},
	}
	swapProvider(t, provider)

	if got := CurrentDeviceProvider(); got != DeviceProvider(provider) {
		t.Error("CurrentDeviceProvider returned a different provider")
	}

	devices, err := CurrentDeviceProvider().ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(devices) != 1 || devices[0].DeviceID != "cam0" {
		t.Errorf("Devices = %+v, want one cam0 entry", devices)
	}
}
