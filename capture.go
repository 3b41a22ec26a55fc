package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Device acquisition failures, classified. Providers should return
// errors wrapping these sentinels; ClassifyCaptureError falls back to
// message sniffing for foreign errors.
var (
	ErrPermissionDenied = errors.New("capture permission denied")
	ErrDeviceNotFound   = errors.New("capture device not found")
	ErrDeviceBusy       = errors.New("capture device busy")
)

// CaptureOutcome tags the result of a device acquisition attempt. The
// engine core never opens devices itself; it consumes tagged outcomes
// and switches on the tag only.
type CaptureOutcome int

const (
	CaptureGranted        CaptureOutcome = iota // Source acquired
	CaptureDenied                               // User or OS refused permission
	CaptureDeviceNotFound                       // No such device
	CaptureDeviceBusy                           // Device held by another consumer
)

func (o CaptureOutcome) String() string {
	switch o {
	case CaptureGranted:
		return "granted"
	case CaptureDenied:
		return "denied"
	case CaptureDeviceNotFound:
		return "device-not-found"
	case CaptureDeviceBusy:
		return "device-busy"
	default:
		return "unknown"
	}
}

// ClassifyCaptureError maps an acquisition error onto an outcome tag.
// Unrecognized failures classify as device-not-found so they degrade
// like a missing device instead of surfacing a new failure class.
func ClassifyCaptureError(err error) CaptureOutcome {
	switch {
	case err == nil:
		return CaptureGranted
	case errors.Is(err, ErrPermissionDenied):
		return CaptureDenied
	case errors.Is(err, ErrDeviceNotFound):
		return CaptureDeviceNotFound
	case errors.Is(err, ErrDeviceBusy):
		return CaptureDeviceBusy
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "denied") || strings.Contains(msg, "notallowed"):
		return CaptureDenied
	case strings.Contains(msg, "busy") || strings.Contains(msg, "in use"):
		return CaptureDeviceBusy
	}
	return CaptureDeviceNotFound
}

// DeviceKind represents the type of capture device.
type DeviceKind int

const (
	DeviceKindCamera     DeviceKind = iota // Video input
	DeviceKindMicrophone                   // Audio input
	DeviceKindDisplay                      // Screen/window capture
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceKindCamera:
		return "camera"
	case DeviceKindMicrophone:
		return "microphone"
	case DeviceKindDisplay:
		return "display"
	default:
		return "unknown"
	}
}

// DeviceInfo describes a capture device.
type DeviceInfo struct {
	DeviceID string     // Unique identifier
	GroupID  string     // Devices with the same GroupID belong together
	Kind     DeviceKind // Device type
	Label    string     // Human-readable name
}

// DeviceProvider is implemented by platform capture backends. The
// embedding application registers one; the engine only consumes the
// sources it opens.
type DeviceProvider interface {
	// ListDevices returns the available capture devices.
	ListDevices(ctx context.Context) ([]DeviceInfo, error)

	// OpenVideoDevice opens a camera or display device as a running
	// video source.
	OpenVideoDevice(ctx context.Context, deviceID string, cfg SourceConfig) (VideoSource, error)

	// OpenAudioDevice opens a microphone as a running audio source.
	OpenAudioDevice(ctx context.Context, deviceID string) (AudioSource, error)
}

type providerRegistry struct {
	provider DeviceProvider
	mu       sync.RWMutex
}

var globalProviderRegistry = &providerRegistry{}

// RegisterDeviceProvider registers a platform capture backend.
func RegisterDeviceProvider(provider DeviceProvider) {
	globalProviderRegistry.mu.Lock()
	defer globalProviderRegistry.mu.Unlock()
	globalProviderRegistry.provider = provider
}

// CurrentDeviceProvider returns the registered backend, or nil.
func CurrentDeviceProvider() DeviceProvider {
	globalProviderRegistry.mu.RLock()
	defer globalProviderRegistry.mu.RUnlock()
	return globalProviderRegistry.provider
}

// CaptureResult carries an acquisition outcome and, when granted, the
// acquired source.
type CaptureResult struct {
	Outcome CaptureOutcome
	Video   VideoSource
	Audio   AudioSource
	Err     error
}

// AcquireVideo opens a video device through the registered provider
// and classifies the result. A missing provider classifies as
// device-not-found.
func AcquireVideo(ctx context.Context, deviceID string, cfg SourceConfig) CaptureResult {
	provider := CurrentDeviceProvider()
	if provider == nil {
		err := fmt.Errorf("acquire video: no device provider: %w", ErrNotSupported)
		return CaptureResult{Outcome: CaptureDeviceNotFound, Err: err}
	}

	src, err := provider.OpenVideoDevice(ctx, deviceID, cfg)
	if err != nil {
		return CaptureResult{Outcome: ClassifyCaptureError(err), Err: err}
	}
	return CaptureResult{Outcome: CaptureGranted, Video: src}
}

// AcquireAudio opens an audio device through the registered provider
// and classifies the result.
func AcquireAudio(ctx context.Context, deviceID string) CaptureResult {
	provider := CurrentDeviceProvider()
	if provider == nil {
		err := fmt.Errorf("acquire audio: no device provider: %w", ErrNotSupported)
		return CaptureResult{Outcome: CaptureDeviceNotFound, Err: err}
	}

	src, err := provider.OpenAudioDevice(ctx, deviceID)
	if err != nil {
		return CaptureResult{Outcome: ClassifyCaptureError(err), Err: err}
	}
	return CaptureResult{Outcome: CaptureGranted, Audio: src}
}
