package studio

// VideoCodec identifies a video codec.
type VideoCodec int

// The zero value is reserved so an unset codec is distinguishable from
// a chosen one.
const (
	VideoCodecVP8 VideoCodec = iota + 1
	VideoCodecVP9
	VideoCodecH264
	VideoCodecAV1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecH264:
		return "H264"
	case VideoCodecAV1:
		return "AV1"
	default:
		return "Unknown"
	}
}

// MimeType returns the IANA mime type used in SDP and track negotiation.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecVP8:
		return "video/VP8"
	case VideoCodecVP9:
		return "video/VP9"
	case VideoCodecH264:
		return "video/H264"
	case VideoCodecAV1:
		return "video/AV1"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate in Hz.
func (c VideoCodec) ClockRate() uint32 {
	return 90000 // All video codecs use the 90kHz RTP clock
}

// DefaultPayloadType returns a conventional dynamic payload type.
func (c VideoCodec) DefaultPayloadType() uint8 {
	switch c {
	case VideoCodecVP8:
		return 96
	case VideoCodecVP9:
		return 98
	case VideoCodecH264:
		return 102
	case VideoCodecAV1:
		return 45
	default:
		return 96
	}
}

// WebMCodecID returns the Matroska/WebM CodecID, or "" if the codec is
// not allowed in WebM containers.
func (c VideoCodec) WebMCodecID() string {
	switch c {
	case VideoCodecVP8:
		return "V_VP8"
	case VideoCodecVP9:
		return "V_VP9"
	case VideoCodecAV1:
		return "V_AV1"
	default:
		return ""
	}
}

// AudioCodec identifies an audio codec.
type AudioCodec int

const (
	AudioCodecOpus AudioCodec = iota + 1
	AudioCodecPCM
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecOpus:
		return "Opus"
	case AudioCodecPCM:
		return "PCM"
	default:
		return "Unknown"
	}
}

// MimeType returns the IANA mime type used in SDP and track negotiation.
func (c AudioCodec) MimeType() string {
	switch c {
	case AudioCodecOpus:
		return "audio/opus"
	case AudioCodecPCM:
		return "audio/L16"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate in Hz.
func (c AudioCodec) ClockRate() uint32 {
	switch c {
	case AudioCodecOpus:
		return 48000
	case AudioCodecPCM:
		return 48000
	default:
		return 48000
	}
}

// DefaultPayloadType returns a conventional dynamic payload type.
func (c AudioCodec) DefaultPayloadType() uint8 {
	switch c {
	case AudioCodecOpus:
		return 111
	case AudioCodecPCM:
		return 11
	default:
		return 111
	}
}

// WebMCodecID returns the Matroska/WebM CodecID, or "" if the codec is
// not allowed in WebM containers.
func (c AudioCodec) WebMCodecID() string {
	switch c {
	case AudioCodecOpus:
		return "A_OPUS"
	default:
		return ""
	}
}

// ContainerFormat identifies a recording container.
type ContainerFormat int

const (
	ContainerWebM ContainerFormat = iota
)

func (c ContainerFormat) String() string {
	switch c {
	case ContainerWebM:
		return "WebM"
	default:
		return "Unknown"
	}
}

// Extension returns the conventional file extension, including the dot.
func (c ContainerFormat) Extension() string {
	switch c {
	case ContainerWebM:
		return ".webm"
	default:
		return ""
	}
}
