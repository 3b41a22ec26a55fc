package studio

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// Re-export pion/rtp types used across the output path.
type (
	// RTPPacket is an alias to pion's rtp.Packet.
	RTPPacket = rtp.Packet

	// RTPHeader is an alias to pion's rtp.Header.
	RTPHeader = rtp.Header
)

// DefaultMTU for RTP packets (UDP safe).
const DefaultMTU = 1200

// RTPWriter writes RTP packets toward a transport.
type RTPWriter interface {
	WriteRTP(packet *RTPPacket) error
}

// RTPPacketizer segments encoded frames into RTP packets.
type RTPPacketizer interface {
	// Packetize converts an encoded frame to RTP packets.
	Packetize(frame *EncodedFrame) ([]*RTPPacket, error)

	// SetSSRC updates the SSRC for outgoing packets.
	SetSSRC(ssrc uint32)

	// SSRC returns the current SSRC.
	SSRC() uint32

	// PayloadType returns the configured payload type.
	PayloadType() uint8

	// MTU returns the maximum transmission unit.
	MTU() int
}

// RTPDepacketizer reassembles RTP packets into encoded frames.
type RTPDepacketizer interface {
	// Depacketize processes an RTP packet and returns a complete frame
	// if available, nil otherwise.
	Depacketize(packet *RTPPacket) (*EncodedFrame, error)

	// Reset clears any buffered partial frames.
	Reset()
}

// PacketizerFactory creates an RTP packetizer.
type PacketizerFactory func(ssrc uint32, pt uint8, mtu int) (RTPPacketizer, error)

type rtpRegistry struct {
	video map[VideoCodec]PacketizerFactory
	audio map[AudioCodec]PacketizerFactory
	mu    sync.RWMutex
}

var globalRTPRegistry = &rtpRegistry{
	video: make(map[VideoCodec]PacketizerFactory),
	audio: make(map[AudioCodec]PacketizerFactory),
}

// RegisterVideoPacketizer registers a video RTP packetizer factory.
func RegisterVideoPacketizer(codec VideoCodec, factory PacketizerFactory) {
	globalRTPRegistry.mu.Lock()
	defer globalRTPRegistry.mu.Unlock()
	globalRTPRegistry.video[codec] = factory
}

// RegisterAudioPacketizer registers an audio RTP packetizer factory.
func RegisterAudioPacketizer(codec AudioCodec, factory PacketizerFactory) {
	globalRTPRegistry.mu.Lock()
	defer globalRTPRegistry.mu.Unlock()
	globalRTPRegistry.audio[codec] = factory
}

// CreateVideoPacketizer creates a video RTP packetizer.
func CreateVideoPacketizer(codec VideoCodec, ssrc uint32, pt uint8, mtu int) (RTPPacketizer, error) {
	globalRTPRegistry.mu.RLock()
	factory, ok := globalRTPRegistry.video[codec]
	globalRTPRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("video packetizer not available: %v", codec)
	}
	return factory(ssrc, pt, mtu)
}

// CreateAudioPacketizer creates an audio RTP packetizer.
func CreateAudioPacketizer(codec AudioCodec, ssrc uint32, pt uint8, mtu int) (RTPPacketizer, error) {
	globalRTPRegistry.mu.RLock()
	factory, ok := globalRTPRegistry.audio[codec]
	globalRTPRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("audio packetizer not available: %v", codec)
	}
	return factory(ssrc, pt, mtu)
}

// IsRTPTimestampOlder returns true if ts1 is older than or equal to
// ts2, handling 32-bit wraparound per RTP comparison rules.
func IsRTPTimestampOlder(ts1, ts2 uint32) bool {
	if ts1 == ts2 {
		return true
	}
	diff := ts2 - ts1
	return diff < 0x80000000
}

// VP9Packetizer implements RTPPacketizer for VP9 using pion's codecs.
type VP9Packetizer struct {
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
	payloader   *codecs.VP9Payloader
	mu          sync.Mutex
}

// NewVP9Packetizer creates a VP9 RTP packetizer.
func NewVP9Packetizer(ssrc uint32, pt uint8, mtu int) (*VP9Packetizer, error) {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &VP9Packetizer{
		ssrc:        ssrc,
		payloadType: pt,
		mtu:         mtu,
		sequencer:   rtp.NewRandomSequencer(),
		payloader:   &codecs.VP9Payloader{},
	}, nil
}

// Packetize converts an encoded VP9 frame to RTP packets. The marker
// bit is set on the last packet of the frame.
func (p *VP9Packetizer) Packetize(frame *EncodedFrame) ([]*RTPPacket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(frame.Data) == 0 {
		return nil, nil
	}

	payloads := p.payloader.Payload(uint16(p.mtu-12), frame.Data)
	if len(payloads) == 0 {
		return nil, nil
	}

	packets := make([]*RTPPacket, len(payloads))
	for i, payload := range payloads {
		packets[i] = &RTPPacket{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    p.payloadType,
				SequenceNumber: p.sequencer.NextSequenceNumber(),
				Timestamp:      frame.Timestamp,
				SSRC:           p.ssrc,
			},
			Payload: payload,
		}
	}
	return packets, nil
}

func (p *VP9Packetizer) SetSSRC(ssrc uint32) { p.mu.Lock(); p.ssrc = ssrc; p.mu.Unlock() }
func (p *VP9Packetizer) SSRC() uint32        { p.mu.Lock(); defer p.mu.Unlock(); return p.ssrc }
func (p *VP9Packetizer) PayloadType() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.payloadType
}
func (p *VP9Packetizer) MTU() int          { p.mu.Lock(); defer p.mu.Unlock(); return p.mtu }
func (p *VP9Packetizer) Codec() VideoCodec { return VideoCodecVP9 }

// VP9Depacketizer reassembles VP9 RTP packets. Used by loopback tests
// and receive-side tooling.
type VP9Depacketizer struct {
	depacketizer      codecs.VP9Packet
	buffer            []byte
	timestamp         uint32
	frameType         FrameType
	lastCompletedTs   uint32
	hasCompletedFrame bool
	mu                sync.Mutex
}

// NewVP9Depacketizer creates a VP9 RTP depacketizer.
func NewVP9Depacketizer() (*VP9Depacketizer, error) {
	return &VP9Depacketizer{}, nil
}

// Depacketize processes an RTP packet and returns a complete frame if
// available.
func (d *VP9Depacketizer) Depacketize(packet *RTPPacket) (*EncodedFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.depacketizer.Unmarshal(packet.Payload); err != nil {
		return nil, fmt.Errorf("VP9 unmarshal failed: %w", err)
	}

	// Discard late-arriving packets for already completed frames.
	if d.hasCompletedFrame && IsRTPTimestampOlder(packet.Header.Timestamp, d.lastCompletedTs) {
		return nil, nil
	}

	if d.timestamp != 0 && d.timestamp != packet.Header.Timestamp {
		d.buffer = d.buffer[:0]
	}
	d.timestamp = packet.Header.Timestamp

	if d.depacketizer.B {
		if d.depacketizer.P {
			d.frameType = FrameTypeDelta
		} else {
			d.frameType = FrameTypeKey
		}
	}

	d.buffer = append(d.buffer, d.depacketizer.Payload...)

	if packet.Header.Marker || d.depacketizer.E {
		frame := &EncodedFrame{
			Data:      make([]byte, len(d.buffer)),
			FrameType: d.frameType,
			Timestamp: d.timestamp,
		}
		copy(frame.Data, d.buffer)

		d.lastCompletedTs = d.timestamp
		d.hasCompletedFrame = true
		d.buffer = d.buffer[:0]
		d.frameType = FrameTypeUnknown
		return frame, nil
	}
	return nil, nil
}

// Reset clears any buffered partial frames.
func (d *VP9Depacketizer) Reset() {
	d.mu.Lock()
	d.buffer = d.buffer[:0]
	d.timestamp = 0
	d.frameType = FrameTypeUnknown
	d.lastCompletedTs = 0
	d.hasCompletedFrame = false
	d.mu.Unlock()
}

// OpusPacketizer implements RTPPacketizer for Opus using pion's codecs.
type OpusPacketizer struct {
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
	payloader   *codecs.OpusPayloader
	mu          sync.Mutex
}

// NewOpusPacketizer creates an Opus RTP packetizer.
func NewOpusPacketizer(ssrc uint32, pt uint8, mtu int) (*OpusPacketizer, error) {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &OpusPacketizer{
		ssrc:        ssrc,
		payloadType: pt,
		mtu:         mtu,
		sequencer:   rtp.NewRandomSequencer(),
		payloader:   &codecs.OpusPayloader{},
	}, nil
}

// Packetize converts an encoded Opus frame to RTP packets. Audio sets
// the marker on every packet.
func (p *OpusPacketizer) Packetize(frame *EncodedFrame) ([]*RTPPacket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(frame.Data) == 0 {
		return nil, nil
	}

	payloads := p.payloader.Payload(uint16(p.mtu-12), frame.Data)
	if len(payloads) == 0 {
		return nil, nil
	}

	packets := make([]*RTPPacket, len(payloads))
	for i, payload := range payloads {
		packets[i] = &RTPPacket{
			Header: rtp.Header{
				Version:        2,
				Marker:         true,
				PayloadType:    p.payloadType,
				SequenceNumber: p.sequencer.NextSequenceNumber(),
				Timestamp:      frame.Timestamp,
				SSRC:           p.ssrc,
			},
			Payload: payload,
		}
	}
	return packets, nil
}

// PacketizeAudio is a convenience method for EncodedAudio.
func (p *OpusPacketizer) PacketizeAudio(audio *EncodedAudio) ([]*RTPPacket, error) {
	return p.Packetize(&EncodedFrame{
		Data:      audio.Data,
		Timestamp: audio.Timestamp,
		Duration:  audio.Duration,
	})
}

func (p *OpusPacketizer) SetSSRC(ssrc uint32) { p.mu.Lock(); p.ssrc = ssrc; p.mu.Unlock() }
func (p *OpusPacketizer) SSRC() uint32        { p.mu.Lock(); defer p.mu.Unlock(); return p.ssrc }
func (p *OpusPacketizer) PayloadType() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.payloadType
}
func (p *OpusPacketizer) MTU() int { p.mu.Lock(); defer p.mu.Unlock(); return p.mtu }

// OpusDepacketizer reassembles Opus RTP packets. Opus frames are
// independent, so every packet yields a frame.
type OpusDepacketizer struct {
	mu sync.Mutex
}

// NewOpusDepacketizer creates an Opus RTP depacketizer.
func NewOpusDepacketizer() (*OpusDepacketizer, error) {
	return &OpusDepacketizer{}, nil
}

// Depacketize returns the packet payload as an encoded frame.
func (d *OpusDepacketizer) Depacketize(packet *RTPPacket) (*EncodedFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(packet.Payload) == 0 {
		return nil, nil
	}

	data := make([]byte, len(packet.Payload))
	copy(data, packet.Payload)

	return &EncodedFrame{
		Data:      data,
		FrameType: FrameTypeKey,
		Timestamp: packet.Header.Timestamp,
	}, nil
}

// Reset is a no-op for Opus.
func (d *OpusDepacketizer) Reset() {}

func init() {
	RegisterVideoPacketizer(VideoCodecVP9, func(ssrc uint32, pt uint8, mtu int) (RTPPacketizer, error) {
		return NewVP9Packetizer(ssrc, pt, mtu)
	})
	RegisterAudioPacketizer(AudioCodecOpus, func(ssrc uint32, pt uint8, mtu int) (RTPPacketizer, error) {
		return NewOpusPacketizer(ssrc, pt, mtu)
	})
}
