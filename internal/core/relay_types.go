package core

import (
	"fmt"
	"time"

	"github.com/dkeye/relaygw/internal/domain"
)

// WorkerConfig tunes the relay engine worker.
type WorkerConfig struct {
	LogLevel   string
	RTCMinPort uint16
	RTCMaxPort uint16
}

// ListenIP is a local address plus the address announced to the client.
type ListenIP struct {
	IP          string `json:"ip"`
	AnnouncedIP string `json:"announcedIp,omitempty"`
}

type WebRTCTransportOptions struct {
	ListenIPs                       []ListenIP
	EnableUDP                       bool
	EnableTCP                       bool
	PreferUDP                       bool
	InitialAvailableOutgoingBitrate int
	ConnectTimeout                  time.Duration
}

// PlainTransportOptions configures an outbound RTP leg. The encoder does not
// support rtcp-mux and never sends RTP back, so both flags stay false.
type PlainTransportOptions struct {
	ListenIP ListenIP
	RTCPMux  bool
	Comedia  bool
}

// RemoteAddr is where a plain transport sends RTP and RTCP.
type RemoteAddr struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	RTCPPort int    `json:"rtcpPort"`
}

// Tuple is the negotiated local/remote pair of a plain transport.
type Tuple struct {
	LocalIP    string `json:"localIp"`
	LocalPort  int    `json:"localPort"`
	RemoteIP   string `json:"remoteIp,omitempty"`
	RemotePort int    `json:"remotePort,omitempty"`
	Protocol   string `json:"protocol"`
}

func (t Tuple) String() string {
	return fmt.Sprintf("%s:%d <--> %s:%d (%s)", t.LocalIP, t.LocalPort, t.RemoteIP, t.RemotePort, t.Protocol)
}

type HeaderExtension struct {
	Kind        domain.MediaKind `json:"kind"`
	URI         string           `json:"uri"`
	PreferredID int              `json:"preferredId"`
	Direction   string           `json:"direction,omitempty"`
}

// RTPCapabilities is the negotiated capability set returned by the router.
type RTPCapabilities struct {
	Codecs           []domain.Codec    `json:"codecs"`
	HeaderExtensions []HeaderExtension `json:"headerExtensions"`
}

// Codec returns the capability entry for kind, if any.
func (c RTPCapabilities) Codec(kind domain.MediaKind) (domain.Codec, bool) {
	for _, codec := range c.Codecs {
		if codec.Kind == kind {
			return codec, true
		}
	}
	return domain.Codec{}, false
}

type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	ICELite          bool   `json:"iceLite,omitempty"`
}

type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DTLSParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

// TransportParameters are relayed to the client after the inbound transport opens.
type TransportParameters struct {
	ID             string         `json:"id"`
	ICEParameters  ICEParameters  `json:"iceParameters"`
	ICECandidates  []ICECandidate `json:"iceCandidates"`
	DTLSParameters DTLSParameters `json:"dtlsParameters"`
}

// ConnectParameters are the client's security parameters for the inbound transport.
type ConnectParameters struct {
	DTLSParameters DTLSParameters `json:"dtlsParameters"`
	ICEParameters  ICEParameters  `json:"iceParameters"`
	ICECandidates  []ICECandidate `json:"iceCandidates,omitempty"`
}

type RTPCodecParameters struct {
	MimeType     string                `json:"mimeType"`
	PayloadType  uint8                 `json:"payloadType"`
	ClockRate    uint32                `json:"clockRate"`
	Channels     uint16                `json:"channels,omitempty"`
	Parameters   map[string]any        `json:"parameters,omitempty"`
	RTCPFeedback []domain.RTCPFeedback `json:"rtcpFeedback,omitempty"`
}

type RTPEncoding struct {
	SSRC uint32 `json:"ssrc,omitempty"`
	RID  string `json:"rid,omitempty"`
}

type RTCPParameters struct {
	CNAME       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize,omitempty"`
}

type RTPParameters struct {
	MID       string               `json:"mid,omitempty"`
	Codecs    []RTPCodecParameters `json:"codecs"`
	Encodings []RTPEncoding        `json:"encodings"`
	RTCP      RTCPParameters       `json:"rtcp"`
}

// ProduceParameters describe one inbound media source.
// Kind is optional; when set it must agree with the codec mime type.
type ProduceParameters struct {
	Kind          domain.MediaKind `json:"kind,omitempty"`
	RTPParameters RTPParameters    `json:"rtpParameters"`
}

// MediaCodec returns the first non-retransmission codec.
func (p ProduceParameters) MediaCodec() (RTPCodecParameters, bool) {
	for _, c := range p.RTPParameters.Codecs {
		if _, name, _ := cutMime(c.MimeType); name == "rtx" {
			continue
		}
		return c, true
	}
	return RTPCodecParameters{}, false
}

// MediaKind derives the producer kind from its parameters.
func (p ProduceParameters) MediaKind() (domain.MediaKind, error) {
	codec, ok := p.MediaCodec()
	if !ok {
		return "", fmt.Errorf("%w: no media codec in rtpParameters", domain.ErrUnknownKind)
	}
	kind, ok := domain.KindOfMimeType(codec.MimeType)
	if !ok {
		return "", fmt.Errorf("%w: mime type %q", domain.ErrUnknownKind, codec.MimeType)
	}
	if p.Kind != "" && p.Kind != kind {
		return "", fmt.Errorf("%w: declared %s but codec is %s", domain.ErrUnknownKind, p.Kind, kind)
	}
	return kind, nil
}

// SSRC of the first encoding, zero when absent.
func (p ProduceParameters) SSRC() uint32 {
	if len(p.RTPParameters.Encodings) == 0 {
		return 0
	}
	return p.RTPParameters.Encodings[0].SSRC
}
