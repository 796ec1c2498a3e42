package rtc

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
)

// supportedMimeTypes are the codecs the relay can forward untouched.
var supportedMimeTypes = map[string]domain.MediaKind{
	strings.ToLower(webrtc.MimeTypeOpus): domain.Audio,
	strings.ToLower(webrtc.MimeTypeVP8):  domain.Video,
	strings.ToLower(webrtc.MimeTypeVP9):  domain.Video,
	strings.ToLower(webrtc.MimeTypeH264): domain.Video,
}

func checkCodec(c domain.Codec) error {
	kind, ok := supportedMimeTypes[strings.ToLower(c.MimeType)]
	if !ok || kind != c.Kind {
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedCodec, c.MimeType)
	}
	return nil
}

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.Video {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

func defaultFeedback(kind domain.MediaKind) []domain.RTCPFeedback {
	if kind == domain.Audio {
		return []domain.RTCPFeedback{{Type: "transport-cc"}}
	}
	return []domain.RTCPFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "goog-remb"},
		{Type: "transport-cc"},
	}
}

func toFeedback(fb []domain.RTCPFeedback) []webrtc.RTCPFeedback {
	out := make([]webrtc.RTCPFeedback, 0, len(fb))
	for _, f := range fb {
		out = append(out, webrtc.RTCPFeedback{Type: f.Type, Parameter: f.Parameter})
	}
	return out
}

// routerCodec maps a capability table entry to a pion codec registration.
func routerCodec(c domain.Codec) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     c.MimeType,
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			SDPFmtpLine:  c.FmtpLine(),
			RTCPFeedback: toFeedback(c.RTCPFeedback),
		},
		PayloadType: webrtc.PayloadType(c.PayloadType),
	}
}

// producerCodec maps the client's rtpParameters codec to a pion codec.
// Client payload types may differ from the router's.
func producerCodec(c core.RTPCodecParameters) webrtc.RTPCodecParameters {
	d := domain.Codec{
		MimeType:     c.MimeType,
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		Parameters:   c.Parameters,
		RTCPFeedback: c.RTCPFeedback,
	}
	return routerCodec(d)
}

func capabilities(codecs []domain.Codec) core.RTPCapabilities {
	caps := core.RTPCapabilities{}
	for _, c := range codecs {
		if len(c.RTCPFeedback) == 0 {
			c.RTCPFeedback = defaultFeedback(c.Kind)
		}
		caps.Codecs = append(caps.Codecs, c)
	}
	caps.HeaderExtensions = []core.HeaderExtension{
		{Kind: domain.Audio, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1, Direction: "recvonly"},
		{Kind: domain.Video, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1, Direction: "recvonly"},
		{Kind: domain.Audio, URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredID: 10},
		{Kind: domain.Video, URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredID: 4},
	}
	return caps
}

func toICEParameters(p webrtc.ICEParameters) core.ICEParameters {
	return core.ICEParameters{UsernameFragment: p.UsernameFragment, Password: p.Password, ICELite: p.ICELite}
}

func fromICEParameters(p core.ICEParameters) webrtc.ICEParameters {
	return webrtc.ICEParameters{UsernameFragment: p.UsernameFragment, Password: p.Password, ICELite: p.ICELite}
}

func toICECandidate(c webrtc.ICECandidate) core.ICECandidate {
	return core.ICECandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		IP:         c.Address,
		Protocol:   c.Protocol.String(),
		Port:       c.Port,
		Type:       c.Typ.String(),
		TCPType:    c.TCPType,
	}
}

func fromICECandidate(c core.ICECandidate) (webrtc.ICECandidate, error) {
	proto, err := webrtc.NewICEProtocol(c.Protocol)
	if err != nil {
		return webrtc.ICECandidate{}, err
	}
	typ, err := webrtc.NewICECandidateType(c.Type)
	if err != nil {
		return webrtc.ICECandidate{}, err
	}
	return webrtc.ICECandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		Address:    c.IP,
		Protocol:   proto,
		Port:       c.Port,
		Typ:        typ,
		Component:  1,
		TCPType:    c.TCPType,
	}, nil
}

func toDTLSParameters(p webrtc.DTLSParameters) core.DTLSParameters {
	out := core.DTLSParameters{Role: dtlsRoleName(p.Role)}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, core.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}

// fromDTLSParameters converts the client parameters, rejecting empty
// fingerprints and unknown roles.
func fromDTLSParameters(p core.DTLSParameters) (webrtc.DTLSParameters, error) {
	if len(p.Fingerprints) == 0 {
		return webrtc.DTLSParameters{}, fmt.Errorf("%w: no dtls fingerprints", domain.ErrConnect)
	}
	role, err := parseDTLSRole(p.Role)
	if err != nil {
		return webrtc.DTLSParameters{}, err
	}
	out := webrtc.DTLSParameters{Role: role}
	for _, f := range p.Fingerprints {
		if f.Algorithm == "" || f.Value == "" {
			return webrtc.DTLSParameters{}, fmt.Errorf("%w: malformed fingerprint", domain.ErrConnect)
		}
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out, nil
}

func parseDTLSRole(s string) (webrtc.DTLSRole, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return webrtc.DTLSRoleAuto, nil
	case "client":
		return webrtc.DTLSRoleClient, nil
	case "server":
		return webrtc.DTLSRoleServer, nil
	}
	return webrtc.DTLSRoleAuto, fmt.Errorf("%w: dtls role %q", domain.ErrConnect, s)
}

func dtlsRoleName(r webrtc.DTLSRole) string {
	switch r {
	case webrtc.DTLSRoleClient:
		return "client"
	case webrtc.DTLSRoleServer:
		return "server"
	}
	return "auto"
}
