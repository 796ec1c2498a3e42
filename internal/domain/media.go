// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MediaKind selects the relay transport/consumer slot and the encoder input mapping.
type MediaKind string

const (
	Audio MediaKind = "audio"
	Video MediaKind = "video"
)

// MediaKinds lists every kind in the order resources are reported.
var MediaKinds = []MediaKind{Audio, Video}

var ErrUnknownKind = errors.New("unknown media kind")

func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(strings.ToLower(s)) {
	case Audio:
		return Audio, nil
	case Video:
		return Video, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// KindOfMimeType derives the kind from a "audio/opus" style mime type.
func KindOfMimeType(mime string) (MediaKind, bool) {
	family, _, ok := strings.Cut(mime, "/")
	if !ok {
		return "", false
	}
	k, err := ParseMediaKind(family)
	return k, err == nil
}

// RTCPFeedback mirrors the capability feedback entries sent to the client.
type RTCPFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

// Codec is one entry of the static codec capability table.
// Entries must match the session-description documents on disk.
type Codec struct {
	Kind         MediaKind      `json:"kind" mapstructure:"kind" validate:"required,oneof=audio video"`
	MimeType     string         `json:"mimeType" mapstructure:"mime_type" validate:"required"`
	PayloadType  uint8          `json:"preferredPayloadType" mapstructure:"payload_type" validate:"required,min=96,max=127"`
	ClockRate    uint32         `json:"clockRate" mapstructure:"clock_rate" validate:"required"`
	Channels     uint16         `json:"channels,omitempty" mapstructure:"channels"`
	Parameters   map[string]any `json:"parameters,omitempty" mapstructure:"parameters"`
	RTCPFeedback []RTCPFeedback `json:"rtcpFeedback,omitempty" mapstructure:"rtcp_feedback"`
}

// Name is the codec family, "VP8" for "video/VP8".
func (c Codec) Name() string {
	_, name, _ := strings.Cut(c.MimeType, "/")
	return name
}

// Is reports whether the codec belongs to the named family, case-insensitively.
func (c Codec) Is(name string) bool {
	return strings.EqualFold(c.Name(), name)
}

// FmtpLine renders Parameters as an SDP fmtp value with keys sorted.
func (c Codec) FmtpLine() string {
	if len(c.Parameters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(c.Parameters))
	for k := range c.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, c.Parameters[k]))
	}
	return strings.Join(parts, ";")
}

// DefaultCodecs is the capability table shipped with the gateway.
func DefaultCodecs() []Codec {
	return []Codec{
		{
			Kind:        Audio,
			MimeType:    "audio/opus",
			PayloadType: 111,
			ClockRate:   48000,
			Channels:    2,
			Parameters:  map[string]any{"minptime": 10, "useinbandfec": 1},
		},
		{
			Kind:        Video,
			MimeType:    "video/VP8",
			PayloadType: 96,
			ClockRate:   90000,
		},
		{
			Kind:        Video,
			MimeType:    "video/H264",
			PayloadType: 125,
			ClockRate:   90000,
			Parameters: map[string]any{
				"level-asymmetry-allowed": 1,
				"packetization-mode":      1,
				"profile-level-id":        "42e01f",
			},
		},
	}
}
