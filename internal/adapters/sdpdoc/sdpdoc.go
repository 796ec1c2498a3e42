// Package sdpdoc resolves the session-description document the encoder reads
// its RTP input from. Documents either live on disk, one per video codec
// family, or are rendered from the streaming configuration.
package sdpdoc

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
)

const (
	ModeFile     = "file"
	ModeGenerate = "generate"
)

type Config struct {
	Mode     string
	Dir      string
	VP8File  string
	H264File string
	TempDir  string
	// IP is the address the encoder binds; Targets its ports per kind.
	IP      string
	Targets map[domain.MediaKind]core.RemoteAddr
}

type Documents struct {
	fs  afero.Fs
	cfg Config
}

func New(fs afero.Fs, cfg Config) *Documents {
	if cfg.Mode == "" {
		cfg.Mode = ModeFile
	}
	return &Documents{fs: fs, cfg: cfg}
}

// Select returns the on-disk document for the negotiated video codec.
// H.264 needs its own document once video is enabled; everything else reads
// the VP8 one.
func (d *Documents) Select(video domain.Codec, kinds []domain.MediaKind) string {
	if video.Is("H264") && slices.Contains(kinds, domain.Video) {
		return filepath.Join(d.cfg.Dir, d.cfg.H264File)
	}
	return filepath.Join(d.cfg.Dir, d.cfg.VP8File)
}

// Input implements core.InputProvider.
func (d *Documents) Input(_ context.Context, req core.InputRequest) (core.InputDocument, error) {
	if d.cfg.Mode == ModeGenerate {
		return d.generate(req)
	}
	path := d.Select(req.VideoCodec, req.Kinds)
	if err := d.Validate(path, req); err != nil {
		return core.InputDocument{}, err
	}
	log.Info().Str("module", "sdpdoc").Str("path", path).Msg("selected input document")
	return core.InputDocument{Path: path, Cleanup: func() error { return nil }}, nil
}

func (d *Documents) generate(req core.InputRequest) (core.InputDocument, error) {
	body, err := d.Render(req)
	if err != nil {
		return core.InputDocument{}, err
	}
	f, err := afero.TempFile(d.fs, d.cfg.TempDir, "relaygw-*.sdp")
	if err != nil {
		return core.InputDocument{}, domain.E(domain.KindInternal, "create input document", err)
	}
	path := f.Name()
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		_ = d.fs.Remove(path)
		return core.InputDocument{}, domain.E(domain.KindInternal, "write input document", err)
	}
	if err := f.Close(); err != nil {
		_ = d.fs.Remove(path)
		return core.InputDocument{}, domain.E(domain.KindInternal, "write input document", err)
	}
	log.Info().Str("module", "sdpdoc").Str("path", path).Msg("rendered input document")
	return core.InputDocument{
		Path:    path,
		Cleanup: func() error { return d.fs.Remove(path) },
	}, nil
}

// Validate checks that the document at path describes every requested kind on
// the configured port, RTCP port and payload type.
func (d *Documents) Validate(path string, req core.InputRequest) error {
	raw, err := afero.ReadFile(d.fs, path)
	if err != nil {
		return domain.E(domain.KindConfiguration, "read input document", err)
	}
	var doc sdp.SessionDescription
	if err := doc.Unmarshal(raw); err != nil {
		return badInput(path, "parse: %v", err)
	}
	for _, kind := range req.Kinds {
		codec := req.AudioCodec
		if kind == domain.Video {
			codec = req.VideoCodec
		}
		if err := d.validateMedia(&doc, path, kind, codec); err != nil {
			return err
		}
	}
	return nil
}

func (d *Documents) validateMedia(doc *sdp.SessionDescription, path string, kind domain.MediaKind, codec domain.Codec) error {
	target, ok := d.cfg.Targets[kind]
	if !ok {
		return badInput(path, "no streaming target for %s", kind)
	}
	var md *sdp.MediaDescription
	for _, m := range doc.MediaDescriptions {
		if m.MediaName.Media == string(kind) {
			md = m
			break
		}
	}
	if md == nil {
		return badInput(path, "no %s media section", kind)
	}
	if md.MediaName.Port.Value != target.Port {
		return badInput(path, "%s port %d, relay sends to %d", kind, md.MediaName.Port.Value, target.Port)
	}
	if v, ok := md.Attribute("rtcp"); ok {
		port, err := strconv.Atoi(strings.Fields(v)[0])
		if err != nil || port != target.RTCPPort {
			return badInput(path, "%s rtcp port %q, relay sends to %d", kind, v, target.RTCPPort)
		}
	}
	pt := strconv.Itoa(int(codec.PayloadType))
	found := false
	for _, f := range md.MediaName.Formats {
		if f == pt {
			found = true
			break
		}
	}
	if !found {
		return badInput(path, "%s payload type %s not offered", kind, pt)
	}
	got, err := doc.GetCodecForPayloadType(codec.PayloadType)
	if err != nil {
		return badInput(path, "%s payload type %s: %v", kind, pt, err)
	}
	if !strings.EqualFold(got.Name, codec.Name()) || got.ClockRate != codec.ClockRate {
		return badInput(path, "%s payload type %s is %s/%d, router uses %s/%d",
			kind, pt, got.Name, got.ClockRate, codec.Name(), codec.ClockRate)
	}
	return nil
}

// Render builds a document listing only the requested kinds.
func (d *Documents) Render(req core.InputRequest) ([]byte, error) {
	ip := d.cfg.IP
	doc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: ip,
		},
		SessionName: "relaygw",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: ip},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{}}},
	}
	for _, kind := range req.Kinds {
		codec := req.AudioCodec
		if kind == domain.Video {
			codec = req.VideoCodec
		}
		target, ok := d.cfg.Targets[kind]
		if !ok {
			return nil, domain.E(domain.KindConfiguration, "render input document",
				fmt.Errorf("%w: no streaming target for %s", domain.ErrBadInput, kind))
		}
		md := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:  string(kind),
				Port:   sdp.RangedPort{Value: target.Port},
				Protos: []string{"RTP", "AVPF"},
			},
		}
		md = md.WithValueAttribute("rtcp", strconv.Itoa(target.RTCPPort))
		md = md.WithCodec(codec.PayloadType, codec.Name(), codec.ClockRate, codec.Channels, codec.FmtpLine())
		doc.MediaDescriptions = append(doc.MediaDescriptions, md)
	}
	body, err := doc.Marshal()
	if err != nil {
		return nil, domain.E(domain.KindInternal, "render input document", err)
	}
	return body, nil
}

func badInput(path, format string, args ...any) error {
	return domain.E(domain.KindConfiguration, "validate "+path,
		fmt.Errorf("%w: %s", domain.ErrBadInput, fmt.Sprintf(format, args...)))
}
