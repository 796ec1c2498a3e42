package encoder

import "github.com/dkeye/relaygw/internal/core"

// Args is the encoder argument list: read RTP described by the input
// document, transcode to AAC and H.264, push FLV to the destination.
func (s *Supervisor) Args(req core.SpawnRequest) []string {
	return []string{
		"-nostdin",
		"-protocol_whitelist", "file,rtp,udp",
		"-fflags", "+genpts",
		"-i", req.Input,
		"-acodec", valueOr(s.cfg.AudioCodec, "aac"),
		"-vcodec", valueOr(s.cfg.VideoCodec, "libx264"),
		"-preset", valueOr(s.cfg.Preset, "ultrafast"),
		"-tune", valueOr(s.cfg.Tune, "zerolatency"),
		"-f", "flv",
		req.Destination,
	}
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
