package main

import (
	"time"

	"github.com/dkeye/relaygw/internal/adapters/sdpdoc"
	gateway "github.com/dkeye/relaygw/internal/adapters/signal"
	"github.com/dkeye/relaygw/internal/app/encoder"
	"github.com/dkeye/relaygw/internal/app/session"
	"github.com/dkeye/relaygw/internal/config"
	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
)

func targets(cfg *config.Config) map[domain.MediaKind]core.RemoteAddr {
	s := cfg.Relay.Streaming
	return map[domain.MediaKind]core.RemoteAddr{
		domain.Audio: {IP: s.IP, Port: s.AudioPort, RTCPPort: s.AudioRTCPPort},
		domain.Video: {IP: s.IP, Port: s.VideoPort, RTCPPort: s.VideoRTCPPort},
	}
}

func sessionConfig(cfg *config.Config) session.Config {
	wt := cfg.Relay.WebRTCTransport
	listen := make([]core.ListenIP, 0, len(wt.ListenIPs))
	for _, l := range wt.ListenIPs {
		listen = append(listen, core.ListenIP{IP: l.IP, AnnouncedIP: l.AnnouncedIP})
	}
	return session.Config{
		Codecs: cfg.Relay.Codecs,
		Worker: core.WorkerConfig{
			LogLevel:   cfg.Relay.Worker.LogLevel,
			RTCMinPort: cfg.Relay.Worker.RTCMinPort,
			RTCMaxPort: cfg.Relay.Worker.RTCMaxPort,
		},
		WebRTCTransport: core.WebRTCTransportOptions{
			ListenIPs:                       listen,
			EnableUDP:                       wt.EnableUDP,
			EnableTCP:                       wt.EnableTCP,
			PreferUDP:                       wt.PreferUDP,
			InitialAvailableOutgoingBitrate: wt.InitialAvailableOutgoingBitrate,
			ConnectTimeout:                  wt.ConnectTimeout,
		},
		PlainTransport: core.PlainTransportOptions{
			ListenIP: core.ListenIP{
				IP:          cfg.Relay.PlainTransport.ListenIP.IP,
				AnnouncedIP: cfg.Relay.PlainTransport.ListenIP.AnnouncedIP,
			},
		},
		Targets:     targets(cfg),
		Destination: cfg.Encoder.OutputURL,
		StopTimeout: cfg.Encoder.StopTimeout,
	}
}

// teardownTimeout bounds the wait for the session on shutdown. A running
// encoder gets its whole stop timeout before it is killed.
func teardownTimeout(cfg *config.Config) time.Duration {
	stop := cfg.Encoder.StopTimeout
	if stop <= 0 {
		stop = 10 * time.Second
	}
	return stop + 5*time.Second
}

func encoderConfig(cfg *config.Config) encoder.Config {
	e := cfg.Encoder
	return encoder.Config{
		Binary:       e.Binary,
		MinVersion:   e.MinVersion,
		AudioCodec:   e.AudioCodec,
		VideoCodec:   e.VideoCodec,
		Preset:       e.Preset,
		Tune:         e.Tune,
		ReadyPrefix:  e.ReadyPrefix,
		SettleDelay:  e.SettleDelay,
		ReadyTimeout: e.ReadyTimeout,
	}
}

func sdpConfig(cfg *config.Config) sdpdoc.Config {
	return sdpdoc.Config{
		Mode:     cfg.SDP.Mode,
		Dir:      cfg.SDP.Dir,
		VP8File:  cfg.SDP.VP8File,
		H264File: cfg.SDP.H264File,
		TempDir:  cfg.SDP.TempDir,
		IP:       cfg.Relay.Streaming.IP,
		Targets:  targets(cfg),
	}
}

func gatewayOptions(cfg *config.Config) gateway.Options {
	s := cfg.Signal
	return gateway.Options{
		ReadLimit:    s.ReadLimit,
		PingPeriod:   s.PingPeriod,
		PongTimeout:  s.PongTimeout,
		SendBuffer:   s.SendBuffer,
		RateLimit:    s.RateLimit,
		RateInterval: s.RateInterval,
	}
}
