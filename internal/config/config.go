package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/relaygw/internal/domain"
)

var ErrMissingCertificate = errors.New("certificate files not found")

type Config struct {
	Mode     string         `mapstructure:"mode" validate:"oneof=debug release test"`
	LogLevel string         `mapstructure:"log_level"`
	Server   ServerConfig   `mapstructure:"server"`
	Signal   SignalConfig   `mapstructure:"signal"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Encoder  EncoderConfig  `mapstructure:"encoder"`
	SDP      SDPConfig      `mapstructure:"sdp"`
	PublicIP PublicIPConfig `mapstructure:"public_ip"`
	Restart  RestartConfig  `mapstructure:"restart"`
}

type ServerConfig struct {
	IP         string   `mapstructure:"ip" validate:"omitempty,ip"`
	Port       int      `mapstructure:"port" validate:"min=1,max=65535"`
	Cert       string   `mapstructure:"cert"`
	CertKey    string   `mapstructure:"cert_key"`
	StaticDirs []string `mapstructure:"static_dirs"`
	Secret     string   `mapstructure:"secret"`
}

type SignalConfig struct {
	ReadLimit    int64         `mapstructure:"read_limit" validate:"min=1024"`
	PingPeriod   time.Duration `mapstructure:"ping_period" validate:"min=0"`
	PongTimeout  time.Duration `mapstructure:"pong_timeout" validate:"min=0"`
	SendBuffer   int           `mapstructure:"send_buffer" validate:"min=1"`
	RateLimit    int           `mapstructure:"rate_limit" validate:"min=0"`
	RateInterval time.Duration `mapstructure:"rate_interval" validate:"min=0"`
}

type RelayConfig struct {
	Worker          WorkerConfig          `mapstructure:"worker"`
	Codecs          []domain.Codec        `mapstructure:"codecs" validate:"dive"`
	WebRTCTransport WebRTCTransportConfig `mapstructure:"webrtc_transport"`
	PlainTransport  PlainTransportConfig  `mapstructure:"plain_transport"`
	Streaming       StreamingConfig       `mapstructure:"streaming"`
}

type WorkerConfig struct {
	LogLevel   string `mapstructure:"log_level"`
	RTCMinPort uint16 `mapstructure:"rtc_min_port" validate:"min=1"`
	RTCMaxPort uint16 `mapstructure:"rtc_max_port" validate:"gtefield=RTCMinPort"`
}

type ListenIP struct {
	IP          string `mapstructure:"ip" validate:"required,ip"`
	AnnouncedIP string `mapstructure:"announced_ip" validate:"omitempty,ip"`
}

type WebRTCTransportConfig struct {
	ListenIPs                       []ListenIP    `mapstructure:"listen_ips" validate:"min=1,dive"`
	EnableUDP                       bool          `mapstructure:"enable_udp"`
	EnableTCP                       bool          `mapstructure:"enable_tcp"`
	PreferUDP                       bool          `mapstructure:"prefer_udp"`
	InitialAvailableOutgoingBitrate int           `mapstructure:"initial_available_outgoing_bitrate"`
	ConnectTimeout                  time.Duration `mapstructure:"connect_timeout" validate:"min=0"`
}

type PlainTransportConfig struct {
	ListenIP ListenIP `mapstructure:"listen_ip"`
}

// StreamingConfig is where the encoder listens; it must match the SDP documents.
type StreamingConfig struct {
	IP            string `mapstructure:"ip" validate:"required,ip"`
	AudioPort     int    `mapstructure:"audio_port" validate:"min=1,max=65535"`
	AudioRTCPPort int    `mapstructure:"audio_rtcp_port" validate:"min=1,max=65535"`
	VideoPort     int    `mapstructure:"video_port" validate:"min=1,max=65535"`
	VideoRTCPPort int    `mapstructure:"video_rtcp_port" validate:"min=1,max=65535"`
}

type EncoderConfig struct {
	Binary       string        `mapstructure:"binary" validate:"required"`
	MinVersion   string        `mapstructure:"min_version" validate:"required"`
	OutputURL    string        `mapstructure:"output_url" validate:"required"`
	AudioCodec   string        `mapstructure:"audio_codec"`
	VideoCodec   string        `mapstructure:"video_codec"`
	Preset       string        `mapstructure:"preset"`
	Tune         string        `mapstructure:"tune"`
	ReadyPrefix  string        `mapstructure:"ready_prefix" validate:"required"`
	SettleDelay  time.Duration `mapstructure:"settle_delay" validate:"min=0"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout" validate:"gtfield=SettleDelay"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout" validate:"min=0"`
}

type SDPConfig struct {
	Mode     string `mapstructure:"mode" validate:"oneof=file generate"`
	Dir      string `mapstructure:"dir"`
	VP8File  string `mapstructure:"vp8_file"`
	H264File string `mapstructure:"h264_file"`
	TempDir  string `mapstructure:"temp_dir"`
}

type PublicIPConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RestartConfig struct {
	FatalDelay time.Duration `mapstructure:"fatal_delay"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.ip", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.cert", "cert/fullchain.pem")
	v.SetDefault("server.cert_key", "cert/privkey.pem")
	v.SetDefault("server.static_dirs", []string{"./web", "./app"})
	v.SetDefault("server.secret", "relaygw")

	v.SetDefault("signal.read_limit", 65536)
	v.SetDefault("signal.ping_period", "25s")
	v.SetDefault("signal.pong_timeout", "5s")
	v.SetDefault("signal.send_buffer", 32)
	v.SetDefault("signal.rate_limit", 20)
	v.SetDefault("signal.rate_interval", "1s")

	v.SetDefault("relay.worker.log_level", "debug")
	v.SetDefault("relay.worker.rtc_min_port", 32256)
	v.SetDefault("relay.worker.rtc_max_port", 65535)
	v.SetDefault("relay.webrtc_transport.listen_ips", []map[string]any{{"ip": "0.0.0.0"}})
	v.SetDefault("relay.webrtc_transport.enable_udp", true)
	v.SetDefault("relay.webrtc_transport.enable_tcp", true)
	v.SetDefault("relay.webrtc_transport.prefer_udp", true)
	v.SetDefault("relay.webrtc_transport.initial_available_outgoing_bitrate", 300000)
	v.SetDefault("relay.webrtc_transport.connect_timeout", "15s")
	v.SetDefault("relay.plain_transport.listen_ip.ip", "127.0.0.1")
	v.SetDefault("relay.streaming.ip", "127.0.0.1")
	v.SetDefault("relay.streaming.audio_port", 5004)
	v.SetDefault("relay.streaming.audio_rtcp_port", 5005)
	v.SetDefault("relay.streaming.video_port", 5006)
	v.SetDefault("relay.streaming.video_rtcp_port", 5007)

	v.SetDefault("encoder.binary", "ffmpeg")
	v.SetDefault("encoder.min_version", "4.0.0")
	v.SetDefault("encoder.output_url", "rtmp://127.0.0.1:1935/live/stream")
	v.SetDefault("encoder.audio_codec", "aac")
	v.SetDefault("encoder.video_codec", "libx264")
	v.SetDefault("encoder.preset", "ultrafast")
	v.SetDefault("encoder.tune", "zerolatency")
	v.SetDefault("encoder.ready_prefix", "ffmpeg version")
	v.SetDefault("encoder.settle_delay", "1s")
	v.SetDefault("encoder.ready_timeout", "10s")
	v.SetDefault("encoder.stop_timeout", "10s")

	v.SetDefault("sdp.mode", "file")
	v.SetDefault("sdp.dir", "./sdp")
	v.SetDefault("sdp.vp8_file", "vp8.sdp")
	v.SetDefault("sdp.h264_file", "h264.sdp")

	v.SetDefault("public_ip.enabled", false)
	v.SetDefault("public_ip.url", "https://icanhazip.com")
	v.SetDefault("public_ip.timeout", "3s")

	v.SetDefault("restart.fatal_delay", "3s")
}

// Load reads fileName, or config/config.<CONFIG_ENV>.yaml when empty.
// RELAYGW_* environment variables override file values.
func Load(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}

	v.SetConfigFile(fileName)
	v.SetEnvPrefix("relaygw")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.Relay.Codecs) == 0 {
		cfg.Relay.Codecs = domain.DefaultCodecs()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Server.Port).
		Strs("static", cfg.Server.StaticDirs).
		Str("output", cfg.Encoder.OutputURL).
		Msg("config ready")
	return &cfg, nil
}

// Validate checks struct constraints and the codec table.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return domain.E(domain.KindConfiguration, "validate config", err)
	}
	var audio bool
	for _, codec := range c.Relay.Codecs {
		kind, ok := domain.KindOfMimeType(codec.MimeType)
		if !ok || kind != codec.Kind {
			return domain.E(domain.KindConfiguration, "validate config",
				fmt.Errorf("%w: %s does not match kind %s", domain.ErrUnsupportedCodec, codec.MimeType, codec.Kind))
		}
		audio = audio || kind == domain.Audio
	}
	if !audio {
		return domain.E(domain.KindConfiguration, "validate config",
			fmt.Errorf("%w: no audio codec configured", domain.ErrUnsupportedCodec))
	}
	return nil
}

// TLSEnabled reports whether certificate paths are configured.
func (c *Config) TLSEnabled() bool {
	return c.Server.Cert != "" && c.Server.CertKey != ""
}

// CheckCertificates fails when configured certificate files are missing.
func (c *Config) CheckCertificates() error {
	if !c.TLSEnabled() {
		return nil
	}
	for _, p := range []string{c.Server.Cert, c.Server.CertKey} {
		if _, err := os.Stat(p); err != nil {
			return domain.E(domain.KindConfiguration, "load certificates", fmt.Errorf("%w: %s", ErrMissingCertificate, p))
		}
	}
	return nil
}
