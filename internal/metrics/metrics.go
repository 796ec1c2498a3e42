// Package metrics exposes gateway counters on a private Prometheus registry.
// Every method is safe on a nil *Metrics so components can run without one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dkeye/relaygw/internal/domain"
)

const namespace = "relaygw"

type Metrics struct {
	registry *prometheus.Registry

	state        *prometheus.GaugeVec
	commands     *prometheus.CounterVec
	encoderExits *prometheus.CounterVec
	packets      *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	peers        prometheus.Gauge
	dropped      prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_commands_total",
			Help:      "Session commands processed, by command and outcome kind.",
		}, []string{"command", "outcome"}),
		encoderExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encoder_exits_total",
			Help:      "Encoder subprocess exits by classification.",
		}, []string{"result"}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "packets_forwarded_total",
			Help:      "RTP packets forwarded toward the encoder.",
		}, []string{"kind"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "bytes_forwarded_total",
			Help:      "RTP bytes forwarded toward the encoder.",
		}, []string{"kind"}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "peers",
			Help:      "Connected signaling peers.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "dropped_frames_total",
			Help:      "Frames dropped because a peer send queue was full.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.state, m.commands, m.encoderExits, m.packets, m.bytes, m.peers, m.dropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetState(s domain.State) {
	if m == nil {
		return
	}
	for _, st := range domain.States {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(string(st)).Set(v)
	}
}

func (m *Metrics) ObserveCommand(command string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
	}
	m.commands.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) EncoderExited(clean bool) {
	if m == nil {
		return
	}
	result := "abnormal"
	if clean {
		result = "clean"
	}
	m.encoderExits.WithLabelValues(result).Inc()
}

func (m *Metrics) PacketForwarded(kind domain.MediaKind, size int) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(string(kind)).Inc()
	m.bytes.WithLabelValues(string(kind)).Add(float64(size))
}

func (m *Metrics) SetPeers(n int) {
	if m == nil {
		return
	}
	m.peers.Set(float64(n))
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
