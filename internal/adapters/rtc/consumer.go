package rtc

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/dkeye/relaygw/internal/app/sfu"
	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
)

const senderReportInterval = time.Second

// Consumer forwards one producer to a plain transport. Packets get the router
// payload type, the consumer SSRC and a shifted sequence number.
type Consumer struct {
	id        string
	kind      domain.MediaKind
	ssrc      uint32
	pt        uint8
	clockRate uint32
	seqOffset uint16
	producer  *Producer
	transport *PlainTransport
	track     *sfu.OutTrack
	logger    zerolog.Logger

	packets   atomic.Uint32
	octets    atomic.Uint32
	lastTS    atomic.Uint32
	lastWrite atomic.Int64

	closeOnce sync.Once
	stop      chan struct{}
}

func newConsumer(t *PlainTransport, p *Producer, codec domain.Codec) *Consumer {
	c := &Consumer{
		id:        uuid.NewString(),
		kind:      p.kind,
		ssrc:      rand.Uint32(),
		pt:        codec.PayloadType,
		clockRate: codec.ClockRate,
		seqOffset: uint16(rand.UintN(1 << 15)),
		producer:  p,
		transport: t,
		stop:      make(chan struct{}),
	}
	c.logger = t.logger.With().Str("consumer", c.id).Str("kind", string(c.kind)).Logger()
	c.track = sfu.NewOutTrack(c.id, c)
	c.logger.Info().Uint32("ssrc", c.ssrc).Uint8("pt", c.pt).Msg("consumer created paused")
	return c
}

func (c *Consumer) ID() string { return c.id }

func (c *Consumer) Kind() domain.MediaKind { return c.kind }

func (c *Consumer) ProducerID() string { return c.producer.id }

func (c *Consumer) Paused() bool { return c.track.GetState() != sfu.TrackStateOk }

func (c *Consumer) SSRC() uint32 { return c.ssrc }

// Resume starts forwarding. Video consumers ask for a key frame so the
// encoder can start decoding immediately.
func (c *Consumer) Resume(_ context.Context) error {
	if !c.track.MarkOk() {
		return domain.E(domain.KindEngine, "resume consumer", domain.ErrClosed)
	}
	c.logger.Info().Msg("consumer resumed")
	if c.kind == domain.Video {
		if err := c.producer.RequestKeyFrame(); err != nil {
			c.logger.Warn().Err(err).Msg("key frame request failed")
		}
	}
	return nil
}

// WriteRTP implements sfu.Sink. The shared packet is copied before rewriting.
// Socket errors other than close are dropped so a slow encoder start does not
// detach the consumer.
func (c *Consumer) WriteRTP(pkt *rtp.Packet) error {
	out := *pkt
	out.Header.PayloadType = c.pt
	out.Header.SSRC = c.ssrc
	out.Header.SequenceNumber = pkt.SequenceNumber + c.seqOffset
	b, err := out.Marshal()
	if err != nil {
		return err
	}
	if err := c.transport.writeRTP(b); err != nil {
		if errors.Is(err, domain.ErrClosed) {
			return err
		}
		c.logger.Debug().Err(err).Msg("rtp write failed")
		return nil
	}
	c.packets.Add(1)
	c.octets.Add(uint32(len(out.Payload)))
	c.lastTS.Store(out.Timestamp)
	c.lastWrite.Store(time.Now().UnixNano())
	c.transport.router.worker.metrics.PacketForwarded(c.kind, len(b))
	return nil
}

// reportLoop sends sender reports on the RTCP leg while packets flow.
func (c *Consumer) reportLoop() {
	ticker := time.NewTicker(senderReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if c.packets.Load() == 0 {
				continue
			}
			if err := c.sendReport(time.Now()); err != nil {
				if errors.Is(err, domain.ErrClosed) {
					return
				}
				c.logger.Debug().Err(err).Msg("sender report failed")
			}
		}
	}
}

func (c *Consumer) senderReport(now time.Time) *rtcp.SenderReport {
	rtpTime := c.lastTS.Load()
	if last := c.lastWrite.Load(); last > 0 && c.clockRate > 0 {
		elapsed := now.Sub(time.Unix(0, last))
		rtpTime += uint32(elapsed.Seconds() * float64(c.clockRate))
	}
	return &rtcp.SenderReport{
		SSRC:        c.ssrc,
		NTPTime:     ntpTime(now),
		RTPTime:     rtpTime,
		PacketCount: c.packets.Load(),
		OctetCount:  c.octets.Load(),
	}
}

func (c *Consumer) sendReport(now time.Time) error {
	b, err := c.senderReport(now).Marshal()
	if err != nil {
		return err
	}
	return c.transport.writeRTCP(b)
}

// ntpTime converts t to the 64-bit NTP fixed point format.
func ntpTime(t time.Time) uint64 {
	const ntpEpochOffset = 2208988800
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / 1e9
	return secs<<32 | frac
}

func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		c.track.MarkDelete()
		close(c.stop)
		c.transport.forgetConsumer(c.id)
		c.logger.Info().Msg("consumer closed")
	})
	return nil
}

var _ core.Consumer = (*Consumer)(nil)
