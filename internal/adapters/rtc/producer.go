package rtc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relaygw/internal/app/sfu"
	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
)

// Producer is one inbound RTP stream. Its track feeds an sfu relay keyed by
// the producer id.
type Producer struct {
	id        string
	kind      domain.MediaKind
	ssrc      uint32
	transport *WebRTCTransport
	receiver  *webrtc.RTPReceiver
	relay     *sfu.Relay

	closeOnce sync.Once
}

func newProducer(t *WebRTCTransport, kind domain.MediaKind, params core.ProduceParameters) (*Producer, error) {
	codec, _ := params.MediaCodec()
	receiver, err := t.api.NewRTPReceiver(codecType(kind), t.dtls)
	if err != nil {
		return nil, err
	}
	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(params.SSRC()),
				PayloadType: webrtc.PayloadType(codec.PayloadType),
			},
		}},
	})
	if err != nil {
		_ = receiver.Stop()
		return nil, err
	}

	p := &Producer{
		id:        uuid.NewString(),
		kind:      kind,
		ssrc:      params.SSRC(),
		transport: t,
		receiver:  receiver,
	}
	p.relay = t.router.relays.StartRelay(context.Background(), p.id, receiver.Track())
	log.Info().
		Str("module", "rtc").
		Str("producer", p.id).
		Str("kind", string(kind)).
		Str("mime", codec.MimeType).
		Uint32("ssrc", p.ssrc).
		Msg("producer created")
	return p, nil
}

func (p *Producer) ID() string { return p.id }

func (p *Producer) Kind() domain.MediaKind { return p.kind }

// RequestKeyFrame asks the browser for a new key frame on this stream.
func (p *Producer) RequestKeyFrame() error {
	if p.kind != domain.Video {
		return nil
	}
	ssrc := p.ssrc
	if track := p.receiver.Track(); track != nil && track.SSRC() != 0 {
		ssrc = uint32(track.SSRC())
	}
	_, err := p.transport.dtls.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
	return err
}

func (p *Producer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.transport.router.relays.StopRelay(p.id)
		err = ignoreClosed(p.receiver.Stop())
		p.transport.forgetProducer(p.id)
		log.Info().Str("module", "rtc").Str("producer", p.id).Msg("producer closed")
	})
	return err
}
