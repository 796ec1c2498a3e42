package session

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
)

type commandKind int

const (
	cmdStartEngine commandKind = iota
	cmdOpenIngest
	cmdConnectIngest
	cmdProduce
	cmdStartStream
	cmdStopStream
	cmdReset
	cmdEncoderExited
	cmdWorkerDied
	cmdIngestFailed
)

func (k commandKind) String() string {
	switch k {
	case cmdStartEngine:
		return "start_engine"
	case cmdOpenIngest:
		return "open_ingest"
	case cmdConnectIngest:
		return "connect_ingest"
	case cmdProduce:
		return "produce"
	case cmdStartStream:
		return "start_stream"
	case cmdStopStream:
		return "stop_stream"
	case cmdReset:
		return "reset"
	case cmdEncoderExited:
		return "encoder_exited"
	case cmdWorkerDied:
		return "worker_died"
	case cmdIngestFailed:
		return "ingest_failed"
	}
	return "unknown"
}

func (k commandKind) external() bool {
	return k != cmdEncoderExited && k != cmdWorkerDied && k != cmdIngestFailed
}

type command struct {
	kind  commandKind
	reply chan result

	videoCodec  string
	connect     core.ConnectParameters
	produce     core.ProduceParameters
	destination string

	process core.EncoderProcess
	worker  core.Worker
	ingest  core.WebRTCTransport
	err     error
}

type result struct {
	value any
	err   error
}

func (c *Controller) dispatch(cmd command) result {
	switch cmd.kind {
	case cmdStartEngine:
		caps, err := c.startEngine(cmd.videoCodec)
		return result{value: caps, err: err}
	case cmdOpenIngest:
		params, err := c.openIngest()
		return result{value: params, err: err}
	case cmdConnectIngest:
		return result{err: c.connectIngest(cmd.connect)}
	case cmdProduce:
		id, err := c.produce(cmd.produce)
		return result{value: id, err: err}
	case cmdStartStream:
		return result{err: c.startStream(cmd.destination)}
	case cmdStopStream:
		return result{err: c.stopStream()}
	case cmdReset:
		c.teardownAll("reset")
		c.setIdle()
		return result{}
	case cmdEncoderExited:
		c.encoderExited(cmd.process)
		return result{}
	case cmdWorkerDied:
		c.workerDied(cmd.worker, cmd.err)
		return result{}
	case cmdIngestFailed:
		c.ingestFailed(cmd.ingest, cmd.err)
		return result{}
	}
	return result{err: domain.E(domain.KindInternal, "dispatch", fmt.Errorf("unknown command %d", cmd.kind))}
}

// selectCodecs picks the audio entry and the video entry named by name from
// the static table.
func selectCodecs(table []domain.Codec, name string) (domain.Codec, domain.Codec, error) {
	var audio, video domain.Codec
	var haveAudio, haveVideo bool
	for _, codec := range table {
		switch {
		case codec.Kind == domain.Audio && !haveAudio:
			audio, haveAudio = codec, true
		case codec.Kind == domain.Video && !haveVideo && name != "" && codec.Is(name):
			video, haveVideo = codec, true
		}
	}
	if !haveVideo {
		return audio, video, domain.E(domain.KindClient, "start engine",
			fmt.Errorf("%w: video codec %q", domain.ErrUnsupportedCodec, name))
	}
	if !haveAudio {
		return audio, video, domain.E(domain.KindConfiguration, "start engine",
			fmt.Errorf("%w: no audio codec configured", domain.ErrUnsupportedCodec))
	}
	return audio, video, nil
}

func (c *Controller) startEngine(videoCodec string) (core.RTPCapabilities, error) {
	audio, video, err := selectCodecs(c.cfg.Codecs, videoCodec)
	if err != nil {
		return core.RTPCapabilities{}, err
	}
	if c.sess != nil {
		c.teardownAll("restart engine")
		c.setIdle()
	}

	ctx := c.loopCtx
	worker, err := c.engine.StartWorker(ctx, c.cfg.Worker)
	if err != nil {
		return core.RTPCapabilities{}, domain.E(domain.KindEngine, "start engine", fmt.Errorf("%w: %w", domain.ErrEngineStart, err))
	}
	router, err := worker.CreateRouter(ctx, []domain.Codec{audio, video})
	if err != nil {
		if cerr := core.CloseQuietly(worker); cerr != nil {
			log.Warn().Err(cerr).Str("module", "session").Msg("close worker after router failure")
		}
		return core.RTPCapabilities{}, domain.E(domain.KindEngine, "create router", err)
	}

	c.sess = newSession(newSessionID(), audio, video, worker, router)
	c.watchWorker(c.sess)
	if err := fire(ctx, c.machine, evStartEngine); err != nil {
		return core.RTPCapabilities{}, err
	}
	log.Info().
		Str("module", "session").
		Str("session", c.sess.ID).
		Str("audio", audio.MimeType).
		Str("video", video.MimeType).
		Msg("relay engine ready")
	return router.Capabilities(), nil
}

func (c *Controller) watchWorker(s *Session) {
	w := s.worker
	go func() {
		select {
		case err, ok := <-w.Died():
			if !ok {
				return
			}
			c.post(command{kind: cmdWorkerDied, worker: w, err: err})
		case <-s.quit:
		case <-c.done:
		}
	}()
}

func (c *Controller) openIngest() (core.TransportParameters, error) {
	if err := guard(c.machine, evOpenIngest); err != nil {
		return core.TransportParameters{}, err
	}
	s := c.sess
	if s.ingest != nil {
		log.Info().Str("module", "session").Str("transport", s.ingest.ID()).Msg("replacing inbound transport")
		c.closeIngest()
	}
	t, err := s.router.CreateWebRTCTransport(c.loopCtx, c.cfg.WebRTCTransport)
	if err != nil {
		return core.TransportParameters{}, domain.E(domain.KindEngine, "open ingest", err)
	}
	s.ingest = t
	if err := fire(c.loopCtx, c.machine, evOpenIngest); err != nil {
		return core.TransportParameters{}, err
	}
	return t.Parameters(), nil
}

// connectIngest hands the client parameters to the inbound transport. Any
// failure other than a repeated connect ends the session.
func (c *Controller) connectIngest(params core.ConnectParameters) error {
	if err := guard(c.machine, evConnectIngest); err != nil {
		return err
	}
	s := c.sess
	if err := s.ingest.Connect(c.loopCtx, params); err != nil {
		if errors.Is(err, domain.ErrAlreadyConnected) {
			return domain.E(domain.KindInternal, "connect ingest", err)
		}
		if !errors.Is(err, domain.ErrConnect) {
			err = fmt.Errorf("%w: %w", domain.ErrConnect, err)
		}
		err = domain.E(domain.KindEngine, "connect ingest", err)
		log.Warn().Err(err).Str("module", "session").Str("transport", s.ingest.ID()).Msg("inbound connect failed, resetting")
		c.teardownAll("connect failed")
		c.setIdle()
		return err
	}
	s.connected = true
	c.watchIngest(s, s.ingest)
	return fire(c.loopCtx, c.machine, evConnectIngest)
}

func (c *Controller) watchIngest(s *Session, t core.WebRTCTransport) {
	go func() {
		select {
		case err, ok := <-t.Failed():
			if !ok {
				return
			}
			c.post(command{kind: cmdIngestFailed, ingest: t, err: err})
		case <-s.quit:
		case <-c.done:
		}
	}()
}

// ingestFailed ends the session when the inbound handshake or its
// connectivity fails after the connect request was answered.
func (c *Controller) ingestFailed(t core.WebRTCTransport, err error) {
	if c.sess == nil || c.sess.ingest != t {
		return
	}
	if !errors.Is(err, domain.ErrConnect) {
		err = fmt.Errorf("%w: %w", domain.ErrConnect, err)
	}
	err = domain.E(domain.KindEngine, "connect ingest", err)
	log.Error().Err(err).Str("module", "session").Str("transport", t.ID()).Msg("inbound transport failed, resetting")
	c.teardownAll("ingest failed")
	c.setIdle()
	c.broker.Publish(Event{Type: EventFatal, State: c.state, Err: err})
}

func (c *Controller) produce(params core.ProduceParameters) (string, error) {
	if err := guard(c.machine, evProduce); err != nil {
		return "", err
	}
	if _, err := params.MediaKind(); err != nil {
		return "", domain.E(domain.KindClient, "produce", err)
	}
	s := c.sess
	p, err := s.ingest.Produce(c.loopCtx, params)
	if err != nil {
		err = domain.E(domain.KindEngine, "produce", err)
		if domain.KindOf(err) == domain.KindEngine {
			log.Warn().Err(err).Str("module", "session").Msg("produce failed, resetting")
			c.teardownAll("produce failed")
			c.setIdle()
		}
		return "", err
	}
	kind := p.Kind()
	if old, ok := s.producers[kind]; ok {
		log.Info().Str("module", "session").Str("kind", string(kind)).Str("producer", old.ID()).Msg("replacing producer")
		if err := core.CloseQuietly(old); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("close replaced producer")
		}
	}
	s.producers[kind] = p
	if err := fire(c.loopCtx, c.machine, evProduce); err != nil {
		return "", err
	}
	log.Info().Str("module", "session").Str("kind", string(kind)).Str("producer", p.ID()).Msg("producer ready")
	c.broker.Publish(Event{Type: EventProducerReady, Kind: kind, State: c.state})
	return p.ID(), nil
}

// encoderExited handles an exit the controller did not ask for. Exits of
// handles no longer owned by the session are stale and ignored.
func (c *Controller) encoderExited(p core.EncoderProcess) {
	if c.sess == nil || c.sess.encoder != p {
		return
	}
	st := p.Exit()
	logger := log.With().Str("module", "session").Int("pid", p.PID()).Logger()
	warning := ""
	if st.Clean() {
		logger.Info().Int("code", st.Code).Msg("encoder exited, stream stopped")
	} else {
		warning = fmt.Sprintf("encoder exited unexpectedly (code %d, signal %q)", st.Code, st.SignalName())
		logger.Warn().Int("code", st.Code).Str("signal", st.SignalName()).Msg("encoder exited unexpectedly, output might be corrupt")
	}
	c.teardownStream()
	if err := fire(c.loopCtx, c.machine, evStreamFailed); err != nil {
		logger.Error().Err(err).Msg("state after encoder exit")
	}
	if warning != "" {
		c.broker.Publish(Event{Type: EventStreamWarning, State: c.state, Warning: warning})
	}
}

func (c *Controller) workerDied(w core.Worker, err error) {
	if c.sess == nil || c.sess.worker != w {
		return
	}
	fatal := domain.E(domain.KindEngine, "relay worker", fmt.Errorf("%w: %w", domain.ErrEngineDied, err))
	log.Error().Err(fatal).Str("module", "session").Str("worker", w.ID()).Msg("relay worker died, resetting")
	c.teardownAll("worker died")
	c.setIdle()
	c.broker.Publish(Event{Type: EventFatal, State: c.state, Err: fatal})
	select {
	case c.fatal <- fatal:
	default:
	}
}
