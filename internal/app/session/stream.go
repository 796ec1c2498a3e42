package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
)

func (c *Controller) startStream(destination string) error {
	if err := guard(c.machine, evStartStream); err != nil {
		return err
	}
	s := c.sess
	kinds := s.Kinds()
	if len(kinds) == 0 {
		return domain.E(domain.KindClient, "start stream", domain.ErrNoProducers)
	}
	if destination == "" {
		destination = c.cfg.Destination
	}
	if err := fire(c.loopCtx, c.machine, evStartStream); err != nil {
		return err
	}

	err := c.runStream(s, destination, kinds)
	if err == nil {
		return fire(c.loopCtx, c.machine, evStreamReady)
	}

	log.Warn().Err(err).Str("module", "session").Msg("stream start failed, tearing down outbound side")
	c.teardownStream()
	if domain.KindOf(err) == domain.KindEngine {
		c.teardownAll("engine failure")
		c.setIdle()
		return err
	}
	if ferr := fire(c.loopCtx, c.machine, evStreamFailed); ferr != nil {
		log.Error().Err(ferr).Str("module", "session").Msg("state after failed start")
	}
	return err
}

// runStream opens one paused leg per kind, starts the encoder, waits for it
// and only then resumes the consumers.
func (c *Controller) runStream(s *Session, destination string, kinds []domain.MediaKind) error {
	ctx := c.loopCtx

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range kinds {
		g.Go(func() error {
			leg, err := c.openLeg(gctx, s, kind)
			if leg != nil {
				mu.Lock()
				s.outbound[kind] = leg
				mu.Unlock()
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := c.encoder.Preflight(ctx); err != nil {
		return err
	}
	doc, err := c.inputs.Input(ctx, core.InputRequest{
		AudioCodec: s.AudioCodec,
		VideoCodec: s.VideoCodec,
		Kinds:      kinds,
	})
	if err != nil {
		return err
	}
	s.input = &doc

	proc, err := c.encoder.Spawn(ctx, core.SpawnRequest{Input: doc.Path, Destination: destination})
	if err != nil {
		return err
	}
	s.encoder = proc
	s.destination = destination
	go func() {
		select {
		case <-proc.Done():
			c.post(command{kind: cmdEncoderExited, process: proc})
		case <-c.done:
		}
	}()

	if err := proc.WaitReady(ctx); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	for _, leg := range s.outbound {
		g.Go(func() error {
			if err := leg.consumer.Resume(gctx); err != nil {
				return domain.E(domain.KindEngine, "resume consumer", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().
		Str("module", "session").
		Int("pid", proc.PID()).
		Str("destination", destination).
		Int("kinds", len(kinds)).
		Msg("streaming")
	return nil
}

func (c *Controller) openLeg(ctx context.Context, s *Session, kind domain.MediaKind) (*outboundLeg, error) {
	target, ok := c.cfg.Targets[kind]
	if !ok {
		return nil, domain.E(domain.KindConfiguration, "open outbound "+string(kind),
			fmt.Errorf("%w: no streaming target for %s", domain.ErrBadInput, kind))
	}
	t, err := s.router.CreatePlainTransport(ctx, c.cfg.PlainTransport)
	if err != nil {
		return nil, domain.E(domain.KindEngine, "open outbound "+string(kind), err)
	}
	leg := &outboundLeg{transport: t}
	if err := t.Connect(ctx, target); err != nil {
		return leg, domain.E(domain.KindEngine, "connect outbound "+string(kind), err)
	}
	consumer, err := t.Consume(ctx, s.producers[kind], s.router.Capabilities())
	if err != nil {
		return leg, domain.E(domain.KindEngine, "consume "+string(kind), err)
	}
	leg.consumer = consumer
	log.Info().
		Str("module", "session").
		Str("kind", string(kind)).
		Str("rtp", t.Tuple().String()).
		Str("rtcp", t.RTCPTuple().String()).
		Bool("paused", consumer.Paused()).
		Msg("outbound leg ready")
	return leg, nil
}

func (c *Controller) stopStream() error {
	if c.state != domain.StateStreaming {
		log.Info().Str("module", "session").Str("state", string(c.state)).Msg("stop requested while not streaming, ignoring")
		return nil
	}
	if err := fire(c.loopCtx, c.machine, evStopStream); err != nil {
		return err
	}
	c.teardownStream()
	return fire(c.loopCtx, c.machine, evStreamStopped)
}

// stopEncoder interrupts the encoder and waits for its exit, killing it
// after the stop timeout.
func (c *Controller) stopEncoder(p core.EncoderProcess) {
	logger := log.With().Str("module", "session").Int("pid", p.PID()).Logger()
	if err := p.Stop(); err != nil {
		logger.Warn().Err(err).Msg("interrupt encoder")
	}
	timer := time.NewTimer(c.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-p.Done():
		return
	case <-timer.C:
	}
	logger.Warn().Dur("timeout", c.cfg.StopTimeout).Msg("encoder ignored interrupt, killing")
	if err := p.Kill(); err != nil {
		logger.Error().Err(err).Msg("kill encoder")
	}
	timer.Reset(c.cfg.StopTimeout)
	select {
	case <-p.Done():
	case <-timer.C:
		logger.Error().Msg("encoder did not exit after kill")
	}
}

// teardownStream releases the encoder and every outbound leg. Safe to call
// with nothing to release.
func (c *Controller) teardownStream() {
	s := c.sess
	if s == nil {
		return
	}
	if s.encoder != nil {
		c.stopEncoder(s.encoder)
		s.encoder = nil
		s.destination = ""
	}
	var result *multierror.Error
	for kind, leg := range s.outbound {
		if leg.consumer != nil {
			result = multierror.Append(result, core.CloseQuietly(leg.consumer))
		}
		result = multierror.Append(result, core.CloseQuietly(leg.transport))
		delete(s.outbound, kind)
	}
	if s.input != nil {
		if s.input.Cleanup != nil {
			result = multierror.Append(result, s.input.Cleanup())
		}
		s.input = nil
	}
	if err := result.ErrorOrNil(); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("outbound teardown")
	}
}

func (c *Controller) closeIngest() {
	s := c.sess
	var result *multierror.Error
	for kind, p := range s.producers {
		result = multierror.Append(result, core.CloseQuietly(p))
		delete(s.producers, kind)
	}
	result = multierror.Append(result, core.CloseQuietly(s.ingest))
	s.ingest = nil
	s.connected = false
	if err := result.ErrorOrNil(); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("inbound teardown")
	}
}

// teardownAll releases the session in dependency order: encoder, outbound
// legs, producers, inbound transport, router, worker.
func (c *Controller) teardownAll(reason string) {
	s := c.sess
	if s == nil {
		return
	}
	log.Info().Str("module", "session").Str("session", s.ID).Str("reason", reason).Msg("tearing down session")
	c.teardownStream()
	c.closeIngest()
	var result *multierror.Error
	result = multierror.Append(result, core.CloseQuietly(s.router))
	result = multierror.Append(result, core.CloseQuietly(s.worker))
	if err := result.ErrorOrNil(); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("engine teardown")
	}
	close(s.quit)
	c.sess = nil
}
