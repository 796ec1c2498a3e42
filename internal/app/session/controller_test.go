package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
)

type harness struct {
	c   *Controller
	l   *ledger
	eng *fakeEngine
	enc *fakeEncoder
	in  *fakeInputs
}

func newHarness(t *testing.T, opts ...func(*harness, *Config)) *harness {
	t.Helper()
	l := newLedger()
	h := &harness{
		l:   l,
		eng: &fakeEngine{l: l, plainErr: map[domain.MediaKind]error{}},
		enc: &fakeEncoder{l: l},
		in:  &fakeInputs{l: l},
	}
	cfg := Config{
		Codecs: domain.DefaultCodecs(),
		Targets: map[domain.MediaKind]core.RemoteAddr{
			domain.Audio: {IP: "127.0.0.1", Port: 5004, RTCPPort: 5005},
			domain.Video: {IP: "127.0.0.1", Port: 5006, RTCPPort: 5007},
		},
		Destination: "rtmp://127.0.0.1/live/default",
		StopTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(h, &cfg)
	}
	h.c = New(cfg, h.eng, h.enc, h.in, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

var connectParams = core.ConnectParameters{
	DTLSParameters: core.DTLSParameters{Role: "client", Fingerprints: []core.DTLSFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}}},
	ICEParameters:  core.ICEParameters{UsernameFragment: "ufrag", Password: "pwd"},
}

func produceParams(kind domain.MediaKind) core.ProduceParameters {
	mime, pt, rate := "audio/opus", uint8(111), uint32(48000)
	if kind == domain.Video {
		mime, pt, rate = "video/VP8", 96, 90000
	}
	return core.ProduceParameters{Kind: kind, RTPParameters: core.RTPParameters{
		Codecs:    []core.RTPCodecParameters{{MimeType: mime, PayloadType: pt, ClockRate: rate}},
		Encodings: []core.RTPEncoding{{SSRC: 1111}},
	}}
}

func (h *harness) produce(t *testing.T, codec string, kinds ...domain.MediaKind) {
	t.Helper()
	ctx := context.Background()
	_, err := h.c.StartEngine(ctx, codec)
	require.NoError(t, err)
	_, err = h.c.OpenIngest(ctx)
	require.NoError(t, err)
	require.NoError(t, h.c.ConnectIngest(ctx, connectParams))
	for _, k := range kinds {
		_, err := h.c.Produce(ctx, produceParams(k))
		require.NoError(t, err)
	}
	require.Equal(t, domain.StateProducing, h.c.Snapshot().State)
}

func (h *harness) stream(t *testing.T, codec string, kinds ...domain.MediaKind) {
	t.Helper()
	h.produce(t, codec, kinds...)
	require.NoError(t, h.c.StartStream(context.Background(), ""))
	require.Equal(t, domain.StateStreaming, h.c.Snapshot().State)
}

func waitState(t *testing.T, events <-chan Event, want domain.State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == EventState && ev.State == want {
				return
			}
		case <-deadline:
			t.Fatalf("state %s never published", want)
		}
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestStartEngineCapabilities(t *testing.T) {
	h := newHarness(t)
	caps, err := h.c.StartEngine(context.Background(), "VP8")
	require.NoError(t, err)
	require.Len(t, caps.Codecs, 2)
	assert.Equal(t, "audio/opus", caps.Codecs[0].MimeType)
	assert.Equal(t, "video/VP8", caps.Codecs[1].MimeType)
	assert.Equal(t, domain.StateEngineReady, h.c.Snapshot().State)

	caps, err = h.c.StartEngine(context.Background(), "h264")
	require.NoError(t, err)
	require.Len(t, caps.Codecs, 2)
	assert.Equal(t, "video/H264", caps.Codecs[1].MimeType)

	workers, routers, _ := h.l.count()
	assert.Equal(t, 1, workers)
	assert.Equal(t, 1, routers)
}

func TestUnsupportedCodecCreatesNothing(t *testing.T) {
	h := newHarness(t)
	_, err := h.c.StartEngine(context.Background(), "AV1")
	require.ErrorIs(t, err, domain.ErrUnsupportedCodec)
	assert.Equal(t, domain.KindClient, domain.KindOf(err))

	workers, routers, _ := h.l.count()
	assert.Zero(t, workers)
	assert.Zero(t, routers)
	assert.Nil(t, h.eng.lastWorker)
	assert.Equal(t, domain.StateIdle, h.c.Snapshot().State)

	_, err = h.c.StartEngine(context.Background(), "VP8")
	require.NoError(t, err)
}

func TestUnsupportedCodecKeepsRunningSession(t *testing.T) {
	h := newHarness(t)
	h.stream(t, "VP8", domain.Audio, domain.Video)

	_, err := h.c.StartEngine(context.Background(), "theora")
	require.ErrorIs(t, err, domain.ErrUnsupportedCodec)
	assert.Equal(t, domain.StateStreaming, h.c.Snapshot().State)
	assert.Equal(t, 2, h.l.livePlain())
}

func TestStopThenStartRecreatesSameKinds(t *testing.T) {
	h := newHarness(t)
	h.stream(t, "VP8", domain.Audio, domain.Video)
	assert.Equal(t, 2, h.l.livePlain())
	assert.Equal(t, []domain.MediaKind{domain.Audio, domain.Video}, h.l.liveConsumers())
	first := h.enc.last()

	require.NoError(t, h.c.StopStream(context.Background()))
	snap := h.c.Snapshot()
	assert.Equal(t, domain.StateProducing, snap.State)
	assert.Zero(t, h.l.livePlain())
	assert.Empty(t, h.l.liveConsumers())
	assert.Zero(t, snap.EncoderPID)
	st := first.Exit()
	assert.True(t, st.StopRequested)
	assert.True(t, st.Clean())

	require.NoError(t, h.c.StartStream(context.Background(), ""))
	assert.Equal(t, []domain.MediaKind{domain.Audio, domain.Video}, h.l.liveConsumers())
	_, _, ingests := h.l.count()
	assert.Equal(t, 1, ingests, "inbound side must survive stop")
}

func TestAudioOnlyOpensOneLeg(t *testing.T) {
	h := newHarness(t)
	h.stream(t, "VP8", domain.Audio)
	assert.Equal(t, 1, h.l.livePlain())
	assert.Equal(t, []domain.MediaKind{domain.Audio}, h.l.liveConsumers())
	require.Len(t, h.in.reqs, 1)
	assert.Equal(t, []domain.MediaKind{domain.Audio}, h.in.reqs[0].Kinds)
	assert.Equal(t, []domain.MediaKind{domain.Audio}, h.c.Snapshot().Kinds)
}

func TestDoubleStopIsNoop(t *testing.T) {
	h := newHarness(t)
	h.stream(t, "VP8", domain.Audio, domain.Video)

	require.NoError(t, h.c.StopStream(context.Background()))
	require.NoError(t, h.c.StopStream(context.Background()))
	assert.Equal(t, domain.StateProducing, h.c.Snapshot().State)
	assert.Empty(t, h.l.doubleCloses())

	stops := 0
	for _, ev := range h.l.eventList() {
		if ev == "stop" {
			stops++
		}
	}
	assert.Equal(t, 1, stops)
}

func TestH264SelectsH264Document(t *testing.T) {
	h := newHarness(t)
	h.stream(t, "H264", domain.Audio, domain.Video)
	require.Len(t, h.enc.spawn, 1)
	assert.Equal(t, "sdp/h264.sdp", h.enc.spawn[0].Input)
	assert.Equal(t, "rtmp://127.0.0.1/live/default", h.enc.spawn[0].Destination)
	assert.Equal(t, "video/H264", h.c.Snapshot().VideoCodec)
}

func TestDestinationOverride(t *testing.T) {
	h := newHarness(t)
	h.produce(t, "VP8", domain.Audio)
	require.NoError(t, h.c.StartStream(context.Background(), "rtmp://example/live/key"))
	assert.Equal(t, "rtmp://example/live/key", h.enc.spawn[0].Destination)
	assert.Equal(t, "rtmp://example/live/key", h.c.Snapshot().Destination)
}

func TestConsumersResumeOnlyAfterReady(t *testing.T) {
	h := newHarness(t)
	h.stream(t, "VP8", domain.Audio, domain.Video)

	events := h.l.eventList()
	ready := slices.Index(events, "ready")
	require.GreaterOrEqual(t, ready, 0)
	for _, kind := range []string{"resume audio", "resume video"} {
		i := slices.Index(events, kind)
		require.GreaterOrEqual(t, i, 0, kind)
		assert.Greater(t, i, ready, "%s before encoder readiness", kind)
	}
}

func TestReadinessTimeoutLeavesNothing(t *testing.T) {
	h := newHarness(t)
	h.enc.never = true
	h.produce(t, "VP8", domain.Audio, domain.Video)

	err := h.c.StartStream(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrStartFailed)
	assert.Equal(t, domain.KindSubprocess, domain.KindOf(err))
	assert.Equal(t, domain.StateProducing, h.c.Snapshot().State)
	assert.Zero(t, h.l.livePlain())
	assert.Empty(t, h.l.liveConsumers())
	for _, ev := range h.l.eventList() {
		assert.NotContains(t, ev, "resume")
	}
	assert.Contains(t, h.l.eventList(), "cleanup sdp/vp8.sdp")
	select {
	case <-h.enc.last().Done():
	default:
		t.Fatal("encoder left running")
	}
}

func TestStopDuringStartRunsAfterStreaming(t *testing.T) {
	h := newHarness(t)
	h.produce(t, "VP8", domain.Audio, domain.Video)
	events, cancel := h.c.Subscribe(32)
	defer cancel()

	started := make(chan error, 1)
	go func() { started <- h.c.StartStream(context.Background(), "") }()
	waitState(t, events, domain.StateStreamStarting)
	require.NoError(t, h.c.StopStream(context.Background()))
	require.NoError(t, <-started)

	assert.Equal(t, domain.StateProducing, h.c.Snapshot().State)
	assert.Zero(t, h.l.livePlain())
	seq := h.l.eventList()
	ready, stop := slices.Index(seq, "ready"), slices.Index(seq, "stop")
	require.GreaterOrEqual(t, ready, 0)
	require.Greater(t, stop, ready)
	for _, kind := range []string{"resume audio", "resume video"} {
		i := slices.Index(seq, kind)
		assert.Greater(t, i, ready, kind)
		assert.Less(t, i, stop, kind)
	}
}

func TestSnapshotFollowsTransitions(t *testing.T) {
	h := newHarness(t)
	h.enc.never = true
	h.produce(t, "VP8", domain.Audio)
	events, cancel := h.c.Subscribe(32)
	defer cancel()

	started := make(chan error, 1)
	go func() { started <- h.c.StartStream(context.Background(), "") }()
	waitState(t, events, domain.StateStreamStarting)
	assert.Equal(t, domain.StateStreamStarting, h.c.Snapshot().State)
	require.ErrorIs(t, <-started, domain.ErrStartFailed)
	assert.Equal(t, domain.StateProducing, h.c.Snapshot().State)
}

func TestEncoderAbnormalExitReturnsToProducing(t *testing.T) {
	h := newHarness(t)
	events, cancel := h.c.Subscribe(32)
	defer cancel()
	h.stream(t, "VP8", domain.Audio, domain.Video)

	h.enc.last().terminate(core.ExitStatus{Code: -1, Signal: syscall.SIGSEGV})
	eventually(t, func() bool { return h.c.Snapshot().State == domain.StateProducing })
	assert.Zero(t, h.l.livePlain())

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == EventStreamWarning {
				assert.Contains(t, ev.Warning, "unexpectedly")
				return
			}
		case <-deadline:
			t.Fatal("no stream warning published")
		}
	}
}

func TestRequestedStopPublishesNoWarning(t *testing.T) {
	h := newHarness(t)
	h.stream(t, "VP8", domain.Audio)
	events, cancel := h.c.Subscribe(32)
	defer cancel()

	require.NoError(t, h.c.StopStream(context.Background()))
	// let the stale exit notification pass through the loop
	_, err := h.c.OpenIngest(context.Background())
	require.NoError(t, err)
	for {
		select {
		case ev := <-events:
			assert.NotEqual(t, EventStreamWarning, ev.Type)
		default:
			return
		}
	}
}

func TestStartWithoutProducers(t *testing.T) {
	h := newHarness(t)
	h.produce(t, "VP8")
	err := h.c.StartStream(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrNoProducers)
	assert.Equal(t, domain.KindClient, domain.KindOf(err))
	assert.Equal(t, domain.StateProducing, h.c.Snapshot().State)
	assert.Zero(t, h.l.livePlain())
	assert.Empty(t, h.enc.spawn)
}

func TestCommandsOutOfOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.c.OpenIngest(ctx)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = h.c.StartEngine(ctx, "VP8")
	require.NoError(t, err)
	err = h.c.ConnectIngest(ctx, connectParams)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, domain.KindClient, domain.KindOf(err))

	err = h.c.StartStream(ctx, "")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	require.NoError(t, h.c.StopStream(ctx))
	assert.Equal(t, domain.StateEngineReady, h.c.Snapshot().State)
}

func TestProducerReplacement(t *testing.T) {
	h := newHarness(t)
	h.produce(t, "VP8", domain.Audio)
	first := h.c.Snapshot().Producers[domain.Audio]

	id, err := h.c.Produce(context.Background(), produceParams(domain.Audio))
	require.NoError(t, err)
	assert.NotEqual(t, first, id)
	assert.Equal(t, 1, h.l.closes[first])
	assert.Equal(t, []domain.MediaKind{domain.Audio}, h.c.Snapshot().Kinds)
}

func TestProducerReadyEvent(t *testing.T) {
	h := newHarness(t)
	events, cancel := h.c.Subscribe(32)
	defer cancel()
	h.produce(t, "VP8", domain.Video)

	for {
		select {
		case ev := <-events:
			if ev.Type == EventProducerReady {
				assert.Equal(t, domain.Video, ev.Kind)
				return
			}
		case <-time.After(time.Second):
			t.Fatal("no producer ready event")
		}
	}
}

func TestInputFailureReturnsToProducing(t *testing.T) {
	h := newHarness(t)
	h.in.err = domain.E(domain.KindConfiguration, "validate", domain.ErrBadInput)
	h.produce(t, "VP8", domain.Audio, domain.Video)

	err := h.c.StartStream(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrBadInput)
	assert.Equal(t, domain.StateProducing, h.c.Snapshot().State)
	assert.Zero(t, h.l.livePlain())
	assert.Empty(t, h.enc.spawn)
}

func TestPreflightFailure(t *testing.T) {
	h := newHarness(t)
	h.enc.preflightErr = domain.E(domain.KindConfiguration, "preflight", domain.ErrVersion)
	h.produce(t, "VP8", domain.Audio)

	err := h.c.StartStream(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrVersion)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
	assert.Zero(t, h.l.livePlain())
}

func TestEngineFailureDuringStartResets(t *testing.T) {
	h := newHarness(t)
	h.eng.plainErr[domain.Video] = domain.E(domain.KindEngine, "consume", errors.New("socket exhausted"))
	h.produce(t, "VP8", domain.Audio, domain.Video)

	err := h.c.StartStream(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, domain.KindEngine, domain.KindOf(err))
	assert.Equal(t, domain.StateIdle, h.c.Snapshot().State)
	workers, routers, ingests := h.l.count()
	assert.Zero(t, workers)
	assert.Zero(t, routers)
	assert.Zero(t, ingests)
	assert.Zero(t, h.l.livePlain())
	assert.Empty(t, h.l.liveConsumers())
}

func TestWorkerDiedIsFatal(t *testing.T) {
	h := newHarness(t)
	h.stream(t, "VP8", domain.Audio, domain.Video)

	h.eng.lastWorker.died <- errors.New("relay loop panicked")
	select {
	case err := <-h.c.Fatal():
		assert.ErrorIs(t, err, domain.ErrEngineDied)
		assert.Equal(t, domain.KindEngine, domain.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal error reported")
	}
	eventually(t, func() bool { return h.c.Snapshot().State == domain.StateIdle })
	workers, routers, ingests := h.l.count()
	assert.Zero(t, workers)
	assert.Zero(t, routers)
	assert.Zero(t, ingests)
	assert.Zero(t, h.l.livePlain())
}

func TestConnectFailureResetsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.c.StartEngine(ctx, "VP8")
	require.NoError(t, err)
	_, err = h.c.OpenIngest(ctx)
	require.NoError(t, err)

	err = h.c.ConnectIngest(ctx, core.ConnectParameters{})
	require.ErrorIs(t, err, domain.ErrConnect)
	assert.Equal(t, domain.StateIdle, h.c.Snapshot().State)
	workers, routers, ingests := h.l.count()
	assert.Zero(t, workers)
	assert.Zero(t, routers)
	assert.Zero(t, ingests)

	_, err = h.c.Produce(ctx, produceParams(domain.Audio))
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestHandshakeFailureAfterConnectResetsSession(t *testing.T) {
	h := newHarness(t)
	h.produce(t, "VP8", domain.Audio)
	events, cancel := h.c.Subscribe(32)
	defer cancel()

	h.eng.lastIngest.failed <- domain.E(domain.KindEngine, "connect transport", fmt.Errorf("%w: dtls: bad fingerprint", domain.ErrConnect))
	eventually(t, func() bool { return h.c.Snapshot().State == domain.StateIdle })
	workers, routers, ingests := h.l.count()
	assert.Zero(t, workers)
	assert.Zero(t, routers)
	assert.Zero(t, ingests)

	deadline := time.After(time.Second)
	for found := false; !found; {
		select {
		case ev := <-events:
			if ev.Type == EventFatal {
				assert.ErrorIs(t, ev.Err, domain.ErrConnect)
				assert.Equal(t, domain.KindEngine, domain.KindOf(ev.Err))
				found = true
			}
		case <-deadline:
			t.Fatal("no failure event published")
		}
	}
	select {
	case err := <-h.c.Fatal():
		t.Fatalf("connect failure restarted the process: %v", err)
	default:
	}
}

func TestStaleHandshakeFailureIgnored(t *testing.T) {
	h := newHarness(t)
	h.produce(t, "VP8", domain.Audio)
	old := h.eng.lastIngest
	_, err := h.c.OpenIngest(context.Background())
	require.NoError(t, err)

	old.failed <- domain.E(domain.KindEngine, "connect transport", domain.ErrConnect)
	assert.Never(t, func() bool { return h.c.Snapshot().State != domain.StateIngestReady }, 100*time.Millisecond, 5*time.Millisecond)
	_, _, ingests := h.l.count()
	assert.Equal(t, 1, ingests)
}

func TestProduceEngineFailureResetsSession(t *testing.T) {
	h := newHarness(t)
	h.produce(t, "VP8", domain.Audio)
	ctx := context.Background()

	h.eng.produceErr = domain.E(domain.KindClient, "produce", domain.ErrUnsupportedCodec)
	_, err := h.c.Produce(ctx, produceParams(domain.Video))
	require.ErrorIs(t, err, domain.ErrUnsupportedCodec)
	assert.Equal(t, domain.StateProducing, h.c.Snapshot().State)

	h.eng.produceErr = domain.E(domain.KindEngine, "produce", fmt.Errorf("%w: ice timeout", domain.ErrConnect))
	_, err = h.c.Produce(ctx, produceParams(domain.Video))
	require.ErrorIs(t, err, domain.ErrConnect)
	assert.Equal(t, domain.KindEngine, domain.KindOf(err))
	assert.Equal(t, domain.StateIdle, h.c.Snapshot().State)
	workers, routers, ingests := h.l.count()
	assert.Zero(t, workers)
	assert.Zero(t, routers)
	assert.Zero(t, ingests)
	assert.Empty(t, h.l.doubleCloses())
}

func TestStaleWorkerDeathIgnored(t *testing.T) {
	h := newHarness(t)
	_, err := h.c.StartEngine(context.Background(), "VP8")
	require.NoError(t, err)
	old := h.eng.lastWorker
	_, err = h.c.StartEngine(context.Background(), "VP8")
	require.NoError(t, err)

	old.died <- errors.New("late")
	select {
	case err := <-h.c.Fatal():
		t.Fatalf("stale worker reported fatal: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, domain.StateEngineReady, h.c.Snapshot().State)
}

func TestRestartEngineTearsDownFirst(t *testing.T) {
	h := newHarness(t)
	h.stream(t, "VP8", domain.Audio, domain.Video)
	proc := h.enc.last()

	_, err := h.c.StartEngine(context.Background(), "H264")
	require.NoError(t, err)
	assert.Equal(t, domain.StateEngineReady, h.c.Snapshot().State)
	workers, routers, ingests := h.l.count()
	assert.Equal(t, 1, workers)
	assert.Equal(t, 1, routers)
	assert.Zero(t, ingests)
	assert.Zero(t, h.l.livePlain())
	assert.True(t, proc.Exit().StopRequested)
}

func TestStopKillsStubbornEncoder(t *testing.T) {
	h := newHarness(t, func(_ *harness, cfg *Config) { cfg.StopTimeout = 50 * time.Millisecond })
	h.enc.ignoreStop = true
	h.stream(t, "VP8", domain.Audio)

	require.NoError(t, h.c.StopStream(context.Background()))
	assert.Contains(t, h.l.eventList(), "kill")
	assert.Equal(t, domain.StateProducing, h.c.Snapshot().State)
	assert.True(t, h.enc.last().Exit().Killed)
}

func TestResetReleasesEverything(t *testing.T) {
	h := newHarness(t)
	h.stream(t, "VP8", domain.Audio, domain.Video)
	require.NoError(t, h.c.Reset(context.Background()))

	snap := h.c.Snapshot()
	assert.Equal(t, domain.StateIdle, snap.State)
	assert.Empty(t, snap.SessionID)
	workers, routers, ingests := h.l.count()
	assert.Zero(t, workers)
	assert.Zero(t, routers)
	assert.Zero(t, ingests)
	assert.Zero(t, h.l.livePlain())
	assert.Empty(t, h.l.doubleCloses())
}

func TestSnapshotWhileStreaming(t *testing.T) {
	h := newHarness(t)
	h.stream(t, "VP8", domain.Audio, domain.Video)
	snap := h.c.Snapshot()
	assert.NotEmpty(t, snap.SessionID)
	assert.True(t, snap.Connected)
	assert.Positive(t, snap.EncoderPID)
	assert.Len(t, snap.Consumers, 2)
	assert.Equal(t, 5006, snap.Outbound[domain.Video].RemotePort)
}

func TestSelectCodecs(t *testing.T) {
	audio, video, err := selectCodecs(domain.DefaultCodecs(), "vp8")
	require.NoError(t, err)
	assert.Equal(t, domain.Audio, audio.Kind)
	assert.Equal(t, "video/VP8", video.MimeType)

	_, _, err = selectCodecs(domain.DefaultCodecs(), "")
	assert.ErrorIs(t, err, domain.ErrUnsupportedCodec)

	_, _, err = selectCodecs(domain.DefaultCodecs()[1:], "VP8")
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
}
