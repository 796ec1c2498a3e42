package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relaygw/internal/core"
	"github.com/dkeye/relaygw/internal/domain"
	"github.com/dkeye/relaygw/internal/metrics"
)

// Process is a running encoder. Ready closes a settle delay after the
// readiness line appeared on stderr; Done closes after exit.
type Process struct {
	cmd     *exec.Cmd
	pid     int
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics

	readyOnce sync.Once
	ready     chan struct{}
	done      chan struct{}

	mu     sync.Mutex
	settle *time.Timer
	exit   core.ExitStatus

	stopRequested atomic.Bool
	killed        atomic.Bool
}

func start(cmd *exec.Cmd, cfg Config, m *metrics.Metrics) (*Process, error) {
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &Process{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		cfg:     cfg,
		metrics: m,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.logger = log.With().Str("module", "encoder").Int("pid", p.pid).Logger()
	p.logger.Info().Msg("encoder started")

	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		p.scan(stderr)
	}()
	go p.wait(scanned)
	return p, nil
}

func (p *Process) scan(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(scanLines)
	seen := false
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		p.logger.Debug().Str("stderr", line).Msg("encoder output")
		if !seen && strings.HasPrefix(line, p.cfg.ReadyPrefix) {
			seen = true
			p.mu.Lock()
			p.settle = time.AfterFunc(p.cfg.SettleDelay, p.markReady)
			p.mu.Unlock()
		}
	}
	if err := sc.Err(); err != nil {
		p.logger.Warn().Err(err).Msg("encoder stderr scan stopped")
		_, _ = io.Copy(io.Discard, r)
	}
}

func (p *Process) markReady() {
	select {
	case <-p.done:
		return
	default:
	}
	p.readyOnce.Do(func() {
		close(p.ready)
		p.logger.Info().Dur("settle", p.cfg.SettleDelay).Msg("encoder ready")
	})
}

func (p *Process) wait(scanned <-chan struct{}) {
	<-scanned
	err := p.cmd.Wait()

	status := core.ExitStatus{
		StopRequested: p.stopRequested.Load(),
		Killed:        p.killed.Load(),
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		status.Err = err
	}
	if st := p.cmd.ProcessState; st != nil {
		status.Code = st.ExitCode()
		if ws, ok := st.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signal = ws.Signal()
		}
	}

	p.mu.Lock()
	if p.settle != nil {
		p.settle.Stop()
	}
	p.exit = status
	p.mu.Unlock()
	close(p.done)

	clean := status.Clean()
	p.metrics.EncoderExited(clean)
	ev := p.logger.Info()
	msg := "encoder stopped"
	if !clean {
		ev = p.logger.Warn()
		msg = "encoder did not exit cleanly, output might be corrupt"
	}
	ev.Int("code", status.Code).
		Str("signal", status.SignalName()).
		Bool("stop_requested", status.StopRequested).
		Msg(msg)
}

func (p *Process) PID() int { return p.pid }

func (p *Process) Ready() <-chan struct{} { return p.ready }

func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) Exit() core.ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

// WaitReady returns nil once Ready closed, or ErrStartFailed when the
// encoder exits first or the readiness timeout passes.
func (p *Process) WaitReady(ctx context.Context) error {
	timer := time.NewTimer(p.cfg.ReadyTimeout)
	defer timer.Stop()
	select {
	case <-p.ready:
		return nil
	case <-p.done:
		st := p.Exit()
		return domain.E(domain.KindSubprocess, "await encoder",
			fmt.Errorf("%w: exited before ready (code %d, signal %q)", domain.ErrStartFailed, st.Code, st.SignalName()))
	case <-timer.C:
		return domain.E(domain.KindSubprocess, "await encoder",
			fmt.Errorf("%w: not ready after %s", domain.ErrStartFailed, p.cfg.ReadyTimeout))
	case <-ctx.Done():
		return domain.E(domain.KindSubprocess, "await encoder", fmt.Errorf("%w: %w", domain.ErrStartFailed, ctx.Err()))
	}
}

// Stop sends SIGINT so the encoder can finalize its output.
func (p *Process) Stop() error {
	p.stopRequested.Store(true)
	return p.signal(os.Interrupt)
}

func (p *Process) Kill() error {
	p.killed.Store(true)
	return p.signal(os.Kill)
}

func (p *Process) signal(sig os.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	p.logger.Info().Str("signal", sig.String()).Msg("signal encoder")
	if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return domain.E(domain.KindSubprocess, "signal encoder", err)
	}
	return nil
}
