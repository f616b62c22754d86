// Package notify pokes a status-bar process (i3blocks style) whenever the
// displayed lyric changes, so it re-reads the state file.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"lyricsync/internal/output"
)

var logger = log.With().Str("component", "notify").Logger()

// i3blocks 的 signal=N 对应 SIGRTMIN+N
const sigRTMin = 34

const DefaultRefreshInterval = 10 * time.Second

var ErrProcessNotFound = errors.New("notify: process not found")

// PIDLookup finds the pid of a process by name.
type PIDLookup func(ctx context.Context, name string) (int, error)

// SendFunc delivers sig to pid.
type SendFunc func(pid int, sig syscall.Signal) error

// Signaller implements output.Publisher.
type Signaller struct {
	process  string
	signal   syscall.Signal
	interval time.Duration
	lookup   PIDLookup
	send     SendFunc

	pid      int
	pidMutex sync.RWMutex

	lastMu sync.Mutex
	last   *output.Snapshot

	runMutex sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

type Option func(*Signaller)

func WithPIDLookup(fn PIDLookup) Option { return func(s *Signaller) { s.lookup = fn } }

func WithSendFunc(fn SendFunc) Option { return func(s *Signaller) { s.send = fn } }

func WithRefreshInterval(d time.Duration) Option { return func(s *Signaller) { s.interval = d } }

// NewSignaller targets the process named process with SIGRTMIN+blockSignal.
func NewSignaller(process string, blockSignal int, opts ...Option) *Signaller {
	s := &Signaller{
		process:  process,
		signal:   syscall.Signal(sigRTMin + blockSignal),
		interval: DefaultRefreshInterval,
		lookup:   findPID,
		send:     sendSignal,
		pid:      -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Signaller) Name() string { return "notify:" + s.process }

// Start refreshes the target pid every interval until Stop or ctx ends.
func (s *Signaller) Start(ctx context.Context) error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("signaller is already running")
	}

	if err := s.refreshPID(ctx); err != nil {
		logger.Debug().Err(err).Str("process", s.process).Msg("Target process not found yet")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.monitorLoop(ctx, s.done)

	logger.Info().Str("process", s.process).Int("signal", int(s.signal)).Msg("Signaller started")
	return nil
}

// Stop 停止刷新并等待后台协程退出
func (s *Signaller) Stop() {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	logger.Info().Msg("Signaller stopped")
}

func (s *Signaller) monitorLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.refreshPID(ctx); err != nil {
				logger.Debug().Err(err).Msg("Failed to refresh pid")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Signaller) refreshPID(ctx context.Context) error {
	pid, err := s.lookup(ctx, s.process)
	if err != nil {
		pid = -1
	}
	s.pidMutex.Lock()
	old := s.pid
	s.pid = pid
	s.pidMutex.Unlock()

	if old != pid && pid > 0 {
		logger.Info().Int("old_pid", old).Int("pid", pid).Msg("Target pid updated")
	}
	return err
}

func (s *Signaller) PID() int {
	s.pidMutex.RLock()
	defer s.pidMutex.RUnlock()
	return s.pid
}

// Publish signals the target when the snapshot content changed. Heartbeat
// re-emissions of the same content are skipped.
func (s *Signaller) Publish(_ context.Context, snap output.Snapshot) error {
	s.lastMu.Lock()
	if s.last != nil && s.last.SameContent(snap) {
		s.lastMu.Unlock()
		return nil
	}
	s.last = &snap
	s.lastMu.Unlock()

	pid := s.PID()
	if pid <= 0 {
		return nil
	}
	if err := s.send(pid, s.signal); err != nil {
		// 进程可能已经重启，下次刷新会拿到新 pid
		s.pidMutex.Lock()
		s.pid = -1
		s.pidMutex.Unlock()
		return fmt.Errorf("failed to signal %s (pid %d): %w", s.process, pid, err)
	}
	return nil
}

func sendSignal(pid int, sig syscall.Signal) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(sig)
}

// findPID 先用 pgrep，失败再扫 ps 输出
func findPID(ctx context.Context, name string) (int, error) {
	out, err := exec.CommandContext(ctx, "pgrep", "-x", name).Output()
	if err == nil {
		if pid, ok := firstPID(string(out)); ok {
			return pid, nil
		}
	}

	out, err = exec.CommandContext(ctx, "ps", "-eo", "pid=,comm=").Output()
	if err != nil {
		return -1, fmt.Errorf("failed to run ps: %w", err)
	}
	if pid, ok := pidFromPS(string(out), name); ok {
		return pid, nil
	}
	return -1, ErrProcessNotFound
}

func firstPID(out string) (int, bool) {
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil && pid > 0 {
			return pid, true
		}
	}
	return 0, false
}

func pidFromPS(out, name string) (int, bool) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] != name {
			continue
		}
		if pid, err := strconv.Atoi(fields[0]); err == nil {
			return pid, true
		}
	}
	return 0, false
}
