package artifacts

import (
	"os"
	"os/signal"
	"sync"

	"github.com/bootcs-dev/compiler-tester/logger"
	"golang.org/x/sys/unix"
)

// interruptedExitCode is the conventional status for a process stopped by SIGINT.
const interruptedExitCode = 130

// Tracker remembers the bundles and process groups that are currently alive so that an
// interrupted run can still stop and remove them. It is owned by one tester run.
type Tracker struct {
	mu        sync.Mutex
	live      map[*Bundle]struct{}
	processes map[int]struct{}
	log       *logger.Logger

	exit func(code int)
}

func NewTracker(log *logger.Logger) *Tracker {
	return &Tracker{
		live:      map[*Bundle]struct{}{},
		processes: map[int]struct{}{},
		log:       log,
		exit:      os.Exit,
	}
}

// Track registers a live bundle.
func (t *Tracker) Track(b *Bundle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live[b] = struct{}{}
}

// Release forgets the bundle and removes its artifacts.
func (t *Tracker) Release(b *Bundle) []error {
	t.mu.Lock()
	delete(t.live, b)
	t.mu.Unlock()

	return b.Release(t.log)
}

// TrackProcess registers the process group led by pid. Every tool and test binary runs in a
// group of its own, so a terminal interrupt never reaches them.
func (t *Tracker) TrackProcess(pid int) {
	if pid <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.processes[pid] = struct{}{}
}

// ReleaseProcess forgets a process group once its leader has been waited for.
func (t *Tracker) ReleaseProcess(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.processes, pid)
}

// KillAll kills every tracked process group.
func (t *Tracker) KillAll() {
	t.mu.Lock()
	pids := make([]int, 0, len(t.processes))
	for pid := range t.processes {
		pids = append(pids, pid)
	}
	t.processes = map[int]struct{}{}
	t.mu.Unlock()

	for _, pid := range pids {
		if err := unix.Kill(-pid, unix.SIGKILL); err != nil && err != unix.ESRCH && t.log != nil {
			t.log.Warnf("could not kill process group %d: %v", pid, err)
		}
	}
}

// Live returns the number of bundles not yet released.
func (t *Tracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// ReleaseAll removes the artifacts of every live bundle.
func (t *Tracker) ReleaseAll() {
	t.mu.Lock()
	bundles := make([]*Bundle, 0, len(t.live))
	for b := range t.live {
		bundles = append(bundles, b)
	}
	t.live = map[*Bundle]struct{}{}
	t.mu.Unlock()

	for _, b := range bundles {
		b.Release(t.log)
	}
}

// Install kills every tracked process group, releases every live bundle and exits when the process receives SIGINT or SIGTERM.
// The returned func uninstalls the handler.
func (t *Tracker) Install() (stop func()) {
	signals := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(signals, unix.SIGINT, unix.SIGTERM)

	go func() {
		select {
		case sig := <-signals:
			t.handleSignal(sig)
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(signals)
			close(done)
		})
	}
}

func (t *Tracker) handleSignal(sig os.Signal) {
	if t.log != nil {
		t.log.Warnf("received %s, removing temporary artifacts", sig)
	}
	t.KillAll()
	t.ReleaseAll()
	t.exit(interruptedExitCode)
}
