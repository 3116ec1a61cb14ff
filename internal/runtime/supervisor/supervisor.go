package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"scorewatch/internal/config"
	"scorewatch/internal/driver"
	"scorewatch/internal/portal"
	logx "scorewatch/pkg/logx"
)

// ErrRetriesExhausted is returned once the consecutive timeout limit is hit.
var ErrRetriesExhausted = errors.New("supervisor: too many consecutive timeouts")

// Operator notices.
const (
	NoticeStart        = "Start!"
	NoticeEnd          = "Process end!"
	NoticeNoEnrollment = "Not enrolled in any classes."
	NoticeUnknown      = "Unknown error! Details were written to the error log."
)

// Runner is one controller bound to one browser session.
type Runner interface {
	Run(ctx context.Context, hooks portal.Hooks) error
	// Close releases the browser session.
	Close() error
}

// Factory builds a fresh Runner from the current configuration.
type Factory func(ctx context.Context, cfg *config.Config) (Runner, error)

type Notifier interface {
	Notify(ctx context.Context, body string)
}

// LogFiles is the part of logx.Service the supervisor drives.
type LogFiles interface {
	Rotate(now time.Time)
	Prune(now time.Time) ([]string, error)
	AppendError(now time.Time, title, detail string) error
}

type Options struct {
	// Config returns the configuration for the next runner.
	Config   func() *config.Config
	Factory  Factory
	Notifier Notifier
	Logs     LogFiles
	Log      logx.Logger

	// Status publishes a one-line service status. Optional.
	Status func(string)

	Rand  *rand.Rand
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// RetryState tracks consecutive timeouts.
type RetryState struct {
	Consecutive int
	// Disconnected is set by a timeout and cleared by a completed cycle.
	Disconnected bool
}

// Counters are best-effort operational numbers.
type Counters struct {
	Runners  uint64
	Cycles   uint64
	Timeouts uint64
	Panics   uint64
}

type Supervisor struct {
	opts Options
	log  logx.Logger

	mu       sync.Mutex
	retry    RetryState
	counters Counters
}

func New(o Options) *Supervisor {
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Supervisor{opts: o, log: o.Log.With(logx.String("comp", "supervisor"))}
}

func (s *Supervisor) State() RetryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retry
}

func (s *Supervisor) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Run keeps one runner alive until ctx is canceled, the account has no
// enrollment, the timeout limit is reached or an unclassified error occurs.
// The first two are clean stops and return nil.
func (s *Supervisor) Run(ctx context.Context) error {
	s.notify(ctx, NoticeStart)
	defer s.notify(context.WithoutCancel(ctx), NoticeEnd)

	backoff := time.Duration(0)
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.housekeep()

		cfg := s.opts.Config()
		if cfg == nil {
			return errors.New("supervisor: no configuration")
		}
		stack, err := s.runOnce(ctx, cfg)

		switch {
		case err == nil || ctx.Err() != nil:
			s.log.Info("stopped")
			return nil

		case errors.Is(err, portal.ErrNoEnrollment):
			s.log.Warn("no enrollment, stopping")
			s.notify(ctx, NoticeNoEnrollment)
			return nil

		case driver.IsTimeout(err):
			n := s.noteTimeout()
			s.log.Warn("timeout", logx.Int("retry", n), logx.Err(err))
			s.notify(ctx, fmt.Sprintf("Connection timeout. Retry = %d", n))
			if n >= cfg.Retry.MaxConsecutive {
				return fmt.Errorf("%w (%d): %v", ErrRetriesExhausted, n, err)
			}
			backoff = s.nextBackoff(cfg, backoff)
			s.log.Info("restarting", logx.Duration("backoff", backoff))
			if err := s.opts.Sleep(ctx, backoff); err != nil {
				return nil
			}

		default:
			s.mu.Lock()
			if s.retry.Disconnected {
				s.retry = RetryState{Consecutive: 1}
			}
			s.mu.Unlock()
			s.log.Error("unknown error", logx.Err(err), logx.Stack(stack))
			s.journal(err, stack)
			s.notify(ctx, NoticeUnknown)
			return err
		}
	}
}

// runOnce builds, runs and closes one runner. A panic is returned as an
// error together with its stack.
func (s *Supervisor) runOnce(ctx context.Context, cfg *config.Config) (stack string, err error) {
	r, err := s.opts.Factory(ctx, cfg)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.counters.Runners++
	s.mu.Unlock()

	defer func() {
		if cerr := r.Close(); cerr != nil {
			s.log.Warn("runner close failed", logx.Err(cerr))
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			s.mu.Lock()
			s.counters.Panics++
			s.mu.Unlock()
			err = fmt.Errorf("panic: %v", p)
			stack = string(debug.Stack())
		}
	}()

	err = r.Run(ctx, portal.Hooks{CycleComplete: s.cycleComplete})
	if err != nil && stack == "" {
		stack = fmt.Sprintf("%+v", err)
	}
	return stack, err
}

func (s *Supervisor) cycleComplete(st portal.CycleStats) {
	s.mu.Lock()
	s.retry = RetryState{}
	s.counters.Cycles++
	cycles := s.counters.Cycles
	s.mu.Unlock()

	if s.opts.Status != nil {
		s.opts.Status(fmt.Sprintf("cycle %d: %d items, %d changes, took %s",
			cycles, st.Items, st.Changes, st.Duration.Round(time.Millisecond)))
	}
}

func (s *Supervisor) noteTimeout() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retry.Consecutive++
	s.retry.Disconnected = true
	s.counters.Timeouts++
	return s.retry.Consecutive
}

// nextBackoff doubles prev within [min, max] and adds up to 20% jitter.
func (s *Supervisor) nextBackoff(cfg *config.Config, prev time.Duration) time.Duration {
	lo, hi := cfg.Retry.Backoff()
	wait := prev * 2
	if wait < lo {
		wait = lo
	}
	if wait > hi {
		wait = hi
	}
	if j := int64(wait) / 5; j > 0 {
		wait += time.Duration(s.opts.Rand.Int63n(j + 1))
	}
	return wait
}

func (s *Supervisor) housekeep() {
	if s.opts.Logs == nil {
		return
	}
	now := s.opts.Now()
	s.opts.Logs.Rotate(now)
	removed, err := s.opts.Logs.Prune(now)
	if err != nil {
		s.log.Warn("log prune failed", logx.Err(err))
	}
	if len(removed) > 0 {
		s.log.Debug("old logs removed", logx.Any("files", removed))
	}
}

func (s *Supervisor) journal(err error, stack string) {
	if s.opts.Logs == nil {
		return
	}
	detail := fmt.Sprintf("%v\n%s", err, stack)
	if jerr := s.opts.Logs.AppendError(s.opts.Now(), "unknown error", detail); jerr != nil {
		s.log.Warn("error journal write failed", logx.Err(jerr))
	}
}

func (s *Supervisor) notify(ctx context.Context, body string) {
	if s.opts.Notifier == nil {
		return
	}
	s.opts.Notifier.Notify(ctx, body)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
