// Package lifecycle names why the daemon stopped and reports service state
// to systemd when running under it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "scorewatch/pkg/logx"
)

type StopReason string

const (
	StopUnknown      StopReason = "unknown"
	StopSignal       StopReason = "signal"
	StopNoEnrollment StopReason = "no_enrollment"
	StopRetries      StopReason = "retries_exhausted"
	StopFatalError   StopReason = "fatal_error"
)

// ExitCode maps a reason to the process exit status.
func (r StopReason) ExitCode() int {
	switch r {
	case StopSignal, StopNoEnrollment:
		return 0
	default:
		return 1
	}
}

// Classify derives the stop reason from the supervisor outcome.
// noEnrollment and retries are the sentinels to match against.
func Classify(ctx context.Context, err, noEnrollment, retries error) StopReason {
	switch {
	case err == nil && ctx.Err() != nil:
		return StopSignal
	case err == nil:
		return StopNoEnrollment
	case errors.Is(err, retries):
		return StopRetries
	case errors.Is(err, noEnrollment):
		return StopNoEnrollment
	default:
		return StopFatalError
	}
}

// Notifier sends sd_notify messages. It is a no-op outside systemd.
type Notifier struct {
	log    logx.Logger
	notify func(unsetEnv bool, state string) (bool, error)
}

func NewNotifier(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{log: log.With(logx.String("comp", "systemd")), notify: daemon.SdNotify}
}

func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

func (n *Notifier) Stopping(reason StopReason) {
	n.send(daemon.SdNotifyStopping)
	n.Status(fmt.Sprintf("stopping: %s", reason))
}

// Status publishes a free-form status line (shown by systemctl status).
func (n *Notifier) Status(line string) { n.send("STATUS=" + line) }

func (n *Notifier) send(state string) {
	if n == nil || n.notify == nil {
		return
	}
	sent, err := n.notify(false, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}
