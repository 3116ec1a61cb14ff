package notifier

import (
	"context"
	"fmt"
	"time"
)

// Kind distinguishes change reports from operator notices.
type Kind int

const (
	KindChange Kind = iota
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindChange:
		return "change"
	case KindStatus:
		return "status"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// oneShot is implemented by channels that must not be retried.
type oneShot interface {
	OneShot() bool
}

// Message is one notification.
type Message struct {
	Kind  Kind
	Title string
	Body  string
}

// Channel delivers messages to one destination.
type Channel interface {
	Name() string
	Accepts(k Kind) bool
	// Critical channels surface their delivery errors to the caller of
	// Dispatch. Non-critical failures are only logged.
	Critical() bool
	Send(ctx context.Context, m Message) error
}

// Config controls delivery pacing.
type Config struct {
	RatePerSec  int
	RetryMax    int
	RetryBase   time.Duration
	RetryMaxDel time.Duration
	SendTimeout time.Duration
}

type HistoryItem struct {
	At      time.Time
	Kind    Kind
	Channel string
	Title   string
	Err     string
}

// SendError is returned when a critical channel could not deliver.
type SendError struct {
	Channel string
	Cause   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("notifier: send failed on %s: %v", e.Channel, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }
