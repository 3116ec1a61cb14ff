package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"scorewatch/internal/detect"
	logx "scorewatch/pkg/logx"
)

const historyMax = 300

// Dispatcher sends messages to a fixed set of channels.
//
// It is safe for concurrent use, though the poll loop calls it from a
// single goroutine.
type Dispatcher struct {
	log      logx.Logger
	cfg      Config
	title    string
	channels []Channel
	limiter  *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, title string, channels []Channel, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDel <= 0 {
		cfg.RetryMaxDel = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	return &Dispatcher{
		log:      log.With(logx.String("comp", "notifier")),
		cfg:      cfg,
		title:    title,
		channels: append([]Channel(nil), channels...),
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Channels returns the names of the registered channels.
func (d *Dispatcher) Channels() []string {
	out := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, ch.Name())
	}
	return out
}

// Dispatch sends one aggregated change report for events. It does nothing
// when events is empty. The returned error joins the failures of critical
// channels; non-critical failures are only logged.
func (d *Dispatcher) Dispatch(ctx context.Context, events []detect.Event, pageURL string) error {
	if len(events) == 0 {
		return nil
	}
	m := Message{Kind: KindChange, Title: d.title, Body: FormatChanges(events, pageURL)}
	d.log.Info("dispatching change report", logx.Int("changes", len(events)))
	return d.send(ctx, m)
}

// Notify sends a best-effort operator notice.
func (d *Dispatcher) Notify(ctx context.Context, body string) {
	_ = d.send(ctx, Message{Kind: KindStatus, Title: d.title, Body: body})
}

func (d *Dispatcher) send(ctx context.Context, m Message) error {
	var errs []error
	for _, ch := range d.channels {
		if !ch.Accepts(m.Kind) {
			continue
		}
		err := d.sendWithRetry(ctx, ch, m)
		d.appendHistory(ch.Name(), m, err)
		if err == nil {
			continue
		}
		d.log.Warn("notification failed",
			logx.String("channel", ch.Name()),
			logx.String("kind", m.Kind.String()),
			logx.Bool("critical", ch.Critical()),
			logx.Err(err),
		)
		if ch.Critical() && m.Kind == KindChange {
			errs = append(errs, &SendError{Channel: ch.Name(), Cause: err})
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, ch Channel, m Message) error {
	maxAttempts := 1 + d.cfg.RetryMax
	if once, ok := ch.(oneShot); ok && once.OneShot() {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Rate limit (honor cancellation).
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		err := ch.Send(callCtx, m)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		d.log.Debug("notify send failed",
			logx.String("channel", ch.Name()),
			logx.Err(err),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts),
		)
		if attempt >= maxAttempts {
			break
		}

		delay := retryDelay(d.cfg, attempt)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}

// History returns recently sent messages, oldest first.
func (d *Dispatcher) History() []HistoryItem {
	d.hmu.Lock()
	out := append([]HistoryItem(nil), d.history...)
	d.hmu.Unlock()
	return out
}

// LastDelivery summarizes the most recent send attempt for status lines,
// e.g. "change via email at 14:02:05". Empty before the first send.
func (d *Dispatcher) LastDelivery() string {
	h := d.History()
	if len(h) == 0 {
		return ""
	}
	last := h[len(h)-1]
	out := fmt.Sprintf("%s via %s at %s", last.Kind, last.Channel, last.At.Format(time.TimeOnly))
	if last.Err != "" {
		out += " (failed)"
	}
	return out
}

func (d *Dispatcher) appendHistory(channel string, m Message, err error) {
	it := HistoryItem{At: time.Now(), Kind: m.Kind, Channel: channel, Title: firstLine(m.Body)}
	if err != nil {
		it.Err = err.Error()
	}
	d.hmu.Lock()
	d.history = append(d.history, it)
	if len(d.history) > historyMax {
		d.history = d.history[len(d.history)-historyMax:]
	}
	d.hmu.Unlock()
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDel {
			d = cfg.RetryMaxDel
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDel {
		d = cfg.RetryMaxDel
	}
	return d
}
