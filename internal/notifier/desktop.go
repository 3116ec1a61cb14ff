package notifier

import (
	"context"
	"errors"

	logx "scorewatch/pkg/logx"
)

// Desktop shows a local desktop notification. Only the first line of the
// body is shown. Linux talks to the freedesktop service over D-Bus; other
// platforms go through beeep. Hosts without a notification service are a
// silent no-op.
type Desktop struct {
	app  string
	log  logx.Logger
	show func(ctx context.Context, app, title, body string) error
}

func NewDesktop(app string, log logx.Logger) *Desktop {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Desktop{app: app, log: log.With(logx.String("channel", "desktop")), show: showDesktop}
}

func (d *Desktop) Name() string      { return "desktop" }
func (d *Desktop) Accepts(Kind) bool { return true }
func (d *Desktop) Critical() bool    { return false }

func (d *Desktop) Send(ctx context.Context, m Message) error {
	err := d.show(ctx, d.app, m.Title, firstLine(m.Body))
	if errors.Is(err, errUnsupported) {
		d.log.Debug("desktop notifications unavailable on this host")
		return nil
	}
	return err
}
