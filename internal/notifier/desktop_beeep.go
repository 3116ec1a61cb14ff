//go:build !linux

package notifier

import (
	"context"
	"errors"
	"sync"

	"github.com/gen2brain/beeep"
)

var errUnsupported = errors.New("desktop notifications unsupported")

var beeepMu sync.Mutex

// showDesktop goes through beeep: toast notifications on Windows and the
// notification center on macOS. beeep.Notify takes no context, so ctx is
// only checked up front.
func showDesktop(ctx context.Context, app, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	beeepMu.Lock()
	defer beeepMu.Unlock()
	if app != "" {
		beeep.AppName = app
	}
	err := beeep.Notify(title, body, "")
	if errors.Is(err, beeep.ErrUnsupported) {
		return errUnsupported
	}
	return err
}
