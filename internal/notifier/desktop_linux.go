//go:build linux

package notifier

import (
	"context"
	"errors"

	"github.com/godbus/dbus/v5"
)

var errUnsupported = errors.New("desktop notifications unsupported")

const (
	fdoDest   = "org.freedesktop.Notifications"
	fdoPath   = "/org/freedesktop/Notifications"
	fdoNotify = "org.freedesktop.Notifications.Notify"
)

// showDesktop uses the freedesktop notification service on the session
// bus. Hosts without a session bus (servers, containers) are unsupported.
func showDesktop(ctx context.Context, app, title, body string) error {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return errUnsupported
	}
	defer conn.Close()

	obj := conn.Object(fdoDest, dbus.ObjectPath(fdoPath))
	call := obj.CallWithContext(ctx, fdoNotify, 0,
		app,       // app_name
		uint32(0), // replaces_id
		"",        // app_icon
		title,
		body,
		[]string{},                // actions
		map[string]dbus.Variant{}, // hints
		int32(-1),                 // expire_timeout: server default
	)
	if call.Err != nil {
		if dbusErrorName(call.Err) == "org.freedesktop.DBus.Error.ServiceUnknown" {
			return errUnsupported
		}
		return call.Err
	}
	return nil
}

func dbusErrorName(err error) string {
	var de dbus.Error
	if errors.As(err, &de) {
		return de.Name
	}
	var dep *dbus.Error
	if errors.As(err, &dep) && dep != nil {
		return dep.Name
	}
	return ""
}
