package app

import (
	"context"
	"strings"

	"scorewatch/internal/browser"
	"scorewatch/internal/config"
	"scorewatch/internal/portal"
	"scorewatch/internal/runtime/supervisor"
	logx "scorewatch/pkg/logx"
)

// mapLogConfig turns the logging section into sink settings. Daily files
// are on unless logging.file is false.
func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled:   cfg.Logging.FileEnabled(),
			Dir:       strings.TrimSpace(cfg.Logging.Dir),
			Prefix:    cfg.Logging.Prefix,
			ErrorFile: cfg.Logging.ErrorFile,
		},
	}
}

func mapBrowserOptions(cfg *config.Config, log logx.Logger) browser.Options {
	b := cfg.Browser
	return browser.Options{
		RemoteURL:       b.RemoteURL,
		Bin:             b.Bin,
		Headless:        b.HeadlessEnabled(),
		Stealth:         b.StealthEnabled(),
		SuppressConsole: b.SuppressConsole,
		Timeout:         b.OpTimeout(),
		Settle:          b.SettleDelay(),
		Log:             log,
	}
}

// portalRunner ties a controller to the browser session it drives.
type portalRunner struct {
	*portal.Controller
	sess *browser.Session
}

func (r *portalRunner) Close() error { return r.sess.Quit() }

// newRunner launches a browser session and binds a fresh controller to it.
func (a *App) newRunner(ctx context.Context, cfg *config.Config) (supervisor.Runner, error) {
	sess, err := browser.Launch(ctx, mapBrowserOptions(cfg, a.root))
	if err != nil {
		return nil, err
	}
	ctrl, err := portal.New(portal.Deps{
		Config:   cfg,
		Driver:   sess,
		Store:    a.store,
		Reporter: a.notif,
		Log:      a.root,
	})
	if err != nil {
		_ = sess.Quit()
		return nil, err
	}
	return &portalRunner{Controller: ctrl, sess: sess}, nil
}
