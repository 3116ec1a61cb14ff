package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"scorewatch/internal/config"
	"scorewatch/internal/notifier"
	"scorewatch/internal/portal"
	"scorewatch/internal/runtime/lifecycle"
	"scorewatch/internal/runtime/supervisor"
	"scorewatch/internal/snapshot"
	logx "scorewatch/pkg/logx"
)

// housekeepingSchedule rotates and prunes log files at local midnight.
const housekeepingSchedule = "0 0 * * *"

type App struct {
	cfgm *config.Manager

	root  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	store snapshot.Store
	notif *notifier.Dispatcher
	sup   *supervisor.Supervisor
	sd    *lifecycle.Notifier
	cron  *cron.Cron
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := snapshot.Open(sc, root)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	notif, err := notifier.FromConfig(cfg, root)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("notification channels", logx.String("channels", strings.Join(notif.Channels(), ",")))

	a := &App{
		cfgm:  cfgm,
		root:  root,
		log:   log,
		logs:  logSvc,
		store: store,
		notif: notif,
		sd:    lifecycle.NewNotifier(root),
	}
	a.sup = supervisor.New(supervisor.Options{
		Config:   cfgm.Get,
		Factory:  a.newRunner,
		Notifier: notif,
		Logs:     logSvc,
		Log:      root,
		Status:   a.publishStatus,
	})
	return a, nil
}

// Run blocks until the supervisor stops. ctx cancellation is a clean stop.
func (a *App) Run(ctx context.Context) (StopReason, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.reloadLoop(runCtx, sub)
	}()
	go func() {
		defer wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	if err := a.startHousekeeping(); err != nil {
		a.log.Warn("housekeeping job not scheduled", logx.Err(err))
	}

	a.sd.Ready()
	a.log.Info("started", logx.String("config", a.cfgm.Path()))

	err := a.sup.Run(runCtx)
	reason := lifecycle.Classify(ctx, err, portal.ErrNoEnrollment, supervisor.ErrRetriesExhausted)
	a.sd.Stopping(reason)

	cancel()
	a.stopHousekeeping(2 * time.Second)
	wg.Wait()

	fields := []logx.Field{logx.String("reason", string(reason))}
	if err != nil {
		fields = append(fields, logx.Err(err))
	}
	a.log.Info("stopped", fields...)
	return reason, err
}

// Close releases the store and the log files. Call it after Run returns.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

func (a *App) startHousekeeping() error {
	a.cron = cron.New(cron.WithLocation(time.Local))
	_, err := a.cron.AddFunc(housekeepingSchedule, func() {
		now := time.Now()
		a.logs.Rotate(now)
		removed, err := a.logs.Prune(now)
		if err != nil {
			a.log.Warn("log prune failed", logx.Err(err))
			return
		}
		a.log.Debug("logs rotated", logx.Int("removed", len(removed)))
	})
	if err != nil {
		a.cron = nil
		return err
	}
	a.cron.Start()
	return nil
}

func (a *App) stopHousekeeping(max time.Duration) {
	if a.cron == nil {
		return
	}
	select {
	case <-a.cron.Stop().Done():
	case <-time.After(max):
		a.log.Warn("housekeeping job still running at shutdown")
	}
}

// publishStatus forwards a supervisor status line to systemd, with the
// outcome of the latest notification appended.
func (a *App) publishStatus(line string) {
	if last := a.notif.LastDelivery(); last != "" {
		line += "; last notice " + last
	}
	a.sd.Status(line)
}

// reloadLoop applies hot-reloaded config. Browser, portal and retry
// settings are read per runner through the manager; logging is applied
// here; storage and notification changes need a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}

			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}

			for _, s := range sections {
				if s == "storage" || s == "notifications" {
					a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
				}
			}
			a.logs.Apply(mapLogConfig(newCfg))

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}
