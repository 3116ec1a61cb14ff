package config

import (
	"reflect"
	"strings"

	logx "scorewatch/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes passwords or tokens).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Credentials != newCfg.Credentials {
		changed = append(changed, "credentials")
		attrs = append(attrs, logx.Bool("credentials.username_changed", oldCfg.Credentials.Username != newCfg.Credentials.Username))
	}

	if oldCfg.WaitTime != newCfg.WaitTime || oldCfg.RandomTimeMargin != newCfg.RandomTimeMargin {
		changed = append(changed, "wait")
		attrs = append(attrs,
			logx.Int("wait_time", newCfg.WaitTime),
			logx.Int("random_time_margin", newCfg.RandomTimeMargin),
		)
	}

	if oldCfg.DesktopEnabled() != newCfg.DesktopEnabled() ||
		oldCfg.EmailNotification != newCfg.EmailNotification ||
		!reflect.DeepEqual(oldCfg.EmailReceivers, newCfg.EmailReceivers) ||
		oldCfg.EmailSender != newCfg.EmailSender ||
		oldCfg.PushNotification != newCfg.PushNotification ||
		oldCfg.PushAPIToken != newCfg.PushAPIToken ||
		strings.TrimSpace(oldCfg.PushEndpoint) != strings.TrimSpace(newCfg.PushEndpoint) ||
		oldCfg.TelegramNotification != newCfg.TelegramNotification ||
		oldCfg.Telegram != newCfg.Telegram ||
		oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifications")
		attrs = append(attrs,
			logx.Bool("desktop", newCfg.DesktopEnabled()),
			logx.Bool("email", newCfg.EmailNotification),
			logx.Int("email.receivers", len(newCfg.EmailReceivers)),
			logx.Bool("push", newCfg.PushNotification),
			logx.Bool("telegram", newCfg.TelegramNotification),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.String("logging.dir", newCfg.Logging.Dir),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		// Storage is opened once at startup; a change only applies after restart.
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if !reflect.DeepEqual(oldCfg.Browser, newCfg.Browser) {
		changed = append(changed, "browser")
	}
	if !reflect.DeepEqual(oldCfg.Portal, newCfg.Portal) {
		changed = append(changed, "portal")
		attrs = append(attrs, logx.String("portal.base_url", newCfg.Portal.BaseURL))
	}
	if oldCfg.Retry != newCfg.Retry {
		changed = append(changed, "retry")
		attrs = append(attrs, logx.Int("retry.max_consecutive", newCfg.Retry.MaxConsecutive))
	}

	return changed, attrs
}
