package notifier

import (
	"fmt"

	"scorewatch/internal/config"
	logx "scorewatch/pkg/logx"
)

// FromConfig builds a Dispatcher with every channel the config enables,
// in the order desktop, email, push, telegram.
func FromConfig(cfg *config.Config, log logx.Logger) (*Dispatcher, error) {
	var chans []Channel

	if cfg.DesktopEnabled() {
		chans = append(chans, NewDesktop(cfg.Notifier.Title, log))
	}
	if cfg.EmailNotification {
		em, err := NewEmail(EmailConfig{
			Host:       cfg.EmailSender.SMTPHost,
			Port:       cfg.EmailSender.Port,
			Address:    cfg.EmailSender.Address,
			Password:   cfg.EmailSender.Password,
			FromName:   cfg.Notifier.Title,
			Recipients: cfg.EmailReceivers,
		})
		if err != nil {
			return nil, fmt.Errorf("notifier: %w", err)
		}
		chans = append(chans, em)
	}
	if cfg.PushNotification {
		p, err := NewPush(cfg.PushEndpoint, cfg.PushAPIToken, nil)
		if err != nil {
			return nil, fmt.Errorf("notifier: %w", err)
		}
		chans = append(chans, p)
	}
	if cfg.TelegramNotification {
		tg, err := NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("notifier: %w", err)
		}
		chans = append(chans, tg)
	}

	retryBase, sendTimeout := cfg.Notifier.Timing()
	d := New(Config{
		RatePerSec:  cfg.Notifier.RatePerSec,
		RetryMax:    cfg.Notifier.RetryMax,
		RetryBase:   retryBase,
		SendTimeout: sendTimeout,
	}, cfg.Notifier.Title, chans, log)

	if !log.IsZero() {
		log.Info("notifier ready", logx.Any("channels", d.Channels()))
	}
	return d, nil
}
