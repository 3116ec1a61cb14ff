package config

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
)

// ConfigError reports one invalid or missing field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Field + ": " + e.Reason
}

// Validate checks the whole configuration at once and returns every
// problem joined into one error. Each element is a *ConfigError.
// Call ApplyDefaults first.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}
	checkDuration := func(field string, d Duration) {
		if _, err := d.Value(); err != nil {
			bad(field, "invalid duration %q (want >= 0, e.g. \"30s\")", string(d))
		}
	}

	if strings.TrimSpace(c.Credentials.Username) == "" {
		bad("credentials.username", "required")
	}
	if c.Credentials.Password == "" {
		bad("credentials.password", "required")
	}

	if c.WaitTime <= 0 {
		bad("wait_time", "must be > 0 seconds (got %d)", c.WaitTime)
	}
	if c.RandomTimeMargin < 0 {
		bad("random_time_margin", "must be >= 0 (got %d)", c.RandomTimeMargin)
	} else if c.WaitTime > 0 && c.RandomTimeMargin > c.WaitTime {
		bad("random_time_margin", "must not exceed wait_time (%d > %d)", c.RandomTimeMargin, c.WaitTime)
	}

	if c.EmailNotification {
		if len(c.EmailReceivers) == 0 {
			bad("email_receivers", "required when email_notification is enabled")
		}
		for i, r := range c.EmailReceivers {
			if _, err := mail.ParseAddress(r); err != nil {
				bad(fmt.Sprintf("email_receivers[%d]", i), "invalid address %q", r)
			}
		}
		if strings.TrimSpace(c.EmailSender.SMTPHost) == "" {
			bad("email_sender.smtp_host", "required when email_notification is enabled")
		}
		if _, err := mail.ParseAddress(c.EmailSender.Address); err != nil {
			bad("email_sender.address", "invalid address %q", c.EmailSender.Address)
		}
		if c.EmailSender.Port <= 0 || c.EmailSender.Port > 65535 {
			bad("email_sender.port", "out of range (%d)", c.EmailSender.Port)
		}
	}

	if c.PushNotification {
		if strings.TrimSpace(c.PushAPIToken) == "" {
			bad("push_api_token", "required when push_notification is enabled")
		}
		if u, err := url.Parse(c.PushEndpoint); err != nil || u.Scheme == "" || u.Host == "" {
			bad("push_endpoint", "invalid URL %q", c.PushEndpoint)
		}
	}

	if c.TelegramNotification {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			bad("telegram.token", "required when telegram_notification is enabled")
		}
		if c.Telegram.ChatID == 0 {
			bad("telegram.chat_id", "required when telegram_notification is enabled")
		}
	}

	if c.Notifier.RetryMax < 0 {
		bad("notifier.retry_max", "must be >= 0")
	}
	checkDuration("notifier.retry_base", c.Notifier.RetryBase)
	checkDuration("notifier.send_timeout", c.Notifier.SendTimeout)

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "file", "sqlite":
	default:
		bad("storage.driver", "unsupported driver %q (want file|sqlite)", c.Storage.Driver)
	}
	checkDuration("storage.busy_timeout", c.Storage.BusyTimeout)

	checkDuration("browser.timeout", c.Browser.Timeout)
	checkDuration("browser.settle", c.Browser.Settle)
	if c.Browser.RemoteURL != "" {
		if u, err := url.Parse(c.Browser.RemoteURL); err != nil || u.Host == "" {
			bad("browser.remote_url", "invalid URL %q", c.Browser.RemoteURL)
		}
	}

	if u, err := url.Parse(c.Portal.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		bad("portal.base_url", "invalid URL %q", c.Portal.BaseURL)
	}
	if !strings.Contains(c.Portal.CategoryOption, "%d") {
		bad("portal.category_option", "must contain %%d for the option index")
	}
	if c.Portal.DetailCategoryOption != "" && !strings.Contains(c.Portal.DetailCategoryOption, "%d") {
		bad("portal.detail_category_option", "must contain %%d for the option index")
	}
	if c.Portal.CategoryMaxOptions < 0 {
		bad("portal.category_max_options", "must be >= 0")
	}

	if c.Retry.MaxConsecutive < 1 {
		bad("retry.max_consecutive", "must be >= 1")
	}
	checkDuration("retry.backoff_min", c.Retry.BackoffMin)
	checkDuration("retry.backoff_max", c.Retry.BackoffMax)

	return errors.Join(errs...)
}

// FieldErrors flattens a Validate result into its *ConfigError parts.
func FieldErrors(err error) []*ConfigError {
	if err == nil {
		return nil
	}
	var out []*ConfigError
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			out = append(out, FieldErrors(e)...)
		}
		return out
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		out = append(out, ce)
	}
	return out
}
