package config

import (
	"strings"
	"time"
)

const (
	DefaultBaseURL      = "https://engradepro.com"
	DefaultPushEndpoint = "https://api.day.app"
	DefaultSMTPPort     = 25
	DefaultStoragePath  = "./data.cache"
	DefaultMaxRetries   = 6
	DefaultLogDir       = "logs"
)

// ApplyDefaults fills every optional field that was left empty.
// It is idempotent.
func (c *Config) ApplyDefaults() {
	if c.EmailSender.Port == 0 {
		c.EmailSender.Port = DefaultSMTPPort
	}
	if strings.TrimSpace(c.PushEndpoint) == "" {
		c.PushEndpoint = DefaultPushEndpoint
	}

	if strings.TrimSpace(c.Notifier.Title) == "" {
		c.Notifier.Title = "Score Watch"
	}
	if c.Notifier.RatePerSec <= 0 {
		c.Notifier.RatePerSec = 3
	}

	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = DefaultLogDir
	}
	if strings.TrimSpace(c.Logging.Prefix) == "" {
		c.Logging.Prefix = "scorewatch"
	}
	if strings.TrimSpace(c.Logging.ErrorFile) == "" {
		c.Logging.ErrorFile = "scorewatch-errors.log"
	}

	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "file"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultStoragePath
	}

	p := &c.Portal
	if p.BaseURL == "" {
		p.BaseURL = DefaultBaseURL
	}
	if p.LoginMarker == "" {
		p.LoginMarker = `//*[@name="usr"]`
	}
	if p.UsernameField == "" {
		p.UsernameField = `//*[@name="usr"]`
	}
	if p.PasswordField == "" {
		p.PasswordField = `//*[@name="pwd"]`
	}
	if p.SubmitButton == "" {
		p.SubmitButton = `//*[@name="_submit"]`
	}
	if p.CategoryOpener == "" {
		p.CategoryOpener = `//*[@id="gpselector"]/ul/li[1]`
	}
	if p.CategoryOption == "" {
		p.CategoryOption = `//*[@id="gpperiods"]/li[%d]`
	}
	if p.CategoryKeyword == "" {
		p.CategoryKeyword = "SEMESTER"
	}
	if p.CategoryMaxOptions == 0 {
		p.CategoryMaxOptions = 29
	}
	if p.ItemTable == "" {
		p.ItemTable = `//*[@id="classTable"]/tbody`
	}
	if p.ItemRow == "" {
		p.ItemRow = `./tr`
	}
	if p.ItemFields == "" {
		p.ItemFields = `.//a`
	}
	if len(p.DetailSteps) == 0 {
		p.DetailSteps = []string{
			`//*[@id="sideappgradebook"]/span[1]`,
			`//*[@id="gpselector"]/ul/li[1]`,
		}
	}
	if p.DetailCategoryOption == "" {
		p.DetailCategoryOption = `//*[@id="gpperiods"]/span[%d]/a`
	}
	if p.DetailContent == "" {
		p.DetailContent = `//*[@id="content-expanded"]/div[2]`
	}
	if p.DetailProperty == "" {
		p.DetailProperty = "outerHTML"
	}

	if c.Retry.MaxConsecutive == 0 {
		c.Retry.MaxConsecutive = DefaultMaxRetries
	}
}

// DesktopEnabled reports whether desktop notifications are on (default true).
func (c *Config) DesktopEnabled() bool {
	return c.DesktopNotification == nil || *c.DesktopNotification
}

// ConsoleEnabled reports whether console logging is on (default true).
func (l LoggingConfig) ConsoleEnabled() bool { return l.Console == nil || *l.Console }

// FileEnabled reports whether the daily log files are written (default true).
func (l LoggingConfig) FileEnabled() bool { return l.File == nil || *l.File }

func (b BrowserConfig) HeadlessEnabled() bool { return b.Headless == nil || *b.Headless }
func (b BrowserConfig) StealthEnabled() bool  { return b.Stealth == nil || *b.Stealth }

func (b BrowserConfig) OpTimeout() time.Duration   { return b.Timeout.Or(30 * time.Second) }
func (b BrowserConfig) SettleDelay() time.Duration { return b.Settle.Or(500 * time.Millisecond) }

func (n NotifierConfig) Timing() (retryBase, sendTimeout time.Duration) {
	return n.RetryBase.Or(500 * time.Millisecond), n.SendTimeout.Or(15 * time.Second)
}

func (s StorageConfig) Busy() time.Duration { return s.BusyTimeout.Or(time.Second) }

func (r RetryConfig) Backoff() (minWait, maxWait time.Duration) {
	minWait = r.BackoffMin.Or(2 * time.Second)
	maxWait = r.BackoffMax.Or(time.Minute)
	if maxWait < minWait {
		maxWait = minWait
	}
	return minWait, maxWait
}
