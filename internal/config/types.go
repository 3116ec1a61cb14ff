package config

// Config is the whole daemon configuration. It is loaded once, validated,
// and treated as immutable by everything that receives it.
//
// Top-level keys mirror the legacy config.json layout so existing files
// keep loading unchanged.
type Config struct {
	Credentials Credentials `json:"credentials"`

	// WaitTime and RandomTimeMargin are in seconds.
	WaitTime         int `json:"wait_time"`
	RandomTimeMargin int `json:"random_time_margin"`

	// DesktopNotification is a pointer so an omitted key defaults to true.
	DesktopNotification *bool `json:"desktop_notification,omitempty"`

	EmailNotification bool        `json:"email_notification"`
	EmailReceivers    []string    `json:"email_receivers,omitempty"`
	EmailSender       EmailSender `json:"email_sender"`

	PushNotification bool   `json:"push_notification"`
	PushAPIToken     string `json:"push_api_token,omitempty"`
	PushEndpoint     string `json:"push_endpoint,omitempty"` // default: "https://api.day.app"

	TelegramNotification bool           `json:"telegram_notification,omitempty"`
	Telegram             TelegramConfig `json:"telegram,omitempty"`

	Notifier NotifierConfig `json:"notifier,omitempty"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
	Storage  StorageConfig  `json:"storage,omitempty"`
	Browser  BrowserConfig  `json:"browser,omitempty"`
	Portal   PortalConfig   `json:"portal,omitempty"`
	Retry    RetryConfig    `json:"retry,omitempty"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type EmailSender struct {
	SMTPHost string `json:"smtp_host"`
	Port     int    `json:"port,omitempty"` // default: 25
	Address  string `json:"address"`
	Password string `json:"password"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// NotifierConfig tunes delivery.
type NotifierConfig struct {
	Title       string   `json:"title,omitempty"`        // default: "Score Watch"
	RatePerSec  int      `json:"rate_per_sec,omitempty"` // default: 3
	RetryMax    int      `json:"retry_max,omitempty"`    // per channel; default: 0
	RetryBase   Duration `json:"retry_base,omitempty"`
	SendTimeout Duration `json:"send_timeout,omitempty"` // default: "15s"
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console *bool  `json:"console,omitempty"` // default: true
	// File turns the daily log files off when explicitly false.
	File      *bool  `json:"file,omitempty"`
	Dir       string `json:"dir,omitempty"`        // default: "logs"
	Prefix    string `json:"prefix,omitempty"`     // default: "scorewatch"
	ErrorFile string `json:"error_file,omitempty"` // default: "scorewatch-errors.log"
}

// StorageConfig selects where the snapshot blob lives.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./scorewatch.db" }
type StorageConfig struct {
	Driver      string   `json:"driver,omitempty"`       // "file" (default) | "sqlite"
	Path        string   `json:"path,omitempty"`         // default: "./data.cache"
	BusyTimeout Duration `json:"busy_timeout,omitempty"` // default: "1s"
}

// BrowserConfig controls the automation driver.
type BrowserConfig struct {
	// RemoteURL attaches to an already running browser (DevTools websocket).
	// Empty launches a local one.
	RemoteURL string   `json:"remote_url,omitempty"`
	Bin       string   `json:"bin,omitempty"`
	Headless  *bool    `json:"headless,omitempty"` // default: true
	Stealth   *bool    `json:"stealth,omitempty"`  // default: true
	Timeout   Duration `json:"timeout,omitempty"`  // per operation, default: "30s"
	Settle    Duration `json:"settle,omitempty"`   // DOM settle after clicks, default: "500ms"
	// SuppressConsole keeps helper processes from opening console windows.
	SuppressConsole bool `json:"suppress_console,omitempty"`
}

// PortalConfig describes the portal's page structure. Every field has a
// default targeting the Engrade layout, so the whole block is optional.
type PortalConfig struct {
	BaseURL string `json:"base_url,omitempty"`

	LoginMarker   string `json:"login_marker,omitempty"`
	UsernameField string `json:"username_field,omitempty"`
	PasswordField string `json:"password_field,omitempty"`
	SubmitButton  string `json:"submit_button,omitempty"`

	CategoryOpener string `json:"category_opener,omitempty"`
	// CategoryOption is a fmt pattern taking the 1-based option index.
	CategoryOption     string `json:"category_option,omitempty"`
	CategoryKeyword    string `json:"category_keyword,omitempty"`
	CategoryMaxOptions int    `json:"category_max_options,omitempty"`

	ItemTable  string `json:"item_table,omitempty"`
	ItemRow    string `json:"item_row,omitempty"`
	ItemFields string `json:"item_fields,omitempty"`

	// DetailSteps are clicked in order after opening an item.
	// Missing steps are skipped.
	DetailSteps []string `json:"detail_steps,omitempty"`
	// DetailCategoryOption is searched like CategoryOption inside the
	// detail view. Empty skips the search.
	DetailCategoryOption string `json:"detail_category_option,omitempty"`
	DetailContent        string `json:"detail_content,omitempty"`
	DetailProperty       string `json:"detail_property,omitempty"` // "outerHTML" (default) | "text" | attribute name
}

// RetryConfig bounds the supervisor's recovery loop.
type RetryConfig struct {
	MaxConsecutive int      `json:"max_consecutive,omitempty"` // default: 6
	BackoffMin     Duration `json:"backoff_min,omitempty"`     // default: "2s"
	BackoffMax     Duration `json:"backoff_max,omitempty"`     // default: "1m"
}
