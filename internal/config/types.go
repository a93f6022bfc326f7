package config

// Config is the root of the config file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig    `json:"logging"`
	Dispatch  DispatchConfig   `json:"dispatch"`
	Transport TransportConfig  `json:"transport"`
	Channels  ChannelsConfig   `json:"channels"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	API       APIConfig        `json:"api"`
	Tracing   TracingConfig    `json:"tracing,omitempty"`
	Schedules []ScheduleConfig `json:"schedules,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DispatchConfig controls the queue and dedup window.
//
// Defaults: dedup_window=30s, throttle=500ms, shutdown_timeout=10s.
type DispatchConfig struct {
	DedupWindow     string `json:"dedup_window"`
	Throttle        string `json:"throttle"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

type TransportConfig struct {
	Timeout    string  `json:"timeout"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	UserAgent  string  `json:"user_agent,omitempty"`
}

// ChannelsConfig is the per-channel delivery settings.
//
// Fields holding several endpoints (webhook URLs, recipients) are
// comma-separated; the full-width comma is accepted too.
type ChannelsConfig struct {
	DingTalk   DingTalkConfig   `json:"dingtalk"`
	Xizhi      XizhiConfig      `json:"xizhi"`
	Bark       BarkConfig       `json:"bark"`
	Ntfy       NtfyConfig       `json:"ntfy"`
	Telegram   TelegramConfig   `json:"telegram"`
	Email      EmailConfig      `json:"email"`
	ServerChan ServerChanConfig `json:"serverchan"`
	Toast      ToastConfig      `json:"toast"`
}

type DingTalkConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
	AtMobile   string `json:"at_mobile,omitempty"`
	AtAll      bool   `json:"at_all,omitempty"`
}

type XizhiConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// BarkConfig: level is one of active, timeSensitive, passive, critical.
type BarkConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
	Level      string `json:"level,omitempty"`
	Badge      int    `json:"badge,omitempty"`
	AutoCopy   bool   `json:"auto_copy,omitempty"`
	Sound      string `json:"sound,omitempty"`
	Icon       string `json:"icon,omitempty"`
	Group      string `json:"group,omitempty"`
	IsArchive  bool   `json:"is_archive,omitempty"`
	URL        string `json:"url,omitempty"`
}

// NtfyConfig: webhook_url is <server>/<topic>.
type NtfyConfig struct {
	Enabled     bool   `json:"enabled"`
	WebhookURL  string `json:"webhook_url"`
	Tags        string `json:"tags,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	Attach      string `json:"attach,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Click       string `json:"click,omitempty"`
	ActionURL   string `json:"action_url,omitempty"`
	ActionLabel string `json:"action_label,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Delay       string `json:"delay,omitempty"`
	Email       string `json:"email,omitempty"`
	Call        string `json:"call,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  string `json:"chat_id"`
	// APIURL overrides https://api.telegram.org (self-hosted Bot API servers).
	APIURL string `json:"api_url,omitempty"`
}

type EmailConfig struct {
	Enabled     bool   `json:"enabled"`
	Host        string `json:"host"`
	Port        int    `json:"port,omitempty"` // default 465 with ssl, 25 without
	UseSSL      bool   `json:"use_ssl"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	SenderName  string `json:"sender_name,omitempty"`
	SenderEmail string `json:"sender_email"`
	Recipients  string `json:"recipients"`
}

type ServerChanConfig struct {
	Enabled bool   `json:"enabled"`
	SendKey string `json:"sendkey"`
	Tags    string `json:"tags,omitempty"`
	Short   string `json:"short,omitempty"`
}

type ToastConfig struct {
	Enabled bool     `json:"enabled"`
	AppID   string   `json:"app_id,omitempty"`
	Icons   []string `json:"icons,omitempty"`
}

// StorageConfig controls the optional delivery history.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/notifyd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// APIConfig controls the HTTP API. Prefer binding to localhost; set a token otherwise.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:8790"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
	// Pprof mounts net/http/pprof under /debug/pprof/ behind the same token.
	Pprof bool `json:"pprof,omitempty"`
}

type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint,omitempty"` // host:port of an OTLP/HTTP collector
	Insecure    bool    `json:"insecure,omitempty"`
	SampleRate  float64 `json:"sample_rate,omitempty"`
	ServiceName string  `json:"service_name,omitempty"`
}

// ScheduleConfig submits a fixed notification on a cron spec
// (standard 5-field, or descriptors like "@every 1h").
type ScheduleConfig struct {
	Name    string `json:"name"`
	Spec    string `json:"spec"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Channel string `json:"channel,omitempty"`
}
