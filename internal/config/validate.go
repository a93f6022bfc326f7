package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	DefaultDedupWindow     = 30 * time.Second
	DefaultThrottle        = 500 * time.Millisecond
	DefaultShutdownTimeout = 10 * time.Second
	DefaultHTTPTimeout     = 10 * time.Second
	DefaultAPIAddr         = "127.0.0.1:8790"
	DefaultBusyTimeout     = time.Second
)

// Dispatch holds the parsed dispatch durations.
type Dispatch struct {
	DedupWindow     time.Duration
	Throttle        time.Duration
	ShutdownTimeout time.Duration
}

func (c DispatchConfig) Parse() (Dispatch, error) {
	var (
		out  Dispatch
		err  error
		errs []error
	)
	if out.DedupWindow, err = ParseDurationOrDefault("dispatch.dedup_window", c.DedupWindow, DefaultDedupWindow); err != nil {
		errs = append(errs, err)
	}
	if out.Throttle, err = ParseDurationOrDefault("dispatch.throttle", c.Throttle, DefaultThrottle); err != nil {
		errs = append(errs, err)
	}
	if out.ShutdownTimeout, err = ParseDurationOrDefault("dispatch.shutdown_timeout", c.ShutdownTimeout, DefaultShutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	return out, errors.Join(errs...)
}

func (c TransportConfig) ParseTimeout() (time.Duration, error) {
	d, err := ParseDurationOrDefault("transport.timeout", c.Timeout, DefaultHTTPTimeout)
	if err == nil && d == 0 {
		d = DefaultHTTPTimeout
	}
	return d, err
}

func (c APIConfig) ListenAddr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultAPIAddr
}

func (c *StorageConfig) ParseBusyTimeout() (time.Duration, error) {
	if c == nil {
		return 0, nil
	}
	return ParseDurationField("storage.busy_timeout", c.BusyTimeout)
}

var barkLevels = map[string]bool{"": true, "active": true, "timeSensitive": true, "passive": true, "critical": true}

// Validate reports every problem found, each prefixed with its field path.
// Channel credentials are not required here: an incomplete channel is
// simply skipped at dispatch time.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add("logging.file.path: required when file logging is enabled")
	}

	if _, err := cfg.Dispatch.Parse(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Transport.ParseTimeout(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Transport.RatePerSec < 0 {
		add("transport.rate_per_sec: must be >= 0")
	}

	ch := cfg.Channels
	if !barkLevels[strings.TrimSpace(ch.Bark.Level)] {
		add("channels.bark.level: unknown level %q", ch.Bark.Level)
	}
	if ch.Ntfy.Priority < 0 || ch.Ntfy.Priority > 5 {
		add("channels.ntfy.priority: must be within 1..5")
	}
	if ch.Email.Port < 0 || ch.Email.Port > 65535 {
		add("channels.email.port: out of range")
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				add("storage.path: required for driver %q", st.Driver)
			}
		default:
			add("storage.driver: unknown driver %q", st.Driver)
		}
		if _, err := st.ParseBusyTimeout(); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.API.Enabled {
		if _, _, err := net.SplitHostPort(cfg.API.ListenAddr()); err != nil {
			add("api.addr: %v", err)
		}
	}

	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		add("tracing.sample_rate: must be within 0..1")
	}
	if cfg.Tracing.Enabled && strings.TrimSpace(cfg.Tracing.Endpoint) == "" {
		add("tracing.endpoint: required when tracing is enabled")
	}

	seen := map[string]bool{}
	for i, s := range cfg.Schedules {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			add("schedules[%d].name: required", i)
		} else if seen[name] {
			add("schedules[%d].name: duplicate %q", i, name)
		}
		seen[name] = true
		if strings.TrimSpace(s.Spec) == "" {
			add("schedules[%d].spec: required", i)
		}
		if strings.TrimSpace(s.Title) == "" && strings.TrimSpace(s.Body) == "" {
			add("schedules[%d]: title or body required", i)
		}
	}
	return errors.Join(errs...)
}
