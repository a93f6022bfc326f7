package config

import (
	"reflect"
	"strings"

	logx "notifyd/pkg/logx"
)

// SummarizeConfigChange lists the top-level sections that differ and
// returns log fields describing the new values. Secrets (tokens, passwords,
// webhook URLs, send keys) are reported as counts or "set" flags only.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.dedup_window", newCfg.Dispatch.DedupWindow),
			logx.String("dispatch.throttle", newCfg.Dispatch.Throttle),
		)
	}
	if oldCfg.Transport != newCfg.Transport {
		changed = append(changed, "transport")
		attrs = append(attrs, logx.String("transport.timeout", newCfg.Transport.Timeout))
	}
	if !reflect.DeepEqual(oldCfg.Channels, newCfg.Channels) {
		changed = append(changed, "channels")
		attrs = append(attrs, logx.Strs("channels.enabled", EnabledChannels(newCfg.Channels)))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}
	if oldCfg.API != newCfg.API {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", newCfg.API.ListenAddr()),
			logx.Bool("api.token_set", strings.TrimSpace(newCfg.API.Token) != ""),
			logx.Bool("api.pprof", newCfg.API.Pprof),
		)
	}
	if oldCfg.Tracing != newCfg.Tracing {
		changed = append(changed, "tracing")
		attrs = append(attrs, logx.Bool("tracing.enabled", newCfg.Tracing.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Schedules, newCfg.Schedules) {
		changed = append(changed, "schedules")
		attrs = append(attrs, logx.Int("schedules.count", len(newCfg.Schedules)))
	}
	return changed, attrs
}

// EnabledChannels returns the names of channels whose switch is on.
func EnabledChannels(c ChannelsConfig) []string {
	var out []string
	for _, e := range []struct {
		name string
		on   bool
	}{
		{"dingtalk", c.DingTalk.Enabled},
		{"xizhi", c.Xizhi.Enabled},
		{"bark", c.Bark.Enabled},
		{"ntfy", c.Ntfy.Enabled},
		{"telegram", c.Telegram.Enabled},
		{"email", c.Email.Enabled},
		{"serverchan", c.ServerChan.Enabled},
		{"toast", c.Toast.Enabled},
	} {
		if e.on {
			out = append(out, e.name)
		}
	}
	return out
}
