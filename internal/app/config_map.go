package app

import (
	"fmt"
	"strings"

	"notifyd/internal/api"
	"notifyd/internal/config"
	"notifyd/internal/dispatch"
	"notifyd/internal/storage"
	"notifyd/internal/transport"
	logx "notifyd/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, config.Dispatch, error) {
	d, err := cfg.Dispatch.Parse()
	if err != nil {
		return dispatch.Config{}, d, err
	}
	return dispatch.Config{DedupWindow: d.DedupWindow, Throttle: d.Throttle}, d, nil
}

func mapTransportConfig(cfg *config.Config) (transport.Config, error) {
	timeout, err := cfg.Transport.ParseTimeout()
	if err != nil {
		return transport.Config{}, err
	}
	ua := strings.TrimSpace(cfg.Transport.UserAgent)
	if ua == "" {
		ua = "notifyd"
	}
	return transport.Config{Timeout: timeout, RatePerSec: cfg.Transport.RatePerSec, UserAgent: ua}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, config.DefaultBusyTimeout)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapAPIConfig(cfg *config.Config) api.Config {
	return api.Config{
		Addr:         cfg.API.ListenAddr(),
		Token:        strings.TrimSpace(cfg.API.Token),
		Pprof:        cfg.API.Pprof,
		ReadTimeout:  apiReadTimeout,
		WriteTimeout: apiWriteTimeout,
		IdleTimeout:  apiIdleTimeout,
	}
}
