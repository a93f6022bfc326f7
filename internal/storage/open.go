package storage

import (
	"context"
	"fmt"
	"strings"

	logx "notifyd/pkg/logx"
)

type Store interface {
	AppendDelivery(ctx context.Context, d Delivery) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Delivery, error)
	Close() error
}

// Open returns (nil, nil) when storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
