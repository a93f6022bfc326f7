package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "notifyd/pkg/logx"
)

// recentCap bounds the in-memory tail served by Recent.
const recentCap = 1000

// fileStore appends JSON Lines to <path> and serves Recent from memory.
// The tail is rebuilt from the file on open.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	f    *os.File
	tail []Delivery
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	tail, err := loadTail(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("delivery history unreadable; starting fresh tail", logx.String("path", path), logx.Err(err))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, f: f, tail: tail}, nil
}

func (s *fileStore) AppendDelivery(_ context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(d); err != nil {
		return err
	}
	s.tail = appendCapped(s.tail, d)
	return nil
}

func (s *fileStore) Recent(_ context.Context, limit int) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	if limit <= 0 || limit > len(s.tail) {
		limit = len(s.tail)
	}
	out := make([]Delivery, 0, limit)
	for i := len(s.tail) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.tail[i])
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func loadTail(path string) ([]Delivery, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tail []Delivery
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var d Delivery
		// Skip torn lines from a crash mid-write.
		if err := json.Unmarshal(sc.Bytes(), &d); err != nil {
			continue
		}
		tail = appendCapped(tail, d)
	}
	return tail, sc.Err()
}

func appendCapped(tail []Delivery, d Delivery) []Delivery {
	tail = append(tail, d)
	if len(tail) > recentCap {
		tail = append(tail[:0], tail[len(tail)-recentCap:]...)
	}
	return tail
}
