// Package schedule submits configured notifications on cron specs.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"notifyd/internal/config"
	logx "notifyd/pkg/logx"
)

// Submitter accepts notifications for asynchronous delivery.
type Submitter interface {
	Submit(title, body, channelHint string)
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Entry describes a registered schedule.
type Entry struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Channel string    `json:"channel,omitempty"`
	Next    time.Time `json:"next"`
	Prev    time.Time `json:"prev,omitempty"`
}

type Service struct {
	sub Submitter
	log logx.Logger
	loc *time.Location

	mu    sync.Mutex
	c     *cron.Cron
	defs  []config.ScheduleConfig
	ids   map[string]cron.EntryID
	fired map[string]int
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func New(sub Submitter, opts ...Option) *Service {
	s := &Service{sub: sub, loc: time.Local, ids: map[string]cron.EntryID{}, fired: map[string]int{}}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	return s
}

// ValidateSpecs parses every spec and reports all failures.
func ValidateSpecs(defs []config.ScheduleConfig) error {
	var errs []error
	for i, d := range defs {
		if _, err := parser.Parse(strings.TrimSpace(d.Spec)); err != nil {
			errs = append(errs, fmt.Errorf("schedules[%d].spec: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Apply replaces the schedule set. Entries whose spec fails to parse are
// logged and skipped. Safe to call before Start and during hot-reload.
func (s *Service) Apply(defs []config.ScheduleConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = append([]config.ScheduleConfig(nil), defs...)
	if s.c == nil {
		return
	}
	for _, id := range s.ids {
		s.c.Remove(id)
	}
	s.ids = map[string]cron.EntryID{}
	s.registerLocked()
	s.log.Info("schedules applied", logx.Int("schedules", len(s.ids)))
}

func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(parser), cron.WithLocation(s.loc))
	s.registerLocked()
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.ids)))
}

// Stop halts triggering and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.ids = map[string]cron.EntryID{}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

// Entries lists registered schedules ordered by name.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.defs))
	for _, d := range s.defs {
		id, ok := s.ids[strings.TrimSpace(d.Name)]
		if !ok {
			continue
		}
		e := Entry{Name: strings.TrimSpace(d.Name), Spec: d.Spec, Channel: d.Channel}
		if s.c != nil {
			ce := s.c.Entry(id)
			e.Next, e.Prev = ce.Next, ce.Prev
		}
		out = append(out, e)
	}
	return out
}

// Fired reports how many times the named schedule has submitted.
func (s *Service) Fired(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired[name]
}

// Trigger submits the named schedule immediately.
func (s *Service) Trigger(name string) bool {
	s.mu.Lock()
	var (
		def   config.ScheduleConfig
		found bool
	)
	for _, d := range s.defs {
		if strings.TrimSpace(d.Name) == name {
			def, found = d, true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return false
	}
	s.fire(def)
	return true
}

func (s *Service) registerLocked() {
	for _, d := range s.defs {
		def := d
		name := strings.TrimSpace(def.Name)
		id, err := s.c.AddJob(strings.TrimSpace(def.Spec), cron.FuncJob(func() { s.fire(def) }))
		if err != nil {
			s.log.Warn("schedule rejected", logx.String("name", name), logx.String("spec", def.Spec), logx.Err(err))
			continue
		}
		s.ids[name] = id
	}
}

func (s *Service) fire(def config.ScheduleConfig) {
	name := strings.TrimSpace(def.Name)
	s.mu.Lock()
	s.fired[name]++
	s.mu.Unlock()
	s.log.Debug("schedule fired", logx.String("name", name))
	s.sub.Submit(def.Title, def.Body, def.Channel)
}
