package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"notifyd/internal/api"
	"notifyd/internal/channel"
	"notifyd/internal/config"
	"notifyd/internal/dispatch"
	"notifyd/internal/eventbus"
	"notifyd/internal/metrics"
	"notifyd/internal/observability"
	rtsup "notifyd/internal/runtime/supervisor"
	"notifyd/internal/schedule"
	"notifyd/internal/storage"
	"notifyd/internal/toast"
	"notifyd/internal/transport"
	logx "notifyd/pkg/logx"
)

const (
	apiReadTimeout  = 10 * time.Second
	apiWriteTimeout = 60 * time.Second
	apiIdleTimeout  = 2 * time.Minute
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	reg   *prometheus.Registry

	router     *channel.Router
	dispatcher *dispatch.Dispatcher
	sched      *schedule.Service
	api        *api.Server

	shutdownTimeout atomic.Int64
	stopTracing     observability.ShutdownFunc
}

// Option overrides collaborators, mainly for tests.
type Option func(*options)

type options struct {
	toast  channel.ToastShower
	mailer channel.Mailer
}

func WithToast(s channel.ToastShower) Option { return func(o *options) { o.toast = s } }

func WithMailer(m channel.Mailer) Option { return func(o *options) { o.mailer = m } }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := schedule.ValidateSpecs(cfg.Schedules); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		if sc.Path != ":memory:" {
			sc.Path = resolvePath(cfgPath, sc.Path)
		}
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tcfg, err := mapTransportConfig(cfg)
	if err != nil {
		return nil, err
	}
	client := transport.New(tcfg, log.With(logx.String("comp", "transport")))

	if o.toast == nil {
		o.toast = toast.New()
	}
	router := channel.NewRouter(cfgm.Channels, channel.Builtin(channel.Deps{
		HTTP:   client,
		Mailer: o.mailer,
		Bots:   channel.NewBotPool(client.HTTPClient()),
		Toast:  o.toast,
	}), channel.WithLogger(log.With(logx.String("comp", "channel"))), channel.WithObserver(m))

	dcfg, parsed, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	dopts := []dispatch.Option{
		dispatch.WithLogger(log.With(logx.String("comp", "dispatch"))),
		dispatch.WithBus(bus),
		dispatch.WithObserver(m),
	}
	if store != nil {
		dopts = append(dopts, dispatch.WithStore(store))
	}
	d := dispatch.New(router, dcfg, dopts...)

	sched := schedule.New(d, schedule.WithLogger(log.With(logx.String("comp", "schedule"))))
	sched.Apply(cfg.Schedules)

	a := &App{
		cfgPath:     cfgPath,
		cfgm:        cfgm,
		log:         log,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		reg:         reg,
		router:      router,
		dispatcher:  d,
		sched:       sched,
		stopTracing: func(context.Context) error { return nil },
	}
	a.shutdownTimeout.Store(int64(parsed.ShutdownTimeout))
	if cfg.API.Enabled {
		a.api = api.New(mapAPIConfig(cfg), api.Deps{
			Dispatcher: d,
			Channels:   router.Status,
			Store:      store,
			Gatherer:   reg,
			Schedules:  sched.Entries,
			Loops:      a.loops,
		}, log.With(logx.String("comp", "api")))
	}
	return a, nil
}

// Dispatcher exposes the queue to embedding code.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// API returns the HTTP server, or nil when disabled.
func (a *App) API() *api.Server { return a.api }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) loops() map[string]rtsup.Snapshot {
	out := map[string]rtsup.Snapshot{"dispatch": a.dispatcher.Supervisor().Snapshot()}
	if a.sup != nil {
		out["app"] = a.sup.Snapshot()
	}
	if a.api != nil {
		if sup := a.api.Supervisor(); sup != nil {
			out["api"] = sup.Snapshot()
		}
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return schedule.ValidateSpecs(cfg.Schedules)
	})

	cfg := a.cfgm.Get()
	shutdown, err := observability.SetupTracing(ctx, cfg.Tracing, a.log.With(logx.String("comp", "tracing")))
	if err != nil {
		return err
	}
	a.stopTracing = shutdown

	a.sched.Start(a.sup.Context())
	if a.api != nil {
		a.api.Start(a.sup.Context())
	}

	events, unsub := a.bus.Subscribe(128, "dispatch.")
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.logEvent(e)
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Strs("channels", config.EnabledChannels(cfg.Channels)),
		logx.Bool("api", a.api != nil),
		logx.Int("schedules", len(cfg.Schedules)),
	)
	return nil
}

// applyConfig pushes a reloaded config into the live components. Channel
// settings need no push: the router reads them on every dispatch.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		case "dispatch":
			dcfg, parsed, err := mapDispatchConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
				continue
			}
			a.dispatcher.Apply(dcfg)
			a.shutdownTimeout.Store(int64(parsed.ShutdownTimeout))
		case "schedules":
			a.sched.Apply(newCfg.Schedules)
		case "storage", "api", "tracing", "transport":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) logEvent(e eventbus.Event) {
	ev, ok := e.Data.(dispatch.Event)
	if !ok {
		return
	}
	fields := []logx.Field{
		logx.String("type", e.Type),
		logx.String("request_id", ev.RequestID),
		logx.String("title", ev.Title),
	}
	switch e.Type {
	case dispatch.EventFailed:
		a.log.Warn("notification had failures", append(fields, logx.Int("ok", ev.OK), logx.Int("failed", ev.Failed), logx.String("error", ev.Error))...)
	case dispatch.EventDelivered:
		a.log.Debug("notification delivered", append(fields, logx.Int("ok", ev.OK))...)
	default:
		a.log.Debug("event", append(fields, logx.Int("depth", ev.Depth))...)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				max = min(max, time.Until(dl))
			}
			if max > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Stop the producers first so the queue can only shrink.
	step("api", 3*time.Second, func(c context.Context) error {
		if a.api != nil {
			return a.api.Stop(c)
		}
		return nil
	})
	step("schedule", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("dispatch", time.Duration(a.shutdownTimeout.Load()), a.dispatcher.Close)

	a.sup.Cancel()
	step("tracing", 2*time.Second, func(c context.Context) error { return a.stopTracing(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// resolvePath makes p relative to the config file's directory.
func resolvePath(cfgPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(cfgPath), p)
}
