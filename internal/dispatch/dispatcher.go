package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	rtsup "notifyd/internal/runtime/supervisor"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

const historyBuffer = 1024

// Dispatcher is safe for concurrent use. Build one per process.
type Dispatcher struct {
	router Router
	log    logx.Logger
	bus    eventbus.Bus
	store  storage.Store
	obs    Observer
	now    func() time.Time

	sup *rtsup.Supervisor

	mu       sync.Mutex
	cfg      Config
	queue    []notify.Request
	sent     map[notify.DedupKey]time.Time
	draining bool
	// idle is closed when the current drain loop exits.
	idle   chan struct{}
	closed bool
	hist   chan storage.Delivery
}

type Option func(*Dispatcher)

func WithLogger(log logx.Logger) Option { return func(d *Dispatcher) { d.log = log } }

func WithBus(b eventbus.Bus) Option { return func(d *Dispatcher) { d.bus = b } }

// WithStore enables the delivery history.
func WithStore(st storage.Store) Option { return func(d *Dispatcher) { d.store = st } }

func WithObserver(o Observer) Option { return func(d *Dispatcher) { d.obs = o } }

// WithClock replaces time.Now for dedup bookkeeping.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

func New(router Router, cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		router: router,
		log:    logx.Nop(),
		now:    time.Now,
		cfg:    cfg.normalized(),
		sent:   map[notify.DedupKey]time.Time{},
	}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	d.sup = rtsup.New(context.Background(), rtsup.WithLogger(d.log))

	if d.store != nil {
		d.hist = make(chan storage.Delivery, historyBuffer)
		ch, st := d.hist, d.store
		d.sup.GoRestart("dispatch.history", func(ctx context.Context) error {
			return d.persistLoop(ctx, ch, st)
		})
	}
	return d
}

// Apply swaps the dedup window and throttle. Existing dedup entries are
// judged against the new window from the next submission on.
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.cfg = cfg.normalized()
	d.mu.Unlock()
}

func (d *Dispatcher) Supervisor() *rtsup.Supervisor { return d.sup }

// Submit queues a notification unless an identical one was accepted within
// the dedup window. It never blocks on delivery and never fails the caller.
//
// A remembered key expires once its age reaches the window (age >= window),
// so a resubmission exactly one window later is delivered again.
func (d *Dispatcher) Submit(title, body, channelHint string) {
	now := d.now()
	req := notify.NewRequest(title, body, channelHint, now)
	key := req.Key()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("submission dropped after close", logx.String("title", title))
		return
	}
	window := d.cfg.DedupWindow
	for k, at := range d.sent {
		if now.Sub(at) >= window {
			delete(d.sent, k)
		}
	}
	if _, dup := d.sent[key]; dup {
		depth := len(d.queue)
		d.mu.Unlock()
		d.log.Debug("duplicate notification suppressed", logx.String("key", string(key)), logx.String("title", title))
		if d.obs != nil {
			d.obs.ObserveDeduplicated()
		}
		d.publish(EventDeduped, Event{RequestID: req.ID, Key: key, Title: title, Hint: req.ChannelHint, Depth: depth, At: now})
		return
	}
	if window > 0 {
		d.sent[key] = now
	}
	d.queue = append(d.queue, req)
	depth := len(d.queue)
	start := !d.draining
	var idle chan struct{}
	if start {
		d.draining = true
		d.idle = make(chan struct{})
		idle = d.idle
	}
	d.mu.Unlock()

	if d.obs != nil {
		d.obs.ObserveSubmitted(depth)
	}
	d.publish(EventQueued, Event{RequestID: req.ID, Key: key, Title: title, Hint: req.ChannelHint, Depth: depth, At: now})
	if start {
		d.sup.Go("dispatch.drain", func(ctx context.Context) error {
			d.drain(ctx, idle)
			return nil
		})
	}
}

// DispatchNow delivers immediately, bypassing the queue and dedup window.
func (d *Dispatcher) DispatchNow(ctx context.Context, title, body, channelHint string) (notify.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return notify.Report{}, ErrClosed
	}
	req := notify.NewRequest(title, body, channelHint, d.now())
	return d.dispatchOne(ctx, req), nil
}

// Pending returns the number of queued requests not yet handed to the router.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Idle blocks until the queue is empty and no drain loop is running.
func (d *Dispatcher) Idle(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		d.mu.Lock()
		if !d.draining && len(d.queue) == 0 {
			d.mu.Unlock()
			return nil
		}
		idle := d.idle
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}
	}
}

// Close stops accepting submissions and waits for the queue to drain until
// ctx is done. Requests still queued at that point are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	err := d.Idle(ctx)
	if err != nil {
		d.sup.Cancel()
		if n := d.Pending(); n > 0 {
			d.log.Warn("abandoning queued notifications", logx.Int("pending", n))
		}
	}

	d.mu.Lock()
	if d.hist != nil {
		close(d.hist)
		d.hist = nil
	}
	d.mu.Unlock()

	// Let the history loop flush what it already has.
	wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if werr := d.sup.Wait(wctx); werr != nil && err == nil {
		d.log.Debug("dispatcher loops did not stop cleanly", logx.Err(werr))
	}
	d.sup.Cancel()
	return err
}

func (d *Dispatcher) drain(ctx context.Context, idle chan struct{}) {
	defer close(idle)
	for {
		d.mu.Lock()
		if len(d.queue) == 0 || ctx.Err() != nil {
			// Cleared under the lock that saw the empty queue, so a concurrent
			// Submit either lands before this check or starts a new loop.
			d.draining = false
			d.mu.Unlock()
			return
		}
		req := d.queue[0]
		d.queue[0] = notify.Request{}
		d.queue = d.queue[1:]
		depth := len(d.queue)
		throttle := d.cfg.Throttle
		d.mu.Unlock()

		if d.obs != nil {
			d.obs.ObserveDrained(depth)
		}
		d.dispatchOne(ctx, req)

		if throttle > 0 {
			t := time.NewTimer(throttle)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}
}

// dispatchOne never panics: a router panic is logged and reported as an
// empty report so the drain loop moves on.
func (d *Dispatcher) dispatchOne(ctx context.Context, req notify.Request) (rep notify.Report) {
	start := time.Now()
	log := d.log.With(logx.String("request", req.ID), logx.String("title", req.Title))
	defer func() {
		if p := recover(); p != nil {
			log.Error("router panicked", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			rep = notify.Report{RequestID: req.ID}
			d.publish(EventFailed, Event{RequestID: req.ID, Key: req.Key(), Title: req.Title, Hint: req.ChannelHint, Error: fmt.Sprintf("panic: %v", p), At: d.now()})
		}
	}()

	rep = d.router.Dispatch(ctx, req)
	rep.RequestID = req.ID

	ev := Event{RequestID: req.ID, Key: req.Key(), Title: req.Title, Hint: req.ChannelHint, OK: rep.Successes(), Failed: rep.Failures(), At: d.now()}
	switch {
	case len(rep.Outcomes) == 0:
		log.Warn("no channel ready for notification", logx.String("hint", req.ChannelHint))
		d.publish(EventDelivered, ev)
	case rep.Failures() > 0:
		for ch, res := range rep.ByChannel() {
			if len(res.Error) > 0 {
				log.Warn("channel delivery failed", logx.String("channel", ch), logx.Int("failed", len(res.Error)), logx.Int("ok", len(res.Success)))
			}
		}
		ev.Error = firstFailure(rep)
		d.publish(EventFailed, ev)
	default:
		log.Info("notification delivered", logx.Int("targets", rep.Successes()), logx.Duration("took", time.Since(start)))
		d.publish(EventDelivered, ev)
	}
	d.record(req, rep)
	return rep
}

func firstFailure(rep notify.Report) string {
	for _, o := range rep.Outcomes {
		if !o.OK {
			return o.Channel + ": " + o.Redacted().Detail
		}
	}
	return ""
}

func (d *Dispatcher) record(req notify.Request, rep notify.Report) {
	if d.store == nil || len(rep.Outcomes) == 0 {
		return
	}
	at := d.now()
	dropped := 0
	d.mu.Lock()
	for _, o := range rep.Outcomes {
		o = o.Redacted()
		if d.hist == nil {
			dropped++
			continue
		}
		rec := storage.Delivery{
			At:        at,
			RequestID: req.ID,
			Key:       string(req.Key()),
			Title:     req.Title,
			Channel:   o.Channel,
			Target:    o.Target,
			OK:        o.OK,
			Detail:    o.Detail,
			TookMS:    o.Duration.Milliseconds(),
		}
		select {
		case d.hist <- rec:
		default:
			dropped++
		}
	}
	d.mu.Unlock()
	if dropped > 0 {
		d.log.Warn("delivery history records dropped", logx.Int("dropped", dropped))
		if d.obs != nil {
			for range dropped {
				d.obs.ObserveHistoryError()
			}
		}
	}
}

func (d *Dispatcher) persistLoop(ctx context.Context, ch <-chan storage.Delivery, st storage.Store) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-ch:
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := st.AppendDelivery(wctx, rec)
			cancel()
			if err != nil {
				d.log.Debug("history append failed", logx.Err(err))
				if d.obs != nil {
					d.obs.ObserveHistoryError()
				}
			}
		}
	}
}

func (d *Dispatcher) publish(typ string, ev Event) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
