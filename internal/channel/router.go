package channel

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"notifyd/internal/config"
	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

// Observer receives one call per finished target.
type Observer interface {
	ObserveOutcome(o notify.Outcome)
}

// ConfigSource returns the current channel settings. It is called once per
// dispatch so config reloads apply to the next notification.
type ConfigSource func() config.ChannelsConfig

type Router struct {
	source ConfigSource
	descs  []Descriptor
	log    logx.Logger
	obs    Observer
	tracer trace.Tracer
}

type RouterOption func(*Router)

func WithLogger(log logx.Logger) RouterOption { return func(r *Router) { r.log = log } }

func WithObserver(o Observer) RouterOption { return func(r *Router) { r.obs = o } }

func NewRouter(source ConfigSource, descs []Descriptor, opts ...RouterOption) *Router {
	r := &Router{
		source: source,
		descs:  descs,
		log:    logx.Nop(),
		tracer: otel.Tracer("notifyd/channel"),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	return r
}

// Status is a secret-free view of one channel's config state.
type Status struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Ready   bool   `json:"ready"`
	Targets int    `json:"targets"`
}

func (r *Router) Status() []Status {
	cfg := r.source()
	out := make([]Status, 0, len(r.descs))
	for _, d := range r.descs {
		st := Status{Name: d.Name, Enabled: d.Enabled(cfg), Ready: d.Ready(cfg)}
		if st.Ready {
			st.Targets = len(d.Targets(cfg))
		}
		out = append(out, st)
	}
	return out
}

// Dispatch delivers req to every ready channel and waits for all targets.
//
// Channels that are disabled or miss required settings are skipped without
// an outcome. Every attempted target yields exactly one outcome.
func (r *Router) Dispatch(ctx context.Context, req notify.Request) notify.Report {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := r.source()
	only := parseHint(req.ChannelHint)

	ctx, span := r.tracer.Start(ctx, "notify.dispatch", trace.WithAttributes(
		attribute.String("notify.request_id", req.ID),
		attribute.String("notify.channel_hint", req.ChannelHint),
	))
	defer span.End()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		outcomes []notify.Outcome
	)
	add := func(o notify.Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
		if r.obs != nil {
			r.obs.ObserveOutcome(o)
		}
	}

	for _, d := range r.descs {
		if len(only) > 0 && !only[d.Name] {
			continue
		}
		if !d.Ready(cfg) {
			continue
		}
		targets := d.Targets(cfg)
		if len(targets) == 0 {
			add(notify.Failure(d.Name, "", ErrNoTargets.Error()))
			continue
		}
		for _, t := range targets {
			wg.Add(1)
			go func(d Descriptor, target string) {
				defer wg.Done()
				add(r.sendOne(ctx, cfg, d, req, target))
			}(d, t)
		}
	}
	wg.Wait()

	sort.SliceStable(outcomes, func(i, j int) bool {
		if outcomes[i].Channel != outcomes[j].Channel {
			return outcomes[i].Channel < outcomes[j].Channel
		}
		return outcomes[i].Target < outcomes[j].Target
	})
	rep := notify.Report{RequestID: req.ID, Outcomes: outcomes}
	span.SetAttributes(attribute.Int("notify.ok", rep.Successes()), attribute.Int("notify.failed", rep.Failures()))
	if rep.Failures() > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d target(s) failed", rep.Failures()))
	}
	return rep
}

func (r *Router) sendOne(ctx context.Context, cfg config.ChannelsConfig, d Descriptor, req notify.Request, target string) (out notify.Outcome) {
	ctx, span := r.tracer.Start(ctx, "notify.send", trace.WithAttributes(attribute.String("notify.channel", d.Name)))
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("channel adapter panicked", logx.String("channel", d.Name), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			out = notify.Failure(d.Name, target, fmt.Sprintf("panic: %v", p))
		}
		out.Duration = time.Since(start)
		if !out.OK {
			span.SetStatus(codes.Error, out.Detail)
		}
		span.End()
	}()

	if err := d.Adapter.Send(ctx, cfg, req, target); err != nil {
		out := notify.Failure(d.Name, target, err.Error())
		red := out.Redacted()
		r.log.Debug("delivery failed", logx.String("channel", d.Name), logx.String("target", red.Target), logx.String("request", req.ID), logx.String("error", red.Detail))
		return out
	}
	return notify.Success(d.Name, target)
}

func parseHint(h string) map[string]bool {
	names := SplitTargets(strings.ToLower(h))
	if len(names) == 0 {
		return nil
	}
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}
