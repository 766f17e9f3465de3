// Package dispatch filters content and delivers it: on-demand pages for a
// single subscriber and broadcast fan-out for freshly published items.
// Outbound sends are rate limited and retried; one failing send never
// blocks or cancels its siblings.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"

	"newsbot/internal/eventbus"
	"newsbot/internal/news"
	"newsbot/internal/subscriber"
	"newsbot/internal/transport"
	"newsbot/pkg/logx"
)

type Config struct {
	PageSize   int
	RatePerSec int
	RetryMax   int
}

// Result summarizes one broadcast fan-out.
type Result struct {
	Matched   int
	Delivered int
	Failed    int
}

type Engine struct {
	registry *subscriber.Registry
	provider *news.Provider
	adapter  transport.Adapter
	log      logx.Logger
	bus      eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, reg *subscriber.Registry, prov *news.Provider, ad transport.Adapter, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		registry: reg,
		provider: prov,
		adapter:  ad,
		log:      log,
		bus:      bus,
	}
	e.Apply(cfg)
	return e
}

// Apply updates the delivery knobs (hot reload).
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	if cfg.RatePerSec > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	} else {
		e.limiter = nil
	}
}

// PageSize reports the current per-request item bound.
func (e *Engine) PageSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.PageSize
}

func (e *Engine) snapshot() (Config, *rate.Limiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.limiter
}

// DeliverTo sends the subscriber's current news page. An unregistered chat
// gets a register-first prompt and an empty result gets an informational
// message; neither is an error. Per-item send failures are logged and do
// not stop the remaining items.
func (e *Engine) DeliverTo(ctx context.Context, chatID int64) error {
	to := transport.ChatTarget{ChatID: chatID}
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}

	sub, ok := e.registry.Get(chatID)
	if !ok {
		return e.sendOne(ctx, to, msgStartFirst, &transport.SendOptions{})
	}

	cfg, _ := e.snapshot()
	items := e.provider.ByCategories(sub.Categories, cfg.PageSize)
	if len(items) == 0 {
		return e.sendOne(ctx, to, msgNoNews, &transport.SendOptions{})
	}

	if err := e.sendOne(ctx, to, msgNewsHeader, opt); err != nil {
		// The chat is unreachable; the item loop would fail the same way.
		return err
	}
	for _, it := range items {
		itemOpt := *opt
		itemOpt.ReplyMarkup = ItemMarkup(it)
		if err := e.sendOne(ctx, to, ItemText(it), &itemOpt); err != nil {
			e.log.Warn("news item delivery failed",
				logx.Int64("chat_id", chatID),
				logx.String("item", it.ID),
				logx.Err(err))
		}
	}
	return nil
}

// Broadcast pushes item to every subscriber with notifications enabled and
// the item's category subscribed. The registry is snapshotted before
// iterating; per-subscriber failures are isolated.
func (e *Engine) Broadcast(ctx context.Context, it news.Item) Result {
	start := time.Now()
	text := BroadcastText(it)
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyMarkup: ItemMarkup(it)}

	var res Result
	for _, sub := range e.registry.Snapshot() {
		if !sub.Notifications || !sub.HasCategory(it.Category) {
			continue
		}
		res.Matched++
		if err := e.sendOne(ctx, transport.ChatTarget{ChatID: sub.ID}, text, opt); err != nil {
			res.Failed++
			e.log.Warn("broadcast send failed",
				logx.Int64("chat_id", sub.ID),
				logx.String("item", it.ID),
				logx.Err(err))
			continue
		}
		res.Delivered++
	}

	fields := []logx.Field{
		logx.String("item", it.ID),
		logx.String("category", it.Category),
		logx.Int("matched", res.Matched),
		logx.Int("delivered", res.Delivered),
		logx.Int("failed", res.Failed),
		logx.Duration("took", time.Since(start)),
	}
	if res.Failed > 0 {
		e.log.Warn("broadcast finished with failures", fields...)
	} else {
		e.log.Info("broadcast finished", fields...)
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: "broadcast.finished", Data: res})
	}
	return res
}

func (e *Engine) sendOne(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	cfg, lim := e.snapshot()
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}

	attempts := uint(cfg.RetryMax) + 1
	return retry.Do(
		func() error {
			_, err := e.adapter.SendText(ctx, to, text, opt)
			return err
		},
		retry.Attempts(attempts),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			e.log.Debug("send retry",
				logx.Int64("chat_id", to.ChatID),
				logx.Int("attempt", int(n)+2),
				logx.Err(err))
		}),
	)
}
