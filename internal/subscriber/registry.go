// Package subscriber holds the in-memory registry mapping chat ids to
// subscription state. The registry is the only shared mutable resource in
// the bot; all access goes through its lock and broadcast fan-out works on
// snapshots.
package subscriber

import (
	"sync"
	"time"

	"newsbot/internal/eventbus"
	"newsbot/internal/news"
	"newsbot/pkg/logx"
)

// Subscriber is a registered user. Values returned by the registry are
// copies; mutating them does not affect stored state.
type Subscriber struct {
	ID            int64
	DisplayName   string
	Categories    []string // catalog display order
	Notifications bool
	LastActiveAt  time.Time
}

// HasCategory reports whether id is in the subscriber's category set.
func (s Subscriber) HasCategory(id string) bool {
	for _, c := range s.Categories {
		if c == id {
			return true
		}
	}
	return false
}

// ToggleResult describes the outcome of ToggleCategory.
type ToggleResult int

const (
	ToggleAdded ToggleResult = iota
	ToggleRemoved
	ToggleLimit
	ToggleUnknownCategory
	ToggleNotRegistered
)

type record struct {
	displayName   string
	categories    map[string]struct{}
	notifications bool
	lastActiveAt  time.Time
}

// Options bound registry behavior. MaxCategories is enforced at toggle
// time; ResetOnStart controls whether re-registration overwrites prior
// customization.
type Options struct {
	MaxCategories int
	ResetOnStart  bool
}

type Registry struct {
	mu   sync.RWMutex
	subs map[int64]*record

	optMu sync.RWMutex
	opt   Options

	log logx.Logger
	bus eventbus.Bus
}

func NewRegistry(opt Options, log logx.Logger, bus eventbus.Bus) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		subs: map[int64]*record{},
		opt:  opt,
		log:  log,
		bus:  bus,
	}
}

// Apply updates registry options (hot reload).
func (r *Registry) Apply(opt Options) {
	r.optMu.Lock()
	r.opt = opt
	r.optMu.Unlock()
}

func (r *Registry) options() Options {
	r.optMu.RLock()
	defer r.optMu.RUnlock()
	return r.opt
}

// Register creates a subscriber with the default category pair and
// notifications enabled. With ResetOnStart (the default) an existing
// subscriber is overwritten; otherwise only the display name and activity
// timestamp are refreshed. Returns the resulting state and whether the
// subscriber is new.
func (r *Registry) Register(id int64, displayName string) (Subscriber, bool) {
	opt := r.options()

	r.mu.Lock()
	rec, exists := r.subs[id]
	if exists && !opt.ResetOnStart {
		rec.displayName = displayName
		rec.lastActiveAt = time.Now()
		out := r.copyLocked(id, rec)
		r.mu.Unlock()
		return out, false
	}

	rec = &record{
		displayName:   displayName,
		categories:    map[string]struct{}{},
		notifications: true,
		lastActiveAt:  time.Now(),
	}
	for _, c := range news.DefaultCategoryIDs {
		rec.categories[c] = struct{}{}
	}
	r.subs[id] = rec
	out := r.copyLocked(id, rec)
	r.mu.Unlock()

	r.log.Info("subscriber registered",
		logx.Int64("chat_id", id),
		logx.Bool("reset", exists))
	r.publish("subscriber.registered", id)
	return out, !exists
}

// Get returns a copy of the subscriber, if registered.
func (r *Registry) Get(id int64) (Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.subs[id]
	if !ok {
		return Subscriber{}, false
	}
	return r.copyLocked(id, rec), true
}

// ToggleCategory adds the category if absent and removes it if present.
// Unknown subscribers or categories are no-ops beyond a log; adding past
// the configured maximum is refused.
func (r *Registry) ToggleCategory(id int64, categoryID string) ToggleResult {
	if !news.KnownCategory(categoryID) {
		r.log.Warn("toggle for unknown category", logx.Int64("chat_id", id), logx.String("category", categoryID))
		return ToggleUnknownCategory
	}
	max := r.options().MaxCategories

	r.mu.Lock()
	rec, ok := r.subs[id]
	if !ok {
		r.mu.Unlock()
		r.log.Debug("toggle for unknown subscriber", logx.Int64("chat_id", id))
		return ToggleNotRegistered
	}

	var res ToggleResult
	if _, has := rec.categories[categoryID]; has {
		delete(rec.categories, categoryID)
		res = ToggleRemoved
	} else if max > 0 && len(rec.categories) >= max {
		res = ToggleLimit
	} else {
		rec.categories[categoryID] = struct{}{}
		res = ToggleAdded
	}
	r.mu.Unlock()

	if res == ToggleLimit {
		r.log.Debug("category limit reached", logx.Int64("chat_id", id), logx.Int("max", max))
		return res
	}
	r.publish("subscriber.category", id)
	return res
}

// ToggleNotifications flips the flag and returns the new value. ok is
// false for unknown subscribers.
func (r *Registry) ToggleNotifications(id int64) (enabled, ok bool) {
	r.mu.Lock()
	rec, found := r.subs[id]
	if !found {
		r.mu.Unlock()
		return false, false
	}
	rec.notifications = !rec.notifications
	enabled = rec.notifications
	r.mu.Unlock()

	r.publish("subscriber.notifications", id)
	return enabled, true
}

// Touch refreshes the subscriber's activity timestamp.
func (r *Registry) Touch(id int64) {
	r.mu.Lock()
	if rec, ok := r.subs[id]; ok {
		rec.lastActiveAt = time.Now()
	}
	r.mu.Unlock()
}

// Snapshot returns a copy of all subscribers. Broadcast iterates the
// snapshot, never the live map.
func (r *Registry) Snapshot() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscriber, 0, len(r.subs))
	for id, rec := range r.subs {
		out = append(out, r.copyLocked(id, rec))
	}
	return out
}

// Count returns the number of registered subscribers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// ActiveCount returns subscribers with notifications enabled.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.subs {
		if rec.notifications {
			n++
		}
	}
	return n
}

// copyLocked materializes a Subscriber; categories come out in catalog
// display order for deterministic rendering. Caller holds r.mu.
func (r *Registry) copyLocked(id int64, rec *record) Subscriber {
	cats := make([]string, 0, len(rec.categories))
	for _, c := range news.Catalog() {
		if _, ok := rec.categories[c.ID]; ok {
			cats = append(cats, c.ID)
		}
	}
	return Subscriber{
		ID:            id,
		DisplayName:   rec.displayName,
		Categories:    cats,
		Notifications: rec.notifications,
		LastActiveAt:  rec.lastActiveAt,
	}
}

func (r *Registry) publish(typ string, id int64) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: id})
}
