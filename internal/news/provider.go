// Package news holds the static category catalog and the in-memory content
// store: filtered/sorted accessors, search, trending counts and random item
// generation for the periodic broadcast.
package news

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"newsbot/pkg/logx"
)

// Item is a single news-like unit. Immutable once created.
type Item struct {
	ID          string
	Title       string
	Description string
	Category    string
	Emoji       string
	URL         string
	PublishedAt time.Time
}

// Draft is an Item without the system-assigned id and timestamp.
type Draft struct {
	Title       string
	Description string
	Category    string
	Emoji       string
	URL         string
}

// CategoryCount is one row of the trending report.
type CategoryCount struct {
	Category string
	Count    int
}

// Provider is the content store. Items are never deleted; bounded growth is
// acceptable at this scope.
type Provider struct {
	mu    sync.RWMutex
	items []Item

	rngMu sync.Mutex
	rng   *rand.Rand

	log logx.Logger
}

func NewProvider(log logx.Logger) *Provider {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Provider{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		log: log,
	}
	p.items = seedItems(time.Now())
	return p
}

func seedItems(now time.Time) []Item {
	seeds := []struct {
		draft Draft
		age   time.Duration
	}{
		{Draft{
			Title:       "Quantum computing milestone announced",
			Description: "Researchers unveiled a quantum machine with over a thousand qubits, solving benchmark problems in seconds",
			Category:    "tech",
			Emoji:       "🔬",
			URL:         "https://example.com/quantum-breakthrough",
		}, 2 * time.Hour},
		{Draft{
			Title:       "Crewed Mars mission moves to final planning",
			Description: "The first crewed flight to the red planet is now targeted for a launch window two years out",
			Category:    "space",
			Emoji:       "🚀",
			URL:         "https://example.com/mars-mission",
		}, 4 * time.Hour},
		{Draft{
			Title:       "Bitcoin sets a new all-time high",
			Description: "The cryptocurrency crossed the $80,000 mark on growing institutional demand",
			Category:    "business",
			Emoji:       "₿",
			URL:         "https://example.com/bitcoin-record",
		}, 1 * time.Hour},
		{Draft{
			Title:       "Immunotherapy trial reports 95% efficacy",
			Description: "A new cancer immunotherapy showed striking results in late-stage clinical trials",
			Category:    "science",
			Emoji:       "🧬",
			URL:         "https://example.com/cancer-breakthrough",
		}, 6 * time.Hour},
		{Draft{
			Title:       "World cup final decided in extra time",
			Description: "A dramatic 3:2 finish crowned an unexpected champion after extra time",
			Category:    "sport",
			Emoji:       "⚽",
			URL:         "https://example.com/world-cup-final",
		}, 3 * time.Hour},
		{Draft{
			Title:       "Space opera breaks opening-weekend records",
			Description: "The film grossed $500M in its first weekend of release",
			Category:    "entertainment",
			Emoji:       "🎬",
			URL:         "https://example.com/movie-record",
		}, 8 * time.Hour},
	}

	items := make([]Item, 0, len(seeds))
	for _, s := range seeds {
		items = append(items, Item{
			ID:          xid.New().String(),
			Title:       s.draft.Title,
			Description: s.draft.Description,
			Category:    s.draft.Category,
			Emoji:       s.draft.Emoji,
			URL:         s.draft.URL,
			PublishedAt: now.Add(-s.age),
		})
	}
	return items
}

// ByCategory returns items in one category, newest first, at most limit.
func (p *Provider) ByCategory(category string, limit int) []Item {
	return p.ByCategories([]string{category}, limit)
}

// ByCategories returns the union of the given categories, newest first,
// at most limit. An empty result is an empty slice, never an error.
func (p *Provider) ByCategories(categories []string, limit int) []Item {
	set := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		set[c] = struct{}{}
	}

	p.mu.RLock()
	out := make([]Item, 0, limit)
	for _, it := range p.items {
		if _, ok := set[it.Category]; ok {
			out = append(out, it)
		}
	}
	p.mu.RUnlock()

	sortNewestFirst(out)
	return truncate(out, limit)
}

// Latest returns all items, newest first, at most limit.
func (p *Provider) Latest(limit int) []Item {
	p.mu.RLock()
	out := make([]Item, len(p.items))
	copy(out, p.items)
	p.mu.RUnlock()

	sortNewestFirst(out)
	return truncate(out, limit)
}

// ByID looks an item up by id.
func (p *Provider) ByID(id string) (Item, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, it := range p.items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// Add assigns a fresh id and timestamp, prepends the item and returns it.
// Subsequent reads see it immediately.
func (p *Provider) Add(d Draft) Item {
	it := Item{
		ID:          xid.New().String(),
		Title:       d.Title,
		Description: d.Description,
		Category:    d.Category,
		Emoji:       d.Emoji,
		URL:         d.URL,
		PublishedAt: time.Now(),
	}

	p.mu.Lock()
	p.items = append([]Item{it}, p.items...)
	p.mu.Unlock()

	p.log.Debug("item added", logx.String("id", it.ID), logx.String("category", it.Category))
	return it
}

// Search matches query case-insensitively against title or description.
// An empty query matches everything. When categories is non-empty the match
// is restricted to them. Results are newest first, unlimited.
func (p *Provider) Search(query string, categories ...string) []Item {
	q := strings.ToLower(strings.TrimSpace(query))
	var set map[string]struct{}
	if len(categories) > 0 {
		set = make(map[string]struct{}, len(categories))
		for _, c := range categories {
			set[c] = struct{}{}
		}
	}

	p.mu.RLock()
	out := make([]Item, 0)
	for _, it := range p.items {
		if set != nil {
			if _, ok := set[it.Category]; !ok {
				continue
			}
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(it.Title), q) &&
			!strings.Contains(strings.ToLower(it.Description), q) {
			continue
		}
		out = append(out, it)
	}
	p.mu.RUnlock()

	sortNewestFirst(out)
	return out
}

// TrendingCategories counts items per category, most items first. Ties keep
// first-encounter order.
func (p *Provider) TrendingCategories() []CategoryCount {
	p.mu.RLock()
	counts := map[string]int{}
	order := make([]string, 0)
	for _, it := range p.items {
		if _, seen := counts[it.Category]; !seen {
			order = append(order, it.Category)
		}
		counts[it.Category]++
	}
	p.mu.RUnlock()

	out := make([]CategoryCount, 0, len(order))
	for _, c := range order {
		out = append(out, CategoryCount{Category: c, Count: counts[c]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// Count returns the total number of stored items.
func (p *Provider) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

func sortNewestFirst(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
}

func truncate(items []Item, limit int) []Item {
	if limit <= 0 || limit >= len(items) {
		return items
	}
	return items[:limit]
}
