package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"newsbot/internal/news"
	"newsbot/internal/subscriber"
	"newsbot/internal/transport"
	"newsbot/pkg/logx"
)

// fakeAdapter records sends and can fail selected chats.
type fakeAdapter struct {
	mu    sync.Mutex
	sends []sentMessage
	fail  map[int64]bool
}

type sentMessage struct {
	ChatID int64
	Text   string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                               { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[to.ChatID] {
		return transport.MessageRef{}, errors.New("send refused")
	}
	f.sends = append(f.sends, sentMessage{ChatID: to.ChatID, Text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sends)}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return nil
}

func (f *fakeAdapter) sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sends))
	copy(out, f.sends)
	return out
}

func (f *fakeAdapter) sentTo(chatID int64) []sentMessage {
	var out []sentMessage
	for _, s := range f.sent() {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

type fixture struct {
	registry *subscriber.Registry
	provider *news.Provider
	adapter  *fakeAdapter
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := subscriber.NewRegistry(subscriber.Options{MaxCategories: 10, ResetOnStart: true}, logx.Nop(), nil)
	prov := news.NewProvider(logx.Nop())
	ad := &fakeAdapter{fail: map[int64]bool{}}
	eng := New(Config{PageSize: 5, RatePerSec: 0, RetryMax: 0}, reg, prov, ad, logx.Nop(), nil)
	return &fixture{registry: reg, provider: prov, adapter: ad, engine: eng}
}

func TestDeliverToUnregistered(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if err := f.engine.DeliverTo(context.Background(), 7); err != nil {
		t.Fatalf("DeliverTo: %v", err)
	}
	got := f.adapter.sentTo(7)
	if len(got) != 1 || got[0].Text != msgStartFirst {
		t.Fatalf("sends = %+v, want single register prompt", got)
	}
}

func TestDeliverToNoMatchingContent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.registry.Register(7, "Ada")
	// Remove both default categories so nothing matches.
	f.registry.ToggleCategory(7, "tech")
	f.registry.ToggleCategory(7, "business")

	if err := f.engine.DeliverTo(context.Background(), 7); err != nil {
		t.Fatalf("DeliverTo: %v", err)
	}
	got := f.adapter.sentTo(7)
	if len(got) != 1 || got[0].Text != msgNoNews {
		t.Fatalf("sends = %+v, want no-news notice", got)
	}
}

func TestDeliverToSendsPageNewestFirst(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.registry.Register(7, "Ada")
	newest := f.provider.Add(news.Draft{Title: "latest tech story", Description: "d", Category: "tech", Emoji: "⚡"})

	if err := f.engine.DeliverTo(context.Background(), 7); err != nil {
		t.Fatalf("DeliverTo: %v", err)
	}

	got := f.adapter.sentTo(7)
	want := f.provider.ByCategories([]string{"tech", "business"}, 5)
	if len(got) != len(want)+1 {
		t.Fatalf("sends = %d, want header + %d items", len(got), len(want))
	}
	if got[0].Text != msgNewsHeader {
		t.Fatalf("first send = %q, want header", got[0].Text)
	}
	if !strings.Contains(got[1].Text, newest.Title) {
		t.Fatalf("first item %q should be the newest (%q)", got[1].Text, newest.Title)
	}
}

func TestBroadcastMatchesOnlyEligibleSubscribers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	// Three subscribers: only #1 has space AND notifications enabled.
	f.registry.Register(1, "A")
	f.registry.ToggleCategory(1, "space")
	f.registry.Register(2, "B")
	f.registry.ToggleCategory(2, "space")
	f.registry.ToggleNotifications(2)
	f.registry.Register(3, "C") // default pair only, no space

	it := f.provider.Add(news.Draft{Title: "launch", Description: "d", Category: "space", Emoji: "🚀"})
	res := f.engine.Broadcast(context.Background(), it)

	if res.Matched != 1 || res.Delivered != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v, want exactly one delivery", res)
	}
	if n := len(f.adapter.sent()); n != 1 {
		t.Fatalf("adapter saw %d sends, want 1", n)
	}
	if f.adapter.sent()[0].ChatID != 1 {
		t.Fatalf("delivered to %d, want 1", f.adapter.sent()[0].ChatID)
	}
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.registry.Register(1, "A")
	f.registry.Register(2, "B")
	f.registry.Register(3, "C")
	f.adapter.fail[2] = true

	it := f.provider.Add(news.Draft{Title: "t", Description: "d", Category: "tech", Emoji: "⚡"})
	res := f.engine.Broadcast(context.Background(), it)

	if res.Matched != 3 {
		t.Fatalf("matched = %d, want 3", res.Matched)
	}
	if res.Delivered != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 2 delivered / 1 failed", res)
	}
}

func TestBroadcastEmptyRegistry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	it := f.provider.Add(news.Draft{Title: "t", Description: "d", Category: "tech", Emoji: "⚡"})
	if res := f.engine.Broadcast(context.Background(), it); res.Matched != 0 || res.Delivered != 0 {
		t.Fatalf("result = %+v, want zeroes", res)
	}
}

func TestSendRetriesThenSucceedsEventually(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.engine.Apply(Config{PageSize: 5, RatePerSec: 0, RetryMax: 2})
	f.registry.Register(1, "A")
	f.adapter.fail[1] = true
	// Un-fail the chat shortly after the first attempt.
	go func() {
		time.Sleep(50 * time.Millisecond)
		f.adapter.mu.Lock()
		delete(f.adapter.fail, 1)
		f.adapter.mu.Unlock()
	}()

	it := f.provider.Add(news.Draft{Title: "t", Description: "d", Category: "tech", Emoji: "⚡"})
	res := f.engine.Broadcast(context.Background(), it)
	if res.Delivered != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v, want delivery after retry", res)
	}
}

func TestFormatting(t *testing.T) {
	t.Parallel()
	it := news.Item{
		ID:          "x1",
		Title:       `Big <deal> & "quotes"`,
		Description: "desc",
		Category:    "tech",
		Emoji:       "⚡",
		URL:         "https://example.com/a?b=1&c=2",
		PublishedAt: time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC),
	}

	text := ItemText(it)
	if strings.Contains(text, "<deal>") {
		t.Fatalf("title not escaped: %q", text)
	}
	if !strings.Contains(text, "&lt;deal&gt;") {
		t.Fatalf("escaped title missing: %q", text)
	}
	if !strings.Contains(text, "Technology") {
		t.Fatalf("category label missing: %q", text)
	}

	bc := BroadcastText(it)
	if !strings.Contains(bc, "Breaking story") {
		t.Fatalf("broadcast header missing: %q", bc)
	}

	detail := DetailText(it)
	if !strings.Contains(detail, `<a href="https://example.com/a?b=1&amp;c=2">`) {
		t.Fatalf("detail link missing or unescaped: %q", detail)
	}
}

func TestItemTextParagraphSpacing(t *testing.T) {
	t.Parallel()
	it := news.Item{
		ID:          "x2",
		Title:       "T",
		Description: "D",
		Category:    "tech",
		Emoji:       "⚡",
		PublishedAt: time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC),
	}

	text := ItemText(it)
	if !strings.Contains(text, "</b>\n\nD") {
		t.Fatalf("blank line missing after title: %q", text)
	}
	if !strings.Contains(text, "D\n\n📅") {
		t.Fatalf("blank line missing before metadata: %q", text)
	}

	// Without a description the card has no stray blank lines.
	it.Description = ""
	text = ItemText(it)
	if strings.Contains(text, "\n\n\n") {
		t.Fatalf("stacked blank lines: %q", text)
	}
	if !strings.Contains(text, "</b>\n\n📅") {
		t.Fatalf("title/metadata spacing lost: %q", text)
	}

	if bc := BroadcastText(it); !strings.Contains(bc, "</b>\n\n⚡") {
		t.Fatalf("broadcast header not separated: %q", bc)
	}
}
