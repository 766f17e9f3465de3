package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"newsbot/internal/dispatch"
	"newsbot/internal/eventbus"
	"newsbot/internal/news"
	"newsbot/internal/subscriber"
	kit "newsbot/internal/transport"
	"newsbot/pkg/logx"
	"newsbot/pkg/tgui"
)

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sentMsg
	edits   []sentMsg
	answers []string
	menu    []kit.BotCommand
	nextID  int
}

type sentMsg struct {
	chatID int64
	text   string
	markup any
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var markup any
	if opt != nil {
		markup = opt.ReplyMarkup
	}
	f.sent = append(f.sent, sentMsg{chatID: to.ChatID, text: text, markup: markup})
	f.nextID++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var markup any
	if opt != nil {
		markup = opt.ReplyMarkup
	}
	f.edits = append(f.edits, sentMsg{chatID: ref.ChatID, text: text, markup: markup})
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = append([]kit.BotCommand(nil), cmds...)
	return nil
}

func (f *fakeAdapter) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.text
	}
	return out
}

func (f *fakeAdapter) editTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.edits))
	for i, m := range f.edits {
		out[i] = m.text
	}
	return out
}

func (f *fakeAdapter) answered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.answers...)
}

type rig struct {
	adapter  *fakeAdapter
	router   *Router
	registry *subscriber.Registry
	provider *news.Provider
	updates  chan kit.Update
	cancel   context.CancelFunc
	done     chan struct{}
}

func newRig(t *testing.T, owners ...int64) *rig {
	t.Helper()

	ad := &fakeAdapter{}
	bus := eventbus.New()
	reg := subscriber.NewRegistry(subscriber.Options{MaxCategories: 10, ResetOnStart: true}, logx.Nop(), bus)
	prov := news.NewProvider(logx.Nop())
	eng := dispatch.New(dispatch.Config{PageSize: 5, RatePerSec: 100, RetryMax: 0}, reg, prov, ad, logx.Nop(), bus)

	r := New(logx.Nop(), ad, owners)
	h := &Handlers{Registry: reg, Provider: prov, Engine: eng}
	h.Register(r)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.DispatchLoop(ctx, updates)
	}()

	rg := &rig{adapter: ad, router: r, registry: reg, provider: prov, updates: updates, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("dispatch loop did not stop")
		}
	})
	return rg
}

func (r *rig) message(chatID, fromID int64, text string) {
	r.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 1, ChatID: chatID, FromID: fromID, FromName: "Ada", Text: text,
	}}
}

func (r *rig) callback(chatID, fromID int64, data string) {
	r.updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb1", ChatID: chatID, FromID: fromID, FromName: "Ada", MessageID: 7, Data: data,
	}}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStartRegistersAndWelcomes(t *testing.T) {
	t.Parallel()

	rg := newRig(t)
	rg.message(100, 100, "/start")

	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 1 })
	if got := rg.adapter.sentTexts()[0]; !strings.Contains(got, "Welcome") {
		t.Fatalf("welcome text = %q", got)
	}
	sub, ok := rg.registry.Get(100)
	if !ok {
		t.Fatal("subscriber not registered")
	}
	if len(sub.Categories) != len(news.DefaultCategoryIDs) {
		t.Fatalf("categories = %v, want defaults", sub.Categories)
	}
}

func TestUnknownCommandGetsHint(t *testing.T) {
	t.Parallel()

	rg := newRig(t)
	rg.message(100, 100, "/frobnicate")

	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 1 })
	if got := rg.adapter.sentTexts()[0]; !strings.Contains(got, "/help") {
		t.Fatalf("unknown-command reply = %q", got)
	}
}

func TestCommandSuffixAndCaseNormalized(t *testing.T) {
	t.Parallel()

	rg := newRig(t)
	rg.message(100, 100, "/Start@newsbot")

	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 1 })
	if _, ok := rg.registry.Get(100); !ok {
		t.Fatal("bot-suffixed command not routed")
	}
}

func TestNewsForUnregisteredPromptsStart(t *testing.T) {
	t.Parallel()

	rg := newRig(t)
	rg.message(100, 100, "/news")

	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 1 })
	if got := rg.adapter.sentTexts()[0]; !strings.Contains(got, "/start") {
		t.Fatalf("reply = %q, want /start prompt", got)
	}
}

func TestNewsDeliversPage(t *testing.T) {
	t.Parallel()

	rg := newRig(t)
	rg.message(100, 100, "/start")
	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 1 })

	rg.message(100, 100, "/news")
	// header + at least one seeded tech/business story
	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 3 })
}

func TestPostRequiresOwner(t *testing.T) {
	t.Parallel()

	rg := newRig(t, 900)
	rg.message(100, 100, "/post tech Title | Body")

	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 1 })
	if got := rg.adapter.sentTexts()[0]; !strings.Contains(got, "restricted") {
		t.Fatalf("non-owner /post reply = %q", got)
	}
}

func TestPostPublishesAndBroadcasts(t *testing.T) {
	t.Parallel()

	rg := newRig(t, 900)
	rg.message(100, 100, "/start")
	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 1 })

	before := rg.provider.Count()
	rg.message(900, 900, "/post tech Fusion milestone | Net energy gain repeated")

	waitFor(t, func() bool { return rg.provider.Count() == before+1 })
	// subscriber 100 follows tech, so the push lands there too
	waitFor(t, func() bool {
		for _, m := range rg.adapter.sentTexts() {
			if strings.Contains(m, "Fusion milestone") && strings.Contains(m, "Breaking story") {
				return true
			}
		}
		return false
	})
	waitFor(t, func() bool {
		for _, m := range rg.adapter.sentTexts() {
			if strings.Contains(m, "Published") {
				return true
			}
		}
		return false
	})
}

func TestCategoryToggleCallbackEditsKeyboard(t *testing.T) {
	t.Parallel()

	rg := newRig(t)
	rg.message(100, 100, "/start")
	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 1 })

	rg.callback(100, 100, tgui.Data("cat", "toggle", "space"))
	waitFor(t, func() bool { return len(rg.adapter.editTexts()) >= 1 })

	sub, _ := rg.registry.Get(100)
	if !sub.HasCategory("space") {
		t.Fatal("space not added after toggle callback")
	}
	answers := rg.adapter.answered()
	if len(answers) == 0 || !strings.Contains(answers[0], "Added") {
		t.Fatalf("callback answers = %q", answers)
	}
}

func TestNotificationsToggleCallback(t *testing.T) {
	t.Parallel()

	rg := newRig(t)
	rg.message(100, 100, "/start")
	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 1 })

	rg.callback(100, 100, tgui.Data("set", "noti", ""))
	waitFor(t, func() bool { return len(rg.adapter.editTexts()) >= 1 })

	sub, _ := rg.registry.Get(100)
	if sub.Notifications {
		t.Fatal("notifications still on after toggle")
	}
	if got := rg.adapter.editTexts()[0]; !strings.Contains(got, "OFF") {
		t.Fatalf("settings edit = %q, want OFF state", got)
	}
}

func TestStatsShowCallback(t *testing.T) {
	t.Parallel()

	rg := newRig(t)
	rg.message(100, 100, "/start")
	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 1 })

	rg.callback(100, 100, tgui.Data("stats", "show", ""))
	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 2 })
	if got := rg.adapter.sentTexts()[1]; !strings.Contains(got, "Subscribers: 1") {
		t.Fatalf("stats reply = %q", got)
	}
}

func TestStatsShowCallbackUnregistered(t *testing.T) {
	t.Parallel()

	rg := newRig(t)
	rg.callback(100, 100, tgui.Data("stats", "show", ""))
	waitFor(t, func() bool { return len(rg.adapter.answered()) >= 1 })
	if got := rg.adapter.answered()[0]; !strings.Contains(got, "/start") {
		t.Fatalf("callback answer = %q, want /start hint", got)
	}
}

func TestMalformedCallbackIgnored(t *testing.T) {
	t.Parallel()

	rg := newRig(t)
	rg.callback(100, 100, "garbage")
	waitFor(t, func() bool { return len(rg.adapter.answered()) >= 1 })
	if n := len(rg.adapter.sentTexts()); n != 0 {
		t.Fatalf("malformed callback produced %d messages", n)
	}
}

func TestSearchFindsSeededStory(t *testing.T) {
	t.Parallel()

	rg := newRig(t)
	rg.message(100, 100, "/search quantum")

	// unregistered user searches all categories: results header + story card
	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 2 })
	found := false
	for _, m := range rg.adapter.sentTexts() {
		if strings.Contains(m, "Quantum computing milestone") {
			found = true
		}
	}
	if !found {
		t.Fatalf("seeded quantum story not in replies: %q", rg.adapter.sentTexts())
	}
}

func TestSearchOutsideSubscribedCategoriesComesUpEmpty(t *testing.T) {
	t.Parallel()

	rg := newRig(t)
	rg.message(100, 100, "/start")
	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 1 })

	// defaults are tech+business; the Mars story lives in space
	rg.message(100, 100, "/search mars")
	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 2 })
	if got := rg.adapter.sentTexts()[1]; !strings.Contains(got, "No stories match") {
		t.Fatalf("reply = %q, want no-match notice", got)
	}
}

func TestMenuPublishedWithoutOwnerCommands(t *testing.T) {
	t.Parallel()

	rg := newRig(t, 900)
	waitFor(t, func() bool {
		rg.adapter.mu.Lock()
		defer rg.adapter.mu.Unlock()
		return len(rg.adapter.menu) > 0
	})

	rg.adapter.mu.Lock()
	defer rg.adapter.mu.Unlock()
	for _, c := range rg.adapter.menu {
		if c.Command == "post" {
			t.Fatal("owner-only command leaked into the public menu")
		}
	}
}

func TestGroupChatSubscriptionKeyedByChat(t *testing.T) {
	t.Parallel()

	rg := newRig(t)
	// Group chat: the chat id differs from the sender id.
	rg.message(-100200, 7, "/start")
	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 1 })
	if _, ok := rg.registry.Get(-100200); !ok {
		t.Fatal("subscriber not registered under the chat id")
	}

	rg.message(-100200, 7, "/news")
	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 3 })
	for _, got := range rg.adapter.sentTexts()[1:] {
		if strings.Contains(got, "/start first") {
			t.Fatalf("registered chat prompted to /start: %q", got)
		}
	}

	rg.callback(-100200, 7, tgui.Data("stats", "show", ""))
	waitFor(t, func() bool {
		for _, got := range rg.adapter.sentTexts() {
			if strings.Contains(got, "Subscribers: 1") {
				return true
			}
		}
		return false
	})
}

func TestSearchBoundedByPageSize(t *testing.T) {
	t.Parallel()

	rg := newRig(t)
	for i := 0; i < 8; i++ {
		rg.provider.Add(news.Draft{
			Title:    fmt.Sprintf("Gopherconf recap, day %d", i+1),
			Category: "tech",
			Emoji:    "💻",
		})
	}

	rg.message(100, 100, "/search gopherconf")
	// header + one card per result, capped at the configured page size
	waitFor(t, func() bool { return len(rg.adapter.sentTexts()) >= 6 })
	time.Sleep(50 * time.Millisecond)
	if got := len(rg.adapter.sentTexts()); got != 6 {
		t.Fatalf("sent %d messages, want header + 5 results", got)
	}
}
