package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"newsbot/internal/dispatch"
	"newsbot/internal/news"
	"newsbot/internal/subscriber"
	kit "newsbot/internal/transport"
	"newsbot/pkg/tgui"
)

// Handlers binds the command surface to the core services.
type Handlers struct {
	Registry *subscriber.Registry
	Provider *news.Provider
	Engine   *dispatch.Engine
}

const defaultCommandTimeout = 30 * time.Second

// Register installs the command and callback tables on the router.
func (h *Handlers) Register(r *Router) {
	cmds := []Command{
		{Name: "start", Description: "register and get the welcome tour", Handle: h.cmdStart},
		{Name: "news", Description: "latest news for your categories", Handle: h.cmdNews},
		{Name: "categories", Description: "choose news categories", Handle: h.cmdCategories},
		{Name: "settings", Description: "notification settings", Handle: h.cmdSettings},
		{Name: "stats", Description: "your profile and bot stats", Handle: h.cmdStats},
		{Name: "trending", Description: "most covered categories right now", Handle: h.cmdTrending},
		{Name: "search", Description: "search news by keyword", Usage: "/search <query>", Handle: h.cmdSearch},
		{Name: "help", Description: "how to use the bot", Handle: h.cmdHelp},
		{Name: "post", Description: "publish a story to subscribers", Usage: "/post <category> <title> | <description>", Access: AccessOwnerOnly, Handle: h.cmdPost},
	}
	for i := range cmds {
		if cmds[i].Timeout == 0 {
			cmds[i].Timeout = defaultCommandTimeout
		}
	}

	cbs := []CallbackRoute{
		{Scope: "news", Action: "refresh", Handle: h.cbNewsRefresh},
		{Scope: "news", Action: "detail", Handle: h.cbNewsDetail},
		{Scope: "cat", Action: "show", Handle: h.cbCategoriesShow},
		{Scope: "cat", Action: "toggle", Handle: h.cbCategoryToggle},
		{Scope: "set", Action: "noti", Handle: h.cbToggleNotifications},
		{Scope: "stats", Action: "show", Handle: h.cbStatsShow},
	}
	r.SetRegistry(cmds, cbs)
}

func (h *Handlers) cmdStart(ctx context.Context, req *Request) error {
	sub, created := h.Registry.Register(req.Chat.ChatID, req.FromName)

	var hello tgui.H
	if created {
		hello = tgui.Raw("👋 Welcome, " + tgui.B(displayOr(sub.DisplayName, "reader")).String() + "!")
	} else {
		hello = tgui.Raw("👋 Welcome back, " + tgui.B(displayOr(sub.DisplayName, "reader")).String() + "!")
	}
	text := tgui.Lines(
		hello,
		tgui.Raw(""),
		tgui.Esc("I deliver short news digests straight to this chat."),
		tgui.Raw(""),
		tgui.Esc("Your categories: "+categoryList(sub.Categories)),
		tgui.Raw(""),
		tgui.Esc("• /news — latest stories for you"),
		tgui.Esc("• /categories — pick what you follow"),
		tgui.Esc("• /settings — pause or resume notifications"),
		tgui.Esc("• /help — everything else"),
	).String()

	_, err := req.Adapter.SendText(ctx, req.Chat, text, htmlOpts(welcomeMarkup()))
	return err
}

func (h *Handlers) cmdNews(ctx context.Context, req *Request) error {
	h.Registry.Touch(req.Chat.ChatID)
	return h.Engine.DeliverTo(ctx, req.Chat.ChatID)
}

func (h *Handlers) cmdCategories(ctx context.Context, req *Request) error {
	sub, ok := h.Registry.Get(req.Chat.ChatID)
	if !ok {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Please start the bot with /start first.", nil)
		return err
	}
	h.Registry.Touch(req.Chat.ChatID)
	_, err := req.Adapter.SendText(ctx, req.Chat, categoriesText(sub), htmlOpts(categoriesMarkup(sub)))
	return err
}

func (h *Handlers) cmdSettings(ctx context.Context, req *Request) error {
	sub, ok := h.Registry.Get(req.Chat.ChatID)
	if !ok {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Please start the bot with /start first.", nil)
		return err
	}
	h.Registry.Touch(req.Chat.ChatID)
	_, err := req.Adapter.SendText(ctx, req.Chat, settingsText(sub), htmlOpts(settingsMarkup(sub)))
	return err
}

func (h *Handlers) cmdStats(ctx context.Context, req *Request) error {
	sub, ok := h.Registry.Get(req.Chat.ChatID)
	if !ok {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Please start the bot with /start first.", nil)
		return err
	}
	h.Registry.Touch(req.Chat.ChatID)

	_, err := req.Adapter.SendText(ctx, req.Chat, h.statsText(sub), htmlOpts(nil))
	return err
}

func (h *Handlers) statsText(sub subscriber.Subscriber) string {
	noti := "on"
	if !sub.Notifications {
		noti = "off"
	}
	return tgui.Lines(
		tgui.B("📊 Stats"),
		tgui.Raw(""),
		tgui.Esc("Your categories: "+categoryList(sub.Categories)),
		tgui.Esc("Notifications: "+noti),
		tgui.Esc("Last activity: "+sub.LastActiveAt.Format("02 Jan 2006")),
		tgui.Raw(""),
		tgui.Esc("Subscribers: "+strconv.Itoa(h.Registry.Count())),
		tgui.Esc("Receiving pushes: "+strconv.Itoa(h.Registry.ActiveCount())),
		tgui.Esc("Stories available: "+strconv.Itoa(h.Provider.Count())),
	).String()
}

func (h *Handlers) cmdTrending(ctx context.Context, req *Request) error {
	h.Registry.Touch(req.Chat.ChatID)

	counts := h.Provider.TrendingCategories()
	parts := []tgui.H{tgui.B("🔥 Trending categories"), tgui.Raw("")}
	if len(counts) == 0 {
		parts = append(parts, tgui.Esc("Nothing yet. Check back soon."))
	}
	for i, c := range counts {
		label := news.CategoryLabel(c.Category)
		parts = append(parts, tgui.Esc(fmt.Sprintf("%d. %s — %d stories", i+1, label, c.Count)))
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, tgui.Lines(parts...).String(), htmlOpts(nil))
	return err
}

func (h *Handlers) cmdSearch(ctx context.Context, req *Request) error {
	h.Registry.Touch(req.Chat.ChatID)

	query := strings.TrimSpace(strings.Join(req.Args, " "))
	if query == "" {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Usage: /search <query>", nil)
		return err
	}

	// Registered subscribers search within their categories; anyone else
	// searches everything.
	var scope []string
	if sub, ok := h.Registry.Get(req.Chat.ChatID); ok {
		scope = sub.Categories
	}
	found := h.Provider.Search(query, scope...)
	if len(found) == 0 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "No stories match "+strconv.Quote(query)+".", nil)
		return err
	}
	if n := h.Engine.PageSize(); n > 0 && len(found) > n {
		found = found[:n]
	}

	header := tgui.Lines(tgui.B("🔎 Results for "+query)).String()
	if _, err := req.Adapter.SendText(ctx, req.Chat, header, htmlOpts(nil)); err != nil {
		return err
	}
	for _, it := range found {
		if _, err := req.Adapter.SendText(ctx, req.Chat, dispatch.ItemText(it), htmlOpts(dispatch.ItemMarkup(it))); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) cmdHelp(ctx context.Context, req *Request) error {
	parts := []tgui.H{
		tgui.B("ℹ️ Commands"),
		tgui.Raw(""),
		tgui.Esc("/start — register and reset your profile"),
		tgui.Esc("/news — latest stories for your categories"),
		tgui.Esc("/categories — follow or unfollow categories"),
		tgui.Esc("/settings — pause or resume notifications"),
		tgui.Esc("/stats — your profile and bot stats"),
		tgui.Esc("/trending — most covered categories"),
		tgui.Esc("/search <query> — find stories by keyword"),
		tgui.Raw(""),
		tgui.Esc("New stories are also pushed to you on a schedule; turn that off in /settings."),
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, tgui.Lines(parts...).String(), htmlOpts(nil))
	return err
}

// cmdPost publishes a story: /post <category> <title> | <description>
func (h *Handlers) cmdPost(ctx context.Context, req *Request) error {
	usage := "Usage: /post <category> <title> | <description>"
	if len(req.Args) < 2 {
		_, err := req.Adapter.SendText(ctx, req.Chat, usage, nil)
		return err
	}
	category := strings.ToLower(req.Args[0])
	cat, ok := news.CategoryByID(category)
	if !ok {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Unknown category "+strconv.Quote(category)+". See /categories.", nil)
		return err
	}

	rest := strings.Join(req.Args[1:], " ")
	title, desc := rest, ""
	if i := strings.Index(rest, "|"); i >= 0 {
		title = strings.TrimSpace(rest[:i])
		desc = strings.TrimSpace(rest[i+1:])
	}
	if title == "" {
		_, err := req.Adapter.SendText(ctx, req.Chat, usage, nil)
		return err
	}

	it := h.Provider.Add(news.Draft{
		Title:       title,
		Description: desc,
		Category:    cat.ID,
		Emoji:       cat.Emoji,
	})
	res := h.Engine.Broadcast(ctx, it)

	summary := fmt.Sprintf("Published %s to %d subscribers (%d delivered, %d failed).",
		strconv.Quote(it.Title), res.Matched, res.Delivered, res.Failed)
	_, err := req.Adapter.SendText(ctx, req.Chat, summary, nil)
	return err
}

// ---- Callbacks ----

func (h *Handlers) cbNewsRefresh(ctx context.Context, req *Request, _ string) error {
	h.Registry.Touch(req.Chat.ChatID)
	return h.Engine.DeliverTo(ctx, req.Chat.ChatID)
}

func (h *Handlers) cbNewsDetail(ctx context.Context, req *Request, payload string) error {
	it, ok := h.Provider.ByID(payload)
	if !ok {
		return req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "That story is gone.")
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, dispatch.DetailText(it), htmlOpts(nil))
	return err
}

func (h *Handlers) cbCategoriesShow(ctx context.Context, req *Request, _ string) error {
	sub, ok := h.Registry.Get(req.Chat.ChatID)
	if !ok {
		return req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "Use /start first.")
	}
	h.Registry.Touch(req.Chat.ChatID)
	_, err := req.Adapter.SendText(ctx, req.Chat, categoriesText(sub), htmlOpts(categoriesMarkup(sub)))
	return err
}

func (h *Handlers) cbStatsShow(ctx context.Context, req *Request, _ string) error {
	sub, ok := h.Registry.Get(req.Chat.ChatID)
	if !ok {
		return req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "Use /start first.")
	}
	h.Registry.Touch(req.Chat.ChatID)
	_, err := req.Adapter.SendText(ctx, req.Chat, h.statsText(sub), htmlOpts(nil))
	return err
}

func (h *Handlers) cbCategoryToggle(ctx context.Context, req *Request, payload string) error {
	cbID := req.Update.Callback.ID
	res := h.Registry.ToggleCategory(req.Chat.ChatID, payload)
	switch res {
	case subscriber.ToggleNotRegistered:
		return req.Adapter.AnswerCallback(ctx, cbID, "Use /start first.")
	case subscriber.ToggleUnknownCategory:
		return req.Adapter.AnswerCallback(ctx, cbID, "Unknown category.")
	case subscriber.ToggleLimit:
		return req.Adapter.AnswerCallback(ctx, cbID, "Category limit reached.")
	}

	sub, ok := h.Registry.Get(req.Chat.ChatID)
	if !ok {
		return req.Adapter.AnswerCallback(ctx, cbID, "Use /start first.")
	}
	note := "Removed " + news.CategoryLabel(payload)
	if res == subscriber.ToggleAdded {
		note = "Added " + news.CategoryLabel(payload)
	}
	if err := req.Adapter.AnswerCallback(ctx, cbID, note); err != nil {
		return err
	}
	ref := kit.MessageRef{ChatID: req.Chat.ChatID, MessageID: req.Update.Callback.MessageID}
	return req.Adapter.EditText(ctx, ref, categoriesText(sub), htmlOpts(categoriesMarkup(sub)))
}

func (h *Handlers) cbToggleNotifications(ctx context.Context, req *Request, _ string) error {
	cbID := req.Update.Callback.ID
	enabled, ok := h.Registry.ToggleNotifications(req.Chat.ChatID)
	if !ok {
		return req.Adapter.AnswerCallback(ctx, cbID, "Use /start first.")
	}
	note := "Notifications paused."
	if enabled {
		note = "Notifications resumed."
	}
	if err := req.Adapter.AnswerCallback(ctx, cbID, note); err != nil {
		return err
	}
	sub, _ := h.Registry.Get(req.Chat.ChatID)
	ref := kit.MessageRef{ChatID: req.Chat.ChatID, MessageID: req.Update.Callback.MessageID}
	return req.Adapter.EditText(ctx, ref, settingsText(sub), htmlOpts(settingsMarkup(sub)))
}

// ---- Rendering ----

func htmlOpts(markup any) *kit.SendOptions {
	return &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyMarkup: markup}
}

func displayOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}

func categoryList(ids []string) string {
	if len(ids) == 0 {
		return "none yet"
	}
	labels := make([]string, 0, len(ids))
	for _, id := range ids {
		labels = append(labels, news.CategoryLabel(id))
	}
	return strings.Join(labels, ", ")
}

func welcomeMarkup() any {
	return tgui.NewInline().
		Row(tgui.Btn("📰 News", tgui.Data("news", "refresh", ""))).
		Row(tgui.Btn("🗂 Categories", tgui.Data("cat", "show", "")),
			tgui.Btn("📊 Stats", tgui.Data("stats", "show", ""))).
		Markup()
}

func categoriesText(sub subscriber.Subscriber) string {
	return tgui.Lines(
		tgui.B("🗂 Categories"),
		tgui.Raw(""),
		tgui.Esc("Tap to follow or unfollow. Following: "+categoryList(sub.Categories)),
	).String()
}

func categoriesMarkup(sub subscriber.Subscriber) any {
	kb := tgui.NewInline()
	for _, c := range news.Catalog() {
		mark := "◻️"
		if sub.HasCategory(c.ID) {
			mark = "✅"
		}
		kb.Row(tgui.Btn(mark+" "+c.Emoji+" "+c.Name, tgui.Data("cat", "toggle", c.ID)))
	}
	return kb.Markup()
}

func settingsText(sub subscriber.Subscriber) string {
	state := "🔔 Notifications are ON"
	if !sub.Notifications {
		state = "🔕 Notifications are OFF"
	}
	return tgui.Lines(
		tgui.B("⚙️ Settings"),
		tgui.Raw(""),
		tgui.Esc(state),
		tgui.Esc("Categories: "+categoryList(sub.Categories)),
	).String()
}

func settingsMarkup(sub subscriber.Subscriber) any {
	label := "🔕 Pause notifications"
	if !sub.Notifications {
		label = "🔔 Resume notifications"
	}
	return tgui.NewInline().
		Row(tgui.Btn(label, tgui.Data("set", "noti", ""))).
		Markup()
}
