package dispatch

import (
	"newsbot/internal/news"
	"newsbot/pkg/tgui"
)

// User-facing copy for the on-demand and push flows.
const (
	msgStartFirst = "Please start the bot with /start first."
	msgNoNews     = "No news for your categories yet. Pick some in /categories."
	msgNewsHeader = "📰 Fresh news for you:"
)

const timeLayout = "02 Jan 2006 15:04"

// itemBody renders the shared item card.
func itemBody(it news.Item) tgui.H {
	parts := []tgui.H{
		tgui.Raw(tgui.Esc(it.Emoji).String() + " " + tgui.B(it.Title).String()),
	}
	if it.Description != "" {
		parts = append(parts, tgui.Raw(""), tgui.Esc(it.Description))
	}
	parts = append(parts,
		tgui.Raw(""),
		tgui.Esc("📅 "+it.PublishedAt.Format(timeLayout)),
		tgui.Esc("🏷 "+news.CategoryLabel(it.Category)),
	)
	return tgui.Lines(parts...)
}

// ItemText renders an item for an on-demand news reply.
func ItemText(it news.Item) string {
	return itemBody(it).String()
}

// BroadcastText renders an item for a push notification.
func BroadcastText(it news.Item) string {
	return tgui.Lines(
		tgui.B("🔔 Breaking story!"),
		tgui.Raw(""),
		itemBody(it),
	).String()
}

// DetailText renders the expanded item view.
func DetailText(it news.Item) string {
	parts := []tgui.H{
		tgui.B("📰 Story details"),
		tgui.Raw(""),
		itemBody(it),
	}
	if it.URL != "" {
		parts = append(parts, tgui.Raw(""), tgui.Raw("🔗 "+tgui.Link("Read the full story", it.URL).String()))
	}
	return tgui.Lines(parts...).String()
}

// ItemMarkup builds the inline keyboard attached to an item card.
func ItemMarkup(it news.Item) any {
	kb := tgui.NewInline().
		Row(tgui.Btn("📖 Details", tgui.Data("news", "detail", it.ID))).
		Row(tgui.ShareBtn("📤 Share", it.Title))
	return kb.Markup()
}
