package news

// Canned pools for generated items. Choices are independent and uniform.
var (
	generatedTitles = []string{
		"Breakthrough set to reshape the industry",
		"Markets digest a week of surprises",
		"Deep-space survey returns first results",
		"Season records fall across the board",
		"Researchers publish landmark findings",
		"Streaming wars enter a new round",
	}
	generatedDescriptions = []string{
		"A detailed look at an event expected to shape the months ahead",
		"Analysts forecast significant shifts across the sector",
		"The team presented results described as a step change",
		"Experts weigh in on the latest developments",
		"New data lends fresh support to a long-debated theory",
	}
	generatedEmojis = []string{"🔥", "⚡", "🎯", "💡", "🚀", "📈", "🔬", "⚽"}
)

// GenerateRandom mints one syntactically valid item from the canned pools,
// stores it and returns it. The id comes from xid, so rapid successive
// calls stay unique.
func (p *Provider) GenerateRandom() Item {
	p.rngMu.Lock()
	category := catalog[p.rng.Intn(len(catalog))].ID
	emoji := generatedEmojis[p.rng.Intn(len(generatedEmojis))]
	title := generatedTitles[p.rng.Intn(len(generatedTitles))]
	desc := generatedDescriptions[p.rng.Intn(len(generatedDescriptions))]
	p.rngMu.Unlock()

	return p.Add(Draft{
		Title:       emoji + " " + title,
		Description: desc,
		Category:    category,
		Emoji:       emoji,
	})
}
