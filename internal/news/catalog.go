package news

// Category is a static topic tag. The catalog is fixed and not
// user-editable.
type Category struct {
	ID    string
	Name  string
	Emoji string
}

var catalog = []Category{
	{ID: "tech", Name: "Technology", Emoji: "💻"},
	{ID: "business", Name: "Business", Emoji: "💼"},
	{ID: "space", Name: "Space", Emoji: "🚀"},
	{ID: "sport", Name: "Sport", Emoji: "⚽"},
	{ID: "science", Name: "Science", Emoji: "🔬"},
	{ID: "entertainment", Name: "Entertainment", Emoji: "🎬"},
}

// DefaultCategoryIDs is the starter pair assigned on registration.
var DefaultCategoryIDs = []string{"tech", "business"}

// Catalog returns the full category list in display order.
func Catalog() []Category {
	out := make([]Category, len(catalog))
	copy(out, catalog)
	return out
}

// CategoryByID looks a category up by id.
func CategoryByID(id string) (Category, bool) {
	for _, c := range catalog {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

// KnownCategory reports whether id is in the catalog.
func KnownCategory(id string) bool {
	_, ok := CategoryByID(id)
	return ok
}

// CategoryLabel renders "emoji Name" for a category id, falling back to the
// raw id for unknown values.
func CategoryLabel(id string) string {
	c, ok := CategoryByID(id)
	if !ok {
		return id
	}
	return c.Emoji + " " + c.Name
}
