package unified

import "strings"

// Category is the universal folder/label taxonomy shared by every
// consumer of canonical records
type Category string

const (
	CategoryInbox      Category = "INBOX"
	CategorySent       Category = "SENT"
	CategoryDraft      Category = "DRAFT"
	CategoryTrash      Category = "TRASH"
	CategorySpam       Category = "SPAM"
	CategoryImportant  Category = "IMPORTANT"
	CategoryStarred    Category = "STARRED"
	CategoryArchive    Category = "ARCHIVE"
	CategoryPersonal   Category = "PERSONAL"
	CategorySocial     Category = "SOCIAL"
	CategoryPromotions Category = "PROMOTIONS"
	CategoryUpdates    Category = "UPDATES"
	CategoryForums     Category = "FORUMS"
	CategoryOther      Category = "OTHER"
)

const customPrefix = "CUSTOM:"

// CustomCategory wraps a provider label that has no universal mapping,
// preserving the original name
func CustomCategory(name string) Category {
	return Category(customPrefix + name)
}

// IsCustom reports whether c wraps a provider-specific label
func (c Category) IsCustom() bool {
	return strings.HasPrefix(string(c), customPrefix)
}

// CustomName returns the original label of a CUSTOM category, or ""
func (c Category) CustomName() string {
	if !c.IsCustom() {
		return ""
	}
	return strings.TrimPrefix(string(c), customPrefix)
}
