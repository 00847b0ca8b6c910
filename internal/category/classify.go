// Package category maps provider-native folder and label vocabulary
// onto the universal category taxonomy.
package category

import (
	"strings"

	"github.com/bavit-uk/mailcore/internal/unified"
)

// gmailLabels maps Gmail system label ids to universal categories
var gmailLabels = map[string]unified.Category{
	"inbox":               unified.CategoryInbox,
	"sent":                unified.CategorySent,
	"draft":               unified.CategoryDraft,
	"drafts":              unified.CategoryDraft,
	"trash":               unified.CategoryTrash,
	"spam":                unified.CategorySpam,
	"important":           unified.CategoryImportant,
	"starred":             unified.CategoryStarred,
	"archive":             unified.CategoryArchive,
	"category_personal":   unified.CategoryPersonal,
	"category_social":     unified.CategorySocial,
	"category_promotions": unified.CategoryPromotions,
	"category_updates":    unified.CategoryUpdates,
	"category_forums":     unified.CategoryForums,
}

// outlookFolders maps Graph well-known folder names and flag categories
var outlookFolders = map[string]unified.Category{
	"inbox":         unified.CategoryInbox,
	"sentitems":     unified.CategorySent,
	"sent items":    unified.CategorySent,
	"drafts":        unified.CategoryDraft,
	"deleteditems":  unified.CategoryTrash,
	"deleted items": unified.CategoryTrash,
	"junkemail":     unified.CategorySpam,
	"junk email":    unified.CategorySpam,
	"archive":       unified.CategoryArchive,
	"important":     unified.CategoryImportant,
	"flagged":       unified.CategoryStarred,
	"starred":       unified.CategoryStarred,
	"social":        unified.CategorySocial,
	"promotions":    unified.CategoryPromotions,
	"updates":       unified.CategoryUpdates,
	"newsletters":   unified.CategoryUpdates,
	"forums":        unified.CategoryForums,
	"personal":      unified.CategoryPersonal,
}

// inboundFolders covers the webhook channel, which only distinguishes
// a handful of dispositions
var inboundFolders = map[string]unified.Category{
	"inbox":    unified.CategoryInbox,
	"received": unified.CategoryInbox,
	"spam":     unified.CategorySpam,
	"junk":     unified.CategorySpam,
	"sent":     unified.CategorySent,
	"archive":  unified.CategoryArchive,
}

// labels Gmail attaches that describe state rather than placement;
// these never decide the category and never become CUSTOM entries
var ignoredLabels = map[string]bool{
	"unread":   true,
	"read":     true,
	"category": true,
}

// Classify maps provider labels (plus an optional folder context) to
// exactly one universal category. It is a total function: every input,
// including an empty label set, yields a category and never an error.
// First exact table match wins; an unmatched label becomes
// CUSTOM:<original-name> so no label-derived information is lost.
func Classify(labels []string, provider unified.Provider, folderCtx string) unified.Category {
	table := tableFor(provider)

	candidates := make([]string, 0, len(labels)+1)
	candidates = append(candidates, labels...)
	if folderCtx != "" {
		candidates = append(candidates, folderCtx)
	}

	firstCustom := ""
	for _, c := range candidates {
		key := strings.ToLower(strings.TrimSpace(c))
		if key == "" || ignoredLabels[key] {
			continue
		}
		if cat, ok := table[key]; ok {
			return cat
		}
		if firstCustom == "" {
			firstCustom = strings.TrimSpace(c)
		}
	}

	if firstCustom != "" {
		return unified.CustomCategory(firstCustom)
	}
	return unified.CategoryOther
}

func tableFor(provider unified.Provider) map[string]unified.Category {
	switch provider {
	case unified.ProviderGmail:
		return gmailLabels
	case unified.ProviderOutlook:
		return outlookFolders
	case unified.ProviderInbound:
		return inboundFolders
	default:
		return inboundFolders
	}
}
