package tracker

import (
	"strings"

	"github.com/activtrack/telemetry/internal/domain"
)

// Статическая таблица классификации: первое совпадение ключевого
// слова в (application + website + title) определяет категорию.
// Порядок бакетов фиксирует приоритет.
var categoryTable = []struct {
	category string
	keywords []string
}{
	{domain.CategoryDevelopment, []string{
		"code", "visual studio", "intellij", "goland", "pycharm", "xcode",
		"terminal", "iterm", "github", "gitlab", "stack overflow", "localhost",
	}},
	{domain.CategoryDesign, []string{
		"figma", "photoshop", "illustrator", "sketch", "blender", "affinity",
	}},
	{domain.CategoryCommunication, []string{
		"slack", "teams", "zoom", "outlook", "gmail", "thunderbird",
		"telegram", "discord", "meet.google",
	}},
	{domain.CategoryEntertainment, []string{
		"youtube", "netflix", "spotify", "twitch", "steam", "vlc",
		"tiktok", "instagram", "reddit",
	}},
	{domain.CategoryProductivity, []string{
		"excel", "word", "powerpoint", "notion", "jira", "confluence",
		"docs.google", "sheets.google", "trello",
	}},
}

// Classify — чистая функция (application, website, title) → категория.
// Непопадание в таблицу даёт Browsing для веба и Uncategorized для
// остального.
func Classify(application, website, title string) string {
	haystack := strings.ToLower(application + " " + website + " " + title)

	for _, bucket := range categoryTable {
		for _, kw := range bucket.keywords {
			if strings.Contains(haystack, kw) {
				return bucket.category
			}
		}
	}

	if website != "" {
		return domain.CategoryBrowsing
	}
	return domain.CategoryUncategorized
}
