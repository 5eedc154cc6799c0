package tracker

import (
	"regexp"
	"strings"
)

// Известные браузерные процессы: только для них из заголовка окна
// извлекается адрес активной вкладки.
var browserNames = []string{
	"chrome", "chromium", "firefox", "safari", "edge", "msedge",
	"opera", "brave", "vivaldi", "yandex",
}

// Большинство браузеров держат домен или URL в заголовке вкладки.
var domainPattern = regexp.MustCompile(`\b[a-z0-9][a-z0-9-]*(\.[a-z0-9][a-z0-9-]*)+\b`)

// Website извлекает адрес сайта из заголовка окна браузера.
// Для небраузерных процессов всегда пустая строка.
func Website(application, title string) string {
	app := strings.ToLower(application)
	isBrowser := false
	for _, b := range browserNames {
		if strings.Contains(app, b) {
			isBrowser = true
			break
		}
	}
	if !isBrowser {
		return ""
	}

	match := domainPattern.FindString(strings.ToLower(title))
	// Имена файлов вида report.pdf в заголовке — не сайт
	switch {
	case match == "":
		return ""
	case strings.HasSuffix(match, ".pdf"), strings.HasSuffix(match, ".html"):
		return ""
	}
	return match
}
