package notifier

import (
	"html"
	"slices"
	"strings"

	"github.com/hitoshi/shownotifier/internal/model"
	"github.com/hitoshi/shownotifier/internal/security"
)

// FormatMessage はTelegramのHTMLモード用の通知本文を組み立てる。
// 1行目に番組名、続いてエピソードを昇順で1行ずつ、最後に番組ページへのリンクを置く。
func FormatMessage(sanitizer security.TextSanitizer, showURL string, episodes []model.ShowEpisode) string {
	if len(episodes) == 0 {
		return ""
	}

	sorted := slices.Clone(episodes)
	slices.SortFunc(sorted, func(a, b model.ShowEpisode) int {
		return model.Compare(a.Episode, b.Episode)
	})

	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(sanitizer.SanitizeText(sorted[0].ShowTitle))
	b.WriteString("</b>\n")
	for _, ep := range sorted {
		b.WriteString(ep.Episode.String())
		b.WriteString("\n")
	}
	if showURL != "" {
		escaped := html.EscapeString(showURL)
		b.WriteString(`<a href="`)
		b.WriteString(escaped)
		b.WriteString(`">`)
		b.WriteString(escaped)
		b.WriteString("</a>")
	}

	return strings.TrimRight(b.String(), "\n")
}
