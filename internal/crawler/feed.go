package crawler

import (
	"cmp"
	"context"
	"iter"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hitoshi/shownotifier/internal/model"
)

// DefaultFeedTitlePattern はフィード項目タイトル「<番組名>. <話タイトル> (S01E02)」の既定パターン。
// 話タイトルは省略されることがある。「(S」直前のピリオドは番組名の一部として残す。
// 番組名自体に「. 」を含む場合（Mr. Robotなど）はここでは切り詰められるため、登録名との照合で補う。
var DefaultFeedTitlePattern = regexp.MustCompile(`^(?P<title>.+?)\s*(?:\.\s+[^(\s][^(]*?)?\s*\(S(?P<season>\d+)E(?P<episode>\d+)\)`)

// FeedCrawler はRSS/Atomフィードの項目タイトルから観測を抽出する。
// 番組名は、項目タイトルの先頭に一致する登録名のうち最長のものを優先する。
type FeedCrawler struct {
	source  string
	feedURL string
	pattern *regexp.Regexp
	shows   ShowLister
	fetcher *Fetcher
	logger  *slog.Logger
}

// NewFeedCrawler はFeedCrawlerを生成する。
// patternはtitle、season、episodeの名前付きグループを持つ必要がある。nilなら既定パターンを使う。
// showsがnilの場合は登録名との照合を行わず、パターンの番組名をそのまま使う。
func NewFeedCrawler(source, feedURL string, pattern *regexp.Regexp, shows ShowLister, fetcher *Fetcher, logger *slog.Logger) *FeedCrawler {
	if pattern == nil {
		pattern = DefaultFeedTitlePattern
	}
	return &FeedCrawler{
		source:  source,
		feedURL: feedURL,
		pattern: pattern,
		shows:   shows,
		fetcher: fetcher,
		logger:  logger,
	}
}

// registeredTitles はソースの登録名を長い順に返す。取得に失敗した場合はnil。
func (c *FeedCrawler) registeredTitles(ctx context.Context) []string {
	if c.shows == nil {
		return nil
	}
	shows, err := c.shows.ListBySource(ctx, c.source)
	if err != nil {
		c.logger.Warn("番組一覧の取得に失敗したため、パターンの番組名を使用します",
			slog.String("source", c.source),
			slog.String("error", err.Error()),
		)
		return nil
	}

	titles := make([]string, 0, len(shows))
	for _, s := range shows {
		if s.Title != "" {
			titles = append(titles, s.Title)
		}
	}
	slices.SortStableFunc(titles, func(a, b string) int {
		return cmp.Compare(len(b), len(a))
	})
	return titles
}

// Episodes はフィードを取得し、パターンに一致した項目を重複なく列挙する。
func (c *FeedCrawler) Episodes(ctx context.Context) iter.Seq[model.ShowEpisode] {
	return func(yield func(model.ShowEpisode) bool) {
		feed, err := c.fetcher.GetFeed(ctx, c.source, c.feedURL)
		if err != nil {
			c.logger.Warn("フィードの取得に失敗しました",
				slog.String("source", c.source),
				slog.String("url", c.feedURL),
				slog.String("error", err.Error()),
			)
			return
		}

		registered := c.registeredTitles(ctx)

		seen := make(map[model.ShowEpisode]struct{}, len(feed.Items))
		for _, item := range feed.Items {
			if item == nil {
				continue
			}
			ep, ok := parseFeedTitle(c.pattern, item.Title, registered)
			if !ok {
				c.logger.Debug("パターンに一致しない項目をスキップしました",
					slog.String("source", c.source),
					slog.String("title", item.Title),
				)
				continue
			}
			if _, dup := seen[ep]; dup {
				continue
			}
			seen[ep] = struct{}{}

			if !yield(ep) {
				return
			}
		}
	}
}

// parseFeedTitle は項目タイトルを番組名、シーズン、エピソードに分解する。
// registeredは長い順に並んだ登録名で、項目タイトルの先頭に一致したものを番組名にする。
func parseFeedTitle(pattern *regexp.Regexp, title string, registered []string) (model.ShowEpisode, bool) {
	m := pattern.FindStringSubmatch(title)
	if m == nil {
		return model.ShowEpisode{}, false
	}

	showTitle := strings.TrimSpace(m[pattern.SubexpIndex("title")])
	season, err := strconv.Atoi(m[pattern.SubexpIndex("season")])
	if err != nil {
		return model.ShowEpisode{}, false
	}
	episode, err := strconv.Atoi(m[pattern.SubexpIndex("episode")])
	if err != nil {
		return model.ShowEpisode{}, false
	}
	if name, ok := matchRegisteredTitle(title, registered); ok {
		showTitle = name
	}
	if showTitle == "" {
		return model.ShowEpisode{}, false
	}

	return model.ShowEpisode{
		ShowTitle: showTitle,
		Episode:   model.Episode{Season: season, Number: episode},
	}, true
}

// matchRegisteredTitle はtitleの先頭に語の境界で一致する最初の登録名を返す。
func matchRegisteredTitle(title string, registered []string) (string, bool) {
	for _, name := range registered {
		rest, ok := strings.CutPrefix(title, name)
		if !ok {
			continue
		}
		next, _ := utf8.DecodeRuneInString(rest)
		if rest == "" || !(unicode.IsLetter(next) || unicode.IsDigit(next)) {
			return name, true
		}
	}
	return "", false
}
