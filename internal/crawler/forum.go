package crawler

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"

	"github.com/hitoshi/shownotifier/internal/model"
)

// forumTopicPattern はトピック名中の「Сезон 6, Серия 10」「Season 6, Episode 10」。
// 番号は数字または数詞。rangeグループは「Серии 1-10」のようなシーズンパックを検出する。
var forumTopicPattern = regexp.MustCompile(
	`(?i)(?:сезон|season)\s*(?P<season>\d+|\p{L}+)\s*[,.;]?\s*(?:серии|серия|episodes|episode)\s*(?P<episode>\d+|\p{L}+)(?P<range>\s*[-–—]\s*\d+)?`,
)

// ShowLister はソースに登録された番組一覧を返す。
type ShowLister interface {
	ListBySource(ctx context.Context, source string) ([]*model.Show, error)
}

// ForumCrawler は番組ごとのフォーラムページから最新の1話を抽出する。
// 観測の番組名にはページ上の表記ではなくレジストリの登録名を使う。
type ForumCrawler struct {
	source  string
	shows   ShowLister
	fetcher *Fetcher
	logger  *slog.Logger
}

// NewForumCrawler はForumCrawlerを生成する。
func NewForumCrawler(source string, shows ShowLister, fetcher *Fetcher, logger *slog.Logger) *ForumCrawler {
	return &ForumCrawler{
		source:  source,
		shows:   shows,
		fetcher: fetcher,
		logger:  logger,
	}
}

// Episodes は登録番組ごとにページを取得し、見つかった観測を列挙する。
func (c *ForumCrawler) Episodes(ctx context.Context) iter.Seq[model.ShowEpisode] {
	return func(yield func(model.ShowEpisode) bool) {
		shows, err := c.shows.ListBySource(ctx, c.source)
		if err != nil {
			c.logger.Warn("番組一覧の取得に失敗しました",
				slog.String("source", c.source),
				slog.String("error", err.Error()),
			)
			return
		}

		for _, show := range shows {
			if ctx.Err() != nil {
				return
			}
			ep, ok := c.latestEpisode(ctx, show)
			if !ok {
				continue
			}
			if !yield(model.ShowEpisode{ShowTitle: show.Title, Episode: ep}) {
				return
			}
		}
	}
}

// latestEpisode は番組ページ上で最初に一致したトピックのエピソードを返す。
func (c *ForumCrawler) latestEpisode(ctx context.Context, show *model.Show) (model.Episode, bool) {
	doc, err := c.fetcher.GetHTML(ctx, c.source, show.ShowURL)
	if err != nil {
		level := slog.LevelWarn
		var fe *model.FetchError
		if errors.As(err, &fe) && fe.StatusCode == http.StatusNotFound {
			level = slog.LevelInfo
		}
		c.logger.Log(ctx, level, "番組ページの取得に失敗しました",
			slog.String("source", c.source),
			slog.Int64("show_id", show.ID),
			slog.String("url", show.ShowURL),
			slog.String("error", err.Error()),
		)
		return model.Episode{}, false
	}

	var (
		found model.Episode
		ok    bool
	)
	doc.Find("a.topictitle").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found, ok = parseForumTopic(s.Text())
		return !ok
	})
	if !ok {
		c.logger.Debug("エピソードを含むトピックが見つかりませんでした",
			slog.String("source", c.source),
			slog.Int64("show_id", show.ID),
		)
	}
	return found, ok
}

// parseForumTopic はトピック名からシーズンとエピソードを取り出す。
// 全角数字などはNFKCで正規化してから照合する。シーズンパックは対象外。
func parseForumTopic(label string) (model.Episode, bool) {
	text := norm.NFKC.String(label)

	m := forumTopicPattern.FindStringSubmatch(text)
	if m == nil {
		return model.Episode{}, false
	}
	if strings.TrimSpace(m[forumTopicPattern.SubexpIndex("range")]) != "" {
		return model.Episode{}, false
	}

	season, ok := parseNumber(m[forumTopicPattern.SubexpIndex("season")])
	if !ok {
		return model.Episode{}, false
	}
	episode, ok := parseNumber(m[forumTopicPattern.SubexpIndex("episode")])
	if !ok {
		return model.Episode{}, false
	}

	return model.Episode{Season: season, Number: episode}, true
}

// numberWords はトピック名に現れる数詞。
var numberWords = map[string]int{
	"один": 1, "первый": 1, "первая": 1,
	"два": 2, "второй": 2, "вторая": 2,
	"три": 3, "третий": 3, "третья": 3,
	"четыре": 4, "четвертый": 4, "четвёртый": 4, "четвертая": 4, "четвёртая": 4,
	"пять": 5, "пятый": 5, "пятая": 5,
	"шесть": 6, "шестой": 6, "шестая": 6,
	"семь": 7, "седьмой": 7, "седьмая": 7,
	"восемь": 8, "восьмой": 8, "восьмая": 8,
	"девять": 9, "девятый": 9, "девятая": 9,
	"десять": 10, "десятый": 10, "десятая": 10,
	"one": 1, "first": 1,
	"two": 2, "second": 2,
	"three": 3, "third": 3,
	"four": 4, "fourth": 4,
	"five": 5, "fifth": 5,
	"six": 6, "sixth": 6,
	"seven": 7, "seventh": 7,
	"eight": 8, "eighth": 8,
	"nine": 9, "ninth": 9,
	"ten": 10, "tenth": 10,
}

func parseNumber(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	n, ok := numberWords[strings.ToLower(s)]
	return n, ok
}
