package crawler

import (
	"context"
	"iter"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/shownotifier/internal/model"
)

// listingEpisodePattern は一覧の見出しに含まれる「シーズン.エピソード」。
var listingEpisodePattern = regexp.MustCompile(`(\d+)\.(\d+)`)

// ListingCrawler は新着一覧ページ（browse.php）から観測を抽出する。
// 本文は <br clear="both"> が2つ連続する位置で1話ずつのグループに区切られている。
type ListingCrawler struct {
	source  string
	pageURL string
	fetcher *Fetcher
	logger  *slog.Logger
}

// NewListingCrawler はListingCrawlerを生成する。
func NewListingCrawler(source, pageURL string, fetcher *Fetcher, logger *slog.Logger) *ListingCrawler {
	return &ListingCrawler{
		source:  source,
		pageURL: pageURL,
		fetcher: fetcher,
		logger:  logger,
	}
}

// Episodes は一覧ページを取得し、各グループの観測を列挙する。
func (c *ListingCrawler) Episodes(ctx context.Context) iter.Seq[model.ShowEpisode] {
	return func(yield func(model.ShowEpisode) bool) {
		doc, err := c.fetcher.GetHTML(ctx, c.source, c.pageURL)
		if err != nil {
			c.logger.Warn("一覧ページの取得に失敗しました",
				slog.String("source", c.source),
				slog.String("url", c.pageURL),
				slog.String("error", err.Error()),
			)
			return
		}

		for _, group := range listingGroups(doc) {
			ep, ok := parseListingGroup(group)
			if !ok {
				continue
			}
			if !yield(ep) {
				return
			}
		}
	}
}

// listingGroups は本文の子要素を区切り位置で分割する。
// 末尾の区切られていないグループは掲載途中の可能性があるため含めない。
func listingGroups(doc *goquery.Document) []*goquery.Selection {
	children := doc.Find("div.content_body").First().Children()

	var groups []*goquery.Selection
	start := 0
	for i := 1; i < children.Length(); i++ {
		if isGroupDelimiter(children.Eq(i-1)) && isGroupDelimiter(children.Eq(i)) {
			groups = append(groups, children.Slice(start, i-1))
			start = i
		}
	}
	return groups
}

func isGroupDelimiter(s *goquery.Selection) bool {
	v, _ := s.Attr("clear")
	return goquery.NodeName(s) == "br" && v == "both"
}

// parseListingGroup はグループ内の最初のdivから番号を、アイコンのtitle属性から番組名を取り出す。
// 番号を持たないグループ（告知ブロックなど）はスキップする。
func parseListingGroup(group *goquery.Selection) (model.ShowEpisode, bool) {
	label := firstDiv(group)
	if label == nil {
		return model.ShowEpisode{}, false
	}

	m := listingEpisodePattern.FindStringSubmatch(label.Text())
	if m == nil {
		return model.ShowEpisode{}, false
	}
	season, err := strconv.Atoi(m[1])
	if err != nil {
		return model.ShowEpisode{}, false
	}
	episode, err := strconv.Atoi(m[2])
	if err != nil {
		return model.ShowEpisode{}, false
	}

	var title string
	group.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		img := s.Filter("img.category_icon[title]")
		if img.Length() == 0 {
			img = s.Find("img.category_icon[title]")
		}
		if img.Length() == 0 {
			return true
		}
		title, _ = img.First().Attr("title")
		return false
	})
	title = strings.TrimSpace(title)
	if title == "" {
		return model.ShowEpisode{}, false
	}

	return model.ShowEpisode{
		ShowTitle: title,
		Episode:   model.Episode{Season: season, Number: episode},
	}, true
}

// firstDiv は文書順で最初のdivを返す。グループ直下の要素自身も対象に含む。
func firstDiv(group *goquery.Selection) *goquery.Selection {
	var found *goquery.Selection
	group.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if goquery.NodeName(s) == "div" {
			found = s
			return false
		}
		if d := s.Find("div"); d.Length() > 0 {
			found = d.First()
			return false
		}
		return true
	})
	return found
}
