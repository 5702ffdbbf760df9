package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/hitoshi/shownotifier/internal/model"
)

// mockShowLister はShowListerのテスト用モック。
type mockShowLister struct {
	shows []*model.Show
	err   error
	calls []string
}

func (m *mockShowLister) ListBySource(_ context.Context, source string) ([]*model.Show, error) {
	m.calls = append(m.calls, source)
	return m.shows, m.err
}

func forumPage(topics ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><table class="forumline">`)
	for i, topic := range topics {
		fmt.Fprintf(&b, `<tr><td><a class="topictitle" href="viewtopic.php?t=%d">%s</a></td></tr>`, i+1, topic)
	}
	b.WriteString(`</table></body></html>`)
	return b.String()
}

func newForumServer(t *testing.T) *httptest.Server {
	t.Helper()

	pages := map[string]string{
		"/viewforum.php?f=465": forumPage(
			"Игра Престолов (Сезон 6, Серия 10) / Game of Thrones (2016) WEB-DLRip",
			"Игра Престолов (Сезон 6, Серия 9) / Game of Thrones (2016) WEB-DLRip",
		),
		"/viewforum.php?f=254": forumPage(
			"Правила раздела",
			"Революция (Сезон 1, Серия 15) / Revolution (2013) HDTVRip",
		),
		"/viewforum.php?f=133": forumPage(
			"Грань (Сезон 5, Серии 1-13) / Fringe (2012) WEB-DLRip",
			"Грань (Сезон 4, Серии 1-22) / Fringe (2011) HDTVRip",
		),
		"/viewforum.php?f=246": forumPage(),
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, ok := pages[r.URL.RequestURI()]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
}

func TestForumCrawler_Episodes(t *testing.T) {
	server := newForumServer(t)
	defer server.Close()

	lister := &mockShowLister{shows: []*model.Show{
		{ID: 1, SourceName: model.SourceNewStudio, Title: "Game of Thrones", ShowURL: server.URL + "/viewforum.php?f=465"},
		{ID: 2, SourceName: model.SourceNewStudio, Title: "Revolution", ShowURL: server.URL + "/viewforum.php?f=254"},
		{ID: 3, SourceName: model.SourceNewStudio, Title: "Fringe", ShowURL: server.URL + "/viewforum.php?f=133"},
		{ID: 4, SourceName: model.SourceNewStudio, Title: "Longmire", ShowURL: server.URL + "/viewforum.php?f=246"},
		{ID: 5, SourceName: model.SourceNewStudio, Title: "Emerald City", ShowURL: server.URL + "/viewforum.php?f=531"},
	}}

	fetcher, _, _ := newTestFetcher(t, &mockURLGuard{})
	var buf bytes.Buffer
	c := NewForumCrawler(model.SourceNewStudio, lister, fetcher, newTestLogger(&buf))

	got := slices.Collect(c.Episodes(context.Background()))

	want := []model.ShowEpisode{
		{ShowTitle: "Game of Thrones", Episode: model.Episode{Season: 6, Number: 10}},
		{ShowTitle: "Revolution", Episode: model.Episode{Season: 1, Number: 15}},
	}
	if !slices.Equal(got, want) {
		t.Errorf("Episodes() = %v, want %v", got, want)
	}
	if len(lister.calls) != 1 || lister.calls[0] != model.SourceNewStudio {
		t.Errorf("ListBySource calls = %v", lister.calls)
	}
}

func TestForumCrawler_Episodes_ListError(t *testing.T) {
	lister := &mockShowLister{err: errors.New("db down")}

	fetcher, _, _ := newTestFetcher(t, &mockURLGuard{})
	var buf bytes.Buffer
	c := NewForumCrawler(model.SourceNewStudio, lister, fetcher, newTestLogger(&buf))

	if got := slices.Collect(c.Episodes(context.Background())); len(got) != 0 {
		t.Errorf("番組一覧の取得失敗時は観測0件であるべき: got %v", got)
	}
	if !strings.Contains(buf.String(), "番組一覧の取得に失敗しました") {
		t.Error("失敗がログに記録されていない")
	}
}

func TestParseForumTopic(t *testing.T) {
	tests := []struct {
		name   string
		label  string
		want   model.Episode
		wantOK bool
	}{
		{"ロシア語", "Игра Престолов (Сезон 6, Серия 10) / Game of Thrones", model.Episode{Season: 6, Number: 10}, true},
		{"英語", "Sherlock (Season 4, Episode 3) WEB-DL", model.Episode{Season: 4, Number: 3}, true},
		{"大文字小文字を区別しない", "ШЕРЛОК (СЕЗОН 4, СЕРИЯ 2)", model.Episode{Season: 4, Number: 2}, true},
		{"カンマなし", "Dexter (Сезон 8 Серия 12)", model.Episode{Season: 8, Number: 12}, true},
		{"全角数字", "Декстер (Сезон ８, Серия １２)", model.Episode{Season: 8, Number: 12}, true},
		{"ロシア語の数詞", "Шерлок (Сезон четвертый, Серия третья)", model.Episode{Season: 4, Number: 3}, true},
		{"英語の数詞", "Fargo (Season three, Episode one)", model.Episode{Season: 3, Number: 1}, true},
		{"シーズンパック", "Грань (Сезон 5, Серии 1-13)", model.Episode{}, false},
		{"ダッシュのシーズンパック", "Lost (Season 6, Episodes 1–18)", model.Episode{}, false},
		{"未知の数詞", "Lost (Сезон финальный, Серия 1)", model.Episode{}, false},
		{"番号なし", "Правила раздела", model.Episode{}, false},
		{"空文字列", "", model.Episode{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseForumTopic(tt.label)
			if ok != tt.wantOK {
				t.Fatalf("parseForumTopic(%q) ok = %v, want %v", tt.label, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("parseForumTopic(%q) = %v, want %v", tt.label, got, tt.want)
			}
		})
	}
}
