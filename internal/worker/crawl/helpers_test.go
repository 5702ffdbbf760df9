package crawl

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/shownotifier/internal/model"
)

// --- モック定義 ---

// memoryShowRepo はShowRepositoryのインメモリ実装。
// AdvanceWatermarkはDBの条件付きUPDATEと同じく前進する場合のみ更新する。
type memoryShowRepo struct {
	mu       sync.Mutex
	shows    map[string]*model.Show // key: source + "\x00" + title
	findErr  error
	advErr   error
	advances []model.Episode
}

func newMemoryShowRepo(shows ...*model.Show) *memoryShowRepo {
	r := &memoryShowRepo{shows: make(map[string]*model.Show)}
	for _, s := range shows {
		r.shows[s.SourceName+"\x00"+s.Title] = s
	}
	return r
}

func (r *memoryShowRepo) ListSources(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := map[string]bool{}
	var sources []string
	for _, s := range r.shows {
		if !seen[s.SourceName] {
			seen[s.SourceName] = true
			sources = append(sources, s.SourceName)
		}
	}
	slices.Sort(sources)
	return sources, nil
}

func (r *memoryShowRepo) FindBySourceAndTitle(_ context.Context, source, title string) (*model.Show, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findErr != nil {
		return nil, r.findErr
	}
	s, ok := r.shows[source+"\x00"+title]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memoryShowRepo) AdvanceWatermark(ctx context.Context, showID int64, ep model.Episode) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if r.advErr != nil {
		return false, r.advErr
	}
	for _, s := range r.shows {
		if s.ID != showID {
			continue
		}
		if s.Watermark.IsSet() && !s.Watermark.Less(ep) {
			return false, nil
		}
		s.Watermark = ep
		r.advances = append(r.advances, ep)
		return true, nil
	}
	return false, nil
}

func (r *memoryShowRepo) watermark(source, title string) model.Episode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shows[source+"\x00"+title].Watermark
}

// mockSubscriptionRepo はSubscriptionRepositoryのテスト用モック。
type mockSubscriptionRepo struct {
	chatIDs map[int64][]int64
	err     error
}

func (m *mockSubscriptionRepo) ListActiveChatIDs(_ context.Context, showID int64) ([]int64, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.chatIDs[showID], nil
}

type notification struct {
	chatID   int64
	showURL  string
	episodes []model.ShowEpisode
}

// mockNotifier はNotifierのテスト用モック。受け付けた通知を記録する。
type mockNotifier struct {
	mu      sync.Mutex
	sent    []notification
	failFor map[int64]error
	// onNotify は受付のたびに呼ばれる
	onNotify func()
}

func (m *mockNotifier) Notify(_ context.Context, chatID int64, showURL string, episodes []model.ShowEpisode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failFor[chatID]; err != nil {
		return err
	}
	m.sent = append(m.sent, notification{chatID: chatID, showURL: showURL, episodes: episodes})
	if m.onNotify != nil {
		m.onNotify()
	}
	return nil
}

func (m *mockNotifier) notifications() []notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notification(nil), m.sent...)
}

// fakeRecorder はmetrics.Recorderのテスト用実装。
type fakeRecorder struct {
	mu        sync.Mutex
	outcomes  map[string]int
	sightings map[string]int
	advanced  map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		outcomes:  map[string]int{},
		sightings: map[string]int{},
		advanced:  map[string]int{},
	}
}

func (r *fakeRecorder) RecordFetch(string, int, time.Duration) {}
func (r *fakeRecorder) RecordFetchError(string, string)        {}
func (r *fakeRecorder) RecordNotification(bool)                {}

func (r *fakeRecorder) RecordSightings(source string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sightings[source] += count
}

func (r *fakeRecorder) RecordShowOutcome(source, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[source+"/"+outcome]++
}

func (r *fakeRecorder) RecordWatermarkAdvanced(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanced[source]++
}

// fakeCrawler は固定の観測を返すクローラー。panicValueが設定されていれば列挙中にpanicする。
type fakeCrawler struct {
	mu         sync.Mutex
	sightings  []model.ShowEpisode
	panicValue any
	calls      int
}

func (c *fakeCrawler) Episodes(_ context.Context) iter.Seq[model.ShowEpisode] {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	return func(yield func(model.ShowEpisode) bool) {
		if c.panicValue != nil {
			panic(c.panicValue)
		}
		for _, s := range c.sightings {
			if !yield(s) {
				return
			}
		}
	}
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func ep(title string, season, number int) model.ShowEpisode {
	return model.ShowEpisode{ShowTitle: title, Episode: model.Episode{Season: season, Number: number}}
}

var errDB = errors.New("connection refused")
