package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/shownotifier/internal/crawler"
	"github.com/hitoshi/shownotifier/internal/metrics"
	"github.com/hitoshi/shownotifier/internal/model"
)

// SourceLister は番組が登録されているソース名を列挙する。
type SourceLister interface {
	ListSources(ctx context.Context) ([]string, error)
}

// CrawlerLookup はソース名からクローラーを引く。*crawler.Registryが満たす。
type CrawlerLookup interface {
	Lookup(source string) (crawler.Crawler, error)
}

// ShowProcessor は1番組分の観測結果を処理する。
type ShowProcessor interface {
	Process(ctx context.Context, source, title string, sightings []model.ShowEpisode) (Outcome, error)
}

// Scheduler はソースごとのクロールと番組ごとの処理を1回分実行する。
// ソースは順番に処理し、ソース内の番組はsemaphoreパターンで並列に処理する。
type Scheduler struct {
	sources        SourceLister
	crawlers       CrawlerLookup
	processor      ShowProcessor
	recorder       metrics.Recorder
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(
	sources SourceLister,
	crawlers CrawlerLookup,
	processor ShowProcessor,
	recorder metrics.Recorder,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Scheduler{
		sources:        sources,
		crawlers:       crawlers,
		processor:      processor,
		recorder:       recorder,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// RunOnce は登録済みの全ソースを1回ずつ処理する。
// ソース一覧の取得に失敗した場合のみエラーを返し、個々のソースや番組の失敗はログに記録して続行する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	sources, err := s.sources.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}

	if len(sources) == 0 {
		s.logger.Info("番組が登録されたソースはありません")
		return nil
	}

	s.logger.Info("クロールを開始します",
		slog.Int("source_count", len(sources)),
	)

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.runSource(ctx, source)
	}

	s.logger.Info("クロールが完了しました",
		slog.Int("source_count", len(sources)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// runSource は1ソース分のクロールと番組処理を行う。
func (s *Scheduler) runSource(ctx context.Context, source string) {
	start := time.Now()
	logger := s.logger.With(slog.String("source", source))

	c, err := s.crawlers.Lookup(source)
	if err != nil {
		logger.Warn("クローラーが見つからないためスキップします",
			slog.String("error", err.Error()),
		)
		return
	}

	groups, count, err := collect(ctx, c)
	if err != nil {
		logger.Error("クロール中にエラーが発生しました",
			slog.String("error", err.Error()),
		)
		return
	}
	s.recorder.RecordSightings(source, count)

	if len(groups) == 0 {
		logger.Info("エピソードが見つかりませんでした")
		return
	}

	var (
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, s.maxConcurrency)

	for _, title := range slices.Sorted(maps.Keys(groups)) {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(title string, sightings []model.ShowEpisode) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			outcome := s.processShow(ctx, logger, source, title, sightings)
			s.recorder.RecordShowOutcome(source, outcome.String())

			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}(title, groups[title])
	}

	wg.Wait()

	logger.Info("ソースの処理が完了しました",
		slog.Int("sightings", count),
		slog.Int("shows", len(groups)),
		slog.Int("notified", outcomes[OutcomeNotified]),
		slog.Int("baseline", outcomes[OutcomeBaseline]),
		slog.Int("up_to_date", outcomes[OutcomeUpToDate]),
		slog.Int("unknown_show", outcomes[OutcomeUnknownShow]),
		slog.Int("failed", outcomes[OutcomeFailed]),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}

// processShow はpanicを含む番組単位の失敗を他の番組へ波及させない。
func (s *Scheduler) processShow(ctx context.Context, logger *slog.Logger, source, title string, sightings []model.ShowEpisode) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("番組の処理中にpanicが発生しました",
				slog.String("show_title", title),
				slog.Any("panic", r),
			)
			outcome = OutcomeFailed
		}
	}()

	outcome, err := s.processor.Process(ctx, source, title, sightings)
	if err != nil {
		logger.Error("番組の処理に失敗しました",
			slog.String("show_title", title),
			slog.String("error", err.Error()),
		)
	}
	return outcome
}

// collect はクローラーの観測結果を番組タイトルごとにまとめる。
// クローラーがpanicした場合はエラーとして返す。
func collect(ctx context.Context, c crawler.Crawler) (groups map[string][]model.ShowEpisode, count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			groups, count, err = nil, 0, fmt.Errorf("crawler panicked: %v", r)
		}
	}()

	groups = make(map[string][]model.ShowEpisode)
	for ep := range c.Episodes(ctx) {
		groups[ep.ShowTitle] = append(groups[ep.ShowTitle], ep)
		count++
	}
	return groups, count, nil
}
