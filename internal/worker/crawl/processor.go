package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/shownotifier/internal/metrics"
	"github.com/hitoshi/shownotifier/internal/model"
	"github.com/hitoshi/shownotifier/internal/repository"
)

// Outcome は1番組分の処理結果。
type Outcome int

const (
	// OutcomeFailed は処理がエラーで中断されたことを表す。
	OutcomeFailed Outcome = iota
	// OutcomeUnknownShow はレジストリに登録されていない番組。
	OutcomeUnknownShow
	// OutcomeUpToDate は新着エピソードなし。
	OutcomeUpToDate
	// OutcomeBaseline は初回観測のため通知せずにウォーターマークだけを設定した。
	OutcomeBaseline
	// OutcomeNotified は購読者へ通知しウォーターマークを進めた。
	OutcomeNotified
)

// String はメトリクスのラベル値を返す。
func (o Outcome) String() string {
	switch o {
	case OutcomeUnknownShow:
		return "unknown_show"
	case OutcomeUpToDate:
		return "up_to_date"
	case OutcomeBaseline:
		return "baseline"
	case OutcomeNotified:
		return "notified"
	default:
		return "failed"
	}
}

// Notifier は購読者1人への通知を受け付ける。
type Notifier interface {
	Notify(ctx context.Context, chatID int64, showURL string, episodes []model.ShowEpisode) error
}

// ShowFinder はProcessorが利用する番組レジストリの操作。
type ShowFinder interface {
	FindBySourceAndTitle(ctx context.Context, source, title string) (*model.Show, error)
	AdvanceWatermark(ctx context.Context, showID int64, episode model.Episode) (bool, error)
}

var _ ShowFinder = (repository.ShowRepository)(nil)

// errAllNotificationsFailed は全購読者への通知受付に失敗したことを表す。
var errAllNotificationsFailed = errors.New("all notifications failed")

// Processor は1番組分の観測結果を処理する。
// レジストリ検索、差分計算、通知、ウォーターマーク更新の順に実行する。
type Processor struct {
	shows    ShowFinder
	subs     repository.SubscriptionRepository
	notifier Notifier
	recorder metrics.Recorder
	logger   *slog.Logger
}

// NewProcessor はProcessorの新しいインスタンスを生成する。
func NewProcessor(
	shows ShowFinder,
	subs repository.SubscriptionRepository,
	notifier Notifier,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		shows:    shows,
		subs:     subs,
		notifier: notifier,
		recorder: recorder,
		logger:   logger,
	}
}

// Process はsourceで観測されたtitleのエピソードを処理する。
// エラーを返した場合、ウォーターマークは進めていない。
func (p *Processor) Process(ctx context.Context, source, title string, sightings []model.ShowEpisode) (Outcome, error) {
	show, err := p.shows.FindBySourceAndTitle(ctx, source, title)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to look up show: %w", err)
	}
	if show == nil {
		p.logger.Debug("未登録の番組のため破棄します",
			slog.String("source", source),
			slog.String("show_title", title),
		)
		return OutcomeUnknownShow, nil
	}

	fresh := SelectNew(sightings, show.Watermark)
	if len(fresh) == 0 {
		return OutcomeUpToDate, nil
	}
	latest := fresh[len(fresh)-1].Episode

	if !show.Watermark.IsSet() {
		if err := p.advance(ctx, show, latest); err != nil {
			return OutcomeFailed, err
		}
		p.logger.Info("初回観測のためウォーターマークのみ設定しました",
			slog.String("source", source),
			slog.Int64("show_id", show.ID),
			slog.String("watermark", latest.String()),
		)
		return OutcomeBaseline, nil
	}

	chatIDs, err := p.subs.ListActiveChatIDs(ctx, show.ID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to list subscribers for show %d: %w", show.ID, err)
	}

	failed := 0
	for _, chatID := range chatIDs {
		if err := p.notifier.Notify(ctx, chatID, show.ShowURL, fresh); err != nil {
			failed++
			p.logger.Error("通知の受付に失敗しました",
				slog.String("source", source),
				slog.Int64("show_id", show.ID),
				slog.Int64("chat_id", chatID),
				slog.String("error", err.Error()),
			)
		}
	}
	if len(chatIDs) > 0 && failed == len(chatIDs) {
		return OutcomeFailed, fmt.Errorf("show %d: %w (%d subscribers)", show.ID, errAllNotificationsFailed, failed)
	}

	// 受け付け済みの通知は中断後も配信されるため、ウォーターマークも必ず進める
	advCtx := ctx
	if failed < len(chatIDs) {
		advCtx = context.WithoutCancel(ctx)
	}
	if err := p.advance(advCtx, show, latest); err != nil {
		return OutcomeFailed, err
	}

	p.logger.Info("新着エピソードを通知しました",
		slog.String("source", source),
		slog.Int64("show_id", show.ID),
		slog.Int("episodes", len(fresh)),
		slog.Int("subscribers", len(chatIDs)),
		slog.Int("failed", failed),
		slog.String("watermark", latest.String()),
	)
	return OutcomeNotified, nil
}

func (p *Processor) advance(ctx context.Context, show *model.Show, ep model.Episode) error {
	changed, err := p.shows.AdvanceWatermark(ctx, show.ID, ep)
	if err != nil {
		return fmt.Errorf("failed to advance watermark of show %d: %w", show.ID, err)
	}
	if !changed {
		// 並行実行中の別プロセスが先に進めた
		p.logger.Info("ウォーターマークは既に更新済みです",
			slog.Int64("show_id", show.ID),
			slog.String("watermark", ep.String()),
		)
		return nil
	}
	p.recorder.RecordWatermarkAdvanced(show.SourceName)
	return nil
}
