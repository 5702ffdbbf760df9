// Package notifier は購読者への新着エピソード通知を非同期に配信する。
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hitoshi/shownotifier/internal/metrics"
	"github.com/hitoshi/shownotifier/internal/model"
	"github.com/hitoshi/shownotifier/internal/security"
)

// Sender はチャットへメッセージを送信する。*tgbotapi.BotAPIが満たす。
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Options はGatewayのワーカー数とキュー長。
type Options struct {
	Workers   int
	QueueSize int
}

type delivery struct {
	chatID    int64
	showTitle string
	text      string
}

// Gateway は通知をキューに積み、ワーカーがSenderで配信する。
// 配信失敗はログとメトリクスに記録するのみで再送しない。
type Gateway struct {
	sender    Sender
	sanitizer security.TextSanitizer
	recorder  metrics.Recorder
	logger    *slog.Logger

	queue chan delivery
	wg    sync.WaitGroup

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	blockedMu sync.Mutex
	blocked   map[int64]struct{}
}

// NewGateway はGatewayを生成し、ワーカーを起動する。
// Workers、QueueSizeが0以下の場合はそれぞれ1、0（同期受け渡し）を使用する。
func NewGateway(sender Sender, sanitizer security.TextSanitizer, recorder metrics.Recorder, logger *slog.Logger, opts Options) *Gateway {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := max(opts.QueueSize, 0)

	g := &Gateway{
		sender:    sender,
		sanitizer: sanitizer,
		recorder:  recorder,
		logger:    logger,
		queue:     make(chan delivery, queueSize),
		blocked:   make(map[int64]struct{}),
	}

	for range workers {
		g.wg.Add(1)
		go g.work()
	}
	return g
}

// Notify は1人の購読者への通知を配信キューに積む。
// シャットダウン後はmodel.ErrGatewayClosedを、キューが空く前にctxが終了した場合はctxのエラーを返す。
func (g *Gateway) Notify(ctx context.Context, chatID int64, showURL string, episodes []model.ShowEpisode) error {
	if len(episodes) == 0 {
		return nil
	}

	d := delivery{
		chatID:    chatID,
		showTitle: episodes[0].ShowTitle,
		text:      FormatMessage(g.sanitizer, showURL, episodes),
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return model.ErrGatewayClosed
	}

	select {
	case g.queue <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown は受付を停止し、キューに残った通知の配信完了をtimeoutまで待つ。
// 期限を過ぎた場合は未配信の通知を残したままエラーを返す。
func (g *Gateway) Shutdown(timeout time.Duration) error {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		close(g.queue)
		g.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("notification gateway did not drain within %s (pending: %d)", timeout, len(g.queue))
	}
}

func (g *Gateway) work() {
	defer g.wg.Done()
	for d := range g.queue {
		g.deliver(d)
	}
}

func (g *Gateway) deliver(d delivery) {
	msg := tgbotapi.NewMessage(d.chatID, d.text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	start := time.Now()
	if _, err := g.sender.Send(msg); err != nil {
		g.recorder.RecordNotification(false)
		if isBlocked(err) {
			g.markBlocked(d.chatID)
		}
		g.logger.Error("通知の送信に失敗しました",
			slog.Int64("chat_id", d.chatID),
			slog.String("show_title", d.showTitle),
			slog.String("error", err.Error()),
		)
		return
	}

	g.recorder.RecordNotification(true)
	g.logger.Info("通知を送信しました",
		slog.Int64("chat_id", d.chatID),
		slog.String("show_title", d.showTitle),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}

// BlockedChats はBotをブロックした（403を返した）チャットのIDを昇順で返す。
// Shutdownの完了後に呼び出す。
func (g *Gateway) BlockedChats() []int64 {
	g.blockedMu.Lock()
	defer g.blockedMu.Unlock()
	return slices.Sorted(maps.Keys(g.blocked))
}

func (g *Gateway) markBlocked(chatID int64) {
	g.blockedMu.Lock()
	defer g.blockedMu.Unlock()
	g.blocked[chatID] = struct{}{}
}

// isBlocked はBot APIがチャットへの送信を拒否したかを返す。
func isBlocked(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden
}
