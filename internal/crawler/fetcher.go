package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html/charset"

	"github.com/hitoshi/shownotifier/internal/metrics"
	"github.com/hitoshi/shownotifier/internal/model"
	"github.com/hitoshi/shownotifier/internal/security"
)

// FetchResult はHTTPステータスコードに基づく取得結果の分類。
type FetchResult int

const (
	// FetchResultOK は取得成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultStop は次回も回復が見込めないステータス（404/410/401/403）。
	FetchResultStop
	// FetchResultBackoff は一時的な障害と見なすステータス（429/5xx）。
	FetchResultBackoff
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

// String はメトリクスのラベル値を返す。
func (r FetchResult) String() string {
	switch r {
	case FetchResultOK:
		return "ok"
	case FetchResultStop:
		return "stop"
	case FetchResultBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// ClassifyHTTPStatus はHTTPステータスコードを取得結果に分類する。
// 再試行は行わないため、分類はログとメトリクスのためだけに使う。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == http.StatusOK:
		return FetchResultOK
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return FetchResultStop
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return FetchResultStop
	case statusCode == http.StatusTooManyRequests:
		return FetchResultBackoff
	case statusCode >= 500:
		return FetchResultBackoff
	default:
		return FetchResultUnknown
	}
}

// メトリクスに記録するHTTPステータス以外の失敗理由。
const (
	reasonBlocked  = "blocked"
	reasonNetwork  = "network"
	reasonTooLarge = "too_large"
	reasonParse    = "parse"
)

// errTooLarge はレスポンスボディが上限を超えた場合のエラー。
var errTooLarge = errors.New("response body exceeds size limit")

// FetcherOptions はFetcherの動作設定。
type FetcherOptions struct {
	Timeout     time.Duration
	MaxBodySize int64
	UserAgent   string
}

// Fetcher は全クローラーが共有するHTTP取得層。
// URL検証、サイズ制限、User-Agent付与、文字コード変換、メトリクス記録を行う。
type Fetcher struct {
	guard       security.URLGuard
	client      *http.Client
	recorder    metrics.Recorder
	logger      *slog.Logger
	userAgent   string
	maxBodySize int64
}

// NewFetcher はFetcherを生成する。HTTPクライアントはguardから1回だけ生成して使い回す。
func NewFetcher(guard security.URLGuard, recorder metrics.Recorder, logger *slog.Logger, opts FetcherOptions) *Fetcher {
	return &Fetcher{
		guard:       guard,
		client:      guard.NewSafeClient(opts.Timeout),
		recorder:    recorder,
		logger:      logger,
		userAgent:   opts.UserAgent,
		maxBodySize: opts.MaxBodySize,
	}
}

// Get はURLを取得し、ボディとレスポンスヘッダーを返す。
// 200以外のステータスは*model.FetchErrorとして返す。
func (f *Fetcher) Get(ctx context.Context, source, rawURL, accept string) ([]byte, http.Header, error) {
	if err := f.guard.ValidateURL(rawURL); err != nil {
		f.recorder.RecordFetchError(source, reasonBlocked)
		return nil, nil, fmt.Errorf("URL検証に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.recorder.RecordFetchError(source, reasonNetwork)
		return nil, nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start)
	f.recorder.RecordFetch(source, resp.StatusCode, duration)

	result := ClassifyHTTPStatus(resp.StatusCode)
	f.logger.Debug("ページを取得しました",
		slog.String("source", source),
		slog.String("url", rawURL),
		slog.Int("http_status", resp.StatusCode),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	if result != FetchResultOK {
		f.recorder.RecordFetchError(source, result.String())
		return nil, nil, &model.FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	// 上限+1バイトまで読み、超過を検出する
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		f.recorder.RecordFetchError(source, reasonNetwork)
		return nil, nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}
	if int64(len(body)) > f.maxBodySize {
		f.recorder.RecordFetchError(source, reasonTooLarge)
		return nil, nil, fmt.Errorf("%s: %w", rawURL, errTooLarge)
	}

	return body, resp.Header, nil
}

// GetHTML はHTMLを取得し、宣言された文字コードからUTF-8へ変換して解析する。
// 対象サイトはwindows-1251で配信しているため、変換なしでは文字化けする。
func (f *Fetcher) GetHTML(ctx context.Context, source, rawURL string) (*goquery.Document, error) {
	body, header, err := f.Get(ctx, source, rawURL, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}

	r, err := charset.NewReader(bytes.NewReader(body), header.Get("Content-Type"))
	if err != nil {
		f.recorder.RecordFetchError(source, reasonParse)
		return nil, fmt.Errorf("文字コード変換に失敗: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		f.recorder.RecordFetchError(source, reasonParse)
		return nil, fmt.Errorf("HTMLのパースに失敗: %w", err)
	}
	return doc, nil
}

// GetFeed はRSS/Atomフィードを取得してパースする。
// XML宣言のencodingはgofeed側で解釈される。
func (f *Fetcher) GetFeed(ctx context.Context, source, rawURL string) (*gofeed.Feed, error) {
	body, _, err := f.Get(ctx, source, rawURL, "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		f.recorder.RecordFetchError(source, reasonParse)
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}
	return feed, nil
}
