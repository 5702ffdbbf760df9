package notifier

import (
	"bytes"
	"log/slog"
	"sync"
	"time"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// fakeRecorder はmetrics.Recorderのテスト用実装。通知結果のみ数える。
type fakeRecorder struct {
	mu        sync.Mutex
	delivered int
	failed    int
}

func (r *fakeRecorder) RecordFetch(string, int, time.Duration) {}
func (r *fakeRecorder) RecordFetchError(string, string)        {}
func (r *fakeRecorder) RecordSightings(string, int)            {}
func (r *fakeRecorder) RecordShowOutcome(string, string)       {}
func (r *fakeRecorder) RecordWatermarkAdvanced(string)         {}

func (r *fakeRecorder) RecordNotification(delivered bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if delivered {
		r.delivered++
	} else {
		r.failed++
	}
}

func (r *fakeRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delivered, r.failed
}

// passthroughSanitizer は入力をそのまま返す。
type passthroughSanitizer struct{}

func (passthroughSanitizer) SanitizeText(raw string) string { return raw }
