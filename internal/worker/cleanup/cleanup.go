// Package cleanup は購読者データの後始末ジョブを提供する。
// Botをブロックしたユーザーを無効化し、次回以降の通知対象から外す。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DeactivationJob は送信を拒否されたチャットのユーザーを無効化するジョブ。
// 1回の巡回の最後に実行する。既に無効なユーザーは更新しないため冪等。
type DeactivationJob struct {
	db     Executor
	logger *slog.Logger
}

// NewDeactivationJob は新しいDeactivationJobを生成する。
func NewDeactivationJob(db Executor, logger *slog.Logger) *DeactivationJob {
	return &DeactivationJob{
		db:     db,
		logger: logger,
	}
}

// Run はchatIDsに該当する有効ユーザーをactive=falseにする。
// chatIDsが空の場合は何もしない。
func (j *DeactivationJob) Run(ctx context.Context, chatIDs []int64) error {
	if len(chatIDs) == 0 {
		return nil
	}

	start := time.Now()

	query := `UPDATE users SET active = false WHERE chat_id = ANY($1) AND active = true`
	result, err := j.db.ExecContext(ctx, query, pq.Array(chatIDs))
	if err != nil {
		j.logger.Error("ユーザー無効化ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("chat_count", len(chatIDs)),
		)
		return fmt.Errorf("ユーザー無効化の実行に失敗: %w", err)
	}

	deactivated, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("更新件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}

	j.logger.Info("ユーザー無効化ジョブが完了しました",
		slog.Int64("deactivated_count", deactivated),
		slog.Int("chat_count", len(chatIDs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}
