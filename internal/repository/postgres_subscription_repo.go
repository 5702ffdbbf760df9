package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)

// ListActiveChatIDs は番組を購読している有効ユーザーのchat_idを返す。
func (r *PostgresSubscriptionRepo) ListActiveChatIDs(ctx context.Context, showID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.chat_id
		 FROM subscriptions s
		 INNER JOIN users u ON u.id = s.user_id
		 WHERE s.show_id = $1 AND u.active = true
		 ORDER BY u.chat_id`,
		showID,
	)
	if err != nil {
		return nil, fmt.Errorf("購読者の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var chatIDs []int64
	for rows.Next() {
		var chatID int64
		if err := rows.Scan(&chatID); err != nil {
			return nil, fmt.Errorf("購読者の読み取りに失敗しました: %w", err)
		}
		chatIDs = append(chatIDs, chatID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読者一覧の走査に失敗しました: %w", err)
	}

	return chatIDs, nil
}
