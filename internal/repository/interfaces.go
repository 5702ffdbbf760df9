// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/shownotifier/internal/model"
)

// ShowRepository は登録済み番組（レジストリ）の永続化インターフェース。
type ShowRepository interface {
	// ListSources は番組が1件以上登録されているソース名を重複なく返す。
	ListSources(ctx context.Context) ([]string, error)

	// FindBySourceAndTitle はソース名と番組タイトルで番組を検索する。
	// 見つからない場合はnilを返す。
	FindBySourceAndTitle(ctx context.Context, source, title string) (*model.Show, error)

	// ListBySource はソースに登録された番組一覧を返す。
	ListBySource(ctx context.Context, source string) ([]*model.Show, error)

	// AdvanceWatermark は番組のウォーターマークをepisodeへ進める。
	// 現在値より新しい場合のみ更新し、更新した行があればtrueを返す。
	AdvanceWatermark(ctx context.Context, showID int64, episode model.Episode) (bool, error)
}

// SubscriptionRepository は購読データの永続化インターフェース。
type SubscriptionRepository interface {
	// ListActiveChatIDs は番組を購読している有効ユーザーのchat_idを昇順で返す。
	ListActiveChatIDs(ctx context.Context, showID int64) ([]int64, error)
}
