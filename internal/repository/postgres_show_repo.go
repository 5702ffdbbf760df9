package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/shownotifier/internal/model"
)

// PostgresShowRepo はPostgreSQLを使用した番組リポジトリ。
type PostgresShowRepo struct {
	db *sql.DB
}

// NewPostgresShowRepo はPostgresShowRepoを生成する。
func NewPostgresShowRepo(db *sql.DB) *PostgresShowRepo {
	return &PostgresShowRepo{db: db}
}

var _ ShowRepository = (*PostgresShowRepo)(nil)

// ListSources は番組が登録されているソース名の一覧を返す。
func (r *PostgresShowRepo) ListSources(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT source_name FROM shows ORDER BY source_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return nil, fmt.Errorf("ソース名の読み取りに失敗しました: %w", err)
		}
		sources = append(sources, source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソース一覧の走査に失敗しました: %w", err)
	}

	return sources, nil
}

// FindBySourceAndTitle はソース名と番組タイトルで番組を検索する。見つからない場合はnilを返す。
func (r *PostgresShowRepo) FindBySourceAndTitle(ctx context.Context, source, title string) (*model.Show, error) {
	show := &model.Show{}
	var lastSeason, lastEpisode sql.NullInt64

	err := r.db.QueryRowContext(ctx,
		`SELECT id, source_name, title, show_url, last_season, last_episode
		 FROM shows WHERE source_name = $1 AND title = $2`,
		source, title,
	).Scan(&show.ID, &show.SourceName, &show.Title, &show.ShowURL, &lastSeason, &lastEpisode)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("番組の取得に失敗しました: %w", err)
	}

	show.Watermark = watermarkValue(lastSeason, lastEpisode)
	return show, nil
}

// ListBySource はソースに登録された番組一覧をID順で返す。
func (r *PostgresShowRepo) ListBySource(ctx context.Context, source string) ([]*model.Show, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source_name, title, show_url, last_season, last_episode
		 FROM shows WHERE source_name = $1
		 ORDER BY id`,
		source,
	)
	if err != nil {
		return nil, fmt.Errorf("ソース別番組一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var shows []*model.Show
	for rows.Next() {
		show := &model.Show{}
		var lastSeason, lastEpisode sql.NullInt64

		if err := rows.Scan(
			&show.ID, &show.SourceName, &show.Title, &show.ShowURL, &lastSeason, &lastEpisode,
		); err != nil {
			return nil, fmt.Errorf("番組の読み取りに失敗しました: %w", err)
		}

		show.Watermark = watermarkValue(lastSeason, lastEpisode)
		shows = append(shows, show)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソース別番組一覧の走査に失敗しました: %w", err)
	}

	return shows, nil
}

// AdvanceWatermark はウォーターマークを前進させる。
// 条件付きUPDATEのため、並行実行時でも後退することはない。
func (r *PostgresShowRepo) AdvanceWatermark(ctx context.Context, showID int64, episode model.Episode) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE shows
		 SET last_season = $2, last_episode = $3, updated_at = now()
		 WHERE id = $1
		   AND (last_season IS NULL OR (last_season, last_episode) < ($2, $3))`,
		showID, episode.Season, episode.Number,
	)
	if err != nil {
		return false, fmt.Errorf("ウォーターマークの更新に失敗しました: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ウォーターマーク更新件数の取得に失敗しました: %w", err)
	}

	return n > 0, nil
}

// watermarkValue はNULL許容のカラム値をEpisodeに変換する。
func watermarkValue(season, episode sql.NullInt64) model.Episode {
	if !season.Valid || !episode.Valid {
		return model.UnsetEpisode
	}
	return model.Episode{Season: int(season.Int64), Number: int(episode.Int64)}
}
