// Package crawl はソースのクロール結果とウォーターマークの差分を取り、
// 購読者への通知とウォーターマークの更新を行うワーカーを提供する。
package crawl

import (
	"slices"

	"github.com/hitoshi/shownotifier/internal/model"
)

// SelectNew はwatermarkより新しいエピソードを重複を除いて昇順で返す。
// watermarkが未設定の場合は全てのエピソードが対象になる。
func SelectNew(sightings []model.ShowEpisode, watermark model.Episode) []model.ShowEpisode {
	seen := make(map[model.ShowEpisode]struct{}, len(sightings))
	var fresh []model.ShowEpisode
	for _, s := range sightings {
		if !s.IsNewerThan(watermark) {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		fresh = append(fresh, s)
	}

	slices.SortFunc(fresh, func(a, b model.ShowEpisode) int {
		return model.Compare(a.Episode, b.Episode)
	})
	return fresh
}
