package model

// Source はエピソード一覧を提供する外部サイトの識別名。
const (
	// SourceAlexFilm はRSSフィードで新着を配信するソース。
	SourceAlexFilm = "alexfilm"
	// SourceLostFilm は一覧ページ（browse.php）で新着を掲載するソース。
	SourceLostFilm = "lostfilm"
	// SourceNewStudio は番組ごとのフォーラムで新着を掲載するソース。
	SourceNewStudio = "newstudio"
)

// Show は登録済み番組と最後に通知したエピソード（ウォーターマーク）を表す。
// 番組の登録はこのシステムの外で行われる。
type Show struct {
	ID         int64
	SourceName string
	Title      string
	ShowURL    string
	// Watermark は最後に通知したエピソード。未記録の場合はUnsetEpisode。
	Watermark Episode
}
