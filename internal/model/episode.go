// Package model はドメインモデルを定義する。
package model

import (
	"cmp"
	"fmt"
)

// unsetNumber はウォーターマーク未設定を表す番号。DBのNULLに対応する。
const unsetNumber = -1

// Episode は「シーズンS・エピソードN」を表す値オブジェクト。
// (Season, Number) の辞書式順序で全順序を持つ。
type Episode struct {
	Season int
	Number int
}

// UnsetEpisode は未設定のウォーターマークを表す。
// すべての実在エピソード（S0E0を含む）より小さい。
var UnsetEpisode = Episode{Season: unsetNumber, Number: unsetNumber}

// IsSet はウォーターマークが設定済みかを返す。
func (e Episode) IsSet() bool {
	return e.Season > unsetNumber && e.Number > unsetNumber
}

// Compare はaとbを比較し、a<bなら-1、a==bなら0、a>bなら+1を返す。
func Compare(a, b Episode) int {
	if c := cmp.Compare(a.Season, b.Season); c != 0 {
		return c
	}
	return cmp.Compare(a.Number, b.Number)
}

// Less はeがotherより前のエピソードかを返す。
func (e Episode) Less(other Episode) bool {
	return Compare(e, other) < 0
}

// IsNewerThan はeがウォーターマークより新しいかを返す。
func (e Episode) IsNewerThan(watermark Episode) bool {
	return Compare(e, watermark) > 0
}

// String は S01E02 形式の文字列を返す。
func (e Episode) String() string {
	if !e.IsSet() {
		return "unset"
	}
	return fmt.Sprintf("S%02dE%02d", e.Season, e.Number)
}

// ShowEpisode はクローラーが1回の巡回で観測したエピソード（sighting）を表す。
// ShowTitleはソース上の表記そのままで、レジストリとの結合キーになる。
// 比較可能な構造体のため、そのままmapのキーとして重複除去に使用できる。
type ShowEpisode struct {
	ShowTitle string
	Episode
}

// String はログ出力用の表現を返す。
func (s ShowEpisode) String() string {
	return fmt.Sprintf("%s %s", s.ShowTitle, s.Episode)
}
