// Package crawler は各ソースのページやフィードからエピソードの観測（sighting）を抽出する。
//
// クローラーはエラーを返さない。取得やパースの失敗はログとメトリクスに記録し、
// その単位の観測を0件として扱う。
package crawler

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/hitoshi/shownotifier/internal/model"
)

// Crawler は1つのソースを巡回して観測を列挙する。
// 呼び出しごとに取得し直し、返されるシーケンスは有限で再利用できない。
type Crawler interface {
	Episodes(ctx context.Context) iter.Seq[model.ShowEpisode]
}

// Registry はソース名とクローラーの対応表。
type Registry struct {
	mu       sync.RWMutex
	crawlers map[string]Crawler
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{crawlers: make(map[string]Crawler)}
}

// Register はソース名にクローラーを登録する。同名の登録は上書きする。
func (r *Registry) Register(source string, c Crawler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crawlers[source] = c
}

// Lookup はソース名に対応するクローラーを返す。
// 未登録の場合はmodel.ErrUnknownSourceをラップしたエラーを返す。
func (r *Registry) Lookup(source string) (Crawler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.crawlers[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownSource, source)
	}
	return c, nil
}

// Sources は登録済みのソース名を昇順で返す。
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]string, 0, len(r.crawlers))
	for s := range r.crawlers {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}
