package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は外部サイト由来の文字列をTelegramのHTMLモードで安全に埋め込める形へ変換する。
type TextSanitizer interface {
	// SanitizeText はタグを全て除去し、特殊文字をエスケープした1行のテキストを返す。
	SanitizeText(raw string) string
}

// StrictSanitizer はbluemondayのStrictPolicyによるTextSanitizer実装。
// Policyはスレッドセーフなので、複数の通知ワーカーから共有できる。
type StrictSanitizer struct {
	policy *bluemonday.Policy
}

// NewStrictSanitizer はStrictSanitizerを生成する。
func NewStrictSanitizer() *StrictSanitizer {
	return &StrictSanitizer{policy: bluemonday.StrictPolicy()}
}

var _ TextSanitizer = (*StrictSanitizer)(nil)

// SanitizeText はタグを除去し、連続する空白を1つにまとめる。
func (s *StrictSanitizer) SanitizeText(raw string) string {
	return strings.Join(strings.Fields(s.policy.Sanitize(raw)), " ")
}
