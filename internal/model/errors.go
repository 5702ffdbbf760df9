package model

import (
	"errors"
	"fmt"
)

var (
	// ErrGatewayClosed はシャットダウン済みの通知ゲートウェイに送信しようとした場合のエラー。
	ErrGatewayClosed = errors.New("notification gateway is closed")
	// ErrUnknownSource はクローラーが実装されていないソース名を指定した場合のエラー。
	ErrUnknownSource = errors.New("crawler is not implemented for source")
)

// FetchError はソースの取得がHTTPステータスで失敗したことを表す。
type FetchError struct {
	URL        string
	StatusCode int
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.StatusCode, e.URL)
}
