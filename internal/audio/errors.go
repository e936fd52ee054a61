package audio

import (
	"errors"
	"fmt"
)

// 音声キャッシュ制御の失敗種別。errors.Isで判定できる。
var (
	// ErrNotFound は指定IDの記事が存在しない。
	ErrNotFound = errors.New("article not found")
	// ErrSynthesisFailure は音声合成に失敗した。記事の状態は変更されていない。
	ErrSynthesisFailure = errors.New("speech synthesis failed")
	// ErrURLIssuanceFailure は署名付きURLの発行に失敗した。
	ErrURLIssuanceFailure = errors.New("access url issuance failed")
	// ErrStoreWriteFailure はバックエンド呼び出し成功後の保存に失敗した。
	ErrStoreWriteFailure = errors.New("article store write failed")
)

// Error は記事IDと原因を伴う音声キャッシュ制御のエラー。
type Error struct {
	Kind      error // 上記の失敗種別のいずれか
	ArticleID string
	Err       error // 下位レイヤーのエラー（nilの場合あり）
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: article %s", e.Kind, e.ArticleID)
	}
	return fmt.Sprintf("%s: article %s: %v", e.Kind, e.ArticleID, e.Err)
}

// Unwrap は失敗種別と原因の両方をerrors.Is/errors.Asの探索対象にする。
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, articleID string, err error) *Error {
	return &Error{Kind: kind, ArticleID: articleID, Err: err}
}
