// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, article, audio, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeArticleNotFound   = "ARTICLE_NOT_FOUND"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeSynthesisFailed   = "SYNTHESIS_FAILED"
	ErrCodeURLIssuanceFailed = "URL_ISSUANCE_FAILED"
	ErrCodeStoreWriteFailed  = "STORE_WRITE_FAILED"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// NewArticleNotFoundError は記事未検出エラーを生成する。
func NewArticleNotFoundError(articleID string) *APIError {
	return &APIError{
		Code:     ErrCodeArticleNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %s", articleID),
		Category: "article",
		Action:   "記事IDを確認してください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewSynthesisFailedError は音声合成失敗エラーを生成する。
// 記事の状態は変更されていないため、そのまま再試行できる。
func NewSynthesisFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeSynthesisFailed,
		Message:  "記事の音声合成に失敗しました。",
		Category: "audio",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewURLIssuanceFailedError は音声URL発行失敗エラーを生成する。
func NewURLIssuanceFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeURLIssuanceFailed,
		Message:  "音声ファイルのURL発行に失敗しました。",
		Category: "audio",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewStoreWriteFailedError は音声情報の保存失敗エラーを生成する。
func NewStoreWriteFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreWriteFailed,
		Message:  "音声情報の保存に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}
