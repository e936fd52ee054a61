// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/newsvoice/internal/model"
)

// ErrNotFound は更新対象の行が存在しない場合に返す。
var ErrNotFound = errors.New("record not found")

// ErrInvalidAudioUpdate は音声キャッシュの部分更新内容が不正な場合に返す。
var ErrInvalidAudioUpdate = errors.New("invalid audio update")

// ArticleRepository は記事データの永続化インターフェース。
type ArticleRepository interface {
	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Article, error)

	// UpdateAudio は音声キャッシュフィールドを1つのUPDATE文で部分更新する。
	// nilのフィールドは変更しない。bucket_keyは一度設定されたら上書きしない。
	// 該当する記事が存在しない場合はErrNotFoundを返す。
	UpdateAudio(ctx context.Context, id string, update model.AudioUpdate) error

	// List は条件に一致する記事一覧と総件数を返す。
	List(ctx context.Context, query model.ArticleQuery) ([]*model.Article, int, error)

	// ListMissingAudio は音声未合成の記事を公開日時の新しい順に最大limit件取得する。
	// 本文が空の記事とexcludeIDsに含まれる記事は対象外とする。
	ListMissingAudio(ctx context.Context, limit int, excludeIDs []string) ([]*model.Article, error)
}
