// Package model はドメインモデルを定義する。
package model

import "time"

// Article はニュース記事を表す。
// MediaReference、BucketKey、UpdatedAtの3フィールドは音声キャッシュの状態を保持する。
type Article struct {
	ID            string
	DatePublished time.Time
	Title         string
	Description   string
	Content       string // 音声合成の入力テキスト（HTMLを含む場合がある）
	ImageURL      string
	SourceIcon    string
	SourceURL     string
	Sentiment     string
	VisitCount    int

	// MediaReference は最後に発行した音声ファイルの署名付きURL。未発行の場合はnil。
	MediaReference *string
	// BucketKey はオブジェクトストア上の音声ファイルのキー。合成完了前はnil。
	// 一度設定されたら上書きしない。
	BucketKey *string
	// UpdatedAt はMediaReferenceを最後に発行した日時。MediaReferenceと必ず同時に書き込む。
	UpdatedAt *time.Time
}

// HasAudio は音声ファイルが合成済みかどうかを返す。
func (a *Article) HasAudio() bool {
	return a.BucketKey != nil && *a.BucketKey != ""
}

// AudioUpdate は音声キャッシュフィールドの部分更新を表す。
// nilのフィールドは変更しない。
// MediaReferenceとRefreshedAtは両方指定するか、両方省略する必要がある。
type AudioUpdate struct {
	BucketKey      *string
	MediaReference *string
	RefreshedAt    *time.Time
}

// IsEmpty は更新対象のフィールドが1つもないかどうかを返す。
func (u AudioUpdate) IsEmpty() bool {
	return u.BucketKey == nil && u.MediaReference == nil && u.RefreshedAt == nil
}

// ArticleListOrder は記事一覧の並び順を表す。
type ArticleListOrder string

const (
	// ArticleOrderLatest は公開日時の降順。
	ArticleOrderLatest ArticleListOrder = "latest"
	// ArticleOrderTrending は保存済み閲覧数の降順。
	ArticleOrderTrending ArticleListOrder = "trending"
)

// ArticleQuery は記事一覧取得の条件を表す。
type ArticleQuery struct {
	Order  ArticleListOrder
	Search string // 空文字列の場合は全文検索の絞り込みを行わない
	Offset int
	Limit  int
}
