// Package article は記事カタログの取得機能を提供する。
package article

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/newsvoice/internal/model"
	"github.com/hitoshi/newsvoice/internal/repository"
)

const (
	// DefaultLimit は1ページあたりのデフォルト件数。
	DefaultLimit = 10
	// MaxLimit は1ページあたりの最大件数。
	MaxLimit = 100
)

// ArticleReader は記事カタログの読み取りに必要なリポジトリ操作。
type ArticleReader interface {
	FindByID(ctx context.Context, id string) (*model.Article, error)
	List(ctx context.Context, query model.ArticleQuery) ([]*model.Article, int, error)
}

var _ ArticleReader = (repository.ArticleRepository)(nil)

// Service は記事一覧・詳細取得のサービス。
type Service struct {
	repo ArticleReader
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo ArticleReader) *Service {
	return &Service{repo: repo}
}

// ListParams は記事一覧の取得条件。
type ListParams struct {
	Page  int
	Limit int
	Query string
}

// ListResult はListの戻り値。
type ListResult struct {
	Articles   []*model.Article
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

// List は記事一覧をページネーション付きで返す。
// queryの値によって並び順と絞り込みを切り替える。
//   - 空文字列または"null": 公開日時の降順
//   - "latest": 公開日時の降順
//   - "trending": 閲覧数の降順
//   - それ以外: 全文検索で絞り込み、公開日時の降順
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	page, limit := NormalizePage(params.Page, params.Limit)
	query := ParseQuery(params.Query)
	query.Limit = limit
	query.Offset = (page - 1) * limit

	articles, total, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}

	return &ListResult{
		Articles:   articles,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: TotalPages(total, limit),
	}, nil
}

// Get は指定IDの記事を返す。見つからない場合はARTICLE_NOT_FOUNDエラーを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Article, error) {
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewArticleNotFoundError(id)
	}
	return a, nil
}

// NormalizePage はページ番号と件数を有効範囲に補正する。
// pageは1以上、limitは1からMaxLimitの範囲。limitが0以下の場合はDefaultLimitを使用する。
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

// ParseQuery はqueryパラメータを並び順と検索語に変換する。
func ParseQuery(q string) model.ArticleQuery {
	q = strings.TrimSpace(q)
	switch strings.ToLower(q) {
	case "", "null", string(model.ArticleOrderLatest):
		return model.ArticleQuery{Order: model.ArticleOrderLatest}
	case string(model.ArticleOrderTrending):
		return model.ArticleQuery{Order: model.ArticleOrderTrending}
	default:
		return model.ArticleQuery{Order: model.ArticleOrderLatest, Search: q}
	}
}

// TotalPages は総件数とページあたり件数から総ページ数を返す。
func TotalPages(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
