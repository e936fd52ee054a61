package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/newsvoice/internal/model"
)

// articleColumns はarticlesテーブルからの読み取り対象カラム。
// scanArticle のScan順序と一致させる。
const articleColumns = `id, date_published, title, description, content,
	image_url, source_icon, source_url, sentiment, visit_count,
	media_reference, bucket_key, updated_at`

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanArticle は1行分の記事データを読み取る。
func scanArticle(s rowScanner) (*model.Article, error) {
	a := &model.Article{}
	var imageURL, sourceIcon, sourceURL, sentiment sql.NullString
	var mediaReference, bucketKey sql.NullString
	var updatedAt sql.NullTime

	if err := s.Scan(
		&a.ID, &a.DatePublished, &a.Title, &a.Description, &a.Content,
		&imageURL, &sourceIcon, &sourceURL, &sentiment, &a.VisitCount,
		&mediaReference, &bucketKey, &updatedAt,
	); err != nil {
		return nil, err
	}

	a.ImageURL = nullStringValue(imageURL)
	a.SourceIcon = nullStringValue(sourceIcon)
	a.SourceURL = nullStringValue(sourceURL)
	a.Sentiment = nullStringValue(sentiment)
	a.MediaReference = nullStringPtr(mediaReference)
	a.BucketKey = nullStringPtr(bucketKey)
	if updatedAt.Valid {
		a.UpdatedAt = &updatedAt.Time
	}

	return a, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindByID(ctx context.Context, id string) (*model.Article, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = $1`,
		id,
	)

	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return a, nil
}

// UpdateAudio は音声キャッシュフィールドを部分更新する。
// 1つのUPDATE文で実行するため、読み手が中途半端な状態を観測することはない。
// bucket_keyは既に値がある場合は保持し、media_referenceとupdated_atは必ず同時に書き込む。
func (r *PostgresArticleRepo) UpdateAudio(ctx context.Context, id string, update model.AudioUpdate) error {
	if err := validateAudioUpdate(update); err != nil {
		return err
	}

	var refreshedAt sql.NullTime
	if update.RefreshedAt != nil {
		refreshedAt = sql.NullTime{Time: *update.RefreshedAt, Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE articles
		 SET bucket_key      = COALESCE(bucket_key, $2),
		     media_reference = COALESCE($3, media_reference),
		     updated_at      = COALESCE($4, updated_at)
		 WHERE id = $1`,
		id, nullStringFromPtr(update.BucketKey), nullStringFromPtr(update.MediaReference), refreshedAt,
	)
	if err != nil {
		return fmt.Errorf("音声情報の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("記事が見つかりません: %s: %w", id, ErrNotFound)
	}
	return nil
}

// validateAudioUpdate は部分更新の内容を検証する。
func validateAudioUpdate(update model.AudioUpdate) error {
	if update.IsEmpty() {
		return fmt.Errorf("%w: 更新対象のフィールドがありません", ErrInvalidAudioUpdate)
	}
	if (update.MediaReference == nil) != (update.RefreshedAt == nil) {
		return fmt.Errorf("%w: media_referenceとupdated_atは同時に指定する必要があります", ErrInvalidAudioUpdate)
	}
	if update.BucketKey != nil && *update.BucketKey == "" {
		return fmt.Errorf("%w: bucket_keyが空です", ErrInvalidAudioUpdate)
	}
	return nil
}

// List は条件に一致する記事一覧と総件数を返す。
// Searchが空でない場合はsearch_vectorによる全文検索で絞り込む（関連度による並び替えは行わない）。
func (r *PostgresArticleRepo) List(ctx context.Context, query model.ArticleQuery) ([]*model.Article, int, error) {
	where, args := buildArticleFilter(query.Search)

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM articles`+where,
		args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("記事件数の取得に失敗しました: %w", err)
	}

	listArgs := append(args, query.Limit, query.Offset)
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM articles%s ORDER BY %s LIMIT $%d OFFSET $%d`,
			articleColumns, where, articleOrderBy(query.Order), len(args)+1, len(args)+2),
		listArgs...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	articles, err := collectArticles(rows)
	if err != nil {
		return nil, 0, err
	}
	return articles, total, nil
}

// buildArticleFilter は全文検索条件のWHERE句とパラメータを組み立てる。
func buildArticleFilter(search string) (string, []any) {
	if search == "" {
		return "", nil
	}
	return ` WHERE search_vector @@ plainto_tsquery('english', $1)`, []any{search}
}

// articleOrderBy は並び順に対応するORDER BY句を返す。
func articleOrderBy(order model.ArticleListOrder) string {
	switch order {
	case model.ArticleOrderTrending:
		return "visit_count DESC, date_published DESC, id"
	default:
		return "date_published DESC, id"
	}
}

// ListMissingAudio は音声未合成の記事を公開日時の新しい順に取得する。
// 本文が空の記事は合成できないため除外する。excludeIDsは直近に失敗した記事の除外に使う。
func (r *PostgresArticleRepo) ListMissingAudio(ctx context.Context, limit int, excludeIDs []string) ([]*model.Article, error) {
	// nilのpq.ArrayはNULLになり全行が除外されるため、空配列を渡す
	if excludeIDs == nil {
		excludeIDs = []string{}
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+articleColumns+`
		 FROM articles
		 WHERE bucket_key IS NULL
		   AND content <> ''
		   AND NOT (id = ANY($2::text[]))
		 ORDER BY date_published DESC
		 LIMIT $1`,
		limit, pq.Array(excludeIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("音声未合成記事の一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectArticles(rows)
}

// collectArticles は結果セットの全行を記事として読み取る。
func collectArticles(rows *sql.Rows) ([]*model.Article, error) {
	articles := []*model.Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("記事の行読み取りに失敗しました: %w", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の読み取り中にエラーが発生しました: %w", err)
	}
	return articles, nil
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullStringPtr はsql.NullStringを*stringに変換する。NULLの場合はnilを返す。
func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// nullStringFromPtr は*stringをsql.NullStringに変換する。
func nullStringFromPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
