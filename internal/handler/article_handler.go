package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsvoice/internal/article"
	"github.com/hitoshi/newsvoice/internal/model"
)

// maxReadArticleBodyBytes は記事音声要求のリクエストボディの上限。
const maxReadArticleBodyBytes = 4 << 10

// ArticleServiceInterface は記事ハンドラーが必要とするカタログサービスのインターフェース。
type ArticleServiceInterface interface {
	List(ctx context.Context, params article.ListParams) (*article.ListResult, error)
	Get(ctx context.Context, id string) (*model.Article, error)
}

// AudioServiceInterface は記事音声のURLを返すサービスのインターフェース。
type AudioServiceInterface interface {
	// ReadArticle は記事音声の署名付きURLを返す。必要に応じて合成・再発行を行う。
	ReadArticle(ctx context.Context, id string) (string, error)
}

// ArticleHandler は記事カタログと記事音声のHTTPハンドラー。
type ArticleHandler struct {
	service ArticleServiceInterface
	audio   AudioServiceInterface
}

// NewArticleHandler はArticleHandlerを生成する。
func NewArticleHandler(service ArticleServiceInterface, audio AudioServiceInterface) *ArticleHandler {
	return &ArticleHandler{
		service: service,
		audio:   audio,
	}
}

// --- リクエスト/レスポンス型 ---

// articleSummaryResponse は記事一覧のサマリーレスポンス。
// 音声キャッシュのフィールドはhas_audioのみ公開する。
type articleSummaryResponse struct {
	ID            string    `json:"id"`
	DatePublished time.Time `json:"date_published"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	ImageURL      string    `json:"image_url"`
	SourceIcon    string    `json:"source_icon"`
	SourceURL     string    `json:"source_url"`
	Sentiment     string    `json:"sentiment"`
	VisitCount    int       `json:"visit_count"`
	HasAudio      bool      `json:"has_audio"`
}

// articleDetailResponse は記事詳細のレスポンス。
type articleDetailResponse struct {
	articleSummaryResponse
	Content string `json:"content"`
}

// articleListResponse は記事一覧のレスポンス。
type articleListResponse struct {
	Articles   []articleSummaryResponse `json:"articles"`
	Total      int                      `json:"total"`
	Page       int                      `json:"page"`
	Limit      int                      `json:"limit"`
	TotalPages int                      `json:"total_pages"`
}

// readArticleRequest は記事音声要求のリクエストボディ。
type readArticleRequest struct {
	ID string `json:"id"`
}

// readArticleResponse は記事音声要求のレスポンス。
type readArticleResponse struct {
	AudioURL string `json:"audio_url"`
}

func toArticleSummary(a *model.Article) articleSummaryResponse {
	return articleSummaryResponse{
		ID:            a.ID,
		DatePublished: a.DatePublished,
		Title:         a.Title,
		Description:   a.Description,
		ImageURL:      a.ImageURL,
		SourceIcon:    a.SourceIcon,
		SourceURL:     a.SourceURL,
		Sentiment:     a.Sentiment,
		VisitCount:    a.VisitCount,
		HasAudio:      a.HasAudio(),
	}
}

// ListArticles は記事一覧を取得する。
// GET /articles?page=1&limit=10&query=trending
func (h *ArticleHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := parseOptionalInt(q.Get("page"))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("pageは整数で指定してください"))
		return
	}
	limit, err := parseOptionalInt(q.Get("limit"))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("limitは整数で指定してください"))
		return
	}

	result, err := h.service.List(r.Context(), article.ListParams{
		Page:  page,
		Limit: limit,
		Query: q.Get("query"),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := articleListResponse{
		Articles:   make([]articleSummaryResponse, 0, len(result.Articles)),
		Total:      result.Total,
		Page:       result.Page,
		Limit:      result.Limit,
		TotalPages: result.TotalPages,
	}
	for _, a := range result.Articles {
		resp.Articles = append(resp.Articles, toArticleSummary(a))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetArticle は記事詳細を取得する。
// GET /articles/{id}
func (h *ArticleHandler) GetArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, articleDetailResponse{
		articleSummaryResponse: toArticleSummary(a),
		Content:                a.Content,
	})
}

// ReadArticle は記事音声の署名付きURLを返す。
// 音声が未生成の場合は合成が完了するまで待ってから応答する。
// POST /articles/read-article {"id": "..."}
func (h *ArticleHandler) ReadArticle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxReadArticleBodyBytes)

	var req readArticleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reason := "リクエストボディの解析に失敗しました"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			reason = "リクエストボディが大きすぎます"
		} else if errors.Is(err, io.EOF) {
			reason = "リクエストボディが空です"
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(reason))
		return
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("idを指定してください"))
		return
	}

	audioURL, err := h.audio.ReadArticle(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, readArticleResponse{AudioURL: audioURL})
}

// parseOptionalInt は空文字列を0として整数に変換する。
func parseOptionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
