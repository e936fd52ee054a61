package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/newsvoice/internal/audio"
	"github.com/hitoshi/newsvoice/internal/middleware"
	"github.com/hitoshi/newsvoice/internal/model"
)

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	statusCode := mapAPIErrorToHTTPStatus(apiErr)

	if statusCode >= http.StatusInternalServerError {
		level := slog.LevelError
		// クライアント切断は異常ではない
		if errors.Is(err, context.Canceled) {
			level = slog.LevelInfo
		}
		slog.Log(r.Context(), level, "request failed",
			slog.String("code", apiErr.Code),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
	}

	writeAPIErrorResponse(w, statusCode, apiErr)
}

// toAPIError はエラーをクライアント向けのAPIErrorに変換する。
// 音声キャッシュ制御のエラー種別はそれぞれ固有のコードに対応させる。
func toAPIError(err error) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var audioErr *audio.Error
	articleID := ""
	if errors.As(err, &audioErr) {
		articleID = audioErr.ArticleID
	}

	switch {
	case errors.Is(err, audio.ErrNotFound):
		return model.NewArticleNotFoundError(articleID)
	case errors.Is(err, audio.ErrSynthesisFailure):
		return model.NewSynthesisFailedError()
	case errors.Is(err, audio.ErrStoreWriteFailure):
		// URL発行失敗と同時に起きた場合も、保存失敗を優先して報告する
		return model.NewStoreWriteFailedError()
	case errors.Is(err, audio.ErrURLIssuanceFailure):
		return model.NewURLIssuanceFailedError()
	default:
		// APIError以外のエラーは内部サーバーエラーとして扱う
		return model.NewInternalError()
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeArticleNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeSynthesisFailed, model.ErrCodeURLIssuanceFailed:
		return http.StatusBadGateway
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case model.ErrCodeStoreWriteFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
