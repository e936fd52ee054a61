package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/newsvoice/internal/article"
	"github.com/hitoshi/newsvoice/internal/middleware"
	"github.com/hitoshi/newsvoice/internal/model"
)

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// createTestRouter はテスト用の完全なルーターを構築するヘルパー。
func createTestRouter(t *testing.T, rlCfg middleware.RateLimiterConfig) http.Handler {
	t.Helper()

	rl := middleware.NewRateLimiter(rlCfg)
	t.Cleanup(rl.Stop)

	deps := &RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		HealthChecker:     &mockHealthChecker{},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
		ArticleService: &mockArticleService{
			listFn: func(ctx context.Context, params article.ListParams) (*article.ListResult, error) {
				return &article.ListResult{
					Articles:   []*model.Article{testArticle("a1")},
					Total:      1,
					Page:       1,
					Limit:      10,
					TotalPages: 1,
				}, nil
			},
			getFn: func(ctx context.Context, id string) (*model.Article, error) {
				if id == "a1" {
					return testArticle("a1"), nil
				}
				return nil, model.NewArticleNotFoundError(id)
			},
		},
		AudioService: &mockAudioService{
			readArticleFn: func(ctx context.Context, id string) (string, error) {
				return "https://bucket.example.com/" + id + ".mp3", nil
			},
		},
	}

	return NewRouter(deps)
}

func TestNewRouter_Routes(t *testing.T) {
	router := createTestRouter(t, middleware.DefaultRateLimiterConfig())

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"記事一覧", http.MethodGet, "/articles", "", http.StatusOK},
		{"記事一覧（末尾スラッシュ）", http.MethodGet, "/articles/", "", http.StatusOK},
		{"記事詳細", http.MethodGet, "/articles/a1", "", http.StatusOK},
		{"記事詳細（存在しない）", http.MethodGet, "/articles/zzz", "", http.StatusNotFound},
		{"記事音声", http.MethodPost, "/articles/read-article", `{"id":"a1"}`, http.StatusOK},
		{"ヘルスチェック", http.MethodGet, "/health", "", http.StatusOK},
		{"メトリクス", http.MethodGet, "/metrics", "", http.StatusOK},
		{"プリフライト", http.MethodOptions, "/articles/read-article", "", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Result().StatusCode != tt.wantStatus {
				t.Errorf("%s %s status = %d, want %d (body=%s)", tt.method, tt.path, w.Result().StatusCode, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestNewRouter_ReadArticleReturnsAudioURL(t *testing.T) {
	router := createTestRouter(t, middleware.DefaultRateLimiterConfig())

	req := httptest.NewRequest(http.MethodPost, "/articles/read-article", strings.NewReader(`{"id":"a9"}`))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["audio_url"] != "https://bucket.example.com/a9.mp3" {
		t.Errorf("audio_url = %q", body["audio_url"])
	}
}

func TestNewRouter_SetsCommonHeaders(t *testing.T) {
	router := createTestRouter(t, middleware.DefaultRateLimiterConfig())

	req := httptest.NewRequest(http.MethodGet, "/articles", nil)
	req.Header.Set(middleware.RequestIDHeader, "trace-1")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if got := w.Header().Get(middleware.RequestIDHeader); got != "trace-1" {
		t.Errorf("%s = %q, want %q", middleware.RequestIDHeader, got, "trace-1")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestNewRouter_ReadArticleHasStricterRateLimit(t *testing.T) {
	router := createTestRouter(t, middleware.RateLimiterConfig{
		GeneralRate:      100,
		GeneralBurst:     100,
		ReadArticleRate:  0.01,
		ReadArticleBurst: 1,
		CleanupInterval:  time.Minute,
	})

	send := func(method, path, body string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.RemoteAddr = "203.0.113.9:4000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Result().StatusCode
	}

	if got := send(http.MethodPost, "/articles/read-article", `{"id":"a1"}`); got != http.StatusOK {
		t.Fatalf("1st read-article status = %d, want 200", got)
	}
	if got := send(http.MethodPost, "/articles/read-article", `{"id":"a1"}`); got != http.StatusTooManyRequests {
		t.Errorf("2nd read-article status = %d, want 429", got)
	}
	// 一覧は別の制限
	if got := send(http.MethodGet, "/articles", ""); got != http.StatusOK {
		t.Errorf("list status = %d, want 200", got)
	}
}

func TestNewRouter_RealIPSeparatesClients(t *testing.T) {
	router := createTestRouter(t, middleware.RateLimiterConfig{
		GeneralRate:      100,
		GeneralBurst:     100,
		ReadArticleRate:  0.01,
		ReadArticleBurst: 1,
		CleanupInterval:  time.Minute,
	})

	send := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/articles/read-article", strings.NewReader(`{"id":"a1"}`))
		req.RemoteAddr = "10.0.0.1:4000"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Result().StatusCode
	}

	if got := send("198.51.100.1"); got != http.StatusOK {
		t.Fatalf("client 1 status = %d, want 200", got)
	}
	if got := send("198.51.100.2"); got != http.StatusOK {
		t.Errorf("client 2 status = %d, want 200 (separate limiter)", got)
	}
}

func TestHealthHandler_DatabaseDown(t *testing.T) {
	h := NewHealthHandler(&mockHealthChecker{err: errors.New("dial tcp: connection refused")})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Result().StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusServiceUnavailable)
	}
	if !strings.Contains(w.Body.String(), `"unavailable"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}
