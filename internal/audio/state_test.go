package audio

import (
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/newsvoice/internal/model"
)

func TestIsStale(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	lifetime := 60 * time.Minute
	margin := 5 * time.Minute

	tests := []struct {
		name string
		last *time.Time
		want bool
	}{
		{name: "未発行", last: nil, want: true},
		{name: "発行直後", last: timePtr(now), want: false},
		{name: "54分経過", last: timePtr(now.Add(-54 * time.Minute)), want: false},
		{name: "55分経過", last: timePtr(now.Add(-55 * time.Minute)), want: true},
		{name: "2時間経過", last: timePtr(now.Add(-2 * time.Hour)), want: true},
		{name: "未来の日時", last: timePtr(now.Add(time.Minute)), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStale(tt.last, now, lifetime, margin); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsStale_ZeroMargin(t *testing.T) {
	now := time.Now()
	last := now.Add(-59 * time.Minute)
	if IsStale(&last, now, time.Hour, 0) {
		t.Error("59 minutes should be fresh with zero margin")
	}
}

func TestClassify(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	key := "articles/a1.t.mp3"
	url := "https://example.com/a1"

	tests := []struct {
		name    string
		article *model.Article
		want    State
	}{
		{
			name:    "音声なし",
			article: &model.Article{ID: "a1"},
			want:    StateNoAudio,
		},
		{
			name:    "キーのみ保存済み",
			article: &model.Article{ID: "a1", BucketKey: &key},
			want:    StateStale,
		},
		{
			name:    "有効なURL",
			article: &model.Article{ID: "a1", BucketKey: &key, MediaReference: &url, UpdatedAt: timePtr(now.Add(-time.Minute))},
			want:    StateFresh,
		},
		{
			name:    "期限切れ間近のURL",
			article: &model.Article{ID: "a1", BucketKey: &key, MediaReference: &url, UpdatedAt: timePtr(now.Add(-56 * time.Minute))},
			want:    StateStale,
		},
		{
			name:    "URLのみで日時なし",
			article: &model.Article{ID: "a1", BucketKey: &key, MediaReference: &url},
			want:    StateStale,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.article, now, time.Hour, 5*time.Minute); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	if StateNoAudio.String() != "no_audio" || StateFresh.String() != "fresh" || StateStale.String() != "stale" {
		t.Error("unexpected state names")
	}
	if State(99).String() != "unknown" {
		t.Error("unknown state should render as unknown")
	}
}

func TestError_UnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("throttled")
	err := error(newError(ErrSynthesisFailure, "a1", cause))

	if !errors.Is(err, ErrSynthesisFailure) {
		t.Error("expected errors.Is to match kind")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to match cause")
	}
	if errors.Is(err, ErrURLIssuanceFailure) {
		t.Error("should not match another kind")
	}
	if got := err.Error(); got != "speech synthesis failed: article a1: throttled" {
		t.Errorf("Error() = %q", got)
	}

	if got := newError(ErrNotFound, "x", nil).Error(); got != "article not found: article x" {
		t.Errorf("Error() = %q", got)
	}
}
