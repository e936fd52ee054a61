// Package prewarm は音声未生成の記事に対するバックグラウンド事前合成を提供する。
// 新着記事の最初の読者が合成完了を待たずに済むよう、定期的に音声を用意しておく。
package prewarm

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/newsvoice/internal/model"
)

// ArticleLister は音声未生成の記事を取得するインターフェース。
// excludeIDsに含まれる記事は結果から除外する。
type ArticleLister interface {
	ListMissingAudio(ctx context.Context, limit int, excludeIDs []string) ([]*model.Article, error)
}

// AudioReader は記事音声のURLを取得するインターフェース。
// 音声が未生成の場合は合成まで行う。
type AudioReader interface {
	ReadArticle(ctx context.Context, id string) (string, error)
}

// Recorder は事前合成の結果を記録するメトリクスのインターフェース。
type Recorder interface {
	RecordPrewarm(result string)
}

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// defaultFailureBackoff は失敗した記事を再び対象にするまでの既定の待機時間。
const defaultFailureBackoff = time.Hour

// Scheduler は事前合成のスケジューリングと並列制御を行う。
// ティッカーで音声未生成の記事を取得し、
// semaphoreパターンで最大並列数を制御しながら合成を実行する。
type Scheduler struct {
	lister         ArticleLister
	reader         AudioReader
	recorder       Recorder
	logger         *slog.Logger
	batchSize      int
	maxConcurrency int

	// 失敗した記事IDと再試行可能になる時刻
	mu             sync.Mutex
	retryAfter     map[string]time.Time
	failureBackoff time.Duration
	now            func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// batchSizeが0以下の場合は20、maxConcurrencyが0以下の場合は4を使用する。
// recorderはnilでもよい。
func NewScheduler(
	lister ArticleLister,
	reader AudioReader,
	recorder Recorder,
	logger *slog.Logger,
	batchSize int,
	maxConcurrency int,
) *Scheduler {
	if batchSize <= 0 {
		batchSize = 20
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Scheduler{
		lister:         lister,
		reader:         reader,
		recorder:       recorder,
		logger:         logger,
		batchSize:      batchSize,
		maxConcurrency: maxConcurrency,
		retryAfter:     make(map[string]time.Time),
		failureBackoff: defaultFailureBackoff,
		now:            time.Now,
	}
}

// WithFailureBackoff は失敗した記事を次に対象とするまでの待機時間を設定する。
// 0以下の場合は既定値のままとする。
func (s *Scheduler) WithFailureBackoff(d time.Duration) *Scheduler {
	if d > 0 {
		s.failureBackoff = d
	}
	return s
}

// WithClock はテスト用に現在時刻の取得関数を差し替える。
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("事前合成スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("batch_size", s.batchSize),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("事前合成サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("事前合成スケジューラを停止しました")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("事前合成サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は音声未生成の記事を1回取得し、並列で合成を実行する。
// 個々の記事の失敗はログとメトリクスに記録するのみで、エラーとしては返さない。
// 戻り値は合成に成功した記事数。
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()

	articles, err := s.lister.ListMissingAudio(ctx, s.batchSize, s.backedOffIDs())
	if err != nil {
		return 0, err
	}

	if len(articles) == 0 {
		s.logger.Info("事前合成対象の記事はありません")
		return 0, nil
	}

	s.logger.Info("事前合成サイクルを開始します",
		slog.Int("article_count", len(articles)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

dispatch:
	for _, article := range articles {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}: // semaphore取得（ブロック）
		}

		wg.Add(1)
		go func(a *model.Article) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if _, err := s.reader.ReadArticle(ctx, a.ID); err != nil {
				// シャットダウンによる中断は記事の失敗として扱わない
				if ctx.Err() == nil {
					s.markFailed(a.ID)
				}
				s.record(resultFailure)
				s.logger.Error("記事音声の事前合成に失敗しました",
					slog.String("article_id", a.ID),
					slog.String("error", err.Error()),
				)
				return
			}
			s.clearFailed(a.ID)
			s.record(resultSuccess)
			mu.Lock()
			succeeded++
			mu.Unlock()
		}(article)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("事前合成サイクルが完了しました",
		slog.Int("article_count", len(articles)),
		slog.Int("succeeded", succeeded),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return succeeded, ctx.Err()
}

// backedOffIDs は再試行待ちの記事IDを返し、待機が明けたものは取り除く。
func (s *Scheduler) backedOffIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ids := make([]string, 0, len(s.retryAfter))
	for id, until := range s.retryAfter {
		if !now.Before(until) {
			delete(s.retryAfter, id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) markFailed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryAfter[id] = s.now().Add(s.failureBackoff)
}

func (s *Scheduler) clearFailed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.retryAfter, id)
}

func (s *Scheduler) record(result string) {
	if s.recorder != nil {
		s.recorder.RecordPrewarm(result)
	}
}
