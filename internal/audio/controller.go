package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/newsvoice/internal/model"
)

// Store は音声キャッシュ制御が利用する記事ストアのインターフェース。
type Store interface {
	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Article, error)
	// UpdateAudio は音声キャッシュフィールドを1回の書き込みで部分更新する。
	UpdateAudio(ctx context.Context, id string, update model.AudioUpdate) error
}

// Synthesizer は音声合成バックエンドのインターフェース。
// バックエンドが非同期であっても、音声ファイルのキーが確定するまでブロックする。
type Synthesizer interface {
	Synthesize(ctx context.Context, articleID, text string) (objectKey string, err error)
}

// URLIssuer はオブジェクトストアの署名付きURL発行インターフェース。
type URLIssuer interface {
	IssueAccessURL(ctx context.Context, objectKey string) (url string, expiresIn time.Duration, err error)
}

// Locker は記事単位の排他制御インターフェース。
// プロセスをまたいだ排他が必要な場合に使用する。
type Locker interface {
	// Acquire はkeyのロックを取得し、解放関数を返す。
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Recorder は音声キャッシュ制御のメトリクス記録インターフェース。
type Recorder interface {
	RecordReadArticle(outcome string)
	RecordSynthesis(result string, duration time.Duration)
	RecordURLIssue(result string)
	RecordCoalescedRead()
}

// Clock は現在時刻を返す関数。
type Clock func() time.Time

// ReadArticleの結果種別。
const (
	OutcomeFresh       = "fresh"
	OutcomeRefreshed   = "refreshed"
	OutcomeSynthesized = "synthesized"
	OutcomeError       = "error"
)

// Policy は音声キャッシュ制御の設定値。
type Policy struct {
	URLLifetime        time.Duration // 署名付きURLの有効期間
	URLSafetyMargin    time.Duration // 有効期限前に再発行する余裕
	StabilizationDelay time.Duration // 初回合成後、URLを返すまでの待機時間（合成完了時刻から計測）
	StabilizeOnRefresh bool          // URL再発行時にも待機するかどうか
	SynthesisTimeout   time.Duration
	URLIssueTimeout    time.Duration
}

// Controller は記事音声の合成、URL再利用、URL再発行を判断して実行する。
// 同一記事への状態遷移はsingleflightで1つにまとめ、異なる記事同士は互いにブロックしない。
type Controller struct {
	store       Store
	synthesizer Synthesizer
	issuer      URLIssuer
	policy      Policy
	logger      *slog.Logger

	locker   Locker
	recorder Recorder
	now      Clock
	sleep    func(ctx context.Context, d time.Duration) error

	group singleflight.Group
}

// NewController はControllerの新しいインスタンスを生成する。
// ロック、メトリクス、時計はWith系メソッドで差し替えられる。
func NewController(
	store Store,
	synthesizer Synthesizer,
	issuer URLIssuer,
	policy Policy,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:       store,
		synthesizer: synthesizer,
		issuer:      issuer,
		policy:      policy,
		logger:      logger,
		locker:      nopLocker{},
		recorder:    nopRecorder{},
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// WithLocker はプロセス間排他に使用するLockerを設定する。
func (c *Controller) WithLocker(l Locker) *Controller {
	if l != nil {
		c.locker = l
	}
	return c
}

// WithRecorder はメトリクスの記録先を設定する。
func (c *Controller) WithRecorder(r Recorder) *Controller {
	if r != nil {
		c.recorder = r
	}
	return c
}

// WithClock は現在時刻の取得関数を設定する。
func (c *Controller) WithClock(clock Clock) *Controller {
	if clock != nil {
		c.now = clock
	}
	return c
}

// result はsingleflight内の状態遷移の結果。
type result struct {
	url     string
	outcome string
}

// ReadArticle は記事の音声URLを返す。
//  1. 音声未合成の場合は合成し、URLを発行して保存する
//  2. 発行済みURLが有効な場合はそのまま返す（外部呼び出しなし）
//  3. URLが期限切れ間近の場合は既存の音声ファイルに対してURLのみ再発行する
//
// 記事が存在しない場合はErrNotFoundを返す。
func (c *Controller) ReadArticle(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", newError(ErrNotFound, id, nil)
	}

	a, err := c.store.FindByID(ctx, id)
	if err != nil {
		c.recorder.RecordReadArticle(OutcomeError)
		return "", fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if a == nil {
		c.recorder.RecordReadArticle(OutcomeError)
		return "", newError(ErrNotFound, id, nil)
	}

	// 有効なURLがあればロックを取らずに返す
	if Classify(a, c.now(), c.policy.URLLifetime, c.policy.URLSafetyMargin) == StateFresh {
		c.recorder.RecordReadArticle(OutcomeFresh)
		return *a.MediaReference, nil
	}

	// 状態遷移は記事ごとに1つにまとめる。
	// 呼び出し元のキャンセルで他の待機者の遷移が中断されないよう、キャンセルを切り離す。
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id, func() (any, error) {
		return c.transition(flightCtx, id)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.recorder.RecordCoalescedRead()
		}
		if res.Err != nil {
			c.recorder.RecordReadArticle(OutcomeError)
			return "", res.Err
		}
		r := res.Val.(result)
		c.recorder.RecordReadArticle(r.outcome)
		return r.url, nil
	}
}

// transition はロック取得後に記事を再読み込みし、現在の状態に応じた処理を行う。
func (c *Controller) transition(ctx context.Context, id string) (result, error) {
	release, err := c.locker.Acquire(ctx, "article-audio:"+id)
	if err != nil {
		return result{}, fmt.Errorf("記事のロック取得に失敗しました: %s: %w", id, err)
	}
	defer release()

	// 直前に他の呼び出しが遷移を完了している可能性があるため再読み込みする
	a, err := c.store.FindByID(ctx, id)
	if err != nil {
		return result{}, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if a == nil {
		return result{}, newError(ErrNotFound, id, nil)
	}

	switch Classify(a, c.now(), c.policy.URLLifetime, c.policy.URLSafetyMargin) {
	case StateFresh:
		return result{url: *a.MediaReference, outcome: OutcomeFresh}, nil
	case StateStale:
		return c.refresh(ctx, a)
	default:
		return c.synthesize(ctx, a)
	}
}

// synthesize は音声ファイルを合成し、URLを発行して3フィールドを同時に保存する。
func (c *Controller) synthesize(ctx context.Context, a *model.Article) (result, error) {
	text := PlainText(a.Content)
	if text == "" {
		c.logger.Warn("音声合成対象のテキストが空です",
			slog.String("article_id", a.ID),
		)
		return result{}, newError(ErrSynthesisFailure, a.ID, errors.New("empty article text"))
	}

	// 1. 音声合成（完了までブロック）
	start := c.now()
	synthCtx, cancel := context.WithTimeout(ctx, c.policy.SynthesisTimeout)
	key, err := c.synthesizer.Synthesize(synthCtx, a.ID, text)
	cancel()
	synthesizedAt := c.now()
	if err == nil && key == "" {
		err = errors.New("empty object key")
	}
	if err != nil {
		c.recorder.RecordSynthesis("failure", synthesizedAt.Sub(start))
		c.logger.Error("音声合成に失敗しました",
			slog.String("article_id", a.ID),
			slog.Int("text_length", len(text)),
			slog.String("error", err.Error()),
		)
		return result{}, newError(ErrSynthesisFailure, a.ID, err)
	}
	c.recorder.RecordSynthesis("success", synthesizedAt.Sub(start))

	// 2. 署名付きURL発行
	url, err := c.issueURL(ctx, a.ID, key)
	if err != nil {
		// 音声ファイルのキーだけは保存し、次回はURL発行のみやり直す
		if writeErr := c.store.UpdateAudio(ctx, a.ID, model.AudioUpdate{BucketKey: &key}); writeErr != nil {
			c.logger.Error("音声ファイルキーの保存に失敗しました",
				slog.String("article_id", a.ID),
				slog.String("bucket_key", key),
				slog.String("error", writeErr.Error()),
			)
			// キーを失ったため次回は再合成になる。両方の失敗種別で判定できるようにする
			return result{}, errors.Join(err, newError(ErrStoreWriteFailure, a.ID, writeErr))
		}
		return result{}, err
	}

	// 3. 3フィールドを1回の書き込みで保存
	refreshedAt := c.now()
	if err := c.store.UpdateAudio(ctx, a.ID, model.AudioUpdate{
		BucketKey:      &key,
		MediaReference: &url,
		RefreshedAt:    &refreshedAt,
	}); err != nil {
		c.logger.Error("音声情報の保存に失敗しました",
			slog.String("article_id", a.ID),
			slog.String("bucket_key", key),
			slog.String("error", err.Error()),
		)
		return result{}, newError(ErrStoreWriteFailure, a.ID, err)
	}

	c.logger.Info("記事音声を合成しました",
		slog.String("article_id", a.ID),
		slog.String("bucket_key", key),
		slog.Float64("duration_ms", float64(synthesizedAt.Sub(start).Milliseconds())),
	)

	// 4. 合成直後は配信が安定するまで待機
	c.stabilize(ctx, synthesizedAt)

	return result{url: url, outcome: OutcomeSynthesized}, nil
}

// refresh は既存の音声ファイルに対して署名付きURLのみ再発行する。
// URL発行に失敗した場合は何も書き込まない。
func (c *Controller) refresh(ctx context.Context, a *model.Article) (result, error) {
	url, err := c.issueURL(ctx, a.ID, *a.BucketKey)
	if err != nil {
		return result{}, err
	}
	issuedAt := c.now()

	if err := c.store.UpdateAudio(ctx, a.ID, model.AudioUpdate{
		MediaReference: &url,
		RefreshedAt:    &issuedAt,
	}); err != nil {
		c.logger.Error("音声URLの保存に失敗しました",
			slog.String("article_id", a.ID),
			slog.String("error", err.Error()),
		)
		return result{}, newError(ErrStoreWriteFailure, a.ID, err)
	}

	c.logger.Info("音声URLを再発行しました",
		slog.String("article_id", a.ID),
		slog.String("bucket_key", *a.BucketKey),
	)

	if c.policy.StabilizeOnRefresh {
		c.stabilize(ctx, issuedAt)
	}

	return result{url: url, outcome: OutcomeRefreshed}, nil
}

// issueURL はタイムアウト付きで署名付きURLを発行する。
func (c *Controller) issueURL(ctx context.Context, articleID, key string) (string, error) {
	issueCtx, cancel := context.WithTimeout(ctx, c.policy.URLIssueTimeout)
	defer cancel()

	url, _, err := c.issuer.IssueAccessURL(issueCtx, key)
	if err == nil && url == "" {
		err = errors.New("empty access url")
	}
	if err != nil {
		c.recorder.RecordURLIssue("failure")
		c.logger.Error("音声URLの発行に失敗しました",
			slog.String("article_id", articleID),
			slog.String("bucket_key", key),
			slog.String("error", err.Error()),
		)
		return "", newError(ErrURLIssuanceFailure, articleID, err)
	}
	c.recorder.RecordURLIssue("success")
	return url, nil
}

// stabilize はsinceからStabilizationDelayが経過するまで待機する。
func (c *Controller) stabilize(ctx context.Context, since time.Time) {
	remaining := c.policy.StabilizationDelay - c.now().Sub(since)
	if remaining <= 0 {
		return
	}
	// 状態は保存済みのため、待機の中断はエラーにしない
	_ = c.sleep(ctx, remaining)
}

// sleepContext はdだけ待機する。ctxがキャンセルされた場合は早期に戻る。
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopLocker struct{}

func (nopLocker) Acquire(context.Context, string) (func(), error) { return func() {}, nil }

type nopRecorder struct{}

func (nopRecorder) RecordReadArticle(string) {}
func (nopRecorder) RecordSynthesis(string, time.Duration) {}
func (nopRecorder) RecordURLIssue(string) {}
func (nopRecorder) RecordCoalescedRead() {}
