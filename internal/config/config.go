package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 各コンポーネントには必要な値だけを構築時に渡し、実行時にグローバルな設定を参照しない。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,notEmpty"`

	// AWS
	AWSRegion          string `env:"AWS_REGION,notEmpty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	TTSBucketName      string `env:"AWS_TTS_BUCKET_NAME,notEmpty"`

	// Polly
	PollyVoiceID      string `env:"POLLY_VOICE_ID" envDefault:"Ruth"`
	PollyEngine       string `env:"POLLY_ENGINE" envDefault:"long-form"`
	PollyOutputFormat string `env:"POLLY_OUTPUT_FORMAT" envDefault:"mp3"`
	AudioKeyPrefix    string `env:"AUDIO_KEY_PREFIX" envDefault:"articles"`

	// Audio cache
	URLLifetime        time.Duration `env:"URL_LIFETIME" envDefault:"60m"`
	URLSafetyMargin    time.Duration `env:"URL_SAFETY_MARGIN" envDefault:"5m"`
	StabilizationDelay time.Duration `env:"STABILIZATION_DELAY" envDefault:"3s"`
	StabilizeOnRefresh bool          `env:"STABILIZE_ON_REFRESH" envDefault:"false"`
	// Pollyの長文タスクは数分かかることがある。タイムアウトしたタスクの出力は記録されない
	SynthesisTimeout   time.Duration `env:"SYNTHESIS_TIMEOUT" envDefault:"3m"`
	URLIssueTimeout    time.Duration `env:"URL_ISSUE_TIMEOUT" envDefault:"10s"`

	// Lease
	RedisURL string        `env:"REDIS_URL"`
	LeaseTTL time.Duration `env:"LEASE_TTL" envDefault:"2m"`

	// Prewarm worker
	PrewarmInterval      time.Duration `env:"PREWARM_INTERVAL" envDefault:"10m"`
	PrewarmBatchSize     int           `env:"PREWARM_BATCH_SIZE" envDefault:"20"`
	PrewarmMaxConcurrent int           `env:"PREWARM_MAX_CONCURRENT" envDefault:"4"`

	// 失敗した記事を次に事前合成の対象とするまでの待機時間
	PrewarmFailureBackoff time.Duration `env:"PREWARM_FAILURE_BACKOFF" envDefault:"1h"`

	// Rate Limit
	RateLimitPerMinute            int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	ReadArticleRateLimitPerMinute int `env:"READ_ARTICLE_RATE_LIMIT_PER_MINUTE" envDefault:"20"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envファイルがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error

	if c.URLLifetime <= 0 {
		errs = append(errs, fmt.Errorf("URL_LIFETIME must be positive: %s", c.URLLifetime))
	}
	if c.URLSafetyMargin < 0 {
		errs = append(errs, fmt.Errorf("URL_SAFETY_MARGIN must not be negative: %s", c.URLSafetyMargin))
	}
	if c.URLSafetyMargin >= c.URLLifetime {
		errs = append(errs, fmt.Errorf("URL_SAFETY_MARGIN (%s) must be shorter than URL_LIFETIME (%s)", c.URLSafetyMargin, c.URLLifetime))
	}
	if c.StabilizationDelay < 0 {
		errs = append(errs, fmt.Errorf("STABILIZATION_DELAY must not be negative: %s", c.StabilizationDelay))
	}
	if c.SynthesisTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SYNTHESIS_TIMEOUT must be positive: %s", c.SynthesisTimeout))
	}
	if c.URLIssueTimeout <= 0 {
		errs = append(errs, fmt.Errorf("URL_ISSUE_TIMEOUT must be positive: %s", c.URLIssueTimeout))
	}
	if c.LeaseTTL <= 0 {
		errs = append(errs, fmt.Errorf("LEASE_TTL must be positive: %s", c.LeaseTTL))
	}
	if c.PrewarmInterval <= 0 {
		errs = append(errs, fmt.Errorf("PREWARM_INTERVAL must be positive: %s", c.PrewarmInterval))
	}
	if c.PrewarmBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("PREWARM_BATCH_SIZE must be positive: %d", c.PrewarmBatchSize))
	}
	if c.PrewarmMaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("PREWARM_MAX_CONCURRENT must be positive: %d", c.PrewarmMaxConcurrent))
	}
	if c.PrewarmFailureBackoff <= 0 {
		errs = append(errs, fmt.Errorf("PREWARM_FAILURE_BACKOFF must be positive: %s", c.PrewarmFailureBackoff))
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive: %d", c.RateLimitPerMinute))
	}
	if c.ReadArticleRateLimitPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("READ_ARTICLE_RATE_LIMIT_PER_MINUTE must be positive: %d", c.ReadArticleRateLimitPerMinute))
	}
	if (c.AWSAccessKeyID == "") != (c.AWSSecretAccessKey == "") {
		errs = append(errs, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together"))
	}

	return errors.Join(errs...)
}
