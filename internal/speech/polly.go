// Package speech はAmazon Pollyによる記事音声の合成を提供する。
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
)

const (
	// maxTextLength は1回の合成タスクで受け付ける最大文字数。
	maxTextLength = 100000
	// defaultPollInterval はタスク状態の確認間隔。
	defaultPollInterval = time.Second
)

// PollyAPI はPollySynthesizerが使用するPollyクライアントのメソッド。
type PollyAPI interface {
	StartSpeechSynthesisTask(ctx context.Context, params *polly.StartSpeechSynthesisTaskInput, optFns ...func(*polly.Options)) (*polly.StartSpeechSynthesisTaskOutput, error)
	GetSpeechSynthesisTask(ctx context.Context, params *polly.GetSpeechSynthesisTaskInput, optFns ...func(*polly.Options)) (*polly.GetSpeechSynthesisTaskOutput, error)
}

// Config はPollySynthesizerの設定。
type Config struct {
	Bucket       string // 出力先のS3バケット
	KeyPrefix    string // 出力キーの接頭辞（例: "articles"）
	VoiceID      string
	Engine       string
	OutputFormat string
	PollInterval time.Duration // 0の場合はdefaultPollIntervalを使用
}

// PollySynthesizer はPollyの非同期合成タスクを開始し、完了まで待機する。
// 出力は s3://<bucket>/<prefix>/<articleID>.<taskID>.<ext> に保存される。
type PollySynthesizer struct {
	client PollyAPI
	cfg    Config
	logger *slog.Logger
}

// NewPollySynthesizer はPollySynthesizerの新しいインスタンスを生成する。
func NewPollySynthesizer(client PollyAPI, cfg Config, logger *slog.Logger) *PollySynthesizer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &PollySynthesizer{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Synthesize はtextを音声化し、出力されたオブジェクトのキーを返す。
// タスクが完了するか、失敗するか、ctxが終了するまでブロックする。
func (s *PollySynthesizer) Synthesize(ctx context.Context, articleID, text string) (string, error) {
	if text == "" {
		return "", errors.New("合成対象のテキストが空です")
	}

	prefix := s.outputPrefix(articleID)
	out, err := s.client.StartSpeechSynthesisTask(ctx, &polly.StartSpeechSynthesisTaskInput{
		Engine:             types.Engine(s.cfg.Engine),
		OutputFormat:       types.OutputFormat(s.cfg.OutputFormat),
		OutputS3BucketName: aws.String(s.cfg.Bucket),
		OutputS3KeyPrefix:  aws.String(prefix),
		Text:               aws.String(truncate(text, maxTextLength)),
		TextType:           types.TextTypeText,
		VoiceId:            types.VoiceId(s.cfg.VoiceID),
	})
	if err != nil {
		return "", fmt.Errorf("音声合成タスクの開始に失敗しました: %w", err)
	}
	if out.SynthesisTask == nil || aws.ToString(out.SynthesisTask.TaskId) == "" {
		return "", errors.New("音声合成タスクIDが返されませんでした")
	}

	taskID := aws.ToString(out.SynthesisTask.TaskId)
	s.logger.Info("音声合成タスクを開始しました",
		slog.String("article_id", articleID),
		slog.String("task_id", taskID),
		slog.Int("text_length", len(text)),
	)

	if err := s.waitForTask(ctx, out.SynthesisTask); err != nil {
		return "", err
	}

	return prefix + taskID + "." + fileExtension(s.cfg.OutputFormat), nil
}

// waitForTask はタスクが完了状態になるまでポーリングする。
func (s *PollySynthesizer) waitForTask(ctx context.Context, task *types.SynthesisTask) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		switch task.TaskStatus {
		case types.TaskStatusCompleted:
			return nil
		case types.TaskStatusFailed:
			return fmt.Errorf("音声合成タスクが失敗しました: %s: %s",
				aws.ToString(task.TaskId), aws.ToString(task.TaskStatusReason))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("音声合成タスクの完了待機が中断されました: %s: %w", aws.ToString(task.TaskId), ctx.Err())
		case <-ticker.C:
		}

		out, err := s.client.GetSpeechSynthesisTask(ctx, &polly.GetSpeechSynthesisTaskInput{
			TaskId: task.TaskId,
		})
		if err != nil {
			return fmt.Errorf("音声合成タスクの状態取得に失敗しました: %w", err)
		}
		if out.SynthesisTask == nil {
			return fmt.Errorf("音声合成タスクが見つかりません: %s", aws.ToString(task.TaskId))
		}
		task = out.SynthesisTask
	}
}

// outputPrefix は出力キーの接頭辞を返す。Pollyはこの後ろに "<taskID>.<ext>" を付加する。
func (s *PollySynthesizer) outputPrefix(articleID string) string {
	if s.cfg.KeyPrefix == "" {
		return articleID + "."
	}
	return s.cfg.KeyPrefix + "/" + articleID + "."
}

// fileExtension は出力形式に対応するPollyの拡張子を返す。
func fileExtension(format string) string {
	switch types.OutputFormat(format) {
	case types.OutputFormatOggVorbis:
		return "ogg"
	case types.OutputFormatPcm:
		return "pcm"
	case types.OutputFormatJson:
		return "marks"
	default:
		return "mp3"
	}
}

// truncate はsをmaxRunes文字以内に切り詰める。
func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}
