// Package awsconfig はAWS SDKの共通設定を読み込む。
package awsconfig

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Options はAWS設定の読み込みオプション。
// AccessKeyIDとSecretAccessKeyが空の場合はデフォルトの認証情報チェーンを使用する。
type Options struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Load はリージョンと認証情報を設定したaws.Configを返す。
func Load(ctx context.Context, opts Options) (aws.Config, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("AWS設定の読み込みに失敗しました: %w", err)
	}
	return cfg, nil
}
