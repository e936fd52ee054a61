// Package objectstore はS3上の音声ファイルへの署名付きURL発行を提供する。
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Presigner はS3のGetObject署名付きリクエストを生成するインターフェース。
// *s3.PresignClient が実装する。
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3URLIssuer は音声ファイルの署名付きGET URLを発行する。
type S3URLIssuer struct {
	presigner Presigner
	bucket    string
	lifetime  time.Duration
}

// NewS3URLIssuer はS3URLIssuerの新しいインスタンスを生成する。
// lifetimeは発行するURLの有効期間。
func NewS3URLIssuer(presigner Presigner, bucket string, lifetime time.Duration) *S3URLIssuer {
	return &S3URLIssuer{
		presigner: presigner,
		bucket:    bucket,
		lifetime:  lifetime,
	}
}

// NewS3Presigner はS3クライアントから署名付きURL生成クライアントを作成する。
func NewS3Presigner(cfg aws.Config) *s3.PresignClient {
	return s3.NewPresignClient(s3.NewFromConfig(cfg))
}

// IssueAccessURL はobjectKeyに対する署名付きURLとその有効期間を返す。
func (i *S3URLIssuer) IssueAccessURL(ctx context.Context, objectKey string) (string, time.Duration, error) {
	if objectKey == "" {
		return "", 0, errors.New("オブジェクトキーが空です")
	}

	req, err := i.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(i.bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(i.lifetime))
	if err != nil {
		return "", 0, fmt.Errorf("署名付きURLの発行に失敗しました: %s: %w", objectKey, err)
	}
	if req == nil || req.URL == "" {
		return "", 0, fmt.Errorf("署名付きURLが空です: %s", objectKey)
	}

	return req.URL, i.lifetime, nil
}
