// internal/storage/s3.go
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"flowlog-indexer/internal/config"
	"flowlog-indexer/internal/metrics"
	"flowlog-indexer/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	zlog "github.com/rs/zerolog/log"
)

// API 는 이 패키지가 쓰는 S3 client 메서드만 모은 것 (*s3.Client 가 만족한다).
// 테스트에서는 메모리 fake 로 바꿔 끼운다.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 는 object fetch(GetObject) 와 dead-letter 업로드(PutObject) 를 담당한다.
//
// SDK retry 는 0 으로 고정하고 재시도 횟수는 S3_APP_RETRIES 하나로만 제어한다.
// 두 레벨 retry 가 겹치면 Lambda timeout 안에서 지연을 예측할 수 없다.
type S3 struct {
	cfg     config.Config
	metrics *metrics.Metrics
	client  API
}

// NewS3 는 AWS SDK Config 를 로드하고 S3 client 를 만든다.
// Lambda 에서는 실행 role 자격증명이 기본 체인으로 잡힌다.
func NewS3(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*S3, error) {
	var opts []func(*awsCfgLib.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsCfgLib.WithRegion(cfg.AWSRegion))
	}

	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})

	return NewS3WithClient(cfg, m, client), nil
}

func NewS3WithClient(cfg config.Config, m *metrics.Metrics, client API) *S3 {
	return &S3{
		cfg:     cfg,
		metrics: m,
		client:  client,
	}
}

// Open
// -----------------------
// object 를 스트림으로 연다. 본문 읽기까지 S3Timeout 이 적용되며,
// 반환된 ReadCloser 를 Close 하면 timeout context 도 정리된다.
//
// NoSuchKey / AccessDenied 처럼 재시도해도 소용없는 에러는 바로 돌려준다.
func (s *S3) Open(ctx context.Context, ref model.ObjectRef) (io.ReadCloser, error) {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= s.cfg.S3AppRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		ctx2, cancel := context.WithTimeout(ctx, s.cfg.S3Timeout)
		out, err := s.client.GetObject(ctx2, &s3.GetObjectInput{
			Bucket: aws.String(ref.Bucket),
			Key:    aws.String(ref.Key),
		})
		if err == nil {
			return &cancelOnClose{ReadCloser: out.Body, cancel: cancel}, nil
		}
		cancel()
		lastErr = err

		if !retryable(err) {
			return nil, err
		}

		zlog.Warn().Err(err).Str("object", ref.String()).Int("attempt", attempt).Msg("s3 get failed")

		if attempt == s.cfg.S3AppRetries {
			break
		}
		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = nextBackoff(backoff)
	}

	return nil, lastErr
}

// UploadBytesWithRetryCtx
// -----------------------
// 메모리에 있는 바이트 배열을 업로드한다.
// body 는 매 재시도마다 reader 를 새로 만들어야 하므로 bytes.NewReader 사용.
func (s *S3) UploadBytesWithRetryCtx(ctx context.Context, bucket, key string, body []byte) error {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= s.cfg.S3AppRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := s.putObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)))
		if err == nil {
			return nil
		}
		lastErr = err
		atomic.AddInt64(&s.metrics.S3PutErrorsTotal, 1)

		if !retryable(err) || attempt == s.cfg.S3AppRetries {
			break
		}
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff)
	}

	return lastErr
}

// putObject 는 1회 호출만 담당한다 (retry 는 caller).
func (s *S3) putObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	ctx2, cancel := context.WithTimeout(ctx, s.cfg.S3Timeout)
	defer cancel()

	_, err := s.client.PutObject(ctx2, &s3.PutObjectInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		Body:            body,
		ContentLength:   aws.Int64(size),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	return err
}

// retryable 은 권한/존재 여부 에러를 제외한 나머지를 재시도 대상으로 본다.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "AccessDenied", "InvalidObjectState", "NotFound":
			return false
		}
	}
	return true
}

// backoff 최대 2초
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
