// internal/storage/deadletter.go
package storage

import (
	"context"
	"fmt"
	"sync/atomic"

	"flowlog-indexer/internal/config"
	"flowlog-indexer/internal/metrics"
	"flowlog-indexer/internal/model"

	zlog "github.com/rs/zerolog/log"
)

// Uploader 는 dead-letter 가 필요로 하는 업로드 기능 (*S3 가 만족한다).
type Uploader interface {
	UploadBytesWithRetryCtx(ctx context.Context, bucket, key string, body []byte) error
}

// DeadLetter
// ------------------------------------------------------------
// 인덱싱되지 못한 항목 (skip 된 라인, 거절된 레코드, bulk 에서 실패한 문서) 을
// gzip+JSONL 로 묶어 DEADLETTER_BUCKET/<prefix>/dt=.../hr=.../ 아래에 남긴다.
//
// run 을 실패시키지 않는 경로에서만 쓰인다. 업로드 실패는 에러로 돌려주지만
// pipeline 은 이를 로그만 남기고 run 결과는 바꾸지 않는다
// (object 자체는 재처리 가능하고, 재처리해도 같은 항목이 다시 나온다).
type DeadLetter struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	uploader Uploader
}

func NewDeadLetter(cfg config.Config, m *metrics.Metrics, uploader Uploader) *DeadLetter {
	return &DeadLetter{
		cfg:      cfg,
		metrics:  m,
		uploader: uploader,
	}
}

// Save 는 한 object 에서 나온 항목들을 object 하나로 업로드한다.
// 항목이 없으면 아무것도 하지 않는다.
func (d *DeadLetter) Save(ctx context.Context, ref model.ObjectRef, entries []model.DeadLetterEntry) error {
	if len(entries) == 0 {
		return nil
	}

	data, err := EncodeJSONLGZ(entries)
	if err != nil {
		return fmt.Errorf("encode dead-letter for %s: %w", ref, err)
	}

	key := BuildS3Key(d.cfg.DeadLetterPrefix, NewFilename(d.cfg.InstanceID))
	if err := d.uploader.UploadBytesWithRetryCtx(ctx, d.cfg.DeadLetterBucket, key, data); err != nil {
		return fmt.Errorf("upload dead-letter s3://%s/%s: %w", d.cfg.DeadLetterBucket, key, err)
	}

	atomic.AddInt64(&d.metrics.DeadLetterEntriesTotal, int64(len(entries)))

	zlog.Info().
		Str("object", ref.String()).
		Str("deadletter", key).
		Int("entries", len(entries)).
		Msg("dead-letter saved")

	return nil
}
