// internal/app/app.go
package app

import (
	"context"
	"fmt"

	"flowlog-indexer/internal/config"
	"flowlog-indexer/internal/index"
	"flowlog-indexer/internal/metrics"
	"flowlog-indexer/internal/pipeline"
	"flowlog-indexer/internal/storage"

	zlog "github.com/rs/zerolog/log"
)

// NewPipeline 은 두 실행 모드(cmd/lambda, cmd/server)가 공유하는 조립 코드다.
//
//   - S3: GetObject (fetch) + PutObject (dead-letter)
//   - OpenSearch: _bulk (basic auth, HTTPS)
//   - DeadLetter: DEADLETTER_BUCKET 이 있을 때만
//
// 설정은 이미 Load 로 검증된 값이라 여기서 실패하는 건 AWS 자격증명 로딩 정도다.
func NewPipeline(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*pipeline.Pipeline, error) {
	s3, err := storage.NewS3(ctx, cfg, m)
	if err != nil {
		return nil, fmt.Errorf("s3: %w", err)
	}

	idx, err := index.New(cfg.Index, m)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}

	// nil 포인터를 인터페이스에 담으면 nil 이 아니게 되므로 분기해서 넘긴다
	var dl pipeline.DeadLetterSink
	if cfg.DeadLetterEnabled() {
		dl = storage.NewDeadLetter(cfg, m, s3)
	}

	p, err := pipeline.New(cfg, m, s3, idx, dl)
	if err != nil {
		return nil, err
	}

	zlog.Info().
		Str("endpoint", cfg.Index.Endpoint).
		Str("index", cfg.Index.Name).
		Int("bulk_size", cfg.Index.BulkSize).
		Bool("deadletter", dl != nil).
		Str("timezone", cfg.DateTimezone).
		Msg("pipeline ready")

	return p, nil
}
