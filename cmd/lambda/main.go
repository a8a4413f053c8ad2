package main

import (
	"context"

	"flowlog-indexer/internal/app"
	"flowlog-indexer/internal/config"
	"flowlog-indexer/internal/logger"
	"flowlog-indexer/internal/metrics"
	"flowlog-indexer/internal/trigger"

	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/lambda"
	zlog "github.com/rs/zerolog/log"
)

func main() {
	// ====================================================================
	// Config (fail-fast)
	// ====================================================================
	//
	// 필수 값이 빠졌거나 형식이 틀리면 첫 이벤트를 받기 전에 종료한다.
	// Lambda 는 init 실패를 그대로 보고하므로 어떤 변수가 문제인지 로그에 남는다.
	// ====================================================================
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(cfg)
	m := metrics.New()

	// ====================================================================
	// Pipeline 조립
	// ====================================================================
	//
	// cold start 에서 한 번만 만들고 warm invocation 들이 재사용한다.
	// S3/OpenSearch 클라이언트의 커넥션 풀도 같이 재사용된다.
	// ====================================================================
	p, err := app.NewPipeline(context.Background(), cfg, m)
	if err != nil {
		zlog.Fatal().Err(err).Msg("pipeline init failed")
	}

	h := trigger.NewHandler(p, cfg.RunConcurrency)
	lambda.Start(h.Handle)
}
