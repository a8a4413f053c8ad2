package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"flowlog-indexer/internal/app"
	"flowlog-indexer/internal/config"
	"flowlog-indexer/internal/logger"
	"flowlog-indexer/internal/metrics"
	"flowlog-indexer/internal/server"
	"flowlog-indexer/internal/worker"

	_ "time/tzdata"

	zlog "github.com/rs/zerolog/log"
)

func main() {

	// ====================================================================
	// CPU 설정 (Fargate vCPU 대응)
	// ====================================================================
	//
	// Go 런타임은 호스트의 논리 CPU 수만큼 GOMAXPROCS 를 잡는다.
	// Fargate 0.25/0.5 vCPU task 에서는 실제 할당량보다 커서 스케줄링 낭비가 생긴다.
	//
	// run 은 gzip 해제 + JSON 인코딩이 대부분이라 CPU 바운드다.
	// GOMAXPROCS 환경변수로 task 마다 조정한다. 기본 1.
	// ====================================================================
	if v := os.Getenv("GOMAXPROCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			runtime.GOMAXPROCS(n)
		}
	} else {
		runtime.GOMAXPROCS(1)
	}

	// ====================================================================
	// Config & Metrics
	// ====================================================================
	//
	// 필수 값 누락 / 형식 오류는 리스너를 열기 전에 종료한다.
	// ====================================================================
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(cfg)
	m := metrics.New()

	p, err := app.NewPipeline(context.Background(), cfg, m)
	if err != nil {
		zlog.Fatal().Err(err).Msg("pipeline init failed")
	}

	// ====================================================================
	// Worker Manager
	// ====================================================================
	//
	// /ingest 는 object 를 큐에 넣기만 하고, Workers 개의 goroutine 이
	// object 하나씩 pipeline run 을 돌린다.
	// ====================================================================
	mgr := worker.NewManager(cfg, p)
	mgr.Start()

	// ====================================================================
	// HTTP
	// ====================================================================
	//
	//  - /ingest  : S3 ObjectCreated 알림 (S3 → EventBridge/SNS → HTTP 등)
	//  - /metrics : 운영 카운터
	//  - /health  : ALB Target Group health check
	// ====================================================================
	h := server.NewHandler(cfg, m, mgr)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      h.Routes(),
		ReadTimeout:  8 * time.Second,
		WriteTimeout: 8 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ====================================================================
	// Graceful Shutdown
	// ====================================================================
	//
	// SIGTERM 수신 시:
	//   1) HTTP 서버 종료 (새 object 안 받음)
	//   2) 큐에 남은 run 을 끝까지 처리. 시간 내 못 끝낸 run 은 취소되며
	//      Failed 로 남아 알림 재전달 대상이 된다.
	// ====================================================================
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		sig := <-sigCh
		zlog.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			zlog.Error().Err(err).Msg("http shutdown")
		}
		cancel()

		zlog.Info().Int("pending", mgr.Pending()).Msg("draining run queue")
		ctx, cancel = context.WithTimeout(context.Background(), 20*time.Second)
		if err := mgr.Shutdown(ctx); err != nil {
			zlog.Error().Err(err).Msg("run queue not drained")
		}
		cancel()
	}()

	zlog.Info().Str("addr", cfg.HTTPAddr).Int("workers", cfg.Workers).Msg("flowlog indexer listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		zlog.Fatal().Err(err).Msg("http server terminated")
	}

	<-done
	zlog.Info().Msg("shutdown complete")
}
