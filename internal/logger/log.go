// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"flowlog-indexer/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 프로세스 시작 시 한 번만 호출한다 (cmd/lambda, cmd/server).
//
//  1. 포맷: LOG_PRETTY=true 면 ConsoleWriter, 아니면 stdout JSON
//     (Lambda 에서는 stdout 이 그대로 CloudWatch Logs 로 간다).
//  2. 공통 필드: service, instance (+ Lambda 함수명이 있으면 function).
//  3. 샘플링: LOG_SAMPLE_N > 1 이면 debug/info 만 N 개 중 1 개 기록.
//     warn/error 는 run 실패/skip 원인 추적용이라 절대 샘플링하지 않는다.
func Init(cfg config.Config) {
	zerolog.SetGlobalLevel(ParseLevel(cfg.LogLevel))
	zlog.Logger = New(cfg, os.Stdout)

	// 표준 log 패키지 출력도 같은 규칙을 따르게 연결
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}

// New 는 전역 상태를 건드리지 않고 cfg 규칙대로 logger 를 만든다.
func New(cfg config.Config, out io.Writer) zerolog.Logger {
	level := ParseLevel(cfg.LogLevel)

	w := out
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		}
	}

	ctx := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID)

	if fn := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); fn != "" {
		ctx = ctx.Str("function", fn)
	}

	base := ctx.Logger()
	if cfg.LogSampleN > 1 {
		return base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		})
	}
	return base
}

// ParseLevel 은 알 수 없는 값이면 info 로 떨어진다.
func ParseLevel(s string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}
