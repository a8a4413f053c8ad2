// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config
//
// 프로세스 시작 시 한 번만 Load() 로 만들어지는 불변(read-only) 설정.
// 파이프라인/인덱서/트리거 생성자에 값으로 전달되며,
// 이후 어떤 goroutine 도 이 값을 수정하지 않는다.
type Config struct {

	// ---------------------------
	// 서비스 식별자 / 로깅
	// ---------------------------

	ServiceName string // 로그 공통 필드 "service"
	InstanceID  string // 호스트명 기반, 실패 시 랜덤 hex
	LogLevel    string // debug / info / warn / error
	LogPretty   bool   // true 면 ConsoleWriter (로컬 개발용)
	LogSampleN  uint32 // >1 이면 debug/info 를 N 개 중 1 개만 기록

	// ---------------------------
	// OpenSearch (IndexDestination)
	// ---------------------------

	Index Index

	// ---------------------------
	// S3
	// ---------------------------

	AWSRegion    string        // 비어 있으면 SDK 기본 체인 사용
	S3Timeout    time.Duration // GetObject(본문 읽기 포함) / PutObject 시도당 timeout
	S3AppRetries int           // 애플리케이션 레벨 재시도 횟수 (SDK retry 는 항상 0)

	DeadLetterBucket string // 비어 있으면 dead-letter 비활성화
	DeadLetterPrefix string

	// ---------------------------
	// Transform
	// ---------------------------

	DateTimezone    string   // "date" 필드 렌더링 타임존 (예: Asia/Singapore)
	ExcludeSrcAddrs []string // 이 source 주소의 레코드는 인덱싱하지 않는다

	// ---------------------------
	// 실행 모델
	// ---------------------------

	RunConcurrency int // Lambda 이벤트 하나 안에서 동시에 처리할 object 수

	HTTPAddr    string // server 모드 bind 주소
	Workers     int    // server 모드 파이프라인 worker 수
	QueueSize   int    // server 모드 object 큐 크기
	MaxBodySize int64  // /ingest 요청 body 최대 크기
}

// Index 는 OpenSearch 쓰기 대상과 인증 정보.
type Index struct {
	Endpoint string // https://host:port
	Name     string
	Username string
	Password string

	BulkSize int
	Retries  int
	Timeout  time.Duration
	Refresh  string // "true" / "false" / "wait_for"
	Compress bool
}

// Error 는 누락/잘못된 환경변수를 한 번에 모아서 보고한다.
type Error struct {
	Missing []string
	Invalid []string
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required env: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid env: "+strings.Join(e.Invalid, ", "))
	}
	return "config: " + strings.Join(parts, "; ")
}

// Load
//
// 환경 변수 기반으로 Config 를 초기화한다.
// 필수 env 가 비어 있거나 형식이 잘못되면 *Error 를 반환하고,
// 호출자(cmd/*)는 파이프라인을 만들기 전에 즉시 종료(fail-fast)해야 한다.
func Load() (Config, error) {
	var l loader

	cfg := Config{
		ServiceName: l.str("SERVICE_NAME", "flowlog-indexer"),
		InstanceID:  fallbackInstanceID(),
		LogLevel:    l.str("LOG_LEVEL", "info"),
		LogPretty:   l.boolean("LOG_PRETTY", false),
		LogSampleN:  uint32(l.integer("LOG_SAMPLE_N", 0)),

		Index: Index{
			Name:     l.must("OPENSEARCH_INDEX"),
			Username: l.must("OPENSEARCH_USER"),
			Password: l.must("OPENSEARCH_PASSWORD"),
			BulkSize: l.positive("BULK_SIZE", 500),
			Retries:  l.integer("INDEX_RETRIES", 3),
			Timeout:  l.dur("INDEX_TIMEOUT", 10*time.Second),
			Refresh:  l.str("INDEX_REFRESH", "false"),
			Compress: l.boolean("INDEX_COMPRESS", true),
		},

		AWSRegion:    l.str("AWS_REGION", ""),
		S3Timeout:    l.dur("S3_TIMEOUT", 30*time.Second),
		S3AppRetries: l.positive("S3_APP_RETRIES", 3),

		DeadLetterBucket: l.str("DEADLETTER_BUCKET", ""),
		DeadLetterPrefix: strings.Trim(l.str("DEADLETTER_PREFIX", "deadletter"), "/"),

		DateTimezone:    l.str("DATE_TIMEZONE", "UTC"),
		ExcludeSrcAddrs: l.list("EXCLUDE_SRC_ADDRS"),

		RunConcurrency: l.positive("RUN_CONCURRENCY", 4),

		HTTPAddr:    l.str("HTTP_ADDR", ":8080"),
		Workers:     l.positive("WORKERS", 4),
		QueueSize:   l.positive("QUEUE_SIZE", 64),
		MaxBodySize: int64(l.positive("MAX_BODY_SIZE", 1<<20)),
	}

	host := l.must("OPENSEARCH_HOST")
	port := l.positive("OPENSEARCH_PORT", 443)
	if host != "" {
		ep, err := endpoint(host, port)
		if err != nil {
			l.invalid = append(l.invalid, fmt.Sprintf("OPENSEARCH_HOST=%q (%v)", host, err))
		}
		cfg.Index.Endpoint = ep
	}

	switch cfg.Index.Refresh {
	case "true", "false", "wait_for":
	default:
		l.invalid = append(l.invalid, fmt.Sprintf("INDEX_REFRESH=%q", cfg.Index.Refresh))
	}

	if _, err := time.LoadLocation(cfg.DateTimezone); err != nil {
		l.invalid = append(l.invalid, fmt.Sprintf("DATE_TIMEZONE=%q", cfg.DateTimezone))
	}

	if len(l.missing) > 0 || len(l.invalid) > 0 {
		return Config{}, &Error{Missing: l.missing, Invalid: l.invalid}
	}
	return cfg, nil
}

// DeadLetterEnabled 는 dead-letter 업로드 대상 버킷이 설정되어 있는지 여부.
func (c Config) DeadLetterEnabled() bool {
	return c.DeadLetterBucket != ""
}

// endpoint
//
// OPENSEARCH_HOST 는 CDK 출력(domainEndpoint)처럼 scheme 없는 호스트명이 보통이다.
// scheme 이 없으면 https 를 붙이고, http:// 는 암호화 전송 강제 정책상 거부한다.
func endpoint(host string, port int) (string, error) {
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return "", err
	}
	if u.Scheme != "https" {
		return "", fmt.Errorf("scheme %q not allowed, https required", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("empty host")
	}
	if u.Port() == "" {
		u.Host = fmt.Sprintf("%s:%d", u.Host, port)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

// loader
//
// 공통 패턴 (must / str / integer / dur ...).
// 잘못된 값이 있어도 바로 종료하지 않고 목록에 쌓아 두었다가
// Load() 마지막에 한 번에 에러로 돌려준다.
type loader struct {
	missing []string
	invalid []string
}

func (l *loader) must(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		l.missing = append(l.missing, key)
	}
	return v
}

func (l *loader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (l *loader) integer(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		l.invalid = append(l.invalid, fmt.Sprintf("%s=%q", key, v))
		return def
	}
	return n
}

func (l *loader) positive(key string, def int) int {
	n := l.integer(key, def)
	if n == 0 {
		l.invalid = append(l.invalid, fmt.Sprintf("%s=0", key))
		return def
	}
	return n
}

func (l *loader) dur(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		l.invalid = append(l.invalid, fmt.Sprintf("%s=%q", key, v))
		return def
	}
	return d
}

func (l *loader) boolean(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.invalid = append(l.invalid, fmt.Sprintf("%s=%q", key, v))
		return def
	}
	return b
}

func (l *loader) list(key string) []string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// fallbackInstanceID
//
// dead-letter 파일명과 로그에 쓰이는 인스턴스 식별자.
//   - 기본: hostname (Lambda 에서는 sandbox 마다 고유)
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
