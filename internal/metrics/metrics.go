package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 파이프라인 상태를 나타내는 카운터 모음이다.
// 모든 필드는 atomic 으로만 접근하며, 동시에 도는 여러 run 이 공유한다.
type Metrics struct {
	// ======================
	// Run 레벨 지표
	// ======================

	// RunsTotal
	// - 트리거된 pipeline run 수 (object 1개 = run 1개).
	// - at-least-once 재전달로 같은 key 가 두 번 들어오면 두 번 센다.
	RunsTotal int64

	// RunsIndexedTotal / RunsFailedTotal
	// - 종료 상태별 run 수. 합은 RunsTotal 과 같아야 한다 (진행 중인 run 제외).
	// - Failed 는 Lambda/큐 재전달 대상이다.
	RunsIndexedTotal int64
	RunsFailedTotal  int64

	// FetchErrorsTotal
	// - S3 GetObject 최종 실패 횟수 (재시도 소진 후 1회로 센다).
	FetchErrorsTotal int64

	// ======================
	// Parse / Transform 지표
	// ======================

	// LinesTotal
	// - 압축 해제 후 읽은 비어 있지 않은 라인 수 (header 포함).
	LinesTotal int64

	// RecordsParsedTotal
	// - 스키마에 맞게 파싱된 RawRecord 수.
	RecordsParsedTotal int64

	// ParseFailuresTotal
	// - 필드 수가 포맷과 맞지 않아 skip 된 라인 수.
	// - 압축 스트림 자체가 깨진 경우는 여기 아니라 RunsFailedTotal 로 간다.
	ParseFailuresTotal int64

	// TransformFailuresTotal
	// - 필수 필드 누락/타입 오류로 거절된 레코드 수.
	TransformFailuresTotal int64

	// RecordsExcludedTotal
	// - EXCLUDE_SRC_ADDRS 에 걸려 의도적으로 버린 레코드 수 (실패 아님).
	RecordsExcludedTotal int64

	// ======================
	// Index 지표
	// ======================

	DocsIndexedTotal int64 // OpenSearch 가 2xx 로 응답한 문서 수
	DocsFailedTotal  int64 // 재시도 후에도 per-document 실패로 남은 문서 수

	// BulkRequestsTotal / BulkErrorsTotal
	// - _bulk HTTP 호출 "시도" 수와 요청 전체가 실패한 시도 수
	//   (연결 실패, 401/403, 요청 단위 5xx).
	BulkRequestsTotal int64
	BulkErrorsTotal   int64

	// ======================
	// Dead-letter 지표
	// ======================

	DeadLetterEntriesTotal int64 // S3 dead-letter 로 보낸 항목 수
	S3PutErrorsTotal       int64 // PutObject 실패 시도 수

	// ======================
	// HTTP (server 모드)
	// ======================

	HTTPRequestsTotal                  int64
	HTTPObjectsAcceptedTotal           int64
	HTTPRequestsRejectedInvalidTotal   int64
	HTTPRequestsRejectedQueueFullTotal int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	fmt.Fprintf(&sb, "runs_total=%d\n", atomic.LoadInt64(&m.RunsTotal))
	fmt.Fprintf(&sb, "runs_indexed_total=%d\n", atomic.LoadInt64(&m.RunsIndexedTotal))
	fmt.Fprintf(&sb, "runs_failed_total=%d\n", atomic.LoadInt64(&m.RunsFailedTotal))
	fmt.Fprintf(&sb, "fetch_errors_total=%d\n", atomic.LoadInt64(&m.FetchErrorsTotal))

	fmt.Fprintf(&sb, "lines_total=%d\n", atomic.LoadInt64(&m.LinesTotal))
	fmt.Fprintf(&sb, "records_parsed_total=%d\n", atomic.LoadInt64(&m.RecordsParsedTotal))
	fmt.Fprintf(&sb, "parse_failures_total=%d\n", atomic.LoadInt64(&m.ParseFailuresTotal))
	fmt.Fprintf(&sb, "transform_failures_total=%d\n", atomic.LoadInt64(&m.TransformFailuresTotal))
	fmt.Fprintf(&sb, "records_excluded_total=%d\n", atomic.LoadInt64(&m.RecordsExcludedTotal))

	fmt.Fprintf(&sb, "docs_indexed_total=%d\n", atomic.LoadInt64(&m.DocsIndexedTotal))
	fmt.Fprintf(&sb, "docs_failed_total=%d\n", atomic.LoadInt64(&m.DocsFailedTotal))
	fmt.Fprintf(&sb, "bulk_requests_total=%d\n", atomic.LoadInt64(&m.BulkRequestsTotal))
	fmt.Fprintf(&sb, "bulk_errors_total=%d\n", atomic.LoadInt64(&m.BulkErrorsTotal))

	fmt.Fprintf(&sb, "deadletter_entries_total=%d\n", atomic.LoadInt64(&m.DeadLetterEntriesTotal))
	fmt.Fprintf(&sb, "s3_put_errors_total=%d\n", atomic.LoadInt64(&m.S3PutErrorsTotal))

	fmt.Fprintf(&sb, "http_requests_total=%d\n", atomic.LoadInt64(&m.HTTPRequestsTotal))
	fmt.Fprintf(&sb, "http_objects_accepted_total=%d\n", atomic.LoadInt64(&m.HTTPObjectsAcceptedTotal))
	fmt.Fprintf(&sb, "http_requests_rejected_invalid_total=%d\n", atomic.LoadInt64(&m.HTTPRequestsRejectedInvalidTotal))
	fmt.Fprintf(&sb, "http_requests_rejected_queue_full_total=%d\n", atomic.LoadInt64(&m.HTTPRequestsRejectedQueueFullTotal))

	return sb.String()
}
