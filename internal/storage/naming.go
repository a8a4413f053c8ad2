// internal/storage/naming.go
package storage

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// naming.go
// ------------------------------------------------------------
// dead-letter object 이름 규칙.
//
//	<prefix>/dt=<YYYY-MM-DD>/hr=<HH>/<unix>_<instance>_<counter>.jsonl.gz
//
// 예:
//
//	deadletter/dt=2024-05-01/hr=13/1714568400_169.254.10.1_000042.jsonl.gz
//
// 파일명을 정렬하면 곧 시간 순이라 재처리 도구가 오래된 것부터 집을 수 있다.
var globalCounter uint64

// NextCounter 는 1e6 에서 0 으로 돌아간다.
// timestamp·instance 조합과 합쳐지면 충돌 가능성은 사실상 없다.
func NextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

// NewFilename 은 <unix>_<instance>_<counter>.jsonl.gz 를 만든다.
func NewFilename(instanceID string) string {
	update()
	return fmt.Sprintf("%d_%s_%06d.jsonl.gz", Unix(), sanitize(instanceID), NextCounter())
}

// BuildS3Key 는 Athena/Glue 파티션 스캔에 맞춘 dt/hr 계층을 붙인다.
func BuildS3Key(prefix, filename string) string {
	update()
	if prefix == "" {
		return fmt.Sprintf("dt=%s/hr=%s/%s", DT(), HR(), filename)
	}
	return fmt.Sprintf("%s/dt=%s/hr=%s/%s", prefix, DT(), HR(), filename)
}

// instance ID 는 hostname 이라 '/' 가 섞이면 키 계층이 깨진다.
func sanitize(s string) string {
	return strings.NewReplacer("/", "-", "_", "-", " ", "-").Replace(s)
}
