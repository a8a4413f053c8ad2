// internal/model/object.go
package model

import "fmt"

// ObjectRef
// ------------------------------------------------------------
// S3 ObjectCreated 이벤트 하나가 가리키는 압축 로그 파일.
// 트리거에서 만들어져 pipeline run 하나가 한 번 소비한다. 불변.
// Key 는 이벤트의 URL 인코딩이 이미 풀린 값이다.
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size,omitempty"`
}

func (o ObjectRef) String() string {
	return fmt.Sprintf("s3://%s/%s", o.Bucket, o.Key)
}

// RunState
// ------------------------------------------------------------
// Triggered → Fetched → Parsed → Transformed → Indexed | Failed
type RunState string

const (
	StateTriggered   RunState = "triggered"
	StateFetched     RunState = "fetched"
	StateParsed      RunState = "parsed"
	StateTransformed RunState = "transformed"
	StateIndexed     RunState = "indexed"
	StateFailed      RunState = "failed"
)

// Terminal 은 Indexed / Failed 여부.
func (s RunState) Terminal() bool {
	return s == StateIndexed || s == StateFailed
}

// RunResult
// ------------------------------------------------------------
// run 하나의 최종 보고. Failed 여도 카운터는 실패 시점까지의 값이 남는다.
// 실패 원인은 Run 의 error 반환값으로 따로 전달된다.
type RunResult struct {
	Object ObjectRef
	State  RunState

	Lines             int // 비어 있지 않은 라인 (header 포함)
	Records           int // 파싱 성공 레코드
	ParseFailures     int
	TransformFailures int
	Excluded          int
	Indexed           int
	IndexFailures     int
	DeadLettered      int
}

// Warnings 는 run 을 실패시키지 않고 건너뛴 항목 수.
func (r RunResult) Warnings() int {
	return r.ParseFailures + r.TransformFailures + r.IndexFailures
}
