// internal/model/document.go
package model

// Document
// ------------------------------------------------------------
// OpenSearch 에 들어가는 정규화된 flow log 문서.
// Transform 단계가 만들고 Index 단계에 넘길 때까지 단독 소유한다.
//
// 같은 RawRecord → 같은 Document (바이트 단위로 동일한 JSON) 이어야 하므로
// 수집 시각 같은 비결정적 값은 넣지 않는다.
type Document struct {
	ID string `json:"-"` // bulk _id (ObjectRef + Line 기반 UUIDv5)

	Timestamp string `json:"@timestamp"`     // start (RFC3339, UTC)
	Date      string `json:"date,omitempty"` // start, DATE_TIMEZONE 기준 "2006-01-02T15:04:05"

	Version     *int   `json:"version,omitempty"`
	AccountID   string `json:"account_id,omitempty"`
	InterfaceID string `json:"interface_id,omitempty"`

	IPAddress string `json:"ip_address,omitempty"` // src_addr 복제 (OpenSearch ip 타입 인식용)
	SrcAddr   string `json:"src_addr,omitempty"`
	DstAddr   string `json:"dst_addr,omitempty"`
	SrcPort   *int   `json:"src_port,omitempty"`
	DstPort   *int   `json:"dst_port,omitempty"`

	Protocol     *int   `json:"protocol,omitempty"`
	ProtocolName string `json:"protocol_name,omitempty"`

	Packets *int64 `json:"packets,omitempty"`
	Bytes   *int64 `json:"bytes,omitempty"`

	Start       int64 `json:"start"`
	End         int64 `json:"end"`
	DurationSec int64 `json:"duration_sec"`

	Action    string `json:"action,omitempty"`
	LogStatus string `json:"log_status"`

	Direction string `json:"direction,omitempty"` // ingress / egress / internal / external
	Service   string `json:"service,omitempty"`   // well-known port 이름

	// 기본 포맷 밖의 필드 (vpc-id, tcp-flags ...) 를 snake_case 키로 보관
	Extra map[string]string `json:"extra,omitempty"`

	Source DocumentSource `json:"source"`
}

// DocumentSource 는 문서가 어느 object 의 몇 번째 줄에서 왔는지.
type DocumentSource struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Line   int    `json:"line"`
}

// DocFailure 는 bulk 응답에서 개별 문서가 실패한 내용.
type DocFailure struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Type   string `json:"type,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// IndexResult
// ------------------------------------------------------------
// 배치 하나의 결과. 부분 성공을 허용하므로
// Indexed + len(Failed) == 요청 문서 수.
type IndexResult struct {
	Indexed int
	Failed  []DocFailure
}

// DeadLetterEntry
// ------------------------------------------------------------
// 인덱싱되지 못한 항목 하나. S3 dead-letter 에 gzip+JSONL 한 줄로 저장된다.
type DeadLetterEntry struct {
	Stage  string    `json:"stage"` // parse / transform / index
	Bucket string    `json:"bucket"`
	Key    string    `json:"key"`
	Line   int       `json:"line"`
	Raw    string    `json:"raw,omitempty"`
	Doc    *Document `json:"doc,omitempty"`
	Reason string    `json:"reason"`
}
