// internal/model/record.go
package model

import "strings"

// NoData 는 flow log 에서 값이 없음을 나타내는 토큰이다 (NODATA/SKIPDATA 레코드 등).
const NoData = "-"

// Format
// ------------------------------------------------------------
// flow log 한 줄의 컬럼 순서. 파일 첫 줄의 header
// ("version account-id interface-id ...") 로 결정되며,
// header 가 없으면 DefaultFormat(v2 기본 포맷)을 쓴다.
// 만들어진 뒤에는 읽기 전용이라 여러 레코드가 공유한다.
type Format struct {
	fields []string
	idx    map[string]int
}

func NewFormat(fields []string) *Format {
	f := &Format{
		fields: append([]string(nil), fields...),
		idx:    make(map[string]int, len(fields)),
	}
	for i, name := range f.fields {
		f.idx[name] = i
	}
	return f
}

// DefaultFormat 는 AWS 기본 flow log 포맷 (version 2).
var DefaultFormat = NewFormat(strings.Fields(
	"version account-id interface-id srcaddr dstaddr srcport dstport protocol packets bytes start end action log-status",
))

func (f *Format) Len() int { return len(f.fields) }

func (f *Format) Fields() []string { return append([]string(nil), f.fields...) }

func (f *Format) Index(name string) (int, bool) {
	i, ok := f.idx[name]
	return i, ok
}

func (f *Format) String() string { return strings.Join(f.fields, " ") }

// RawRecord
// ------------------------------------------------------------
// 압축 해제된 파일의 한 줄. Parse 단계가 만들고 Transform 단계가 소비한 뒤 버린다.
// Line 은 object 안에서 1부터 시작하는 라인 번호이며,
// 문서 ID(idempotency key) 의 재료가 되므로 재실행해도 같아야 한다.
type RawRecord struct {
	Line   int
	Values []string
	Format *Format
}

// Get 은 이름으로 값을 찾는다. 포맷에 없거나 "-" 면 ok=false.
func (r RawRecord) Get(name string) (string, bool) {
	i, ok := r.Format.Index(name)
	if !ok || i >= len(r.Values) {
		return "", false
	}
	v := r.Values[i]
	if v == "" || v == NoData {
		return "", false
	}
	return v, true
}

// Raw 는 원본 라인을 복원한다 (dead-letter 용).
func (r RawRecord) Raw() string {
	return strings.Join(r.Values, " ")
}
