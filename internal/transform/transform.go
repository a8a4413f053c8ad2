package transform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"flowlog-indexer/internal/model"

	"github.com/google/uuid"
	"github.com/iancoleman/strcase"
)

var (
	ErrMissingField = errors.New("transform: missing required field")
	ErrInvalidField = errors.New("transform: invalid field")

	// ErrExcluded 는 실패가 아니라 설정에 의해 의도적으로 버린 레코드.
	ErrExcluded = errors.New("transform: record excluded")
)

// FieldError 는 어느 필드 때문에 레코드가 거절됐는지 알려준다.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Field)
	}
	return fmt.Sprintf("%v: %s=%q", e.Err, e.Field, e.Value)
}

func (e *FieldError) Unwrap() error { return e.Err }

// 필수 필드. 이게 없으면 @timestamp 도 상태도 알 수 없다.
var requiredFields = []string{"start", "end", "log-status"}

// 문서의 고정 필드로 매핑되는 v2 기본 필드. 나머지는 Extra 로 간다.
var coreFields = map[string]struct{}{}

func init() {
	for _, f := range model.DefaultFormat.Fields() {
		coreFields[f] = struct{}{}
	}
}

const dateLayout = "2006-01-02T15:04:05"

// Transformer
// ------------------------------------------------------------
// RawRecord → Document 변환기. 생성 후에는 읽기 전용이라
// 여러 run 이 동시에 같은 Transformer 를 써도 된다.
//
// Transform 은 순수 함수다: 같은 (ObjectRef, RawRecord) 는
// 항상 같은 Document 와 같은 ID 를 만든다.
type Transformer struct {
	loc     *time.Location
	exclude map[string]struct{}
}

type Option func(*Transformer)

// WithLocation 은 "date" 필드를 렌더링할 타임존.
func WithLocation(loc *time.Location) Option {
	return func(t *Transformer) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// WithExcludedSources 는 인덱싱하지 않을 source 주소 목록.
func WithExcludedSources(addrs ...string) Option {
	return func(t *Transformer) {
		for _, a := range addrs {
			t.exclude[a] = struct{}{}
		}
	}
}

func New(opts ...Option) *Transformer {
	t := &Transformer{
		loc:     time.UTC,
		exclude: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DocumentID 는 object + 라인 번호로 결정되는 문서 키.
// 같은 object 를 다시 처리해도 같은 _id 로 덮어쓰므로 중복 문서가 생기지 않는다.
func DocumentID(ref model.ObjectRef, line int) string {
	name := ref.String() + "#" + strconv.Itoa(line)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// Transform 은 레코드 하나를 검증·타입 변환·보강한다.
func (t *Transformer) Transform(ref model.ObjectRef, rec model.RawRecord) (model.Document, error) {
	for _, f := range requiredFields {
		if _, ok := rec.Get(f); !ok {
			return model.Document{}, &FieldError{Field: f, Err: ErrMissingField}
		}
	}

	src, _ := rec.Get("srcaddr")
	if _, ok := t.exclude[src]; ok && src != "" {
		return model.Document{}, ErrExcluded
	}

	var p fieldParser
	start := p.int64("start", rec)
	end := p.int64("end", rec)
	version := p.optInt("version", rec, 0, 1<<16)
	srcPort := p.optInt("srcport", rec, 0, 65535)
	dstPort := p.optInt("dstport", rec, 0, 65535)
	protocol := p.optInt("protocol", rec, 0, 255)
	packets := p.optInt64("packets", rec)
	bytes := p.optInt64("bytes", rec)
	if p.err != nil {
		return model.Document{}, p.err
	}
	if end < start {
		return model.Document{}, &FieldError{Field: "end", Value: strconv.FormatInt(end, 10), Err: ErrInvalidField}
	}

	dst, _ := rec.Get("dstaddr")
	status, _ := rec.Get("log-status")
	startAt := time.Unix(start, 0)

	doc := model.Document{
		ID:        DocumentID(ref, rec.Line),
		Timestamp: startAt.UTC().Format(time.RFC3339),
		Date:      startAt.In(t.loc).Format(dateLayout),

		Version:     version,
		AccountID:   get(rec, "account-id"),
		InterfaceID: get(rec, "interface-id"),

		IPAddress: src,
		SrcAddr:   src,
		DstAddr:   dst,
		SrcPort:   srcPort,
		DstPort:   dstPort,

		Protocol: protocol,
		Packets:  packets,
		Bytes:    bytes,

		Start:       start,
		End:         end,
		DurationSec: end - start,

		Action:    get(rec, "action"),
		LogStatus: status,

		Direction: direction(src, dst),
		Service:   serviceFor(srcPort, dstPort),

		Source: model.DocumentSource{
			Bucket: ref.Bucket,
			Key:    ref.Key,
			Line:   rec.Line,
		},
	}
	if protocol != nil {
		doc.ProtocolName = protocolNames[*protocol]
	}

	for _, name := range rec.Format.Fields() {
		if _, core := coreFields[name]; core {
			continue
		}
		if v, ok := rec.Get(name); ok {
			if doc.Extra == nil {
				doc.Extra = make(map[string]string)
			}
			doc.Extra[strcase.ToSnake(name)] = v
		}
	}

	return doc, nil
}

func get(rec model.RawRecord, name string) string {
	v, _ := rec.Get(name)
	return v
}

// fieldParser 는 첫 번째 변환 에러만 기억한다.
type fieldParser struct {
	err error
}

func (p *fieldParser) fail(name, v string) {
	if p.err == nil {
		p.err = &FieldError{Field: name, Value: v, Err: ErrInvalidField}
	}
}

func (p *fieldParser) int64(name string, rec model.RawRecord) int64 {
	v, _ := rec.Get(name)
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		p.fail(name, v)
		return 0
	}
	return n
}

func (p *fieldParser) optInt64(name string, rec model.RawRecord) *int64 {
	v, ok := rec.Get(name)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		p.fail(name, v)
		return nil
	}
	return &n
}

func (p *fieldParser) optInt(name string, rec model.RawRecord, min, max int) *int {
	v, ok := rec.Get(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		p.fail(name, v)
		return nil
	}
	return &n
}
