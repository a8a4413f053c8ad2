package flowlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"flowlog-indexer/internal/model"

	"github.com/klauspost/compress/gzip"
)

// ErrMalformedStream 은 gzip 프레이밍/체크섬/절단 등 스트림 자체가 깨진 경우.
// 이 에러가 나면 object 전체를 실패 처리하고 부분 인덱싱하지 않는다.
var ErrMalformedStream = errors.New("flowlog: malformed compressed stream")

// 한 줄 최대 길이. flow log 는 v5 전체 필드를 써도 1KB 미만이다.
// 넘는 라인은 나머지를 버리고 skip 으로 센다.
const maxLineBytes = 1 << 20

// dead-letter 에 남길 over-long 라인의 앞부분 길이.
const maxRawPreview = 256

// knownFields 는 header 라인 판별용 flow log 필드 이름 (v2 ~ v8).
var knownFields = map[string]struct{}{}

func init() {
	for _, f := range strings.Fields(`
		version account-id interface-id srcaddr dstaddr srcport dstport protocol
		packets bytes start end action log-status
		vpc-id subnet-id instance-id tcp-flags type pkt-srcaddr pkt-dstaddr
		region az-id sublocation-type sublocation-id
		pkt-src-aws-service pkt-dst-aws-service flow-direction traffic-path
		ecs-cluster-arn ecs-cluster-name ecs-container-instance-arn ecs-container-instance-id
		ecs-container-id ecs-second-container-id ecs-service-name
		ecs-task-definition-arn ecs-task-arn ecs-task-id
		reject-reason resource-id encryption-status`) {
		knownFields[f] = struct{}{}
	}
}

// IsHeader 는 모든 토큰이 알려진 필드 이름인 라인인지 판단한다.
func IsHeader(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if _, ok := knownFields[f]; !ok {
			return false
		}
	}
	return true
}

// LineError 는 스키마에 맞지 않아 skip 된 라인 하나.
type LineError struct {
	Line   int
	Raw    string
	Reason string
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Parser
// ------------------------------------------------------------
// gzip 으로 압축된 flow log object 를 한 줄씩 RawRecord 로 돌려주는 lazy iterator.
// 하나의 fetch 스트림에 묶여 있으므로 재시작할 수 없다.
//
// 사용 예:
//
//	p, err := flowlog.NewParser(body)
//	for {
//		rec, ok := p.Next()
//		if !ok { break }
//		...
//	}
//	if err := p.Err(); err != nil { ... } // 스트림 에러 → run 실패
type Parser struct {
	gz     *gzip.Reader
	br     *bufio.Reader
	buf    []byte
	format *model.Format

	line    int // 읽은 물리 라인 번호 (빈 줄 포함, 1-based)
	lines   int // 비어 있지 않은 라인 수
	records int
	skipped []LineError

	err  error
	done bool
}

// NewParser 는 gzip 헤더를 즉시 읽어 검증한다.
// 헤더가 깨져 있으면 ErrMalformedStream 을 감싼 에러를 반환한다.
func NewParser(r io.Reader) (*Parser, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStream, err)
	}

	return &Parser{
		gz:     gz,
		br:     bufio.NewReaderSize(gz, 64*1024),
		buf:    make([]byte, 0, 4*1024),
		format: model.DefaultFormat,
	}, nil
}

// Next 는 다음 레코드를 돌려준다. 더 없거나 스트림 에러면 ok=false.
// header 와 빈 줄은 레코드가 아니며, 필드 수가 틀리거나 너무 긴 줄은 skip 하고 센다.
func (p *Parser) Next() (model.RawRecord, bool) {
	for !p.done {
		raw, tooLong, err := p.readLine()
		if err != nil {
			p.done = true
			if err != io.EOF {
				p.err = fmt.Errorf("%w: line %d: %v", ErrMalformedStream, p.line+1, err)
				return model.RawRecord{}, false
			}
			// 개행 없이 끝난 마지막 줄은 아래에서 처리한다
			if len(raw) == 0 && !tooLong {
				break
			}
		}
		p.line++

		if tooLong {
			p.lines++
			p.skipped = append(p.skipped, LineError{
				Line:   p.line,
				Raw:    string(raw[:min(len(raw), maxRawPreview)]),
				Reason: fmt.Sprintf("line too long (> %d bytes)", maxLineBytes),
			})
			continue
		}

		text := string(raw)
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		p.lines++

		if IsHeader(fields) {
			p.format = model.NewFormat(fields)
			continue
		}

		if len(fields) != p.format.Len() {
			p.skipped = append(p.skipped, LineError{
				Line:   p.line,
				Raw:    text,
				Reason: fmt.Sprintf("expected %d fields, got %d", p.format.Len(), len(fields)),
			})
			continue
		}

		p.records++
		return model.RawRecord{
			Line:   p.line,
			Values: fields,
			Format: p.format,
		}, true
	}

	return model.RawRecord{}, false
}

// readLine 은 '\n' 까지 읽어 개행을 뗀 내용을 돌려준다.
// maxLineBytes 를 넘는 부분은 버퍼에 담지 않고 tooLong 으로 알린다.
// 반환 슬라이스는 다음 호출에서 덮어쓴다.
func (p *Parser) readLine() ([]byte, bool, error) {
	p.buf = p.buf[:0]
	tooLong := false
	for {
		chunk, err := p.br.ReadSlice('\n')
		if room := maxLineBytes - len(p.buf); len(chunk) <= room {
			p.buf = append(p.buf, chunk...)
		} else {
			p.buf = append(p.buf, chunk[:room]...)
			tooLong = true
		}

		if err == bufio.ErrBufferFull {
			continue
		}
		return trimEOL(p.buf), tooLong, err
	}
}

func trimEOL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}

// Err 는 iterator 가 끝난 뒤 스트림 레벨 에러를 돌려준다.
func (p *Parser) Err() error { return p.err }

// Lines 는 지금까지 읽은 비어 있지 않은 라인 수 (header 포함).
func (p *Parser) Lines() int { return p.lines }

// Records 는 지금까지 돌려준 레코드 수.
func (p *Parser) Records() int { return p.records }

// Skipped 는 스키마 불일치로 건너뛴 라인들.
func (p *Parser) Skipped() []LineError { return p.skipped }

// Format 은 현재 적용 중인 컬럼 포맷.
func (p *Parser) Format() *model.Format { return p.format }

func (p *Parser) Close() error {
	return p.gz.Close()
}

// ParseAll 은 스트림을 끝까지 읽어 레코드를 원래 순서대로 모은다.
// 스트림이 깨졌으면 이미 읽은 레코드는 버리고 에러만 돌려준다.
func ParseAll(r io.Reader) ([]model.RawRecord, *Parser, error) {
	p, err := NewParser(r)
	if err != nil {
		return nil, nil, err
	}
	defer p.Close()

	var out []model.RawRecord
	for {
		rec, ok := p.Next()
		if !ok {
			break
		}
		out = append(out, rec)
	}
	if err := p.Err(); err != nil {
		return nil, p, err
	}
	return out, p, nil
}
