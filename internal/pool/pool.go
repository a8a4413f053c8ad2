package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// Lambda 한 번 호출 안에서도 object 마다 bulk NDJSON 본문,
// dead-letter gzip 버퍼, /ingest 요청 body 버퍼가 반복해서 만들어진다.
// 같은 sandbox 가 재사용되는 동안 버퍼를 돌려 써서 GC 부담을 줄인다.
// ---------------------------------------------------------------

var (
	// BodyPool:
	//   - server 모드 /ingest 요청 body (S3 이벤트 JSON) 임시 버퍼
	//   - 초기 용량 4KB (이벤트 하나는 보통 1~2KB)
	BodyPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 4*1024))
		},
	}

	// BufferPool:
	//   - bulk 요청 NDJSON 본문, dead-letter gzip 결과
	//   - 초기 용량 256KB (BULK_SIZE=500 문서 ≒ 250KB)
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 256*1024))
		},
	}

	// GzipPool:
	//   - dead-letter 인코딩용 gzip.Writer 재사용
	//   - BestSpeed: 실패 경로라 압축률보다 지연이 중요
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// Pool에 되돌려줄 최대 버퍼 용량.
// 이보다 큰 버퍼는 GC 에 맡겨 메모리를 계속 붙잡지 않게 한다.
const MaxBufferCap = 4 * 1024 * 1024 // 4MB

// PutBody:
//   - maxCap(보통 MaxBodySize*2)보다 크면 버린다.
func PutBody(buf *bytes.Buffer, maxCap int64) {
	if int64(buf.Cap()) <= maxCap {
		buf.Reset()
		BodyPool.Put(buf)
	}
}

// PutBuffer:
//   - MaxBufferCap 이하만 재사용
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}
