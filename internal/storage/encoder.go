package storage

import (
	"bytes"

	"flowlog-indexer/internal/model"
	"flowlog-indexer/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// EncodeJSONLGZ 는 dead-letter 항목들을 JSONL 로 한 줄씩 인코딩한 뒤 gzip 압축한다.
//
// gzip.Writer 와 bytes.Buffer 는 pool 에서 빌려 쓰고,
// 결과는 새 []byte 로 복사해 호출자에게 소유권을 넘긴다
// (pool 버퍼를 그대로 반환하면 다음 사용자가 덮어쓴다).
func EncodeJSONLGZ(entries []model.DeadLetterEntry) ([]byte, error) {
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBuffer(buf)

	gz := pool.GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)
	defer pool.GzipPool.Put(gz)

	enc := json.NewEncoder(gz)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			_ = gz.Close()
			return nil, err
		}
	}

	// Close 시 gzip footer 가 써지면서 스트림이 완성된다
	if err := gz.Close(); err != nil {
		return nil, err
	}

	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())
	return data, nil
}
