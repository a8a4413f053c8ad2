package storage

import (
	"sync/atomic"
	"time"
)

//
// timecache.go
// ------------------------------------------------------------
// 현재 UTC epoch seconds 와 dt/hr 파티션 문자열을 1초 단위로 캐싱한다.
// dead-letter key 를 만들 때마다 time.Now + Format 을 반복하지 않기 위함.
//
// flow log 의 S3 경로(AWSLogs/.../YYYY/MM/DD) 가 UTC 기준이므로
// 파티션도 UTC 로 맞춘다.
//
// Lambda sandbox 가 freeze 된 동안에는 ticker 가 돌지 않는다.
// 그래서 key 를 만드는 쪽(naming.go)은 읽기 전에 update() 로 값을 갱신한다.
// ------------------------------------------------------------

var (
	unixSec atomic.Int64
	dtVal   atomic.Value // "YYYY-MM-DD"
	hrVal   atomic.Value // "HH"
)

func init() {
	update()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for range ticker.C {
			update()
		}
	}()
}

func update() {
	now := time.Now().UTC()
	unixSec.Store(now.Unix())
	dtVal.Store(now.Format("2006-01-02"))
	hrVal.Store(now.Format("15"))
}

// Unix returns current UTC epoch seconds (cached, 1-second precision).
func Unix() int64 {
	return unixSec.Load()
}

// DT returns "YYYY-MM-DD" (UTC).
func DT() string {
	return dtVal.Load().(string)
}

// HR returns "HH" (UTC).
func HR() string {
	return hrVal.Load().(string)
}
