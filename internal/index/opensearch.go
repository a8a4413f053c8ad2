package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"flowlog-indexer/internal/config"
	"flowlog-indexer/internal/metrics"
	"flowlog-indexer/internal/model"
	"flowlog-indexer/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	zlog "github.com/rs/zerolog/log"
)

var (
	// ErrUnavailable 은 연결 실패/타임아웃/요청 단위 5xx·429 가 재시도 후에도 계속된 경우.
	ErrUnavailable = errors.New("index: endpoint unavailable")
	// ErrUnauthorized 는 401/403. 자격증명 문제라 재시도하지 않는다.
	ErrUnauthorized = errors.New("index: unauthorized")
	// ErrRejected 는 요청 자체가 4xx 로 거절된 경우 (잘못된 index 이름 등).
	ErrRejected = errors.New("index: request rejected")
)

// APIError 는 2xx 가 아닌 _bulk 응답.
type APIError struct {
	StatusCode int
	Body       string // 앞 512 바이트
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client
// ------------------------------------------------------------
// IndexDestination. 설정 1회 로드 후 여러 run 이 동시에 공유한다.
// opensearch.Client 는 goroutine-safe 이고 이 구조체는 생성 후 변하지 않으므로
// 별도 lock 이 없다.
//
// 재시도 정책:
//   - 요청 전체 실패 (연결, 429, 5xx): Retries 번까지 같은 본문 재전송
//   - 문서 단위 429/5xx: 실패한 문서만 모아 Retries 번까지 재전송
//   - 문서 단위 그 외 4xx (mapping 오류 등): 즉시 실패로 보고
//   - 401/403: 즉시 ErrUnauthorized
type Client struct {
	cfg     config.Index
	metrics *metrics.Metrics
	client  *opensearch.Client

	backoff time.Duration
}

type Option func(*opensearch.Config)

// WithTransport 는 테스트나 커스텀 TLS 설정용.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *opensearch.Config) {
		c.Transport = rt
	}
}

func New(cfg config.Index, m *metrics.Metrics, opts ...Option) (*Client, error) {
	osCfg := opensearch.Config{
		Addresses:           []string{cfg.Endpoint},
		Username:            cfg.Username,
		Password:            cfg.Password,
		CompressRequestBody: cfg.Compress,
		// 재시도는 아래에서 문서 단위로 직접 제어한다
		DisableRetry: true,
	}
	for _, opt := range opts {
		opt(&osCfg)
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("opensearch client: %w", err)
	}

	return &Client{
		cfg:     cfg,
		metrics: m,
		client:  client,
		backoff: 200 * time.Millisecond,
	}, nil
}

// Index 는 문서들을 BulkSize 단위로 나눠 쓴다.
//
// 반환 에러가 nil 이 아니면 (연결/인증 실패) run 전체를 실패로 봐야 한다.
// 이미 성공한 앞쪽 chunk 는 되돌리지 않는다. 같은 _id 로 재실행하면 덮어쓰므로 안전하다.
func (c *Client) Index(ctx context.Context, docs []model.Document) (model.IndexResult, error) {
	var res model.IndexResult

	for start := 0; start < len(docs); start += c.cfg.BulkSize {
		end := start + c.cfg.BulkSize
		if end > len(docs) {
			end = len(docs)
		}

		r, err := c.indexChunk(ctx, docs[start:end])
		res.Indexed += r.Indexed
		res.Failed = append(res.Failed, r.Failed...)
		atomic.AddInt64(&c.metrics.DocsIndexedTotal, int64(r.Indexed))
		atomic.AddInt64(&c.metrics.DocsFailedTotal, int64(len(r.Failed)))
		if err != nil {
			return res, err
		}
	}

	return res, nil
}

// indexChunk 는 chunk 하나를 쓰고, 문서 단위 재시도 가능한 실패만 다시 보낸다.
func (c *Client) indexChunk(ctx context.Context, docs []model.Document) (model.IndexResult, error) {
	var res model.IndexResult
	pending := docs
	backoff := c.backoff

	for attempt := 0; ; attempt++ {
		items, err := c.bulkWithRetry(ctx, pending)
		if err != nil {
			return res, err
		}

		var retry []model.Document
		for i, it := range items {
			switch {
			case it.Status >= 200 && it.Status < 300:
				res.Indexed++
			case retryableStatus(it.Status) && attempt < c.cfg.Retries:
				retry = append(retry, pending[i])
			default:
				res.Failed = append(res.Failed, it.failure(pending[i].ID))
			}
		}

		if len(retry) == 0 {
			return res, nil
		}

		zlog.Warn().Int("documents", len(retry)).Int("attempt", attempt+1).Msg("bulk: retrying rejected documents")
		if err := sleep(ctx, backoff); err != nil {
			return res, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		backoff = nextBackoff(backoff)
		pending = retry
	}
}

// bulkWithRetry 는 요청 단위 실패만 재시도한다. 성공하면 요청 순서대로 item 을 돌려준다.
func (c *Client) bulkWithRetry(ctx context.Context, docs []model.Document) ([]bulkItem, error) {
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBuffer(buf)

	if err := c.encodeBulk(buf, docs); err != nil {
		return nil, err
	}
	body := buf.Bytes()

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			backoff = nextBackoff(backoff)
		}

		items, err := c.bulk(ctx, body)
		if err == nil {
			if len(items) != len(docs) {
				return nil, fmt.Errorf("%w: bulk response has %d items for %d documents", ErrUnavailable, len(items), len(docs))
			}
			return items, nil
		}

		atomic.AddInt64(&c.metrics.BulkErrorsTotal, 1)
		lastErr = err
		if !errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		zlog.Warn().Err(err).Int("attempt", attempt+1).Msg("bulk request failed")
	}

	return nil, lastErr
}

// bulk 는 _bulk 1회 호출.
func (c *Client) bulk(ctx context.Context, body []byte) ([]bulkItem, error) {
	atomic.AddInt64(&c.metrics.BulkRequestsTotal, 1)

	ctx2, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := opensearchapi.BulkRequest{
		Index:   c.cfg.Name,
		Body:    bytes.NewReader(body),
		Refresh: c.cfg.Refresh,
	}
	resp, err := req.Do(ctx2, c.client)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.IsError() {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: truncate(data, 512)}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
		case retryableStatus(resp.StatusCode):
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, apiErr)
		default:
			return nil, fmt.Errorf("%w: %w", ErrRejected, apiErr)
		}
	}

	var br bulkResponse
	if err := json.Unmarshal(data, &br); err != nil {
		return nil, fmt.Errorf("%w: decode bulk response: %v", ErrUnavailable, err)
	}

	items := make([]bulkItem, 0, len(br.Items))
	for _, it := range br.Items {
		items = append(items, it.Index)
	}
	return items, nil
}

// encodeBulk 는 NDJSON 본문을 만든다.
//
//	{"index":{"_index":"vpcflowlog","_id":"..."}}
//	{...document...}
func (c *Client) encodeBulk(buf *bytes.Buffer, docs []model.Document) error {
	enc := json.NewEncoder(buf)
	for i := range docs {
		meta := bulkAction{Index: bulkMeta{Index: c.cfg.Name, ID: docs[i].ID}}
		if err := enc.Encode(&meta); err != nil {
			return err
		}
		if err := enc.Encode(&docs[i]); err != nil {
			return fmt.Errorf("encode document %s: %w", docs[i].ID, err)
		}
	}
	return nil
}

type bulkAction struct {
	Index bulkMeta `json:"index"`
}

type bulkMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id,omitempty"`
}

type bulkResponse struct {
	Took   int  `json:"took"`
	Errors bool `json:"errors"`
	Items  []struct {
		Index bulkItem `json:"index"`
	} `json:"items"`
}

type bulkItem struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

func (it bulkItem) failure(id string) model.DocFailure {
	f := model.DocFailure{ID: id, Status: it.Status}
	if it.Error != nil {
		f.Type = it.Error.Type
		f.Reason = it.Error.Reason
	}
	return f
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
