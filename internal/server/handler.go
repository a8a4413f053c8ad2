package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync/atomic"

	"flowlog-indexer/internal/config"
	"flowlog-indexer/internal/metrics"
	"flowlog-indexer/internal/model"
	"flowlog-indexer/internal/pool"
	"flowlog-indexer/internal/trigger"

	"github.com/aws/aws-lambda-go/events"
	json "github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"
)

// Queue 는 run 을 비동기로 받아주는 쪽 (*worker.Manager).
type Queue interface {
	Enqueue(ref model.ObjectRef) bool
}

type Handler struct {
	cfg     config.Config
	metrics *metrics.Metrics
	queue   Queue
}

func NewHandler(cfg config.Config, m *metrics.Metrics, q Queue) *Handler {
	return &Handler{
		cfg:     cfg,
		metrics: m,
		queue:   q,
	}
}

type ingestResponse struct {
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HandleIngest
//
// S3 ObjectCreated 알림(JSON)을 받아 object 마다 run 을 큐에 넣는다.
// 실제 처리는 비동기라 응답은 202 이고, 결과는 로그와 /metrics 로 확인한다.
//
//  1. 요청 길이 제한(MaxBodySize)
//  2. BodyPool 기반 메모리 재사용
//  3. S3 이벤트 → ObjectRef (key URL 디코딩)
//  4. 큐가 가득 차면 503. 이미 넣은 object 는 그대로 처리되므로
//     알림을 다시 보내도 같은 _id 로 덮어쓸 뿐이다.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	atomic.AddInt64(&h.metrics.HTTPRequestsTotal, 1)

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize)
	defer r.Body.Close()

	buf := pool.BodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBody(buf, h.cfg.MaxBodySize*2)

	if _, err := io.Copy(buf, r.Body); err != nil {
		atomic.AddInt64(&h.metrics.HTTPRequestsRejectedInvalidTotal, 1)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reply(w, http.StatusRequestEntityTooLarge, ingestResponse{Error: "body too large"})
			return
		}
		// 클라이언트 연결 끊김, read timeout 등
		h.reply(w, http.StatusBadRequest, ingestResponse{Error: "read body: " + err.Error()})
		return
	}

	var ev events.S3Event
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		atomic.AddInt64(&h.metrics.HTTPRequestsRejectedInvalidTotal, 1)
		h.reply(w, http.StatusBadRequest, ingestResponse{Error: "invalid s3 event json"})
		return
	}

	refs, err := trigger.Refs(ev)
	if err != nil {
		atomic.AddInt64(&h.metrics.HTTPRequestsRejectedInvalidTotal, 1)
		h.reply(w, http.StatusBadRequest, ingestResponse{Error: err.Error()})
		return
	}

	var resp ingestResponse
	for _, ref := range refs {
		if !h.queue.Enqueue(ref) {
			resp.Rejected = len(refs) - resp.Accepted
			break
		}
		resp.Accepted++
	}
	atomic.AddInt64(&h.metrics.HTTPObjectsAcceptedTotal, int64(resp.Accepted))

	if resp.Rejected > 0 {
		atomic.AddInt64(&h.metrics.HTTPRequestsRejectedQueueFullTotal, 1)
		zlog.Warn().Int("accepted", resp.Accepted).Int("rejected", resp.Rejected).Msg("run queue full")
		resp.Error = "queue full"
		h.reply(w, http.StatusServiceUnavailable, resp)
		return
	}

	h.reply(w, http.StatusAccepted, resp)
}

// HandleMetrics
//
// 카운터 값들을 name=value 줄로 출력한다.
func (h *Handler) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.metrics.String())
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

// Routes 는 server 모드의 mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", h.HandleIngest)
	mux.HandleFunc("/metrics", h.HandleMetrics)
	mux.HandleFunc("/health", h.HandleHealth)
	return mux
}

func (h *Handler) reply(w http.ResponseWriter, code int, body ingestResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
