package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"flowlog-indexer/internal/config"
	"flowlog-indexer/internal/flowlog"
	"flowlog-indexer/internal/metrics"
	"flowlog-indexer/internal/model"
	"flowlog-indexer/internal/transform"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// ErrFetch 는 object 를 읽지 못한 경우 (없음, 권한, 네트워크).
// 재전달로 다시 시도할 수 있는 실패다.
var ErrFetch = errors.New("pipeline: fetch failed")

const (
	StageFetch     = "fetch"
	StageParse     = "parse"
	StageTransform = "transform"
	StageIndex     = "index"
)

// StageError 는 run 을 Failed 로 끝낸 단계와 원인.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// Fetcher 는 object 바이트 스트림을 연다 (*storage.S3).
type Fetcher interface {
	Open(ctx context.Context, ref model.ObjectRef) (io.ReadCloser, error)
}

// Indexer 는 문서를 쓴다 (*index.Client). 동시 호출에 안전해야 한다.
type Indexer interface {
	Index(ctx context.Context, docs []model.Document) (model.IndexResult, error)
}

// DeadLetterSink 는 인덱싱되지 못한 항목을 보관한다 (*storage.DeadLetter).
type DeadLetterSink interface {
	Save(ctx context.Context, ref model.ObjectRef, entries []model.DeadLetterEntry) error
}

// Pipeline
// ------------------------------------------------------------
// object 하나 = run 하나.
//
//	Triggered → Fetched → Parsed → Transformed → Indexed | Failed
//
// 단계는 순차 실행한다. object 전체를 parse/transform 한 뒤에야 쓰기를 시작하므로
// 압축 스트림이 중간에 깨져도 일부만 인덱싱되는 일은 없다.
//
// Pipeline 자체는 생성 후 불변이라 여러 run 이 동시에 Run 을 호출해도 된다.
type Pipeline struct {
	fetcher     Fetcher
	indexer     Indexer
	deadLetter  DeadLetterSink
	transformer *transform.Transformer
	metrics     *metrics.Metrics
}

// New 는 설정으로 Transformer 를 만들고 협력 객체들을 묶는다.
// deadLetter 는 nil 이면 비활성화.
func New(cfg config.Config, m *metrics.Metrics, f Fetcher, idx Indexer, deadLetter DeadLetterSink) (*Pipeline, error) {
	loc, err := time.LoadLocation(cfg.DateTimezone)
	if err != nil {
		return nil, fmt.Errorf("date timezone %q: %w", cfg.DateTimezone, err)
	}

	return &Pipeline{
		fetcher:    f,
		indexer:    idx,
		deadLetter: deadLetter,
		transformer: transform.New(
			transform.WithLocation(loc),
			transform.WithExcludedSources(cfg.ExcludeSrcAddrs...),
		),
		metrics: m,
	}, nil
}

// Run 은 object 하나를 끝까지 처리한다.
//
// 반환 에러가 nil 이면 State 는 Indexed 이고, skip 된 항목은 Warnings() 로 보고된다.
// 에러가 있으면 State 는 Failed 이며 에러는 *StageError 다.
func (p *Pipeline) Run(ctx context.Context, ref model.ObjectRef) (model.RunResult, error) {
	atomic.AddInt64(&p.metrics.RunsTotal, 1)

	r := &run{
		p:   p,
		res: model.RunResult{Object: ref, State: model.StateTriggered},
		log: zlog.With().Str("object", ref.String()).Logger(),
	}

	err := r.execute(ctx)
	if err != nil {
		r.res.State = model.StateFailed
		atomic.AddInt64(&p.metrics.RunsFailedTotal, 1)
		r.log.Error().Err(err).Int("indexed", r.res.Indexed).Msg("run failed")
		return r.res, err
	}

	atomic.AddInt64(&p.metrics.RunsIndexedTotal, 1)

	ev := r.log.Info()
	if r.res.Warnings() > 0 {
		ev = r.log.Warn()
	}
	ev.Int("lines", r.res.Lines).
		Int("records", r.res.Records).
		Int("indexed", r.res.Indexed).
		Int("parse_failures", r.res.ParseFailures).
		Int("transform_failures", r.res.TransformFailures).
		Int("index_failures", r.res.IndexFailures).
		Int("excluded", r.res.Excluded).
		Int("warnings", r.res.Warnings()).
		Msg("run indexed")

	return r.res, nil
}

// run 은 Run 호출 하나의 가변 상태. 다른 run 과 공유하지 않는다.
type run struct {
	p   *Pipeline
	res model.RunResult
	log zerolog.Logger

	deadLetters []model.DeadLetterEntry
}

func (r *run) advance(s model.RunState) {
	r.res.State = s
	r.log.Debug().Str("state", string(s)).Msg("run state")
}

func (r *run) execute(ctx context.Context) error {
	ref := r.res.Object

	// --- 1) Fetch ---
	body, err := r.p.fetcher.Open(ctx, ref)
	if err != nil {
		atomic.AddInt64(&r.p.metrics.FetchErrorsTotal, 1)
		return &StageError{Stage: StageFetch, Err: fmt.Errorf("%w: %w", ErrFetch, err)}
	}
	r.advance(model.StateFetched)

	// --- 2) Decompress & Parse ---
	tr := &trackingReader{r: body}
	records, parser, err := flowlog.ParseAll(tr)
	body.Close()
	if parser != nil {
		r.recordParse(parser)
	}
	if err != nil {
		// 본문 읽기 자체가 실패했다면 압축 포맷 문제가 아니라 fetch 실패다
		if tr.err != nil {
			atomic.AddInt64(&r.p.metrics.FetchErrorsTotal, 1)
			return &StageError{Stage: StageFetch, Err: fmt.Errorf("%w: %w", ErrFetch, tr.err)}
		}
		return &StageError{Stage: StageParse, Err: err}
	}
	r.advance(model.StateParsed)

	// --- 3) Transform ---
	docs := r.transform(records)
	r.advance(model.StateTransformed)

	// --- 4) Index ---
	if len(docs) > 0 {
		res, err := r.p.indexer.Index(ctx, docs)
		r.res.Indexed = res.Indexed
		r.res.IndexFailures = len(res.Failed)
		if err != nil {
			return &StageError{Stage: StageIndex, Err: err}
		}
		r.recordIndexFailures(docs, res.Failed)
	}
	r.advance(model.StateIndexed)

	r.saveDeadLetters(ctx)
	return nil
}

func (r *run) recordParse(parser *flowlog.Parser) {
	skipped := parser.Skipped()

	r.res.Lines = parser.Lines()
	r.res.Records = parser.Records()
	r.res.ParseFailures = len(skipped)

	atomic.AddInt64(&r.p.metrics.LinesTotal, int64(r.res.Lines))
	atomic.AddInt64(&r.p.metrics.RecordsParsedTotal, int64(r.res.Records))
	atomic.AddInt64(&r.p.metrics.ParseFailuresTotal, int64(len(skipped)))

	for _, le := range skipped {
		r.log.Debug().Int("line", le.Line).Str("reason", le.Reason).Msg("line skipped")
		r.deadLetters = append(r.deadLetters, model.DeadLetterEntry{
			Stage:  StageParse,
			Bucket: r.res.Object.Bucket,
			Key:    r.res.Object.Key,
			Line:   le.Line,
			Raw:    le.Raw,
			Reason: le.Reason,
		})
	}
}

func (r *run) transform(records []model.RawRecord) []model.Document {
	docs := make([]model.Document, 0, len(records))

	for _, rec := range records {
		doc, err := r.p.transformer.Transform(r.res.Object, rec)
		switch {
		case err == nil:
			docs = append(docs, doc)
		case errors.Is(err, transform.ErrExcluded):
			r.res.Excluded++
		default:
			r.res.TransformFailures++
			r.log.Debug().Int("line", rec.Line).Err(err).Msg("record rejected")
			r.deadLetters = append(r.deadLetters, model.DeadLetterEntry{
				Stage:  StageTransform,
				Bucket: r.res.Object.Bucket,
				Key:    r.res.Object.Key,
				Line:   rec.Line,
				Raw:    rec.Raw(),
				Reason: err.Error(),
			})
		}
	}

	atomic.AddInt64(&r.p.metrics.TransformFailuresTotal, int64(r.res.TransformFailures))
	atomic.AddInt64(&r.p.metrics.RecordsExcludedTotal, int64(r.res.Excluded))
	return docs
}

func (r *run) recordIndexFailures(docs []model.Document, failed []model.DocFailure) {
	if len(failed) == 0 {
		return
	}

	byID := make(map[string]int, len(docs))
	for i := range docs {
		byID[docs[i].ID] = i
	}

	for _, f := range failed {
		entry := model.DeadLetterEntry{
			Stage:  StageIndex,
			Bucket: r.res.Object.Bucket,
			Key:    r.res.Object.Key,
			Reason: fmt.Sprintf("status=%d type=%s reason=%s id=%s", f.Status, f.Type, f.Reason, f.ID),
		}
		if i, ok := byID[f.ID]; ok {
			doc := docs[i]
			entry.Line = doc.Source.Line
			entry.Doc = &doc
		}
		r.log.Debug().Str("id", f.ID).Int("status", f.Status).Str("reason", f.Reason).Msg("document rejected")
		r.deadLetters = append(r.deadLetters, entry)
	}
}

// saveDeadLetters 실패는 run 결과를 바꾸지 않는다.
func (r *run) saveDeadLetters(ctx context.Context) {
	if r.p.deadLetter == nil || len(r.deadLetters) == 0 {
		return
	}
	if err := r.p.deadLetter.Save(ctx, r.res.Object, r.deadLetters); err != nil {
		r.log.Error().Err(err).Int("entries", len(r.deadLetters)).Msg("dead-letter save failed")
		return
	}
	r.res.DeadLettered = len(r.deadLetters)
}

// trackingReader 는 fetch 스트림의 읽기 에러를 기억해서
// gzip 포맷 오류와 네트워크 오류를 구분할 수 있게 한다.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(b []byte) (int, error) {
	n, err := t.r.Read(b)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
