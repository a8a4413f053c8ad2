package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"flowlog-indexer/internal/config"
	"flowlog-indexer/internal/flowlog"
	"flowlog-indexer/internal/index"
	"flowlog-indexer/internal/metrics"
	"flowlog-indexer/internal/model"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "version account-id interface-id srcaddr dstaddr srcport dstport protocol packets bytes start end action log-status"

func line(i int) string {
	return fmt.Sprintf("2 123456789010 eni-1235b8ca123456789 172.31.16.%d 172.31.16.21 20641 22 6 20 4249 1418530010 1418530070 ACCEPT OK", i)
}

func gz(t *testing.T, lines ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type fakeFetcher struct {
	objects map[string][]byte
	err     error
	readErr error // 본문 중간에 끊기는 경우
}

func (f *fakeFetcher) Open(ctx context.Context, ref model.ObjectRef) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[ref.String()]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	if f.readErr != nil {
		return io.NopCloser(io.MultiReader(bytes.NewReader(data[:len(data)/2]), errReader{f.readErr})), nil
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// fakeIndex 는 _id → 문서를 보관하는 인덱스 대역.
type fakeIndex struct {
	mu     sync.Mutex
	docs   map[string]model.Document
	reject map[string]bool
	err    error
	calls  int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: map[string]model.Document{}, reject: map[string]bool{}}
}

func (f *fakeIndex) Index(ctx context.Context, docs []model.Document) (model.IndexResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return model.IndexResult{}, f.err
	}
	var res model.IndexResult
	for _, d := range docs {
		if f.reject[d.SrcAddr] {
			res.Failed = append(res.Failed, model.DocFailure{ID: d.ID, Status: 400, Type: "mapper_parsing_exception", Reason: "bad field"})
			continue
		}
		f.docs[d.ID] = d
		res.Indexed++
	}
	return res, nil
}

type fakeDeadLetter struct {
	saved []model.DeadLetterEntry
	err   error
}

func (f *fakeDeadLetter) Save(ctx context.Context, ref model.ObjectRef, entries []model.DeadLetterEntry) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, entries...)
	return nil
}

var ref = model.ObjectRef{Bucket: "flowlogs", Key: "AWSLogs/123456789010/vpcflowlogs/ap-southeast-1/2024/05/01/a.log.gz"}

func newPipeline(t *testing.T, fetch Fetcher, idx Indexer, dl DeadLetterSink) (*Pipeline, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	p, err := New(config.Config{DateTimezone: "UTC"}, m, fetch, idx, dl)
	require.NoError(t, err)
	return p, m
}

func TestRun_ValidAndTruncatedLines(t *testing.T) {
	fetch := &fakeFetcher{objects: map[string][]byte{ref.String(): gz(t,
		header,
		line(1),
		line(2),
		"2 123456789010 eni-1235b8ca123456789 172.31.16.139 172.31", // truncated
		line(3),
	)}}
	idx := newFakeIndex()
	dl := &fakeDeadLetter{}
	p, m := newPipeline(t, fetch, idx, dl)

	res, err := p.Run(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, model.StateIndexed, res.State)
	assert.Equal(t, 3, res.Indexed)
	assert.Equal(t, 3, res.Records)
	assert.Equal(t, 1, res.ParseFailures)
	assert.Equal(t, 1, res.Warnings())
	assert.Len(t, idx.docs, 3)

	require.Len(t, dl.saved, 1)
	assert.Equal(t, StageParse, dl.saved[0].Stage)
	assert.Equal(t, 4, dl.saved[0].Line)
	assert.Equal(t, 1, res.DeadLettered)

	assert.Equal(t, int64(1), m.RunsIndexedTotal)
	assert.Equal(t, int64(1), m.ParseFailuresTotal)
	assert.Equal(t, int64(3), m.RecordsParsedTotal)
}

func TestRun_OverLongLineIsWarning(t *testing.T) {
	fetch := &fakeFetcher{objects: map[string][]byte{ref.String(): gz(t,
		header,
		line(1),
		strings.Repeat("x", 2<<20),
		line(2),
	)}}
	idx := newFakeIndex()
	p, _ := newPipeline(t, fetch, idx, nil)

	res, err := p.Run(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, model.StateIndexed, res.State)
	assert.Equal(t, 2, res.Indexed)
	assert.Equal(t, 1, res.ParseFailures)
}

func TestRun_IdempotentRerun(t *testing.T) {
	fetch := &fakeFetcher{objects: map[string][]byte{ref.String(): gz(t, header, line(1), line(2))}}
	idx := newFakeIndex()
	p, _ := newPipeline(t, fetch, idx, nil)

	for i := 0; i < 3; i++ {
		res, err := p.Run(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Indexed)
	}
	assert.Len(t, idx.docs, 2)
}

func TestRun_TransformFailuresAndExclusions(t *testing.T) {
	fetch := &fakeFetcher{objects: map[string][]byte{ref.String(): gz(t,
		header,
		line(1),
		"2 123456789010 eni-1 172.31.16.9 172.31.16.21 20641 22 6 20 4249 1418530070 1418530010 ACCEPT OK", // end < start
		"2 123456789010 eni-1 10.9.9.9 172.31.16.21 20641 22 6 20 4249 1418530010 1418530070 ACCEPT OK",
	)}}
	idx := newFakeIndex()
	dl := &fakeDeadLetter{}

	m := metrics.New()
	p, err := New(config.Config{DateTimezone: "UTC", ExcludeSrcAddrs: []string{"10.9.9.9"}}, m, fetch, idx, dl)
	require.NoError(t, err)

	res, err := p.Run(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, model.StateIndexed, res.State)
	assert.Equal(t, 1, res.Indexed)
	assert.Equal(t, 1, res.TransformFailures)
	assert.Equal(t, 1, res.Excluded)
	assert.Equal(t, 1, res.Warnings())

	require.Len(t, dl.saved, 1)
	assert.Equal(t, StageTransform, dl.saved[0].Stage)
	assert.Contains(t, dl.saved[0].Raw, "172.31.16.9")
	assert.Equal(t, int64(1), m.RecordsExcludedTotal)
}

func TestRun_DocumentRejectionsAreWarnings(t *testing.T) {
	fetch := &fakeFetcher{objects: map[string][]byte{ref.String(): gz(t, header, line(1), line(2))}}
	idx := newFakeIndex()
	idx.reject["172.31.16.2"] = true
	dl := &fakeDeadLetter{}
	p, _ := newPipeline(t, fetch, idx, dl)

	res, err := p.Run(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, model.StateIndexed, res.State)
	assert.Equal(t, 1, res.Indexed)
	assert.Equal(t, 1, res.IndexFailures)

	require.Len(t, dl.saved, 1)
	assert.Equal(t, StageIndex, dl.saved[0].Stage)
	require.NotNil(t, dl.saved[0].Doc)
	assert.Equal(t, "172.31.16.2", dl.saved[0].Doc.SrcAddr)
	assert.Equal(t, 3, dl.saved[0].Line)
}

func TestRun_DeadLetterFailureKeepsRunIndexed(t *testing.T) {
	fetch := &fakeFetcher{objects: map[string][]byte{ref.String(): gz(t, header, line(1), "broken")}}
	p, _ := newPipeline(t, fetch, newFakeIndex(), &fakeDeadLetter{err: errors.New("s3 down")})

	res, err := p.Run(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, model.StateIndexed, res.State)
	assert.Zero(t, res.DeadLettered)
}

func TestRun_IndexUnreachable(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	transport := srv.Client().Transport
	url := srv.URL
	srv.Close()

	m := metrics.New()
	client, err := index.New(config.Index{
		Endpoint: url,
		Name:     "vpcflowlog",
		Username: "admin",
		Password: "s3cret",
		BulkSize: 500,
		Retries:  0,
		Timeout:  time.Second,
		Refresh:  "false",
	}, m, index.WithTransport(transport))
	require.NoError(t, err)

	fetch := &fakeFetcher{objects: map[string][]byte{ref.String(): gz(t, header, line(1), line(2))}}
	dl := &fakeDeadLetter{}
	p, err := New(config.Config{DateTimezone: "UTC"}, m, fetch, client, dl)
	require.NoError(t, err)

	res, err := p.Run(context.Background(), ref)
	require.Error(t, err)
	assert.ErrorIs(t, err, index.ErrUnavailable)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageIndex, se.Stage)

	assert.Equal(t, model.StateFailed, res.State)
	assert.Zero(t, res.Indexed)
	assert.Empty(t, dl.saved)
	assert.Equal(t, int64(1), m.RunsFailedTotal)
}

func TestRun_MalformedStream(t *testing.T) {
	data := gz(t, header, line(1), line(2))
	data[len(data)-6] ^= 0xff // CRC 손상

	for name, body := range map[string][]byte{
		"not gzip": []byte("2 123456789010 eni-1 plain text"),
		"corrupt":  data,
	} {
		t.Run(name, func(t *testing.T) {
			idx := newFakeIndex()
			p, _ := newPipeline(t, &fakeFetcher{objects: map[string][]byte{ref.String(): body}}, idx, nil)

			res, err := p.Run(context.Background(), ref)
			require.ErrorIs(t, err, flowlog.ErrMalformedStream)
			assert.Equal(t, model.StateFailed, res.State)
			assert.Zero(t, idx.calls)
		})
	}
}

func TestRun_FetchError(t *testing.T) {
	idx := newFakeIndex()
	p, m := newPipeline(t, &fakeFetcher{err: errors.New("AccessDenied")}, idx, nil)

	res, err := p.Run(context.Background(), ref)
	require.ErrorIs(t, err, ErrFetch)
	assert.Equal(t, model.StateFailed, res.State)
	assert.Zero(t, idx.calls)
	assert.Equal(t, int64(1), m.FetchErrorsTotal)
}

func TestRun_BodyReadErrorIsFetchError(t *testing.T) {
	data := gz(t, header, line(1), line(2))
	boom := errors.New("connection reset by peer")
	idx := newFakeIndex()
	p, _ := newPipeline(t, &fakeFetcher{objects: map[string][]byte{ref.String(): data}, readErr: boom}, idx, nil)

	_, err := p.Run(context.Background(), ref)
	require.ErrorIs(t, err, ErrFetch)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, idx.calls)
}

func TestRun_EmptyObject(t *testing.T) {
	idx := newFakeIndex()
	p, _ := newPipeline(t, &fakeFetcher{objects: map[string][]byte{ref.String(): gz(t, header)}}, idx, nil)

	res, err := p.Run(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, model.StateIndexed, res.State)
	assert.Zero(t, res.Indexed)
	assert.Zero(t, idx.calls)
}

func TestNew_InvalidTimezone(t *testing.T) {
	_, err := New(config.Config{DateTimezone: "Mars/Olympus"}, metrics.New(), &fakeFetcher{}, newFakeIndex(), nil)
	assert.Error(t, err)
}
