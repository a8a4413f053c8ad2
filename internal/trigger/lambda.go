package trigger

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"flowlog-indexer/internal/model"

	"github.com/aws/aws-lambda-go/events"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidEvent 는 ObjectRef 로 바꿀 수 없는 이벤트 레코드.
var ErrInvalidEvent = errors.New("trigger: invalid s3 event record")

// Runner 는 object 하나를 처리한다 (*pipeline.Pipeline).
type Runner interface {
	Run(ctx context.Context, ref model.ObjectRef) (model.RunResult, error)
}

// Refs 는 S3 알림에서 ObjectCreated 레코드만 골라 ObjectRef 로 바꾼다.
//
// S3 알림의 key 는 form-encoding 되어 있다 ("a+b%3D.gz" → "a b=.gz").
// 삭제 등 다른 이벤트는 조용히 건너뛰고, 버킷/키가 비어 있으면 에러.
func Refs(ev events.S3Event) ([]model.ObjectRef, error) {
	refs := make([]model.ObjectRef, 0, len(ev.Records))

	for i, rec := range ev.Records {
		if rec.EventName != "" && !strings.HasPrefix(rec.EventName, "ObjectCreated:") {
			zlog.Debug().Str("event", rec.EventName).Msg("ignoring non-create event")
			continue
		}

		bucket := rec.S3.Bucket.Name
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: key %q: %v", ErrInvalidEvent, i, rec.S3.Object.Key, err)
		}
		if bucket == "" || key == "" {
			return nil, fmt.Errorf("%w: record %d: empty bucket or key", ErrInvalidEvent, i)
		}

		refs = append(refs, model.ObjectRef{
			Bucket: bucket,
			Key:    key,
			Size:   rec.S3.Object.Size,
		})
	}

	return refs, nil
}

// Handler
// ------------------------------------------------------------
// Lambda 진입점. 이벤트 하나에 여러 object 가 올 수 있으며
// 각각을 독립된 run 으로 최대 concurrency 개까지 동시에 돌린다.
//
// run 하나라도 Failed 면 에러를 반환해서 Lambda 가 이벤트 전체를 재전달하게 한다.
// 이미 Indexed 된 object 는 같은 _id 로 덮어쓰므로 중복 문서가 생기지 않는다.
type Handler struct {
	runner      Runner
	concurrency int
}

func NewHandler(r Runner, concurrency int) *Handler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Handler{runner: r, concurrency: concurrency}
}

// Handle 은 lambda.Start 에 그대로 넘길 수 있는 시그니처다.
func (h *Handler) Handle(ctx context.Context, ev events.S3Event) error {
	refs, err := Refs(ev)
	if err != nil {
		zlog.Error().Err(err).Int("records", len(ev.Records)).Msg("rejecting event")
		return err
	}
	if len(refs) == 0 {
		return nil
	}

	errs := make([]error, len(refs))

	var g errgroup.Group
	g.SetLimit(h.concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			if _, err := h.runner.Run(ctx, ref); err != nil {
				errs[i] = fmt.Errorf("%s: %w", ref, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}

	zlog.Info().Int("objects", len(refs)).Msg("event processed")
	return nil
}
