// internal/worker/manager.go
package worker

import (
	"context"
	"sync"

	"flowlog-indexer/internal/config"
	"flowlog-indexer/internal/model"
	"flowlog-indexer/internal/trigger"

	zlog "github.com/rs/zerolog/log"
)

// Manager 는 server 모드의 run 실행기다.
// HTTP 로 들어온 ObjectRef 를 큐(jobs)에 쌓고 Workers 개의 goroutine 이 꺼내
// pipeline run 을 하나씩 돌린다.
//
//   - Enqueue: HTTP → Manager. 큐가 가득 차면 false (백프레셔)
//   - runLoop: run 실행. Failed 는 로그만 남기고 다음 object 로 넘어간다
//     (재전달은 알림을 보낸 쪽 책임)
//
// Shutdown 은 더 이상 받지 않고 큐에 남은 object 를 모두 처리한 뒤 반환한다.
type Manager struct {
	cfg    config.Config
	runner trigger.Runner

	jobs chan model.ObjectRef

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewManager(cfg config.Config, r trigger.Runner) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		runner: r,
		jobs:   make(chan model.ObjectRef, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 는 Workers 개의 runLoop 를 띄운다.
func (m *Manager) Start() {
	n := m.cfg.Workers
	if n < 1 {
		n = 1
	}
	m.wg.Add(n)
	for i := 0; i < n; i++ {
		go m.runLoop(i)
	}
}

// Enqueue 는 blocking 하지 않는다. 큐가 가득 찼거나 종료 중이면 false.
func (m *Manager) Enqueue(ref model.ObjectRef) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}

	select {
	case m.jobs <- ref:
		return true
	default:
		return false
	}
}

// Pending 은 아직 시작되지 않은 run 수.
func (m *Manager) Pending() int {
	return len(m.jobs)
}

// Shutdown 은 큐를 닫고 남은 run 이 끝날 때까지 기다린다.
// ctx 가 먼저 끝나면 진행 중인 run 을 취소하고 ctx.Err() 를 돌려준다.
// 여러 번 호출해도 안전하다.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.jobs)
		m.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}

func (m *Manager) runLoop(id int) {
	defer m.wg.Done()

	for ref := range m.jobs {
		res, err := m.runner.Run(m.ctx, ref)
		if err != nil {
			zlog.Warn().Int("worker", id).Str("object", ref.String()).Str("state", string(res.State)).Err(err).Msg("run not indexed")
		}
	}
	zlog.Debug().Int("worker", id).Msg("worker exiting")
}
