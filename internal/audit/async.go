package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nao1215/edgegate/pkg/event"
)

// AsyncSink はバッファ付きチャネルを介して別のSinkへイベントを配送する。
// Recordはブロックしない。
type AsyncSink struct {
	next    Sink
	ch      chan *event.Event
	logger  *zap.Logger
	dropped atomic.Int64
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
}

// NewAsyncSink はワーカーを起動してAsyncSinkを返す。
func NewAsyncSink(next Sink, buffer int, logger *zap.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AsyncSink{
		next:   next,
		ch:     make(chan *event.Event, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for e := range s.ch {
		if err := s.next.Record(context.Background(), e); err != nil {
			s.logger.Warn("監査イベントの記録に失敗",
				zap.String("event_type", string(e.EventType)),
				zap.Error(err),
			)
		}
	}
}

// Record はイベントをキューに積む。キューが一杯の場合は破棄してnilを返す。
func (s *AsyncSink) Record(_ context.Context, e *event.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return nil
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// Dropped は破棄したイベント数を返す。
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close は新規受付を止め、キューに残ったイベントの配送完了かctxの終了を待つ。
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	select {
	case <-s.done:
		if n := s.dropped.Load(); n > 0 {
			s.logger.Warn("破棄された監査イベントがあります", zap.Int64("dropped", n))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
