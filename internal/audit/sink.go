package audit

import (
	"context"
	"sync"

	"github.com/nao1215/edgegate/pkg/event"
)

// Sink はイベントの配送先。
type Sink interface {
	Record(ctx context.Context, e *event.Event) error
}

// NopSink はイベントを破棄するSink。
type NopSink struct{}

// Record はSinkを実装する。
func (NopSink) Record(context.Context, *event.Event) error { return nil }

// MemorySink はイベントをメモリ上に保持するSink。
type MemorySink struct {
	mu     sync.Mutex
	events []*event.Event
	counts map[event.Type]int
}

// NewMemorySink は新しいMemorySinkを生成する。
func NewMemorySink() *MemorySink {
	return &MemorySink{counts: make(map[event.Type]int)}
}

// Record はSinkを実装する。
func (s *MemorySink) Record(_ context.Context, e *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	s.counts[e.EventType]++
	return nil
}

// Events は記録されたイベントのコピーを返す。
func (s *MemorySink) Events() []*event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*event.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Count は種類ごとの記録件数を返す。
func (s *MemorySink) Count(t event.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[t]
}
