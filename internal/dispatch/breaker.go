package dispatch

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/nao1215/edgegate/internal/metrics"
)

// BreakerConfig はサーキットブレーカーの設定。
type BreakerConfig struct {
	// Threshold は開くまでの連続失敗回数。0以下で無効。
	Threshold uint32
	// OpenTimeout は開いてから半開状態に移るまでの時間。
	OpenTimeout time.Duration
	// HalfOpenRequests は半開状態で通す試験リクエスト数。
	HalfOpenRequests uint32
}

var errUnavailable = errors.New("upstream unavailable")

type breaker struct {
	cb *gobreaker.CircuitBreaker
}

func newBreaker(service string, cfg BreakerConfig, logger *zap.Logger, m *metrics.Metrics) *breaker {
	halfOpen := cfg.HalfOpenRequests
	if halfOpen == 0 {
		halfOpen = 1
	}
	m.SetBreakerState(service, 0)
	settings := gobreaker.Settings{
		Name:        service,
		MaxRequests: halfOpen,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("サーキットブレーカーの状態が変化しました",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			m.SetBreakerState(name, stateValue(to))
		},
	}
	return &breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// run はcallをブレーカー越しに実行する。開いている場合はcallを呼ばずにConnectionErrorを返す。
// タイムアウトと接続エラーのみを失敗として数え、クライアントのキャンセルは数えない。
func (b *breaker) run(call func() Outcome) Outcome {
	var o Outcome
	_, err := b.cb.Execute(func() (interface{}, error) {
		o = call()
		if !o.Responded() && !o.Canceled {
			return nil, errUnavailable
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Outcome{Kind: ConnectionError, Err: ErrCircuitOpen}
	}
	return o
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
