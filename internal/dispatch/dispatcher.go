package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nao1215/edgegate/internal/identity"
	"github.com/nao1215/edgegate/internal/metrics"
	"github.com/nao1215/edgegate/internal/registry"
	"github.com/nao1215/edgegate/internal/route"
	"github.com/nao1215/edgegate/pkg/httpclient"
)

// DefaultBackoff はリトライ間の既定の待ち時間。
const DefaultBackoff = 100 * time.Millisecond

const tracerName = "github.com/nao1215/edgegate/internal/dispatch"

var (
	// ErrRequestBodyTooLarge はリクエストボディが上限を超えたことを表す。
	ErrRequestBodyTooLarge = errors.New("request body too large")
	// ErrCircuitOpen はサーキットブレーカーが開いているため呼び出さなかったことを表す。
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrPathMismatch はエスケープ済みのパスがルートのプレフィックスと対応しないことを表す。
	ErrPathMismatch = errors.New("request path does not match route prefix")
)

// Resolver はサービス名からエントリを解決する。registry.Registry が満たす。
type Resolver interface {
	Resolve(name string) (registry.ServiceEntry, error)
	Names() []string
}

// Dispatcher はバックエンドへの転送を行う。並行に使用できる。
type Dispatcher struct {
	registry   Resolver
	client     *http.Client
	logger     *zap.Logger
	metrics    *metrics.Metrics
	backoff    time.Duration
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	breakers   map[string]*breaker
	breakerCfg *BreakerConfig
}

// Option はDispatcherの設定を変更する。
type Option func(*Dispatcher)

// WithHTTPClient はバックエンド通信に使うクライアントを差し替える。
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithLogger はロガーを設定する。
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics はメトリクスを設定する。
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithBackoff はリトライ間の待ち時間を設定する。
func WithBackoff(b time.Duration) Option {
	return func(d *Dispatcher) { d.backoff = b }
}

// WithTracerProvider はスパンの出力先を設定する。
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) { d.tracer = tp.Tracer(tracerName) }
}

// WithBreaker はサービスごとのサーキットブレーカーを有効にする。
func WithBreaker(cfg BreakerConfig) Option {
	return func(d *Dispatcher) { d.breakerCfg = &cfg }
}

// New は新しいDispatcherを生成する。
func New(reg Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:   reg,
		logger:     zap.NewNop(),
		backoff:    DefaultBackoff,
		tracer:     otel.Tracer(tracerName),
		propagator: otel.GetTextMapPropagator(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = httpclient.New(nil)
	}
	if d.breakerCfg != nil && d.breakerCfg.Threshold > 0 {
		d.breakers = make(map[string]*breaker)
		for _, name := range reg.Names() {
			d.breakers[name] = newBreaker(name, *d.breakerCfg, d.logger, d.metrics)
		}
	}
	return d
}

// Dispatch はリクエストをルートのサービスへ転送する。
// 返すerrorはゲートウェイ内部の失敗（ボディの読み取り失敗等）に限られ、
// バックエンドの失敗はOutcomeで表す。
func (d *Dispatcher) Dispatch(ctx context.Context, rt route.Route, r *http.Request, id *identity.Identity) (Outcome, error) {
	entry, err := d.registry.Resolve(rt.Service)
	if err != nil {
		return Outcome{}, fmt.Errorf("転送先の解決に失敗: %w", err)
	}

	rest, ok := rt.StripEscapedPrefix(r.URL.EscapedPath())
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrPathMismatch, r.URL.EscapedPath())
	}

	body, err := readBody(r)
	if err != nil {
		return Outcome{}, err
	}

	target := targetURL(entry.BaseURL, rest, r.URL.RawQuery)
	header := outboundHeader(r, id)

	ctx, span := d.tracer.Start(ctx, "dispatch "+entry.Name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.service", entry.Name),
			attribute.String("gateway.route", rt.Prefix),
			attribute.String("http.request.method", r.Method),
			attribute.String("url.full", target.String()),
		),
	)
	defer span.End()
	d.propagator.Inject(ctx, propagation.HeaderCarrier(header))

	start := time.Now()
	call := func() Outcome {
		return d.withRetry(ctx, entry, r.Method, r.URL.Path, target, header, body)
	}

	var o Outcome
	if b, ok := d.breakers[entry.Name]; ok {
		o = b.run(call)
	} else {
		o = call()
	}
	o.Latency = time.Since(start)

	span.SetAttributes(
		attribute.String("gateway.outcome", o.Kind.String()),
		attribute.Int("gateway.attempts", o.Attempts),
	)
	if o.Responded() {
		span.SetAttributes(attribute.Int("http.response.status_code", o.StatusCode))
	}
	if o.Kind == Timeout || o.Kind == ConnectionError {
		span.SetStatus(codes.Error, o.Kind.String())
		if o.Err != nil {
			span.RecordError(o.Err)
		}
	}
	d.metrics.ObserveDispatch(entry.Name, r.Method, o.Kind.String(), o.Attempts, o.Latency)
	return o, nil
}

// withRetry は試行を繰り返す。べき等なメソッドのみリトライする。
func (d *Dispatcher) withRetry(ctx context.Context, entry registry.ServiceEntry, method, path string, target *url.URL, header http.Header, body []byte) Outcome {
	maxAttempts := 1
	if idempotent(method) {
		maxAttempts += entry.MaxRetries
	}

	var o Outcome
	for attempt := 1; ; attempt++ {
		started := time.Now()
		o = d.attempt(ctx, entry, method, target, header, body)
		o.Attempts = attempt
		d.logAttempt(entry.Name, method, path, target, o, attempt, time.Since(started))

		if o.Responded() || o.Canceled || attempt >= maxAttempts {
			return o
		}
		if !sleep(ctx, d.backoff) {
			o.Canceled = true
			o.Err = ctx.Err()
			return o
		}
	}
}

// attempt は1回の呼び出しを行う。タイムアウトは応答ボディの読み取りまで含む。
func (d *Dispatcher) attempt(ctx context.Context, entry registry.ServiceEntry, method string, target *url.URL, header http.Header, body []byte) Outcome {
	actx, cancel := context.WithTimeout(ctx, entry.Timeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(actx, method, target.String(), reader)
	if err != nil {
		return Outcome{Kind: ConnectionError, Err: fmt.Errorf("転送リクエストの作成に失敗: %w", err)}
	}
	req.Header = header.Clone()
	req.ContentLength = int64(len(body))

	resp, err := d.client.Do(req)
	if err != nil {
		return failure(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(ctx, err)
	}

	kind := Success
	if resp.StatusCode >= http.StatusBadRequest {
		kind = UpstreamError
	}
	return Outcome{
		Kind:       kind,
		StatusCode: resp.StatusCode,
		Header:     inboundHeader(resp.Header),
		Body:       respBody,
	}
}

// failure は送信エラーを分類する。
func failure(parent context.Context, err error) Outcome {
	switch {
	case parent.Err() != nil:
		return Outcome{Kind: ConnectionError, Canceled: true, Err: parent.Err()}
	case httpclient.IsTimeout(err):
		return Outcome{Kind: Timeout, Err: err}
	default:
		return Outcome{Kind: ConnectionError, Err: err}
	}
}

func (d *Dispatcher) logAttempt(service, method, path string, target *url.URL, o Outcome, attempt int, latency time.Duration) {
	fields := []zap.Field{
		zap.String("service", service),
		zap.String("method", method),
		zap.String("path", path),
		zap.String("target", target.String()),
		zap.String("outcome", o.Kind.String()),
		zap.Int("attempt", attempt),
		zap.Duration("latency", latency),
	}
	switch {
	case o.Canceled:
		d.logger.Info("クライアントの切断により転送を中止しました", fields...)
	case o.Responded():
		d.logger.Info("転送しました", append(fields, zap.Int("status", o.StatusCode))...)
	default:
		d.logger.Warn("転送に失敗しました", append(fields, zap.Error(o.Err))...)
	}
}

func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// sleep はdだけ待つ。ctxが先に終了した場合はfalseを返す。
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// readBody はリクエストボディを一度だけ読み取る。リトライ時に再送するため保持する。
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, fmt.Errorf("%w: 上限は%dバイトです", ErrRequestBodyTooLarge, mbe.Limit)
		}
		return nil, fmt.Errorf("リクエストボディの読み取りに失敗: %w", err)
	}
	return b, nil
}

// targetURL はベースURLのパスの下にエスケープ済みのパスを連結する。
func targetURL(base *url.URL, escapedPath, rawQuery string) *url.URL {
	u := *base
	joined := strings.TrimRight(base.EscapedPath(), "/") + escapedPath
	if p, err := url.PathUnescape(joined); err == nil {
		u.Path = p
		u.RawPath = joined
	} else {
		u.Path = joined
		u.RawPath = ""
	}
	u.RawQuery = rawQuery
	u.Fragment = ""
	return &u
}
