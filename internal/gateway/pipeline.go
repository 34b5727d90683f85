package gateway

import (
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/edgegate/internal/dispatch"
	"github.com/nao1215/edgegate/internal/identity"
	"github.com/nao1215/edgegate/internal/ratelimit"
	"github.com/nao1215/edgegate/internal/route"
	"github.com/nao1215/edgegate/pkg/event"
	"github.com/nao1215/edgegate/pkg/middleware"
)

// statusClientClosedRequest はクライアントが応答を待たずに切断したことを表す。
const statusClientClosedRequest = 499

// handlePipeline はルート照合・レート制限・認証・転送・応答変換を順に行うハンドラを返す。
// いずれかの段階で応答を書き込んだ場合、以降の段階は実行しない。
func (s *Server) handlePipeline() gin.HandlerFunc {
	return func(c *gin.Context) {
		rt, ok := s.routes.Match(c.Request.URL.Path)
		if !ok {
			respondError(c, ErrNotFound)
			return
		}

		decision, ok := s.admit(c)
		if !ok {
			return
		}

		id, ok := s.authenticate(c, rt, decision.Key)
		if !ok {
			return
		}

		s.forward(c, rt, id, decision.Key)
	}
}

// admit はレート制限を判定する。拒否した場合は429を書き込んでfalseを返す。
func (s *Server) admit(c *gin.Context) (ratelimit.Decision, bool) {
	d := s.admission.Admit(c.Request.Context(), c.Request)
	d.SetHeaders(c.Writer.Header())

	switch {
	case d.Exempt:
		s.metrics.ObserveAdmission("exempt")
		return d, true
	case d.Degraded:
		s.metrics.ObserveAdmission("degraded")
	case d.Allowed:
		s.metrics.ObserveAdmission("allowed")
	default:
		s.metrics.ObserveAdmission("rejected")
		s.emit(c, event.TypeRequestRejected, d.Key, event.RequestRejectedData{
			Limit:             d.Limit,
			RetryAfterSeconds: int64(math.Ceil(d.RetryAfter.Seconds())),
		})
		respondError(c, ErrRateLimited)
		return d, false
	}
	s.emit(c, event.TypeRequestAdmitted, d.Key, nil)
	return d, true
}

// authenticate はルートの認証モードに従って資格情報を検証する。
// 応答を書き込んだ場合はfalseを返す。匿名で続行する場合は(nil, true)を返す。
func (s *Server) authenticate(c *gin.Context, rt route.Route, clientKey string) (*identity.Identity, bool) {
	if rt.Auth == route.AuthNone {
		return nil, true
	}

	id, err := s.verifier.VerifyHeader(c.GetHeader("Authorization"))
	if err != nil {
		var ae *identity.AuthError
		if !errors.As(err, &ae) {
			ae = &identity.AuthError{Kind: identity.ErrInvalidSignature, Err: err}
		}

		if rt.Auth == route.AuthOptional {
			if !errors.Is(err, identity.ErrMissing) {
				s.metrics.ObserveAuthFailure(ae.Reason(), string(rt.Auth))
				s.optionalAuthLog.Do(func() {
					s.logger.Warn("任意認証ルートでトークンの検証に失敗したため匿名で転送します",
						zap.String("request_id", middleware.GetRequestID(c)),
						zap.String("route", rt.Prefix),
						zap.String("reason", ae.Reason()),
					)
				})
			}
			return nil, true
		}

		s.metrics.ObserveAuthFailure(ae.Reason(), string(rt.Auth))
		s.emit(c, event.TypeAuthenticationFailed, clientKey, event.AuthenticationFailedData{
			Reason: ae.Reason(),
			Route:  rt.Prefix,
		})
		respondError(c, ErrAuthentication.WithMessage(ae.Message()))
		return nil, false
	}

	if len(rt.Roles) > 0 && !id.HasAnyRole(rt.Roles) {
		respondError(c, ErrAuthorization)
		return nil, false
	}
	return id, true
}

// forward はリクエストをバックエンドへ転送し、結果をクライアントに返す。
func (s *Server) forward(c *gin.Context, rt route.Route, id *identity.Identity, clientKey string) {
	ctx := c.Request.Context()
	if id != nil {
		ctx = identity.NewContext(ctx, id)
	}

	out, err := s.dispatcher.Dispatch(ctx, rt, c.Request, id)
	if err != nil {
		if errors.Is(err, dispatch.ErrRequestBodyTooLarge) {
			respondError(c, ErrValidation.WithMessage("request body too large"))
			return
		}
		if errors.Is(err, dispatch.ErrPathMismatch) {
			respondError(c, ErrValidation.WithMessage("invalid request path"))
			return
		}
		s.logger.Error("転送の準備に失敗しました",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("service", rt.Service),
			zap.Error(err),
		)
		respondError(c, ErrInternal)
		return
	}

	switch {
	case out.Canceled:
		c.AbortWithStatus(statusClientClosedRequest)
	case out.Kind == dispatch.Timeout:
		respondError(c, ErrUpstreamTimeout)
	case out.Kind == dispatch.ConnectionError:
		respondError(c, ErrUpstreamUnavailable)
	default:
		writeUpstream(c, out)
	}

	data := event.RequestDispatchedData{
		Service:    rt.Service,
		Outcome:    out.Kind.String(),
		StatusCode: c.Writer.Status(),
		Attempts:   out.Attempts,
		LatencyMS:  out.Latency.Milliseconds(),
	}
	if id != nil {
		data.SubjectID = id.SubjectID
	}
	s.emit(c, event.TypeRequestDispatched, clientKey, data)
}

// writeUpstream はバックエンドの応答をそのまま書き込む。
// ゲートウェイが設定済みのヘッダー（リクエストIDやレート制限など）は上書きしない。
func writeUpstream(c *gin.Context, out dispatch.Outcome) {
	dst := c.Writer.Header()
	for k, vs := range out.Header {
		if _, exists := dst[k]; exists {
			continue
		}
		dst[k] = append([]string(nil), vs...)
	}
	c.Status(out.StatusCode)
	if len(out.Body) == 0 || c.Request.Method == http.MethodHead {
		c.Writer.WriteHeaderNow()
		return
	}
	_, _ = c.Writer.Write(out.Body)
}

// emit は監査イベントを記録する。失敗してもリクエストの処理は続行する。
func (s *Server) emit(c *gin.Context, typ event.Type, clientKey string, data any) {
	if s.audit == nil {
		return
	}
	e, err := event.New(typ, event.Meta{
		RequestID: middleware.GetRequestID(c),
		ClientKey: clientKey,
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
	}, data)
	if err != nil {
		s.logger.Warn("監査イベントの生成に失敗", zap.String("event_type", string(typ)), zap.Error(err))
		return
	}
	if err := s.audit.Record(c.Request.Context(), e); err != nil {
		s.logger.Warn("監査イベントの記録に失敗", zap.String("event_type", string(typ)), zap.Error(err))
	}
}
