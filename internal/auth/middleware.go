package auth

import (
	"errors"
	"net/http"
	"time"
)

// MiddlewareConfig 描述一组路由的权限要求。
type MiddlewareConfig struct {
	// RequiredPermissions 按 HTTP 方法给出所需权限，键 "*" 作为兜底。
	RequiredPermissions map[string][]string
	// AuditEvent 是审计日志中的事件名，为空时使用请求路径。
	AuditEvent string
}

func (cfg MiddlewareConfig) permissionsFor(method string) []string {
	if perms, ok := cfg.RequiredPermissions[method]; ok && len(perms) > 0 {
		return perms
	}
	return cfg.RequiredPermissions["*"]
}

func (cfg MiddlewareConfig) event(r *http.Request) string {
	if cfg.AuditEvent != "" {
		return cfg.AuditEvent
	}
	return r.URL.Path
}

// statusFor 把认证错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSubjectRevoked), errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Middleware 校验 API Key 与路由权限，并为放行的请求写审计日志。认证关闭时直接放行。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"), r.Header.Get("X-API-Key"))
			if err == nil {
				err = subject.Authorize(cfg.permissionsFor(r.Method)...)
			}
			if err != nil {
				s.deny(w, r, cfg.event(r), subject, err)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(WithSubject(r.Context(), subject)))
			s.audit.Info("api_request",
				"event", cfg.event(r),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"key", subject.Name,
			)
		})
	}
}

func (s *Service) deny(w http.ResponseWriter, r *http.Request, event string, subject *Subject, err error) {
	status := statusFor(err)
	http.Error(w, http.StatusText(status), status)

	attrs := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err.Error(),
	}
	if subject != nil {
		attrs = append(attrs, "key", subject.Name)
	}
	s.audit.Warn("access_denied", attrs...)
}

// statusRecorder 记录下游写出的状态码。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
