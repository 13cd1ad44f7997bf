package auth

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"

	xerrors "SalesIntel/internal/errors"
	"SalesIntel/pkg/logger"
)

// Config configures the authentication service.
type Config struct {
	Enabled bool
	Keys    []Key
}

// Service 负责 HTTP 端点的 API Key 认证与授权。
type Service struct {
	enabled bool
	store   Store
	audit   *slog.Logger
}

// NewService 根据配置构造认证服务。store 为空时使用配置中的密钥建立内存存储。
func NewService(cfg Config, store Store) (*Service, error) {
	svc := &Service{enabled: cfg.Enabled, store: store, audit: logger.Audit()}
	if !cfg.Enabled {
		return svc, nil
	}
	if svc.store == nil {
		if len(cfg.Keys) == 0 {
			return nil, xerrors.New(xerrors.CodeConfigInvalid, "auth is enabled but no keys are configured")
		}
		mem, err := NewMemoryStore(cfg.Keys)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "load api keys")
		}
		svc.store = mem
	}
	return svc, nil
}

// Enabled 报告是否启用了认证。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// AuthenticateRequest 从 Authorization 或 X-API-Key 头解析调用方。
func (s *Service) AuthenticateRequest(ctx context.Context, authorization, apiKey string) (*Subject, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	secret := strings.TrimSpace(apiKey)
	if secret == "" {
		secret = bearerToken(authorization)
	}
	if secret == "" {
		return nil, ErrMissingToken
	}
	subject, err := s.store.Lookup(ctx, secret)
	if err != nil {
		if stdErrors.Is(err, ErrMissingToken) || stdErrors.Is(err, ErrInvalidToken) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "lookup api key")
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	return subject, nil
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
