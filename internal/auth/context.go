package auth

import "context"

type contextKey int

const subjectContextKey contextKey = iota

// anonymousCaller 是未启用认证时记录到审计日志中的调用方名称。
const anonymousCaller = "anonymous"

// WithSubject 把认证后的调用方附加到 ctx。subject 为 nil 时原样返回。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	return context.WithValue(ctx, subjectContextKey, subject.Clone())
}

// SubjectFromContext 取出调用方，请求未经认证时返回 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	subject, _ := ctx.Value(subjectContextKey).(*Subject)
	return subject
}

// CallerName 返回调用方的密钥名称，用于审计日志。
func CallerName(ctx context.Context) string {
	if subject := SubjectFromContext(ctx); subject != nil && subject.Name != "" {
		return subject.Name
	}
	return anonymousCaller
}
