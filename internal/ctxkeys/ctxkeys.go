package ctxkeys

import "context"

// contextKey 私有键类型，避免与其他包写入 context 的键冲突
type contextKey string

const (
	operatorKey contextKey = "operator"
	rolesKey    contextKey = "roles"
)

// WithOperator 设置操作者标识（JWT sub 声明）
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey, operator)
}

// Operator 获取操作者标识
func Operator(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(operatorKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRoles 设置操作者角色列表
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, rolesKey, roles)
}

// Roles 获取操作者角色列表
func Roles(ctx context.Context) ([]string, bool) {
	v, ok := ctx.Value(rolesKey).([]string)
	if !ok || len(v) == 0 {
		return nil, false
	}
	return v, true
}
