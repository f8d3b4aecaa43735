package scheduler

import "time"

// ============================================================
// 请求上下文与选择结果
// ============================================================

// BindingType 请求绑定类型
type BindingType string

const (
	BindingNone      BindingType = "none"      // 无绑定：共享池调度
	BindingDedicated BindingType = "dedicated" // 专属绑定：固定到单个账户
	BindingGroup     BindingType = "group"     // 分组绑定：仅在组内调度
)

// Binding 入站请求携带的账户绑定
type Binding struct {
	Type      BindingType `json:"type"`
	AccountID string      `json:"account_id,omitempty"` // Type == dedicated 时有效
	GroupID   string      `json:"group_id,omitempty"`   // Type == group 时有效
}

// BindNone 返回无绑定
func BindNone() Binding {
	return Binding{Type: BindingNone}
}

// BindDedicated 返回专属账户绑定
func BindDedicated(accountID string) Binding {
	return Binding{Type: BindingDedicated, AccountID: accountID}
}

// BindGroup 返回分组绑定
func BindGroup(groupID string) Binding {
	return Binding{Type: BindingGroup, GroupID: groupID}
}

// RequestContext 单次选择的输入
type RequestContext struct {
	// Platform 本次请求的目标平台
	Platform Platform `json:"platform"`
	// Binding 账户绑定（none / dedicated / group）
	Binding Binding `json:"binding"`
	// SessionHash 会话标识（可选），用于会话亲和
	SessionHash string `json:"session_hash,omitempty"`
	// RequestedModel 请求的模型（可选），用于模型支持过滤
	RequestedModel string `json:"requested_model,omitempty"`
}

// Selection 选择结果
type Selection struct {
	AccountID string    `json:"account_id"`
	Ownership Ownership `json:"ownership"`
	Platform  Platform  `json:"platform"`
	// Strategy 实际生效的策略（专属绑定与会话命中时为空）
	Strategy Strategy `json:"strategy,omitempty"`
	// StickyHit 本次选择是否由会话亲和短路产生
	StickyHit bool `json:"sticky_hit"`
}

// SessionMapping 会话亲和映射（sessionHash → 账户）
// 同一 sessionHash 任意时刻至多一条有效映射；过期由 TTL 驱动，
// 失效检测在下次查询时惰性进行
type SessionMapping struct {
	SessionHash string    `json:"session_hash"`
	AccountID   string    `json:"account_id"`
	Ownership   Ownership `json:"ownership"`
	CreatedAt   time.Time `json:"created_at"`
}
