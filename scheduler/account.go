package scheduler

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ============================================================
// 平台与账户枚举
// ============================================================

// Platform 上游平台类型（封闭枚举）
type Platform string

const (
	PlatformOpenAI Platform = "openai"
	PlatformClaude Platform = "claude"
	PlatformGemini Platform = "gemini"
	PlatformQwen   Platform = "qwen"
	PlatformGLM    Platform = "glm"
)

// ParsePlatform 解析平台字符串，未知平台返回错误
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform: %q", s)
	}
	return p, nil
}

// Valid 检查平台是否为已知值
func (p Platform) Valid() bool {
	switch p {
	case PlatformOpenAI, PlatformClaude, PlatformGemini, PlatformQwen, PlatformGLM:
		return true
	}
	return false
}

func (p Platform) String() string { return string(p) }

// Ownership 账户归属类型
// 空值视为 shared（历史数据兼容）
type Ownership string

const (
	OwnershipShared    Ownership = "shared"    // 共享池账户
	OwnershipDedicated Ownership = "dedicated" // 专属绑定账户
	OwnershipGroup     Ownership = "group"     // 分组账户
)

// Normalize 将空归属归一化为 shared
func (o Ownership) Normalize() Ownership {
	if o == "" {
		return OwnershipShared
	}
	return o
}

// AuthType 账户凭证类型
type AuthType string

const (
	AuthTypeOAuth  AuthType = "oauth"
	AuthTypeAPIKey AuthType = "apikey"
)

// RateLimitStatus 账户限流状态
type RateLimitStatus string

const (
	RateLimitOK      RateLimitStatus = "ok"
	RateLimitLimited RateLimitStatus = "limited"
)

// ============================================================
// 调度时间常量
// ============================================================

const (
	// RateLimitCooldown 限流冷却窗口：标记限流后账户被排除的时长
	RateLimitCooldown = time.Hour

	// SessionTTL 会话亲和映射的存活时间
	SessionTTL = time.Hour

	// UsageCounterWindow 使用计数的滚动过期窗口（仅 least_used 读取）
	UsageCounterWindow = 30 * 24 * time.Hour

	// CursorTTL 策略游标的过期时间（每次使用时刷新）
	CursorTTL = 30 * 24 * time.Hour
)

// ============================================================
// 账户模型
// ============================================================

// StringList 以 JSON 文本存储的字符串列表（跨方言兼容）
type StringList []string

// Value 实现 driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner
func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, l)
}

// Account 上游账户
// 调度器只读取账户状态并执行窄幅幂等写入（使用计数、最后使用时间、限流标记）
type Account struct {
	ID       string   `gorm:"primaryKey;size:36" json:"id"`
	Platform Platform `gorm:"size:20;not null;index:idx_accounts_platform" json:"platform"` // 上游平台
	Name     string   `gorm:"size:100" json:"name"`                                         // 展示名称

	// 可用性状态
	// 布尔与数值字段不加 gorm default 标记：零值必须原样落库，
	// 否则显式的 inactive/priority=0 会被列默认值吞掉
	IsActive    bool `json:"is_active"`   // 是否激活
	HasError    bool `json:"has_error"`   // 是否处于错误态
	Schedulable bool `json:"schedulable"` // 是否参与调度

	// 调度参数
	Priority        int      `json:"priority"`                           // 优先级（数字越小越先被考察）
	Strategy        Strategy `gorm:"size:20" json:"strategy"`            // 账户级策略（空则用层级默认）
	Weight          float64  `json:"weight"`                             // 加权随机权重
	SequentialOrder int      `json:"sequential_order"`                   // sequential 策略的固定顺位
	SupportedModels StringList `gorm:"type:text" json:"supported_models"` // 支持的模型列表（空 = 全部）

	// 归属与凭证
	Ownership    Ownership `gorm:"size:20" json:"ownership"`  // 归属类型（空视为 shared）
	AuthType     AuthType  `gorm:"size:10" json:"auth_type"`  // 凭证类型
	RefreshToken string    `gorm:"size:500" json:"-"`         // 刷新令牌（不透明）
	TokenExpiresAt *time.Time `json:"token_expires_at"`       // 凭证过期时间

	// 使用统计
	LastUsedAt time.Time `json:"last_used_at"` // 最后使用时间（零值 = 从未使用）
	UsageCount int64     `json:"usage_count"`  // 持久使用计数（运维可见）

	// 限流状态
	RateLimitStatus RateLimitStatus `gorm:"size:10" json:"rate_limit_status"`
	RateLimitedAt   *time.Time      `json:"rate_limited_at"` // 最近一次被标记限流的时间

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// BeforeCreate 生成默认 ID
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// ============================================================
// 账户能力判定
// ============================================================

// Available 检查账户是否可被调度（激活、无错误、可调度）
func (a *Account) Available() bool {
	return a.IsActive && !a.HasError && a.Schedulable
}

// CredentialsExpired 检查凭证是否已过期且无法刷新
// 仅 OAuth 账户适用：过期时间已过且没有刷新令牌
func (a *Account) CredentialsExpired(now time.Time) bool {
	if a.AuthType != AuthTypeOAuth {
		return false
	}
	if a.TokenExpiresAt == nil {
		return false
	}
	return now.After(*a.TokenExpiresAt) && a.RefreshToken == ""
}

// SupportsModel 检查账户是否支持指定模型
// 空的 SupportedModels 表示支持所有模型
func (a *Account) SupportsModel(model string) bool {
	if len(a.SupportedModels) == 0 {
		return true
	}
	for _, m := range a.SupportedModels {
		if m == model {
			return true
		}
	}
	return false
}

// RateLimited 检查账户是否处于限流冷却窗口内
func (a *Account) RateLimited(now time.Time) bool {
	if a.RateLimitStatus != RateLimitLimited {
		return false
	}
	if a.RateLimitedAt == nil {
		return false
	}
	return now.Before(a.RateLimitedAt.Add(RateLimitCooldown))
}

// EffectiveOwnership 返回归一化后的归属类型
func (a *Account) EffectiveOwnership() Ownership {
	return a.Ownership.Normalize()
}
