package scheduler

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ============================================================
// 账户分组模型
// ============================================================

// Group 账户分组
// 一个 API Key 可以绑定到一个分组，调度时仅在组内成员中选择；
// 分组对调度器只读（分组管理属于外部管理流程）
type Group struct {
	ID       string   `gorm:"primaryKey;size:36" json:"id"`
	Name     string   `gorm:"size:100;not null" json:"name"`
	Platform Platform `gorm:"size:20;not null;index:idx_groups_platform" json:"platform"` // 分组所属平台
	Strategy Strategy `gorm:"size:20" json:"strategy"`                                    // 组级默认策略（空则用 least_recent）

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 关联（按 Position 排序的成员）
	Members []GroupMember `gorm:"foreignKey:GroupID" json:"members,omitempty"`
}

func (Group) TableName() string {
	return "account_groups"
}

// BeforeCreate 生成默认 ID
func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	return nil
}

// GroupMember 分组成员（中间表，保持成员顺序）
type GroupMember struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	GroupID   string `gorm:"size:36;not null;index:idx_member_group" json:"group_id"`
	AccountID string `gorm:"size:36;not null;index:idx_member_account" json:"account_id"`
	Position  int    `gorm:"default:0" json:"position"` // 组内顺位

	CreatedAt time.Time `json:"created_at"`
}

func (GroupMember) TableName() string {
	return "account_group_members"
}
