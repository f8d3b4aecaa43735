package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 🗄️ GORM 存储实现
// =============================================================================

// GormStore 基于 GORM 的账号与分组存储
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore 创建 GORM 存储
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_store")),
	}
}

// DB 返回底层 GORM 实例
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// InitDatabase 自动迁移调度器相关表结构
func InitDatabase(db *gorm.DB) error {
	// 自动迁移所有表格
	err := db.AutoMigrate(
		&Account{},
		&Group{},
		&GroupMember{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	return nil
}

// =============================================================================
// 🎯 账号存储
// =============================================================================

// Get 按 ID 获取账号，未找到返回 (nil, nil)
func (s *GormStore) Get(ctx context.Context, id string) (*Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account from database: %w", err)
	}
	return &account, nil
}

// ListByPlatform 列出指定平台的全部账号，按创建时间稳定排序
func (s *GormStore) ListByPlatform(ctx context.Context, platform Platform) ([]*Account, error) {
	var accounts []*Account
	err := s.db.WithContext(ctx).
		Where("platform = ?", platform).
		Order("created_at ASC, id ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("load accounts from database: %w", err)
	}
	return accounts, nil
}

// UpdateUsage 累加账号使用计数，账号不存在时静默成功
func (s *GormStore) UpdateUsage(ctx context.Context, id string, delta int64) error {
	result := s.db.WithContext(ctx).Model(&Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"usage_count": gorm.Expr("usage_count + ?", delta),
		})
	if result.Error != nil {
		return fmt.Errorf("update account usage: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		s.logger.Debug("usage update for unknown account", zap.String("account_id", id))
	}
	return nil
}

// SetLastUsed 更新账号最近使用时间
func (s *GormStore) SetLastUsed(ctx context.Context, id string, ts time.Time) error {
	result := s.db.WithContext(ctx).Model(&Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_used_at": ts,
		})
	if result.Error != nil {
		return fmt.Errorf("update account last used: %w", result.Error)
	}
	return nil
}

// GetRateLimit 读取账号限流状态
func (s *GormStore) GetRateLimit(ctx context.Context, id string) (RateLimitStatus, *time.Time, error) {
	var account Account
	err := s.db.WithContext(ctx).
		Select("rate_limit_status", "rate_limited_at").
		Where("id = ?", id).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RateLimitOK, nil, nil
	}
	if err != nil {
		return RateLimitOK, nil, fmt.Errorf("load account rate limit: %w", err)
	}
	if account.RateLimitStatus == "" {
		return RateLimitOK, account.RateLimitedAt, nil
	}
	return account.RateLimitStatus, account.RateLimitedAt, nil
}

// SetRateLimit 写入账号限流状态，账号不存在时静默成功
func (s *GormStore) SetRateLimit(ctx context.Context, id string, status RateLimitStatus, at *time.Time) error {
	result := s.db.WithContext(ctx).Model(&Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"rate_limit_status": status,
			"rate_limited_at":   at,
		})
	if result.Error != nil {
		return fmt.Errorf("update account rate limit: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		s.logger.Debug("rate limit update for unknown account", zap.String("account_id", id))
	}
	return nil
}

// =============================================================================
// 👥 分组存储
// =============================================================================

// GetGroup 按 ID 获取分组，未找到返回 (nil, nil)
func (s *GormStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	var group Group
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load group from database: %w", err)
	}
	return &group, nil
}

// ListMembers 按 Position 升序列出分组内账号。
// 两段查询避免跨方言的 JOIN 排序差异。
func (s *GormStore) ListMembers(ctx context.Context, groupID string) ([]*Account, error) {
	var members []GroupMember
	err := s.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("position ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("load group members: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.AccountID
	}

	var accounts []*Account
	err = s.db.WithContext(ctx).Where("id IN ?", ids).Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("load member accounts: %w", err)
	}

	// 恢复成员顺序
	byID := make(map[string]*Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	ordered := make([]*Account, 0, len(members))
	for _, m := range members {
		if a, ok := byID[m.AccountID]; ok {
			ordered = append(ordered, a)
		}
	}
	return ordered, nil
}

// =============================================================================
// 🔧 管理操作
// =============================================================================

// CreateAccount 创建账号
func (s *GormStore) CreateAccount(ctx context.Context, account *Account) error {
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	s.logger.Info("account created",
		zap.String("account_id", account.ID),
		zap.String("platform", string(account.Platform)),
	)
	return nil
}

// CreateGroup 创建分组并按给定顺序登记成员
func (s *GormStore) CreateGroup(ctx context.Context, group *Group, memberIDs []string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return err
		}
		for i, accountID := range memberIDs {
			member := GroupMember{
				GroupID:   group.ID,
				AccountID: accountID,
				Position:  i,
			}
			if err := tx.Create(&member).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	s.logger.Info("group created",
		zap.String("group_id", group.ID),
		zap.Int("members", len(memberIDs)),
	)
	return nil
}
