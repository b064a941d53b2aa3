package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"memoryvault/internal/model"
)

type AuthCodeRepository struct {
	db *gorm.DB
}

func NewAuthCodeRepository(db *gorm.DB) *AuthCodeRepository {
	return &AuthCodeRepository{db: db}
}

func (r *AuthCodeRepository) Create(code *model.TelegramAuthCode) error {
	if err := r.db.Create(code).Error; err != nil {
		return fmt.Errorf("create auth code failed: %w", err)
	}
	return nil
}

// InvalidateUnused marks every unused code of the user as used, so only the
// next issued code is redeemable.
func (r *AuthCodeRepository) InvalidateUnused(userID string) error {
	err := r.db.Model(&model.TelegramAuthCode{}).
		Where("user_id = ? AND is_used = ?", userID, false).
		Update("is_used", true).Error
	if err != nil {
		return fmt.Errorf("invalidate auth codes failed: %w", err)
	}
	return nil
}

// LatestByCode returns the most recently created row matching the code, or
// nil when none exists. Ties only occur if invalidation was skipped.
func (r *AuthCodeRepository) LatestByCode(code string) (*model.TelegramAuthCode, error) {
	var row model.TelegramAuthCode
	err := r.db.Where("code = ?", code).Order("created_at DESC").First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query auth code failed: %w", err)
	}
	return &row, nil
}
