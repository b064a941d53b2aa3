package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"memoryvault/internal/model"
)

type ConnectionRepository struct {
	db *gorm.DB
}

func NewConnectionRepository(db *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

func (r *ConnectionRepository) ActiveByTelegramUserID(telegramUserID int64) (*model.TelegramConnection, error) {
	var conn model.TelegramConnection
	err := r.db.Where("telegram_user_id = ? AND is_active = ?", telegramUserID, true).First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query connection by telegram user failed: %w", err)
	}
	return &conn, nil
}

func (r *ConnectionRepository) ActiveByUserID(userID string) (*model.TelegramConnection, error) {
	var conn model.TelegramConnection
	err := r.db.Where("user_id = ? AND is_active = ?", userID, true).First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query connection by user failed: %w", err)
	}
	return &conn, nil
}

// ConnectWithCode performs the connect writes as one transaction: deactivate
// any other active link of the account, upsert the connection on its Telegram
// identity, and consume the code. A crash can therefore never leave a used
// code without its connection.
func (r *ConnectionRepository) ConnectWithCode(conn *model.TelegramConnection, codeID uint) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.TelegramConnection{}).
			Where("user_id = ? AND telegram_user_id <> ? AND is_active = ?", conn.UserID, conn.TelegramUserID, true).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("deactivate prior connections failed: %w", err)
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "telegram_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_id",
				"telegram_username",
				"telegram_first_name",
				"telegram_last_name",
				"is_active",
				"connected_at",
				"last_activity_at",
			}),
		}).Create(conn).Error; err != nil {
			return fmt.Errorf("upsert connection failed: %w", err)
		}

		if err := tx.Model(&model.TelegramAuthCode{}).
			Where("id = ?", codeID).
			Update("is_used", true).Error; err != nil {
			return fmt.Errorf("mark code used failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("connect transaction failed: %w", err)
	}
	return nil
}

// Deactivate soft-disconnects the account; reports whether a row changed.
func (r *ConnectionRepository) Deactivate(userID string) (bool, error) {
	result := r.db.Model(&model.TelegramConnection{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Update("is_active", false)
	if result.Error != nil {
		return false, fmt.Errorf("deactivate connection failed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// TouchActivity refreshes last_activity_at on the account's active link.
func (r *ConnectionRepository) TouchActivity(userID string) error {
	err := r.db.Model(&model.TelegramConnection{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Update("last_activity_at", time.Now()).Error
	if err != nil {
		return fmt.Errorf("touch connection activity failed: %w", err)
	}
	return nil
}
