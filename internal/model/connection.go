package model

import "time"

// TelegramConnection links an account to a Telegram identity. The chat side
// is unique while active; reconnecting the same Telegram user upserts the
// existing row instead of duplicating it.
type TelegramConnection struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            string    `gorm:"size:64;not null;index" json:"user_id"`
	TelegramUserID    int64     `gorm:"not null;uniqueIndex" json:"telegram_user_id"`
	TelegramUsername  string    `gorm:"size:64" json:"telegram_username"`
	TelegramFirstName string    `gorm:"size:128" json:"telegram_first_name"`
	TelegramLastName  string    `gorm:"size:128" json:"telegram_last_name"`
	IsActive          bool      `gorm:"not null;default:true;index" json:"is_active"`
	ConnectedAt       time.Time `json:"connected_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

func (TelegramConnection) TableName() string {
	return "telegram_connections"
}
