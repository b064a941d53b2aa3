package model

import "time"

// TelegramAuthCode is a short-lived one-time code binding an account to a
// Telegram identity. Issuing a new code marks every prior unused code for
// the same user as used, so at most one code is redeemable per user.
type TelegramAuthCode struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:64;not null;index" json:"user_id"`
	Code      string    `gorm:"size:8;not null;index" json:"code"`
	IsUsed    bool      `gorm:"not null;default:false" json:"is_used"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
}

func (TelegramAuthCode) TableName() string {
	return "telegram_auth_codes"
}
