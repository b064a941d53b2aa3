package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"memoryvault/internal/model"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidCode      = errors.New("invalid code")
	ErrCodeAlreadyUsed  = errors.New("code already used")
	ErrCodeExpired      = errors.New("code expired")
	ErrAlreadyConnected = errors.New("telegram account already connected to a different user")
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type AuthCodeRepo interface {
	Create(code *model.TelegramAuthCode) error
	InvalidateUnused(userID string) error
	LatestByCode(code string) (*model.TelegramAuthCode, error)
}

type ConnectionRepo interface {
	ActiveByTelegramUserID(telegramUserID int64) (*model.TelegramConnection, error)
	ActiveByUserID(userID string) (*model.TelegramConnection, error)
	ConnectWithCode(conn *model.TelegramConnection, codeID uint) error
	Deactivate(userID string) (bool, error)
}

type ConnectionCache interface {
	Get(ctx context.Context, telegramUserID int64) (*model.TelegramConnection, bool, error)
	Set(ctx context.Context, conn *model.TelegramConnection) error
	Delete(ctx context.Context, telegramUserID int64) error
}

// AuthService owns the auth-code and connection lifecycle.
type AuthService struct {
	codeRepo   AuthCodeRepo
	connRepo   ConnectionRepo
	cache      ConnectionCache
	codeLength int
	codeTTL    time.Duration
}

func NewAuthService(codeRepo AuthCodeRepo, connRepo ConnectionRepo, cache ConnectionCache, codeLength int, codeTTL time.Duration) *AuthService {
	if codeLength <= 0 {
		codeLength = 6
	}
	if codeTTL <= 0 {
		codeTTL = 10 * time.Minute
	}
	return &AuthService{
		codeRepo:   codeRepo,
		connRepo:   connRepo,
		cache:      cache,
		codeLength: codeLength,
		codeTTL:    codeTTL,
	}
}

type GenerateCodeResult struct {
	Code             string `json:"code"`
	ExpiresInMinutes int    `json:"expires_in_minutes"`
}

// GenerateCode issues a fresh one-time code for the user, invalidating every
// prior unused code so at most one stays redeemable.
func (s *AuthService) GenerateCode(userID string) (*GenerateCodeResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidInput
	}

	if err := s.codeRepo.InvalidateUnused(userID); err != nil {
		return nil, err
	}

	code, err := randomCode(s.codeLength)
	if err != nil {
		return nil, fmt.Errorf("generate code failed: %w", err)
	}

	row := &model.TelegramAuthCode{
		UserID:    userID,
		Code:      code,
		ExpiresAt: time.Now().Add(s.codeTTL),
	}
	if err := s.codeRepo.Create(row); err != nil {
		return nil, err
	}

	return &GenerateCodeResult{
		Code:             code,
		ExpiresInMinutes: int(s.codeTTL.Minutes()),
	}, nil
}

type ConnectInput struct {
	Code              string
	TelegramUserID    int64
	TelegramUsername  string
	TelegramFirstName string
	TelegramLastName  string
}

// VerifyAndConnect redeems a code and links the Telegram identity to the
// code's account. Reconnecting the same identity to the same account is an
// idempotent upsert that refreshes profile fields.
func (s *AuthService) VerifyAndConnect(input ConnectInput) (*model.TelegramConnection, error) {
	code := strings.ToUpper(strings.TrimSpace(input.Code))
	if code == "" || input.TelegramUserID == 0 {
		return nil, ErrInvalidInput
	}

	row, err := s.codeRepo.LatestByCode(code)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrInvalidCode
	}
	if row.IsUsed {
		return nil, ErrCodeAlreadyUsed
	}
	if time.Now().After(row.ExpiresAt) {
		return nil, ErrCodeExpired
	}

	existing, err := s.connRepo.ActiveByTelegramUserID(input.TelegramUserID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.UserID != row.UserID {
		return nil, ErrAlreadyConnected
	}

	now := time.Now()
	conn := &model.TelegramConnection{
		UserID:            row.UserID,
		TelegramUserID:    input.TelegramUserID,
		TelegramUsername:  input.TelegramUsername,
		TelegramFirstName: input.TelegramFirstName,
		TelegramLastName:  input.TelegramLastName,
		IsActive:          true,
		ConnectedAt:       now,
		LastActivityAt:    now,
	}
	if err := s.connRepo.ConnectWithCode(conn, row.ID); err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.Delete(context.Background(), input.TelegramUserID)
	}
	return conn, nil
}

// ConnectionByTelegramUserID resolves the active link for a chat identity,
// serving from the cache when possible.
func (s *AuthService) ConnectionByTelegramUserID(ctx context.Context, telegramUserID int64) (*model.TelegramConnection, error) {
	if telegramUserID == 0 {
		return nil, ErrInvalidInput
	}

	if s.cache != nil {
		if conn, hit, err := s.cache.Get(ctx, telegramUserID); err == nil && hit {
			return conn, nil
		}
	}

	conn, err := s.connRepo.ActiveByTelegramUserID(telegramUserID)
	if err != nil {
		return nil, err
	}
	if conn != nil && s.cache != nil {
		_ = s.cache.Set(ctx, conn)
	}
	return conn, nil
}

func (s *AuthService) IsConnected(ctx context.Context, telegramUserID int64) (bool, error) {
	conn, err := s.ConnectionByTelegramUserID(ctx, telegramUserID)
	if err != nil {
		return false, err
	}
	return conn != nil, nil
}

func (s *AuthService) ConnectionByUserID(userID string) (*model.TelegramConnection, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidInput
	}
	return s.connRepo.ActiveByUserID(userID)
}

// Disconnect soft-deactivates the user's active link; reports whether one existed.
func (s *AuthService) Disconnect(userID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, ErrInvalidInput
	}

	conn, err := s.connRepo.ActiveByUserID(userID)
	if err != nil {
		return false, err
	}

	changed, err := s.connRepo.Deactivate(userID)
	if err != nil {
		return false, err
	}
	if changed && conn != nil && s.cache != nil {
		_ = s.cache.Delete(context.Background(), conn.TelegramUserID)
	}
	return changed, nil
}

func randomCode(length int) (string, error) {
	alphabetSize := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
