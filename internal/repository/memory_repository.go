package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"memoryvault/internal/model"
)

const telegramSource = "telegram"

type MemoryRepository struct {
	db *gorm.DB
}

func NewMemoryRepository(db *gorm.DB) *MemoryRepository {
	return &MemoryRepository{db: db}
}

// Create inserts a memory with the next per-user index position. The MAX is
// read under FOR UPDATE inside the insert transaction, so concurrent inserts
// for the same user serialize instead of assigning duplicate positions.
func (r *MemoryRepository) Create(memory *model.Memory) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		return createInTx(tx, memory)
	})
	if err != nil {
		return fmt.Errorf("create memory failed: %w", err)
	}
	return nil
}

// CreateWithFile inserts a file memory and its file row atomically.
func (r *MemoryRepository) CreateWithFile(memory *model.Memory, file *model.MemoryFile) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := createInTx(tx, memory); err != nil {
			return err
		}
		file.MemoryID = memory.ID
		if err := tx.Create(file).Error; err != nil {
			return fmt.Errorf("create memory file failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create file memory failed: %w", err)
	}
	return nil
}

func createInTx(tx *gorm.DB, memory *model.Memory) error {
	var maxPos int
	row := tx.Raw(
		"SELECT COALESCE(MAX(index_position), 0) FROM memories WHERE user_id = ? FOR UPDATE",
		memory.UserID,
	).Row()
	if err := row.Scan(&maxPos); err != nil {
		return fmt.Errorf("read max index position failed: %w", err)
	}
	memory.IndexPosition = maxPos + 1

	if err := tx.Create(memory).Error; err != nil {
		return fmt.Errorf("insert memory failed: %w", err)
	}

	if memory.Source == telegramSource {
		if err := tx.Model(&model.TelegramConnection{}).
			Where("user_id = ? AND is_active = ?", memory.UserID, true).
			Update("last_activity_at", time.Now()).Error; err != nil {
			return fmt.Errorf("touch connection activity failed: %w", err)
		}
	}
	return nil
}

func (r *MemoryRepository) GetByID(id string) (*model.Memory, error) {
	var memory model.Memory
	if err := r.db.Where("id = ?", id).First(&memory).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query memory by id failed: %w", err)
	}
	return &memory, nil
}

func (r *MemoryRepository) ListRecent(userID string, limit int) ([]model.Memory, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	var memories []model.Memory
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&memories).Error
	if err != nil {
		return nil, fmt.Errorf("list recent memories failed: %w", err)
	}
	return memories, nil
}

// ListEmbedded returns the user's memories that carry an embedding; vector
// ranking over them happens in the service layer.
func (r *MemoryRepository) ListEmbedded(userID string) ([]model.Memory, error) {
	var memories []model.Memory
	err := r.db.Where("user_id = ? AND embedding IS NOT NULL", userID).Find(&memories).Error
	if err != nil {
		return nil, fmt.Errorf("list embedded memories failed: %w", err)
	}
	return memories, nil
}

// SearchText is the substring fallback: case-insensitive match over title and
// content, newest first.
func (r *MemoryRepository) SearchText(userID, query string, limit int) ([]model.Memory, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	pattern := "%" + strings.ToLower(query) + "%"
	var memories []model.Memory
	err := r.db.Where("user_id = ? AND (LOWER(title) LIKE ? OR LOWER(content) LIKE ?)", userID, pattern, pattern).
		Order("created_at DESC").Limit(limit).Find(&memories).Error
	if err != nil {
		return nil, fmt.Errorf("search memories failed: %w", err)
	}
	return memories, nil
}

func (r *MemoryRepository) CountByUserID(userID string) (int64, error) {
	var count int64
	if err := r.db.Model(&model.Memory{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count memories failed: %w", err)
	}
	return count, nil
}

func (r *MemoryRepository) UpdateEmbedding(id string, embedding string) error {
	err := r.db.Model(&model.Memory{}).Where("id = ?", id).Update("embedding", embedding).Error
	if err != nil {
		return fmt.Errorf("update memory embedding failed: %w", err)
	}
	return nil
}
