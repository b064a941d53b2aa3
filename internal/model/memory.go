package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	MemoryTypeText = "text"
	MemoryTypeFile = "file"
)

// Memory is a user-authored record stored for later retrieval.
// Embedding is stored as a JSON array of float32 for portability; nil means
// no vector could be generated (the record still participates in substring
// search and can be backfilled later).
type Memory struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	UserID        string    `gorm:"size:64;not null;index" json:"user_id"`
	Title         string    `gorm:"size:200;not null" json:"title"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	Type          string    `gorm:"size:16;not null" json:"type"`
	Embedding     *string   `gorm:"type:text" json:"-"`
	IndexPosition int       `gorm:"not null" json:"index_position"`
	Source        string    `gorm:"size:32;not null" json:"source"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Memory) TableName() string {
	return "memories"
}

func (m *Memory) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// EmbeddingVector returns the parsed embedding slice; nil when absent or unparseable.
func (m *Memory) EmbeddingVector() []float32 {
	if m.Embedding == nil || *m.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(*m.Embedding), &v)
	return v
}

// SetEmbedding stores the embedding as JSON; an empty vector clears it.
func (m *Memory) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		m.Embedding = nil
		return
	}
	b, _ := json.Marshal(vec)
	s := string(b)
	m.Embedding = &s
}

// MemoryFile describes the stored object behind a type=file memory.
type MemoryFile struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	MemoryID string `gorm:"size:36;not null;index" json:"memory_id"`
	FileName string `gorm:"size:256;not null" json:"file_name"`
	FilePath string `gorm:"size:512;not null" json:"file_path"`
	FileType string `gorm:"size:32" json:"file_type"`
	FileSize int64  `json:"file_size"`
}

func (MemoryFile) TableName() string {
	return "memory_files"
}
