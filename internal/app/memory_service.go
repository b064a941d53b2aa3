package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"memoryvault/internal/ai"
	"memoryvault/internal/model"
	"memoryvault/internal/pkg/pdfextract"
	"memoryvault/internal/relay"
)

var ErrMemoryNotFound = errors.New("memory not found")

const pdfSnippetRunes = 1000

type MemoryRepo interface {
	Create(memory *model.Memory) error
	CreateWithFile(memory *model.Memory, file *model.MemoryFile) error
	GetByID(id string) (*model.Memory, error)
	ListRecent(userID string, limit int) ([]model.Memory, error)
	ListEmbedded(userID string) ([]model.Memory, error)
	SearchText(userID, query string, limit int) ([]model.Memory, error)
	CountByUserID(userID string) (int64, error)
	UpdateEmbedding(id string, embedding string) error
}

type Embedder interface {
	Embed(ctx context.Context, cfg ai.EmbeddingConfig, text string) ([]float32, error)
}

type Describer interface {
	Describe(ctx context.Context, cfg ai.VisionConfig, imageURL, filename string) (ai.ImageDescription, error)
}

type FileRelayer interface {
	Relay(ctx context.Context, fileRef, userID, fileName, contentType string) (*relay.Result, error)
}

// BackfillQueue re-embeds memories that were stored without a vector.
type BackfillQueue interface {
	Enqueue(ctx context.Context, memoryID string) error
}

// MemoryService creates, lists and searches memory records, orchestrating
// the embedding client and the file relay.
type MemoryService struct {
	memoryRepo MemoryRepo
	embedder   Embedder
	describer  Describer
	relayer    FileRelayer
	backfill   BackfillQueue
	embConfig  ai.EmbeddingConfig
	visConfig  ai.VisionConfig
}

func NewMemoryService(
	memoryRepo MemoryRepo,
	embedder Embedder,
	describer Describer,
	relayer FileRelayer,
	backfill BackfillQueue,
	embConfig ai.EmbeddingConfig,
	visConfig ai.VisionConfig,
) *MemoryService {
	return &MemoryService{
		memoryRepo: memoryRepo,
		embedder:   embedder,
		describer:  describer,
		relayer:    relayer,
		backfill:   backfill,
		embConfig:  embConfig,
		visConfig:  visConfig,
	}
}

type CreateMemoryResult struct {
	MemoryID          string `json:"memory_id"`
	Title             string `json:"title"`
	EmbeddingAttached bool   `json:"embedding_attached"`
	FileFellBack      bool   `json:"file_fell_back"`
	FallbackReason    string `json:"fallback_reason,omitempty"`
}

// CreateTextMemory stores a text memory. Embedding failure degrades, never
// fails: the row is stored without a vector and queued for backfill.
func (s *MemoryService) CreateTextMemory(ctx context.Context, userID, title, content, source string) (*CreateMemoryResult, error) {
	userID = strings.TrimSpace(userID)
	content = strings.TrimSpace(content)
	if userID == "" || content == "" {
		return nil, ErrInvalidInput
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = deriveTitle(content)
	}

	memory := &model.Memory{
		UserID:  userID,
		Title:   title,
		Content: content,
		Type:    model.MemoryTypeText,
		Source:  source,
	}
	attached := s.attachEmbedding(ctx, memory)

	if err := s.memoryRepo.Create(memory); err != nil {
		return nil, err
	}
	if !attached {
		s.enqueueBackfill(ctx, memory.ID)
	}

	return &CreateMemoryResult{
		MemoryID:          memory.ID,
		Title:             memory.Title,
		EmbeddingAttached: attached,
	}, nil
}

type CreateFileMemoryInput struct {
	UserID      string
	Title       string
	Content     string
	FileRef     string
	FileName    string
	FileType    string
	ContentType string
	Source      string
	// DescribeImage runs the vision client against the uploaded file's
	// public URL and lets its output replace title and content.
	DescribeImage bool
}

// CreateFileMemory relays the file into object storage and stores a file
// memory plus its file row atomically. Relay failure falls back to a
// text-only memory annotated with the failure instead of failing the whole
// operation.
func (s *MemoryService) CreateFileMemory(ctx context.Context, input CreateFileMemoryInput) (*CreateMemoryResult, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" || input.FileRef == "" {
		return nil, ErrInvalidInput
	}
	fileName := strings.TrimSpace(input.FileName)
	if fileName == "" {
		fileName = "file"
	}

	relayed, relayErr := s.relayer.Relay(ctx, input.FileRef, userID, fileName, input.ContentType)
	if relayErr != nil {
		log.Printf("file relay failed for user %s: %v", userID, relayErr)
		return s.createFileFallback(ctx, input, fileName, relayErr)
	}

	title := strings.TrimSpace(input.Title)
	content := strings.TrimSpace(input.Content)

	if input.DescribeImage && s.describer != nil {
		desc, err := s.describer.Describe(ctx, s.visConfig, relayed.PublicURL, fileName)
		if err != nil {
			log.Printf("vision describe degraded for %s: %v", fileName, err)
		}
		title = desc.Title
		content = composeImageContent(desc, content)
	}

	if isPDF(input.FileType, input.ContentType) {
		if text := extractPDFSnippet(relayed.Data); text != "" {
			if content != "" {
				content += "\n\n"
			}
			content += text
		}
	}

	if title == "" {
		title = fileName
	}
	if content == "" {
		content = fmt.Sprintf("File shared via Telegram: %s", fileName)
	}

	memory := &model.Memory{
		UserID:  userID,
		Title:   title,
		Content: content,
		Type:    model.MemoryTypeFile,
		Source:  input.Source,
	}
	attached := s.attachEmbedding(ctx, memory)

	file := &model.MemoryFile{
		FileName: fileName,
		FilePath: relayed.PublicURL,
		FileType: input.FileType,
		FileSize: relayed.Size,
	}
	if err := s.memoryRepo.CreateWithFile(memory, file); err != nil {
		return nil, err
	}
	if !attached {
		s.enqueueBackfill(ctx, memory.ID)
	}

	return &CreateMemoryResult{
		MemoryID:          memory.ID,
		Title:             memory.Title,
		EmbeddingAttached: attached,
	}, nil
}

func (s *MemoryService) createFileFallback(ctx context.Context, input CreateFileMemoryInput, fileName string, relayErr error) (*CreateMemoryResult, error) {
	reason := "the file could not be saved"
	if errors.Is(relayErr, relay.ErrUpload) {
		reason = "the file could not be stored"
	}

	content := strings.TrimSpace(input.Content)
	if content == "" {
		content = fmt.Sprintf("File shared via Telegram: %s", fileName)
	}
	content += fmt.Sprintf("\n\n(Note: %s; only this note was kept.)", reason)

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = fileName
	}

	result, err := s.CreateTextMemory(ctx, input.UserID, title, content, input.Source)
	if err != nil {
		return nil, err
	}
	result.FileFellBack = true
	result.FallbackReason = reason
	return result, nil
}

func (s *MemoryService) ListRecent(userID string, limit int) ([]model.Memory, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidInput
	}
	return s.memoryRepo.ListRecent(userID, limit)
}

func (s *MemoryService) MemoryCount(userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrInvalidInput
	}
	return s.memoryRepo.CountByUserID(userID)
}

const (
	SearchModeVector = "vector"
	SearchModeText   = "text"
)

type SearchItem struct {
	Memory     model.Memory `json:"memory"`
	Similarity float32      `json:"similarity"`
}

type SearchResult struct {
	Mode  string       `json:"mode"`
	Items []SearchItem `json:"items"`
}

// Search ranks by ascending vector distance when the query can be embedded,
// and otherwise falls back to substring matching by recency. The two tiers
// never blend.
func (s *MemoryService) Search(ctx context.Context, userID, query string, limit int) (*SearchResult, error) {
	userID = strings.TrimSpace(userID)
	query = strings.TrimSpace(query)
	if userID == "" || query == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 {
		limit = 5
	}

	queryVec, err := s.embedder.Embed(ctx, s.embConfig, query)
	if err != nil {
		log.Printf("search embedding unavailable, using substring match: %v", err)
		return s.searchBySubstring(userID, query, limit)
	}

	candidates, err := s.memoryRepo.ListEmbedded(userID)
	if err != nil {
		return nil, err
	}

	items := make([]SearchItem, 0, len(candidates))
	for i := range candidates {
		vec := candidates[i].EmbeddingVector()
		if len(vec) == 0 {
			continue
		}
		items = append(items, SearchItem{
			Memory:     candidates[i],
			Similarity: cosineSimilarity(queryVec, vec),
		})
	}
	// similarity = 1 - distance, so ascending distance is descending similarity
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Similarity > items[j].Similarity
	})
	if len(items) > limit {
		items = items[:limit]
	}

	return &SearchResult{Mode: SearchModeVector, Items: items}, nil
}

func (s *MemoryService) searchBySubstring(userID, query string, limit int) (*SearchResult, error) {
	memories, err := s.memoryRepo.SearchText(userID, query, limit)
	if err != nil {
		return nil, err
	}
	items := make([]SearchItem, len(memories))
	for i := range memories {
		items[i] = SearchItem{Memory: memories[i]}
	}
	return &SearchResult{Mode: SearchModeText, Items: items}, nil
}

// BackfillEmbedding regenerates the vector of a memory stored without one.
// Already-embedded memories are left untouched.
func (s *MemoryService) BackfillEmbedding(ctx context.Context, memoryID string) error {
	memory, err := s.memoryRepo.GetByID(memoryID)
	if err != nil {
		return err
	}
	if memory == nil {
		return ErrMemoryNotFound
	}
	if memory.Embedding != nil {
		return nil
	}

	vec, err := s.embedder.Embed(ctx, s.embConfig, embeddingInput(memory.Title, memory.Content))
	if err != nil {
		return fmt.Errorf("backfill embedding failed: %w", err)
	}
	memory.SetEmbedding(vec)
	return s.memoryRepo.UpdateEmbedding(memory.ID, *memory.Embedding)
}

func (s *MemoryService) attachEmbedding(ctx context.Context, memory *model.Memory) bool {
	vec, err := s.embedder.Embed(ctx, s.embConfig, embeddingInput(memory.Title, memory.Content))
	if err != nil {
		log.Printf("embedding unavailable, storing memory without vector: %v", err)
		return false
	}
	memory.SetEmbedding(vec)
	return true
}

func (s *MemoryService) enqueueBackfill(ctx context.Context, memoryID string) {
	if s.backfill == nil {
		return
	}
	if err := s.backfill.Enqueue(ctx, memoryID); err != nil {
		log.Printf("enqueue embedding backfill failed for %s: %v", memoryID, err)
	}
}

func embeddingInput(title, content string) string {
	return strings.TrimSpace(title + "\n" + content)
}

// deriveTitle takes the first line of the content, bounded to 50 runes.
func deriveTitle(content string) string {
	line := content
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		line = content[:idx]
	}
	runes := []rune(strings.TrimSpace(line))
	if len(runes) > 50 {
		return string(runes[:47]) + "..."
	}
	if len(runes) == 0 {
		return "Untitled"
	}
	return string(runes)
}

func composeImageContent(desc ai.ImageDescription, caption string) string {
	parts := make([]string, 0, 3)
	if desc.Content != "" {
		parts = append(parts, desc.Content)
	}
	if caption != "" {
		parts = append(parts, "Caption: "+caption)
	}
	meta := ""
	if desc.Category != "" {
		meta = "Category: " + desc.Category
	}
	if len(desc.Tags) > 0 {
		if meta != "" {
			meta += " | "
		}
		meta += "Tags: " + strings.Join(desc.Tags, ", ")
	}
	if meta != "" {
		parts = append(parts, meta)
	}
	return strings.Join(parts, "\n\n")
}

func isPDF(fileType, contentType string) bool {
	return strings.EqualFold(fileType, "pdf") || strings.EqualFold(contentType, "application/pdf")
}

func extractPDFSnippet(data []byte) string {
	text, err := pdfextract.ExtractText(bytes.NewReader(data))
	if err != nil {
		log.Printf("pdf text extraction failed: %v", err)
		return ""
	}
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > pdfSnippetRunes {
		return string(runes[:pdfSnippetRunes])
	}
	return text
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(normA))*math.Sqrt(float64(normB)))
}
